package store

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/smartserow/gateway/codec"
)

func TestMergeSparse(t *testing.T) {
	s := New(10)
	t0 := time.Now()

	snap := s.Merge(codec.Fields{"voltage": 12.4, "rpm": 4200}, t0)
	assert.Equal(t, 12.4, snap.Fields["voltage"])
	assert.Equal(t, 4200.0, snap.Fields["rpm"])

	// NaN and absent fields keep the previous value
	t1 := t0.Add(time.Millisecond)
	snap = s.Merge(codec.Fields{"voltage": math.NaN(), "rpm": 4300}, t1)
	assert.Equal(t, 12.4, snap.Fields["voltage"])
	assert.Equal(t, 4300.0, snap.Fields["rpm"])
	assert.Equal(t, t1, snap.Time)
}

func TestMergeAllNaNIdempotent(t *testing.T) {
	s := New(10)
	t0 := time.Now()
	s.Merge(codec.Fields{"voltage": 12.4, "rpm": 4200}, t0)
	before, ok := s.Latest()
	assert.True(t, ok)

	t1 := t0.Add(time.Second)
	s.Merge(codec.Fields{"voltage": math.NaN(), "rpm": math.NaN()}, t1)
	after, ok := s.Latest()
	assert.True(t, ok)
	assert.Equal(t, before.Fields, after.Fields)
	assert.Equal(t, t1, after.Time)
}

func TestReplace(t *testing.T) {
	s := New(10)
	s.Merge(codec.Fields{"lat": 1.0, "lon": 2.0, "mode": 3}, time.Now())

	// full replacement: prior fields do not survive
	snap := s.Replace(codec.Fields{"mode": 1, "satellites": 0}, time.Now(), false)
	assert.NotContains(t, snap.Fields, "lat")
	assert.Equal(t, 1.0, snap.Fields["mode"])
}

func TestReplaceArchiveFlag(t *testing.T) {
	s := New(10)
	s.Replace(codec.Fields{"mode": 1}, time.Now(), false)
	assert.Empty(t, s.History(), "no-fix report must not be archived")
	latest, ok := s.Latest()
	assert.True(t, ok, "no-fix report must still be observable")
	assert.Equal(t, 1.0, latest.Fields["mode"])

	s.Replace(codec.Fields{"lat": 35.6, "mode": 3}, time.Now(), true)
	assert.Len(t, s.History(), 1)
}

func TestHistoryCapacityAndOrder(t *testing.T) {
	const capacity = 5
	s := New(capacity)
	for i := 0; i < capacity+3; i++ {
		s.Merge(codec.Fields{"rpm": float64(i)}, time.Now())
		assert.LessOrEqual(t, len(s.History()), capacity)
	}
	history := s.History()
	assert.Len(t, history, capacity)
	// exactly the last `capacity` snapshots, in arrival order
	for i, snap := range history {
		assert.Equal(t, float64(i+3), snap.Fields["rpm"], fmt.Sprintf("position %d", i))
	}
}

func TestLatestNoData(t *testing.T) {
	s := New(10)
	_, ok := s.Latest()
	assert.False(t, ok)
}

func TestSnapshotsAreCopies(t *testing.T) {
	s := New(10)
	snap := s.Merge(codec.Fields{"rpm": 1.0}, time.Now())
	snap.Fields["rpm"] = 99

	latest, ok := s.Latest()
	assert.True(t, ok)
	assert.Equal(t, 1.0, latest.Fields["rpm"], "mutating a returned snapshot must not affect the store")

	history := s.History()
	history[0].Fields["rpm"] = 42
	assert.Equal(t, 1.0, s.History()[0].Fields["rpm"])
}
