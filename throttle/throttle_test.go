package throttle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock replaces the package clock for the duration of a test.
func fakeClock(start time.Time) (advance func(time.Duration), restore func()) {
	origTimeNow := timeNow
	now := start
	timeNow = func() time.Time {
		return now
	}
	return func(d time.Duration) { now = now.Add(d) },
		func() { timeNow = origTimeNow }
}

func TestTryEmitRate(t *testing.T) {
	advance, restore := fakeClock(time.Unix(1000, 0))
	defer restore()

	var emitted []int
	th := New(100*time.Millisecond, func(v int) {
		emitted = append(emitted, v)
	})

	// inputs every 10ms for 1s: at most 10 emissions, last value never lost
	last := 0
	for i := 1; i <= 100; i++ {
		advance(10 * time.Millisecond)
		th.TryEmit(i)
		last = i
	}
	assert.LessOrEqual(t, len(emitted), 10)
	assert.NotEmpty(t, emitted)

	if th.HasPending() {
		assert.True(t, th.Flush())
	}
	assert.Equal(t, last, emitted[len(emitted)-1])
}

func TestLatestWins(t *testing.T) {
	advance, restore := fakeClock(time.Unix(1000, 0))
	defer restore()

	var emitted []string
	th := New(time.Second, func(v string) {
		emitted = append(emitted, v)
	})

	advance(2 * time.Second)
	assert.True(t, th.TryEmit("a"))
	assert.False(t, th.TryEmit("b"))
	assert.False(t, th.TryEmit("c"))
	assert.True(t, th.HasPending())

	// newer values overwrite older unemitted ones
	assert.True(t, th.Flush())
	assert.Equal(t, []string{"a", "c"}, emitted)
}

func TestFlushEmpty(t *testing.T) {
	th := New(time.Second, func(int) {
		t.Fatal("unexpected emit")
	})
	assert.False(t, th.Flush())
	assert.False(t, th.HasPending())
}

func TestEmissionsSerialized(t *testing.T) {
	advance, restore := fakeClock(time.Unix(1000, 0))
	defer restore()

	inEmit := make(chan int)
	release := make(chan struct{})
	var order []int
	th := New(100*time.Millisecond, func(v int) {
		inEmit <- v
		<-release
		order = append(order, v)
	})

	advance(time.Second)
	go th.TryEmit(1)
	assert.Equal(t, 1, <-inEmit)

	// a newer emission must not start while one is still in flight, or the
	// consumer could end up on the older value
	advance(100 * time.Millisecond)
	done := make(chan struct{})
	go func() {
		th.TryEmit(2)
		close(done)
	}()
	select {
	case v := <-inEmit:
		t.Fatalf("emission of %d started while another was in flight", v)
	case <-time.After(50 * time.Millisecond):
	}

	release <- struct{}{}
	assert.Equal(t, 2, <-inEmit)
	release <- struct{}{}
	<-done
	assert.Equal(t, []int{1, 2}, order)
}

func TestEmitAfterInterval(t *testing.T) {
	advance, restore := fakeClock(time.Unix(1000, 0))
	defer restore()

	var emitted []int
	th := New(100*time.Millisecond, func(v int) {
		emitted = append(emitted, v)
	})

	advance(time.Second)
	assert.True(t, th.TryEmit(1))
	assert.False(t, th.TryEmit(2))
	advance(100 * time.Millisecond)
	assert.True(t, th.TryEmit(3))
	assert.Equal(t, []int{1, 3}, emitted)
	// the pending 2 was superseded by the emission of 3
	assert.False(t, th.HasPending())
}
