// Package store holds the latest decoded state for one telemetry source
// together with a bounded history of past snapshots. One Store per source;
// sources never share a lock.
package store

import (
	"math"
	"sync"
	"time"

	"github.com/smartserow/gateway/codec"
)

// DefaultCapacity is the history depth used by the readers.
const DefaultCapacity = 100

// Snapshot is an immutable copy of a source's state at one point in time.
type Snapshot struct {
	Fields codec.Fields
	Time   time.Time
}

// Handler receives snapshots pushed by a reader. Implementations get their
// own copy and may retain it.
type Handler interface {
	HandleSnapshot(Snapshot)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(Snapshot)

func (f HandlerFunc) HandleSnapshot(s Snapshot) { f(s) }

// Store guards a latest-value field map and a fixed-capacity snapshot ring.
// The lock is held only long enough to copy; blocking reads never happen
// under it. The Store outlives reconnects: prior field values survive until
// overwritten.
type Store struct {
	mu     sync.Mutex
	latest codec.Fields
	ts     time.Time

	ring  []Snapshot
	start int
	count int
}

func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		latest: make(codec.Fields),
		ring:   make([]Snapshot, capacity),
	}
}

// Merge applies a sparse update: fields present and non-NaN overwrite the
// stored value, everything else keeps its previous value. The resulting
// snapshot is archived and returned.
func (s *Store) Merge(fields codec.Fields, ts time.Time) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, v := range fields {
		if math.IsNaN(v) {
			continue
		}
		s.latest[name] = v
	}
	s.ts = ts
	s.appendLocked(s.snapshotLocked())
	return s.snapshotLocked()
}

// Replace swaps the entire latest state for the given fields. Positioning
// reports are self-contained so nothing is carried over. The snapshot is
// archived only when archive is true (real fixes); no-fix reports stay
// observable in the latest state without polluting history.
func (s *Store) Replace(fields codec.Fields, ts time.Time, archive bool) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = make(codec.Fields, len(fields))
	for name, v := range fields {
		s.latest[name] = v
	}
	s.ts = ts
	if archive {
		s.appendLocked(s.snapshotLocked())
	}
	return s.snapshotLocked()
}

// Latest returns a copy of the current state. ok is false until the first
// update arrives.
func (s *Store) Latest() (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.latest) == 0 {
		return Snapshot{}, false
	}
	return s.snapshotLocked(), true
}

// History returns copies of the archived snapshots, oldest first.
func (s *Store) History() []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Snapshot, 0, s.count)
	for i := 0; i < s.count; i++ {
		snap := s.ring[(s.start+i)%len(s.ring)]
		fields := make(codec.Fields, len(snap.Fields))
		for name, v := range snap.Fields {
			fields[name] = v
		}
		out = append(out, Snapshot{Fields: fields, Time: snap.Time})
	}
	return out
}

func (s *Store) snapshotLocked() Snapshot {
	fields := make(codec.Fields, len(s.latest))
	for name, v := range s.latest {
		fields[name] = v
	}
	return Snapshot{Fields: fields, Time: s.ts}
}

func (s *Store) appendLocked(snap Snapshot) {
	if s.count < len(s.ring) {
		s.ring[(s.start+s.count)%len(s.ring)] = snap
		s.count++
		return
	}
	// full: evict oldest
	s.ring[s.start] = snap
	s.start = (s.start + 1) % len(s.ring)
}
