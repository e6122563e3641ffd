// Package gpio monitors a binary input with consecutive-sample debounce and
// exposes the committed state plus a one-shot change signal.
package gpio

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	// 20 Hz poll; 11 consecutive matching samples ~= 550 ms of stability
	PollInterval         = 50 * time.Millisecond
	RequiredConsecutive  = 11
	heartbeatEveryNPolls = 100
)

type Monitor struct {
	pin       Pin
	interval  time.Duration
	threshold int

	mu      sync.Mutex
	state   bool
	changed bool
	cancel  context.CancelFunc
	done    chan struct{}

	// debounce bookkeeping, touched only by the poll loop
	pendingState bool
	pendingSet   bool
	pendingCount int
	pollCount    int
}

func NewMonitor(pin Pin) *Monitor {
	return &Monitor{
		pin:       pin,
		interval:  PollInterval,
		threshold: RequiredConsecutive,
	}
}

// Start reads the initial state and launches the poll loop.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}
	if v, err := m.pin.Read(); err == nil {
		m.state = v
	} else {
		log.WithField("err", err).Warn("gpio: unable to read initial state")
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.poll(ctx, m.done)
	log.Infof("gpio: monitor started, initial=%v", m.state)
}

func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel = nil
	m.done = nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// State returns the committed, already-debounced value.
func (m *Monitor) State() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// TakeChange returns the committed state and whether it has changed since
// the last call; the change flag is cleared on read so an edge is delivered
// exactly once.
func (m *Monitor) TakeChange() (state bool, changed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, changed = m.state, m.changed
	m.changed = false
	return
}

func (m *Monitor) poll(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		v, err := m.pin.Read()
		if err != nil {
			log.WithField("err", err).Debug("gpio: read failed")
			continue
		}
		m.step(v)

		m.pollCount++
		if m.pollCount >= heartbeatEveryNPolls {
			m.pollCount = 0
			log.Infof("gpio: state=%v", m.State())
		}
	}
}

// step applies one sample to the debounce state machine. A sample matching
// the committed state resets any pending candidate, so an isolated glitch
// that never repeats is ignored.
func (m *Monitor) step(v bool) {
	m.mu.Lock()
	committed := m.state
	m.mu.Unlock()

	if v == committed {
		m.pendingSet = false
		m.pendingCount = 0
		return
	}
	if m.pendingSet && v == m.pendingState {
		m.pendingCount++
	} else {
		m.pendingState = v
		m.pendingSet = true
		m.pendingCount = 1
	}
	if m.pendingCount < m.threshold {
		return
	}
	m.pendingSet = false
	m.pendingCount = 0
	m.mu.Lock()
	m.state = v
	m.changed = true
	m.mu.Unlock()
	log.Infof("gpio: state changed to %v", v)
}
