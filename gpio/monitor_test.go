package gpio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestMonitor(initial bool) *Monitor {
	m := NewMonitor(StaticPin(initial))
	m.state = initial
	return m
}

func TestDebounceCommitsAfterThreshold(t *testing.T) {
	m := newTestMonitor(false)

	for i := 0; i < RequiredConsecutive-1; i++ {
		m.step(true)
		assert.False(t, m.State(), "must not commit before threshold (sample %d)", i+1)
	}
	m.step(true)
	assert.True(t, m.State())

	state, changed := m.TakeChange()
	assert.True(t, state)
	assert.True(t, changed)

	// edge delivered exactly once
	_, changed = m.TakeChange()
	assert.False(t, changed)
}

func TestDebounceChangesExactlyOnce(t *testing.T) {
	m := newTestMonitor(false)
	for i := 0; i < RequiredConsecutive*3; i++ {
		m.step(true)
	}
	assert.True(t, m.State())
	_, changed := m.TakeChange()
	assert.True(t, changed)
	_, changed = m.TakeChange()
	assert.False(t, changed, "sustained readings past the threshold commit only one change")
}

func TestDebounceGlitchIgnored(t *testing.T) {
	m := newTestMonitor(false)

	// threshold-1 differing readings followed by one of the old state
	for i := 0; i < RequiredConsecutive-1; i++ {
		m.step(true)
	}
	m.step(false)
	assert.False(t, m.State())
	_, changed := m.TakeChange()
	assert.False(t, changed)

	// counter was reset: the next run needs the full threshold again
	for i := 0; i < RequiredConsecutive-1; i++ {
		m.step(true)
		assert.False(t, m.State())
	}
	m.step(true)
	assert.True(t, m.State())
}

func TestDebounceCandidateSwitch(t *testing.T) {
	m := newTestMonitor(false)
	// candidate alternation never accumulates
	for i := 0; i < RequiredConsecutive*2; i++ {
		m.step(i%2 == 0)
	}
	assert.False(t, m.State())
}

func TestMonitorPolling(t *testing.T) {
	readings := make(chan bool, 1)
	value := false
	pin := PinFunc(func() (bool, error) {
		select {
		case value = <-readings:
		default:
		}
		return value, nil
	})

	m := NewMonitor(pin)
	m.interval = time.Millisecond
	m.Start()
	defer m.Stop()

	assert.False(t, m.State())
	readings <- true
	assert.Eventually(t, func() bool {
		return m.State()
	}, time.Second, 5*time.Millisecond)
	state, changed := m.TakeChange()
	assert.True(t, state)
	assert.True(t, changed)
}

func TestProbePinFallback(t *testing.T) {
	pin := ProbePin(9999, true)
	v, err := pin.Read()
	assert.NoError(t, err)
	assert.True(t, v)
}
