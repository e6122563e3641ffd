// Package sim provides synthetic sources satisfying the same contract as
// the hardware readers, so the rest of the system runs and can be exercised
// without a vehicle attached.
package sim

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/smartserow/gateway/codec"
	"github.com/smartserow/gateway/mcu"
	"github.com/smartserow/gateway/store"
)

// Telemetry generates ramping microcontroller-style frames at 20 Hz.
type Telemetry struct {
	store    *store.Store
	interval time.Duration

	mu        sync.Mutex
	connected bool
	onData    store.Handler
	onAck     mcu.AckHandler
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewTelemetry() *Telemetry {
	return &Telemetry{
		store:    store.New(store.DefaultCapacity),
		interval: 50 * time.Millisecond,
	}
}

func (t *Telemetry) OnData(h store.Handler) {
	t.mu.Lock()
	t.onData = h
	t.mu.Unlock()
}

func (t *Telemetry) OnAck(h mcu.AckHandler) {
	t.mu.Lock()
	t.onAck = h
	t.mu.Unlock()
}

func (t *Telemetry) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.done = make(chan struct{})
	t.connected = true
	go t.generate(ctx, t.done)
	log.Info("sim: telemetry generator started")
}

func (t *Telemetry) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel = nil
	t.done = nil
	t.connected = false
	t.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (t *Telemetry) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *Telemetry) Latest() (store.Snapshot, bool) { return t.store.Latest() }
func (t *Telemetry) History() []store.Snapshot      { return t.store.History() }

// SendCommand accepts any command and synthesizes an OK ack, mirroring a
// healthy microcontroller.
func (t *Telemetry) SendCommand(name string, params map[string]string) bool {
	t.mu.Lock()
	connected := t.connected
	h := t.onAck
	t.mu.Unlock()
	if !connected {
		return false
	}
	log.Infof("sim: command %s %v", name, params)
	if h != nil {
		go h.HandleAck(codec.Ack{
			Command: strings.ToUpper(name),
			Status:  "OK",
		})
	}
	return true
}

func (t *Telemetry) generate(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	rpm := 0.0
	rpmUp := true
	phase := 0.0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if rpmUp {
			rpm += 100
		} else {
			rpm -= 100
		}
		if rpm >= 8000 {
			rpmUp = false
		} else if rpm <= 0 {
			rpmUp = true
		}
		phase += 0.05

		gear := math.Floor(rpm/1500) + 1
		fields := codec.Fields{
			"voltage": 12.4 + 0.3*math.Sin(phase/5),
			"ax":      0.02 * math.Sin(phase),
			"ay":      0.02 * math.Cos(phase),
			"az":      1.0,
			"gx":      2 * math.Sin(phase*2),
			"gy":      2 * math.Cos(phase*2),
			"gz":      0.5 * math.Sin(phase),
			"roll":    15 * math.Sin(phase/2),
			"pitch":   5 * math.Sin(phase/3),
			"yaw":     math.Mod(phase*10, 360),
			"rpm":     rpm,
			"gear":    gear,
		}
		snap := t.store.Merge(fields, time.Now())
		t.mu.Lock()
		h := t.onData
		t.mu.Unlock()
		if h != nil {
			h.HandleSnapshot(snap)
		}
	}
}
