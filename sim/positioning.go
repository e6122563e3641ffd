package sim

import (
	"context"
	"math/rand"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/smartserow/gateway/codec"
	"github.com/smartserow/gateway/store"
)

// Positioning generates wandering fixes at 1 Hz with occasional no-fix
// periods and recovery. The loss statistics are illustrative only; the
// contract is that signal loss is observable in the latest state and real
// fixes are archived.
type Positioning struct {
	store    *store.Store
	interval time.Duration

	mu        sync.Mutex
	connected bool
	onData    store.Handler
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewPositioning() *Positioning {
	return &Positioning{
		store:    store.New(store.DefaultCapacity),
		interval: time.Second,
	}
}

func (p *Positioning) OnData(h store.Handler) {
	p.mu.Lock()
	p.onData = h
	p.mu.Unlock()
}

func (p *Positioning) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	p.connected = true
	go p.generate(ctx, p.done)
	log.Info("sim: positioning generator started")
}

func (p *Positioning) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel = nil
	p.done = nil
	p.connected = false
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (p *Positioning) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *Positioning) Latest() (store.Snapshot, bool) { return p.store.Latest() }
func (p *Positioning) History() []store.Snapshot      { return p.store.History() }

func (p *Positioning) generate(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	const (
		baseLat = 35.6762
		baseLon = 139.6503
		baseAlt = 40.0
	)
	heading := rand.Float64() * 360
	speed := 5 + rand.Float64()*10

	lost := false
	var lostUntil time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		now := time.Now()

		if lost {
			if now.After(lostUntil) {
				lost = false
				log.Info("sim: gps signal recovered")
			}
		} else if rand.Float64() < 0.3 {
			lost = true
			lostUntil = now.Add(2 * time.Second)
			log.Info("sim: gps signal loss")
		}

		var snap store.Snapshot
		if lost {
			snap = p.store.Replace(codec.Fields{
				"mode":       1,
				"satellites": 0,
			}, now, false)
		} else {
			heading = headingWrap(heading + 1 + rand.Float64()*2)
			speed = clamp(speed+rand.Float64()*4-2, 0, 30)
			snap = p.store.Replace(codec.Fields{
				"lat":        baseLat + rand.Float64()*0.002 - 0.001,
				"lon":        baseLon + rand.Float64()*0.002 - 0.001,
				"alt":        baseAlt + rand.Float64()*10 - 5,
				"speed":      speed,
				"track":      heading,
				"mode":       3,
				"satellites": float64(6 + rand.Intn(7)),
			}, now, true)
		}

		p.mu.Lock()
		h := p.onData
		p.mu.Unlock()
		if h != nil {
			h.HandleSnapshot(snap)
		}
	}
}

func headingWrap(h float64) float64 {
	for h >= 360 {
		h -= 360
	}
	return h
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
