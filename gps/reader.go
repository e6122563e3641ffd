// Package gps reads position reports from a gpsd daemon over TCP. Reports
// are self-contained, so each one fully replaces the latest state; only
// reports carrying a real position are archived.
package gps

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/smartserow/gateway/codec"
	"github.com/smartserow/gateway/link"
	"github.com/smartserow/gateway/store"
)

const (
	dialTimeout    = 2 * time.Second
	statusInterval = 5 * time.Second
	stopTimeout    = 2 * time.Second

	watchCommand = "?WATCH={\"enable\":true,\"json\":true}\n"
)

// window to obtain a first fix before the connection is considered dead;
// variable to allow testing
var firstFixWindow = 5 * time.Second

// to allow testing
var dialGPSD = func(addr string) (net.Conn, error) {
	return net.DialTimeout("tcp", addr, dialTimeout)
}

// tpvReport is gpsd's time-position-velocity message. Pointers distinguish
// "absent" from zero.
type tpvReport struct {
	Class      string   `json:"class"`
	Mode       *float64 `json:"mode"`
	Lat        *float64 `json:"lat"`
	Lon        *float64 `json:"lon"`
	Alt        *float64 `json:"alt"`
	Speed      *float64 `json:"speed"`
	Track      *float64 `json:"track"`
	Satellites *float64 `json:"satellites"`
}

type Reader struct {
	addr string

	store *store.Store

	mu        sync.Mutex
	conn      net.Conn
	connected bool
	onData    store.Handler
	cancel    context.CancelFunc
	done      chan struct{}

	// touched only by the reader goroutine
	fixCount   int
	lastStatus time.Time
}

func New(addr string) *Reader {
	return &Reader{
		addr:  addr,
		store: store.New(store.DefaultCapacity),
	}
}

// OnData registers the fix handler. Must be called before Start.
func (r *Reader) OnData(h store.Handler) {
	r.mu.Lock()
	r.onData = h
	r.mu.Unlock()
}

func (r *Reader) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	go func(done chan struct{}) {
		if err := link.Retry(ctx, r); err != nil && err != context.Canceled {
			log.Errorf("gps done: %v", err)
		}
		close(done)
	}(r.done)
}

func (r *Reader) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel = nil
	r.done = nil
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	select {
	case <-done:
	case <-time.After(stopTimeout):
		log.Warn("gps: reader did not stop in time, closing connection")
	}
	_ = r.Close()
}

func (r *Reader) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

func (r *Reader) Latest() (store.Snapshot, bool) { return r.store.Latest() }
func (r *Reader) History() []store.Snapshot      { return r.store.History() }

// Name implements link.Retryable.
func (r *Reader) Name() string {
	return "gps"
}

// Open implements link.Retryable: dial gpsd and enable the JSON watch.
func (r *Reader) Open() error {
	conn, err := dialGPSD(r.addr)
	if err != nil {
		return errors.Wrapf(err, "gpsd not reachable at %s", r.addr)
	}
	if _, err := conn.Write([]byte(watchCommand)); err != nil {
		_ = conn.Close()
		return errors.Wrap(err, "unable to enable gpsd watch")
	}
	r.mu.Lock()
	r.conn = conn
	r.connected = true
	r.mu.Unlock()
	log.Infof("gps: connected to gpsd at %s", r.addr)
	return nil
}

// Close implements link.Retryable.
func (r *Reader) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.connected = false
	r.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Run implements link.Retryable. A daemon that never produces a fix within
// the startup window is treated as a transport fault so the retry loop
// reconnects instead of idling forever; once any fix has been seen the
// window is disabled for the rest of the connection.
func (r *Reader) Run(ctx context.Context) error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return errors.New("connection closed")
	}

	// unblock the scanner on cancellation; released when Run returns so a
	// faulted connection does not strand a watcher per reconnect
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	r.fixCount = 0
	r.lastStatus = time.Now()
	seenFix := false
	deadline := time.Now().Add(firstFixWindow)

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var tpv tpvReport
		if err := json.Unmarshal(scanner.Bytes(), &tpv); err != nil {
			continue
		}
		if tpv.Class != "TPV" {
			continue
		}

		fields := tpv.fields()
		now := time.Now()

		if !tpv.hasFix() {
			if !seenFix {
				if now.After(deadline) {
					return errors.New("no fix within startup window")
				}
				continue
			}
			// signal loss is observable immediately but never archived
			snap := r.store.Replace(fields, now, false)
			r.notify(snap)
			continue
		}

		seenFix = true
		// mode alone satisfies the fix check; only reports with an actual
		// position get archived
		snap := r.store.Replace(fields, now, tpv.Lat != nil && tpv.Lon != nil)
		r.notify(snap)
		r.fixCount++
		r.maybeLogStatus(snap)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "gpsd read")
	}
	return errors.New("gpsd stream ended")
}

// hasFix reports whether the TPV carries a resolved position.
func (t *tpvReport) hasFix() bool {
	if t.Lat != nil && t.Lon != nil {
		return true
	}
	return t.Mode != nil && *t.Mode >= 2
}

func (t *tpvReport) fields() codec.Fields {
	fields := make(codec.Fields)
	put := func(name string, v *float64) {
		if v != nil {
			fields[name] = *v
		}
	}
	put("lat", t.Lat)
	put("lon", t.Lon)
	put("alt", t.Alt)
	put("speed", t.Speed)
	put("track", t.Track)
	put("mode", t.Mode)
	put("satellites", t.Satellites)
	return fields
}

func (r *Reader) notify(snap store.Snapshot) {
	r.mu.Lock()
	h := r.onData
	r.mu.Unlock()
	if h != nil {
		h.HandleSnapshot(snap)
	}
}

func (r *Reader) maybeLogStatus(snap store.Snapshot) {
	now := time.Now()
	elapsed := now.Sub(r.lastStatus)
	if elapsed < statusInterval {
		return
	}
	log.WithFields(log.Fields{
		"fixRate":    float64(r.fixCount) / elapsed.Seconds(),
		"speed":      snap.Fields["speed"],
		"track":      snap.Fields["track"],
		"mode":       snap.Fields["mode"],
		"satellites": snap.Fields["satellites"],
	}).Info("gps: status")
	r.lastStatus = now
	r.fixCount = 0
}
