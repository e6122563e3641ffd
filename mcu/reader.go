// Package mcu reads telemetry from the microcontroller over the serial
// link: byte-level framing, multi-format decode, sparse merge into the
// latest state, plus the outbound command channel and its acks.
package mcu

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.bug.st/serial"

	"github.com/smartserow/gateway/codec"
	"github.com/smartserow/gateway/link"
	"github.com/smartserow/gateway/store"
)

const (
	readTimeout    = time.Second
	maxFrameLen    = 256
	statusInterval = 5 * time.Second
	stopTimeout    = 2 * time.Second
)

// Port is the slice of go.bug.st/serial.Port the reader needs. Kept narrow
// so tests can stub the transport.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// to allow testing
var openPort = func(name string, baud int) (Port, error) {
	p, err := serial.Open(name, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, err
	}
	if err := p.SetReadTimeout(readTimeout); err != nil {
		_ = p.Close()
		return nil, errors.Wrap(err, "unable to set read timeout")
	}
	return p, nil
}

// AckHandler receives command acknowledgments, decoupled from telemetry.
type AckHandler interface {
	HandleAck(codec.Ack)
}

// AckHandlerFunc adapts a plain function to the AckHandler interface.
type AckHandlerFunc func(codec.Ack)

func (f AckHandlerFunc) HandleAck(a codec.Ack) { f(a) }

type Reader struct {
	portName string
	baud     int

	codec *codec.Codec
	store *store.Store

	mu        sync.Mutex
	port      Port
	connected bool
	onData    store.Handler
	onAck     AckHandler
	cancel    context.CancelFunc
	done      chan struct{}

	// touched only by the reader goroutine
	frameCount int
	lastStatus time.Time
}

func New(portName string, baud int) *Reader {
	return &Reader{
		portName: portName,
		baud:     baud,
		codec:    codec.New(),
		store:    store.New(store.DefaultCapacity),
	}
}

// OnData registers the telemetry handler. Must be called before Start.
func (r *Reader) OnData(h store.Handler) {
	r.mu.Lock()
	r.onData = h
	r.mu.Unlock()
}

// OnAck registers the acknowledgment handler. Must be called before Start.
func (r *Reader) OnAck(h AckHandler) {
	r.mu.Lock()
	r.onAck = h
	r.mu.Unlock()
}

// Start launches the reader goroutine. Reconnection runs until Stop.
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
			log.Errorf("mcu done: %v", err)
		}
		close(done)
	}(r.done)
}

// Stop cancels the reader and waits a bounded time for it to exit; past the
// deadline the transport is force-closed to unblock any pending read.
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
		log.Warn("mcu: reader did not stop in time, closing port")
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

// SendCommand writes CMD:NAME:key=value... to the link. Sending while
// disconnected fails immediately: commands are never queued or retried.
func (r *Reader) SendCommand(name string, params map[string]string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.port == nil || !r.connected {
		log.WithField("command", name).Warn("mcu: cannot send command, not connected")
		return false
	}
	parts := []string{"CMD", strings.ToUpper(name)}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, k+"="+params[k])
	}
	line := strings.Join(parts, ":") + "\n"
	if _, err := r.port.Write([]byte(line)); err != nil {
		log.WithField("err", err).Error("mcu: command write failed")
		return false
	}
	log.Infof("mcu: sent %s", strings.TrimSpace(line))
	return true
}

// Name implements link.Retryable.
func (r *Reader) Name() string {
	return "mcu"
}

// Open implements link.Retryable.
func (r *Reader) Open() error {
	p, err := openPort(r.portName, r.baud)
	if err != nil {
		return errors.Wrapf(err, "unable to open %s", r.portName)
	}
	r.mu.Lock()
	r.port = p
	r.connected = true
	r.mu.Unlock()
	log.Infof("mcu: connected to %s @ %d baud", r.portName, r.baud)
	return nil
}

// Close implements link.Retryable.
func (r *Reader) Close() error {
	r.mu.Lock()
	p := r.port
	r.port = nil
	r.connected = false
	r.mu.Unlock()
	if p == nil {
		return nil
	}
	return p.Close()
}

// Run implements link.Retryable: the connected read loop. Any transport
// error returns to the retry loop; malformed frames are discarded here.
func (r *Reader) Run(ctx context.Context) error {
	r.frameCount = 0
	r.lastStatus = time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		line, err := r.readFrame(ctx)
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if ack, ok := codec.ParseAck(line); ok {
			r.mu.Lock()
			h := r.onAck
			r.mu.Unlock()
			if h != nil {
				h.HandleAck(ack)
			}
			continue
		}
		fields, ok := r.codec.Decode(line)
		if !ok {
			log.WithField("line", line).Debug("mcu: unrecognized frame")
			continue
		}
		snap := r.store.Merge(fields, time.Now())
		r.mu.Lock()
		h := r.onData
		r.mu.Unlock()
		if h != nil {
			h.HandleSnapshot(snap)
		}
		r.frameCount++
		r.maybeLogStatus(snap)
	}
}

// readFrame accumulates bytes until a terminator (NUL, CR or LF). A read
// timeout with a non-empty buffer surfaces the partial as a candidate frame;
// consecutive terminators are skipped; the length cap forces completion even
// if no terminator ever arrives.
func (r *Reader) readFrame(ctx context.Context) (string, error) {
	r.mu.Lock()
	p := r.port
	r.mu.Unlock()
	if p == nil {
		return "", errors.New("port closed")
	}
	var buf []byte
	b := make([]byte, 1)
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}
		n, err := p.Read(b)
		if err != nil {
			return "", errors.Wrap(err, "serial read")
		}
		if n == 0 {
			// read timeout
			if len(buf) > 0 {
				return string(buf), nil
			}
			return "", nil
		}
		c := b[0]
		if c == 0x00 || c == '\n' || c == '\r' {
			if len(buf) > 0 {
				return string(buf), nil
			}
			continue
		}
		buf = append(buf, c)
		if len(buf) >= maxFrameLen {
			return string(buf), nil
		}
	}
}

func (r *Reader) maybeLogStatus(snap store.Snapshot) {
	now := time.Now()
	elapsed := now.Sub(r.lastStatus)
	if elapsed < statusInterval {
		return
	}
	fps := float64(r.frameCount) / elapsed.Seconds()
	log.WithFields(log.Fields{
		"fps":     fps,
		"voltage": snap.Fields["voltage"],
		"rpm":     snap.Fields["rpm"],
		"gear":    snap.Fields["gear"],
		"roll":    snap.Fields["roll"],
	}).Info("mcu: status")
	r.lastStatus = now
	r.frameCount = 0
}
