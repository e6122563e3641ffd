// Package forwarder pushes throttled telemetry snapshots to a remote
// consumer over UDP as JSON datagrams, one logical channel per source.
package forwarder

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/smartserow/gateway/codec"
	"github.com/smartserow/gateway/store"
	"github.com/smartserow/gateway/throttle"
)

const flushInterval = 50 * time.Millisecond

type UDPConfig struct {
	Server string
	Port   int
}

// Packet is one datagram on the wire.
type Packet struct {
	Source string       `json:"source"`
	Time   time.Time    `json:"time"`
	Fields codec.Fields `json:"fields"`
}

type UDPForwarder struct {
	Config *UDPConfig

	conn net.Conn

	mu       sync.Mutex
	channels map[string]*throttle.Throttle[store.Snapshot]
}

func NewUDPForwarder(fileName string) (*UDPForwarder, error) {
	dir, err := filepath.Abs(filepath.Dir(os.Args[0]))
	if err != nil {
		return nil, errors.Wrap(err, "unable to determine binary location")
	}
	file, err := os.Open(filepath.Join(dir, fileName))
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open file %s", fileName)
	}
	defer file.Close()
	return NewUDPForwarderFromReader(file)
}

func NewUDPForwarderFromReader(configReader io.Reader) (*UDPForwarder, error) {
	configData, err := io.ReadAll(configReader)
	if err != nil {
		return nil, errors.Wrap(err, "unable to read config reader")
	}
	config := UDPConfig{}
	if _, err := toml.Decode(string(configData), &config); err != nil {
		return nil, errors.Wrap(err, "unable to load udp forwarder configuration")
	}
	udp := &UDPForwarder{
		Config:   &config,
		channels: make(map[string]*throttle.Throttle[store.Snapshot]),
	}
	if err := udp.connect(); err != nil {
		return nil, err
	}
	return udp, nil
}

func (udp *UDPForwarder) connect() error {
	conn, err := net.Dial("udp", fmt.Sprintf("%s:%d", udp.Config.Server, udp.Config.Port))
	if err != nil {
		return errors.Wrap(err, "unable to dial forward target")
	}
	udp.conn = conn
	return nil
}

func (udp *UDPForwarder) Close() error {
	return udp.conn.Close()
}

// Channel registers a throttled channel for the named source and returns
// the handler to attach to its reader. Channels live for the forwarder's
// lifetime; registering the same source twice returns the same gate.
func (udp *UDPForwarder) Channel(source string, minInterval time.Duration) store.Handler {
	udp.mu.Lock()
	defer udp.mu.Unlock()
	gate, ok := udp.channels[source]
	if !ok {
		gate = throttle.New(minInterval, func(snap store.Snapshot) {
			udp.send(source, snap)
		})
		udp.channels[source] = gate
	}
	return store.HandlerFunc(func(snap store.Snapshot) {
		gate.TryEmit(snap)
	})
}

// Start runs the flush loop so coalesced values are never stranded. Blocks
// until ctx is done.
func (udp *UDPForwarder) Start(ctx context.Context) error {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			udp.flushAll()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (udp *UDPForwarder) flushAll() {
	udp.mu.Lock()
	gates := make([]*throttle.Throttle[store.Snapshot], 0, len(udp.channels))
	for _, gate := range udp.channels {
		gates = append(gates, gate)
	}
	udp.mu.Unlock()
	for _, gate := range gates {
		gate.Flush()
	}
}

func (udp *UDPForwarder) send(source string, snap store.Snapshot) {
	data, err := json.Marshal(Packet{
		Source: source,
		Time:   snap.Time,
		Fields: snap.Fields,
	})
	if err != nil {
		log.WithField("err", err).Error("forwarder: unable to encode packet")
		return
	}
	if _, err := udp.conn.Write(data); err != nil {
		log.WithField("err", err).Error("forwarder: unable to send packet")
	}
}
