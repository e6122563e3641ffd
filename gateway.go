// Package gateway wires the telemetry sources together: the serial
// microcontroller reader, the positioning reader, and the debounced theme
// switch monitor, selected as real hardware or synthetic generators at
// construction time.
package gateway

import (
	log "github.com/sirupsen/logrus"

	"github.com/smartserow/gateway/gpio"
	"github.com/smartserow/gateway/gps"
	"github.com/smartserow/gateway/mcu"
	"github.com/smartserow/gateway/sim"
	"github.com/smartserow/gateway/store"
)

// Source is the contract every reader satisfies, hardware-backed or
// synthetic.
type Source interface {
	Start()
	Stop()
	Connected() bool
	Latest() (store.Snapshot, bool)
	History() []store.Snapshot
	OnData(store.Handler)
}

// Commander is a Source that also accepts outbound commands, which only the
// microcontroller link does.
type Commander interface {
	Source
	SendCommand(name string, params map[string]string) bool
	OnAck(mcu.AckHandler)
}

type Gateway struct {
	MCU   Commander
	GPS   Source
	Theme *gpio.Monitor
}

// New builds the service graph from configuration. Test mode swaps both
// hardware readers for synthetic sources with the same contract.
func New(cfg Config) *Gateway {
	gw := &Gateway{}
	if cfg.TestMode {
		log.Info("gateway: test mode, using synthetic sources")
		gw.MCU = sim.NewTelemetry()
		gw.GPS = sim.NewPositioning()
	} else {
		gw.MCU = mcu.New(cfg.Serial.Port, cfg.Serial.Baud)
		gw.GPS = gps.New(cfg.GPS.Addr())
	}
	gw.Theme = gpio.NewMonitor(gpio.ProbePin(cfg.Theme.Pin, cfg.Theme.Default))
	return gw
}

func (gw *Gateway) Start() {
	gw.GPS.Start()
	gw.MCU.Start()
	gw.Theme.Start()
}

func (gw *Gateway) Stop() {
	gw.MCU.Stop()
	gw.GPS.Stop()
	gw.Theme.Stop()
}
