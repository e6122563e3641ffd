package gateway

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/smartserow/gateway/gps"
	"github.com/smartserow/gateway/mcu"
	"github.com/smartserow/gateway/sim"
)

// contract checks: both implementations satisfy the reader interfaces
var (
	_ Commander = (*mcu.Reader)(nil)
	_ Commander = (*sim.Telemetry)(nil)
	_ Source    = (*gps.Reader)(nil)
	_ Source    = (*sim.Positioning)(nil)
)

func TestLoadConfigFromReader(t *testing.T) {
	cfg, err := LoadConfigFromReader(bytes.NewBufferString(`
test_mode = true

[serial]
port = "/dev/ttyUSB0"
baud = 57600

[gps]
host = "10.0.0.2"
port = 12947

[theme]
pin = 21
default = false

[throttle]
telemetry_ms = 100
gps_ms = 500
`))
	assert.NoError(t, err)
	assert.True(t, cfg.TestMode)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Serial.Port)
	assert.Equal(t, 57600, cfg.Serial.Baud)
	assert.Equal(t, "10.0.0.2:12947", cfg.GPS.Addr())
	assert.Equal(t, 21, cfg.Theme.Pin)
	assert.Equal(t, 100*time.Millisecond, cfg.Throttle.TelemetryInterval())
	assert.Equal(t, 500*time.Millisecond, cfg.Throttle.GPSInterval())
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfigFromReader(bytes.NewBufferString(""))
	assert.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	assert.False(t, cfg.TestMode)
	assert.Equal(t, "/dev/serial0", cfg.Serial.Port)
	assert.Equal(t, 115200, cfg.Serial.Baud)
	assert.Equal(t, "127.0.0.1:2947", cfg.GPS.Addr())
}

func TestLoadConfigPartialOverride(t *testing.T) {
	cfg, err := LoadConfigFromReader(bytes.NewBufferString(`
[serial]
port = "/dev/ttyAMA0"
`))
	assert.NoError(t, err)
	assert.Equal(t, "/dev/ttyAMA0", cfg.Serial.Port)
	// untouched settings keep their defaults
	assert.Equal(t, 115200, cfg.Serial.Baud)
	assert.Equal(t, "127.0.0.1:2947", cfg.GPS.Addr())
}

func TestLoadConfigBad(t *testing.T) {
	_, err := LoadConfigFromReader(bytes.NewBufferString("not [valid"))
	assert.Error(t, err)
	_, err = LoadConfig("/does/not/exist.toml")
	assert.Error(t, err)
}

func TestNewSelectsHardwareSources(t *testing.T) {
	gw := New(DefaultConfig())
	assert.IsType(t, &mcu.Reader{}, gw.MCU)
	assert.IsType(t, &gps.Reader{}, gw.GPS)
	assert.NotNil(t, gw.Theme)
}

func TestNewSelectsSyntheticSources(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TestMode = true
	gw := New(cfg)
	assert.IsType(t, &sim.Telemetry{}, gw.MCU)
	assert.IsType(t, &sim.Positioning{}, gw.GPS)
}
