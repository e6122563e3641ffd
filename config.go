package gateway

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

type SerialConfig struct {
	Port string
	Baud int
}

type GPSConfig struct {
	Host string
	Port int
}

func (c GPSConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type ThemeConfig struct {
	Pin     int
	Default bool
}

type ThrottleConfig struct {
	// emission intervals in milliseconds
	TelemetryMs int `toml:"telemetry_ms"`
	GPSMs       int `toml:"gps_ms"`
}

func (c ThrottleConfig) TelemetryInterval() time.Duration {
	return time.Duration(c.TelemetryMs) * time.Millisecond
}

func (c ThrottleConfig) GPSInterval() time.Duration {
	return time.Duration(c.GPSMs) * time.Millisecond
}

type Config struct {
	TestMode bool `toml:"test_mode"`
	Serial   SerialConfig
	GPS      GPSConfig
	Theme    ThemeConfig
	Throttle ThrottleConfig
}

// DefaultConfig matches the vehicle wiring: microcontroller on the Pi UART,
// gpsd local, theme switch on BCM pin 20.
func DefaultConfig() Config {
	return Config{
		Serial: SerialConfig{Port: "/dev/serial0", Baud: 115200},
		GPS:    GPSConfig{Host: "127.0.0.1", Port: 2947},
		Theme:  ThemeConfig{Pin: 20, Default: true},
		Throttle: ThrottleConfig{
			TelemetryMs: 50,
			GPSMs:       1000,
		},
	}
}

func LoadConfig(fileName string) (Config, error) {
	file, err := os.Open(fileName)
	if err != nil {
		return Config{}, errors.Wrapf(err, "unable to open config %s", fileName)
	}
	defer file.Close()
	return LoadConfigFromReader(file)
}

func LoadConfigFromReader(r io.Reader) (Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Config{}, errors.Wrap(err, "unable to read config")
	}
	cfg := DefaultConfig()
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return Config{}, errors.Wrap(err, "unable to parse config")
	}
	return cfg, nil
}
