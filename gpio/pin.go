package gpio

import (
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Pin is one binary input.
type Pin interface {
	Read() (bool, error)
}

// PinFunc adapts a plain function to the Pin interface.
type PinFunc func() (bool, error)

func (f PinFunc) Read() (bool, error) { return f() }

// SysfsPin reads a GPIO value through the kernel sysfs interface.
type SysfsPin struct {
	path string
}

func sysfsValuePath(number int) string {
	return fmt.Sprintf("/sys/class/gpio/gpio%d/value", number)
}

func (p *SysfsPin) Read() (bool, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return false, errors.Wrapf(err, "unable to read %s", p.path)
	}
	return strings.TrimSpace(string(data)) == "1", nil
}

// StaticPin always reads the same value. Used when no GPIO hardware is
// available so the rest of the system still runs.
type StaticPin bool

func (p StaticPin) Read() (bool, error) { return bool(p), nil }

// ProbePin returns a sysfs-backed pin when the kernel exposes one, falling
// back to a fixed value otherwise. Selection happens once, at construction.
func ProbePin(number int, fallback bool) Pin {
	path := sysfsValuePath(number)
	if _, err := os.Stat(path); err == nil {
		log.Infof("gpio: using sysfs pin %d", number)
		return &SysfsPin{path: path}
	}
	log.Warnf("gpio: pin %d not exported, using static value %v", number, fallback)
	return StaticPin(fallback)
}
