// Package haptics delivers best-effort feedback pulses while an event is
// dragged across the time grid.
//
// Drivers never block the caller: a pulse that cannot be delivered right
// away is dropped.
package haptics

import (
	"time"

	appLog "habitcal/internal/log"
)

// Strength distinguishes the pulse emitted on a plain grid step from the
// one emitted on a full hour.
type Strength int

const (
	Light Strength = iota
	Strong
)

func (s Strength) String() string {
	if s == Strong {
		return "strong"
	}
	return "light"
}

// Driver emits pulses.
type Driver interface {
	Pulse(s Strength)
}

// Nop discards every pulse.
type Nop struct{}

func (Nop) Pulse(Strength) {}

// logDriver writes pulses to the debug log. Useful on machines without a
// vibration motor.
type logDriver struct{}

func (logDriver) Pulse(s Strength) {
	appLog.Debug("haptic pulse", "strength", s.String())
}

// Config selects and tunes a driver.
type Config struct {
	// Driver is one of "none", "log" or "gpio".
	Driver string
	// Pin is the periph.io pin name driving the motor, e.g. "GPIO18".
	Pin    string
	Light  time.Duration
	Strong time.Duration
}

// New returns the driver described by cfg.
//
// A GPIO driver that fails to initialise (no such pin, not running on a
// board) falls back to the log driver so the web host keeps working.
func New(cfg Config) Driver {
	switch cfg.Driver {
	case "gpio":
		d, err := NewGPIO(cfg.Pin, cfg.Light, cfg.Strong)
		if err != nil {
			appLog.Error("haptics: gpio unavailable, falling back to log driver", err, "pin", cfg.Pin)
			return logDriver{}
		}
		return d
	case "log":
		return logDriver{}
	default:
		return Nop{}
	}
}
