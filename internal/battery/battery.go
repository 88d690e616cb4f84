// Package battery reads the charge of a PiSugar-style I2C battery board so
// the web host can report it next to the timeline.
package battery

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	appLog "habitcal/internal/log"
)

// ErrUnavailable is returned when no battery board is configured or found.
var ErrUnavailable = errors.New("battery: unavailable")

// PiSugar3 registers.
const (
	regVoltageHigh = 0x22
	regVoltageLow  = 0x23
	regPercent     = 0x2A
)

// Status is the battery state reported by the API.
type Status struct {
	Percent   int       `json:"percent"`
	VoltageMv int       `json:"voltage_mv"`
	ReadAt    time.Time `json:"read_at"`
}

// Reader obtains the current battery state.
type Reader interface {
	Read(ctx context.Context) (Status, error)
}

// None is the Reader for devices without a battery board.
type None struct{}

func (None) Read(context.Context) (Status, error) { return Status{}, ErrUnavailable }

// tx is the subset of i2c.Dev used by the reader.
type tx interface {
	Tx(w, r []byte) error
}

// I2C reads a PiSugar3 over I2C. The bus is opened per read so a board
// that is hot-plugged or briefly busy does not wedge the reader.
type I2C struct {
	busName string
	addr    uint16

	// open returns the device and a closer. Replaced in tests.
	open func() (tx, func() error, error)
}

// NewI2C returns a reader for the board at addr on busName ("" selects the
// default bus).
func NewI2C(busName string, addr uint16) *I2C {
	r := &I2C{busName: busName, addr: addr}
	r.open = r.openBus
	return r
}

func (r *I2C) openBus() (tx, func() error, error) {
	if runtime.GOOS != "linux" {
		return nil, nil, ErrUnavailable
	}
	if _, err := host.Init(); err != nil {
		return nil, nil, fmt.Errorf("battery: periph init: %w", err)
	}
	bus, err := i2creg.Open(r.busName)
	if err != nil {
		return nil, nil, fmt.Errorf("battery: open bus %q: %w", r.busName, err)
	}
	return &i2c.Dev{Bus: bus, Addr: r.addr}, bus.Close, nil
}

// Read implements Reader.
func (r *I2C) Read(_ context.Context) (Status, error) {
	dev, closeBus, err := r.open()
	if err != nil {
		return Status{}, err
	}
	defer closeBus()

	readReg := func(reg byte) (byte, error) {
		buf := []byte{0}
		if err := dev.Tx([]byte{reg}, buf); err != nil {
			return 0, fmt.Errorf("battery: read register 0x%02x: %w", reg, err)
		}
		return buf[0], nil
	}

	high, err := readReg(regVoltageHigh)
	if err != nil {
		return Status{}, err
	}
	low, err := readReg(regVoltageLow)
	if err != nil {
		return Status{}, err
	}
	pct, err := readReg(regPercent)
	if err != nil {
		return Status{}, err
	}

	return Status{
		Percent:   min(int(pct), 100),
		VoltageMv: int(uint16(high)<<8 | uint16(low)),
		ReadAt:    time.Now().UTC(),
	}, nil
}

// Config selects the reader.
type Config struct {
	// Driver is "i2c" or "none".
	Driver string
	Bus    string
	Addr   uint16
}

// New returns the reader described by cfg.
func New(cfg Config) Reader {
	if cfg.Driver != "i2c" {
		return None{}
	}
	return NewI2C(cfg.Bus, cfg.Addr)
}

// Cached wraps a Reader so repeated API calls within ttl do not touch the
// bus. Failures are cached too.
type Cached struct {
	r   Reader
	ttl time.Duration
	now func() time.Time

	mu     sync.Mutex
	status Status
	err    error
	at     time.Time
}

// NewCached returns a caching reader.
func NewCached(r Reader, ttl time.Duration) *Cached {
	return &Cached{r: r, ttl: ttl, now: time.Now}
}

// Read implements Reader.
func (c *Cached) Read(ctx context.Context) (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if !c.at.IsZero() && now.Sub(c.at) < c.ttl {
		return c.status, c.err
	}
	c.status, c.err = c.r.Read(ctx)
	c.at = now
	if c.err != nil && !errors.Is(c.err, ErrUnavailable) {
		appLog.Warn("battery: read failed", "err", c.err)
	}
	return c.status, c.err
}
