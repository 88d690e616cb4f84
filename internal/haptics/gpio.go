package haptics

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	appLog "habitcal/internal/log"
)

const (
	defaultLightPulse  = 15 * time.Millisecond
	defaultStrongPulse = 40 * time.Millisecond
)

// outPin is the part of gpio.PinOut the driver needs.
type outPin interface {
	Out(l gpio.Level) error
}

// GPIO drives a vibration motor (through a transistor) from one output pin.
// Pulses are queued to a single worker goroutine; while a pulse is being
// played further pulses are dropped. Pulses after Close are ignored.
type GPIO struct {
	pin    outPin
	light  time.Duration
	strong time.Duration
	queue  chan Strength
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

// NewGPIO initialises periph.io and claims pinName as an output held low.
func NewGPIO(pinName string, light, strong time.Duration) (*GPIO, error) {
	if runtime.GOOS != "linux" {
		return nil, errors.New("haptics: gpio is only available on linux")
	}
	if pinName == "" {
		return nil, errors.New("haptics: gpio pin name is empty")
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("haptics: periph init: %w", err)
	}

	p := gpioreg.ByName(pinName)
	if p == nil {
		return nil, fmt.Errorf("haptics: pin %q not found", pinName)
	}
	if err := p.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("haptics: pin %q out: %w", pinName, err)
	}

	return newGPIO(p, light, strong), nil
}

func newGPIO(pin outPin, light, strong time.Duration) *GPIO {
	if light <= 0 {
		light = defaultLightPulse
	}
	if strong <= 0 {
		strong = defaultStrongPulse
	}
	g := &GPIO{
		pin:    pin,
		light:  light,
		strong: strong,
		queue:  make(chan Strength, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go g.run()
	return g
}

// Pulse queues s without blocking.
func (g *GPIO) Pulse(s Strength) {
	select {
	case <-g.stop:
		return
	default:
	}
	select {
	case g.queue <- s:
	default:
	}
}

// Close stops the worker and leaves the pin low. It is safe to call more
// than once.
func (g *GPIO) Close() error {
	g.once.Do(func() { close(g.stop) })
	<-g.done
	return g.pin.Out(gpio.Low)
}

func (g *GPIO) run() {
	defer close(g.done)
	for {
		select {
		case s := <-g.queue:
			g.play(s)
		case <-g.stop:
			// A pulse queued before Close still plays.
			select {
			case s := <-g.queue:
				g.play(s)
			default:
			}
			return
		}
	}
}

func (g *GPIO) play(s Strength) {
	d := g.light
	if s == Strong {
		d = g.strong
	}
	if err := g.pin.Out(gpio.High); err != nil {
		appLog.Error("haptics: pin high failed", err)
		return
	}
	time.Sleep(d)
	if err := g.pin.Out(gpio.Low); err != nil {
		appLog.Error("haptics: pin low failed", err)
	}
}
