// Package drag implements the gesture state machine that moves an event on
// a day's timeline.
//
// The controller is the only component that mutates anything: it owns the
// rank ledger, the drag-scoped overlap bookkeeping and the pinned layout
// snapshot, and it feeds every recomputation through timeline.Compute.
// Timing is driven by the timestamps passed into each call; the controller
// never starts timers of its own.
//
// A Controller is not safe for concurrent use. Hosts serialise calls.
package drag

import (
	"errors"
	"time"

	"habitcal/internal/timeline"
)

// ErrNotDragging is returned by Release when no drag is active.
var ErrNotDragging = errors.New("drag: no active drag")

// State is the gesture state.
type State int

const (
	StateIdle State = iota
	StateLongPressPending
	StateDragging
)

func (s State) String() string {
	switch s {
	case StateLongPressPending:
		return "long_press_pending"
	case StateDragging:
		return "dragging"
	default:
		return "idle"
	}
}

// Outcome reports what a gesture call resolved to.
type Outcome int

const (
	OutcomeNone Outcome = iota
	// OutcomeTap: a second press inside the double-tap window. The host
	// should open the event's editor.
	OutcomeTap
	// OutcomeDragStarted: the long press activated a drag.
	OutcomeDragStarted
	// OutcomeCancelled: the gesture ended without changing anything.
	OutcomeCancelled
	// OutcomeCommitted: the new time was written and ranks were updated.
	OutcomeCommitted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeTap:
		return "tap"
	case OutcomeDragStarted:
		return "drag_started"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeCommitted:
		return "committed"
	default:
		return "none"
	}
}

// Mode selects which commit call a release makes.
type Mode int

const (
	// ModeSingleDay writes a one-off override for the controller's day.
	ModeSingleDay Mode = iota
	// ModeForward rewrites the recurring schedule from the day onward.
	ModeForward
)

func (m Mode) String() string {
	if m == ModeForward {
		return "forward"
	}
	return "single_day"
}

// ParseMode maps "forward" to ModeForward and anything else to
// ModeSingleDay.
func ParseMode(s string) Mode {
	if s == "forward" {
		return ModeForward
	}
	return ModeSingleDay
}

// Point is a pointer position in host pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Source pulls the current events of the controller's day.
type Source interface {
	Events() []timeline.Event
}

// SourceFunc adapts a function to Source.
type SourceFunc func() []timeline.Event

func (f SourceFunc) Events() []timeline.Event { return f() }

// Committer persists the outcome of a drag.
type Committer interface {
	// SetOverride moves the event on dayKey only.
	SetOverride(eventID, dayKey string, startMinute, endMinute int) error
	// UpdateScheduleFrom moves the event on dayKey and every later day.
	UpdateScheduleFrom(eventID, dayKey string, startMinute, endMinute int) error
}

// Config holds gesture tuning.
type Config struct {
	// GridMinutes is the snapping step of a dragged start time.
	GridMinutes int
	// HoldDelay is how long a press must be held before a drag starts.
	HoldDelay time.Duration
	// DoubleTapWindow is the maximum gap between two presses on the same
	// event for the second one to count as a tap.
	DoubleTapWindow time.Duration
	// Slop is the pointer travel, in pixels, tolerated while waiting for the
	// hold delay. Travelling further cancels the press.
	Slop float64
	// PixelsPerMinute converts vertical pointer travel to minutes.
	PixelsPerMinute float64
	// Mode is the initial commit mode.
	Mode Mode
}

// DefaultConfig returns the tuning used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		GridMinutes:     15,
		HoldDelay:       400 * time.Millisecond,
		DoubleTapWindow: 300 * time.Millisecond,
		Slop:            10,
		PixelsPerMinute: 1,
		Mode:            ModeSingleDay,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.GridMinutes <= 0 {
		c.GridMinutes = d.GridMinutes
	}
	if c.HoldDelay <= 0 {
		c.HoldDelay = d.HoldDelay
	}
	if c.DoubleTapWindow <= 0 {
		c.DoubleTapWindow = d.DoubleTapWindow
	}
	if c.Slop <= 0 {
		c.Slop = d.Slop
	}
	if c.PixelsPerMinute <= 0 {
		c.PixelsPerMinute = d.PixelsPerMinute
	}
	return c
}

// Frame is the result of one gesture call: the state after the call, what
// it resolved to, and the layout to render.
type Frame struct {
	State   State
	Outcome Outcome
	EventID string

	// Candidate is the dragged event at its live snapped position. Only set
	// while dragging.
	Candidate *timeline.Event

	// Locked is true while neighbours are pinned to the pre-drag snapshot.
	Locked bool

	Layout timeline.Layout
}
