package drag

import (
	"math"
	"time"

	"habitcal/internal/haptics"
	appLog "habitcal/internal/log"
	"habitcal/internal/timeline"
)

// Options wires a Controller to its collaborators.
type Options struct {
	// Day is the day key ("2006-01-02") passed to the Committer.
	Day       string
	Config    Config
	Source    Source
	Ledger    *timeline.Ledger
	Committer Committer
	Haptics   haptics.Driver
}

// press is a pointer-down that has not turned into a drag yet.
type press struct {
	id     string
	at     time.Time
	origin Point
}

// session is the drag-scoped state. It exists only in StateDragging.
type session struct {
	id        string
	origin    Point
	original  timeline.Event
	candidate timeline.Event
	hasMoved  bool

	partners timeline.IDSet
	broken   timeline.PairSet

	// initial is the resting layout at activation, shown until the drag
	// has moved at least one grid step.
	initial timeline.Layout

	// pinned is the stable snapshot. It is non-nil only in the locked
	// sub-state and is dropped for good once the dragged event no longer
	// overlaps any original partner.
	pinned timeline.Layout
}

// Controller is the gesture state machine for one day's timeline.
type Controller struct {
	day     string
	cfg     Config
	mode    Mode
	src     Source
	ledger  *timeline.Ledger
	commit  Committer
	haptics haptics.Driver

	state     State
	pending   press
	lastPress press
	sess      *session
}

// New returns an idle controller.
func New(opts Options) *Controller {
	cfg := opts.Config.normalized()
	c := &Controller{
		day:     opts.Day,
		cfg:     cfg,
		mode:    cfg.Mode,
		src:     opts.Source,
		ledger:  opts.Ledger,
		commit:  opts.Committer,
		haptics: opts.Haptics,
	}
	if c.ledger == nil {
		c.ledger = timeline.NewLedger()
	}
	if c.haptics == nil {
		c.haptics = haptics.Nop{}
	}
	if c.src == nil {
		c.src = SourceFunc(func() []timeline.Event { return nil })
	}
	return c
}

func (c *Controller) Day() string              { return c.day }
func (c *Controller) State() State             { return c.state }
func (c *Controller) Mode() Mode               { return c.mode }
func (c *Controller) Ledger() *timeline.Ledger { return c.ledger }

// SetMode selects the commit call used by the next release.
func (c *Controller) SetMode(m Mode) {
	c.mode = m
}

// Layout returns the layout to render right now: the live drag frame while
// dragging, the resting layout otherwise.
func (c *Controller) Layout() timeline.Layout {
	return c.frame(OutcomeNone).Layout
}

// Frame returns the current frame without changing state.
func (c *Controller) Frame() Frame {
	return c.frame(OutcomeNone)
}

// Press starts a gesture on eventID. A press on the same event within the
// double-tap window of the previous press resolves to a tap and never
// starts a drag.
func (c *Controller) Press(eventID string, p Point, at time.Time) Frame {
	if c.state != StateIdle {
		return c.frame(OutcomeNone)
	}

	prev := c.lastPress
	c.lastPress = press{id: eventID, at: at, origin: p}
	if prev.id == eventID && !prev.at.IsZero() && at.Sub(prev.at) <= c.cfg.DoubleTapWindow {
		c.lastPress = press{}
		appLog.Debug("drag: double tap", "day", c.day, "id", eventID)
		f := c.frame(OutcomeTap)
		f.EventID = eventID
		return f
	}

	if _, ok := timeline.Find(c.src.Events(), eventID); !ok {
		return c.frame(OutcomeNone)
	}

	c.state = StateLongPressPending
	c.pending = press{id: eventID, at: at, origin: p}
	return c.frame(OutcomeNone)
}

// Poll lets the host advance the long-press timer without pointer motion.
func (c *Controller) Poll(at time.Time) Frame {
	if c.state == StateLongPressPending && at.Sub(c.pending.at) >= c.cfg.HoldDelay {
		return c.activate()
	}
	return c.frame(OutcomeNone)
}

// Move feeds one pointer sample.
func (c *Controller) Move(p Point, at time.Time) Frame {
	switch c.state {
	case StateLongPressPending:
		if distance(p, c.pending.origin) > c.cfg.Slop {
			c.reset()
			appLog.Debug("drag: press moved before hold delay", "day", c.day)
			return c.frame(OutcomeCancelled)
		}
		if at.Sub(c.pending.at) < c.cfg.HoldDelay {
			return c.frame(OutcomeNone)
		}
		if f := c.activate(); c.state != StateDragging {
			return f
		}
		c.sample(p)
		return c.frame(OutcomeDragStarted)
	case StateDragging:
		c.sample(p)
		return c.frame(OutcomeNone)
	default:
		return c.frame(OutcomeNone)
	}
}

// Release ends the gesture. A drag whose candidate left its original
// start is committed through the active mode and re-ranks every visible
// event by the column order on screen at release; any other release
// changes nothing.
func (c *Controller) Release(at time.Time) (Frame, error) {
	switch c.state {
	case StateLongPressPending:
		c.reset()
		return c.frame(OutcomeNone), nil
	case StateDragging:
	default:
		return c.frame(OutcomeNone), ErrNotDragging
	}

	s := c.sess
	if !s.hasMoved {
		c.reset()
		appLog.Debug("drag: released without moving", "day", c.day, "id", s.id)
		return c.frame(OutcomeCancelled), nil
	}

	final := s.candidate
	onScreen := c.dragLayout(c.src.Events())
	c.reset()

	if err := c.write(final); err != nil {
		appLog.Error("drag: commit failed", err, "day", c.day, "id", final.ID, "mode", c.mode.String())
		return c.frame(OutcomeCancelled), err
	}

	c.ledger.Rerank(onScreen)
	appLog.Info("drag: committed",
		"day", c.day,
		"id", final.ID,
		"mode", c.mode.String(),
		"start", final.StartMinute,
		"end", final.EndMinute,
		"moved_from", s.original.StartMinute,
	)

	f := c.restFrame(timeline.Replace(c.src.Events(), final), OutcomeCommitted)
	f.EventID = final.ID
	return f, nil
}

// Terminate aborts the gesture, discarding any pending time change.
func (c *Controller) Terminate() Frame {
	wasActive := c.state != StateIdle
	c.reset()
	if wasActive {
		return c.frame(OutcomeCancelled)
	}
	return c.frame(OutcomeNone)
}

func (c *Controller) reset() {
	c.state = StateIdle
	c.pending = press{}
	c.sess = nil
}

// activate turns the pending press into a drag: capture the snapshot and
// the original overlap partners.
func (c *Controller) activate() Frame {
	events := c.src.Events()
	ev, ok := timeline.Find(events, c.pending.id)
	if !ok {
		// Deleted while the press was held.
		c.reset()
		return c.frame(OutcomeCancelled)
	}

	c.ledger.Register(events)
	snapshot := timeline.Compute(events, timeline.Options{Ranks: c.ledger})

	c.sess = &session{
		id:        ev.ID,
		origin:    c.pending.origin,
		original:  ev,
		candidate: ev,
		partners:  timeline.OverlapPartners(ev, events),
		broken:    timeline.PairSet{},
		initial:   snapshot,
		pinned:    snapshot.Clone(),
	}
	c.state = StateDragging
	c.pending = press{}
	c.track(events)

	appLog.Debug("drag: started",
		"day", c.day,
		"id", ev.ID,
		"start", ev.StartMinute,
		"partners", len(c.sess.partners),
	)
	return c.frame(OutcomeDragStarted)
}

// sample converts a pointer position into the candidate start and updates
// the overlap bookkeeping. The offset is snapped, not the start, so an
// event off the grid moves in whole grid steps and a still pointer keeps
// it where it was.
func (c *Controller) sample(p Point) {
	s := c.sess
	grid := c.cfg.GridMinutes

	offset := (p.Y - s.origin.Y) / c.cfg.PixelsPerMinute
	start := s.original.StartMinute + snap(offset, grid)
	start = clamp(start, 0, timeline.MinutesPerDay-s.original.Duration())

	if start != s.candidate.StartMinute {
		strength := haptics.Light
		if start%60 == 0 {
			strength = haptics.Strong
		}
		c.haptics.Pulse(strength)
	}
	s.candidate = s.original.MovedTo(start)
	if start != s.original.StartMinute {
		s.hasMoved = true
	}

	c.track(c.src.Events())
}

// track records partners the candidate has separated from and unlocks the
// snapshot once no original partner overlaps any more.
func (c *Controller) track(events []timeline.Event) {
	s := c.sess
	stillOverlapping := false
	for id := range s.partners {
		partner, ok := timeline.Find(events, id)
		if !ok {
			continue
		}
		if s.candidate.Overlaps(partner) {
			stillOverlapping = true
			continue
		}
		s.broken.Add(s.id, id)
	}
	if !stillOverlapping && s.pinned != nil {
		s.pinned = nil
		appLog.Debug("drag: cleared original overlaps, layout unlocked", "day", c.day, "id", s.id)
	}
}

// dragLayout computes the live frame for the current candidate.
func (c *Controller) dragLayout(events []timeline.Event) timeline.Layout {
	s := c.sess
	if _, ok := timeline.Find(events, s.id); !ok {
		// The dragged event vanished; show what is left.
		c.ledger.Register(events)
		return timeline.Compute(events, timeline.Options{Ranks: c.ledger})
	}

	live := timeline.Replace(events, s.candidate)
	c.ledger.Register(live)

	opts := timeline.Options{Ranks: c.ledger}
	if s.pinned != nil {
		opts.Drag = &timeline.DragState{
			ID:       s.id,
			Pinned:   s.pinned,
			Partners: s.partners,
			Broken:   s.broken,
		}
	}
	layout := timeline.Compute(live, opts)

	if !s.hasMoved {
		for id, info := range s.initial {
			if _, ok := layout[id]; ok {
				layout[id] = info
			}
		}
	}
	return layout
}

func (c *Controller) write(ev timeline.Event) error {
	if c.commit == nil {
		return nil
	}
	if c.mode == ModeForward {
		return c.commit.UpdateScheduleFrom(ev.ID, c.day, ev.StartMinute, ev.EndMinute)
	}
	return c.commit.SetOverride(ev.ID, c.day, ev.StartMinute, ev.EndMinute)
}

func (c *Controller) frame(o Outcome) Frame {
	events := c.src.Events()
	if c.state != StateDragging {
		f := c.restFrame(events, o)
		if c.state == StateLongPressPending {
			f.EventID = c.pending.id
		}
		return f
	}

	s := c.sess
	cand := s.candidate
	return Frame{
		State:     c.state,
		Outcome:   o,
		EventID:   s.id,
		Candidate: &cand,
		Locked:    s.pinned != nil,
		Layout:    c.dragLayout(events),
	}
}

func (c *Controller) restFrame(events []timeline.Event, o Outcome) Frame {
	c.ledger.Register(events)
	return Frame{
		State:   c.state,
		Outcome: o,
		Layout:  timeline.Compute(events, timeline.Options{Ranks: c.ledger}),
	}
}

func snap(minute float64, grid int) int {
	return int(math.Round(minute/float64(grid))) * grid
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

func distance(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}
