// Package timeline computes the column layout of one day's events.
//
// Events that overlap in time are grouped into clusters and each cluster is
// laid out independently: every event gets a column, the cluster's column
// count and a span of free columns to its right. During a drag the layout
// can be pinned to a snapshot taken when the drag started, so that only the
// dragged event moves between columns.
//
// Everything in this package is a pure function of its inputs; the only
// long-lived state is the rank Ledger, which callers own and pass in.
package timeline

// MinutesPerDay is the exclusive upper bound of a day's minute range.
const MinutesPerDay = 24 * 60

// Event is one time-bounded item on a day's timeline.
type Event struct {
	ID          string
	StartMinute int // [0, MinutesPerDay)
	EndMinute   int // (StartMinute, MinutesPerDay]

	// Order is the creation sequence of the underlying record. It seeds the
	// rank ledger the first time the event is seen.
	Order int64
}

// Duration returns the event length in minutes.
func (e Event) Duration() int {
	return e.EndMinute - e.StartMinute
}

// Overlaps reports whether e and o share any minute.
// Touching intervals (one ends where the other starts) do not overlap.
func (e Event) Overlaps(o Event) bool {
	return max(e.StartMinute, o.StartMinute) < min(e.EndMinute, o.EndMinute)
}

// MovedTo returns a copy of e starting at start with the same duration.
func (e Event) MovedTo(start int) Event {
	d := e.Duration()
	e.StartMinute = start
	e.EndMinute = start + d
	return e
}

// LayoutInfo places one event inside its cluster's track.
//
// The event is drawn from column Column across Span columns out of
// TotalColumns equal-width slots. Column+Span never exceeds TotalColumns.
type LayoutInfo struct {
	Column       int `json:"column"`
	TotalColumns int `json:"total_columns"`
	Span         int `json:"span"`
}

// Left returns the left edge as a fraction of the track width.
func (l LayoutInfo) Left() float64 {
	if l.TotalColumns <= 0 {
		return 0
	}
	return float64(l.Column) / float64(l.TotalColumns)
}

// Width returns the box width as a fraction of the track width.
func (l LayoutInfo) Width() float64 {
	if l.TotalColumns <= 0 {
		return 1
	}
	return float64(l.Span) / float64(l.TotalColumns)
}

// Layout maps event IDs to their placement.
type Layout map[string]LayoutInfo

// Clone returns an independent copy of l.
func (l Layout) Clone() Layout {
	if l == nil {
		return nil
	}
	out := make(Layout, len(l))
	for id, info := range l {
		out[id] = info
	}
	return out
}

// Find returns the event with the given id.
func Find(events []Event, id string) (Event, bool) {
	for _, e := range events {
		if e.ID == id {
			return e, true
		}
	}
	return Event{}, false
}

// Replace returns a copy of events with the entry sharing ev's ID swapped
// for ev. If no entry matches, events is returned unchanged (copied).
func Replace(events []Event, ev Event) []Event {
	out := make([]Event, len(events))
	copy(out, events)
	for i := range out {
		if out[i].ID == ev.ID {
			out[i] = ev
		}
	}
	return out
}
