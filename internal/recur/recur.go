// Package recur decides which habits occur on a given day and at what time.
package recur

import (
	"time"

	"github.com/teambition/rrule-go"

	appLog "habitcal/internal/log"
	"habitcal/internal/model"
	"habitcal/internal/timeline"
)

// Occurs reports whether h has an occurrence on the calendar day that
// starts at dayStart (local midnight in loc).
//
// A habit without an RRULE occurs only on its DTSTART. The RRULE is
// expanded from the start of the slot in effect on DTSTART. EXDATEs are
// matched by day.
func Occurs(h model.Habit, dayStart time.Time, loc *time.Location) bool {
	dtstart, err := time.ParseInLocation(model.DayLayout, h.DTStart, loc)
	if err != nil {
		appLog.Warn("recur: invalid dtstart", "id", h.ID, "dtstart", h.DTStart)
		return false
	}
	if dayStart.Before(dtstart) {
		return false
	}

	dayKey := dayStart.Format(model.DayLayout)
	for _, ex := range h.ExDates {
		if ex == dayKey {
			return false
		}
	}

	if h.RRule == "" {
		return dayKey == h.DTStart
	}

	r, err := rrule.StrToRRule(h.RRule)
	if err != nil {
		appLog.Error("recur: failed to parse RRULE", err, "id", h.ID, "rrule", h.RRule)
		return false
	}
	// Anchor the rule at the series' time of day so an UNTIL earlier on
	// the last day excludes it.
	anchor := dtstart
	if slot, ok := h.SlotOn(h.DTStart); ok {
		anchor = time.Date(dtstart.Year(), dtstart.Month(), dtstart.Day(), 0, slot.Start, 0, 0, loc)
	}
	r.DTStart(anchor)

	var set rrule.Set
	set.RRule(r)

	dayEnd := time.Date(dayStart.Year(), dayStart.Month(), dayStart.Day()+1, 0, 0, 0, 0, loc)
	return len(set.Between(dayStart, dayEnd.Add(-time.Second), true)) > 0
}

// Day expands habits into the occurrences of one calendar day. The slot
// in effect on the day sets the time; an override for the day replaces it.
// Occurrences come back in habit order.
func Day(habits []model.Habit, overrides []model.Override, day time.Time, loc *time.Location) []model.Occurrence {
	if loc == nil {
		loc = time.Local
	}
	day = day.In(loc)
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
	dayKey := dayStart.Format(model.DayLayout)

	byHabit := make(map[string]model.Override, len(overrides))
	for _, o := range overrides {
		if o.Day == dayKey {
			byHabit[o.HabitID] = o
		}
	}

	var out []model.Occurrence
	for _, h := range habits {
		if !Occurs(h, dayStart, loc) {
			continue
		}
		slot, ok := h.SlotOn(dayKey)
		if !ok {
			continue
		}
		occ := model.Occurrence{
			HabitID:     h.ID,
			Title:       h.Title,
			Source:      h.Source,
			Day:         dayKey,
			StartMinute: slot.Start,
			EndMinute:   slot.End,
			Order:       h.CreatedAt.UnixNano(),
		}
		if o, ok := byHabit[h.ID]; ok {
			occ.StartMinute, occ.EndMinute = o.Start, o.End
			occ.Overridden = true
		}
		out = append(out, occ)
	}
	return out
}

// Events converts occurrences into layout events.
func Events(occs []model.Occurrence) []timeline.Event {
	out := make([]timeline.Event, len(occs))
	for i, o := range occs {
		out[i] = timeline.Event{
			ID:          o.HabitID,
			StartMinute: o.StartMinute,
			EndMinute:   o.EndMinute,
			Order:       o.Order,
		}
	}
	return out
}
