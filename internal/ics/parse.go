package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "habitcal/internal/log"
	"habitcal/internal/model"
)

// defaultDuration is used for events without a usable DTEND.
const defaultDuration = 15 * time.Minute

// ParseHabits turns the timed VEVENTs of an ICS payload into habits, with
// days and minutes taken in loc.
//
// All-day events are skipped. A RECURRENCE-ID instance becomes its own
// one-off habit, and the instance's original day is excluded from the
// series. Times past midnight are cut at the end of the start day.
func ParseHabits(body []byte, loc *time.Location) ([]model.Habit, error) {
	if len(body) == 0 {
		return nil, errors.New("ics: empty body")
	}
	if loc == nil {
		loc = time.Local
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ics: parse calendar: %w", err)
	}

	var (
		habits    []model.Habit
		index     = make(map[string]int)
		instances []instance
	)
	for _, ve := range cal.Events() {
		h, rid, ok, err := parseVEvent(ve, loc)
		if err != nil {
			appLog.Warn("ics: skipping vevent", "err", err)
			continue
		}
		if !ok {
			continue
		}
		if rid != "" {
			instances = append(instances, instance{habit: h, uid: h.ID, originalDay: rid})
			continue
		}
		if _, dup := index[h.ID]; dup {
			appLog.Warn("ics: duplicate UID", "uid", h.ID)
			continue
		}
		index[h.ID] = len(habits)
		habits = append(habits, h)
	}

	for _, in := range instances {
		if i, ok := index[in.uid]; ok {
			habits[i].ExDates = append(habits[i].ExDates, in.originalDay)
		}
		in.habit.ID = in.uid + "/" + in.originalDay
		in.habit.RRule = ""
		in.habit.ExDates = nil
		habits = append(habits, in.habit)
	}

	appLog.Debug("ics: parsed", "habits", len(habits), "moved_instances", len(instances))
	return habits, nil
}

type instance struct {
	habit       model.Habit
	uid         string
	originalDay string
}

// parseVEvent maps one VEVENT. ok is false for events that are not habits
// (all-day). rid is the original day of a RECURRENCE-ID instance.
func parseVEvent(ve *ical.VEvent, loc *time.Location) (h model.Habit, rid string, ok bool, err error) {
	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || uid.Value == "" {
		return h, "", false, errors.New("missing UID")
	}
	h.ID = uid.Value

	dtstart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtstart == nil {
		return h, "", false, fmt.Errorf("%s: missing DTSTART", h.ID)
	}
	if isDateOnly(dtstart) {
		return h, "", false, nil
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return h, "", false, fmt.Errorf("%s: DTSTART: %w", h.ID, err)
	}
	start = start.In(loc)
	end, err := ve.GetEndAt()
	if err != nil || !end.After(start) {
		end = start.Add(defaultDuration)
	}
	end = end.In(loc)

	day := start.Format(model.DayLayout)
	startMin := start.Hour()*60 + start.Minute()
	endMin := startMin + int(end.Sub(start)/time.Minute)
	endMin = min(max(endMin, startMin+1), 24*60)

	h.DTStart = day
	h.Schedule = []model.Slot{{From: day, Start: startMin, End: endMin}}
	h.Title = strings.TrimSpace(propValue(ve, ical.ComponentPropertySummary))
	if h.Title == "" {
		h.Title = "(untitled)"
	}
	if raw := propValue(ve, ical.ComponentPropertyCreated); raw != "" {
		if t, err := parseTime(raw, "", loc); err == nil {
			h.CreatedAt = t.UTC()
		}
	}
	h.RRule = propValue(ve, ical.ComponentPropertyRrule)

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		tzid := firstParam(p, "TZID")
		for part := range strings.SplitSeq(p.Value, ",") {
			t, err := parseTime(part, tzid, loc)
			if err != nil {
				continue
			}
			h.ExDates = append(h.ExDates, t.In(loc).Format(model.DayLayout))
		}
	}

	if p := ve.GetProperty("RECURRENCE-ID"); p != nil {
		t, err := parseTime(p.Value, firstParam(p, "TZID"), loc)
		if err != nil {
			return h, "", false, fmt.Errorf("%s: RECURRENCE-ID: %w", h.ID, err)
		}
		rid = t.In(loc).Format(model.DayLayout)
	}
	return h, rid, true, nil
}

func isDateOnly(p *ical.IANAProperty) bool {
	if strings.EqualFold(firstParam(p, "VALUE"), "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

func propValue(ve *ical.VEvent, name ical.ComponentProperty) string {
	if p := ve.GetProperty(name); p != nil {
		return p.Value
	}
	return ""
}

func firstParam(p *ical.IANAProperty, name string) string {
	if vs := p.ICalParameters[name]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// parseTime reads DATE, floating DATE-TIME and UTC DATE-TIME values.
// Floating values use tzid when it names a known zone, loc otherwise.
func parseTime(v, tzid string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}
	if tzid != "" {
		if l, err := time.LoadLocation(tzid); err == nil {
			loc = l
		}
	}
	switch {
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}
