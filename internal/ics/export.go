package ics

import (
	"time"

	ical "github.com/arran4/golang-ical"

	"habitcal/internal/model"
)

// Export renders one day's occurrences as a PUBLISH calendar. day is any
// instant on the day; minutes are wall-clock minutes in loc.
func Export(occs []model.Occurrence, day time.Time, loc *time.Location, stamp time.Time) string {
	if loc == nil {
		loc = time.Local
	}
	day = day.In(loc)
	at := func(minute int) time.Time {
		return time.Date(day.Year(), day.Month(), day.Day(), 0, minute, 0, 0, loc)
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId("-//habitcal//day export//EN")

	for _, o := range occs {
		ev := cal.AddEvent(o.HabitID + "@" + o.Day)
		ev.SetDtStampTime(stamp)
		ev.SetSummary(o.Title)
		ev.SetStartAt(at(o.StartMinute))
		ev.SetEndAt(at(o.EndMinute))
	}
	return cal.Serialize()
}
