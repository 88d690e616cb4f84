package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"habitcal/internal/model"
)

const sample = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//EN
BEGIN:VEVENT
UID:standup@example
DTSTAMP:20261001T000000Z
CREATED:20260901T120000Z
DTSTART:20261001T090000Z
DTEND:20261001T091500Z
SUMMARY:Standup
RRULE:FREQ=WEEKLY;BYDAY=MO,TU,WE,TH,FR
EXDATE:20261016T090000Z
END:VEVENT
BEGIN:VEVENT
UID:standup@example
DTSTAMP:20261001T000000Z
RECURRENCE-ID:20261019T090000Z
DTSTART:20261019T100000Z
DTEND:20261019T101500Z
SUMMARY:Standup (moved)
END:VEVENT
BEGIN:VEVENT
UID:holiday@example
DTSTAMP:20261001T000000Z
DTSTART;VALUE=DATE:20261020
DTEND;VALUE=DATE:20261021
SUMMARY:Holiday
END:VEVENT
BEGIN:VEVENT
UID:late@example
DTSTAMP:20261001T000000Z
DTSTART:20261019T233000Z
DTEND:20261020T010000Z
SUMMARY:Late
END:VEVENT
END:VCALENDAR
`

func crlf(s string) []byte { return []byte(strings.ReplaceAll(s, "\n", "\r\n")) }

func TestParseHabits(t *testing.T) {
	t.Parallel()

	habits, err := ParseHabits(crlf(sample), time.UTC)
	if err != nil {
		t.Fatalf("ParseHabits() error = %v", err)
	}
	ids := make([]string, len(habits))
	for i, h := range habits {
		ids[i] = h.ID
	}
	want := []string{"standup@example", "late@example", "standup@example/2026-10-19"}
	if !slices.Equal(ids, want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}

	standup := habits[0]
	if standup.RRule != "FREQ=WEEKLY;BYDAY=MO,TU,WE,TH,FR" || standup.DTStart != "2026-10-01" {
		t.Errorf("standup = %+v", standup)
	}
	if !slices.Equal(standup.ExDates, []string{"2026-10-16", "2026-10-19"}) {
		t.Errorf("standup exdates = %v", standup.ExDates)
	}
	if s := standup.Schedule[0]; s.Start != 540 || s.End != 555 {
		t.Errorf("standup slot = %+v, want 09:00-09:15", s)
	}
	if !standup.CreatedAt.Equal(time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("standup created = %v", standup.CreatedAt)
	}

	if s := habits[1].Schedule[0]; s.Start != 1410 || s.End != 1440 {
		t.Errorf("late slot = %+v, want cut at midnight", s)
	}

	moved := habits[2]
	if moved.RRule != "" || moved.DTStart != "2026-10-19" || moved.Schedule[0].Start != 600 || moved.Title != "Standup (moved)" {
		t.Errorf("moved instance = %+v", moved)
	}
	for _, h := range habits {
		if err := h.Validate(); err != nil {
			t.Errorf("%s: Validate() = %v", h.ID, err)
		}
	}
}

func TestParseHabits_Errors(t *testing.T) {
	t.Parallel()

	if _, err := ParseHabits(nil, time.UTC); err == nil {
		t.Error("ParseHabits(nil) = nil error")
	}
}

func TestExport_ParsesBack(t *testing.T) {
	t.Parallel()

	occs := []model.Occurrence{
		{HabitID: "run", Title: "Run", Day: "2026-10-19", StartMinute: 420, EndMinute: 480},
		{HabitID: "read", Title: "Read", Day: "2026-10-19", StartMinute: 1230, EndMinute: 1290},
	}
	day := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	out := Export(occs, day, time.UTC, day)

	if !strings.Contains(out, "METHOD:PUBLISH") {
		t.Errorf("export lacks METHOD:PUBLISH:\n%s", out)
	}
	habits, err := ParseHabits([]byte(out), time.UTC)
	if err != nil {
		t.Fatalf("ParseHabits(export) error = %v", err)
	}
	if len(habits) != 2 {
		t.Fatalf("parsed %d habits, want 2", len(habits))
	}
	if h := habits[1]; h.ID != "read@2026-10-19" || h.Title != "Read" || h.Schedule[0].Start != 1230 || h.Schedule[0].End != 1290 {
		t.Errorf("read = %+v", h)
	}
}

func TestFetcher_ConditionalAndFallback(t *testing.T) {
	t.Parallel()

	var (
		failing atomic.Bool
		hits    atomic.Int32
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if failing.Load() {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write(crlf(sample))
	}))
	defer srv.Close()

	sub := Subscription{ID: "work", URL: srv.URL + "/cal.ics?token=secret"}
	f := NewFetcher(t.TempDir(), srv.Client())
	ctx := context.Background()

	first, err := f.Fetch(ctx, sub)
	if err != nil || first.FromCache || len(first.Body) == 0 {
		t.Fatalf("first Fetch() = %+v, %v", first.FromCache, err)
	}

	second, err := f.Fetch(ctx, sub)
	if err != nil || !second.FromCache || string(second.Body) != string(first.Body) {
		t.Fatalf("second Fetch() = %+v, %v; want cached body", second.FromCache, err)
	}

	failing.Store(true)
	third, err := f.Fetch(ctx, sub)
	if err != nil || !third.FromCache {
		t.Fatalf("Fetch() during outage = %+v, %v; want cached body", third.FromCache, err)
	}

	empty := NewFetcher(t.TempDir(), srv.Client())
	if _, err := empty.Fetch(ctx, sub); err == nil {
		t.Error("Fetch() with no cache during outage = nil error")
	}
	if hits.Load() != 4 {
		t.Errorf("server hits = %d, want 4", hits.Load())
	}
}

func TestRedactURL(t *testing.T) {
	t.Parallel()

	if got := redactURL("https://cal.example.com/private/abc.ics?token=x"); got != "https://cal.example.com/...(redacted)" {
		t.Errorf("redactURL = %q", got)
	}
	if got := redactURL("not a url"); got != "ics://...(redacted)" {
		t.Errorf("redactURL(garbage) = %q", got)
	}
}
