package refresh

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"habitcal/internal/capture"
	"habitcal/internal/ics"
	"habitcal/internal/model"
)

const feed = "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//test//EN\r\n" +
	"BEGIN:VEVENT\r\nUID:gym@example\r\nDTSTAMP:20261001T000000Z\r\n" +
	"DTSTART:20261001T070000Z\r\nDTEND:20261001T080000Z\r\nSUMMARY:Gym\r\n" +
	"RRULE:FREQ=WEEKLY;BYDAY=MO\r\nEND:VEVENT\r\nEND:VCALENDAR\r\n"

type sink struct {
	mu  sync.Mutex
	got map[string][]model.Habit
}

func (s *sink) ReplaceSource(source string, habits []model.Habit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.got == nil {
		s.got = map[string][]model.Habit{}
	}
	s.got[source] = habits
	return nil
}

func TestJob_Run(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/down.ics" {
			http.Error(w, "gone", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(feed))
	}))
	defer srv.Close()

	var captured capture.Options
	s := &sink{}
	job := &Job{
		Feeds: []ics.Subscription{
			{ID: "down", URL: srv.URL + "/down.ics"},
			{ID: "gym", URL: srv.URL + "/gym.ics"},
		},
		Fetcher:  ics.NewFetcher(t.TempDir(), srv.Client()),
		Sink:     s,
		Location: time.UTC,
		Capture: func(_ context.Context, opts capture.Options) error {
			captured = opts
			return nil
		},
		Preview: Preview{BaseURL: "http://127.0.0.1:8080", Path: "/tmp/preview.png", Width: 480},
		Now:     func() time.Time { return time.Date(2026, 10, 19, 23, 30, 0, 0, time.UTC) },
	}

	err := job.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "feed down") {
		t.Errorf("Run() error = %v, want feed down failure", err)
	}

	habits := s.got["gym"]
	if len(habits) != 1 || habits[0].ID != "gym@example" || habits[0].Schedule[0].Start != 420 {
		t.Errorf("imported = %+v", habits)
	}
	if _, ok := s.got["down"]; ok {
		t.Error("failing feed replaced its habits")
	}
	if captured.URL != "http://127.0.0.1:8080/day?date=2026-10-19" || captured.Width != 480 {
		t.Errorf("capture opts = %+v", captured)
	}
}

func TestJob_CaptureFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("no chromium")
	job := &Job{
		Capture: func(context.Context, capture.Options) error { return boom },
		Preview: Preview{Path: "/tmp/preview.png"},
	}
	if err := job.Run(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Run() = %v, want capture error", err)
	}
}

func TestSchedule_RejectsBadSpec(t *testing.T) {
	t.Parallel()

	if _, err := Schedule(context.Background(), "every tuesday-ish", time.UTC, &Job{}, false); err == nil {
		t.Error("Schedule() with bad spec = nil error")
	}

	stop, err := Schedule(context.Background(), "@every 1h", time.UTC, &Job{}, false)
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	stop()
}

// blockingFetcher holds every fetch until release is closed.
type blockingFetcher struct {
	mu      sync.Mutex
	calls   int
	started chan struct{}
	release chan struct{}
}

func (f *blockingFetcher) Fetch(ctx context.Context, sub ics.Subscription) (ics.FetchResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	f.started <- struct{}{}
	<-f.release
	return ics.FetchResult{Subscription: sub, Body: []byte(feed)}, nil
}

func TestGuarded_SkipsOverlappingRuns(t *testing.T) {
	t.Parallel()

	fetcher := &blockingFetcher{started: make(chan struct{}, 1), release: make(chan struct{})}
	job := &Job{
		Feeds:   []ics.Subscription{{ID: "gym", URL: "http://example.invalid/gym.ics"}},
		Fetcher: fetcher,
		Sink:    &sink{},
	}
	run := guarded(context.Background(), job)

	first := make(chan struct{})
	go func() {
		run.Run()
		close(first)
	}()
	<-fetcher.started

	second := make(chan struct{})
	go func() {
		run.Run()
		close(second)
	}()
	select {
	case <-second:
	case <-time.After(time.Second):
		t.Fatal("overlapping run waited instead of being skipped")
	}

	close(fetcher.release)
	<-first
	fetcher.mu.Lock()
	defer fetcher.mu.Unlock()
	if fetcher.calls != 1 {
		t.Errorf("fetches = %d, want 1", fetcher.calls)
	}
}
