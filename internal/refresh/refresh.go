// Package refresh re-imports subscribed ICS feeds into the habit store and
// re-captures the preview, on demand or on a cron schedule.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"habitcal/internal/capture"
	"habitcal/internal/ics"
	appLog "habitcal/internal/log"
	"habitcal/internal/model"
)

// Fetcher downloads one feed.
type Fetcher interface {
	Fetch(ctx context.Context, sub ics.Subscription) (ics.FetchResult, error)
}

// Sink receives the habits of one feed.
type Sink interface {
	ReplaceSource(source string, habits []model.Habit) error
}

// Preview describes where the day view is captured from and to.
type Preview struct {
	// BaseURL is the web server root, e.g. "http://127.0.0.1:8080".
	BaseURL string
	Path    string
	Width   int
	Height  int
}

// Job is one refresh cycle.
type Job struct {
	Feeds    []ics.Subscription
	Fetcher  Fetcher
	Sink     Sink
	Location *time.Location

	// Capture is nil when previews are disabled.
	Capture capture.Func
	Preview Preview

	Now func() time.Time
}

// Run imports every feed, then captures today's preview. A failing feed
// keeps its previously imported habits and does not stop the others.
func (j *Job) Run(ctx context.Context) error {
	loc := j.Location
	if loc == nil {
		loc = time.Local
	}
	now := time.Now
	if j.Now != nil {
		now = j.Now
	}

	var errs []error
	for _, sub := range j.Feeds {
		if err := j.importFeed(ctx, sub, loc); err != nil {
			appLog.Error("refresh: feed failed", err, "id", sub.ID)
			errs = append(errs, fmt.Errorf("feed %s: %w", sub.ID, err))
		}
	}

	if j.Capture != nil && j.Preview.Path != "" {
		day := now().In(loc).Format(model.DayLayout)
		opts := capture.Options{
			URL:        j.Preview.BaseURL + "/day?date=" + day,
			OutputPath: j.Preview.Path,
			Width:      j.Preview.Width,
			Height:     j.Preview.Height,
		}
		if err := j.Capture(ctx, opts); err != nil {
			appLog.Error("refresh: preview capture failed", err, "path", opts.OutputPath)
			errs = append(errs, err)
		} else {
			appLog.Info("refresh: preview captured", "day", day, "path", opts.OutputPath)
		}
	}
	return errors.Join(errs...)
}

func (j *Job) importFeed(ctx context.Context, sub ics.Subscription, loc *time.Location) error {
	res, err := j.Fetcher.Fetch(ctx, sub)
	if err != nil {
		return err
	}
	habits, err := ics.ParseHabits(res.Body, loc)
	if err != nil {
		return err
	}
	if err := j.Sink.ReplaceSource(sub.ID, habits); err != nil {
		return err
	}
	appLog.Info("refresh: feed imported", "id", sub.ID, "habits", len(habits), "from_cache", res.FromCache)
	return nil
}

// cronLogger routes cron's own messages to the app log.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...any) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...any) {
	appLog.Error("cron: "+msg, err, kv...)
}

// guarded wraps job so a call that arrives while the previous one is still
// running is skipped. Panics are recovered and logged.
func guarded(ctx context.Context, job *Job) cron.Job {
	return cron.NewChain(
		cron.Recover(cronLogger{}),
		cron.SkipIfStillRunning(cronLogger{}),
	).Then(cron.FuncJob(func() {
		_ = job.Run(ctx)
	}))
}

// Schedule runs job on spec (standard 5-field cron, or descriptors like
// "@every 15m") in loc until the returned stop func is called. With runNow
// the first run starts immediately. Runs never overlap, including the
// immediate one; a tick that arrives while a run is busy is skipped.
func Schedule(ctx context.Context, spec string, loc *time.Location, job *Job, runNow bool) (stop func(), err error) {
	if loc == nil {
		loc = time.Local
	}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cronLogger{}),
	)
	run := guarded(ctx, job)
	if _, err := c.AddJob(spec, run); err != nil {
		return nil, fmt.Errorf("refresh: schedule %q: %w", spec, err)
	}
	c.Start()
	appLog.Info("refresh: scheduled", "spec", spec, "feeds", len(job.Feeds), "run_now", runNow)
	if runNow {
		go run.Run()
	}

	return func() {
		<-c.Stop().Done()
	}, nil
}
