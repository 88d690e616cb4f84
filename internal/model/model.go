package model

import (
	"errors"
	"fmt"
	"time"
)

// DayLayout is the key format for days ("2006-01-02"). Day keys compare
// chronologically as plain strings.
const DayLayout = "2006-01-02"

// SourceLocal marks habits created in the app rather than imported.
const SourceLocal = "local"

// Slot is a time-of-day window in minutes from midnight, effective from a
// given day onward.
type Slot struct {
	From  string `yaml:"from" json:"from"`
	Start int    `yaml:"start" json:"start"`
	End   int    `yaml:"end" json:"end"`
}

// Validate checks 0 <= Start < End <= 1440 and a parseable From day.
func (s Slot) Validate() error {
	if s.Start < 0 || s.End > 24*60 || s.End <= s.Start {
		return fmt.Errorf("slot: invalid window %d-%d", s.Start, s.End)
	}
	if _, err := time.Parse(DayLayout, s.From); err != nil {
		return fmt.Errorf("slot: invalid from day %q: %w", s.From, err)
	}
	return nil
}

// Habit is a stored habit or task record before recurrence expansion.
type Habit struct {
	ID    string `yaml:"id" json:"id"`
	Title string `yaml:"title" json:"title"`

	// RRule is an RFC 5545 recurrence rule without DTSTART
	// (e.g. "FREQ=WEEKLY;BYDAY=MO,WE,FR"). Empty means a one-off on DTStart.
	RRule   string   `yaml:"rrule,omitempty" json:"rrule,omitempty"`
	DTStart string   `yaml:"dtstart" json:"dtstart"`
	ExDates []string `yaml:"exdates,omitempty" json:"exdates,omitempty"`

	// Schedule holds the time-of-day slots, ordered by From. The slot with
	// the latest From not after a day applies to that day.
	Schedule []Slot `yaml:"schedule" json:"schedule"`

	// Source is SourceLocal or the ID of the subscription it came from.
	Source    string    `yaml:"source" json:"source"`
	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
}

// SlotOn returns the slot in effect on dayKey.
func (h Habit) SlotOn(dayKey string) (Slot, bool) {
	var best Slot
	found := false
	for _, s := range h.Schedule {
		if s.From > dayKey {
			continue
		}
		if !found || s.From >= best.From {
			best = s
			found = true
		}
	}
	return best, found
}

// Validate checks the fields a habit needs to be expanded.
func (h Habit) Validate() error {
	if h.Title == "" {
		return errors.New("habit: title is empty")
	}
	if _, err := time.Parse(DayLayout, h.DTStart); err != nil {
		return fmt.Errorf("habit: invalid dtstart %q: %w", h.DTStart, err)
	}
	if len(h.Schedule) == 0 {
		return errors.New("habit: schedule is empty")
	}
	for _, s := range h.Schedule {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("habit %q: %w", h.Title, err)
		}
	}
	return nil
}

// Override moves one habit occurrence on one day.
type Override struct {
	HabitID string `yaml:"habit_id" json:"habit_id"`
	Day     string `yaml:"day" json:"day"`
	Start   int    `yaml:"start" json:"start"`
	End     int    `yaml:"end" json:"end"`
}

// Occurrence is a single concrete instance of a habit on one day, after
// recurrence expansion and overrides.
type Occurrence struct {
	HabitID string `json:"id"`
	Title   string `json:"title"`
	Source  string `json:"source"`
	Day     string `json:"day"`

	// StartMinute / EndMinute are minutes from local midnight.
	StartMinute int `json:"start"`
	EndMinute   int `json:"end"`

	// Overridden is true when a one-off override moved this occurrence.
	Overridden bool `json:"overridden"`

	// Order is the creation sequence of the habit.
	Order int64 `json:"-"`
}

// FormatMinute renders minutes from midnight as "HH:MM".
func FormatMinute(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}
