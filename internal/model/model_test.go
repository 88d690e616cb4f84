package model

import "testing"

func TestHabit_SlotOn(t *testing.T) {
	t.Parallel()

	h := Habit{Schedule: []Slot{
		{From: "2026-01-01", Start: 540, End: 600},
		{From: "2026-03-01", Start: 420, End: 480},
		{From: "2026-02-01", Start: 600, End: 660},
	}}

	tests := []struct {
		day    string
		want   int
		wantOK bool
	}{
		{day: "2025-12-31", wantOK: false},
		{day: "2026-01-15", want: 540, wantOK: true},
		{day: "2026-02-01", want: 600, wantOK: true},
		{day: "2026-10-19", want: 420, wantOK: true},
	}
	for _, tt := range tests {
		got, ok := h.SlotOn(tt.day)
		if ok != tt.wantOK || (ok && got.Start != tt.want) {
			t.Errorf("SlotOn(%s) = %+v, %v; want start %d, %v", tt.day, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestHabit_Validate(t *testing.T) {
	t.Parallel()

	good := Habit{
		Title:    "stretch",
		DTStart:  "2026-10-01",
		Schedule: []Slot{{From: "2026-10-01", Start: 420, End: 435}},
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	tests := map[string]func(h *Habit){
		"empty title":   func(h *Habit) { h.Title = "" },
		"bad dtstart":   func(h *Habit) { h.DTStart = "10/01/2026" },
		"no schedule":   func(h *Habit) { h.Schedule = nil },
		"end before":    func(h *Habit) { h.Schedule = []Slot{{From: "2026-10-01", Start: 600, End: 540}} },
		"past midnight": func(h *Habit) { h.Schedule = []Slot{{From: "2026-10-01", Start: 1400, End: 1500}} },
	}
	for name, mutate := range tests {
		h := good
		h.Schedule = append([]Slot(nil), good.Schedule...)
		mutate(&h)
		if err := h.Validate(); err == nil {
			t.Errorf("%s: Validate() = nil, want error", name)
		}
	}
}

func TestFormatMinute(t *testing.T) {
	t.Parallel()

	if got := FormatMinute(9*60 + 5); got != "09:05" {
		t.Errorf("FormatMinute = %q, want 09:05", got)
	}
}
