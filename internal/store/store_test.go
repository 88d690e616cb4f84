package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"habitcal/internal/model"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "db", "habits.yaml"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	s.now = func() time.Time { return time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC) }
	return s
}

func habit(title string, start, end int) model.Habit {
	return model.Habit{
		Title:    title,
		RRule:    "FREQ=DAILY",
		DTStart:  "2026-10-01",
		Schedule: []model.Slot{{From: "2026-10-01", Start: start, End: end}},
	}
}

func TestStore_AddPersists(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	h, err := s.Add(habit("run", 420, 480))
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if h.ID == "" || h.Source != model.SourceLocal || h.CreatedAt.IsZero() {
		t.Fatalf("Add() did not fill defaults: %+v", h)
	}

	info, err := os.Stat(s.path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("file mode = %v, want 0600", perm)
	}

	reopened, err := Open(s.path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := reopened.Get(h.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Title != "run" || len(got.Schedule) != 1 {
		t.Errorf("reopened habit = %+v", got)
	}
}

func TestStore_AddRejectsInvalid(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	if _, err := s.Add(model.Habit{Title: "x"}); err == nil {
		t.Fatal("Add() of invalid habit = nil error")
	}
	if len(s.Habits()) != 0 {
		t.Error("invalid habit was stored")
	}
}

func TestStore_DeleteDropsOverridesKeepsRanks(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	h, _ := s.Add(habit("read", 600, 660))
	if err := s.SetOverride(h.ID, "2026-10-19", 630, 690); err != nil {
		t.Fatalf("SetOverride() error = %v", err)
	}
	if err := s.SaveRanks(map[string]int{h.ID: 1}); err != nil {
		t.Fatalf("SaveRanks() error = %v", err)
	}

	if err := s.Delete(h.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if len(s.Overrides("2026-10-19")) != 0 {
		t.Error("override survived delete")
	}
	if _, ok := s.Ranks()[h.ID]; !ok {
		t.Error("rank dropped on delete")
	}
	if err := s.Delete(h.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete() = %v, want ErrNotFound", err)
	}
}

func TestStore_SetOverrideReplaces(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	h, _ := s.Add(habit("read", 600, 660))
	_ = s.SetOverride(h.ID, "2026-10-19", 630, 690)
	_ = s.SetOverride(h.ID, "2026-10-19", 700, 760)

	got := s.Overrides("2026-10-19")
	if len(got) != 1 || got[0].Start != 700 {
		t.Fatalf("Overrides() = %+v, want one at 700", got)
	}
	if err := s.SetOverride("nope", "2026-10-19", 0, 15); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetOverride(unknown) = %v, want ErrNotFound", err)
	}
	if err := s.SetOverride(h.ID, "2026-10-19", 1430, 1445); err == nil {
		t.Error("SetOverride past midnight = nil error")
	}
}

func TestStore_UpdateScheduleFrom(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	h := habit("walk", 540, 600)
	h.Schedule = append(h.Schedule, model.Slot{From: "2026-11-01", Start: 480, End: 540})
	h, _ = s.Add(h)
	_ = s.SetOverride(h.ID, "2026-10-19", 700, 760)

	if err := s.UpdateScheduleFrom(h.ID, "2026-10-19", 1020, 1080); err != nil {
		t.Fatalf("UpdateScheduleFrom() error = %v", err)
	}

	got, _ := s.Get(h.ID)
	if len(got.Schedule) != 2 {
		t.Fatalf("schedule = %+v, want 2 slots", got.Schedule)
	}
	for day, want := range map[string]int{"2026-10-18": 540, "2026-10-19": 1020, "2026-12-01": 1020} {
		slot, ok := got.SlotOn(day)
		if !ok || slot.Start != want {
			t.Errorf("SlotOn(%s) = %+v, want start %d", day, slot, want)
		}
	}
	if len(s.Overrides("2026-10-19")) != 0 {
		t.Error("same-day override not dropped")
	}
}

func TestStore_ReplaceSource(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	local, _ := s.Add(habit("local", 0, 30))

	first := habit("standup", 540, 555)
	first.ID = "uid-1@example"
	old := habit("retro", 600, 660)
	old.ID = "uid-2@example"
	if err := s.ReplaceSource("work", []model.Habit{first, old}); err != nil {
		t.Fatalf("ReplaceSource() error = %v", err)
	}
	_ = s.SetOverride("uid-1@example", "2026-10-19", 560, 575)
	_ = s.SetOverride("uid-2@example", "2026-10-19", 700, 760)
	created, _ := s.Get("uid-1@example")

	s.now = func() time.Time { return time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC) }
	first.Title = "daily standup"
	if err := s.ReplaceSource("work", []model.Habit{first}); err != nil {
		t.Fatalf("ReplaceSource() error = %v", err)
	}

	got, err := s.Get("uid-1@example")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Title != "daily standup" || !got.CreatedAt.Equal(created.CreatedAt) || got.Source != "work" {
		t.Errorf("replaced habit = %+v", got)
	}
	if _, err := s.Get("uid-2@example"); !errors.Is(err, ErrNotFound) {
		t.Errorf("removed habit still present: %v", err)
	}
	if _, err := s.Get(local.ID); err != nil {
		t.Errorf("local habit lost: %v", err)
	}

	ovs := s.Overrides("2026-10-19")
	if len(ovs) != 1 || ovs[0].HabitID != "uid-1@example" {
		t.Errorf("overrides = %+v, want only uid-1", ovs)
	}
}

func TestStore_RanksRoundTrip(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	in := map[string]int{"a": 1, "b": 2}
	if err := s.SaveRanks(in); err != nil {
		t.Fatalf("SaveRanks() error = %v", err)
	}
	in["a"] = 99

	reopened, err := Open(s.path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got := reopened.Ranks()
	if got["a"] != 1 || got["b"] != 2 {
		t.Errorf("Ranks() = %v", got)
	}
}

func TestOpen_Errors(t *testing.T) {
	t.Parallel()

	if _, err := Open(""); err == nil {
		t.Error("Open(\"\") = nil error")
	}
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("habits: [::"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); err == nil {
		t.Error("Open(corrupt) = nil error")
	}
}

func TestStore_FailedWriteLeavesStateUnchanged(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	h, err := s.Add(habit("read", 540, 600))
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := s.SetOverride(h.ID, "2026-10-18", 480, 540); err != nil {
		t.Fatalf("SetOverride() error = %v", err)
	}
	if err := s.SaveRanks(map[string]int{h.ID: 0}); err != nil {
		t.Fatalf("SaveRanks() error = %v", err)
	}

	// Turn the data directory into a regular file so every write fails.
	dir := filepath.Dir(s.path)
	if err := os.RemoveAll(dir); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dir, nil, 0o600); err != nil {
		t.Fatal(err)
	}

	if err := s.SetOverride(h.ID, "2026-10-19", 300, 360); err == nil {
		t.Error("SetOverride() on a broken directory = nil error")
	}
	if err := s.UpdateScheduleFrom(h.ID, "2026-10-18", 300, 360); err == nil {
		t.Error("UpdateScheduleFrom() on a broken directory = nil error")
	}
	if _, err := s.Add(habit("walk", 600, 630)); err == nil {
		t.Error("Add() on a broken directory = nil error")
	}
	if err := s.Delete(h.ID); err == nil {
		t.Error("Delete() on a broken directory = nil error")
	}
	if err := s.ReplaceSource("feed", []model.Habit{habit("swim", 700, 760)}); err == nil {
		t.Error("ReplaceSource() on a broken directory = nil error")
	}
	if err := s.SaveRanks(map[string]int{h.ID: 5}); err == nil {
		t.Error("SaveRanks() on a broken directory = nil error")
	}

	if got := s.Overrides("2026-10-19"); len(got) != 0 {
		t.Errorf("Overrides(2026-10-19) = %+v, want none", got)
	}
	if got := s.Overrides("2026-10-18"); len(got) != 1 || got[0].Start != 480 {
		t.Errorf("Overrides(2026-10-18) = %+v, want the original 08:00 override", got)
	}
	habits := s.Habits()
	if len(habits) != 1 || habits[0].ID != h.ID {
		t.Fatalf("Habits() = %+v, want only %s", habits, h.ID)
	}
	if sch := habits[0].Schedule; len(sch) != 1 || sch[0].Start != 540 {
		t.Errorf("Schedule = %+v, want the original 09:00 slot", sch)
	}
	if r := s.Ranks(); r[h.ID] != 0 || len(r) != 1 {
		t.Errorf("Ranks() = %v, want {%s: 0}", r, h.ID)
	}
}
