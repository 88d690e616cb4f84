// Package store keeps habits, per-day overrides and the rank ledger in a
// single YAML file.
//
// Every mutation is applied to a copy of the document, written atomically
// (temp file + rename, 0600) and only then made visible, so a failed write
// leaves the store unchanged. The store is safe for concurrent use.
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	appLog "habitcal/internal/log"
	"habitcal/internal/model"
)

// ErrNotFound is returned when a habit ID is unknown.
var ErrNotFound = errors.New("store: habit not found")

// document is the on-disk layout.
type document struct {
	Habits    []model.Habit    `yaml:"habits"`
	Overrides []model.Override `yaml:"overrides"`
	Ranks     map[string]int   `yaml:"ranks"`
}

// Store is a YAML-file backed habit database.
type Store struct {
	mu   sync.RWMutex
	path string
	doc  document
	now  func() time.Time
}

// Open loads the store at path. A missing file yields an empty store; the
// file is created on the first write.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("store: path is empty")
	}
	s := &Store{path: path, now: time.Now}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			appLog.Info("store: starting empty", "path", path)
			s.doc.Ranks = map[string]int{}
			return s, nil
		}
		return nil, fmt.Errorf("store: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &s.doc); err != nil {
		return nil, fmt.Errorf("store: parse %s: %w", path, err)
	}
	if s.doc.Ranks == nil {
		s.doc.Ranks = map[string]int{}
	}
	appLog.Info("store: loaded", "path", path, "habits", len(s.doc.Habits), "overrides", len(s.doc.Overrides))
	return s, nil
}

// Habits returns every habit in creation order.
func (s *Store) Habits() []model.Habit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Habit, len(s.doc.Habits))
	for i, h := range s.doc.Habits {
		out[i] = cloneHabit(h)
	}
	return out
}

// Get returns the habit with the given ID.
func (s *Store) Get(id string) (model.Habit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.indexOf(id)
	if i < 0 {
		return model.Habit{}, ErrNotFound
	}
	return cloneHabit(s.doc.Habits[i]), nil
}

// Add validates and stores h, filling in ID, Source and CreatedAt when
// they are empty.
func (s *Store) Add(h model.Habit) (model.Habit, error) {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	if h.Source == "" {
		h.Source = model.SourceLocal
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = s.now().UTC()
	}
	if err := h.Validate(); err != nil {
		return model.Habit{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexOf(h.ID) >= 0 {
		return model.Habit{}, fmt.Errorf("store: habit %q already exists", h.ID)
	}
	next := s.doc.clone()
	next.Habits = append(next.Habits, cloneHabit(h))
	if err := s.commitLocked(next); err != nil {
		return model.Habit{}, err
	}
	return h, nil
}

// Delete removes a habit and its overrides. Its rank entry is kept.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return ErrNotFound
	}
	next := s.doc.clone()
	next.Habits = slices.Delete(next.Habits, i, i+1)
	next.Overrides = slices.DeleteFunc(next.Overrides, func(o model.Override) bool {
		return o.HabitID == id
	})
	return s.commitLocked(next)
}

// Overrides returns the overrides recorded for dayKey.
func (s *Store) Overrides(dayKey string) []model.Override {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Override
	for _, o := range s.doc.Overrides {
		if o.Day == dayKey {
			out = append(out, o)
		}
	}
	return out
}

// SetOverride moves habit id on dayKey only.
func (s *Store) SetOverride(id, dayKey string, start, end int) error {
	if err := (model.Slot{From: dayKey, Start: start, End: end}).Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexOf(id) < 0 {
		return ErrNotFound
	}
	next := s.doc.clone()
	o := model.Override{HabitID: id, Day: dayKey, Start: start, End: end}
	replaced := false
	for i := range next.Overrides {
		if next.Overrides[i].HabitID == id && next.Overrides[i].Day == dayKey {
			next.Overrides[i] = o
			replaced = true
		}
	}
	if !replaced {
		next.Overrides = append(next.Overrides, o)
	}
	if err := s.commitLocked(next); err != nil {
		return err
	}
	appLog.Info("store: override set", "id", id, "day", dayKey, "start", model.FormatMinute(start), "end", model.FormatMinute(end))
	return nil
}

// UpdateScheduleFrom moves habit id on dayKey and every later day. Slots
// starting on or after dayKey are replaced, and a one-off override on
// dayKey itself is dropped since the new slot now covers it.
func (s *Store) UpdateScheduleFrom(id, dayKey string, start, end int) error {
	slot := model.Slot{From: dayKey, Start: start, End: end}
	if err := slot.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return ErrNotFound
	}
	next := s.doc.clone()
	h := &next.Habits[i]
	h.Schedule = slices.DeleteFunc(h.Schedule, func(sl model.Slot) bool { return sl.From >= dayKey })
	h.Schedule = append(h.Schedule, slot)
	next.Overrides = slices.DeleteFunc(next.Overrides, func(o model.Override) bool {
		return o.HabitID == id && o.Day == dayKey
	})
	if err := s.commitLocked(next); err != nil {
		return err
	}
	appLog.Info("store: schedule updated", "id", id, "from", dayKey, "start", model.FormatMinute(start), "end", model.FormatMinute(end))
	return nil
}

// ReplaceSource swaps every habit imported from source for habits. A
// habit whose ID survives the swap keeps its CreatedAt and its overrides.
func (s *Store) ReplaceSource(source string, habits []model.Habit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	created := make(map[string]time.Time)
	for _, h := range s.doc.Habits {
		if h.Source == source {
			created[h.ID] = h.CreatedAt
		}
	}

	next := s.doc.clone()
	kept := slices.DeleteFunc(next.Habits, func(h model.Habit) bool { return h.Source == source })
	incoming := make(map[string]bool, len(habits))
	for _, h := range habits {
		h.Source = source
		if t, ok := created[h.ID]; ok {
			h.CreatedAt = t
		} else if h.CreatedAt.IsZero() {
			h.CreatedAt = s.now().UTC()
		}
		if err := h.Validate(); err != nil {
			appLog.Warn("store: skipping invalid imported habit", "source", source, "id", h.ID, "err", err)
			continue
		}
		if incoming[h.ID] || slices.ContainsFunc(kept, func(k model.Habit) bool { return k.ID == h.ID }) {
			appLog.Warn("store: skipping duplicate imported habit", "source", source, "id", h.ID)
			continue
		}
		incoming[h.ID] = true
		kept = append(kept, cloneHabit(h))
	}
	next.Habits = kept

	next.Overrides = slices.DeleteFunc(next.Overrides, func(o model.Override) bool {
		_, wasSource := created[o.HabitID]
		return wasSource && !incoming[o.HabitID]
	})
	return s.commitLocked(next)
}

// Ranks returns a copy of the persisted rank ledger.
func (s *Store) Ranks() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.doc.Ranks)
}

// SaveRanks persists the rank ledger.
func (s *Store) SaveRanks(ranks map[string]int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.doc.clone()
	next.Ranks = maps.Clone(ranks)
	if next.Ranks == nil {
		next.Ranks = map[string]int{}
	}
	return s.commitLocked(next)
}

func (s *Store) indexOf(id string) int {
	return slices.IndexFunc(s.doc.Habits, func(h model.Habit) bool { return h.ID == id })
}

// commitLocked writes next and makes it the live document once it is on
// disk. Callers hold s.mu.
func (s *Store) commitLocked(next document) error {
	if err := s.write(&next); err != nil {
		return err
	}
	s.doc = next
	return nil
}

// write stores doc atomically.
func (s *Store) write(doc *document) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("store: mkdir %s: %w", dir, err)
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("store: marshal: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".habitcal-store-*.tmp")
	if err != nil {
		return fmt.Errorf("store: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("store: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("store: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: close temp: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("store: chmod temp: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("store: rename into place: %w", err)
	}
	return nil
}

// clone deep-copies the document so mutations never alias the live one.
func (d document) clone() document {
	out := document{
		Habits:    make([]model.Habit, len(d.Habits)),
		Overrides: slices.Clone(d.Overrides),
		Ranks:     maps.Clone(d.Ranks),
	}
	for i, h := range d.Habits {
		out.Habits[i] = cloneHabit(h)
	}
	return out
}

func cloneHabit(h model.Habit) model.Habit {
	h.ExDates = slices.Clone(h.ExDates)
	h.Schedule = slices.Clone(h.Schedule)
	return h
}
