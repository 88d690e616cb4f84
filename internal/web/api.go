package web

import (
	"cmp"
	"errors"
	"net/http"
	"slices"
	"time"

	"habitcal/internal/drag"
	appLog "habitcal/internal/log"
	"habitcal/internal/model"
	"habitcal/internal/store"
)

// eventView is one positioned event of a day.
type eventView struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Source     string `json:"source"`
	Start      int    `json:"start"`
	End        int    `json:"end"`
	StartLabel string `json:"start_label"`
	EndLabel   string `json:"end_label"`
	Overridden bool   `json:"overridden"`
	Dragging   bool   `json:"dragging"`

	Column       int     `json:"column"`
	TotalColumns int     `json:"total_columns"`
	Span         int     `json:"span"`
	Left         float64 `json:"left"`
	Width        float64 `json:"width"`
}

// frameView is the JSON shape of every day and gesture response.
type frameView struct {
	Day     string      `json:"day"`
	State   string      `json:"state"`
	Outcome string      `json:"outcome"`
	EventID string      `json:"event_id,omitempty"`
	Locked  bool        `json:"locked"`
	Mode    string      `json:"mode"`
	Events  []eventView `json:"events"`
}

// buildView joins occurrences with a frame's layout. The dragged event is
// shown at its candidate time.
func buildView(day time.Time, occs []model.Occurrence, f drag.Frame, mode drag.Mode) frameView {
	v := frameView{
		Day:     day.Format(model.DayLayout),
		State:   f.State.String(),
		Outcome: f.Outcome.String(),
		EventID: f.EventID,
		Locked:  f.Locked,
		Mode:    mode.String(),
		Events:  make([]eventView, 0, len(occs)),
	}
	for _, o := range occs {
		ev := eventView{
			ID:         o.HabitID,
			Title:      o.Title,
			Source:     o.Source,
			Start:      o.StartMinute,
			End:        o.EndMinute,
			Overridden: o.Overridden,
		}
		if c := f.Candidate; c != nil && c.ID == o.HabitID {
			ev.Start, ev.End = c.StartMinute, c.EndMinute
			ev.Dragging = true
		}
		ev.StartLabel = model.FormatMinute(ev.Start)
		ev.EndLabel = model.FormatMinute(ev.End)
		if info, ok := f.Layout[o.HabitID]; ok {
			ev.Column = info.Column
			ev.TotalColumns = info.TotalColumns
			ev.Span = info.Span
			ev.Left = info.Left()
			ev.Width = info.Width()
		}
		v.Events = append(v.Events, ev)
	}
	slices.SortFunc(v.Events, func(a, b eventView) int {
		return cmp.Or(cmp.Compare(a.Start, b.Start), cmp.Compare(a.Column, b.Column), cmp.Compare(a.ID, b.ID))
	})
	return v
}

// dayViewLocked renders day through the live controller when it is
// bound to that day. Callers hold s.mu.
func (s *Server) dayViewLocked(day time.Time) frameView {
	var f drag.Frame
	if s.ctrl != nil && s.ctrl.Day() == day.Format(model.DayLayout) {
		f = s.ctrl.Frame()
	} else {
		f = s.restingFrameLocked(day)
	}
	s.persistRanksLocked(false)
	return buildView(day, s.occurrences(day), f, s.mode)
}

// handleDay returns the laid-out events of a day.
//
// GET /api/day?date=2026-10-19
func (s *Server) handleDay(w http.ResponseWriter, r *http.Request) {
	day, err := s.dayStart(r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date")
		return
	}

	s.mu.Lock()
	v := s.dayViewLocked(day)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, v)
}

type addHabitRequest struct {
	Title   string   `json:"title"`
	RRule   string   `json:"rrule"`
	DTStart string   `json:"dtstart"`
	ExDates []string `json:"exdates"`
	Start   int      `json:"start"`
	End     int      `json:"end"`
}

// handleAddHabit creates a local habit.
//
// POST /api/habits {"title":"stretch","rrule":"FREQ=DAILY","start":420,"end":435}
func (s *Server) handleAddHabit(w http.ResponseWriter, r *http.Request) {
	var req addHabitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.DTStart == "" {
		today, _ := s.dayStart("")
		req.DTStart = today.Format(model.DayLayout)
	}

	h, err := s.store.Add(model.Habit{
		Title:    req.Title,
		RRule:    req.RRule,
		DTStart:  req.DTStart,
		ExDates:  req.ExDates,
		Schedule: []model.Slot{{From: req.DTStart, Start: req.Start, End: req.End}},
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	appLog.Info("web: habit added", "id", h.ID, "title", h.Title)
	writeJSON(w, http.StatusCreated, h)
}

// handleDeleteHabit removes a habit.
//
// DELETE /api/habits/{id}
func (s *Server) handleDeleteHabit(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.Delete(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "habit not found")
			return
		}
		appLog.Error("web: delete failed", err, "id", id)
		writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	appLog.Info("web: habit deleted", "id", id)
	w.WriteHeader(http.StatusNoContent)
}

type pressRequest struct {
	Date string  `json:"date"`
	ID   string  `json:"id"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

type moveRequest struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type modeRequest struct {
	Mode string `json:"mode"`
}

// handlePress starts a gesture on an event.
//
// POST /api/drag/press {"date":"2026-10-19","id":"...","x":0,"y":420}
func (s *Server) handlePress(w http.ResponseWriter, r *http.Request) {
	var req pressRequest
	if err := decodeJSON(w, r, &req); err != nil || req.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	day, err := s.dayStart(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	ctrl, err := s.controllerLocked(day)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	f := ctrl.Press(req.ID, drag.Point{X: req.X, Y: req.Y}, s.now())
	writeJSON(w, http.StatusOK, buildView(day, s.occurrences(day), f, s.mode))
}

// gesture runs fn against the live controller and writes its frame.
func (s *Server) gesture(w http.ResponseWriter, fn func(*drag.Controller, time.Time) (drag.Frame, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctrl == nil {
		writeError(w, http.StatusConflict, drag.ErrNotDragging.Error())
		return
	}
	day, err := time.ParseInLocation(model.DayLayout, s.ctrl.Day(), s.loc)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "controller day is invalid")
		return
	}

	f, err := fn(s.ctrl, s.now())
	switch {
	case errors.Is(err, drag.ErrNotDragging):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "commit failed: "+err.Error())
		return
	}
	if f.Outcome == drag.OutcomeCommitted {
		s.persistRanksLocked(true)
	}
	writeJSON(w, http.StatusOK, buildView(day, s.occurrences(day), f, s.mode))
}

// handleMove feeds a pointer sample.
//
// POST /api/drag/move {"x":0,"y":480}
func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	s.gesture(w, func(c *drag.Controller, now time.Time) (drag.Frame, error) {
		return c.Move(drag.Point{X: req.X, Y: req.Y}, now), nil
	})
}

// handlePoll advances the long-press timer without motion.
func (s *Server) handlePoll(w http.ResponseWriter, _ *http.Request) {
	s.gesture(w, func(c *drag.Controller, now time.Time) (drag.Frame, error) {
		return c.Poll(now), nil
	})
}

// handleRelease ends the gesture and commits a moved drag.
func (s *Server) handleRelease(w http.ResponseWriter, _ *http.Request) {
	s.gesture(w, func(c *drag.Controller, now time.Time) (drag.Frame, error) {
		return c.Release(now)
	})
}

// handleTerminate aborts the gesture.
func (s *Server) handleTerminate(w http.ResponseWriter, _ *http.Request) {
	s.gesture(w, func(c *drag.Controller, _ time.Time) (drag.Frame, error) {
		return c.Terminate(), nil
	})
}

// handleMode selects the commit mode for the next release.
//
// POST /api/drag/mode {"mode":"forward"}
func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	m := drag.ParseMode(req.Mode)
	if m.String() != req.Mode {
		writeError(w, http.StatusBadRequest, `mode must be "single_day" or "forward"`)
		return
	}

	s.mu.Lock()
	s.mode = m
	if s.ctrl != nil {
		s.ctrl.SetMode(m)
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, modeRequest{Mode: m.String()})
}
