package web

import (
	_ "embed"
	"html/template"
	"net/http"

	appLog "habitcal/internal/log"
	"habitcal/internal/model"
)

//go:embed templates/day.html
var dayHTML string

// dayTemplate renders the timeline. One CSS pixel per minute times the
// configured scale, so the page matches the gesture API's pointer units.
var dayTemplate = template.Must(template.New("day").Funcs(template.FuncMap{
	"pct": func(f float64) float64 { return f * 100 },
	"px":  func(minutes int, scale float64) float64 { return float64(minutes) * scale },
	"sub": func(a, b int) int { return a - b },
	"hours": func() []hourMark {
		marks := make([]hourMark, 24)
		for i := range marks {
			marks[i] = hourMark{Minute: i * 60, Label: model.FormatMinute(i * 60)}
		}
		return marks
	},
}).Parse(dayHTML))

type hourMark struct {
	Minute int
	Label  string
}

type dayPage struct {
	frameView
	Scale    float64
	Title    string
	Previous string
	Next     string
}

// handleDayPage serves the HTML day view. It is also the capture target
// for the PNG preview.
//
// GET /day?date=2026-10-19
func (s *Server) handleDayPage(w http.ResponseWriter, r *http.Request) {
	day, err := s.dayStart(r.URL.Query().Get("date"))
	if err != nil {
		http.Error(w, "invalid date", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	v := s.dayViewLocked(day)
	s.mu.Unlock()

	page := dayPage{
		frameView: v,
		Scale:     s.cfg.Drag.PixelsPerMinute,
		Title:     day.Format("Monday, 2 January 2006"),
		Previous:  day.AddDate(0, 0, -1).Format(model.DayLayout),
		Next:      day.AddDate(0, 0, 1).Format(model.DayLayout),
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := dayTemplate.Execute(w, page); err != nil {
		appLog.Error("web: render day page failed", err, "day", v.Day)
	}
}
