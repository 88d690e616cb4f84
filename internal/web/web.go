package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"habitcal/internal/battery"
	"habitcal/internal/config"
	"habitcal/internal/drag"
	"habitcal/internal/haptics"
	"habitcal/internal/ics"
	appLog "habitcal/internal/log"
	"habitcal/internal/model"
	"habitcal/internal/recur"
	"habitcal/internal/store"
	"habitcal/internal/timeline"
)

// errBusy is returned when a gesture targets a day other than the one
// being dragged on.
var errBusy = errors.New("a drag is in progress on another day")

// Options wires a Server to its collaborators.
type Options struct {
	Config  *config.Config
	Store   *store.Store
	Ledger  *timeline.Ledger
	Haptics haptics.Driver
	// Battery backs /api/battery. Defaults to battery.None.
	Battery battery.Reader
	// Location defines calendar days. Defaults to time.Local.
	Location *time.Location
	// Now is the clock for gesture timestamps and "today". Defaults to
	// time.Now.
	Now func() time.Time
}

// Server exposes the day view, the habit API and the drag gesture API.
//
// One drag controller is live at a time. It is bound to a day and is
// replaced when a request targets another day while it is idle.
type Server struct {
	cfg     *config.Config
	store   *store.Store
	haptics haptics.Driver
	battery battery.Reader
	loc     *time.Location
	now     func() time.Time
	mux     *http.ServeMux

	mu     sync.Mutex
	ledger *timeline.Ledger
	mode   drag.Mode
	ctrl   *drag.Controller
	saved  int
}

// NewServer constructs a new Server.
func NewServer(opts Options) *Server {
	s := &Server{
		cfg:     opts.Config,
		store:   opts.Store,
		haptics: opts.Haptics,
		battery: opts.Battery,
		loc:     opts.Location,
		now:     opts.Now,
		ledger:  opts.Ledger,
		mux:     http.NewServeMux(),
	}
	if s.cfg == nil {
		s.cfg = config.DefaultConfig()
	}
	if s.battery == nil {
		s.battery = battery.None{}
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.ledger == nil {
		s.ledger = timeline.NewLedger()
	}
	s.saved = s.ledger.Len()
	s.mode = s.cfg.DragSettings().Mode
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials disable auth rather than locking everyone out.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="habitcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.mu.Lock()
	if s.ctrl != nil {
		s.ctrl.Terminate()
	}
	s.mu.Unlock()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("GET /api/day", s.handleDay)
	s.mux.HandleFunc("POST /api/habits", s.handleAddHabit)
	s.mux.HandleFunc("DELETE /api/habits/{id}", s.handleDeleteHabit)
	s.mux.HandleFunc("GET /api/export.ics", s.handleExport)
	s.mux.HandleFunc("GET /api/battery", s.handleBattery)

	s.mux.HandleFunc("POST /api/drag/press", s.handlePress)
	s.mux.HandleFunc("POST /api/drag/move", s.handleMove)
	s.mux.HandleFunc("POST /api/drag/poll", s.handlePoll)
	s.mux.HandleFunc("POST /api/drag/release", s.handleRelease)
	s.mux.HandleFunc("POST /api/drag/terminate", s.handleTerminate)
	s.mux.HandleFunc("POST /api/drag/mode", s.handleMode)

	s.mux.HandleFunc("GET /day", s.handleDayPage)
	s.mux.HandleFunc("GET /preview.png", s.handlePreview)
	s.mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/day", http.StatusFound)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleBattery reports the battery gauge.
func (s *Server) handleBattery(w http.ResponseWriter, r *http.Request) {
	st, err := s.battery.Read(r.Context())
	switch {
	case errors.Is(err, battery.ErrUnavailable):
		writeError(w, http.StatusNotFound, "no battery gauge")
	case err != nil:
		writeError(w, http.StatusServiceUnavailable, "failed to read battery")
	default:
		writeJSON(w, http.StatusOK, st)
	}
}

// handlePreview serves the last captured PNG of the day view.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	http.ServeFile(w, r, s.cfg.Preview.Path)
}

// dayStart parses a "date" value in s.loc, defaulting to today.
func (s *Server) dayStart(raw string) (time.Time, error) {
	if raw == "" {
		now := s.now().In(s.loc)
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc), nil
	}
	return time.ParseInLocation(model.DayLayout, raw, s.loc)
}

// occurrences expands the store for one day.
func (s *Server) occurrences(day time.Time) []model.Occurrence {
	dayKey := day.In(s.loc).Format(model.DayLayout)
	return recur.Day(s.store.Habits(), s.store.Overrides(dayKey), day, s.loc)
}

// controllerLocked returns the controller for dayKey, replacing an idle
// controller bound to another day. Callers hold s.mu.
func (s *Server) controllerLocked(day time.Time) (*drag.Controller, error) {
	dayKey := day.Format(model.DayLayout)
	if s.ctrl != nil && s.ctrl.Day() == dayKey {
		return s.ctrl, nil
	}
	if s.ctrl != nil && s.ctrl.State() != drag.StateIdle {
		return nil, errBusy
	}

	cfg := s.cfg.DragSettings()
	cfg.Mode = s.mode
	s.ctrl = drag.New(drag.Options{
		Day:    dayKey,
		Config: cfg,
		Source: drag.SourceFunc(func() []timeline.Event {
			return recur.Events(s.occurrences(day))
		}),
		Ledger:    s.ledger,
		Committer: s.store,
		Haptics:   s.haptics,
	})
	return s.ctrl, nil
}

// persistRanksLocked saves the ledger when it gained ids or force is set.
// Callers hold s.mu.
func (s *Server) persistRanksLocked(force bool) {
	n := s.ledger.Len()
	if !force && n == s.saved {
		return
	}
	if err := s.store.SaveRanks(s.ledger.Snapshot()); err != nil {
		appLog.Error("web: saving ranks failed", err)
		return
	}
	s.saved = n
}

// restingFrameLocked lays out a day without touching the live controller.
// Callers hold s.mu.
func (s *Server) restingFrameLocked(day time.Time) drag.Frame {
	events := recur.Events(s.occurrences(day))
	s.ledger.Register(events)
	return drag.Frame{
		State:  drag.StateIdle,
		Layout: timeline.Compute(events, timeline.Options{Ranks: s.ledger}),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}

// decodeJSON reads an optional JSON body. An empty body leaves v as is.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// handleExport returns one day's occurrences as an ICS file.
//
// GET /api/export.ics?date=2026-10-19
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	day, err := s.dayStart(r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date")
		return
	}
	body := ics.Export(s.occurrences(day), day, s.loc, s.now())

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="habitcal-`+day.Format(model.DayLayout)+`.ics"`)
	_, _ = w.Write([]byte(body))
}
