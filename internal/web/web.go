package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"assignbot/internal/config"
	appLog "assignbot/internal/log"
	"assignbot/internal/model"
	"assignbot/internal/pipeline"
)

// StatusSource exposes the last sync cycle.
type StatusSource interface {
	LastReport() *pipeline.Report
}

// RecordLister lists posted assignments.
type RecordLister interface {
	List(ctx context.Context, limit int) ([]model.PublicationRecord, error)
}

// CacheInvalidator drops the feed snapshot.
type CacheInvalidator interface {
	Invalidate(ctx context.Context) error
}

// Trigger starts a sync cycle unless one is running.
type Trigger interface {
	Trigger(ctx context.Context) bool
}

// Server provides the status API.
type Server struct {
	cfg     *config.Config
	status  StatusSource
	records RecordLister
	cache   CacheInvalidator
	trigger Trigger
	started time.Time
	router  chi.Router
}

// Option configures optional server dependencies.
type Option func(*Server)

// WithTrigger enables POST /api/sync.
func WithTrigger(t Trigger) Option {
	return func(s *Server) {
		s.trigger = t
	}
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, status StatusSource, records RecordLister, cache CacheInvalidator, opts ...Option) *Server {
	s := &Server{
		cfg:     cfg,
		status:  status,
		records: records,
		cache:   cache,
		started: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerRoutes()
	return s
}

// Handler returns the router, wrapped in basic auth when configured.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.router)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// An empty username or password disables auth.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
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
			w.Header().Set("WWW-Authenticate", `Basic realm="assignbot", charset="UTF-8"`)
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

// HTTPServer returns an http.Server bound to cfg.Listen. The caller owns
// ListenAndServe and Shutdown.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
	}
}

func (s *Server) registerRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/assignments", s.handleAssignments)
		r.Post("/cache/invalidate", s.handleInvalidate)
		r.Post("/sync", s.handleSync)
	})
	s.router = r
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			appLog.Debug("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// statusResponse is the JSON response shape for /api/status.
type statusResponse struct {
	StartedAt   time.Time        `json:"started_at"`
	Refresh     string           `json:"refresh"`
	HorizonDays int              `json:"horizon_days"`
	Platform    string           `json:"platform"`
	Courses     []string         `json:"courses"`
	LastCycle   *pipeline.Report `json:"last_cycle"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		StartedAt: s.started,
		Courses:   []string{},
	}
	if s.cfg != nil {
		resp.Refresh = s.cfg.RefreshCron
		resp.HorizonDays = s.cfg.HorizonDays
		resp.Platform = s.cfg.Messaging.Platform
		for _, c := range s.cfg.Courses {
			resp.Courses = append(resp.Courses, c.Key)
		}
	}
	if s.status != nil {
		resp.LastCycle = s.status.LastReport()
	}
	writeJSON(w, http.StatusOK, resp)
}

// assignmentsResponse is the JSON response shape for /api/assignments.
type assignmentsResponse struct {
	Assignments []model.PublicationRecord `json:"assignments"`
}

// handleAssignments lists posted assignments, newest first.
//
// GET /api/assignments?limit=50
func (s *Server) handleAssignments(w http.ResponseWriter, r *http.Request) {
	limit := parseIntDefault(r.URL.Query().Get("limit"), 50)
	if limit <= 0 {
		limit = 50
	}

	recs, err := s.records.List(r.Context(), limit)
	if err != nil {
		appLog.Error("api assignments: list failed", err)
		writeError(w, http.StatusInternalServerError, "failed to list assignments")
		return
	}
	if recs == nil {
		recs = []model.PublicationRecord{}
	}
	writeJSON(w, http.StatusOK, assignmentsResponse{Assignments: recs})
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	if err := s.cache.Invalidate(r.Context()); err != nil {
		appLog.Error("api cache invalidate failed", err)
		writeError(w, http.StatusInternalServerError, "failed to invalidate cache")
		return
	}
	appLog.Info("feed snapshot invalidated via API")
	w.WriteHeader(http.StatusNoContent)
}

// handleSync runs a cycle now. The cycle outlives the request.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if s.trigger == nil {
		writeError(w, http.StatusNotImplemented, "manual sync not available")
		return
	}
	if !s.trigger.Trigger(context.WithoutCancel(r.Context())) {
		writeError(w, http.StatusConflict, "sync cycle already running")
		return
	}
	writeJSON(w, http.StatusOK, s.status.LastReport())
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
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
