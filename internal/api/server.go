package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/ScripturePalpi/palpi/internal/model"
	"github.com/ScripturePalpi/palpi/internal/service"
)

const shutdownTimeout = 5 * time.Second

// Controller is the supervisor as seen by the HTTP boundary.
type Controller interface {
	Start(ctx context.Context) service.Result
	Stop(ctx context.Context) service.Result
	Restart(ctx context.Context) service.Result
	Status(ctx context.Context) service.StatusReport
}

type ControlResponse struct {
	Status  string `json:"status"`
	PID     *int   `json:"pid"`
	Message string `json:"message"`
}

type StopResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type StatusResponse struct {
	State     service.State `json:"state"`
	PID       *int          `json:"pid"`
	Uptime    *float64      `json:"uptime"`
	LastError string        `json:"last_error,omitempty"`
}

type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Server is the HTTP control boundary of the supervisor.
type Server struct {
	ctrl    Controller
	events  *Hub
	system  SystemInfo
	tools   map[string]string
	cfg     model.Server
	limiter *rate.Limiter
	started time.Time
}

type Option func(*Server)

// WithEvents exposes the transition stream of hub at /api/ai/events.
func WithEvents(hub *Hub) Option {
	return func(s *Server) { s.events = hub }
}

// WithSystemInfo replaces the gopsutil backed system probe.
func WithSystemInfo(info SystemInfo) Option {
	return func(s *Server) { s.system = info }
}

// WithTools lists external executables reported by /api/status/services.
func WithTools(tools map[string]string) Option {
	return func(s *Server) { s.tools = tools }
}

func NewServer(ctrl Controller, cfg model.Server, opts ...Option) *Server {
	s := &Server{
		ctrl:    ctrl,
		system:  HostInfo{},
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit.PerSecond), cfg.RateLimit.Burst),
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	control := func(h http.HandlerFunc) http.Handler {
		return s.rateLimit(h)
	}
	mux.Handle("POST /api/ai/start", control(s.handleStart))
	mux.Handle("POST /api/ai/stop", control(s.handleStop))
	mux.Handle("POST /api/ai/restart", control(s.handleRestart))
	mux.HandleFunc("GET /api/ai/status", s.handleStatus)
	if s.events != nil {
		mux.Handle("GET /api/ai/events", s.events)
	}
	mux.HandleFunc("GET /api/status/health", s.handleHealth)
	mux.HandleFunc("GET /api/status/system", s.handleSystem)
	mux.HandleFunc("GET /api/status/services", s.handleServices)

	var h http.Handler = mux
	h = authMiddleware(s.cfg.Token, []string{"/api/status/health"}, h)
	h = accessLog(h)
	h = requestID(h)
	return h
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Listen, err)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errc := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "control server listening", "addr", ln.Addr().String())
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if s.events != nil {
		s.events.Close()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down control server: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	res := s.ctrl.Start(r.Context())
	writeJSON(r.Context(), w, statusCode(res), ControlResponse{
		Status:  res.Status,
		PID:     res.PID,
		Message: res.Message,
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	res := s.ctrl.Stop(r.Context())
	writeJSON(r.Context(), w, statusCode(res), StopResponse{
		Status:  res.Status,
		Message: res.Message,
	})
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	res := s.ctrl.Restart(r.Context())
	writeJSON(r.Context(), w, statusCode(res), ControlResponse{
		Status:  res.Status,
		PID:     res.PID,
		Message: res.Message,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	rep := s.ctrl.Status(r.Context())
	writeJSON(r.Context(), w, http.StatusOK, StatusResponse{
		State:     rep.State,
		PID:       rep.PID,
		Uptime:    rep.Uptime,
		LastError: rep.LastError,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.started).Seconds(),
	})
}

func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	status, err := s.system.Collect(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "collecting system status", "error", err)
		writeError(r.Context(), w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, status)
}

func (s *Server) handleServices(w http.ResponseWriter, r *http.Request) {
	rep := s.ctrl.Status(r.Context())
	writeJSON(r.Context(), w, http.StatusOK, map[string]any{
		"server": "running",
		"ai":     rep.State,
		"audio":  lookTools(s.tools),
	})
}

// statusCode maps a supervisor result onto an HTTP status.
func statusCode(res service.Result) int {
	switch {
	case errors.Is(res.Err, service.ErrTransitionInFlight):
		return http.StatusConflict
	case errors.Is(res.Err, service.ErrStartupTimeout), errors.Is(res.Err, service.ErrSupervisorClosed):
		return http.StatusServiceUnavailable
	case res.Failed():
		return http.StatusInternalServerError
	default:
		return http.StatusOK
	}
}

func writeJSON(ctx context.Context, w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.DebugContext(ctx, "writing response", "error", err)
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, code int, msg string) {
	writeJSON(ctx, w, code, ErrorResponse{Status: service.StatusError, Message: msg})
}
