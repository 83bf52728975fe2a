// Package httpserver exposes the dashboard over HTTP: JSON endpoints for the
// current view and user actions, a WebSocket stream of view changes, probes
// and the Prometheus scrape endpoint.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/quentinrf/aquaflow/internal/domain"
	"github.com/quentinrf/aquaflow/internal/ports"
)

// Dashboard is what the handlers need from the flow monitor
type Dashboard interface {
	View() ports.View
	Ready() bool
	SetPump(ctx context.Context, cmd domain.PumpCommand) error
	Reset(ctx context.Context) (domain.UsageSnapshot, error)
}

// RequestObserver records per-request metrics
type RequestObserver interface {
	ObserveHTTPRequest(route, method string, status int, dur time.Duration)
}

type Options struct {
	// Observer may be nil
	Observer RequestObserver
	// Metrics is served at /metrics when set
	Metrics http.Handler
	// ActionLimiter guards the pump and reset endpoints when set
	ActionLimiter *IPRateLimiter
	// OriginPatterns lists extra hosts allowed to open the stream
	OriginPatterns []string
	// TrustProxyHeaders takes the client address from X-Forwarded-For /
	// X-Real-IP. Only safe behind a proxy that overwrites them.
	TrustProxyHeaders bool
}

type Server struct {
	dash Dashboard
	hub  *Hub
	opts Options
}

// NewRouter builds the HTTP handler for the dashboard
func NewRouter(dash Dashboard, hub *Hub, opts Options) http.Handler {
	s := &Server{dash: dash, hub: hub, opts: opts}

	r := chi.NewRouter()
	if opts.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/dashboard", s.handleDashboard)
		r.Get("/usage", s.handleUsage)
		r.Get("/stream", s.handleStream)

		r.Group(func(r chi.Router) {
			if opts.ActionLimiter != nil {
				r.Use(opts.ActionLimiter.Limit)
			}
			r.Post("/pump", s.handlePump)
			r.Post("/usage/reset", s.handleReset)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	_ = writeJSON(w, http.StatusOK, statusJSON{Status: "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.dash.Ready() {
		_ = writeJSON(w, http.StatusServiceUnavailable, statusJSON{Status: "loading"})
		return
	}
	_ = writeJSON(w, http.StatusOK, statusJSON{Status: "ready"})
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	_ = writeJSON(w, http.StatusOK, s.dash.View())
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	_ = writeJSON(w, http.StatusOK, s.dash.View().Usage)
}

func (s *Server) handlePump(w http.ResponseWriter, r *http.Request) {
	var req pumpRequestJSON
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cmd, err := domain.ParsePumpCommand(req.State)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.dash.SetPump(r.Context(), cmd); err != nil {
		log.Error().Err(err).Str("command", string(cmd)).Msg("pump command failed")
		writeError(w, statusFor(err), "failed to send pump command")
		return
	}
	_ = writeJSON(w, http.StatusOK, pumpResponseJSON{Pump: string(cmd)})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	snap, err := s.dash.Reset(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("usage reset failed")
		writeError(w, statusFor(err), "failed to reset usage")
		return
	}
	_ = writeJSON(w, http.StatusOK, snap)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrStoreClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// instrument logs each request and feeds the observer
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		// 0 means nothing was written and net/http sent 200
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := routeLabel(r)
		dur := time.Since(start)

		if s.opts.Observer != nil {
			s.opts.Observer.ObserveHTTPRequest(route, r.Method, status, dur)
		}
		log.Debug().
			Str("method", r.Method).
			Str("route", route).
			Int("status", status).
			Dur("duration", dur).
			Msg("http request")
	})
}

// routeLabel keeps metric cardinality bounded by using the matched pattern
func routeLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}
