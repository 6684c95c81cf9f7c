// Package api provides the HTTP server for Anuvruddhi: the progression REST
// API, Prometheus metrics, health and the WebSocket toast feed.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/anuvruddhi/anuvruddhi/internal/app/engagement"
	"github.com/anuvruddhi/anuvruddhi/internal/domain"
	"github.com/anuvruddhi/anuvruddhi/internal/health"
	"github.com/anuvruddhi/anuvruddhi/internal/logger"
)

// retryMessage is shown to users when a write could not be persisted.
const retryMessage = "couldn't save your progress, please try again"

// Server is the Anuvruddhi HTTP API server.
type Server struct {
	store    domain.ProgressStore
	acc      *engagement.Accumulator
	notifier *engagement.Notifier
	log      *logger.Logger

	records        RecordStore          // certificates + inbox (nil if not set)
	toasts         *ToastHub            // WebSocket toast feed (nil if not set)
	watchers       *engagement.Watchers // per-user watchers backing the toast feed
	health         *health.Checker
	corsOrigins    []string
	metricsEnabled bool
}

// NewServer creates a new API server.
func NewServer(store domain.ProgressStore, acc *engagement.Accumulator, notifier *engagement.Notifier, log *logger.Logger) *Server {
	return &Server{
		store:       store,
		acc:         acc,
		notifier:    notifier,
		log:         log.With("service", "API"),
		corsOrigins: []string{"*"},
	}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetRecords sets the certificate and inbox store.
func (s *Server) SetRecords(r RecordStore) { s.records = r }

// SetToasts enables the WebSocket toast feed.
func (s *Server) SetToasts(hub *ToastHub, watchers *engagement.Watchers) {
	s.toasts = hub
	s.watchers = watchers
}

// SetHealth sets the health checker reported on /health.
func (s *Server) SetHealth(c *health.Checker) { s.health = c }

// SetCORSOrigins restricts cross-origin requests. "*" allows any origin.
func (s *Server) SetCORSOrigins(origins []string) { s.corsOrigins = origins }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.corsMiddleware)

	r.Get("/health", s.handleHealth)

	// Prometheus metrics endpoint
	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			r.Get("/progression", s.handleProgression)
			r.Route("/users/{userID}", func(r chi.Router) {
				r.Get("/progress", s.handleProgress)
				r.Post("/completions", s.handleComplete)
				r.Get("/tasks", s.handleListTasks)
				r.Put("/tasks/{taskID}", s.handlePutTask)
				r.Get("/milestones", s.handleMilestones)

				if s.records != nil {
					r.Get("/certificates", s.handleCertificates)
					r.Get("/notifications", s.handleNotifications)
					r.Post("/notifications/{id}/shown", s.handleNotificationShown)
					r.Get("/profile", s.handleGetProfile)
					r.Put("/profile", s.handlePutProfile)
				}
			})
		})

		// WebSocket upgrades hijack the connection; no timeout middleware.
		if s.toasts != nil && s.watchers != nil {
			r.Get("/users/{userID}/toasts", s.handleToasts)
		}
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	status, code := "ok", http.StatusOK
	if !s.health.IsHealthy() {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"status": status,
		"checks": s.health.Statuses(),
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeDomainError maps engine errors onto HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrUserNotFound),
		errors.Is(err, domain.ErrTaskNotFound),
		errors.Is(err, domain.ErrNotificationNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrStoreUnavailable):
		s.log.Warn("store unavailable", "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "error", err)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: retryMessage, Retryable: true})
	default:
		s.log.Error("request failed", "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) originAllowed(origin string) bool {
	return origin == "" || slices.Contains(s.corsOrigins, "*") || slices.Contains(s.corsOrigins, origin)
}

// corsMiddleware adds CORS headers for the configured origins.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case slices.Contains(s.corsOrigins, "*"):
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && s.originAllowed(origin):
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
