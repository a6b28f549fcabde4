// Package status serves run health, progress and metrics over HTTP while an
// import is running.
package status

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/starford/arkeimport/internal/pipeline"
)

// Source reports the current run state.
type Source interface {
	Status() pipeline.Status
}

// Options configures the router.
type Options struct {
	// Token, when non-empty, is required as a Bearer token on /status,
	// /metrics and /events. Health endpoints stay open.
	Token  string
	Events http.Handler
}

// NewRouter builds the status router.
func NewRouter(src Source, opts Options) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		phase := src.Status().Phase
		if phase == pipeline.PhaseFailed {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": string(phase)})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": string(phase)})
	})

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(opts.Token))
		r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, src.Status())
		})
		r.Handle("/metrics", promhttp.HandlerFor(NewRegistry(src), promhttp.HandlerOpts{}))
		if opts.Events != nil {
			r.Get("/events", opts.Events.ServeHTTP)
		}
	})
	return r
}

// AuthMiddleware requires "Authorization: Bearer <token>". An empty token
// disables the check.
func AuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != token {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}
