package status

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/gaspardpetit/plannerbridge/internal/httpserve"
	"github.com/gaspardpetit/plannerbridge/internal/secret"
	"github.com/gaspardpetit/plannerbridge/internal/sessionstate"
)

// VersionInfo describes the running build.
type VersionInfo struct {
	Version   string `json:"version"`
	BuildSHA  string `json:"build_sha"`
	BuildDate string `json:"build_date"`
}

// Status is the body of GET /status.
type Status struct {
	sessionstate.State
	APIKey string `json:"api_key,omitempty"`
}

// Options configure the status router.
type Options struct {
	Store          sessionstate.Store
	Version        VersionInfo
	APIKey         string
	AllowedOrigins []string
	// Metrics, when set, is mounted at /metrics.
	Metrics http.Handler
}

// NewRouter returns the status HTTP handler.
func NewRouter(opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.AllowedOrigins,
			AllowedMethods: []string{"GET", "OPTIONS"},
			AllowedHeaders: []string{"*"},
		}))
	}
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, Status{State: opts.Store.Load(), APIKey: secret.Mask(opts.APIKey)})
	})
	r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, opts.Version)
	})
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		st := opts.Store.Load()
		code := http.StatusOK
		if !st.Connected() {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]string{"status": st.Status})
	})
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}
	return r
}

// StartStatusServer serves the status router on addr until ctx ends and
// returns the bound address.
func StartStatusServer(ctx context.Context, addr string, opts Options) (string, error) {
	return httpserve.ServeUntilContext(ctx, addr, NewRouter(opts))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
