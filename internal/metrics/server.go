package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gaspardpetit/plannerbridge/internal/httpserve"
)

// Handler returns a /metrics handler for the gatherer, or the default
// registry when reg is nil.
func Handler(reg prometheus.Gatherer) http.Handler {
	if reg == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// StartMetricsServer exposes a Prometheus handler backed by the provided registry.
func StartMetricsServer(ctx context.Context, addr string, reg prometheus.Gatherer) (string, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(reg))
	return httpserve.ServeUntilContext(ctx, addr, mux)
}
