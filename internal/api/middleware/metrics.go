package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/eldtechnologies/chatrelay/internal/metrics"
)

// Metrics returns middleware that records Prometheus metrics.
// The wrapped writer keeps http.Hijacker so websocket upgrades pass through.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			// Hijacked or nothing written.
			status = http.StatusOK
			if isWebsocketUpgrade(r) {
				status = http.StatusSwitchingProtocols
			}
		}

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)

		metrics.HTTPRequestsTotal.WithLabelValues(
			r.Method, path, strconv.Itoa(status),
		).Inc()

		metrics.HTTPRequestDuration.WithLabelValues(
			r.Method, path,
		).Observe(duration)
	})
}

// normalizePath normalizes paths to avoid high cardinality in metrics.
// Anything outside the known API surface collapses into one static label.
func normalizePath(path string) string {
	switch path {
	case "/health", "/metrics", "/ws", "/api", "/api/stats", "/api/messages", "/api/poll":
		return path
	}
	if strings.HasPrefix(path, "/api/") {
		return "/api/:unknown"
	}
	return "/static"
}

func isWebsocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}
