package server

import (
	"net/http"
	"strconv"
	"time"

	"tracketl/internal/metrics"
)

type logger interface {
	Info(msg string, args ...any)
}

// RequestLogger logs one line per request and feeds the request counters and
// duration histogram.
func RequestLogger(logger logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			elapsed := time.Since(start)
			status := strconv.Itoa(rec.status)
			metrics.IncCounter("tracketl_http_requests_total", 1, metrics.Labels{"status": status})
			metrics.ObserveHistogram("tracketl_http_request_duration_seconds", elapsed.Seconds(), metrics.Labels{"status": status})

			logger.Info("http_request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration_ms", elapsed.Milliseconds(),
			)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
