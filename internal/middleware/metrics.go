// Package middleware instruments the HTTP surface: every route is wrapped so
// request counts and latency land in the shared metric families, labeled by
// the logical endpoint rather than the raw path.
package middleware

import (
	"net/http"
	"strconv"
	"time"

	"pedalsync/internal/metrics"
)

// statusRecorder captures the status code the wrapped handler writes. A
// handler that writes a body without an explicit WriteHeader counts as 200.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	if sr.status == 0 {
		sr.status = code
		sr.ResponseWriter.WriteHeader(code)
	}
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.WriteHeader(http.StatusOK)
	}
	return sr.ResponseWriter.Write(b)
}

// WrapHandler instruments a handler with request count and latency metrics
// under the given endpoint label.
func WrapHandler(endpoint string, handler http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rec := &statusRecorder{ResponseWriter: w}
		handler(rec, r)

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		label := strconv.Itoa(status)
		metrics.HTTPRequestsTotal.WithLabelValues(endpoint, label).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(endpoint, label).Observe(time.Since(start).Seconds())
	})
}
