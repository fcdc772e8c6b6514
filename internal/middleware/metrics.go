// Package middleware provides HTTP middleware for metrics, request IDs,
// logging and panic recovery.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nadmax/resqview/internal/metrics"
)

var recordHTTPRequest = metrics.RecordHTTPRequest

type responseWriter struct {
	http.ResponseWriter
	statusCode int
	bytes      int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(p []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(p)
	rw.bytes += n
	return n, err
}

func wrap(w http.ResponseWriter) *responseWriter {
	if rw, ok := w.(*responseWriter); ok {
		return rw
	}
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := wrap(w)

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		endpoint := normalizeEndpoint(r.URL.Path)
		status := strconv.Itoa(wrapped.statusCode)

		recordHTTPRequest(r.Method, endpoint, status, duration)
	})
}

// normalizeEndpoint replaces queue names, worker IDs, exceptions, keys and
// failure indexes with placeholders to keep label cardinality bounded.
func normalizeEndpoint(path string) string {
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 2 {
		return path
	}

	switch parts[0] {
	case "workers":
		if len(parts) == 2 {
			if strings.HasSuffix(parts[1], ".poll") {
				return "/workers/:id.poll"
			}
			return "/workers/:id"
		}
	case "queues":
		switch {
		case len(parts) == 2:
			return "/queues/:id"
		case len(parts) == 3 && parts[2] == "remove":
			return "/queues/:id/remove"
		}
	case "failed":
		return normalizeFailed(parts[1:])
	case "stats":
		if len(parts) == 3 && parts[1] == "keys" {
			return "/stats/keys/:key"
		}
	}
	return path
}

func normalizeFailed(rest []string) string {
	switch rest[0] {
	case "requeue", "remove":
		if len(rest) == 2 {
			if rest[0] == "requeue" && rest[1] == "all" {
				return "/failed/requeue/all"
			}
			return "/failed/" + rest[0] + "/:index"
		}
	case "clear":
		switch len(rest) {
		case 1:
			return "/failed/clear"
		case 2:
			return "/failed/clear/:queue"
		case 3:
			return "/failed/clear/:queue/:exception"
		}
	}

	switch len(rest) {
	case 1:
		return "/failed/:queue"
	case 2:
		return "/failed/:queue/:exception"
	}
	return "/failed/" + strings.Join(rest, "/")
}
