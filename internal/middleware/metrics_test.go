package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type mockMetricsRecorder struct {
	records []metricRecord
}

type metricRecord struct {
	method   string
	endpoint string
	status   string
	duration time.Duration
}

func (m *mockMetricsRecorder) record(method, endpoint, status string, duration time.Duration) {
	m.records = append(m.records, metricRecord{
		method:   method,
		endpoint: endpoint,
		status:   status,
		duration: duration,
	})
}

func (m *mockMetricsRecorder) reset() {
	m.records = []metricRecord{}
}

var mockRecorder = &mockMetricsRecorder{}

func setupMock() func() {
	original := recordHTTPRequest
	recordHTTPRequest = func(method, endpoint, status string, duration time.Duration) {
		mockRecorder.record(method, endpoint, status, duration)
	}
	return func() { recordHTTPRequest = original }
}

func TestResponseWriter_WriteHeader(t *testing.T) {
	tests := []struct {
		name           string
		statusCode     int
		expectedStatus int
	}{
		{
			name:           "sets status code 200",
			statusCode:     http.StatusOK,
			expectedStatus: http.StatusOK,
		},
		{
			name:           "sets status code 404",
			statusCode:     http.StatusNotFound,
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "sets status code 500",
			statusCode:     http.StatusInternalServerError,
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			rw := &responseWriter{
				ResponseWriter: rec,
				statusCode:     http.StatusOK,
			}

			rw.WriteHeader(tt.statusCode)

			if rw.statusCode != tt.expectedStatus {
				t.Errorf("expected status code %d, got %d", tt.expectedStatus, rw.statusCode)
			}

			if rec.Code != tt.expectedStatus {
				t.Errorf("expected underlying response writer status %d, got %d", tt.expectedStatus, rec.Code)
			}
		})
	}
}

func TestResponseWriter_DefaultStatusCode(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{
		ResponseWriter: rec,
		statusCode:     http.StatusOK,
	}

	if rw.statusCode != http.StatusOK {
		t.Errorf("expected default status code %d, got %d", http.StatusOK, rw.statusCode)
	}
}

func TestNormalizeEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		expected string
	}{
		{
			name:     "root path",
			path:     "/",
			expected: "/",
		},
		{
			name:     "overview",
			path:     "/overview",
			expected: "/overview",
		},
		{
			name:     "overview with trailing slash",
			path:     "/overview/",
			expected: "/overview",
		},
		{
			name:     "worker with trailing slash",
			path:     "/workers/host:1:default/",
			expected: "/workers/:id",
		},
		{
			name:     "overview poll",
			path:     "/overview.poll",
			expected: "/overview.poll",
		},
		{
			name:     "worker by id",
			path:     "/workers/web1:42:default,mail",
			expected: "/workers/:id",
		},
		{
			name:     "worker poll",
			path:     "/workers/web1:42:default.poll",
			expected: "/workers/:id.poll",
		},
		{
			name:     "queue by name",
			path:     "/queues/mail",
			expected: "/queues/:id",
		},
		{
			name:     "remove queue",
			path:     "/queues/mail/remove",
			expected: "/queues/:id/remove",
		},
		{
			name:     "failed by queue",
			path:     "/failed/mail",
			expected: "/failed/:queue",
		},
		{
			name:     "failed by exception",
			path:     "/failed/mail/Net%3A%3AReadTimeout",
			expected: "/failed/:queue/:exception",
		},
		{
			name:     "requeue all",
			path:     "/failed/requeue/all",
			expected: "/failed/requeue/all",
		},
		{
			name:     "requeue one",
			path:     "/failed/requeue/12",
			expected: "/failed/requeue/:index",
		},
		{
			name:     "remove one",
			path:     "/failed/remove/3",
			expected: "/failed/remove/:index",
		},
		{
			name:     "clear all",
			path:     "/failed/clear",
			expected: "/failed/clear",
		},
		{
			name:     "clear queue",
			path:     "/failed/clear/mail",
			expected: "/failed/clear/:queue",
		},
		{
			name:     "clear exception",
			path:     "/failed/clear/mail/RuntimeError",
			expected: "/failed/clear/:queue/:exception",
		},
		{
			name:     "stats page",
			path:     "/stats/redis",
			expected: "/stats/redis",
		},
		{
			name:     "key detail",
			path:     "/stats/keys/queue:mail",
			expected: "/stats/keys/:key",
		},
		{
			name:     "metrics endpoint",
			path:     "/metrics",
			expected: "/metrics",
		},
		{
			name:     "unknown endpoint",
			path:     "/api/unknown/path",
			expected: "/api/unknown/path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := normalizeEndpoint(tt.path)
			if result != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestMetricsMiddleware(t *testing.T) {
	cleanup := setupMock()
	defer cleanup()

	tests := []struct {
		name               string
		method             string
		path               string
		handlerStatusCode  int
		expectedMethod     string
		expectedEndpoint   string
		expectedStatusCode string
	}{
		{
			name:               "GET queue with 200",
			method:             http.MethodGet,
			path:               "/queues/mail",
			handlerStatusCode:  http.StatusOK,
			expectedMethod:     http.MethodGet,
			expectedEndpoint:   "/queues/:id",
			expectedStatusCode: "200",
		},
		{
			name:               "POST requeue with 303",
			method:             http.MethodPost,
			path:               "/failed/requeue/4",
			handlerStatusCode:  http.StatusSeeOther,
			expectedMethod:     http.MethodPost,
			expectedEndpoint:   "/failed/requeue/:index",
			expectedStatusCode: "303",
		},
		{
			name:               "POST remove with 404",
			method:             http.MethodPost,
			path:               "/failed/remove/999",
			handlerStatusCode:  http.StatusNotFound,
			expectedMethod:     http.MethodPost,
			expectedEndpoint:   "/failed/remove/:index",
			expectedStatusCode: "404",
		},
		{
			name:               "GET worker poll with 200",
			method:             http.MethodGet,
			path:               "/workers/web1:1:default.poll",
			handlerStatusCode:  http.StatusOK,
			expectedMethod:     http.MethodGet,
			expectedEndpoint:   "/workers/:id.poll",
			expectedStatusCode: "200",
		},
		{
			name:               "redis unavailable",
			method:             http.MethodGet,
			path:               "/failed/mail",
			handlerStatusCode:  http.StatusServiceUnavailable,
			expectedMethod:     http.MethodGet,
			expectedEndpoint:   "/failed/:queue",
			expectedStatusCode: "503",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockRecorder.reset()

			testHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.handlerStatusCode)
				_, _ = w.Write([]byte("test response"))
			})

			handler := MetricsMiddleware(testHandler)
			req := httptest.NewRequest(tt.method, tt.path, nil)
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			if rec.Code != tt.handlerStatusCode {
				t.Errorf("expected status code %d, got %d", tt.handlerStatusCode, rec.Code)
			}

			if len(mockRecorder.records) != 1 {
				t.Fatalf("expected 1 metric recorded, got %d", len(mockRecorder.records))
			}

			m := mockRecorder.records[0]
			if m.method != tt.expectedMethod {
				t.Errorf("expected method %q, got %q", tt.expectedMethod, m.method)
			}
			if m.endpoint != tt.expectedEndpoint {
				t.Errorf("expected endpoint %q, got %q", tt.expectedEndpoint, m.endpoint)
			}
			if m.status != tt.expectedStatusCode {
				t.Errorf("expected status %q, got %q", tt.expectedStatusCode, m.status)
			}
			if m.duration <= 0 {
				t.Error("expected duration > 0")
			}
		})
	}
}

func TestMetricsMiddleware_CallsNextHandler(t *testing.T) {
	cleanup := setupMock()
	defer cleanup()

	mockRecorder.reset()
	handlerCalled := false

	testHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		w.WriteHeader(http.StatusOK)
	})

	handler := MetricsMiddleware(testHandler)
	req := httptest.NewRequest(http.MethodGet, "/overview", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if !handlerCalled {
		t.Error("expected next handler to be called")
	}
}

func TestMetricsMiddleware_RecordsDuration(t *testing.T) {
	cleanup := setupMock()
	defer cleanup()

	mockRecorder.reset()
	delay := 50 * time.Millisecond

	testHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(delay)
		w.WriteHeader(http.StatusOK)
	})

	handler := MetricsMiddleware(testHandler)
	req := httptest.NewRequest(http.MethodGet, "/overview", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if len(mockRecorder.records) != 1 {
		t.Fatalf("expected 1 metric recorded, got %d", len(mockRecorder.records))
	}

	recorded := mockRecorder.records[0]
	if recorded.duration < delay {
		t.Errorf("expected duration >= %v, got %v", delay, recorded.duration)
	}
}
