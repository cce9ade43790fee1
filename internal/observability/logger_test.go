package observability

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

func captureDefault(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestLoggerFromContextWithoutID(t *testing.T) {
	buf := captureDefault(t)
	LoggerFromContext(context.Background()).Info("hello")
	if strings.Contains(buf.String(), "request_id") {
		t.Fatalf("expected no request_id, got %s", buf.String())
	}
}

func TestLoggerFromContextExplicitID(t *testing.T) {
	buf := captureDefault(t)
	ctx := WithRequestID(context.Background(), "job-1")
	LoggerFromContext(ctx).Info("hello")
	if !strings.Contains(buf.String(), `"request_id":"job-1"`) {
		t.Fatalf("expected request_id job-1, got %s", buf.String())
	}
}

func TestLoggerFromContextChiRequestID(t *testing.T) {
	buf := captureDefault(t)
	var seen string
	handler := chiMiddleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
		LoggerFromContext(r.Context()).Info("in handler")
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if seen == "" {
		t.Fatal("expected chi request id in context")
	}
	if !strings.Contains(buf.String(), seen) {
		t.Fatalf("expected log line to carry %q, got %s", seen, buf.String())
	}
}
