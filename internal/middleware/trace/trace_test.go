package trace

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	applog "lifeledger/internal/log"
)

func TestMiddlewareRequestID(t *testing.T) {
	const valid = "0b5c6f1e-7d1a-4c4e-9a53-3f0c2b1d9e11"

	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{name: "generated when absent", incoming: "", keep: false},
		{name: "valid uuid honoured", incoming: valid, keep: true},
		{name: "invalid value replaced", incoming: "not-a-uuid", keep: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMiddleware(nil, applog.Discard())

			var seen string
			h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = GetRequestID(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			if tt.incoming != "" {
				req.Header.Set(RequestIDHeader, tt.incoming)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			got := rec.Header().Get(RequestIDHeader)
			if _, err := uuid.Parse(got); err != nil {
				t.Fatalf("response id %q is not a uuid", got)
			}
			if seen != got {
				t.Errorf("context id %q != header id %q", seen, got)
			}
			if tt.keep && got != tt.incoming {
				t.Errorf("expected incoming id %q, got %q", tt.incoming, got)
			}
			if !tt.keep && got == tt.incoming {
				t.Errorf("id %q should have been replaced", got)
			}
		})
	}
}

func TestMiddlewareLogsStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := applog.New(applog.Config{Level: slog.LevelDebug, Format: "text", Output: &buf})
	m := NewMiddleware(func(*http.Request) string { return "10.0.0.7" }, logger)

	var inner string
	h := applog.Middleware(logger)(m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		applog.FromContext(r.Context()).InfoContext(r.Context(), "inside")
		inner = buf.String()
		w.WriteHeader(http.StatusTeapot)
	})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ledger/entries", nil))

	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d", rec.Code)
	}
	id := rec.Header().Get(RequestIDHeader)
	if !strings.Contains(inner, "request_id="+id) {
		t.Errorf("handler logger should carry the request id: %s", inner)
	}
	out := buf.String()
	for _, want := range []string{"status_code=418", "client_ip=10.0.0.7", "path=/ledger/entries"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q: %s", want, out)
		}
	}
}

func TestMiddlewareKeepsFlush(t *testing.T) {
	m := NewMiddleware(nil, applog.Discard())
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("chunk"))
		if err := http.NewResponseController(w).Flush(); err != nil {
			t.Errorf("Flush() error = %v", err)
		}
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/chatbot/send-message-stream", nil))
	if !rec.Flushed {
		t.Error("flush did not reach the underlying writer")
	}
}

func TestMetricsCount(t *testing.T) {
	m := NewMiddleware(nil, nil)
	h := m.Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	for i := 0; i < 3; i++ {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	}
	if got := m.GetMetrics().TotalRequests; got != 3 {
		t.Errorf("TotalRequests = %d, want 3", got)
	}
}

func TestGetRequestIDEmpty(t *testing.T) {
	if got := GetRequestID(httptest.NewRequest(http.MethodGet, "/", nil).Context()); got != "" {
		t.Errorf("expected empty id, got %q", got)
	}
}
