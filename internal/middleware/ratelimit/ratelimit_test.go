package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestLimiter(t *testing.T, perMinute int) (*Limiter, *time.Time) {
	t.Helper()
	rl := NewLimiter(Config{RequestsPerMinute: perMinute})
	t.Cleanup(rl.Stop)

	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	return rl, &now
}

func TestLimiterBurstAndRefill(t *testing.T) {
	rl, now := newTestLimiter(t, 2)

	if !rl.Allow("1.2.3.4") || !rl.Allow("1.2.3.4") {
		t.Fatal("a full bucket should allow a burst of two")
	}
	ok, wait := rl.Take("1.2.3.4")
	if ok {
		t.Fatal("third request should be limited")
	}
	if wait != 30*time.Second {
		t.Errorf("wait = %v, want 30s", wait)
	}
	if !rl.Allow("5.6.7.8") {
		t.Error("other clients have their own bucket")
	}

	*now = now.Add(30 * time.Second)
	if !rl.Allow("1.2.3.4") {
		t.Error("one token should have refilled after 30s")
	}
	if rl.Allow("1.2.3.4") {
		t.Error("only one token should have refilled")
	}
}

func TestLimiterSteadyTrafficStillLimited(t *testing.T) {
	rl, now := newTestLimiter(t, 1)
	start := *now

	steps := []struct {
		at   time.Duration
		want bool
	}{
		{0, true},
		{30 * time.Second, false},
		{59 * time.Second, false},
		{61 * time.Second, true},
		{62 * time.Second, false},
	}
	for _, st := range steps {
		*now = start.Add(st.at)
		if got := rl.Allow("c"); got != st.want {
			t.Errorf("at %v: Allow = %v, want %v", st.at, got, st.want)
		}
	}
}

func TestCleanupForgetsIdleClients(t *testing.T) {
	rl, now := newTestLimiter(t, 5)
	rl.Allow("a")
	rl.Allow("b")
	if rl.ActiveClients() != 2 {
		t.Fatalf("ActiveClients = %d, want 2", rl.ActiveClients())
	}

	*now = now.Add(2 * time.Minute)
	rl.Allow("b")
	rl.cleanupStaleEntries()
	if rl.ActiveClients() != 1 {
		t.Errorf("idle client should be removed, have %d", rl.ActiveClients())
	}
}

func TestNewLimiterDefaults(t *testing.T) {
	rl := NewLimiter(Config{})
	defer rl.Stop()

	if rl.capacity != 60 || rl.cleanupInterval != 5*time.Minute {
		t.Errorf("unexpected defaults: %v, %v", rl.capacity, rl.cleanupInterval)
	}
	rl.Stop()
}

func TestMiddlewareLimitsPostOnly(t *testing.T) {
	rl, _ := newTestLimiter(t, 1)

	ip := func(*http.Request) string { return "10.0.0.1" }
	h := rl.Middleware(ip, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		method     string
		want       int
		retryAfter string
	}{
		{http.MethodPost, http.StatusNoContent, ""},
		{http.MethodPost, http.StatusTooManyRequests, "60"},
		{http.MethodGet, http.StatusNoContent, ""},
		{http.MethodGet, http.StatusNoContent, ""},
	}
	for i, tt := range tests {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(tt.method, "/", nil))
		if rr.Code != tt.want {
			t.Errorf("request %d: status %d, want %d", i, rr.Code, tt.want)
		}
		if got := rr.Header().Get("Retry-After"); got != tt.retryAfter {
			t.Errorf("request %d: Retry-After %q, want %q", i, got, tt.retryAfter)
		}
	}
}

func TestMiddlewareCustomOnLimit(t *testing.T) {
	rl, _ := newTestLimiter(t, 1)

	called := false
	h := rl.Middleware(func(*http.Request) string { return "x" }, func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusServiceUnavailable)
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	var last *httptest.ResponseRecorder
	for i := 0; i < 2; i++ {
		last = httptest.NewRecorder()
		h.ServeHTTP(last, httptest.NewRequest(http.MethodPost, "/", nil))
	}
	if !called || last.Code != http.StatusServiceUnavailable {
		t.Errorf("onLimit should handle the rejected request, called=%v code=%d", called, last.Code)
	}
	if last.Header().Get("Retry-After") == "" {
		t.Error("Retry-After should be set before onLimit runs")
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	tests := []struct {
		wait time.Duration
		want int
	}{
		{0, 1},
		{200 * time.Millisecond, 1},
		{30 * time.Second, 30},
		{30*time.Second + time.Millisecond, 31},
	}
	for _, tt := range tests {
		if got := retryAfterSeconds(tt.wait); got != tt.want {
			t.Errorf("retryAfterSeconds(%v) = %d, want %d", tt.wait, got, tt.want)
		}
	}
}
