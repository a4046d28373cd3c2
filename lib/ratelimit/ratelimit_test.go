package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/uvensys/miaoeyes/lib/config"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(rl *config.RateLimit) (*Limiter, *clock) {
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	l := New("test", func() config.RateLimit { return *rl })
	l.now = clk.Now
	return l, clk
}

func TestConsume(t *testing.T) {
	rl := &config.RateLimit{Enabled: true, MaxRequests: 3, WindowMs: 1000}
	l, clk := newTestLimiter(rl)

	for i := range 3 {
		d := l.Consume("1.2.3.4")
		if !d.Allowed {
			t.Fatalf("request %d rejected", i)
		}
		if d.Remaining != 2-i {
			t.Errorf("request %d: remaining = %d, want %d", i, d.Remaining, 2-i)
		}
		clk.Advance(100 * time.Millisecond)
	}

	d := l.Consume("1.2.3.4")
	if d.Allowed {
		t.Fatal("fourth request in window allowed")
	}
	// The first hit was at t0, so the window frees up at t0+1s, 700ms from now.
	if d.RetryAfter != 700*time.Millisecond {
		t.Errorf("RetryAfter = %v, want 700ms", d.RetryAfter)
	}
	if d.RetryAfterSeconds() != 1 {
		t.Errorf("RetryAfterSeconds = %d, want 1", d.RetryAfterSeconds())
	}

	if d := l.Consume("5.6.7.8"); !d.Allowed {
		t.Error("other identity affected by a full window")
	}

	clk.Advance(701 * time.Millisecond)
	if d := l.Consume("1.2.3.4"); !d.Allowed {
		t.Error("request rejected after the oldest hit left the window")
	}
}

func TestRejectedRequestsDoNotCount(t *testing.T) {
	rl := &config.RateLimit{Enabled: true, MaxRequests: 1, WindowMs: 1000}
	l, clk := newTestLimiter(rl)

	l.Consume("a")
	for range 10 {
		l.Consume("a")
	}

	clk.Advance(1001 * time.Millisecond)
	if d := l.Consume("a"); !d.Allowed {
		t.Error("rejections extended the window")
	}
}

func TestSettingsReadPerCall(t *testing.T) {
	rl := &config.RateLimit{Enabled: true, MaxRequests: 1, WindowMs: 60000}
	l, _ := newTestLimiter(rl)

	l.Consume("a")
	if d := l.Consume("a"); d.Allowed {
		t.Fatal("second request allowed with a budget of one")
	}

	rl.MaxRequests = 5
	if d := l.Consume("a"); !d.Allowed {
		t.Error("raised budget not applied")
	}

	rl.Enabled = false
	for range 20 {
		if d := l.Consume("a"); !d.Allowed {
			t.Fatal("disabled limiter rejected a request")
		}
	}
}

func TestCleanup(t *testing.T) {
	rl := &config.RateLimit{Enabled: true, MaxRequests: 10, WindowMs: 1000}
	l, clk := newTestLimiter(rl)

	l.Consume("a")
	l.Consume("b")
	clk.Advance(500 * time.Millisecond)
	l.Consume("b")
	clk.Advance(600 * time.Millisecond)

	if n := l.Cleanup(); n != 1 {
		t.Errorf("Cleanup removed %d windows, want 1", n)
	}
	if l.Len() != 1 {
		t.Errorf("Len = %d, want 1", l.Len())
	}
}

func TestMiddleware(t *testing.T) {
	rl := &config.RateLimit{Enabled: true, MaxRequests: 1, WindowMs: 60000}
	l, _ := newTestLimiter(rl)

	calls := 0
	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))

	for i, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
		req := httptest.NewRequest(http.MethodGet, "/verify/challenge", nil)
		req.Header.Set("X-Real-Ip", "198.51.100.4")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code != want {
			t.Errorf("request %d: status = %d, want %d", i, rec.Code, want)
		}
		if rec.Header().Get("RateLimit-Limit") != "1" {
			t.Errorf("request %d: missing RateLimit-Limit header", i)
		}
		if want == http.StatusTooManyRequests && rec.Header().Get("Retry-After") == "" {
			t.Error("missing Retry-After on rejection")
		}
	}

	if calls != 1 {
		t.Errorf("next handler called %d times, want 1", calls)
	}
}
