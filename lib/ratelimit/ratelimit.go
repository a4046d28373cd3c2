// Package ratelimit implements per-client sliding window admission control.
//
// Limits are read from the configuration on every call so an update through
// the admin API applies to the very next request. A rejected request does
// not count against the window.
package ratelimit

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/uvensys/miaoeyes/internal"
	"github.com/uvensys/miaoeyes/lib/config"
)

var decisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "miaoeyes_ratelimit_decisions",
	Help: "The number of rate limit decisions by limiter and result",
}, []string{"limiter", "result"})

// Decision is the result of one Consume call.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds for the
// Retry-After header.
func (d Decision) RetryAfterSeconds() int {
	if d.Allowed || d.RetryAfter <= 0 {
		return 0
	}
	return int((d.RetryAfter + time.Second - 1) / time.Second)
}

type window struct {
	hits []time.Time
}

// prune drops hits at or before cutoff. hits are in ascending order.
func (w *window) prune(cutoff time.Time) {
	i := 0
	for ; i < len(w.hits); i++ {
		if w.hits[i].After(cutoff) {
			break
		}
	}
	w.hits = w.hits[i:]
}

// Limiter tracks one sliding window per identity.
type Limiter struct {
	name     string
	settings func() config.RateLimit
	now      func() time.Time

	// Reject writes the response for a rejected request. It defaults to a
	// JSON body of the form {"success": false, "error": "..."}.
	Reject func(w http.ResponseWriter, r *http.Request, d Decision)

	lock    sync.Mutex
	windows map[string]*window
}

// New creates a limiter. settings is called on every Consume.
func New(name string, settings func() config.RateLimit) *Limiter {
	return &Limiter{
		name:     name,
		settings: settings,
		now:      time.Now,
		Reject:   defaultReject,
		windows:  map[string]*window{},
	}
}

// Consume records one request for identity if the window has room.
func (l *Limiter) Consume(identity string) Decision {
	rl := l.settings()
	if !rl.Enabled {
		return Decision{Allowed: true, Limit: rl.MaxRequests, Remaining: rl.MaxRequests}
	}

	now := l.now()
	span := rl.Window()

	l.lock.Lock()
	defer l.lock.Unlock()

	w, ok := l.windows[identity]
	if !ok {
		w = &window{}
		l.windows[identity] = w
	}
	w.prune(now.Add(-span))

	if len(w.hits) >= rl.MaxRequests {
		resetAt := w.hits[len(w.hits)-rl.MaxRequests].Add(span)
		decisions.WithLabelValues(l.name, "rejected").Inc()
		return Decision{
			Allowed:    false,
			Limit:      rl.MaxRequests,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: resetAt.Sub(now),
		}
	}

	w.hits = append(w.hits, now)
	decisions.WithLabelValues(l.name, "allowed").Inc()

	return Decision{
		Allowed:   true,
		Limit:     rl.MaxRequests,
		Remaining: rl.MaxRequests - len(w.hits),
		ResetAt:   w.hits[0].Add(span),
	}
}

// Cleanup forgets identities whose windows are empty and returns how many
// were removed.
func (l *Limiter) Cleanup() int {
	cutoff := l.now().Add(-l.settings().Window())

	l.lock.Lock()
	defer l.lock.Unlock()

	removed := 0
	for id, w := range l.windows {
		w.prune(cutoff)
		if len(w.hits) == 0 {
			delete(l.windows, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked identities.
func (l *Limiter) Len() int {
	l.lock.Lock()
	defer l.lock.Unlock()
	return len(l.windows)
}

// Run calls Cleanup every interval until ctx is done.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := l.Cleanup(); n != 0 {
				slog.Debug("pruned idle rate limit windows", "limiter", l.name, "removed", n)
			}
		}
	}
}

// Middleware admits requests by client IP and sets the RateLimit headers on
// every response it sees.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := l.Consume(internal.ClientIP(r))
		if d.Limit > 0 {
			h := w.Header()
			h.Set("RateLimit-Limit", strconv.Itoa(d.Limit))
			h.Set("RateLimit-Remaining", strconv.Itoa(d.Remaining))
			if !d.ResetAt.IsZero() {
				h.Set("RateLimit-Reset", strconv.Itoa(int(max(0, d.ResetAt.Sub(l.now()).Seconds()))))
			}
		}

		if !d.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(d.RetryAfterSeconds()))
			internal.GetRequestLogger(r).Debug("rate limited", "limiter", l.name, "retry_after", d.RetryAfter)
			l.Reject(w, r, d)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func defaultReject(w http.ResponseWriter, _ *http.Request, _ Decision) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   "Too many requests, please try again later.",
		"code":    "rate_limited",
	})
}
