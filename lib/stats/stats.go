// Package stats keeps request, verification and failure counters, bucketed
// per day and per hour, and persists them through a store backend.
//
// Recording never blocks the caller. Events go through a buffered channel
// drained by one goroutine; when the buffer is full the event is dropped and
// counted in miaoeyes_stats_dropped.
package stats

import (
	"context"
	"log/slog"
	"maps"
	"math"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/uvensys/miaoeyes/lib/store"
)

const (
	// Key is the store key of the persisted snapshot.
	Key = "stats"

	DayFormat  = "2006-01-02"
	HourFormat = "2006-01-02T15:00"

	// Hourly buckets older than HourlyRetention and daily buckets older
	// than DailyRetention are dropped when the snapshot is saved.
	HourlyRetention = 7 * 24 * time.Hour
	DailyRetention  = 365 * 24 * time.Hour

	DefaultBuffer        = 1024
	DefaultFlushInterval = 5 * time.Second
)

var (
	events = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "miaoeyes_stats_events",
		Help: "The number of statistics events recorded by outcome",
	}, []string{"outcome"})

	dropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "miaoeyes_stats_dropped",
		Help: "The number of statistics events dropped because the buffer was full",
	})
)

type Outcome string

const (
	OutcomeRequest  Outcome = "request"
	OutcomeVerified Outcome = "verified"
	OutcomeFailed   Outcome = "failed"
)

// Sink receives outcomes. Record must not block and must not fail.
type Sink interface {
	Record(Outcome)
}

// Reader exposes the current counters.
type Reader interface {
	Snapshot() Snapshot
}

// Discard is a Sink that drops everything.
var Discard Sink = discard{}

type discard struct{}

func (discard) Record(Outcome) {}

// Counts is one bucket.
type Counts struct {
	Total    int64 `json:"total"`
	Verified int64 `json:"verified"`
	Failed   int64 `json:"failed"`
}

func (c *Counts) add(o Outcome) {
	c.Total++
	switch o {
	case OutcomeVerified:
		c.Verified++
	case OutcomeFailed:
		c.Failed++
	}
}

// Snapshot is the persisted statistics document.
type Snapshot struct {
	TotalRequests    int64             `json:"totalRequests"`
	VerifiedRequests int64             `json:"verifiedRequests"`
	FailedRequests   int64             `json:"failedRequests"`
	DailyStats       map[string]Counts `json:"dailyStats"`
	HourlyStats      map[string]Counts `json:"hourlyStats"`
	LastUpdated      time.Time         `json:"lastUpdated"`
}

func emptySnapshot() Snapshot {
	return Snapshot{
		DailyStats:  map[string]Counts{},
		HourlyStats: map[string]Counts{},
	}
}

func (s *Snapshot) apply(o Outcome, at time.Time) {
	at = at.UTC()

	s.TotalRequests++
	switch o {
	case OutcomeVerified:
		s.VerifiedRequests++
	case OutcomeFailed:
		s.FailedRequests++
	}

	day := s.DailyStats[at.Format(DayFormat)]
	day.add(o)
	s.DailyStats[at.Format(DayFormat)] = day

	hour := s.HourlyStats[at.Format(HourFormat)]
	hour.add(o)
	s.HourlyStats[at.Format(HourFormat)] = hour

	s.LastUpdated = at
}

func (s *Snapshot) prune(now time.Time) {
	now = now.UTC()
	prune := func(m map[string]Counts, layout string, keep time.Duration) {
		cutoff := now.Add(-keep)
		for k := range m {
			t, err := time.Parse(layout, k)
			if err != nil || t.Before(cutoff) {
				delete(m, k)
			}
		}
	}

	prune(s.HourlyStats, HourFormat, HourlyRetention)
	prune(s.DailyStats, DayFormat, DailyRetention)
}

func (s Snapshot) clone() Snapshot {
	s.DailyStats = maps.Clone(s.DailyStats)
	s.HourlyStats = maps.Clone(s.HourlyStats)
	return s
}

// Report is the statistics document served by the admin API.
type Report struct {
	Snapshot
	SuccessRate float64 `json:"successRate"`
	ActiveToday Counts  `json:"activeToday"`
}

// Report adds the success rate in percent, rounded to two decimals, and the
// bucket for the current day.
func (s Snapshot) Report(now time.Time) Report {
	r := Report{
		Snapshot:    s,
		ActiveToday: s.DailyStats[now.UTC().Format(DayFormat)],
	}

	if s.TotalRequests > 0 {
		r.SuccessRate = math.Round(float64(s.VerifiedRequests)/float64(s.TotalRequests)*100*100) / 100
	}

	return r
}

type event struct {
	outcome Outcome
	at      time.Time
}

// Recorder is the Sink backed by a store.
type Recorder struct {
	store  *store.JSON[Snapshot]
	events chan event
	now    func() time.Time

	FlushInterval time.Duration

	lock  sync.Mutex
	snap  Snapshot
	dirty bool
}

// New loads the persisted snapshot, if any. An unreadable snapshot is
// logged and replaced by an empty one.
func New(ctx context.Context, st store.Interface, buffer int) *Recorder {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}

	r := &Recorder{
		store:         &store.JSON[Snapshot]{Underlying: st},
		events:        make(chan event, buffer),
		now:           time.Now,
		FlushInterval: DefaultFlushInterval,
		snap:          emptySnapshot(),
	}

	snap, err := r.store.GetOr(ctx, Key, emptySnapshot())
	if err != nil {
		slog.Error("can't load statistics, starting from zero", "err", err)
		return r
	}

	if snap.DailyStats == nil {
		snap.DailyStats = map[string]Counts{}
	}
	if snap.HourlyStats == nil {
		snap.HourlyStats = map[string]Counts{}
	}
	r.snap = snap

	return r
}

// Record queues o. It drops the event instead of waiting when the buffer is
// full.
func (r *Recorder) Record(o Outcome) {
	select {
	case r.events <- event{outcome: o, at: r.now()}:
	default:
		dropped.Inc()
	}
}

// Snapshot returns a copy of the current counters, including events that
// were applied but not yet saved.
func (r *Recorder) Snapshot() Snapshot {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.snap.clone()
}

func (r *Recorder) apply(ev event) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.snap.apply(ev.outcome, ev.at)
	r.dirty = true
	events.WithLabelValues(string(ev.outcome)).Inc()
}

// Flush saves the snapshot if it changed since the last save.
func (r *Recorder) Flush(ctx context.Context) error {
	r.lock.Lock()
	if !r.dirty {
		r.lock.Unlock()
		return nil
	}
	r.snap.prune(r.now())
	snap := r.snap.clone()
	r.dirty = false
	r.lock.Unlock()

	if err := r.store.Set(ctx, Key, snap, store.Forever); err != nil {
		r.lock.Lock()
		r.dirty = true
		r.lock.Unlock()
		return err
	}

	return nil
}

// Run applies queued events and saves periodically until ctx is done, then
// drains what is left and saves one last time.
func (r *Recorder) Run(ctx context.Context) {
	t := time.NewTicker(r.FlushInterval)
	defer t.Stop()

	for {
		select {
		case ev := <-r.events:
			r.apply(ev)
		case <-t.C:
			if err := r.Flush(ctx); err != nil {
				slog.Error("can't save statistics", "err", err)
			}
		case <-ctx.Done():
			r.drain()

			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()

			if err := r.Flush(flushCtx); err != nil {
				slog.Error("can't save statistics on shutdown", "err", err)
			}
			return
		}
	}
}

func (r *Recorder) drain() {
	for {
		select {
		case ev := <-r.events:
			r.apply(ev)
		default:
			return
		}
	}
}
