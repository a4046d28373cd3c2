package stats

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/uvensys/miaoeyes/lib/store"
	"github.com/uvensys/miaoeyes/lib/store/memory"
)

var epoch = time.Date(2025, time.March, 1, 13, 37, 0, 0, time.UTC)

func TestSnapshotApply(t *testing.T) {
	s := emptySnapshot()
	s.apply(OutcomeRequest, epoch)
	s.apply(OutcomeVerified, epoch)
	s.apply(OutcomeFailed, epoch.Add(time.Hour))
	s.apply(OutcomeVerified, epoch.Add(24*time.Hour))

	if s.TotalRequests != 4 || s.VerifiedRequests != 2 || s.FailedRequests != 1 {
		t.Errorf("totals wrong: %+v", s)
	}

	if got := s.DailyStats["2025-03-01"]; got != (Counts{Total: 3, Verified: 1, Failed: 1}) {
		t.Errorf("daily bucket wrong: %+v", got)
	}
	if got := s.HourlyStats["2025-03-01T13:00"]; got != (Counts{Total: 2, Verified: 1}) {
		t.Errorf("hourly bucket wrong: %+v", got)
	}
	if got := s.HourlyStats["2025-03-01T14:00"]; got != (Counts{Total: 1, Failed: 1}) {
		t.Errorf("hourly bucket wrong: %+v", got)
	}
	if !s.LastUpdated.Equal(epoch.Add(24 * time.Hour)) {
		t.Errorf("lastUpdated = %v", s.LastUpdated)
	}
}

func TestReport(t *testing.T) {
	s := emptySnapshot()
	for range 2 {
		s.apply(OutcomeVerified, epoch)
	}
	s.apply(OutcomeRequest, epoch)

	r := s.Report(epoch)
	if r.SuccessRate != 66.67 {
		t.Errorf("successRate = %v, want 66.67", r.SuccessRate)
	}
	if r.ActiveToday.Total != 3 {
		t.Errorf("activeToday = %+v", r.ActiveToday)
	}

	if empty := emptySnapshot().Report(epoch); empty.SuccessRate != 0 || empty.ActiveToday != (Counts{}) {
		t.Errorf("empty report = %+v", empty)
	}

	data, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}

	var flat map[string]any
	if err := json.Unmarshal(data, &flat); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"totalRequests", "verifiedRequests", "failedRequests", "dailyStats", "hourlyStats", "lastUpdated", "successRate", "activeToday"} {
		if _, ok := flat[k]; !ok {
			t.Errorf("report is missing %q", k)
		}
	}
}

func TestPrune(t *testing.T) {
	s := emptySnapshot()
	s.apply(OutcomeRequest, epoch.Add(-400*24*time.Hour))
	s.apply(OutcomeRequest, epoch.Add(-8*24*time.Hour))
	s.apply(OutcomeRequest, epoch)
	s.HourlyStats["garbage"] = Counts{Total: 1}

	s.prune(epoch)

	if len(s.HourlyStats) != 1 {
		t.Errorf("hourly buckets = %v", s.HourlyStats)
	}
	if len(s.DailyStats) != 2 {
		t.Errorf("daily buckets = %v", s.DailyStats)
	}
	if s.TotalRequests != 3 {
		t.Error("pruning touched the totals")
	}
}

func TestRecorderPersists(t *testing.T) {
	st := memory.New(t.Context())

	r := New(t.Context(), st, 16)
	r.now = func() time.Time { return epoch }
	r.FlushInterval = time.Hour

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	r.Record(OutcomeRequest)
	r.Record(OutcomeVerified)
	r.Record(OutcomeFailed)

	cancel()
	<-done

	saved, err := (&store.JSON[Snapshot]{Underlying: st}).Get(t.Context(), Key)
	if err != nil {
		t.Fatal(err)
	}
	if saved.TotalRequests != 3 || saved.VerifiedRequests != 1 || saved.FailedRequests != 1 {
		t.Errorf("saved snapshot wrong: %+v", saved)
	}

	reloaded := New(t.Context(), st, 16)
	if got := reloaded.Snapshot(); got.TotalRequests != 3 || got.DailyStats["2025-03-01"].Total != 3 {
		t.Errorf("reloaded snapshot wrong: %+v", got)
	}
}

func TestRecordNeverBlocks(t *testing.T) {
	r := New(t.Context(), memory.New(t.Context()), 1)
	before := testutil.ToFloat64(dropped)

	done := make(chan struct{})
	go func() {
		for range 10 {
			r.Record(OutcomeRequest)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked with a full buffer")
	}

	if got := testutil.ToFloat64(dropped) - before; got != 9 {
		t.Errorf("dropped %v events, want 9", got)
	}
}

func TestBadSnapshotStartsEmpty(t *testing.T) {
	st := memory.New(t.Context())
	if err := st.Set(t.Context(), Key, []byte("{not json"), store.Forever); err != nil {
		t.Fatal(err)
	}

	r := New(t.Context(), st, 1)
	if got := r.Snapshot(); got.TotalRequests != 0 || got.DailyStats == nil {
		t.Errorf("unexpected snapshot: %+v", got)
	}
}

func TestFlushOnlyWhenDirty(t *testing.T) {
	st := memory.New(t.Context())
	r := New(t.Context(), st, 1)

	if err := r.Flush(t.Context()); err != nil {
		t.Fatal(err)
	}
	if _, err := st.Get(t.Context(), Key); err == nil {
		t.Error("clean recorder wrote a snapshot")
	}

	r.apply(event{outcome: OutcomeRequest, at: time.Now()})
	if err := r.Flush(t.Context()); err != nil {
		t.Fatal(err)
	}
	if _, err := st.Get(t.Context(), Key); err != nil {
		t.Errorf("dirty recorder did not write: %v", err)
	}
}
