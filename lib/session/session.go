// Package session owns the lifecycle of challenge sessions: creation,
// attempt counting, single-use verification and expiry.
//
// Sessions live in a fixed number of shards, each behind its own mutex.
// Verification checks, counts and compares an attempt while holding the
// shard lock, and a successful verification deletes the session before the
// lock is released, so a session can succeed at most once no matter how
// many requests race for it.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/uvensys/miaoeyes/internal"
	"github.com/uvensys/miaoeyes/lib/challenge"
	"github.com/uvensys/miaoeyes/lib/config"
	"github.com/uvensys/miaoeyes/lib/trust"
)

// NumShards is the number of independently locked session maps.
const NumShards = 32

var (
	ErrNotFound          = errors.New("session: challenge not found")
	ErrExpired           = errors.New("session: challenge expired")
	ErrAttemptsExhausted = errors.New("session: maximum attempts reached")
	ErrMismatch          = errors.New("session: wrong answer")

	created = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "miaoeyes_sessions_created",
		Help: "The number of challenge sessions created by type",
	}, []string{"type"})

	verifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "miaoeyes_session_verifications",
		Help: "The number of verification attempts by result",
	}, []string{"result"})

	swept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "miaoeyes_sessions_swept",
		Help: "The number of challenge sessions removed by the expiry sweep",
	})
)

// Session is one outstanding challenge.
type Session struct {
	ID        string
	Type      config.ChallengeType
	Signals   trust.Signals
	CreatedAt time.Time
	Deadline  time.Time
	Attempts  int
	Verified  bool

	secret string
}

type shard struct {
	lock     sync.Mutex
	sessions map[string]*Session
}

// Registry holds every outstanding session of this process.
type Registry struct {
	settings func() config.Config
	now      func() time.Time

	shards [NumShards]shard
	expiry expiryIndex
}

// New creates a registry. settings is called whenever a session is created
// or verified, so configuration updates apply to the next call.
func New(settings func() config.Config) *Registry {
	r := &Registry{
		settings: settings,
		now:      time.Now,
	}

	for i := range r.shards {
		r.shards[i].sessions = map[string]*Session{}
	}

	return r
}

func (r *Registry) shardFor(id string) *shard {
	return &r.shards[internal.Shard(id, NumShards)]
}

// NewID returns 32 lowercase hex characters from a random version 4 UUID.
func NewID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("can't generate session id: %w", err)
	}
	return strings.ReplaceAll(id.String(), "-", ""), nil
}

// Create starts a new session of the configured type and returns what the
// client may see about it.
func (r *Registry) Create(ctx context.Context, signals trust.Signals) (challenge.Public, error) {
	if err := ctx.Err(); err != nil {
		return challenge.Public{}, err
	}

	cfg := r.settings()
	typ := cfg.Challenges.Select()

	impl, ok := challenge.Get(typ)
	if !ok {
		return challenge.Public{}, fmt.Errorf("%w: %s", challenge.ErrUnknownType, typ)
	}

	issued, err := impl.Issue(&challenge.IssueInput{
		Challenges:   cfg.Challenges,
		Verification: cfg.Verification,
	})
	if err != nil {
		return challenge.Public{}, fmt.Errorf("can't issue %s challenge: %w", typ, err)
	}

	id, err := NewID()
	if err != nil {
		return challenge.Public{}, err
	}

	timeout := cfg.Verification.SessionTimeout()
	if issued.Timeout > 0 && issued.Timeout < timeout {
		timeout = issued.Timeout
	}

	now := r.now()
	s := &Session{
		ID:        id,
		Type:      typ,
		Signals:   signals,
		CreatedAt: now,
		Deadline:  now.Add(timeout),
		secret:    issued.Secret,
	}

	sh := r.shardFor(id)
	sh.lock.Lock()
	sh.sessions[id] = s
	sh.lock.Unlock()

	r.expiry.push(id, s.Deadline)
	created.WithLabelValues(string(typ)).Inc()

	return challenge.Public{
		ID:        id,
		Type:      typ,
		Timestamp: now.UnixMilli(),
		Params:    issued.Params,
	}, nil
}

// Verify checks answer against session id. The outcome is final for this
// call: Success means the session no longer exists.
func (r *Registry) Verify(ctx context.Context, id, answer string) Outcome {
	maxAttempts := r.settings().Verification.MaxAttempts
	now := r.now()

	sh := r.shardFor(id)
	sh.lock.Lock()
	defer sh.lock.Unlock()

	s, ok := sh.sessions[id]
	if !ok {
		return record(Outcome{Result: NotFound, ID: id})
	}

	out := Outcome{ID: id, Type: s.Type}

	if !now.Before(s.Deadline) {
		delete(sh.sessions, id)
		out.Result = Expired
		return record(out)
	}

	if s.Attempts >= maxAttempts {
		out.Result = AttemptsExhausted
		return record(out)
	}

	s.Attempts++
	out.AttemptsLeft = maxAttempts - s.Attempts

	impl, ok := challenge.Get(s.Type)
	if !ok {
		slog.ErrorContext(ctx, "no challenge implementation for session", "type", s.Type)
		out.Result = Mismatch
		return record(out)
	}

	if err := impl.Validate(s.secret, answer); err != nil {
		slog.DebugContext(ctx, "challenge answer rejected", "id", id, "type", s.Type, "err", err)
		out.Result = Mismatch
		return record(out)
	}

	s.Verified = true
	delete(sh.sessions, id)

	out.Result = Success
	out.Elapsed = now.Sub(s.CreatedAt)
	challenge.TimeTaken.WithLabelValues(string(s.Type)).Observe(float64(out.Elapsed.Milliseconds()))

	return record(out)
}

func record(out Outcome) Outcome {
	verifications.WithLabelValues(out.Result.String()).Inc()
	return out
}

// Draw hands the secret of session id to d. d renders into a buffer while
// the shard is locked, the buffer is copied to w after it is released.
func (r *Registry) Draw(id string, d challenge.Drawer, w io.Writer) error {
	var buf bytes.Buffer
	now := r.now()

	sh := r.shardFor(id)
	sh.lock.Lock()
	s, ok := sh.sessions[id]
	if !ok || !now.Before(s.Deadline) {
		sh.lock.Unlock()
		return ErrNotFound
	}
	err := d.Draw(&buf, s.Type, s.secret)
	sh.lock.Unlock()

	if err != nil {
		return fmt.Errorf("can't draw challenge: %w", err)
	}

	_, err = io.Copy(w, &buf)
	return err
}

// Sweep deletes every session whose deadline has passed and returns how
// many were removed. Deadlines come from the expiry index; a scan over all
// shards catches anything the index missed.
func (r *Registry) Sweep() int {
	now := r.now()
	removed := 0

	for _, id := range r.expiry.due(now) {
		sh := r.shardFor(id)
		sh.lock.Lock()
		if s, ok := sh.sessions[id]; ok && !now.Before(s.Deadline) {
			delete(sh.sessions, id)
			removed++
		}
		sh.lock.Unlock()
	}

	for i := range r.shards {
		sh := &r.shards[i]
		sh.lock.Lock()
		for id, s := range sh.sessions {
			if !now.Before(s.Deadline) {
				delete(sh.sessions, id)
				removed++
			}
		}
		sh.lock.Unlock()
	}

	swept.Add(float64(removed))
	return removed
}

// Run sweeps every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := r.Sweep(); n != 0 {
				slog.Debug("swept expired challenge sessions", "removed", n, "remaining", r.Len())
			}
		}
	}
}

// Len returns the number of live sessions, including expired ones that have
// not been swept yet.
func (r *Registry) Len() int {
	n := 0
	for i := range r.shards {
		sh := &r.shards[i]
		sh.lock.Lock()
		n += len(sh.sessions)
		sh.lock.Unlock()
	}
	return n
}
