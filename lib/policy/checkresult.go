package policy

import (
	"log/slog"
)

// State is where a request ended up in the admission flow.
type State string

const (
	StateUnchecked           State = "unchecked"
	StateRateLimited         State = "rate_limited"
	StateDenied              State = "denied"
	StateAllowListed         State = "allow_listed"
	StateAutoVerifying       State = "auto_verifying"
	StateAutoVerified        State = "auto_verified"
	StateRequiresInteraction State = "requires_interaction"
	StateChallengePending    State = "challenge_pending"
	StateVerified            State = "verified"
	StateMismatch            State = "mismatch"
	StateExpired             State = "expired"
	StateAttemptsExhausted   State = "attempts_exhausted"
)

// Terminal reports whether the client is done with this flow, either
// admitted or required to start over.
func (s State) Terminal() bool {
	switch s {
	case StateAllowListed, StateAutoVerified, StateVerified,
		StateRateLimited, StateDenied, StateExpired, StateAttemptsExhausted:
		return true
	}
	return false
}

// Admitted reports whether the state grants a token.
func (s State) Admitted() bool {
	switch s {
	case StateAllowListed, StateAutoVerified, StateVerified:
		return true
	}
	return false
}

type CheckResult struct {
	State State
	Rule  string
	Score float64
}

func (cr CheckResult) LogValue() slog.Value {
	attrs := []slog.Attr{slog.String("state", string(cr.State))}
	if cr.Rule != "" {
		attrs = append(attrs, slog.String("rule", cr.Rule))
	}
	if cr.State == StateAutoVerified || cr.State == StateRequiresInteraction {
		attrs = append(attrs, slog.Float64("score", cr.Score))
	}
	return slog.GroupValue(attrs...)
}

// Count increments the results counter for this state.
func (cr CheckResult) Count() {
	Applications.WithLabelValues(string(cr.State)).Inc()
}
