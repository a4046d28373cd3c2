package session

import (
	"time"

	"github.com/uvensys/miaoeyes/lib/config"
)

// Result is the kind of a verification outcome.
type Result int

const (
	Success Result = iota
	Mismatch
	NotFound
	Expired
	AttemptsExhausted
)

func (r Result) String() string {
	switch r {
	case Success:
		return "success"
	case Mismatch:
		return "mismatch"
	case NotFound:
		return "not_found"
	case Expired:
		return "expired"
	case AttemptsExhausted:
		return "attempts_exhausted"
	default:
		return "unknown"
	}
}

// Outcome is the result of Registry.Verify.
type Outcome struct {
	Result Result
	ID     string
	Type   config.ChallengeType

	// AttemptsLeft is set for Mismatch.
	AttemptsLeft int

	// Elapsed is the time from creation to a Success.
	Elapsed time.Duration
}

// Err maps the outcome onto the package sentinels. Success is nil.
func (o Outcome) Err() error {
	switch o.Result {
	case Success:
		return nil
	case Mismatch:
		return ErrMismatch
	case Expired:
		return ErrExpired
	case AttemptsExhausted:
		return ErrAttemptsExhausted
	default:
		return ErrNotFound
	}
}

// Gone reports whether the client has to start over with a new challenge.
// Not found and expired look the same to clients.
func (o Outcome) Gone() bool {
	return o.Result == NotFound || o.Result == Expired
}
