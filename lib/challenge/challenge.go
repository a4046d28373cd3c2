package challenge

import (
	"time"

	"github.com/uvensys/miaoeyes/lib/config"
)

// Public is everything a client learns about a challenge session. The
// expected answer is never part of it.
type Public struct {
	ID        string               `json:"challengeId"`
	Type      config.ChallengeType `json:"challengeType"`
	Timestamp int64                `json:"timestamp"` // unix milliseconds
	Params    map[string]any       `json:"params,omitempty"`
}

// IssuedAt converts Timestamp back to a time.
func (p Public) IssuedAt() time.Time {
	return time.UnixMilli(p.Timestamp)
}
