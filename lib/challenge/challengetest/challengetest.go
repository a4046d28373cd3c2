// Package challengetest holds a conformance suite every challenge
// implementation should pass.
package challengetest

import (
	"errors"
	"testing"

	"github.com/uvensys/miaoeyes/lib/challenge"
	"github.com/uvensys/miaoeyes/lib/config"
)

// Input returns an issue input built from the default configuration.
func Input() *challenge.IssueInput {
	cfg := config.Defaults()
	return &challenge.IssueInput{
		Challenges:   cfg.Challenges,
		Verification: cfg.Verification,
	}
}

// Common checks that two issued challenges differ, that solve produces an
// accepted answer and that a wrong answer fails with challenge.ErrFailed.
func Common(t *testing.T, impl challenge.Impl, solve func(*testing.T, *challenge.Issued) string) {
	t.Helper()

	first, err := impl.Issue(Input())
	if err != nil {
		t.Fatalf("can't issue challenge: %v", err)
	}

	second, err := impl.Issue(Input())
	if err != nil {
		t.Fatalf("can't issue challenge: %v", err)
	}

	for _, tt := range []struct {
		name string
		doer func(t *testing.T)
	}{
		{
			name: "secrets differ",
			doer: func(t *testing.T) {
				if first.Secret == "" || first.Secret == second.Secret {
					t.Errorf("secrets are empty or repeat: %q", first.Secret)
				}
			},
		},
		{
			name: "params do not leak the secret",
			doer: func(t *testing.T) {
				for k, v := range first.Params {
					if s, ok := v.(string); ok && s == first.Secret {
						t.Errorf("param %q carries the secret", k)
					}
				}
			},
		},
		{
			name: "solved",
			doer: func(t *testing.T) {
				if err := impl.Validate(first.Secret, solve(t, first)); err != nil {
					t.Errorf("correct answer rejected: %v", err)
				}
			},
		},
		{
			name: "wrong session",
			doer: func(t *testing.T) {
				if err := impl.Validate(second.Secret, solve(t, first)); !errors.Is(err, challenge.ErrFailed) {
					t.Errorf("want ErrFailed, got %v", err)
				}
			},
		},
	} {
		t.Run(tt.name, tt.doer)
	}
}
