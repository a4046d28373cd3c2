package proofofwork

import (
	"errors"
	"testing"
	"time"

	"github.com/uvensys/miaoeyes/lib/challenge"
	"github.com/uvensys/miaoeyes/lib/challenge/challengetest"
	"github.com/uvensys/miaoeyes/lib/config"
)

func TestCommon(t *testing.T) {
	challengetest.Common(t, &Impl{}, func(t *testing.T, issued *challenge.Issued) string {
		return Solve(issued.Params["randomData"].(string), issued.Params["difficulty"].(int))
	})
}

func TestIssue(t *testing.T) {
	in := challengetest.Input()
	in.Challenges.Puzzle = config.PuzzleParams{Difficulty: config.DifficultyEasy, Timeout: 45000}

	issued, err := (&Impl{}).Issue(in)
	if err != nil {
		t.Fatal(err)
	}

	if issued.Params["difficulty"] != 2 {
		t.Errorf("difficulty = %v, want 2", issued.Params["difficulty"])
	}
	if issued.Timeout != 45*time.Second {
		t.Errorf("timeout = %v, want 45s", issued.Timeout)
	}
}

func TestValidate(t *testing.T) {
	i := &Impl{}
	// sha256("hunter0") starts with "2652bdba"; difficulty 0 accepts any hash.
	const secret = "0:hunter"
	const response = "2652bdba8fb4d2ab39ef28d8534d7694c557a4ae146c1e9237bd8d950280500e"

	for _, tt := range []struct {
		name   string
		secret string
		answer string
		err    error
	}{
		{name: "allgood", secret: secret, answer: "0:" + response},
		{name: "no-params", secret: secret, answer: "", err: challenge.ErrMissingField},
		{name: "missing-response", secret: secret, answer: "0", err: challenge.ErrMissingField},
		{name: "missing-nonce", secret: secret, answer: ":" + response, err: challenge.ErrMissingField},
		{name: "wrong-nonce-format", secret: secret, answer: "taco:" + response, err: challenge.ErrInvalidFormat},
		{name: "invalid-response", secret: "0:Tacos are tasty", answer: "0:" + response, err: challenge.ErrFailed},
		{name: "not-enough-zeros", secret: "4:hunter", answer: "0:" + response, err: challenge.ErrFailed},
		{name: "malformed-secret", secret: "hunter", answer: "0:" + response, err: challenge.ErrInvalidFormat},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if err := i.Validate(tt.secret, tt.answer); !errors.Is(err, tt.err) {
				t.Errorf("got wrong error from Validate, got %v but wanted %v", err, tt.err)
			}
		})
	}
}
