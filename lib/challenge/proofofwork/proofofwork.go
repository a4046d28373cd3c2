// Package proofofwork implements the puzzle challenge: the client searches
// for a nonce whose SHA-256 over the random data has enough leading zeros.
package proofofwork

import (
	"crypto/subtle"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/uvensys/miaoeyes/internal"
	chall "github.com/uvensys/miaoeyes/lib/challenge"
	"github.com/uvensys/miaoeyes/lib/config"
)

func init() {
	chall.Register(config.TypePuzzle, &Impl{})
}

// Difficulty is the number of leading hex zeros a solution needs.
func Difficulty(d config.Difficulty) int {
	switch d {
	case config.DifficultyEasy:
		return 2
	case config.DifficultyHard:
		return 4
	default:
		return 3
	}
}

type Impl struct{}

func (i *Impl) Issue(in *chall.IssueInput) (*chall.Issued, error) {
	randomData, err := chall.RandomHex(32)
	if err != nil {
		return nil, err
	}

	difficulty := Difficulty(in.Challenges.Puzzle.Difficulty)

	return &chall.Issued{
		Secret: strconv.Itoa(difficulty) + ":" + randomData,
		Params: map[string]any{
			"randomData": randomData,
			"difficulty": difficulty,
		},
		Timeout: time.Duration(in.Challenges.Puzzle.Timeout) * time.Millisecond,
	}, nil
}

// Validate expects "<nonce>:<hash>" where hash is the hex SHA-256 of the
// random data followed by the decimal nonce.
func (i *Impl) Validate(secret, answer string) error {
	diffStr, randomData, ok := strings.Cut(secret, ":")
	if !ok {
		return chall.NewError("validate", "internal error", fmt.Errorf("%w: malformed secret", chall.ErrInvalidFormat))
	}

	difficulty, err := strconv.Atoi(diffStr)
	if err != nil {
		return chall.NewError("validate", "internal error", fmt.Errorf("%w: difficulty: %w", chall.ErrInvalidFormat, err))
	}

	nonceStr, response, ok := strings.Cut(strings.TrimSpace(answer), ":")
	if nonceStr == "" {
		return chall.NewError("validate", "invalid response", fmt.Errorf("%w nonce", chall.ErrMissingField))
	}
	if !ok || response == "" {
		return chall.NewError("validate", "invalid response", fmt.Errorf("%w response", chall.ErrMissingField))
	}

	nonce, err := strconv.ParseUint(nonceStr, 10, 64)
	if err != nil {
		return chall.NewError("validate", "invalid response", fmt.Errorf("%w: nonce: %w", chall.ErrInvalidFormat, err))
	}

	calculated := internal.SHA256sum(randomData + strconv.FormatUint(nonce, 10))

	if subtle.ConstantTimeCompare([]byte(strings.ToLower(response)), []byte(calculated)) != 1 {
		return chall.NewError("validate", "invalid response", fmt.Errorf("%w: wanted response %s but got %s", chall.ErrFailed, calculated, response))
	}

	// compare the leading zeroes
	if !strings.HasPrefix(calculated, strings.Repeat("0", difficulty)) {
		return chall.NewError("validate", "invalid response", fmt.Errorf("%w: wanted %d leading zeros but got %s", chall.ErrFailed, difficulty, calculated))
	}

	return nil
}

// Solve finds the first nonce satisfying the challenge. It exists for tests
// and for clients written in Go.
func Solve(randomData string, difficulty int) string {
	prefix := strings.Repeat("0", difficulty)
	for nonce := uint64(0); ; nonce++ {
		hash := internal.SHA256sum(randomData + strconv.FormatUint(nonce, 10))
		if strings.HasPrefix(hash, prefix) {
			return strconv.FormatUint(nonce, 10) + ":" + hash
		}
	}
}
