// Package invisible implements the non-interactive challenge. The page
// script hashes the random data and posts the digest back, which proves the
// client runs JavaScript without asking the visitor to do anything.
package invisible

import (
	"crypto/subtle"
	"fmt"
	"strings"

	"github.com/uvensys/miaoeyes/internal"
	"github.com/uvensys/miaoeyes/lib/challenge"
	"github.com/uvensys/miaoeyes/lib/config"
)

func init() {
	challenge.Register(config.TypeInvisible, &Impl{})
	challenge.Register(config.TypeAuto, &Impl{})
}

type Impl struct{}

func (i *Impl) Issue(in *challenge.IssueInput) (*challenge.Issued, error) {
	randomData, err := challenge.RandomHex(16)
	if err != nil {
		return nil, err
	}

	return &challenge.Issued{
		Secret: internal.SHA256sum(randomData),
		Params: map[string]any{"randomData": randomData},
	}, nil
}

func (i *Impl) Validate(secret, answer string) error {
	got := strings.ToLower(strings.TrimSpace(answer))
	if got == "" {
		return challenge.NewError("validate", "invalid response", fmt.Errorf("%w response", challenge.ErrMissingField))
	}

	if subtle.ConstantTimeCompare([]byte(secret), []byte(got)) != 1 {
		return challenge.NewError("validate", "invalid response", fmt.Errorf("%w: wanted response %s but got %s", challenge.ErrFailed, secret, got))
	}

	return nil
}
