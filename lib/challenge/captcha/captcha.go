// Package captcha implements the text captcha challenge. The answer is a
// short string the client reads off an image drawn by a challenge.Drawer.
package captcha

import (
	"crypto/subtle"
	"fmt"
	"strings"

	chall "github.com/uvensys/miaoeyes/lib/challenge"
	"github.com/uvensys/miaoeyes/lib/config"
)

// Alphabet leaves out 0, O, 1, I and L, which are easy to confuse when drawn.
const Alphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// DefaultLength is used when the configured length is not positive.
const DefaultLength = 6

func init() {
	chall.Register(config.TypeCaptcha, &Impl{})
}

type Impl struct{}

func (i *Impl) Issue(in *chall.IssueInput) (*chall.Issued, error) {
	params := in.Challenges.Captcha

	length := params.Length
	if length < 1 {
		length = DefaultLength
	}

	text, err := chall.RandomString(Alphabet, length)
	if err != nil {
		return nil, fmt.Errorf("can't generate captcha: %w", err)
	}

	return &chall.Issued{
		Secret: text,
		Params: map[string]any{
			"length":     length,
			"noiseLevel": params.NoiseLevel,
			"fontSize":   params.FontSize,
			"width":      params.Width,
			"height":     params.Height,
		},
	}, nil
}

// Validate compares case-insensitively.
func (i *Impl) Validate(secret, answer string) error {
	answer = strings.ToUpper(strings.TrimSpace(answer))
	if answer == "" {
		return chall.NewError("validate", "invalid response", fmt.Errorf("%w response", chall.ErrMissingField))
	}

	if subtle.ConstantTimeCompare([]byte(answer), []byte(secret)) != 1 {
		return chall.NewError("validate", "invalid response", chall.ErrFailed)
	}

	return nil
}
