// Package token mints and validates the signed tokens handed to clients
// that passed verification. Tokens are self-contained JWTs; nothing about
// them is stored server-side.
package token

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/uvensys/miaoeyes"
	"github.com/uvensys/miaoeyes/internal"
	"github.com/uvensys/miaoeyes/lib/config"
)

var (
	ErrInvalid = errors.New("token: invalid")
	ErrExpired = errors.New("token: expired")
)

// WhitelistedChallengeID is the challengeId of tokens issued to allow-listed
// clients, which never had a challenge session.
const WhitelistedChallengeID = "whitelisted-request"

// Claims is the payload of a verification token. Timestamp is the issue
// time in unix milliseconds.
type Claims struct {
	ChallengeID    string               `json:"challengeId"`
	Verified       bool                 `json:"verified"`
	Timestamp      int64                `json:"timestamp"`
	Type           config.ChallengeType `json:"type,omitempty"`
	HighDifficulty bool                 `json:"highDifficulty,omitempty"`
	AutoVerified   bool                 `json:"autoVerified,omitempty"`
	Whitelisted    bool                 `json:"whitelisted,omitempty"`

	jwt.RegisteredClaims
}

type Options struct {
	ED25519PrivateKey ed25519.PrivateKey
	HS512Secret       []byte

	// KeyID is sent in the kid header. It defaults to a hash of the
	// verification key.
	KeyID string
}

// Issuer signs with Ed25519, or with HS512 when a shared secret is set.
type Issuer struct {
	method jwt.SigningMethod
	sign   any
	verify any
	kid    string
	now    func() time.Time
}

func New(opts Options) (*Issuer, error) {
	result := &Issuer{now: time.Now}

	switch {
	case len(opts.HS512Secret) != 0:
		result.method = jwt.SigningMethodHS512
		result.sign = opts.HS512Secret
		result.verify = opts.HS512Secret
		result.kid = "hs512-" + internal.SHA256sum("kid:" + string(opts.HS512Secret))[:16]
	default:
		priv := opts.ED25519PrivateKey
		if priv == nil {
			slog.Debug("signing key not set, generating a new one")
			var err error
			_, priv, err = ed25519.GenerateKey(rand.Reader)
			if err != nil {
				return nil, fmt.Errorf("token: can't generate private key: %w", err)
			}
		}
		pub, ok := priv.Public().(ed25519.PublicKey)
		if !ok {
			return nil, fmt.Errorf("token: [unexpected] public key is %T", priv.Public())
		}
		result.method = jwt.SigningMethodEdDSA
		result.sign = priv
		result.verify = pub
		result.kid = "ed25519-" + internal.SHA256sum(string(pub))[:16]
	}

	if opts.KeyID != "" {
		result.kid = opts.KeyID
	}

	return result, nil
}

// KeyID returns the kid header value of issued tokens.
func (i *Issuer) KeyID() string { return i.kid }

// Issue signs c with the given lifetime. Verified, Timestamp and the
// registered claims are set here.
func (i *Issuer) Issue(c Claims, ttl time.Duration) (string, error) {
	now := i.now()

	c.Verified = true
	c.Timestamp = now.UnixMilli()
	c.RegisteredClaims = jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now.Add(-1 * time.Minute)),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}

	tok := jwt.NewWithClaims(i.method, &c)
	tok.Header["kid"] = i.kid

	signed, err := tok.SignedString(i.sign)
	if err != nil {
		return "", fmt.Errorf("token: can't sign: %w", err)
	}

	issued.WithLabelValues(string(c.Type)).Inc()
	return signed, nil
}

// Validate checks the signature and lifetime of raw. It returns ErrExpired
// only for tokens whose signature is valid; every other failure is
// ErrInvalid.
func (i *Issuer) Validate(raw string) (*Claims, error) {
	var c Claims

	tok, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (any, error) {
		if kid, ok := t.Header["kid"].(string); ok && kid != i.kid {
			return nil, fmt.Errorf("unknown key id %q", kid)
		}
		return i.verify, nil
	},
		jwt.WithValidMethods([]string{i.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithStrictDecoding(),
		jwt.WithTimeFunc(i.now),
	)

	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		validations.WithLabelValues("expired").Inc()
		return nil, fmt.Errorf("%w: %w", ErrExpired, err)
	case err != nil:
		validations.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	case !tok.Valid || !c.Verified:
		validations.WithLabelValues("invalid").Inc()
		return nil, ErrInvalid
	}

	validations.WithLabelValues("valid").Inc()
	return &c, nil
}

// TTLFor returns the token lifetime for the verification settings. Hard
// difficulty doubles it and sets the highDifficulty flag.
func TTLFor(v config.Verification) (time.Duration, bool) {
	ttl := v.TokenTTL()
	if ttl <= 0 {
		ttl = miaoeyes.DefaultTokenExpiry
	}

	if v.Difficulty == config.DifficultyHard {
		return 2 * ttl, true
	}

	return ttl, false
}
