// Package config holds the MiaoEyes runtime configuration document. Field
// names match the JSON configuration file so existing files keep working.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"slices"
	"strings"
	"time"
)

var (
	ErrUnknownDifficulty     = errors.New("config.Verification: difficulty must be one of easy, medium, hard")
	ErrTimeoutNotPositive    = errors.New("config.Verification: timeout must be positive")
	ErrMaxAttemptsNotValid   = errors.New("config.Verification: maxAttempts must be at least 1")
	ErrTokenExpiryNotValid   = errors.New("config.Verification: tokenExpiry must be at least 1 second")
	ErrMaxRequestsNotValid   = errors.New("config.RateLimit: maxRequests must be at least 1 when enabled")
	ErrWindowNotValid        = errors.New("config.RateLimit: windowMs must be positive when enabled")
	ErrInvalidIPEntry        = errors.New("config.AccessList: entry is not an IP address or CIDR prefix")
	ErrEmptyUserAgentEntry   = errors.New("config.AccessList: user agent entry is empty")
	ErrUnknownChallengeType  = errors.New("config.Challenges: unknown challenge type")
	ErrCaptchaLengthNotValid = errors.New("config.CaptchaParams: length must be between 1 and 32")
	ErrThresholdNotValid     = errors.New("config.AutoVerify: threshold must be within [0, 1]")
	ErrNegativeWeight        = errors.New("config.Weights: weights must not be negative")
	ErrMissingTargetDomain   = errors.New("config.DomainRedirect: targetDomain is required when enabled")
)

type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

func (d Difficulty) Valid() error {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return nil
	default:
		return fmt.Errorf("%w, got %q", ErrUnknownDifficulty, d)
	}
}

// ChallengeType names a challenge implementation.
type ChallengeType string

const (
	TypeCaptcha   ChallengeType = "captcha"
	TypePuzzle    ChallengeType = "puzzle"
	TypeInvisible ChallengeType = "invisible"
	TypeAuto      ChallengeType = "auto"

	// TypeNone is reported for allow-listed clients that skip the challenge.
	TypeNone ChallengeType = "none"
)

func (t ChallengeType) Valid() error {
	switch t {
	case TypeCaptcha, TypePuzzle, TypeInvisible, TypeAuto:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownChallengeType, t)
	}
}

// Config is the full configuration document.
type Config struct {
	Verification   Verification   `json:"verification"`
	DomainRedirect DomainRedirect `json:"domainRedirect"`
	Challenges     Challenges     `json:"challenges"`
	Security       Security       `json:"security"`
	Logging        Logging        `json:"logging"`
	Other          Other          `json:"other"`
}

func (c *Config) Valid() error {
	var errs []error

	for _, v := range []interface{ Valid() error }{
		&c.Verification,
		&c.DomainRedirect,
		&c.Challenges,
		&c.Security,
	} {
		if err := v.Valid(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) != 0 {
		return fmt.Errorf("config is not valid:\n%w", errors.Join(errs...))
	}

	return nil
}

// Clone returns a deep copy so callers can mutate the result freely.
func (c Config) Clone() Config {
	c.DomainRedirect.RedirectDomains = slices.Clone(c.DomainRedirect.RedirectDomains)
	c.DomainRedirect.ExcludePaths = slices.Clone(c.DomainRedirect.ExcludePaths)
	c.Challenges.EnabledTypes = slices.Clone(c.Challenges.EnabledTypes)
	c.Security.Whitelist = c.Security.Whitelist.Clone()
	c.Security.Blacklist = c.Security.Blacklist.Clone()
	if c.Security.APIRateLimiting != nil {
		rl := *c.Security.APIRateLimiting
		c.Security.APIRateLimiting = &rl
	}
	if c.Challenges.AutoVerify.Expression != nil {
		expr := *c.Challenges.AutoVerify.Expression
		expr.All = slices.Clone(expr.All)
		expr.Any = slices.Clone(expr.Any)
		c.Challenges.AutoVerify.Expression = &expr
	}
	return c
}

type Verification struct {
	Enabled     bool       `json:"enabled"`
	Difficulty  Difficulty `json:"difficulty"`
	Timeout     int64      `json:"timeout"`     // milliseconds
	MaxAttempts int        `json:"maxAttempts"` // per session
	TokenExpiry int64      `json:"tokenExpiry"` // seconds
}

func (v *Verification) Valid() error {
	var errs []error

	if err := v.Difficulty.Valid(); err != nil {
		errs = append(errs, err)
	}

	if v.Timeout <= 0 {
		errs = append(errs, ErrTimeoutNotPositive)
	}

	if v.MaxAttempts < 1 {
		errs = append(errs, ErrMaxAttemptsNotValid)
	}

	if v.TokenExpiry < 1 {
		errs = append(errs, ErrTokenExpiryNotValid)
	}

	if len(errs) != 0 {
		return errors.Join(errs...)
	}

	return nil
}

// SessionTimeout is how long a challenge session may stay unanswered.
func (v Verification) SessionTimeout() time.Duration {
	return time.Duration(v.Timeout) * time.Millisecond
}

// TokenTTL is the base lifetime of an issued token.
func (v Verification) TokenTTL() time.Duration {
	return time.Duration(v.TokenExpiry) * time.Second
}

type DomainRedirect struct {
	Enabled         bool     `json:"enabled"`
	TargetDomain    string   `json:"targetDomain"`
	RedirectDomains []string `json:"redirectDomains"`
	ExcludePaths    []string `json:"excludePaths"`
}

func (d *DomainRedirect) Valid() error {
	if d.Enabled && d.TargetDomain == "" {
		return ErrMissingTargetDomain
	}
	return nil
}

// Applies reports whether a request for host and path should be sent back to
// TargetDomain once verified.
func (d DomainRedirect) Applies(host, path string) bool {
	if !d.Enabled || d.TargetDomain == "" || !slices.Contains(d.RedirectDomains, host) {
		return false
	}

	for _, prefix := range d.ExcludePaths {
		if strings.HasPrefix(path, prefix) {
			return false
		}
	}

	return true
}

type Challenges struct {
	EnabledTypes []ChallengeType `json:"enabledTypes"`
	DefaultType  ChallengeType   `json:"defaultType"`
	AutoVerify   AutoVerify      `json:"autoVerify"`
	Captcha      CaptchaParams   `json:"captcha"`
	Puzzle       PuzzleParams    `json:"puzzle"`
}

func (c *Challenges) Valid() error {
	var errs []error

	for _, t := range c.EnabledTypes {
		if err := t.Valid(); err != nil {
			errs = append(errs, err)
		}
	}

	if c.DefaultType != "" {
		if err := c.DefaultType.Valid(); err != nil {
			errs = append(errs, err)
		}
	}

	if err := c.AutoVerify.Valid(); err != nil {
		errs = append(errs, err)
	}

	if err := c.Captcha.Valid(); err != nil {
		errs = append(errs, err)
	}

	if err := c.Puzzle.Valid(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) != 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Select picks the challenge type for a new session: DefaultType when it is
// enabled, else the first enabled type, else captcha.
func (c Challenges) Select() ChallengeType {
	if len(c.EnabledTypes) == 0 {
		return TypeCaptcha
	}

	if slices.Contains(c.EnabledTypes, c.DefaultType) {
		return c.DefaultType
	}

	return c.EnabledTypes[0]
}

type AutoVerify struct {
	Enabled   bool    `json:"enabled"`
	Threshold float64 `json:"threshold"`
	Weights   Weights `json:"weights"`

	// Expression is an optional CEL expression that replaces the
	// score >= threshold decision.
	Expression *ExpressionOrList `json:"expression,omitempty"`
}

func (a *AutoVerify) Valid() error {
	var errs []error

	if a.Threshold < 0 || a.Threshold > 1 {
		errs = append(errs, fmt.Errorf("%w, got %v", ErrThresholdNotValid, a.Threshold))
	}

	if err := a.Weights.Valid(); err != nil {
		errs = append(errs, err)
	}

	if a.Expression != nil {
		if err := a.Expression.Valid(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) != 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Weights scale each trust sub-score. They are heuristics and are expected
// to be tuned per deployment.
type Weights struct {
	UserAgent   float64 `json:"userAgent"`
	Interaction float64 `json:"interaction"`
	Screen      float64 `json:"screen"`
	Timezone    float64 `json:"timezone"`
	Fingerprint float64 `json:"fingerprint"`
	Referer     float64 `json:"referer"`
}

func (w *Weights) Valid() error {
	for _, v := range []float64{w.UserAgent, w.Interaction, w.Screen, w.Timezone, w.Fingerprint, w.Referer} {
		if v < 0 {
			return ErrNegativeWeight
		}
	}
	return nil
}

type CaptchaParams struct {
	Length     int `json:"length"`
	NoiseLevel int `json:"noiseLevel"`
	FontSize   int `json:"fontSize"`
	Width      int `json:"width"`
	Height     int `json:"height"`
}

func (c *CaptchaParams) Valid() error {
	if c.Length < 1 || c.Length > 32 {
		return fmt.Errorf("%w, got %d", ErrCaptchaLengthNotValid, c.Length)
	}
	return nil
}

type PuzzleParams struct {
	Difficulty Difficulty `json:"difficulty"`
	Timeout    int64      `json:"timeout"` // milliseconds
}

func (p *PuzzleParams) Valid() error {
	return p.Difficulty.Valid()
}

type Security struct {
	RateLimiting RateLimit `json:"rateLimiting"`

	// APIRateLimiting is the budget for /verify and /api. RateLimiting is
	// used when it is nil.
	APIRateLimiting *RateLimit `json:"apiRateLimiting,omitempty"`

	Whitelist AccessList `json:"whitelist"`
	Blacklist AccessList `json:"blacklist"`
}

func (s *Security) Valid() error {
	var errs []error

	if err := s.RateLimiting.Valid(); err != nil {
		errs = append(errs, err)
	}

	if s.APIRateLimiting != nil {
		if err := s.APIRateLimiting.Valid(); err != nil {
			errs = append(errs, fmt.Errorf("apiRateLimiting: %w", err))
		}
	}

	if err := s.Whitelist.Valid(); err != nil {
		errs = append(errs, fmt.Errorf("whitelist: %w", err))
	}

	if err := s.Blacklist.Valid(); err != nil {
		errs = append(errs, fmt.Errorf("blacklist: %w", err))
	}

	if len(errs) != 0 {
		return errors.Join(errs...)
	}

	return nil
}

// APILimit returns the effective rate limit for the verification and API
// endpoints.
func (s Security) APILimit() RateLimit {
	if s.APIRateLimiting != nil {
		return *s.APIRateLimiting
	}
	return s.RateLimiting
}

type RateLimit struct {
	Enabled     bool  `json:"enabled"`
	MaxRequests int   `json:"maxRequests"`
	WindowMs    int64 `json:"windowMs"`
}

func (r *RateLimit) Valid() error {
	if !r.Enabled {
		return nil
	}

	var errs []error

	if r.MaxRequests < 1 {
		errs = append(errs, ErrMaxRequestsNotValid)
	}

	if r.WindowMs <= 0 {
		errs = append(errs, ErrWindowNotValid)
	}

	if len(errs) != 0 {
		return errors.Join(errs...)
	}

	return nil
}

func (r RateLimit) Window() time.Duration {
	return time.Duration(r.WindowMs) * time.Millisecond
}

// AccessList is a set of IP addresses or CIDR prefixes and user agent
// patterns. User agent entries may contain * wildcards.
type AccessList struct {
	UserAgents  []string `json:"userAgents"`
	IPAddresses []string `json:"ipAddresses"`
}

func (a *AccessList) Valid() error {
	var errs []error

	for _, ip := range a.IPAddresses {
		if _, err := ParseIPEntry(ip); err != nil {
			errs = append(errs, err)
		}
	}

	for _, ua := range a.UserAgents {
		if strings.TrimSpace(ua) == "" {
			errs = append(errs, ErrEmptyUserAgentEntry)
		}
	}

	if len(errs) != 0 {
		return errors.Join(errs...)
	}

	return nil
}

func (a AccessList) Clone() AccessList {
	return AccessList{
		UserAgents:  slices.Clone(a.UserAgents),
		IPAddresses: slices.Clone(a.IPAddresses),
	}
}

// ParseIPEntry accepts a single address or a CIDR prefix and returns it as
// a prefix. Single addresses become /32 or /128.
func ParseIPEntry(entry string) (netip.Prefix, error) {
	entry = strings.TrimSpace(entry)

	if strings.Contains(entry, "/") {
		pfx, err := netip.ParsePrefix(entry)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("%w: %q: %w", ErrInvalidIPEntry, entry, err)
		}
		return pfx.Masked(), nil
	}

	addr, err := netip.ParseAddr(entry)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("%w: %q: %w", ErrInvalidIPEntry, entry, err)
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

type Logging struct {
	Level       string `json:"level"`
	Enabled     bool   `json:"enabled"`
	FileLogging bool   `json:"fileLogging"`
	LogFilePath string `json:"logFilePath"`
}

type Other struct {
	Version           string `json:"version"`
	Maintainer        string `json:"maintainer"`
	AllowPublicAccess bool   `json:"allowPublicAccess"`
}
