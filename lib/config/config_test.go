package config

import (
	"errors"
	"net/netip"
	"testing"
)

func TestDefaultsValid(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Valid(); err != nil {
		t.Fatalf("default configuration is not valid: %v", err)
	}

	w := cfg.Challenges.AutoVerify.Weights
	sum := w.UserAgent + w.Interaction + w.Screen + w.Timezone + w.Fingerprint + w.Referer
	if sum < 0.999 || sum > 1.001 {
		t.Errorf("default weights sum to %v, want 1", sum)
	}
}

func TestConfigValid(t *testing.T) {
	for _, tt := range []struct {
		name   string
		mutate func(*Config)
		err    error
	}{
		{
			name:   "bad difficulty",
			mutate: func(c *Config) { c.Verification.Difficulty = "nightmare" },
			err:    ErrUnknownDifficulty,
		},
		{
			name:   "zero timeout",
			mutate: func(c *Config) { c.Verification.Timeout = 0 },
			err:    ErrTimeoutNotPositive,
		},
		{
			name:   "zero max attempts",
			mutate: func(c *Config) { c.Verification.MaxAttempts = 0 },
			err:    ErrMaxAttemptsNotValid,
		},
		{
			name:   "zero token expiry",
			mutate: func(c *Config) { c.Verification.TokenExpiry = 0 },
			err:    ErrTokenExpiryNotValid,
		},
		{
			name:   "rate limit without budget",
			mutate: func(c *Config) { c.Security.RateLimiting.MaxRequests = 0 },
			err:    ErrMaxRequestsNotValid,
		},
		{
			name:   "disabled rate limit is not checked",
			mutate: func(c *Config) { c.Security.RateLimiting = RateLimit{} },
		},
		{
			name: "api rate limit checked",
			mutate: func(c *Config) {
				c.Security.APIRateLimiting = &RateLimit{Enabled: true, MaxRequests: 10}
			},
			err: ErrWindowNotValid,
		},
		{
			name:   "bad whitelist ip",
			mutate: func(c *Config) { c.Security.Whitelist.IPAddresses = []string{"10.0.0.300"} },
			err:    ErrInvalidIPEntry,
		},
		{
			name:   "empty blacklist ua",
			mutate: func(c *Config) { c.Security.Blacklist.UserAgents = []string{"  "} },
			err:    ErrEmptyUserAgentEntry,
		},
		{
			name:   "unknown challenge type",
			mutate: func(c *Config) { c.Challenges.EnabledTypes = []ChallengeType{"riddle"} },
			err:    ErrUnknownChallengeType,
		},
		{
			name:   "captcha too long",
			mutate: func(c *Config) { c.Challenges.Captcha.Length = 64 },
			err:    ErrCaptchaLengthNotValid,
		},
		{
			name:   "threshold above one",
			mutate: func(c *Config) { c.Challenges.AutoVerify.Threshold = 1.5 },
			err:    ErrThresholdNotValid,
		},
		{
			name:   "negative weight",
			mutate: func(c *Config) { c.Challenges.AutoVerify.Weights.Referer = -0.1 },
			err:    ErrNegativeWeight,
		},
		{
			name:   "redirect without target",
			mutate: func(c *Config) { c.DomainRedirect.Enabled = true },
			err:    ErrMissingTargetDomain,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)

			err := cfg.Valid()
			if tt.err == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}

			if !errors.Is(err, tt.err) {
				t.Logf("want: %v", tt.err)
				t.Logf("got:  %v", err)
				t.Error("wrong error")
			}
		})
	}
}

func TestChallengesSelect(t *testing.T) {
	for _, tt := range []struct {
		name    string
		enabled []ChallengeType
		def     ChallengeType
		want    ChallengeType
	}{
		{name: "default enabled", enabled: []ChallengeType{TypeCaptcha, TypePuzzle}, def: TypePuzzle, want: TypePuzzle},
		{name: "default not enabled", enabled: []ChallengeType{TypePuzzle, TypeCaptcha}, def: TypeInvisible, want: TypePuzzle},
		{name: "nothing enabled", enabled: nil, def: TypePuzzle, want: TypeCaptcha},
	} {
		t.Run(tt.name, func(t *testing.T) {
			c := Challenges{EnabledTypes: tt.enabled, DefaultType: tt.def}
			if got := c.Select(); got != tt.want {
				t.Errorf("Select() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDomainRedirectApplies(t *testing.T) {
	d := DomainRedirect{
		Enabled:         true,
		TargetDomain:    "www.example.com",
		RedirectDomains: []string{"example.com"},
		ExcludePaths:    []string{"/api", "/static"},
	}

	for _, tt := range []struct {
		host, path string
		want       bool
	}{
		{"example.com", "/", true},
		{"example.com", "/api/check", false},
		{"other.com", "/", false},
	} {
		if got := d.Applies(tt.host, tt.path); got != tt.want {
			t.Errorf("Applies(%q, %q) = %v, want %v", tt.host, tt.path, got, tt.want)
		}
	}
}

func TestParseIPEntry(t *testing.T) {
	for _, tt := range []struct {
		in   string
		want string
		err  bool
	}{
		{in: "192.0.2.1", want: "192.0.2.1/32"},
		{in: "192.0.2.77/24", want: "192.0.2.0/24"},
		{in: "2001:db8::1", want: "2001:db8::1/128"},
		{in: "::ffff:192.0.2.1", want: "192.0.2.1/32"},
		{in: "not-an-ip", err: true},
		{in: "10.0.0.0/33", err: true},
	} {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseIPEntry(tt.in)
			if tt.err {
				if !errors.Is(err, ErrInvalidIPEntry) {
					t.Fatalf("want ErrInvalidIPEntry, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != netip.MustParsePrefix(tt.want) {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCloneIsDeep(t *testing.T) {
	orig := Defaults()
	cp := orig.Clone()
	cp.Security.Whitelist.IPAddresses = append(cp.Security.Whitelist.IPAddresses, "10.0.0.1")
	cp.Challenges.EnabledTypes[0] = TypeInvisible

	if len(orig.Security.Whitelist.IPAddresses) != 0 {
		t.Error("clone shares whitelist backing array")
	}
	if orig.Challenges.EnabledTypes[0] != TypeCaptcha {
		t.Error("clone shares enabledTypes backing array")
	}
}
