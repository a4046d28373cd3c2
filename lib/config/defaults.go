package config

// Defaults returns the built-in configuration. Values in a configuration
// file are merged over this.
func Defaults() Config {
	return Config{
		Verification: Verification{
			Enabled:     true,
			Difficulty:  DifficultyMedium,
			Timeout:     30000,
			MaxAttempts: 5,
			TokenExpiry: 3600,
		},
		DomainRedirect: DomainRedirect{
			Enabled:         false,
			TargetDomain:    "",
			RedirectDomains: []string{},
			ExcludePaths:    []string{"/api", "/static", "/verify", "/favicon.ico"},
		},
		Challenges: Challenges{
			EnabledTypes: []ChallengeType{TypeCaptcha, TypePuzzle},
			DefaultType:  TypeCaptcha,
			AutoVerify: AutoVerify{
				Enabled:   true,
				Threshold: 0.7,
				Weights:   DefaultWeights(),
			},
			Captcha: CaptchaParams{
				Length:     4,
				NoiseLevel: 3,
				FontSize:   30,
				Width:      120,
				Height:     40,
			},
			Puzzle: PuzzleParams{
				Difficulty: DifficultyMedium,
				Timeout:    60000,
			},
		},
		Security: Security{
			RateLimiting: RateLimit{
				Enabled:     true,
				MaxRequests: 100,
				WindowMs:    900000,
			},
			Whitelist: AccessList{UserAgents: []string{}, IPAddresses: []string{}},
			Blacklist: AccessList{UserAgents: []string{}, IPAddresses: []string{}},
		},
		Logging: Logging{
			Level:       "info",
			Enabled:     true,
			FileLogging: false,
			LogFilePath: "../logs/miaoeyes.log",
		},
		Other: Other{
			Version:           "1.0.0",
			Maintainer:        "MiaoEyes Team",
			AllowPublicAccess: true,
		},
	}
}

// DefaultWeights is the trust score weight table used when the
// configuration does not set one. The weights sum to 1.
func DefaultWeights() Weights {
	return Weights{
		UserAgent:   0.2,
		Interaction: 0.3,
		Screen:      0.1,
		Timezone:    0.1,
		Fingerprint: 0.2,
		Referer:     0.1,
	}
}
