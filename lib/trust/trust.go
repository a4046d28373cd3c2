// Package trust scores how likely a client is to be a human from the
// signals it sends.
//
// The score is a heuristic. Every input is client-controlled, so a bot that
// knows the weights can reach any score it wants. Use it to spare humans a
// challenge, never as the only thing standing between a bot and a resource.
package trust

import (
	"math"
	"net"
	"net/url"
	"strings"

	"github.com/mssola/useragent"
	"github.com/uvensys/miaoeyes/lib/config"
	"golang.org/x/net/publicsuffix"
)

const (
	// MinScreenWidth is the narrowest screen that counts as plausible.
	MinScreenWidth = 300

	// MinFingerprintLength is the shortest canvas or webgl payload that
	// counts as a fingerprint.
	MinFingerprintLength = 16
)

var botMarkers = []string{"bot", "crawler", "spider"}

// Score returns the weighted sum of the sub-scores, clamped to [0, 1]. Each
// sub-score is itself within [0, 1] and non-decreasing in its signal, so
// improving one signal never lowers the result.
func Score(s Signals, w config.Weights) float64 {
	total := nonNegative(w.UserAgent)*userAgentScore(s.UserAgent) +
		nonNegative(w.Interaction)*clamp(s.Interaction) +
		nonNegative(w.Screen)*boolScore(s.ScreenWidth >= MinScreenWidth) +
		nonNegative(w.Timezone)*boolScore(s.TimezoneOffset != 0) +
		nonNegative(w.Fingerprint)*boolScore(len(s.Canvas) >= MinFingerprintLength || len(s.WebGL) >= MinFingerprintLength) +
		nonNegative(w.Referer)*boolScore(SameSite(s.Referer, s.Host))

	return clamp(total)
}

// IsHumanLikely is the default decision.
func IsHumanLikely(score, threshold float64) bool {
	return score >= threshold
}

func userAgentScore(ua string) float64 {
	if strings.TrimSpace(ua) == "" {
		return 0
	}

	lower := strings.ToLower(ua)
	for _, marker := range botMarkers {
		if strings.Contains(lower, marker) {
			return 0
		}
	}

	if useragent.New(ua).Bot() {
		return 0
	}

	return 1
}

// SameSite reports whether referer points at the same registrable domain
// as host. Hosts without a public suffix (IP addresses, localhost) must
// match exactly.
func SameSite(referer, host string) bool {
	if referer == "" || host == "" {
		return false
	}

	u, err := url.Parse(referer)
	if err != nil {
		return false
	}

	refHost := strings.ToLower(u.Hostname())
	siteHost := strings.ToLower(host)
	if h, _, err := net.SplitHostPort(siteHost); err == nil {
		siteHost = h
	}
	siteHost = strings.Trim(siteHost, "[]")

	if refHost == "" {
		return false
	}
	if refHost == siteHost {
		return true
	}
	if net.ParseIP(refHost) != nil || net.ParseIP(siteHost) != nil {
		return false
	}

	refSite, err := publicsuffix.EffectiveTLDPlusOne(refHost)
	if err != nil {
		return false
	}
	siteSite, err := publicsuffix.EffectiveTLDPlusOne(siteHost)
	if err != nil {
		return false
	}

	return refSite == siteSite
}

func boolScore(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func nonNegative(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	return v
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
