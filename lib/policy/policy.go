// Package policy compiles the configured allow-list and deny-list and
// records where each request ended up in the admission flow.
package policy

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/uvensys/miaoeyes/lib/config"
)

var (
	Applications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "miaoeyes_policy_results",
		Help: "The admission state each request resolved to",
	}, []string{"state"})

	rebuilds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "miaoeyes_policy_rebuilds_total",
		Help: "Number of times the access lists were recompiled after a config change",
	})
)

// ParsedConfig is the compiled access lists for one config version.
type ParsedConfig struct {
	Version uint64
	Allow   *Matcher
	Deny    *Matcher
}

func ParseConfig(version uint64, sec config.Security) (*ParsedConfig, error) {
	allow, err := NewAccessListMatcher(sec.Whitelist)
	if err != nil {
		return nil, fmt.Errorf("whitelist: %w", err)
	}

	deny, err := NewAccessListMatcher(sec.Blacklist)
	if err != nil {
		return nil, fmt.Errorf("blacklist: %w", err)
	}

	return &ParsedConfig{Version: version, Allow: allow, Deny: deny}, nil
}

// Check resolves the access-list part of the admission flow. The deny-list
// wins over the allow-list. Unlisted clients stay StateUnchecked.
func (pc *ParsedConfig) Check(ip, ua string) CheckResult {
	if rule, ok := pc.Deny.Match(ip, ua); ok {
		return CheckResult{State: StateDenied, Rule: rule}
	}

	if rule, ok := pc.Allow.Match(ip, ua); ok {
		return CheckResult{State: StateAllowListed, Rule: rule}
	}

	return CheckResult{State: StateUnchecked}
}

// Cache keeps the compiled access lists for the most recent config version.
// A version that fails to compile keeps serving the previous lists.
type Cache struct {
	mu  sync.Mutex
	cur *ParsedConfig
}

func (c *Cache) For(version uint64, sec config.Security) (*ParsedConfig, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cur != nil && c.cur.Version == version {
		return c.cur, nil
	}

	pc, err := ParseConfig(version, sec)
	if err != nil {
		if c.cur != nil {
			return c.cur, err
		}
		return &ParsedConfig{Version: version}, err
	}

	rebuilds.Inc()
	c.cur = pc
	return pc, nil
}
