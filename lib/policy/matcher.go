package policy

import (
	"net/netip"
	"strings"

	"github.com/uvensys/miaoeyes/lib/config"
	"github.com/uvensys/miaoeyes/lib/policy/checker"
)

// Matcher is a compiled access list. The zero value matches nothing.
type Matcher struct {
	ips *RemoteAddrChecker
	uas *UserAgentChecker
}

func NewMatcher(ips, userAgents []string) (*Matcher, error) {
	rac, err := NewRemoteAddrChecker(ips)
	if err != nil {
		return nil, err
	}

	uac, err := NewUserAgentChecker(userAgents)
	if err != nil {
		return nil, err
	}

	return &Matcher{ips: rac, uas: uac}, nil
}

// NewAccessListMatcher compiles a configured access list.
func NewAccessListMatcher(al config.AccessList) (*Matcher, error) {
	return NewMatcher(al.IPAddresses, al.UserAgents)
}

// MatchIP returns the configured entry containing ip. Unparseable addresses
// never match.
func (m *Matcher) MatchIP(ip string) (string, bool) {
	if m == nil || m.ips == nil {
		return "", false
	}

	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return "", false
	}

	return m.ips.Check(checker.Input{IP: addr})
}

func (m *Matcher) MatchUserAgent(ua string) (string, bool) {
	if m == nil || m.uas == nil {
		return "", false
	}

	return m.uas.Check(checker.Input{UserAgent: ua})
}

// Match checks the address first, then the user agent. The returned rule is
// prefixed with "ip:" or "ua:".
func (m *Matcher) Match(ip, ua string) (string, bool) {
	if rule, ok := m.MatchIP(ip); ok {
		return "ip:" + rule, true
	}

	if rule, ok := m.MatchUserAgent(ua); ok {
		return "ua:" + rule, true
	}

	return "", false
}

func (m *Matcher) Hash() string {
	if m == nil || m.ips == nil {
		return ""
	}

	return checker.List{m.ips, m.uas}.Hash()
}
