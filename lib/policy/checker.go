package policy

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/gaissmai/bart"
	"github.com/uvensys/miaoeyes/internal"
	"github.com/uvensys/miaoeyes/lib/config"
	"github.com/uvensys/miaoeyes/lib/policy/checker"
)

var (
	ErrMisconfiguration = errors.New("[unexpected] policy: administrator misconfiguration")
)

// RemoteAddrChecker matches client addresses against single addresses and
// CIDR prefixes. Lookups are longest-prefix matches.
type RemoteAddrChecker struct {
	table *bart.Table[string]
	size  int
	hash  string
}

func NewRemoteAddrChecker(entries []string) (*RemoteAddrChecker, error) {
	table := &bart.Table[string]{}
	var errs []error
	var canonical []string

	for _, entry := range entries {
		pfx, err := config.ParseIPEntry(entry)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %w", ErrMisconfiguration, err))
			continue
		}

		table.Insert(pfx, strings.TrimSpace(entry))
		canonical = append(canonical, pfx.String())
	}

	if len(errs) != 0 {
		return nil, errors.Join(errs...)
	}

	slices.Sort(canonical)
	canonical = slices.Compact(canonical)

	return &RemoteAddrChecker{
		table: table,
		size:  len(canonical),
		hash:  internal.SHA256sum(strings.Join(canonical, "\n")),
	}, nil
}

func (rac *RemoteAddrChecker) Check(in checker.Input) (string, bool) {
	if rac.size == 0 || !in.IP.IsValid() {
		return "", false
	}

	return rac.table.Lookup(in.IP.Unmap())
}

func (rac *RemoteAddrChecker) Hash() string {
	return rac.hash
}

type userAgentPattern struct {
	entry  string
	regexp *regexp.Regexp
	lower  string
}

// UserAgentChecker matches user agents case-insensitively. Entries with a *
// are wildcard patterns matched anywhere in the user agent, other entries
// are substrings.
type UserAgentChecker struct {
	patterns []userAgentPattern
	hash     string
}

func NewUserAgentChecker(entries []string) (*UserAgentChecker, error) {
	var errs []error
	result := &UserAgentChecker{}
	var canonical []string

	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		p := userAgentPattern{entry: entry}
		if strings.Contains(entry, "*") {
			parts := strings.Split(entry, "*")
			for i, part := range parts {
				parts[i] = regexp.QuoteMeta(part)
			}

			rex, err := regexp.Compile("(?i)" + strings.Join(parts, ".*"))
			if err != nil {
				errs = append(errs, fmt.Errorf("%w: user agent pattern %q failed parse: %w", ErrMisconfiguration, entry, err))
				continue
			}
			p.regexp = rex
		} else {
			p.lower = strings.ToLower(entry)
		}

		result.patterns = append(result.patterns, p)
		canonical = append(canonical, entry)
	}

	if len(errs) != 0 {
		return nil, errors.Join(errs...)
	}

	slices.Sort(canonical)
	result.hash = internal.SHA256sum(strings.Join(canonical, "\n"))

	return result, nil
}

func (uac *UserAgentChecker) Check(in checker.Input) (string, bool) {
	lower := strings.ToLower(in.UserAgent)

	for _, p := range uac.patterns {
		if p.regexp != nil {
			if p.regexp.MatchString(in.UserAgent) {
				return p.entry, true
			}
			continue
		}

		if strings.Contains(lower, p.lower) {
			return p.entry, true
		}
	}

	return "", false
}

func (uac *UserAgentChecker) Hash() string {
	return uac.hash
}
