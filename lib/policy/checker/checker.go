// Package checker defines the Checker interface and a helper utility to avoid import cycles.
package checker

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/uvensys/miaoeyes/internal"
)

// Input is the client identity an access list is matched against.
type Input struct {
	IP        netip.Addr
	UserAgent string
}

// Impl reports whether an input matches and, if so, which configured entry
// matched.
type Impl interface {
	Check(Input) (string, bool)
	Hash() string
}

type List []Impl

func (l List) Check(in Input) (string, bool) {
	for _, c := range l {
		if rule, ok := c.Check(in); ok {
			return rule, true
		}
	}

	return "", false
}

func (l List) Hash() string {
	var sb strings.Builder

	for _, c := range l {
		fmt.Fprintln(&sb, c.Hash())
	}

	return internal.FastHash(sb.String())
}
