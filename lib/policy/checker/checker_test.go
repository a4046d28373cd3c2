package checker

import (
	"net/netip"
	"testing"
)

type fixed struct {
	rule string
	ok   bool
}

func (f fixed) Check(Input) (string, bool) { return f.rule, f.ok }
func (f fixed) Hash() string               { return f.rule }

func TestList(t *testing.T) {
	in := Input{IP: netip.MustParseAddr("192.0.2.1"), UserAgent: "curl/8"}

	for _, tt := range []struct {
		name string
		list List
		rule string
		ok   bool
	}{
		{name: "empty", list: nil},
		{name: "no match", list: List{fixed{"a", false}, fixed{"b", false}}},
		{name: "first match wins", list: List{fixed{"a", false}, fixed{"b", true}, fixed{"c", true}}, rule: "b", ok: true},
	} {
		t.Run(tt.name, func(t *testing.T) {
			rule, ok := tt.list.Check(in)
			if ok != tt.ok || rule != tt.rule {
				t.Errorf("got (%q, %v), want (%q, %v)", rule, ok, tt.rule, tt.ok)
			}
		})
	}
}

func TestListHashStable(t *testing.T) {
	a := List{fixed{"a", false}, fixed{"b", false}}
	b := List{fixed{"a", true}, fixed{"b", true}}
	if a.Hash() != b.Hash() {
		t.Error("hash depends on more than the entries")
	}
	if a.Hash() == (List{fixed{"b", false}}).Hash() {
		t.Error("different lists hash the same")
	}
}
