package policy

import (
	"log/slog"
	"testing"

	"github.com/uvensys/miaoeyes/lib/config"
)

func TestParsedConfigCheck(t *testing.T) {
	sec := config.Security{
		Whitelist: config.AccessList{
			IPAddresses: []string{"10.0.0.0/8"},
			UserAgents:  []string{"*UptimeRobot*"},
		},
		Blacklist: config.AccessList{
			IPAddresses: []string{"10.6.6.6"},
			UserAgents:  []string{"sqlmap"},
		},
	}

	pc, err := ParseConfig(1, sec)
	if err != nil {
		t.Fatal(err)
	}

	for _, tt := range []struct {
		name  string
		ip    string
		ua    string
		state State
	}{
		{name: "allow by ip", ip: "10.1.2.3", state: StateAllowListed},
		{name: "allow by ua", ip: "192.0.2.1", ua: "Mozilla/5.0+(compatible; UptimeRobot/2.0)", state: StateAllowListed},
		{name: "deny wins over allow", ip: "10.6.6.6", state: StateDenied},
		{name: "deny by ua", ip: "10.1.2.3", ua: "sqlmap/1.7", state: StateDenied},
		{name: "unlisted", ip: "192.0.2.1", ua: "Mozilla/5.0", state: StateUnchecked},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if got := pc.Check(tt.ip, tt.ua); got.State != tt.state {
				t.Errorf("got %s, want %s", got.State, tt.state)
			}
		})
	}
}

func TestCache(t *testing.T) {
	var c Cache

	first, err := c.For(1, config.Security{Whitelist: config.AccessList{IPAddresses: []string{"192.0.2.1"}}})
	if err != nil {
		t.Fatal(err)
	}

	same, err := c.For(1, config.Security{})
	if err != nil {
		t.Fatal(err)
	}
	if same != first {
		t.Error("same version was recompiled")
	}

	bad, err := c.For(2, config.Security{Whitelist: config.AccessList{IPAddresses: []string{"bogus"}}})
	if err == nil {
		t.Fatal("want error for bad entry")
	}
	if bad != first {
		t.Error("failed compile did not keep previous lists")
	}

	next, err := c.For(3, config.Security{})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := next.Allow.MatchIP("192.0.2.1"); ok {
		t.Error("new version still matches old entry")
	}
}

func TestCheckResultLogValue(t *testing.T) {
	v := CheckResult{State: StateAllowListed, Rule: "ip:10.0.0.0/8"}.LogValue()
	if v.Kind() != slog.KindGroup {
		t.Fatalf("want group, got %s", v.Kind())
	}

	attrs := v.Group()
	if len(attrs) != 2 || attrs[1].Value.String() != "ip:10.0.0.0/8" {
		t.Errorf("unexpected attrs: %v", attrs)
	}

	if !StateVerified.Admitted() || StateMismatch.Terminal() || !StateExpired.Terminal() {
		t.Error("state classification is wrong")
	}
}
