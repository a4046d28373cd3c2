package web

import (
	"bytes"
	"strings"
	"testing"

	"github.com/uvensys/miaoeyes"
)

func TestValidator(t *testing.T) {
	for _, tt := range []struct {
		name       string
		origin     string
		basePrefix string
		check      string
		verify     string
	}{
		{
			name:   "plain",
			origin: "https://gate.example",
			check:  `"check":"https://gate.example/api/check-verification"`,
			verify: `"verify":"https://gate.example/verify"`,
		},
		{
			name:   "trailing slash",
			origin: "http://gate.example:8923/",
			check:  `"check":"http://gate.example:8923/api/check-verification"`,
			verify: `"verify":"http://gate.example:8923/verify"`,
		},
		{
			name:       "base prefix",
			origin:     "https://gate.example",
			basePrefix: "/miaoeyes",
			check:      `"check":"https://gate.example/miaoeyes/api/check-verification"`,
			verify:     `"verify":"https://gate.example/miaoeyes/verify"`,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			old := miaoeyes.BasePrefix
			miaoeyes.BasePrefix = tt.basePrefix
			t.Cleanup(func() { miaoeyes.BasePrefix = old })

			var buf bytes.Buffer
			if err := Validator(&buf, tt.origin); err != nil {
				t.Fatal(err)
			}

			body := buf.String()
			for _, want := range []string{tt.check, tt.verify, "?originalUrl=", "encodeURIComponent(window.location.href)"} {
				if !strings.Contains(body, want) {
					t.Errorf("validator script does not contain %s", want)
				}
			}
		})
	}
}
