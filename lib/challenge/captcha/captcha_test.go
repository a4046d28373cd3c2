package captcha

import (
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/uvensys/miaoeyes/lib/challenge"
	"github.com/uvensys/miaoeyes/lib/challenge/challengetest"
	"github.com/uvensys/miaoeyes/lib/config"
)

func TestCommon(t *testing.T) {
	challengetest.Common(t, &Impl{}, func(t *testing.T, issued *challenge.Issued) string {
		return strings.ToLower(issued.Secret)
	})
}

func TestAlphabet(t *testing.T) {
	in := challengetest.Input()
	in.Challenges.Captcha.Length = 6
	rex := regexp.MustCompile(`^[A-HJKMNP-Z2-9]{6}$`)

	for range 2000 {
		issued, err := (&Impl{}).Issue(in)
		if err != nil {
			t.Fatal(err)
		}
		if strings.ContainsAny(issued.Secret, "0O1IL") {
			t.Fatalf("captcha %q uses a confusable character", issued.Secret)
		}
		if !rex.MatchString(issued.Secret) {
			t.Fatalf("captcha %q has the wrong length or alphabet", issued.Secret)
		}
	}
	if strings.ContainsAny(Alphabet, "0O1IL") {
		t.Errorf("alphabet %q contains a confusable character", Alphabet)
	}
}

func TestDefaultLength(t *testing.T) {
	in := challengetest.Input()
	in.Challenges.Captcha = config.CaptchaParams{}

	issued, err := (&Impl{}).Issue(in)
	if err != nil {
		t.Fatal(err)
	}
	if len(issued.Secret) != DefaultLength {
		t.Errorf("got length %d, want %d", len(issued.Secret), DefaultLength)
	}
}

func TestValidate(t *testing.T) {
	i := &Impl{}

	for _, tt := range []struct {
		name   string
		answer string
		err    error
	}{
		{name: "exact", answer: "AB3K"},
		{name: "lowercase", answer: "ab3k"},
		{name: "padded", answer: " ab3k\n"},
		{name: "wrong", answer: "AB3X", err: challenge.ErrFailed},
		{name: "prefix", answer: "AB3", err: challenge.ErrFailed},
		{name: "empty", answer: "", err: challenge.ErrMissingField},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if err := i.Validate("AB3K", tt.answer); !errors.Is(err, tt.err) {
				t.Errorf("got %v, want %v", err, tt.err)
			}
		})
	}
}

func TestIssueParams(t *testing.T) {
	in := challengetest.Input()
	in.Challenges.Captcha = config.CaptchaParams{Length: 5, NoiseLevel: 2, FontSize: 40, Width: 150, Height: 50}

	issued, err := (&Impl{}).Issue(in)
	if err != nil {
		t.Fatal(err)
	}

	want := map[string]any{"length": 5, "noiseLevel": 2, "fontSize": 40, "width": 150, "height": 50}
	for k, v := range want {
		if issued.Params[k] != v {
			t.Errorf("params[%q] = %v, want %v", k, issued.Params[k], v)
		}
	}
	for k, v := range issued.Params {
		if v == issued.Secret {
			t.Errorf("params[%q] leaks the answer", k)
		}
	}
}
