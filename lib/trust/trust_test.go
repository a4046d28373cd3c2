package trust

import (
	"math"
	"net/http/httptest"
	"testing"

	"github.com/uvensys/miaoeyes/lib/config"
)

const firefox = "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0"

func human() Signals {
	return Signals{
		UserAgent:      firefox,
		Host:           "www.example.com",
		Referer:        "https://example.com/landing",
		ScreenWidth:    1920,
		ScreenHeight:   1080,
		TimezoneOffset: -480,
		Canvas:         "data:image/png;base64,iVBORw0KGgo",
		Interaction:    1,
	}
}

func TestScore(t *testing.T) {
	w := config.DefaultWeights()

	for _, tt := range []struct {
		name    string
		signals Signals
		want    float64
	}{
		{name: "nothing", signals: Signals{}, want: 0},
		{name: "everything", signals: human(), want: 1},
		{name: "browser only", signals: Signals{UserAgent: firefox}, want: 0.2},
		{name: "bot marker", signals: Signals{UserAgent: "Mozilla/5.0 (compatible; Googlebot/2.1)"}, want: 0},
		{name: "crawler marker", signals: Signals{UserAgent: "Mozilla/5.0 SomeCrawler/1.0"}, want: 0},
		{name: "half interaction", signals: Signals{Interaction: 0.5}, want: 0.15},
		{name: "interaction clamped", signals: Signals{Interaction: 7}, want: 0.3},
		{name: "negative interaction", signals: Signals{Interaction: -3}, want: 0},
		{name: "narrow screen", signals: Signals{ScreenWidth: 299}, want: 0},
		{name: "screen", signals: Signals{ScreenWidth: 300}, want: 0.1},
		{name: "utc timezone", signals: Signals{TimezoneOffset: 0}, want: 0},
		{name: "short fingerprint", signals: Signals{WebGL: "short"}, want: 0},
		{name: "webgl fingerprint", signals: Signals{WebGL: "ANGLE (NVIDIA GeForce)"}, want: 0.2},
		{name: "foreign referer", signals: Signals{Host: "example.com", Referer: "https://evil.example.net/"}, want: 0},
		{name: "same site referer", signals: Signals{Host: "example.com:8443", Referer: "https://shop.example.com/"}, want: 0.1},
	} {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(tt.signals, w)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Score() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScoreBounded(t *testing.T) {
	heavy := config.Weights{UserAgent: 5, Interaction: 5, Screen: 5, Timezone: 5, Fingerprint: 5, Referer: 5}
	if got := Score(human(), heavy); got != 1 {
		t.Errorf("score with heavy weights = %v, want 1", got)
	}

	negative := config.Weights{UserAgent: -5, Interaction: math.NaN()}
	if got := Score(human(), negative); got != 0 {
		t.Errorf("score with negative weights = %v, want 0", got)
	}

	s := human()
	s.Interaction = math.NaN()
	if got := Score(s, config.DefaultWeights()); got < 0 || got > 1 {
		t.Errorf("score out of range: %v", got)
	}
}

func TestScoreMonotonic(t *testing.T) {
	w := config.DefaultWeights()
	base := Signals{UserAgent: "curl/8.5.0", Host: "example.com"}

	improvements := map[string]func(*Signals){
		"userAgent":   func(s *Signals) { s.UserAgent = firefox },
		"interaction": func(s *Signals) { s.Interaction = 0.6 },
		"screen":      func(s *Signals) { s.ScreenWidth = 1280 },
		"timezone":    func(s *Signals) { s.TimezoneOffset = 60 },
		"canvas":      func(s *Signals) { s.Canvas = "0123456789abcdef" },
		"referer":     func(s *Signals) { s.Referer = "https://example.com/" },
	}

	starts := []Signals{base, human(), {}}
	for name, improve := range improvements {
		for _, start := range starts {
			before := Score(start, w)
			after := start
			improve(&after)
			if got := Score(after, w); got < before {
				t.Errorf("%s: score dropped from %v to %v", name, before, got)
			}
		}
	}
}

func TestSameSite(t *testing.T) {
	for _, tt := range []struct {
		referer, host string
		want          bool
	}{
		{"https://example.com/a", "example.com", true},
		{"https://a.b.example.co.uk/", "www.example.co.uk", true},
		{"https://example.co.uk/", "other.co.uk", false},
		{"http://127.0.0.1:3000/", "127.0.0.1:3000", true},
		{"http://127.0.0.1/", "127.0.0.2", false},
		{"not a url %%", "example.com", false},
		{"", "example.com", false},
	} {
		if got := SameSite(tt.referer, tt.host); got != tt.want {
			t.Errorf("SameSite(%q, %q) = %v, want %v", tt.referer, tt.host, got, tt.want)
		}
	}
}

func TestFromRequest(t *testing.T) {
	req := httptest.NewRequest("GET", "/verify/auto-verify?screenWidth=1440&screenHeight=900&timezoneOffset=-60&plugins=pdf,%20,flash&canvas=abc&interactionScore=0.4&webgl=NaN", nil)
	req.Header.Set("User-Agent", firefox)
	req.Header.Set("Accept-Language", "zh-CN")
	req.Header.Set("Referer", "https://example.com/")
	req.Header.Set("X-Real-Ip", "198.51.100.4")

	s := FromRequest(req)
	if s.ScreenWidth != 1440 || s.ScreenHeight != 900 || s.TimezoneOffset != -60 {
		t.Errorf("screen/timezone wrong: %+v", s)
	}
	if len(s.Plugins) != 2 || s.Plugins[1] != "flash" {
		t.Errorf("plugins wrong: %v", s.Plugins)
	}
	if s.Interaction != 0.4 || s.RemoteAddress != "198.51.100.4" || s.AcceptLanguage != "zh-CN" {
		t.Errorf("unexpected signals: %+v", s)
	}

	bad := FromRequest(httptest.NewRequest("GET", "/?screenWidth=wide&interactionScore=Inf", nil))
	if bad.ScreenWidth != 0 || bad.Interaction != 0 {
		t.Errorf("malformed params were not dropped: %+v", bad)
	}
}
