package trust

import (
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/uvensys/miaoeyes/internal"
)

// Signals is what a client tells us about itself, passively through request
// headers and actively through query parameters set by the challenge page
// script. Zero values mean the signal was not sent.
type Signals struct {
	UserAgent      string   `json:"userAgent"`
	AcceptLanguage string   `json:"acceptLanguage"`
	RemoteAddress  string   `json:"remoteAddress"`
	Referer        string   `json:"referer"`
	Host           string   `json:"host"`
	Path           string   `json:"path"`
	ScreenWidth    int      `json:"screenWidth,omitempty"`
	ScreenHeight   int      `json:"screenHeight,omitempty"`
	TimezoneOffset int      `json:"timezoneOffset,omitempty"`
	Plugins        []string `json:"plugins,omitempty"`
	Canvas         string   `json:"canvas,omitempty"`
	WebGL          string   `json:"webgl,omitempty"`
	Interaction    float64  `json:"interactionScore,omitempty"`

	headers http.Header
}

// FromRequest collects signals from request headers and the query string.
// Malformed numeric parameters are treated as absent.
func FromRequest(r *http.Request) Signals {
	q := r.URL.Query()

	s := Signals{
		UserAgent:      r.UserAgent(),
		AcceptLanguage: r.Header.Get("Accept-Language"),
		RemoteAddress:  internal.ClientIP(r),
		Referer:        r.Referer(),
		Host:           r.Host,
		Path:           r.URL.Path,
		ScreenWidth:    queryInt(q, "screenWidth"),
		ScreenHeight:   queryInt(q, "screenHeight"),
		TimezoneOffset: queryInt(q, "timezoneOffset"),
		Canvas:         q.Get("canvas"),
		WebGL:          q.Get("webgl"),
		headers:        r.Header,
	}

	if plugins := q.Get("plugins"); plugins != "" {
		for _, p := range strings.Split(plugins, ",") {
			if p = strings.TrimSpace(p); p != "" {
				s.Plugins = append(s.Plugins, p)
			}
		}
	}

	if v, err := strconv.ParseFloat(q.Get("interactionScore"), 64); err == nil && !math.IsNaN(v) && !math.IsInf(v, 0) {
		s.Interaction = v
	}

	return s
}

func queryInt(q url.Values, key string) int {
	v, err := strconv.Atoi(q.Get(key))
	if err != nil {
		return 0
	}
	return v
}

// Headers returns the request headers the signals were collected from, if
// any.
func (s Signals) Headers() http.Header {
	if s.headers == nil {
		return http.Header{}
	}
	return s.headers
}

// activation exposes the declared signals to CEL. Numbers are doubles so
// expressions can compare them against float literals.
func (s Signals) activation() map[string]any {
	result := map[string]any{}

	if s.AcceptLanguage != "" {
		result["acceptLanguage"] = s.AcceptLanguage
	}
	if s.Referer != "" {
		result["referer"] = s.Referer
	}
	if s.ScreenWidth != 0 {
		result["screenWidth"] = float64(s.ScreenWidth)
	}
	if s.ScreenHeight != 0 {
		result["screenHeight"] = float64(s.ScreenHeight)
	}
	if s.TimezoneOffset != 0 {
		result["timezoneOffset"] = float64(s.TimezoneOffset)
	}
	if len(s.Plugins) != 0 {
		plugins := make([]any, len(s.Plugins))
		for i, p := range s.Plugins {
			plugins[i] = p
		}
		result["plugins"] = plugins
	}
	if s.Canvas != "" {
		result["canvas"] = s.Canvas
	}
	if s.WebGL != "" {
		result["webgl"] = s.WebGL
	}
	if s.Interaction != 0 {
		result["interactionScore"] = s.Interaction
	}

	return result
}
