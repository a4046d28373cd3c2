package web

import (
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"strings"

	"github.com/a-h/templ"
	"github.com/uvensys/miaoeyes/lib/challenge"
	"github.com/uvensys/miaoeyes/lib/config"
)

var ErrNotDrawable = errors.New("web: challenge type has no image")

// SVGDrawer draws captcha text as an SVG image with jittered glyphs and
// noise lines. It is a placeholder for a real captcha renderer and offers
// no resistance to OCR.
type SVGDrawer struct {
	Params config.CaptchaParams
}

var _ challenge.Drawer = SVGDrawer{}

// ContentType is the media type Draw produces.
func (SVGDrawer) ContentType() string { return "image/svg+xml" }

func (d SVGDrawer) Draw(w io.Writer, typ config.ChallengeType, secret string) error {
	if typ != config.TypeCaptcha {
		return fmt.Errorf("%w: %s", ErrNotDrawable, typ)
	}

	width := orDefault(d.Params.Width, 120)
	height := orDefault(d.Params.Height, 40)
	fontSize := orDefault(d.Params.FontSize, 30)

	var sb strings.Builder
	fmt.Fprintf(&sb, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">`, width, height, width, height)
	fmt.Fprintf(&sb, `<rect width="100%%" height="100%%" fill="#f6f8fa"/>`)

	for range max(d.Params.NoiseLevel, 0) {
		fmt.Fprintf(&sb, `<line x1="%d" y1="%d" x2="%d" y2="%d" stroke="#8c959f" stroke-width="1"/>`,
			rand.IntN(width), rand.IntN(height), rand.IntN(width), rand.IntN(height))
	}

	step := width / (len(secret) + 1)
	for i, r := range []rune(secret) {
		x := step * (i + 1)
		y := height/2 + fontSize/3 + rand.IntN(5) - 2
		fmt.Fprintf(&sb, `<text x="%d" y="%d" font-family="monospace" font-size="%d" font-weight="bold" fill="#24292f" text-anchor="middle" transform="rotate(%d %d %d)">%s</text>`,
			x, y, fontSize, rand.IntN(31)-15, x, y, templ.EscapeString(string(r)))
	}

	sb.WriteString(`</svg>`)

	_, err := io.WriteString(w, sb.String())
	return err
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
