// Package web contains the default pages MiaoEyes shows to clients: the
// challenge page and the error page.
package web

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/a-h/templ"
	"github.com/uvensys/miaoeyes"
	"github.com/uvensys/miaoeyes/lib/challenge"
	"github.com/uvensys/miaoeyes/lib/config"
	"github.com/uvensys/miaoeyes/lib/localization"
)

const stylesheet = `body{font-family:system-ui,sans-serif;max-width:32rem;margin:4rem auto;padding:0 1rem;text-align:center;color:#1f2328}` +
	`main{border:1px solid #d0d7de;border-radius:8px;padding:1.5rem}` +
	`img{display:block;margin:1rem auto;border-radius:4px}` +
	`input{font-size:1.25rem;letter-spacing:.25em;text-transform:uppercase;width:10em;text-align:center}` +
	`button{margin-left:.5rem;padding:.4rem 1rem;background:#1890ff;color:#fff;border:0;border-radius:4px;cursor:pointer}` +
	`#status{min-height:1.5em;color:#cf222e}footer{margin-top:2rem;color:#57606a}`

// VerifyPath is where the page scripts find the verification endpoints.
func VerifyPath() string {
	return strings.TrimSuffix(miaoeyes.BasePrefix, "/") + miaoeyes.VerifyPrefix
}

func write(w io.Writer, parts ...string) error {
	for _, p := range parts {
		if _, err := io.WriteString(w, p); err != nil {
			return err
		}
	}
	return nil
}

// Base wraps body in the page chrome.
func Base(title string, body templ.Component, localizer *localization.SimpleLocalizer) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if err := write(w,
			`<!doctype html><html lang="`, templ.EscapeString(localizer.Lang()), `"><head>`,
			`<meta charset="utf-8"><meta name="viewport" content="width=device-width, initial-scale=1">`,
			`<meta name="robots" content="noindex,nofollow">`,
			`<title>`, templ.EscapeString(title), `</title><style>`, stylesheet, `</style></head><body><main>`,
		); err != nil {
			return err
		}

		if err := body.Render(ctx, w); err != nil {
			return err
		}

		return write(w,
			`</main><footer><p>`, templ.EscapeString(localizer.T("protected_by")), `</p>`,
			`<p><small>`, templ.EscapeString(localizer.T("why_am_i_seeing")), `</small></p>`,
			`<p><small>miaoeyes `, templ.EscapeString(miaoeyes.Version), `</small></p></footer></body></html>`,
		)
	})
}

// ErrorPage shows msg with a retry link.
func ErrorPage(msg string, localizer *localization.SimpleLocalizer) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		return write(w,
			`<h1>`, templ.EscapeString(localizer.T("error_title")), `</h1>`,
			`<p>`, templ.EscapeString(msg), `</p>`,
			`<p><a href="">`, templ.EscapeString(localizer.T("try_again")), `</a></p>`,
		)
	})
}

type pageData struct {
	Challenge challenge.Public  `json:"challenge"`
	Prefix    string            `json:"prefix"`
	Messages  map[string]string `json:"messages"`
}

// Challenge is the interactive part of the challenge page. The page script
// posts the answer to the verify endpoint, exchanges the token for the
// auth cookie and reloads.
func Challenge(pub challenge.Public, localizer *localization.SimpleLocalizer) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		data, err := templ.JSONString(pageData{
			Challenge: pub,
			Prefix:    VerifyPath(),
			Messages: map[string]string{
				"wrongAnswer": localizer.T("wrong_answer"),
				"restart":     localizer.T("restart_verification"),
				"failed":      localizer.T("verification_failed"),
			},
		})
		if err != nil {
			return fmt.Errorf("web: can't encode challenge: %w", err)
		}

		if err := write(w,
			`<h1>`, templ.EscapeString(localizer.T("making_sure_not_bot")), `</h1>`,
			`<p>`, templ.EscapeString(localizer.T("challenge_intro")), `</p>`,
		); err != nil {
			return err
		}

		switch pub.Type {
		case config.TypeCaptcha:
			err = write(w,
				`<img id="captcha" alt="captcha" src="`, templ.EscapeString(VerifyPath()+"image/"+pub.ID), `">`,
				`<form id="captcha-form"><label for="answer">`, templ.EscapeString(localizer.T("enter_captcha")), `</label><br>`,
				`<input id="answer" name="response" autocomplete="off" autocapitalize="characters" spellcheck="false" required autofocus>`,
				`<button type="submit">`, templ.EscapeString(localizer.T("submit")), `</button></form>`,
			)
		case config.TypePuzzle:
			err = write(w, `<p id="progress">`, templ.EscapeString(localizer.T("solving_puzzle")), `</p>`)
		default:
			err = write(w, `<p id="progress">`, templ.EscapeString(localizer.T("checking_browser")), `</p>`)
		}
		if err != nil {
			return err
		}

		return write(w,
			`<p id="status" role="status"></p>`,
			`<noscript><p>`, templ.EscapeString(localizer.T("javascript_required")), `</p></noscript>`,
			`<script id="miaoeyes_challenge" type="application/json">`, data, `</script>`,
			`<script>`, script, `</script>`,
		)
	})
}

// Passed is shown to verified clients when there is no upstream to proxy to.
func Passed(localizer *localization.SimpleLocalizer) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		return write(w, `<h1>`, templ.EscapeString(localizer.T("verification_successful")), `</h1>`)
	})
}
