package web

import (
	"net/http"

	"github.com/a-h/templ"
	"github.com/uvensys/miaoeyes/internal"
	"github.com/uvensys/miaoeyes/lib/challenge"
	"github.com/uvensys/miaoeyes/lib/localization"
)

// Renderer is the default challenge.Renderer.
type Renderer struct {
	// Status is the HTTP status of the challenge page. Zero means 200.
	Status int
}

var _ challenge.Renderer = Renderer{}

func (rr Renderer) RenderChallenge(w http.ResponseWriter, r *http.Request, pub challenge.Public) {
	localizer := localization.GetLocalizer(r)

	status := rr.Status
	if status == 0 {
		status = http.StatusOK
	}

	handler := internal.GzipMiddleware(1, internal.NoStoreCache(templ.Handler(
		Base(localizer.T("making_sure_not_bot"), Challenge(pub, localizer), localizer),
		templ.WithStatus(status),
	)))
	handler.ServeHTTP(w, r)
}

// RenderError shows the error page with msg.
func RenderError(w http.ResponseWriter, r *http.Request, msg string, status int) {
	localizer := localization.GetLocalizer(r)

	internal.NoStoreCache(templ.Handler(
		Base(localizer.T("error_title"), ErrorPage(msg, localizer), localizer),
		templ.WithStatus(status),
	)).ServeHTTP(w, r)
}
