package lib

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/a-h/templ"
	"github.com/uvensys/miaoeyes"
	"github.com/uvensys/miaoeyes/internal"
	"github.com/uvensys/miaoeyes/lib/localization"
	"github.com/uvensys/miaoeyes/lib/ratelimit"
	"github.com/uvensys/miaoeyes/web"
	"golang.org/x/net/publicsuffix"
)

var domainMatchRegexp = regexp.MustCompile(`^((xn--)?[a-z0-9]+(-[a-z0-9]+)*\.)+[a-z]{2,}$`)

// errorCode is a stable machine readable error code and the message shown
// to users for it.
type errorCode struct {
	code      string
	messageID string
}

var (
	codeValidation           = errorCode{"validation_error", "missing_fields"}
	codeNotFoundOrExpired    = errorCode{"not_found_or_expired", "restart_verification"}
	codeAttemptsExhausted    = errorCode{"attempts_exhausted", "too_many_attempts"}
	codeRateLimited          = errorCode{"rate_limited", "rate_limited"}
	codeTokenInvalid         = errorCode{"token_invalid", "token_invalid"}
	codeTokenExpired         = errorCode{"token_expired", "token_invalid"}
	codeVerificationDisabled = errorCode{"verification_disabled", "verification_disabled"}
	codeAccessDenied         = errorCode{"access_denied", "access_denied"}
	codeUnauthorized         = errorCode{"unauthorized", "unauthorized"}
	codeInternal             = errorCode{"internal_error", "internal_error"}
)

type CookieOpts struct {
	Value  string
	Host   string
	Path   string
	Name   string
	Expiry time.Duration
}

func cookiePath() string {
	if miaoeyes.BasePrefix != "" {
		return strings.TrimSuffix(miaoeyes.BasePrefix, "/") + "/"
	}
	return "/"
}

func (s *Server) cookieDomain(host string) string {
	if s.opts.CookieDynamicDomain && domainMatchRegexp.MatchString(host) {
		if etld, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
			return etld
		}
	}
	return s.opts.CookieDomain
}

func (s *Server) SetCookie(w http.ResponseWriter, cookieOpts CookieOpts) {
	var name = miaoeyes.CookieName
	var path = "/"
	if cookieOpts.Name != "" {
		name = cookieOpts.Name
	}
	if cookieOpts.Path != "" {
		path = cookieOpts.Path
	}

	if cookieOpts.Expiry <= 0 {
		cookieOpts.Expiry = miaoeyes.DefaultTokenExpiry
	}

	http.SetCookie(w, &http.Cookie{
		Name:        name,
		Value:       cookieOpts.Value,
		Expires:     time.Now().Add(cookieOpts.Expiry),
		SameSite:    http.SameSiteLaxMode,
		HttpOnly:    true,
		Domain:      s.cookieDomain(cookieOpts.Host),
		Secure:      s.opts.CookieSecure,
		Partitioned: s.opts.CookiePartitioned,
		Path:        path,
	})
}

func (s *Server) ClearCookie(w http.ResponseWriter, cookieOpts CookieOpts) {
	var name = miaoeyes.CookieName
	var path = "/"
	if cookieOpts.Name != "" {
		name = cookieOpts.Name
	}
	if cookieOpts.Path != "" {
		path = cookieOpts.Path
	}

	http.SetCookie(w, &http.Cookie{
		Name:        name,
		Value:       "",
		MaxAge:      -1,
		Expires:     time.Now().Add(-1 * time.Minute),
		SameSite:    http.SameSiteLaxMode,
		HttpOnly:    true,
		Partitioned: s.opts.CookiePartitioned,
		Domain:      s.cookieDomain(cookieOpts.Host),
		Secure:      s.opts.CookieSecure,
		Path:        path,
	})
}

// https://github.com/oauth2-proxy/oauth2-proxy/blob/master/pkg/upstream/http.go#L124
type UnixRoundTripper struct {
	Transport *http.Transport
}

// set bare minimum stuff
func (t UnixRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	if req.Host == "" {
		req.Host = "localhost"
	}
	req.URL.Host = req.Host // proxy error: no Host in request URL
	req.URL.Scheme = "http" // make http.Transport happy and avoid an infinite recursion
	return t.Transport.RoundTrip(req)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// respondWithCode writes the JSON error body {success, error, code}.
func (s *Server) respondWithCode(w http.ResponseWriter, r *http.Request, status int, ec errorCode, details ...string) {
	body := map[string]any{
		"success": false,
		"error":   localization.GetLocalizer(r).T(ec.messageID),
		"code":    ec.code,
	}
	if len(details) != 0 {
		body["details"] = strings.Join(details, "; ")
	}
	writeJSON(w, status, body)
}

func (s *Server) rejectRateLimited(w http.ResponseWriter, r *http.Request, _ ratelimit.Decision) {
	s.respondWithCode(w, r, http.StatusTooManyRequests, codeRateLimited)
}

// requireAdmin lets the request through when public access is allowed or
// it carries the admin bearer token.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.config.Get().Config.Other.AllowPublicAccess {
			next(w, r)
			return
		}

		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if ok && s.opts.AdminToken != "" && subtle.ConstantTimeCompare([]byte(got), []byte(s.opts.AdminToken)) == 1 {
			next(w, r)
			return
		}

		internal.GetRequestLogger(r).Info("admin request rejected")
		s.respondWithCode(w, r, http.StatusUnauthorized, codeUnauthorized)
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) stripBasePrefixFromRequest(r *http.Request) *http.Request {
	if !s.opts.StripBasePrefix || s.opts.BasePrefix == "" {
		return r
	}

	basePrefix := strings.TrimSuffix(s.opts.BasePrefix, "/")
	path := r.URL.Path

	if !strings.HasPrefix(path, basePrefix) {
		return r
	}

	trimmedPath := strings.TrimPrefix(path, basePrefix)
	if trimmedPath == "" {
		trimmedPath = "/"
	}

	// Clone the request and URL
	reqCopy := r.Clone(r.Context())
	urlCopy := *r.URL
	urlCopy.Path = trimmedPath
	reqCopy.URL = &urlCopy

	return reqCopy
}

func (s *Server) ServeHTTPNext(w http.ResponseWriter, r *http.Request) {
	if s.next == nil {
		localizer := localization.GetLocalizer(r)

		templ.Handler(
			web.Base(localizer.T("verification_successful"), web.Passed(localizer), localizer),
		).ServeHTTP(w, r)
		return
	}

	requestsProxied.WithLabelValues(r.Host).Inc()
	r = s.stripBasePrefixFromRequest(r)
	s.next.ServeHTTP(w, r)
}
