package lib

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/uvensys/miaoeyes"
	"github.com/uvensys/miaoeyes/internal"
	"github.com/uvensys/miaoeyes/lib/challenge"
	"github.com/uvensys/miaoeyes/lib/config"
	"github.com/uvensys/miaoeyes/lib/configstore"
	"github.com/uvensys/miaoeyes/lib/localization"
	"github.com/uvensys/miaoeyes/lib/policy"
	"github.com/uvensys/miaoeyes/lib/ratelimit"
	"github.com/uvensys/miaoeyes/lib/session"
	"github.com/uvensys/miaoeyes/lib/stats"
	"github.com/uvensys/miaoeyes/lib/store"
	"github.com/uvensys/miaoeyes/lib/token"
	"github.com/uvensys/miaoeyes/lib/trust"
	"github.com/uvensys/miaoeyes/web"
)

var (
	ErrValidation = errors.New("lib: request is not valid")
	errNoToken    = errors.New("lib: request carries no token")
)

// maxBodySize bounds verification and admin request bodies.
const maxBodySize = 64 << 10

var (
	requestsProxied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "miaoeyes_proxied_requests_total",
		Help: "Number of requests proxied through MiaoEyes to upstream targets",
	}, []string{"host"})

	challengesIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "miaoeyes_challenges_issued",
		Help: "The total number of challenges issued",
	}, []string{"method"})
)

// verifiedAddress is what /api/check-verification remembers per client
// address.
type verifiedAddress struct {
	ChallengeID string    `json:"challengeId"`
	VerifiedAt  time.Time `json:"verifiedAt"`
}

type Server struct {
	next       http.Handler
	mux        *http.ServeMux
	handler    http.Handler
	config     configstore.Store
	policies   policy.Cache
	deciders   trust.Cache
	sessions   *session.Registry
	tokens     *token.Issuer
	stats      stats.Sink
	verified   *store.JSON[verifiedAddress]
	limiter    *ratelimit.Limiter
	apiLimiter *ratelimit.Limiter
	renderer   challenge.Renderer
	drawer     challenge.Drawer
	opts       Options
	started    time.Time
}

// Run does the periodic maintenance: the session sweep and rate limiter
// cleanup. It returns when ctx is done.
func (s *Server) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		s.sessions.Run(ctx, s.opts.SweepInterval)
	}()

	for _, l := range []*ratelimit.Limiter{s.limiter, s.apiLimiter} {
		go func() {
			defer wg.Done()
			l.Run(ctx, time.Minute)
		}()
	}

	wg.Wait()
}

func (s *Server) policyFor(snap configstore.Snapshot) *policy.ParsedConfig {
	pc, err := s.policies.For(snap.Version, snap.Config.Security)
	if err != nil {
		slog.Error("can't compile access lists, keeping the previous ones", "version", snap.Version, "err", err)
	}
	return pc
}

func logCheck(lg *slog.Logger, cr policy.CheckResult) {
	cr.Count()
	lg.Debug("check result", "check_result", cr)
}

// denyListed rejects clients on the deny-list before anything else sees
// them.
func (s *Server) denyListed(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rule, ok := s.policyFor(s.config.Get()).Deny.Match(internal.ClientIP(r), r.UserAgent())
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		lg := internal.GetRequestLogger(r)
		cr := policy.CheckResult{State: policy.StateDenied, Rule: rule}
		cr.Count()
		lg.Info("explicit deny", "check_result", cr)

		s.ClearCookie(w, CookieOpts{Host: r.Host, Path: cookiePath()})
		s.respondWithCode(w, r, http.StatusForbidden, codeAccessDenied)
	})
}

func (s *Server) maybeReverseProxyHttpStatusOnly(w http.ResponseWriter, r *http.Request) {
	s.maybeReverseProxy(w, r, true)
}

func (s *Server) maybeReverseProxyOrPage(w http.ResponseWriter, r *http.Request) {
	s.maybeReverseProxy(w, r, false)
}

func (s *Server) maybeReverseProxy(w http.ResponseWriter, r *http.Request, httpStatusOnly bool) {
	lg := internal.GetRequestLogger(r)
	snap := s.config.Get()
	cfg := snap.Config

	if !cfg.Verification.Enabled {
		lg.Debug("verification is disabled, passing request through")
		s.ServeHTTPNext(w, r)
		return
	}

	cr := s.policyFor(snap).Check(internal.ClientIP(r), r.UserAgent())
	if cr.State == policy.StateAllowListed {
		logCheck(lg, cr)
		r.Header.Set("X-MiaoEyes-Status", "ALLOW")
		s.ServeHTTPNext(w, r)
		return
	}

	claims, err := s.tokenFromRequest(r)
	switch {
	case err == nil:
		logCheck(lg, policy.CheckResult{State: policy.StateVerified, Rule: "token"})

		if cfg.DomainRedirect.Applies(r.Host, r.URL.Path) {
			http.Redirect(w, r, "https://"+cfg.DomainRedirect.TargetDomain+r.URL.RequestURI(), http.StatusFound)
			return
		}

		r.Header.Set("X-MiaoEyes-Status", "PASS")
		s.ServeHTTPNext(w, r)
		return
	case errors.Is(err, errNoToken):
		lg.Debug("no token in request", "path", r.URL.Path)
	default:
		lg.Debug("token rejected", "path", r.URL.Path, "err", err, "challenge_id", claimsID(claims))
		s.ClearCookie(w, CookieOpts{Host: r.Host, Path: cookiePath()})
	}

	if httpStatusOnly {
		localizer := localization.GetLocalizer(r)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(localizer.T("unauthorized")))
		return
	}

	pub, err := s.sessions.Create(r.Context(), trust.FromRequest(r))
	if err != nil {
		lg.Error("can't create challenge", "err", err)
		web.RenderError(w, r, localization.GetLocalizer(r).T("internal_error"), http.StatusInternalServerError)
		return
	}

	s.stats.Record(stats.OutcomeRequest)
	challengesIssued.WithLabelValues("embedded").Inc()
	logCheck(lg, policy.CheckResult{State: policy.StateChallengePending, Rule: string(pub.Type)})

	s.renderer.RenderChallenge(w, r, pub)
}

func claimsID(c *token.Claims) string {
	if c == nil {
		return ""
	}
	return c.ChallengeID
}

// tokenFromRequest reads the token from the auth cookie or the token
// header.
func (s *Server) tokenFromRequest(r *http.Request) (*token.Claims, error) {
	raw := r.Header.Get(miaoeyes.TokenHeader)
	if raw == "" {
		ckie, err := r.Cookie(miaoeyes.CookieName)
		if err != nil {
			return nil, errNoToken
		}
		raw = ckie.Value
	}

	if raw == "" {
		return nil, errNoToken
	}

	return s.tokens.Validate(raw)
}

type challengeResponse struct {
	challenge.Public
	Token               string `json:"token,omitempty"`
	Whitelisted         bool   `json:"whitelisted,omitempty"`
	RequiresInteraction bool   `json:"requiresInteraction,omitempty"`
	AutoVerified        bool   `json:"autoVerified,omitempty"`
}

// plainTTL is the token lifetime without the hard difficulty bonus.
func plainTTL(v config.Verification) time.Duration {
	if ttl := v.TokenTTL(); ttl > 0 {
		return ttl
	}
	return miaoeyes.DefaultTokenExpiry
}

func (s *Server) CreateChallenge(w http.ResponseWriter, r *http.Request) {
	lg := internal.GetRequestLogger(r)
	snap := s.config.Get()
	cfg := snap.Config

	if !cfg.Verification.Enabled {
		s.respondWithCode(w, r, http.StatusForbidden, codeVerificationDisabled)
		return
	}

	cr := s.policyFor(snap).Check(internal.ClientIP(r), r.UserAgent())
	if cr.State == policy.StateAllowListed {
		tok, err := s.tokens.Issue(token.Claims{
			ChallengeID: token.WhitelistedChallengeID,
			Whitelisted: true,
		}, plainTTL(cfg.Verification))
		if err != nil {
			lg.Error("can't sign token", "err", err)
			s.respondWithCode(w, r, http.StatusInternalServerError, codeInternal)
			return
		}

		logCheck(lg, cr)
		s.stats.Record(stats.OutcomeVerified)

		writeJSON(w, http.StatusOK, challengeResponse{
			Public: challenge.Public{
				ID:        "whitelisted",
				Type:      config.TypeNone,
				Timestamp: time.Now().UnixMilli(),
			},
			Token:       tok,
			Whitelisted: true,
		})
		return
	}

	signals := trust.FromRequest(r)
	requiresInteraction := false

	if auto, _ := strconv.ParseBool(r.URL.Query().Get("autoVerify")); auto && cfg.Challenges.AutoVerify.Enabled {
		resp, ok := s.tryAutoVerify(r.Context(), lg, snap, signals)
		if ok {
			writeJSON(w, http.StatusOK, challengeResponse{
				Public: challenge.Public{
					ID:        resp.challengeID,
					Type:      config.TypeAuto,
					Timestamp: resp.Timestamp,
				},
				Token:        resp.Token,
				AutoVerified: true,
			})
			return
		}
		requiresInteraction = true
	}

	pub, err := s.sessions.Create(r.Context(), signals)
	if err != nil {
		lg.Error("can't create challenge", "err", err)
		s.respondWithCode(w, r, http.StatusInternalServerError, codeInternal)
		return
	}

	s.stats.Record(stats.OutcomeRequest)
	challengesIssued.WithLabelValues("api").Inc()
	logCheck(lg, policy.CheckResult{State: policy.StateChallengePending, Rule: string(pub.Type)})

	writeJSON(w, http.StatusOK, challengeResponse{
		Public:              pub,
		RequiresInteraction: requiresInteraction,
	})
}

type autoVerifyResponse struct {
	Verified            bool    `json:"verified"`
	Token               string  `json:"token,omitempty"`
	RequiresInteraction bool    `json:"requiresInteraction,omitempty"`
	Score               float64 `json:"score"`
	Timestamp           int64   `json:"timestamp"`

	challengeID string
}

// tryAutoVerify scores signals and issues a token when the client looks
// human. A failing expression or signing error never admits the client.
func (s *Server) tryAutoVerify(ctx context.Context, lg *slog.Logger, snap configstore.Snapshot, signals trust.Signals) (autoVerifyResponse, bool) {
	resp := autoVerifyResponse{Timestamp: time.Now().UnixMilli()}

	d, err := s.deciders.For(snap.Version, snap.Config.Challenges.AutoVerify)
	if err != nil {
		lg.Error("can't compile auto-verify expression, using the threshold", "err", err)
	}

	dec, err := d.Decide(signals)
	resp.Score = dec.Score
	if err != nil {
		lg.Error("auto-verify expression failed", "err", err)
	}

	cr := policy.CheckResult{State: policy.StateRequiresInteraction, Score: dec.Score}
	if !dec.Human {
		logCheck(lg, cr)
		resp.RequiresInteraction = true
		return resp, false
	}

	id, err := session.NewID()
	if err != nil {
		lg.Error("can't generate challenge id", "err", err)
		resp.RequiresInteraction = true
		return resp, false
	}

	tok, err := s.tokens.Issue(token.Claims{
		ChallengeID:  id,
		Type:         config.TypeAuto,
		AutoVerified: true,
	}, plainTTL(snap.Config.Verification))
	if err != nil {
		lg.Error("can't sign token", "err", err)
		resp.RequiresInteraction = true
		return resp, false
	}

	cr.State = policy.StateAutoVerified
	logCheck(lg, cr)
	s.stats.Record(stats.OutcomeVerified)

	resp.Verified = true
	resp.Token = tok
	resp.challengeID = id
	return resp, true
}

func (s *Server) AutoVerify(w http.ResponseWriter, r *http.Request) {
	lg := internal.GetRequestLogger(r)
	snap := s.config.Get()
	cfg := snap.Config

	if !cfg.Verification.Enabled {
		s.respondWithCode(w, r, http.StatusForbidden, codeVerificationDisabled)
		return
	}

	if !cfg.Challenges.AutoVerify.Enabled {
		writeJSON(w, http.StatusOK, autoVerifyResponse{
			RequiresInteraction: true,
			Timestamp:           time.Now().UnixMilli(),
		})
		return
	}

	resp, _ := s.tryAutoVerify(r.Context(), lg, snap, trust.FromRequest(r))
	writeJSON(w, http.StatusOK, resp)
}

type verifyRequest struct {
	ChallengeID string `json:"challengeId"`
	Response    string `json:"response"`
}

type verifyResponse struct {
	Success        bool   `json:"success"`
	Verified       bool   `json:"verified"`
	Token          string `json:"token,omitempty"`
	AttemptsLeft   *int   `json:"attemptsLeft,omitempty"`
	HighDifficulty bool   `json:"highDifficulty,omitempty"`
	Error          string `json:"error,omitempty"`
	Code           string `json:"code,omitempty"`
}

func (s *Server) VerifyResponse(w http.ResponseWriter, r *http.Request) {
	lg := internal.GetRequestLogger(r)
	cfg := s.config.Get().Config

	if !cfg.Verification.Enabled {
		s.respondWithCode(w, r, http.StatusForbidden, codeVerificationDisabled)
		return
	}

	var req verifyRequest
	if err := decodeBody(r, &req, func(form map[string][]string) {
		req.ChallengeID = first(form["challengeId"])
		req.Response = first(form["response"])
	}); err != nil || req.ChallengeID == "" || req.Response == "" {
		lg.Debug("invalid verify request", "err", err)
		s.respondWithCode(w, r, http.StatusBadRequest, codeValidation)
		return
	}

	out := s.sessions.Verify(r.Context(), req.ChallengeID, req.Response)
	lg = lg.With("challenge_id", out.ID, "result", out.Result.String())
	localizer := localization.GetLocalizer(r)

	switch out.Result {
	case session.Success:
		ttl, high := token.TTLFor(cfg.Verification)
		tok, err := s.tokens.Issue(token.Claims{
			ChallengeID:    out.ID,
			Type:           out.Type,
			HighDifficulty: high,
		}, ttl)
		if err != nil {
			lg.Error("can't sign token", "err", err)
			s.respondWithCode(w, r, http.StatusInternalServerError, codeInternal)
			return
		}

		logCheck(lg, policy.CheckResult{State: policy.StateVerified, Rule: string(out.Type)})
		s.stats.Record(stats.OutcomeVerified)
		s.rememberVerified(r, out.ID)

		writeJSON(w, http.StatusOK, verifyResponse{
			Success:        true,
			Verified:       true,
			Token:          tok,
			HighDifficulty: high,
		})

	case session.Mismatch:
		logCheck(lg, policy.CheckResult{State: policy.StateMismatch, Rule: string(out.Type)})
		s.stats.Record(stats.OutcomeFailed)

		left := out.AttemptsLeft
		writeJSON(w, http.StatusOK, verifyResponse{AttemptsLeft: &left})

	case session.AttemptsExhausted:
		logCheck(lg, policy.CheckResult{State: policy.StateAttemptsExhausted, Rule: string(out.Type)})

		left := 0
		writeJSON(w, http.StatusBadRequest, verifyResponse{
			AttemptsLeft: &left,
			Error:        localizer.T(codeAttemptsExhausted.messageID),
			Code:         codeAttemptsExhausted.code,
		})

	default:
		logCheck(lg, policy.CheckResult{State: policy.StateExpired})

		writeJSON(w, http.StatusBadRequest, verifyResponse{
			Error: localizer.T(codeNotFoundOrExpired.messageID),
			Code:  codeNotFoundOrExpired.code,
		})
	}
}

func (s *Server) VerificationStatus(w http.ResponseWriter, r *http.Request) {
	claims, err := s.tokens.Validate(r.PathValue("token"))
	if err != nil {
		code := codeTokenInvalid
		if errors.Is(err, token.ErrExpired) {
			code = codeTokenExpired
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"verified": false,
			"error":    localization.GetLocalizer(r).T(code.messageID),
			"code":     code.code,
		})
		return
	}

	writeJSON(w, http.StatusOK, claims)
}

// VerifyRedirect trades a token for the auth cookie and remembers the client
// address for /api/check-verification.
func (s *Server) VerifyRedirect(w http.ResponseWriter, r *http.Request) {
	lg := internal.GetRequestLogger(r)
	localizer := localization.GetLocalizer(r)

	var req struct {
		Token string `json:"token"`
	}
	if err := decodeBody(r, &req, func(form map[string][]string) {
		req.Token = first(form["token"])
	}); err != nil {
		lg.Debug("invalid verify-redirect request", "err", err)
	}

	claims, err := s.tokens.Validate(req.Token)
	if err != nil {
		lg.Debug("verify-redirect with bad token", "err", err)
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"success": false,
			"message": localizer.T("verification_failed"),
		})
		return
	}

	expiry := miaoeyes.DefaultTokenExpiry
	if claims.ExpiresAt != nil {
		expiry = time.Until(claims.ExpiresAt.Time)
	}

	s.SetCookie(w, CookieOpts{
		Value:  req.Token,
		Host:   r.Host,
		Path:   cookiePath(),
		Expiry: expiry,
	})

	s.rememberVerified(r, claims.ChallengeID)

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": localizer.T("verification_successful"),
	})
}

// rememberVerified records the client address for /api/check-verification.
func (s *Server) rememberVerified(r *http.Request, challengeID string) {
	if err := s.verified.Set(r.Context(), internal.ClientIP(r), verifiedAddress{
		ChallengeID: challengeID,
		VerifiedAt:  time.Now(),
	}, miaoeyes.VerifiedIPWindow); err != nil {
		internal.GetRequestLogger(r).Error("can't remember verified address", "err", err, "challenge_id", challengeID)
	}
}

// CheckVerification is called cross-origin by the validator snippet.
func (s *Server) CheckVerification(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")

	_, err := s.verified.Get(r.Context(), internal.ClientIP(r))
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		internal.GetRequestLogger(r).Error("can't look up verified address", "err", err)
	}

	writeJSON(w, http.StatusOK, map[string]bool{"verified": err == nil})
}

// ValidatorScript serves the snippet protected pages embed to send
// unverified visitors to the challenge page.
func (s *Server) ValidatorScript(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := web.Validator(&buf, requestOrigin(r)); err != nil {
		internal.GetRequestLogger(r).Error("can't render validator", "err", err)
		s.respondWithCode(w, r, http.StatusInternalServerError, codeInternal)
		return
	}

	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	buf.WriteTo(w)
}

func requestOrigin(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

// contentTyper is implemented by drawers that know their media type.
type contentTyper interface {
	ContentType() string
}

func (s *Server) ChallengeImage(w http.ResponseWriter, r *http.Request) {
	drawer := s.drawer
	if drawer == nil {
		drawer = web.SVGDrawer{Params: s.config.Get().Config.Challenges.Captcha}
	}

	var buf bytes.Buffer
	if err := s.sessions.Draw(r.PathValue("challengeId"), drawer, &buf); err != nil {
		if errors.Is(err, session.ErrNotFound) || errors.Is(err, web.ErrNotDrawable) {
			s.respondWithCode(w, r, http.StatusNotFound, codeNotFoundOrExpired)
			return
		}
		internal.GetRequestLogger(r).Error("can't draw challenge", "err", err)
		s.respondWithCode(w, r, http.StatusInternalServerError, codeInternal)
		return
	}

	contentType := "application/octet-stream"
	if ct, ok := drawer.(contentTyper); ok {
		contentType = ct.ContentType()
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	buf.WriteTo(w)
}

// decodeBody reads a JSON body, or a form body through fromForm.
func decodeBody(r *http.Request, dst any, fromForm func(map[string][]string)) error {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBodySize)

	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt == "application/x-www-form-urlencoded" {
		if err := r.ParseForm(); err != nil {
			return errors.Join(ErrValidation, err)
		}
		fromForm(r.PostForm)
		return nil
	}

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return errors.Join(ErrValidation, err)
	}
	return nil
}

func first(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}
