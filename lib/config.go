package lib

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/uvensys/miaoeyes"
	"github.com/uvensys/miaoeyes/internal"
	"github.com/uvensys/miaoeyes/lib/challenge"
	"github.com/uvensys/miaoeyes/lib/config"
	"github.com/uvensys/miaoeyes/lib/configstore"
	"github.com/uvensys/miaoeyes/lib/ratelimit"
	"github.com/uvensys/miaoeyes/lib/session"
	"github.com/uvensys/miaoeyes/lib/stats"
	"github.com/uvensys/miaoeyes/lib/store"
	"github.com/uvensys/miaoeyes/lib/store/memory"
	"github.com/uvensys/miaoeyes/lib/token"
	"github.com/uvensys/miaoeyes/web"

	// challenge implementations
	_ "github.com/uvensys/miaoeyes/lib/challenge/all"
)

type Options struct {
	// Next is the protected site. A nil Next shows a confirmation page to
	// verified clients instead.
	Next http.Handler

	Config   configstore.Store
	Store    store.Interface
	Stats    stats.Sink
	Renderer challenge.Renderer
	Drawer   challenge.Drawer

	CookieDynamicDomain bool
	CookieDomain        string
	CookiePartitioned   bool
	CookieSecure        bool
	BasePrefix          string
	StripBasePrefix     bool

	ED25519PrivateKey ed25519.PrivateKey
	HS512Secret       []byte

	// AdminToken unlocks the admin API when other.allowPublicAccess is off.
	AdminToken string

	SweepInterval time.Duration
}

// LoadConfigOrDefault opens the configuration file at fname. An empty fname
// keeps the defaults in memory. A file that cannot be read leaves the
// defaults in place; a file that is not valid is an error.
func LoadConfigOrDefault(ctx context.Context, fname string) (*configstore.File, error) {
	cs := configstore.New(fname)
	if fname == "" {
		return cs, nil
	}

	if err := cs.Load(ctx); err != nil {
		if errors.Is(err, configstore.ErrInvalidConfig) {
			return nil, fmt.Errorf("can't load config file %s: %w", fname, err)
		}
		slog.Warn("can't read config file, using defaults", "file", fname, "err", err)
	}

	return cs, nil
}

func New(opts Options) (*Server, error) {
	if opts.Config == nil {
		opts.Config = configstore.New("")
	}

	if opts.Store == nil {
		slog.Debug("opts.Store not set, using an in-memory store")
		opts.Store = memory.New(context.Background())
	}

	if opts.Stats == nil {
		opts.Stats = stats.Discard
	}

	if opts.Renderer == nil {
		opts.Renderer = web.Renderer{}
	}

	if opts.SweepInterval <= 0 {
		opts.SweepInterval = miaoeyes.DefaultSweepInterval
	}

	if opts.ED25519PrivateKey == nil && opts.HS512Secret == nil {
		slog.Debug("opts.ED25519PrivateKey not set, generating a new one")
	}

	tokens, err := token.New(token.Options{
		ED25519PrivateKey: opts.ED25519PrivateKey,
		HS512Secret:       opts.HS512Secret,
	})
	if err != nil {
		return nil, fmt.Errorf("lib: can't create token issuer: %w", err)
	}

	miaoeyes.BasePrefix = opts.BasePrefix

	result := &Server{
		next:     opts.Next,
		config:   opts.Config,
		sessions: session.New(func() config.Config { return opts.Config.Get().Config }),
		tokens:   tokens,
		stats:    opts.Stats,
		verified: &store.JSON[verifiedAddress]{Underlying: opts.Store, Prefix: "verified:"},
		renderer: opts.Renderer,
		drawer:   opts.Drawer,
		opts:     opts,
		started:  time.Now(),
	}

	result.limiter = ratelimit.New("global", func() config.RateLimit {
		return opts.Config.Get().Config.Security.RateLimiting
	})
	result.apiLimiter = ratelimit.New("api", func() config.RateLimit {
		return opts.Config.Get().Config.Security.APILimit()
	})
	result.limiter.Reject = result.rejectRateLimited
	result.apiLimiter.Reject = result.rejectRateLimited

	mux := http.NewServeMux()

	// Helper to add global prefix
	registerWithPrefix := func(pattern string, handler http.Handler, method string) {
		if method != "" {
			method = method + " " // methods must end with a space to register with them
		}

		// Ensure there's no double slash when concatenating BasePrefix and pattern
		basePrefix := strings.TrimSuffix(miaoeyes.BasePrefix, "/")
		prefix := method + basePrefix

		// If pattern doesn't start with a slash, add one
		if !strings.HasPrefix(pattern, "/") {
			pattern = "/" + pattern
		}

		mux.Handle(prefix+pattern, handler)
	}

	api := func(h http.HandlerFunc) http.Handler {
		return internal.NoStoreCache(result.apiLimiter.Middleware(h))
	}
	admin := func(h http.HandlerFunc) http.Handler {
		return api(result.requireAdmin(h))
	}

	registerWithPrefix(miaoeyes.VerifyPrefix+"challenge", api(result.CreateChallenge), "GET")
	registerWithPrefix(miaoeyes.VerifyPrefix+"verify", api(result.VerifyResponse), "POST")
	registerWithPrefix(miaoeyes.VerifyPrefix+"status/{token}", api(result.VerificationStatus), "GET")
	registerWithPrefix(miaoeyes.VerifyPrefix+"auto-verify", api(result.AutoVerify), "GET")
	registerWithPrefix(miaoeyes.VerifyPrefix+"verify-redirect", api(result.VerifyRedirect), "POST")
	registerWithPrefix(miaoeyes.VerifyPrefix+"image/{challengeId}", api(result.ChallengeImage), "GET")

	registerWithPrefix(miaoeyes.APIPrefix+"check-verification", api(result.CheckVerification), "GET")
	registerWithPrefix(miaoeyes.APIPrefix+"generate-validator", api(result.ValidatorScript), "GET")
	registerWithPrefix(miaoeyes.APIPrefix+"check", http.HandlerFunc(result.maybeReverseProxyHttpStatusOnly), "")
	registerWithPrefix(miaoeyes.APIPrefix+"health", api(result.Health), "GET")

	registerWithPrefix(miaoeyes.APIPrefix+"config", admin(result.GetConfig), "GET")
	registerWithPrefix(miaoeyes.APIPrefix+"config", admin(result.UpdateConfig), "POST")
	registerWithPrefix(miaoeyes.APIPrefix+"config/reset", admin(result.ResetConfig), "POST")
	registerWithPrefix(miaoeyes.APIPrefix+"config/{section}", admin(result.GetConfigSection), "GET")
	registerWithPrefix(miaoeyes.APIPrefix+"config/{section}", admin(result.UpdateConfigSection), "POST")
	registerWithPrefix(miaoeyes.APIPrefix+"config/whitelist/{kind}/{action}", admin(result.UpdateWhitelist), "POST")
	registerWithPrefix(miaoeyes.APIPrefix+"stats", admin(result.GetStats), "GET")

	registerWithPrefix("/", http.HandlerFunc(result.maybeReverseProxyOrPage), "")

	result.mux = mux
	result.handler = result.limiter.Middleware(result.denyListed(mux))

	return result, nil
}
