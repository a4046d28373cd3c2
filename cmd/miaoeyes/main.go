package main

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/facebookgo/flagenv"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uvensys/miaoeyes"
	"github.com/uvensys/miaoeyes/internal"
	libmiaoeyes "github.com/uvensys/miaoeyes/lib"
	"github.com/uvensys/miaoeyes/lib/config"
	"github.com/uvensys/miaoeyes/lib/stats"
	"github.com/uvensys/miaoeyes/lib/store"
)

var (
	adminToken               = flag.String("admin-token", "", "bearer token for the admin API when other.allowPublicAccess is off")
	basePrefix               = flag.String("base-prefix", "", "base prefix (root URL) the application is served under e.g. /myapp")
	bind                     = flag.String("bind", ":8923", "network address to bind HTTP to")
	bindNetwork              = flag.String("bind-network", "tcp", "network family to bind HTTP to, e.g. unix, tcp")
	configFname              = flag.String("config-fname", "", "full path to the MiaoEyes configuration file (JSON or YAML), created with defaults if missing; unset keeps the configuration in memory")
	cookieDomain             = flag.String("cookie-domain", "", "if set, the top-level domain that the MiaoEyes cookie will be valid for")
	cookieDynamicDomain      = flag.Bool("cookie-dynamic-domain", false, "if set, automatically set the cookie Domain value based on the request domain")
	cookiePrefix             = flag.String("cookie-prefix", "miaoeyes", "prefix for browser cookies created by MiaoEyes")
	cookiePartitioned        = flag.Bool("cookie-partitioned", false, "if true, sets the partitioned flag on MiaoEyes cookies, enabling CHIPS support")
	cookieSecure             = flag.Bool("cookie-secure", true, "if true, sets the secure flag on MiaoEyes cookies")
	hs512Secret              = flag.String("hs512-secret", "", "secret used to sign JWTs, uses ed25519 if not set")
	ed25519PrivateKeyHex     = flag.String("ed25519-private-key-hex", "", "private key used to sign JWTs, if not set a random one will be assigned")
	ed25519PrivateKeyHexFile = flag.String("ed25519-private-key-hex-file", "", "file name containing value for ed25519-private-key-hex")
	metricsBind              = flag.String("metrics-bind", ":9090", "network address to bind metrics to")
	metricsBindNetwork       = flag.String("metrics-bind-network", "tcp", "network family for the metrics server to bind to")
	socketMode               = flag.String("socket-mode", "0770", "socket mode (permissions) for unix domain sockets.")
	slogLevel                = flag.String("slog-level", "INFO", "logging level (see https://pkg.go.dev/log/slog#hdr-Levels)")
	statsBuffer              = flag.Int("stats-buffer", stats.DefaultBuffer, "number of statistics events buffered before new ones are dropped")
	storeBackend             = flag.String("store-backend", "memory", "storage backend for statistics and verified addresses: memory, bbolt or valkey")
	storeParameters          = flag.String("store-parameters", "{}", "JSON parameters of the storage backend, e.g. {\"path\": \"/data/miaoeyes.db\"}")
	stripBasePrefix          = flag.Bool("strip-base-prefix", false, "if true, strips the base prefix from requests forwarded to the target server")
	sweepInterval            = flag.Duration("sweep-interval", miaoeyes.DefaultSweepInterval, "how often expired challenge sessions are removed")
	target                   = flag.String("target", "http://localhost:3923", "target to reverse proxy to, set to an empty string to disable proxying when only using auth request")
	targetSNI                = flag.String("target-sni", "", "if set, the value of the TLS handshake hostname when forwarding requests to the target")
	targetHost               = flag.String("target-host", "", "if set, the value of the Host header when forwarding requests to the target")
	targetInsecureSkipVerify = flag.Bool("target-insecure-skip-verify", false, "if true, skips TLS validation for the backend")
	healthcheck              = flag.Bool("healthcheck", false, "run a health check against MiaoEyes")
	useRemoteAddress         = flag.Bool("use-remote-address", false, "read the client's IP address from the network request, useful for debugging and running MiaoEyes on bare metal")
	versionFlag              = flag.Bool("version", false, "print MiaoEyes version")
	xffStripPrivate          = flag.Bool("xff-strip-private", true, "if set, strip private addresses from X-Forwarded-For")
)

func keyFromHex(value string) (ed25519.PrivateKey, error) {
	keyBytes, err := hex.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("supplied key is not hex-encoded: %w", err)
	}

	if len(keyBytes) != ed25519.SeedSize {
		return nil, fmt.Errorf("supplied key is not %d bytes long, got %d bytes", ed25519.SeedSize, len(keyBytes))
	}

	return ed25519.NewKeyFromSeed(keyBytes), nil
}

func doHealthCheck() error {
	resp, err := http.Get("http://localhost" + *metricsBind + miaoeyes.BasePrefix + "/metrics")
	if err != nil {
		return fmt.Errorf("failed to fetch metrics: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return nil
}

// parseBindNetFromAddr determine bind network and address based on the given network and address.
func parseBindNetFromAddr(address string) (string, string) {
	defaultScheme := "http://"
	if !strings.Contains(address, "://") {
		if strings.HasPrefix(address, ":") {
			address = defaultScheme + "localhost" + address
		} else {
			address = defaultScheme + address
		}
	}

	bindUri, err := url.Parse(address)
	if err != nil {
		log.Fatal(fmt.Errorf("failed to parse bind URL: %w", err))
	}

	switch bindUri.Scheme {
	case "unix":
		return "unix", bindUri.Path
	case "tcp", "http", "https":
		return "tcp", bindUri.Host
	default:
		log.Fatal(fmt.Errorf("unsupported network scheme %s in address %s", bindUri.Scheme, address))
	}
	return "", address
}

func setupListener(network string, address string) (net.Listener, string) {
	formattedAddress := ""

	if network == "" {
		network, address = parseBindNetFromAddr(address)
	}

	switch network {
	case "unix":
		formattedAddress = "unix:" + address
	case "tcp":
		if strings.HasPrefix(address, ":") { // assume it's just a port e.g. :4259
			formattedAddress = "http://localhost" + address
		} else {
			formattedAddress = "http://" + address
		}
	default:
		formattedAddress = fmt.Sprintf(`(%s) %s`, network, address)
	}

	listener, err := net.Listen(network, address)
	if err != nil {
		log.Fatal(fmt.Errorf("failed to bind to %s: %w", formattedAddress, err))
	}

	if network == "unix" {
		mode, err := strconv.ParseUint(*socketMode, 8, 0)
		if err != nil {
			listener.Close()
			log.Fatal(fmt.Errorf("could not parse socket mode %s: %w", *socketMode, err))
		}

		if err := os.Chmod(address, os.FileMode(mode)); err != nil {
			if err := listener.Close(); err != nil {
				log.Printf("failed to close listener: %v", err)
			}
			log.Fatal(fmt.Errorf("could not change socket mode: %w", err))
		}
	}

	return listener, formattedAddress
}

func makeReverseProxy(target string, targetSNI string, targetHost string, insecureSkipVerify bool) (http.Handler, error) {
	targetUri, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("failed to parse target URL: %w", err)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()

	if targetUri.Scheme == "unix" {
		// the socket path must not leak into proxied request paths
		addr := targetUri.Path
		targetUri.Path = ""
		transport.DialContext = func(ctx context.Context, _, _ string) (net.Conn, error) {
			dialer := net.Dialer{}
			return dialer.DialContext(ctx, "unix", addr)
		}
		transport.RegisterProtocol("unix", libmiaoeyes.UnixRoundTripper{Transport: transport})
	}

	if insecureSkipVerify || targetSNI != "" {
		transport.TLSClientConfig = &tls.Config{}
		if insecureSkipVerify {
			slog.Warn("TARGET_INSECURE_SKIP_VERIFY is set to true, TLS certificate validation will not be performed", "target", target)
			transport.TLSClientConfig.InsecureSkipVerify = true
		}
		if targetSNI != "" {
			transport.TLSClientConfig.ServerName = targetSNI
		}
	}

	rp := httputil.NewSingleHostReverseProxy(targetUri)
	rp.Transport = transport
	rp.ErrorLog = internal.GetFilteredHTTPLogger()

	if targetHost != "" {
		originalDirector := rp.Director
		rp.Director = func(req *http.Request) {
			originalDirector(req)
			req.Host = targetHost
		}
	}

	return rp, nil
}

func signingKeys() (ed25519.PrivateKey, []byte) {
	switch {
	case *hs512Secret != "" && (*ed25519PrivateKeyHex != "" || *ed25519PrivateKeyHexFile != ""):
		log.Fatal("do not specify both HS512 and ED25519 secrets")
	case *hs512Secret != "":
		return nil, []byte(*hs512Secret)
	case *ed25519PrivateKeyHex != "" && *ed25519PrivateKeyHexFile != "":
		log.Fatal("do not specify both ED25519_PRIVATE_KEY_HEX and ED25519_PRIVATE_KEY_HEX_FILE")
	case *ed25519PrivateKeyHex != "":
		priv, err := keyFromHex(*ed25519PrivateKeyHex)
		if err != nil {
			log.Fatalf("failed to parse and validate ED25519_PRIVATE_KEY_HEX: %v", err)
		}
		return priv, nil
	case *ed25519PrivateKeyHexFile != "":
		hexFile, err := os.ReadFile(*ed25519PrivateKeyHexFile)
		if err != nil {
			log.Fatalf("failed to read ED25519_PRIVATE_KEY_HEX_FILE %s: %v", *ed25519PrivateKeyHexFile, err)
		}

		priv, err := keyFromHex(string(bytes.TrimSpace(hexFile)))
		if err != nil {
			log.Fatalf("failed to parse and validate content of ED25519_PRIVATE_KEY_HEX_FILE: %v", err)
		}
		return priv, nil
	}

	slog.Warn("generating random key, tokens will not survive a restart or validate on other MiaoEyes instances behind the same load balancer")
	return nil, nil
}

func main() {
	flagenv.Parse()
	flag.Parse()

	if *versionFlag {
		fmt.Println("MiaoEyes", miaoeyes.Version)
		return
	}

	internal.InitSlog(*slogLevel)

	var rp http.Handler
	// systemd can't set an environment variable to an empty string, only to a space
	if strings.TrimSpace(*target) != "" {
		var err error
		rp, err = makeReverseProxy(*target, *targetSNI, *targetHost, *targetInsecureSkipVerify)
		if err != nil {
			log.Fatalf("can't make reverse proxy: %v", err)
		}
	}

	if *cookieDomain != "" && *cookieDynamicDomain {
		log.Fatalf("you can't set COOKIE_DOMAIN and COOKIE_DYNAMIC_DOMAIN at the same time")
	}

	if *basePrefix != "" && !strings.HasPrefix(*basePrefix, "/") {
		log.Fatalf("[misconfiguration] base-prefix must start with a slash, eg: /%s", *basePrefix)
	} else if strings.HasSuffix(*basePrefix, "/") {
		log.Fatalf("[misconfiguration] base-prefix must not end with a slash")
	}
	if *stripBasePrefix && *basePrefix == "" {
		log.Fatalf("[misconfiguration] strip-base-prefix is set to true, but base-prefix is not set, " +
			"this may result in unexpected behavior")
	}

	ed25519Priv, hsSecret := signingKeys()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cs, err := libmiaoeyes.LoadConfigOrDefault(ctx, *configFname)
	if err != nil {
		log.Fatalf("can't load configuration: %v", err)
	}

	sb := config.StorageBackend{Backend: *storeBackend, Parameters: json.RawMessage(*storeParameters)}
	if err := sb.Valid(); err != nil {
		log.Fatalf("invalid storage backend configuration: %v", err)
	}

	// The store outlives the signal context so the final statistics flush
	// can still reach it.
	storeCtx, storeCancel := context.WithCancel(context.Background())
	defer storeCancel()

	st, err := store.Open(storeCtx, sb.Backend, sb.Parameters)
	if err != nil {
		log.Fatalf("can't open %s store: %v", sb.Backend, err)
	}

	recorder := stats.New(storeCtx, st, *statsBuffer)

	miaoeyes.CookieName = *cookiePrefix + "-auth"

	s, err := libmiaoeyes.New(libmiaoeyes.Options{
		Next:                rp,
		Config:              cs,
		Store:               st,
		Stats:               recorder,
		BasePrefix:          *basePrefix,
		StripBasePrefix:     *stripBasePrefix,
		ED25519PrivateKey:   ed25519Priv,
		HS512Secret:         hsSecret,
		AdminToken:          *adminToken,
		CookieDomain:        *cookieDomain,
		CookieDynamicDomain: *cookieDynamicDomain,
		CookiePartitioned:   *cookiePartitioned,
		CookieSecure:        *cookieSecure,
		SweepInterval:       *sweepInterval,
	})
	if err != nil {
		log.Fatalf("can't construct libmiaoeyes.Server: %v", err)
	}

	if !cs.Get().Config.Other.AllowPublicAccess && *adminToken == "" {
		slog.Warn("other.allowPublicAccess is off and ADMIN_TOKEN is not set, the admin API is unreachable")
	}

	wg := new(sync.WaitGroup)

	if *metricsBind != "" {
		wg.Add(1)
		go metricsServer(ctx, wg.Done)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Run(ctx)
	}()

	statsCtx, statsCancel := context.WithCancel(storeCtx)
	statsDone := make(chan struct{})
	go func() {
		defer close(statsDone)
		recorder.Run(statsCtx)
	}()

	var h http.Handler
	h = s
	h = internal.RemoteXRealIP(*useRemoteAddress, *bindNetwork, h)
	h = internal.XForwardedForToXRealIP(h)
	h = internal.XForwardedForUpdate(*xffStripPrivate, h)

	srv := http.Server{Handler: h, ErrorLog: internal.GetFilteredHTTPLogger()}
	listener, listenerUrl := setupListener(*bindNetwork, *bind)
	slog.Info(
		"listening",
		"url", listenerUrl,
		"target", *target,
		"version", miaoeyes.Version,
		"config", *configFname,
		"config-version", cs.Get().Version,
		"store", sb.Backend,
		"use-remote-address", *useRemoteAddress,
		"base-prefix", *basePrefix,
	)

	go func() {
		<-ctx.Done()
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(c); err != nil {
			log.Printf("cannot shut down: %v", err)
		}
	}()

	if err := srv.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
	wg.Wait()

	statsCancel()
	<-statsDone
}

func metricsServer(ctx context.Context, done func()) {
	defer done()

	mux := http.NewServeMux()
	mux.Handle(miaoeyes.BasePrefix+"/metrics", promhttp.Handler())

	srv := http.Server{Handler: mux, ErrorLog: internal.GetFilteredHTTPLogger()}
	listener, metricsUrl := setupListener(*metricsBindNetwork, *metricsBind)
	slog.Debug("listening for metrics", "url", metricsUrl)

	if *healthcheck {
		log.Println("running healthcheck")
		if err := doHealthCheck(); err != nil {
			log.Fatal(err)
		}
		return
	}

	go func() {
		<-ctx.Done()
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(c); err != nil {
			log.Printf("cannot shut down: %v", err)
		}
	}()

	if err := srv.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}
