package lib

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/uvensys/miaoeyes"
)

func TestSetCookie(t *testing.T) {
	for _, tt := range []struct {
		name       string
		options    Options
		host       string
		cookieName string
		domain     string
	}{
		{
			name:       "basic",
			options:    Options{},
			host:       "",
			cookieName: miaoeyes.CookieName,
		},
		{
			name:       "domain miaoeyes.example",
			options:    Options{CookieDomain: "miaoeyes.example"},
			host:       "",
			cookieName: miaoeyes.CookieName,
			domain:     "miaoeyes.example",
		},
		{
			name:       "dynamic cookie domain",
			options:    Options{CookieDynamicDomain: true},
			host:       "www.example.co.uk",
			cookieName: miaoeyes.CookieName,
			domain:     "example.co.uk",
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			srv := spawnMiaoEyes(t, tt.options, nil)
			rw := httptest.NewRecorder()

			srv.SetCookie(rw, CookieOpts{Value: "test", Host: tt.host})

			resp := rw.Result()
			cookies := resp.Cookies()

			if len(cookies) != 1 {
				t.Fatalf("wanted 1 cookie, got %d cookies", len(cookies))
			}

			ckie := cookies[0]

			if ckie.Name != tt.cookieName {
				t.Errorf("wanted cookie named %q, got cookie named %q", tt.cookieName, ckie.Name)
			}

			if ckie.Domain != tt.domain {
				t.Errorf("wanted cookie domain %q, got %q", tt.domain, ckie.Domain)
			}

			if !ckie.HttpOnly {
				t.Error("auth cookie must be HttpOnly")
			}
		})
	}
}

func TestClearCookie(t *testing.T) {
	for _, tt := range []struct {
		name    string
		options Options
		host    string
		domain  string
	}{
		{
			name:    "basic",
			options: Options{},
			host:    "localhost",
		},
		{
			name:    "with domain",
			options: Options{CookieDomain: "miaoeyes.example"},
			host:    "localhost",
			domain:  "miaoeyes.example",
		},
		{
			name:    "dynamic domain",
			options: Options{CookieDynamicDomain: true},
			host:    "gate.example.co.uk",
			domain:  "example.co.uk",
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			srv := spawnMiaoEyes(t, tt.options, nil)
			rw := httptest.NewRecorder()

			srv.ClearCookie(rw, CookieOpts{Host: tt.host})

			cookies := rw.Result().Cookies()
			if len(cookies) != 1 {
				t.Fatalf("wanted 1 cookie, got %d cookies", len(cookies))
			}

			ckie := cookies[0]

			if ckie.Name != miaoeyes.CookieName {
				t.Errorf("wanted cookie named %q, got cookie named %q", miaoeyes.CookieName, ckie.Name)
			}

			if ckie.Domain != tt.domain {
				t.Errorf("wanted cookie domain %q, got cookie domain %q", tt.domain, ckie.Domain)
			}

			if ckie.MaxAge != -1 {
				t.Errorf("wanted cookie max age of -1, got: %d", ckie.MaxAge)
			}
		})
	}
}

func TestStripBasePrefix(t *testing.T) {
	for _, tt := range []struct {
		name string
		opts Options
		path string
		want string
	}{
		{name: "disabled", opts: Options{BasePrefix: "/gate"}, path: "/gate/page", want: "/gate/page"},
		{name: "stripped", opts: Options{BasePrefix: "/gate", StripBasePrefix: true}, path: "/gate/page", want: "/page"},
		{name: "root", opts: Options{BasePrefix: "/gate/", StripBasePrefix: true}, path: "/gate", want: "/"},
		{name: "other path", opts: Options{BasePrefix: "/gate", StripBasePrefix: true}, path: "/other", want: "/other"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			srv := &Server{opts: tt.opts}
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)

			if got := srv.stripBasePrefixFromRequest(req).URL.Path; got != tt.want {
				t.Errorf("wanted %q, got %q", tt.want, got)
			}
		})
	}
}
