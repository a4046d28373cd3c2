package internal

import (
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/sebest/xff"
)

// RemoteXRealIP sets the X-Real-Ip header to the request's real IP if
// the setting is enabled by the user.
func RemoteXRealIP(useRemoteAddress bool, bindNetwork string, next http.Handler) http.Handler {
	if !useRemoteAddress {
		slog.Debug("skipping middleware, useRemoteAddress is empty")
		return next
	}

	if bindNetwork == "unix" {
		// For local sockets there is no real remote address but the localhost
		// address should be sensible.
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Header.Set("X-Real-Ip", "127.0.0.1")
			next.ServeHTTP(w, r)
		})
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		r.Header.Set("X-Real-Ip", host)
		next.ServeHTTP(w, r)
	})
}

// XForwardedForToXRealIP sets the X-Real-Ip header based on the contents
// of the X-Forwarded-For header.
func XForwardedForToXRealIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if xffHeader := r.Header.Get("X-Forwarded-For"); r.Header.Get("X-Real-Ip") == "" && xffHeader != "" {
			if ip := xff.Parse(xffHeader); ip != "" {
				slog.Debug("setting x-real-ip", "val", ip)
				r.Header.Set("X-Real-Ip", ip)
			}
		}

		next.ServeHTTP(w, r)
	})
}

// XForwardedForUpdate appends the direct peer to X-Forwarded-For, optionally
// dropping private addresses from the chain first.
func XForwardedForUpdate(stripPrivate bool, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer next.ServeHTTP(w, r)

		remoteIP, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			remoteIP = r.RemoteAddr
		}

		var chain []string
		for _, hop := range strings.Split(r.Header.Get("X-Forwarded-For"), ",") {
			hop = strings.TrimSpace(hop)
			if hop == "" {
				continue
			}
			if stripPrivate {
				ip := net.ParseIP(hop)
				if ip == nil || !xff.IsPublicIP(ip) {
					continue
				}
			}
			chain = append(chain, hop)
		}

		if ip := net.ParseIP(remoteIP); ip != nil && (!stripPrivate || xff.IsPublicIP(ip)) {
			chain = append(chain, remoteIP)
		}

		if len(chain) == 0 {
			r.Header.Del("X-Forwarded-For")
			return
		}
		r.Header.Set("X-Forwarded-For", strings.Join(chain, ","))
	})
}

// NoStoreCache sets the Cache-Control header to no-store for the response.
func NoStoreCache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// ClientIP returns the address the rest of the stack should treat as the
// client: X-Real-Ip when a middleware above set it, else the peer address.
func ClientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Real-Ip"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
