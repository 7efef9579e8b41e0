// Package middleware holds the HTTP middleware shared by the API routes.
package middleware

import (
	"net"
	"net/http"
	"strings"
)

// RequestIP resolves the client IP: the first X-Forwarded-For entry, then X-Real-IP,
// then the host part of RemoteAddr.
func RequestIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if s := strings.TrimSpace(first); s != "" {
			return s
		}
	}
	if s := strings.TrimSpace(r.Header.Get("X-Real-IP")); s != "" {
		return s
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// ClientIPContext stores RequestIP in the request context for handlers, the audit logger
// and the rate limiter key function.
func ClientIPContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(WithClientIP(r.Context(), RequestIP(r))))
	})
}

// KeyByClientIP is an httprate key function over the resolved client IP.
func KeyByClientIP(r *http.Request) (string, error) {
	if ip := ClientIP(r.Context()); ip != "" {
		return ip, nil
	}
	return RequestIP(r), nil
}
