// Package middleware provides HTTP middleware for the chat relay API.
package middleware

import (
	"net/http"
	"net/url"
	"path"
	"strings"
)

// CORS returns middleware that handles CORS headers for /api routes.
// Patterns are matched against the Origin host, the same way WebSocket
// origin patterns are, so "*" admits any origin.
func CORS(originPatterns []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if origin != "" {
				if wildcard, ok := matchOrigin(originPatterns, origin); ok {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
					w.Header().Add("Vary", "Origin")
					// Never with a wildcard-echoed origin.
					if !wildcard {
						w.Header().Set("Access-Control-Allow-Credentials", "true")
					}
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// matchOrigin reports whether origin is admitted and whether only the bare "*" admitted it.
func matchOrigin(patterns []string, origin string) (wildcard bool, ok bool) {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false, false
	}
	host := strings.ToLower(u.Host)

	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "*" {
			wildcard, ok = true, true
			continue
		}
		if matched, _ := path.Match(p, host); matched {
			return false, true
		}
	}
	return wildcard, ok
}
