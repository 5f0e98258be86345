package server

import (
	"net/http"
	"strings"
)

// securityHeaders sets the baseline headers for an API-only surface. The
// player fetches media straight from presigned storage URLs, so no CSP
// allowances are needed here.
func securityHeaders(baseURL string) func(http.Handler) http.Handler {
	strictTransport := strings.HasPrefix(baseURL, "https://")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Referrer-Policy", "no-referrer")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")

			if strictTransport {
				w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}

			next.ServeHTTP(w, r)
		})
	}
}
