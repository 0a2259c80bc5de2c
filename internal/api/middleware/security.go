package middleware

import (
	"net/http"
	"strings"
)

// The relay serves no HTML of its own, so the CSP locks everything to
// 'self' and only opens connect-src for the signaling websocket.
var contentSecurityPolicy = strings.Join([]string{
	"default-src 'self'",
	"script-src 'self'",
	"style-src 'self' 'unsafe-inline'",
	"img-src 'self' data:",
	"font-src 'self'",
	"connect-src 'self' ws: wss:",
	"frame-ancestors 'none'",
	"base-uri 'self'",
	"form-action 'self'",
}, "; ")

// Browser media capture happens in the client apps, never on pages served
// by the relay, so the powerful-feature APIs are all denied here.
const permissionsPolicy = "camera=(), microphone=(), geolocation=(), payment=()"

// SecurityHeaders sets the standard browser security headers on every
// response. Strict-Transport-Security is only sent when tlsEnabled, so a
// plain-HTTP deployment cannot poison browsers with an HSTS policy it
// cannot honor.
func SecurityHeaders(tlsEnabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			// The legacy XSS filter is off; CSP supersedes it.
			h.Set("X-XSS-Protection", "0")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Content-Security-Policy", contentSecurityPolicy)
			h.Set("Permissions-Policy", permissionsPolicy)

			if tlsEnabled {
				// Two years, subdomains included.
				h.Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
			}

			next.ServeHTTP(w, r)
		})
	}
}
