package middleware

import (
	"net/http"
	"strings"
)

// corsPolicy is the precomputed allow-list consulted on every request.
type corsPolicy struct {
	allowAll bool
	origins  map[string]struct{}
}

func (p corsPolicy) allows(origin string) bool {
	if p.allowAll {
		return true
	}
	_, ok := p.origins[origin]
	return ok
}

// CORS returns middleware that answers cross-origin requests from browser
// clients. The relay's REST surface is consumed by web frontends hosted on
// other origins, so allowedOrigins names the frontends permitted to call it.
// A "*" entry allows every origin (development only). With no origins
// configured the middleware sends no CORS headers at all, which makes
// browsers reject cross-origin calls; preflights still get an empty 204.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	policy := corsPolicy{origins: make(map[string]struct{}, len(allowedOrigins))}
	for _, o := range allowedOrigins {
		o = strings.TrimSpace(o)
		switch o {
		case "":
		case "*":
			policy.allowAll = true
		default:
			policy.origins[o] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); origin != "" && policy.allows(origin) {
				h := w.Header()
				if policy.allowAll {
					h.Set("Access-Control-Allow-Origin", "*")
				} else {
					h.Set("Access-Control-Allow-Origin", origin)
					h.Set("Vary", "Origin")
				}
				// PUT covers call record updates; there is no DELETE route.
				h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")
				h.Set("Access-Control-Allow-Credentials", "true")
				h.Set("Access-Control-Max-Age", "300")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ParseCORSOrigins splits the comma-separated origins value from the config
// into a slice, dropping empty entries. Returns nil for blank input.
func ParseCORSOrigins(raw string) []string {
	var origins []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			origins = append(origins, p)
		}
	}
	return origins
}
