package middleware

import "net/http"

// HTTPSRedirectHandler answers every plain-HTTP request with a permanent
// redirect to the same URL over HTTPS. When the relay terminates TLS itself
// it runs this as a second listener on the HTTP port so clients that dial
// ws:// or http:// get pointed at the right scheme.
func HTTPSRedirectHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "https://"+r.Host+r.URL.RequestURI(), http.StatusMovedPermanently)
	})
}
