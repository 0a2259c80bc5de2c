package middleware

import (
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
)

func corsRequest(t *testing.T, handler http.Handler, method, origin string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, "/api/v1/calls/history", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestCORSAllowedOrigin(t *testing.T) {
	handler := CORS([]string{"https://app.waveline.io"})(okHandler())

	rr := corsRequest(t, handler, http.MethodGet, "https://app.waveline.io")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://app.waveline.io" {
		t.Fatalf("expected the origin echoed back, got %q", got)
	}
	if got := rr.Header().Get("Vary"); got != "Origin" {
		t.Fatalf("expected Vary: Origin, got %q", got)
	}
	if got := rr.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Fatalf("expected Allow-Credentials true, got %q", got)
	}
}

func TestCORSUnknownOriginGetsNoHeaders(t *testing.T) {
	handler := CORS([]string{"https://app.waveline.io"})(okHandler())

	rr := corsRequest(t, handler, http.MethodGet, "https://evil.example.com")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("expected no Allow-Origin for an unknown origin, got %q", got)
	}
}

func TestCORSWildcard(t *testing.T) {
	handler := CORS([]string{"*"})(okHandler())

	rr := corsRequest(t, handler, http.MethodGet, "https://anything.example.com")
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected *, got %q", got)
	}
	// The response is origin-independent under the wildcard.
	if got := rr.Header().Get("Vary"); got != "" {
		t.Fatalf("expected no Vary header, got %q", got)
	}
}

func TestCORSPreflightShortCircuits(t *testing.T) {
	handler := CORS([]string{"https://app.waveline.io"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("preflight must not reach the handler")
	}))

	rr := corsRequest(t, handler, http.MethodOptions, "https://app.waveline.io")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Methods"); got == "" {
		t.Fatal("expected Allow-Methods on the preflight response")
	}
	if got := rr.Header().Get("Access-Control-Max-Age"); got != "300" {
		t.Fatalf("expected Max-Age 300, got %q", got)
	}
}

func TestCORSNoOriginsConfigured(t *testing.T) {
	handler := CORS(nil)(okHandler())

	rr := corsRequest(t, handler, http.MethodGet, "https://app.waveline.io")
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("expected CORS disabled with no origins, got %q", got)
	}
}

func TestCORSSecondConfiguredOrigin(t *testing.T) {
	handler := CORS([]string{"https://app.waveline.io", "https://staging.waveline.io"})(okHandler())

	rr := corsRequest(t, handler, http.MethodGet, "https://staging.waveline.io")
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://staging.waveline.io" {
		t.Fatalf("expected the second origin to be allowed, got %q", got)
	}
}

func TestParseCORSOrigins(t *testing.T) {
	for _, tt := range []struct {
		raw  string
		want []string
	}{
		{"", nil},
		{"   ", nil},
		{"https://app.waveline.io", []string{"https://app.waveline.io"}},
		{"https://a.io, https://b.io ,, https://c.io", []string{"https://a.io", "https://b.io", "https://c.io"}},
		{"*", []string{"*"}},
	} {
		if got := ParseCORSOrigins(tt.raw); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ParseCORSOrigins(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}
