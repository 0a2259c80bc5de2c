package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func TestGenerateAndParseUserToken(t *testing.T) {
	token, expiresAt, err := GenerateUserToken(testSecret, "alice", "Alice")
	if err != nil {
		t.Fatalf("GenerateUserToken: %v", err)
	}
	if token == "" {
		t.Fatal("token should not be empty")
	}
	if !expiresAt.After(time.Now()) {
		t.Error("expiry should be in the future")
	}

	claims, err := ParseUserToken(testSecret, token)
	if err != nil {
		t.Fatalf("ParseUserToken: %v", err)
	}
	if claims.UserID != "alice" || claims.Name != "Alice" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestParseUserTokenWrongSecret(t *testing.T) {
	token, _, err := GenerateUserToken(testSecret, "alice", "")
	if err != nil {
		t.Fatalf("GenerateUserToken: %v", err)
	}

	other := []byte("ffffffffffffffffffffffffffffffff")
	if _, err := ParseUserToken(other, token); err == nil {
		t.Fatal("expected error for wrong secret")
	}
}

func TestParseUserTokenExpired(t *testing.T) {
	claims := UserClaims{
		UserID: "alice",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-1 * time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("signing: %v", err)
	}

	if _, err := ParseUserToken(testSecret, token); err == nil {
		t.Fatal("expected error for expired token")
	}
}

func TestParseUserTokenMissingUserID(t *testing.T) {
	claims := UserClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("signing: %v", err)
	}

	if _, err := ParseUserToken(testSecret, token); err == nil {
		t.Fatal("expected error for token without user id")
	}
}

func authProtected(t *testing.T) (http.Handler, *string) {
	t.Helper()
	var seenUserID string
	handler := RequireAuth(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenUserID = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
	return handler, &seenUserID
}

func TestRequireAuthValidToken(t *testing.T) {
	handler, seenUserID := authProtected(t)

	token, _, err := GenerateUserToken(testSecret, "alice", "Alice")
	if err != nil {
		t.Fatalf("GenerateUserToken: %v", err)
	}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if *seenUserID != "alice" {
		t.Errorf("user id in context = %q, want alice", *seenUserID)
	}
}

func TestRequireAuthMissingHeader(t *testing.T) {
	handler, _ := authProtected(t)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestRequireAuthMalformedHeader(t *testing.T) {
	handler, _ := authProtected(t)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Token abc")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestRequireAuthGarbageToken(t *testing.T) {
	handler, _ := authProtected(t)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer not.a.token")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestUserIDFromContextUnset(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if id := UserIDFromContext(r.Context()); id != "" {
		t.Errorf("id = %q, want empty", id)
	}
}
