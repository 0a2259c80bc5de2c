package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decoding response envelope: %v", err)
	}
	return env
}

func TestWriteJSONEnvelope(t *testing.T) {
	w := httptest.NewRecorder()
	writeJSON(w, http.StatusCreated, map[string]string{"call_id": "c-1"})

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected application/json, got %q", ct)
	}

	env := decodeEnvelope(t, w)
	if env.Error != "" {
		t.Fatalf("expected empty error, got %q", env.Error)
	}
	data, ok := env.Data.(map[string]any)
	if !ok || data["call_id"] != "c-1" {
		t.Fatalf("unexpected data payload: %v", env.Data)
	}
	// Success responses must never carry an error key.
	if strings.Contains(w.Body.String(), `"error"`) {
		t.Fatalf("error field leaked into success body: %s", w.Body.String())
	}
}

func TestWriteErrorEnvelope(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, http.StatusConflict, "call record already exists")

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
	env := decodeEnvelope(t, w)
	if env.Error != "call record already exists" {
		t.Fatalf("unexpected error message: %q", env.Error)
	}
	if env.Data != nil {
		t.Fatalf("expected nil data on error, got %v", env.Data)
	}
}

func TestReadJSONDecodesBody(t *testing.T) {
	body := strings.NewReader(`{"call_id":"c-1","duration_seconds":42}`)
	r := httptest.NewRequest(http.MethodPost, "/api/v1/calls", body)

	var dst struct {
		CallID   string `json:"call_id"`
		Duration int    `json:"duration_seconds"`
	}
	if msg := readJSON(r, &dst); msg != "" {
		t.Fatalf("expected clean decode, got %q", msg)
	}
	if dst.CallID != "c-1" || dst.Duration != 42 {
		t.Fatalf("unexpected decode result: %+v", dst)
	}
}

func TestReadJSONRejectsBadBodies(t *testing.T) {
	for _, tt := range []struct {
		name string
		body string
		want string
	}{
		{"empty", "", "request body must not be empty"},
		{"malformed", "{bad", "malformed json"},
		{"unknown field", `{"call_id":"c-1","bogus":true}`, "unknown field"},
		{"wrong type", `{"duration_seconds":"forever"}`, "invalid value"},
		{"trailing object", `{"call_id":"a"}{"call_id":"b"}`, "single json object"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/api/v1/calls", strings.NewReader(tt.body))
			var dst struct {
				CallID   string `json:"call_id"`
				Duration int    `json:"duration_seconds"`
			}
			msg := readJSON(r, &dst)
			if !strings.Contains(msg, tt.want) {
				t.Fatalf("expected error containing %q, got %q", tt.want, msg)
			}
		})
	}
}

func TestParsePaginationDefaults(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/v1/calls/history", nil)

	p, msg := parsePagination(r)
	if msg != "" {
		t.Fatalf("expected no error, got %q", msg)
	}
	if p.Limit != defaultLimit || p.Offset != 0 {
		t.Fatalf("unexpected defaults: %+v", p)
	}
}

func TestParsePaginationClampsLimit(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/v1/calls/history?limit=5000&offset=10", nil)

	p, msg := parsePagination(r)
	if msg != "" {
		t.Fatalf("expected no error, got %q", msg)
	}
	if p.Limit != maxLimit {
		t.Fatalf("expected limit clamped to %d, got %d", maxLimit, p.Limit)
	}
	if p.Offset != 10 {
		t.Fatalf("expected offset 10, got %d", p.Offset)
	}
}

func TestParsePaginationRejectsBadValues(t *testing.T) {
	for _, tt := range []struct {
		query string
		want  string
	}{
		{"limit=abc", "limit must be a positive integer"},
		{"limit=0", "limit must be a positive integer"},
		{"limit=-5", "limit must be a positive integer"},
		{"offset=abc", "offset must be a non-negative integer"},
		{"offset=-1", "offset must be a non-negative integer"},
	} {
		r := httptest.NewRequest(http.MethodGet, "/api/v1/calls/history?"+tt.query, nil)
		if _, msg := parsePagination(r); msg != tt.want {
			t.Errorf("query %q: expected %q, got %q", tt.query, tt.want, msg)
		}
	}
}

func TestPaginatedResponseShape(t *testing.T) {
	w := httptest.NewRecorder()
	writeJSON(w, http.StatusOK, PaginatedResponse{
		Items:  []string{"c-1", "c-2"},
		Total:  7,
		Limit:  20,
		Offset: 0,
	})

	env := decodeEnvelope(t, w)
	data, ok := env.Data.(map[string]any)
	if !ok {
		t.Fatalf("expected object data, got %T", env.Data)
	}
	if data["total"] != float64(7) || data["limit"] != float64(20) {
		t.Fatalf("unexpected total/limit: %v / %v", data["total"], data["limit"])
	}
	items, ok := data["items"].([]any)
	if !ok || len(items) != 2 {
		t.Fatalf("unexpected items: %v", data["items"])
	}
}
