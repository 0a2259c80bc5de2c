package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/waveline/callrelay/internal/api/middleware"
	"github.com/waveline/callrelay/internal/config"
	"github.com/waveline/callrelay/internal/database"
	"github.com/waveline/callrelay/internal/database/models"
)

var testJWTSecret = []byte("0123456789abcdef0123456789abcdef")

type stubRelayStats struct {
	users   int
	calls   int
	signals uint64
}

func (s stubRelayStats) ConnectedUserCount() int  { return s.users }
func (s stubRelayStats) ActiveCallCount() int     { return s.calls }
func (s stubRelayStats) SignalsForwarded() uint64 { return s.signals }

func newTestServer(t *testing.T) (*Server, database.CallRecordRepository) {
	t.Helper()

	db, err := database.Open(t.TempDir())
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	repo := database.NewCallRecordRepository(db)
	cfg := &config.Config{HTTPPort: 8080, LogLevel: "info", LogFormat: "text"}

	srv := NewServer(cfg, repo, stubRelayStats{users: 3, calls: 1, signals: 42}, testJWTSecret, nil, nil)
	t.Cleanup(srv.Close)
	return srv, repo
}

func authedRequest(t *testing.T, method, target, userID string, body []byte) *http.Request {
	t.Helper()
	token, _, err := middleware.GenerateUserToken(testJWTSecret, userID, "")
	if err != nil {
		t.Fatalf("generating token: %v", err)
	}
	var r *http.Request
	if body != nil {
		r = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	r.Header.Set("Authorization", "Bearer "+token)
	return r
}

func decodeData(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var env struct {
		Data  map[string]any `json:"data"`
		Error string         `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("decoding response: %v (%s)", err, body)
	}
	if env.Error != "" {
		t.Fatalf("unexpected error in response: %q", env.Error)
	}
	return env.Data
}

func TestHealthUnauthenticated(t *testing.T) {
	srv, _ := newTestServer(t)

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestHistoryRequiresAuth(t *testing.T) {
	srv, _ := newTestServer(t)

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/calls/history", nil))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestTokenIssueAndUse(t *testing.T) {
	srv, _ := newTestServer(t)

	w := httptest.NewRecorder()
	body := []byte(`{"user_id":"alice","name":"Alice"}`)
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", bytes.NewReader(body)))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", w.Code, w.Body.String())
	}
	data := decodeData(t, w.Body.Bytes())
	token, _ := data["token"].(string)
	if token == "" {
		t.Fatal("token missing from response")
	}

	r := httptest.NewRequest(http.MethodGet, "/api/v1/calls/history", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("authed history status = %d, want 200 (%s)", w.Code, w.Body.String())
	}
}

func TestTokenRejectsMissingUserID(t *testing.T) {
	srv, _ := newTestServer(t)

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", strings.NewReader(`{"name":"x"}`)))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestCreateAndListHistory(t *testing.T) {
	srv, _ := newTestServer(t)

	body := []byte(`{"receiver_id":"bob","call_type":"audio","room_name":"room-1"}`)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, authedRequest(t, http.MethodPost, "/api/v1/calls", "alice", body))

	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want 201 (%s)", w.Code, w.Body.String())
	}
	created := decodeData(t, w.Body.Bytes())
	if created["caller_id"] != "alice" || created["status"] != "ringing" {
		t.Errorf("created = %v", created)
	}

	// Both participants see the record.
	for _, user := range []string{"alice", "bob"} {
		w = httptest.NewRecorder()
		srv.ServeHTTP(w, authedRequest(t, http.MethodGet, "/api/v1/calls/history", user, nil))
		if w.Code != http.StatusOK {
			t.Fatalf("history status for %s = %d (%s)", user, w.Code, w.Body.String())
		}
		data := decodeData(t, w.Body.Bytes())
		if data["total"] != float64(1) {
			t.Errorf("history total for %s = %v, want 1", user, data["total"])
		}
	}

	// A stranger sees nothing.
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, authedRequest(t, http.MethodGet, "/api/v1/calls/history", "carol", nil))
	data := decodeData(t, w.Body.Bytes())
	if data["total"] != float64(0) {
		t.Errorf("history total for carol = %v, want 0", data["total"])
	}
}

func TestCreateCallRecordGeneratesCallID(t *testing.T) {
	srv, _ := newTestServer(t)

	body := []byte(`{"receiver_id":"bob","room_name":"room-1"}`)
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		srv.ServeHTTP(w, authedRequest(t, http.MethodPost, "/api/v1/calls", "alice", body))
		if w.Code != http.StatusCreated {
			t.Fatalf("create #%d status = %d, want 201 (%s)", i+1, w.Code, w.Body.String())
		}
		created := decodeData(t, w.Body.Bytes())
		if created["call_id"] == "" {
			t.Errorf("create #%d returned empty call_id", i+1)
		}
	}
}

func TestCreateCallRecordDuplicateCallID(t *testing.T) {
	srv, _ := newTestServer(t)

	body := []byte(`{"call_id":"c-dup","receiver_id":"bob","room_name":"room-1"}`)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, authedRequest(t, http.MethodPost, "/api/v1/calls", "alice", body))
	if w.Code != http.StatusCreated {
		t.Fatalf("first create status = %d (%s)", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	srv.ServeHTTP(w, authedRequest(t, http.MethodPost, "/api/v1/calls", "alice", body))
	if w.Code != http.StatusConflict {
		t.Fatalf("second create status = %d, want 409 (%s)", w.Code, w.Body.String())
	}
}

func TestGetCallRecordParticipantOnly(t *testing.T) {
	srv, repo := newTestServer(t)

	rec := &models.CallRecord{
		CallID: "c1", CallerID: "alice", ReceiverID: "bob",
		CallType: "video", RoomName: "room-c1",
		Status: models.StatusCompleted, StartTime: time.Now().UTC(),
	}
	if err := repo.Create(context.Background(), rec); err != nil {
		t.Fatalf("seeding record: %v", err)
	}

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, authedRequest(t, http.MethodGet, "/api/v1/calls/1", "alice", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("participant get status = %d (%s)", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	srv.ServeHTTP(w, authedRequest(t, http.MethodGet, "/api/v1/calls/1", "carol", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("stranger get status = %d, want 404", w.Code)
	}
}

func TestUpdateCallRecord(t *testing.T) {
	srv, repo := newTestServer(t)

	rec := &models.CallRecord{
		CallID: "c1", CallerID: "alice", ReceiverID: "bob",
		CallType: "video", RoomName: "room-c1",
		Status: models.StatusRinging, StartTime: time.Now().UTC(),
	}
	if err := repo.Create(context.Background(), rec); err != nil {
		t.Fatalf("seeding record: %v", err)
	}

	body := []byte(`{"status":"completed","duration":55}`)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, authedRequest(t, http.MethodPut, "/api/v1/calls/1", "bob", body))

	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d (%s)", w.Code, w.Body.String())
	}
	data := decodeData(t, w.Body.Bytes())
	if data["status"] != "completed" || data["duration"] != float64(55) {
		t.Errorf("updated = %v", data)
	}

	// Bogus status is rejected.
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, authedRequest(t, http.MethodPut, "/api/v1/calls/1", "bob", []byte(`{"status":"sideways"}`)))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad status update = %d, want 400", w.Code)
	}
}

func TestGetCallByRoom(t *testing.T) {
	srv, repo := newTestServer(t)

	rec := &models.CallRecord{
		CallID: "c1", CallerID: "alice", ReceiverID: "bob",
		CallType: "audio", RoomName: "room-xyz",
		Status: models.StatusCompleted, StartTime: time.Now().UTC(),
	}
	if err := repo.Create(context.Background(), rec); err != nil {
		t.Fatalf("seeding record: %v", err)
	}

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, authedRequest(t, http.MethodGet, "/api/v1/calls/room/room-xyz", "bob", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("get by room status = %d (%s)", w.Code, w.Body.String())
	}
	data := decodeData(t, w.Body.Bytes())
	if data["call_id"] != "c1" {
		t.Errorf("record = %v", data)
	}

	w = httptest.NewRecorder()
	srv.ServeHTTP(w, authedRequest(t, http.MethodGet, "/api/v1/calls/room/unknown", "bob", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown room status = %d, want 404", w.Code)
	}
}

func TestExportHistoryCSV(t *testing.T) {
	srv, repo := newTestServer(t)

	rec := &models.CallRecord{
		CallID: "c1", CallerID: "alice", ReceiverID: "bob",
		CallType: "video", RoomName: "room-c1",
		Status: models.StatusCompleted, StartTime: time.Now().UTC(),
	}
	if err := repo.Create(context.Background(), rec); err != nil {
		t.Fatalf("seeding record: %v", err)
	}

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, authedRequest(t, http.MethodGet, "/api/v1/calls/export", "alice", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("export status = %d (%s)", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("content-type = %q, want text/csv", ct)
	}
	if !strings.Contains(w.Body.String(), "c1") {
		t.Errorf("csv body missing record: %s", w.Body.String())
	}
}

func TestStatsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, authedRequest(t, http.MethodGet, "/api/v1/stats", "alice", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("stats status = %d (%s)", w.Code, w.Body.String())
	}
	data := decodeData(t, w.Body.Bytes())
	if data["connected_users"] != float64(3) || data["signals_forwarded"] != float64(42) {
		t.Errorf("stats = %v", data)
	}
}
