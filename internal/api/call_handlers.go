package api

import (
	"encoding/csv"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/waveline/callrelay/internal/api/middleware"
	"github.com/waveline/callrelay/internal/database"
	"github.com/waveline/callrelay/internal/database/models"
)

// callRecordResponse is the JSON response for a single call record.
type callRecordResponse struct {
	ID         int64   `json:"id"`
	CallID     string  `json:"call_id"`
	CallerID   string  `json:"caller_id"`
	ReceiverID string  `json:"receiver_id"`
	CallType   string  `json:"call_type"`
	RoomName   string  `json:"room_name"`
	Status     string  `json:"status"`
	StartTime  string  `json:"start_time"`
	AnswerTime *string `json:"answer_time"`
	EndTime    *string `json:"end_time"`
	Duration   *int    `json:"duration"`
}

// toCallRecordResponse converts a models.CallRecord to the API response.
func toCallRecordResponse(rec *models.CallRecord) callRecordResponse {
	resp := callRecordResponse{
		ID:         rec.ID,
		CallID:     rec.CallID,
		CallerID:   rec.CallerID,
		ReceiverID: rec.ReceiverID,
		CallType:   rec.CallType,
		RoomName:   rec.RoomName,
		Status:     rec.Status,
		StartTime:  rec.StartTime.Format(time.RFC3339),
		Duration:   rec.Duration,
	}
	if rec.AnswerTime != nil {
		s := rec.AnswerTime.Format(time.RFC3339)
		resp.AnswerTime = &s
	}
	if rec.EndTime != nil {
		s := rec.EndTime.Format(time.RFC3339)
		resp.EndTime = &s
	}
	return resp
}

// handleToken issues a signed client token. The relay trusts the caller's
// claimed identity; deployments that need real authentication front this
// endpoint with their identity provider.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
		Name   string `json:"name"`
	}
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if msg := validateUserID("user_id", req.UserID); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if msg := validateStringLen("name", req.Name, maxNameLen); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	token, expiresAt, err := middleware.GenerateUserToken(s.jwtSecret, req.UserID, req.Name)
	if err != nil {
		slog.Error("token: failed to sign", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_at": expiresAt.Format(time.RFC3339),
	})
}

// historyFilter builds a list filter from query parameters, scoped to the
// authenticated user. Returns an error message for the client, or "".
func historyFilter(r *http.Request, pg Pagination) (database.CallRecordListFilter, string) {
	q := r.URL.Query()

	status := q.Get("status")
	if msg := validateStatus("status", status); msg != "" {
		return database.CallRecordListFilter{}, msg
	}
	callType := q.Get("call_type")
	if msg := validateCallType("call_type", callType); msg != "" {
		return database.CallRecordListFilter{}, msg
	}

	return database.CallRecordListFilter{
		Limit:     pg.Limit,
		Offset:    pg.Offset,
		UserID:    middleware.UserIDFromContext(r.Context()),
		Status:    status,
		CallType:  callType,
		Search:    q.Get("search"),
		StartDate: q.Get("start_date"),
		EndDate:   q.Get("end_date"),
	}, ""
}

// handleListHistory returns the authenticated user's call history.
// Query params: limit, offset, status, call_type, search, start_date, end_date.
func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	pg, errMsg := parsePagination(r)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	filter, errMsg := historyFilter(r, pg)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	records, total, err := s.records.List(r.Context(), filter)
	if err != nil {
		slog.Error("list history: failed to query", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	items := make([]callRecordResponse, 0, len(records))
	for i := range records {
		items = append(items, toCallRecordResponse(&records[i]))
	}

	writeJSON(w, http.StatusOK, PaginatedResponse{
		Items:  items,
		Total:  total,
		Limit:  pg.Limit,
		Offset: pg.Offset,
	})
}

// handleExportHistory exports the user's call history as CSV with the same
// filters as the list endpoint.
func (s *Server) handleExportHistory(w http.ResponseWriter, r *http.Request) {
	// Use a large limit for export (all matching records, capped at 10000).
	filter, errMsg := historyFilter(r, Pagination{Limit: 10000})
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	records, _, err := s.records.List(r.Context(), filter)
	if err != nil {
		slog.Error("export history: failed to query", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=call_history.csv")

	cw := csv.NewWriter(w)
	// Write header row.
	cw.Write([]string{
		"ID", "Call-ID", "Caller", "Receiver", "Type", "Room",
		"Status", "Start Time", "Answer Time", "End Time", "Duration",
	})

	for _, rec := range records {
		answerTime := ""
		if rec.AnswerTime != nil {
			answerTime = rec.AnswerTime.Format(time.RFC3339)
		}
		endTime := ""
		if rec.EndTime != nil {
			endTime = rec.EndTime.Format(time.RFC3339)
		}
		duration := ""
		if rec.Duration != nil {
			duration = strconv.Itoa(*rec.Duration)
		}

		cw.Write([]string{
			strconv.FormatInt(rec.ID, 10),
			rec.CallID,
			rec.CallerID,
			rec.ReceiverID,
			rec.CallType,
			rec.RoomName,
			rec.Status,
			rec.StartTime.Format(time.RFC3339),
			answerTime,
			endTime,
			duration,
		})
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		slog.Error("export history: csv write error", "error", err)
	}
}

// handleCreateCallRecord inserts a history row directly. The relay writes
// records for calls it carries; this endpoint lets clients log calls placed
// out of band.
func (s *Server) handleCreateCallRecord(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CallID     string `json:"call_id"`
		ReceiverID string `json:"receiver_id"`
		CallType   string `json:"call_type"`
		RoomName   string `json:"room_name"`
		Status     string `json:"status"`
	}
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if msg := validateUserID("receiver_id", req.ReceiverID); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if msg := validateCallType("call_type", req.CallType); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if msg := validateStatus("status", req.Status); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if msg := validateRequiredStringLen("room_name", req.RoomName, maxRoomNameLen); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if msg := validateStringLen("call_id", req.CallID, maxRoomNameLen); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	if req.CallID == "" {
		req.CallID = uuid.NewString()
	} else {
		existing, err := s.records.GetByCallID(r.Context(), req.CallID)
		if err != nil {
			slog.Error("create call record: failed to check call id", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if existing != nil {
			writeError(w, http.StatusConflict, "call record already exists")
			return
		}
	}

	rec := &models.CallRecord{
		CallID:     req.CallID,
		CallerID:   middleware.UserIDFromContext(r.Context()),
		ReceiverID: req.ReceiverID,
		CallType:   req.CallType,
		RoomName:   req.RoomName,
		Status:     req.Status,
		StartTime:  time.Now().UTC(),
	}
	if rec.CallType == "" {
		rec.CallType = "video"
	}
	if rec.Status == "" {
		rec.Status = models.StatusRinging
	}

	if err := s.records.Create(r.Context(), rec); err != nil {
		// The pre-check races with concurrent inserts, so the constraint can
		// still fire here.
		if isUniqueViolation(err) {
			writeError(w, http.StatusConflict, "call record already exists")
			return
		}
		slog.Error("create call record: failed to insert", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusCreated, toCallRecordResponse(rec))
}

// handleGetCallRecord returns a single record by id. Only participants may
// read a record; everyone else sees not found.
func (s *Server) handleGetCallRecord(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid call record id")
		return
	}

	rec, err := s.records.GetByID(r.Context(), id)
	if err != nil {
		slog.Error("get call record: failed to query", "error", err, "record_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if rec == nil || !isParticipant(r, rec) {
		writeError(w, http.StatusNotFound, "call record not found")
		return
	}

	writeJSON(w, http.StatusOK, toCallRecordResponse(rec))
}

// handleUpdateCallRecord updates status and duration on a record.
func (s *Server) handleUpdateCallRecord(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid call record id")
		return
	}

	var req struct {
		Status   string `json:"status"`
		Duration *int   `json:"duration"`
	}
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if req.Status == "" {
		writeError(w, http.StatusBadRequest, "status is required")
		return
	}
	if msg := validateStatus("status", req.Status); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if req.Duration != nil && *req.Duration < 0 {
		writeError(w, http.StatusBadRequest, "duration must not be negative")
		return
	}

	rec, err := s.records.GetByID(r.Context(), id)
	if err != nil {
		slog.Error("update call record: failed to query", "error", err, "record_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if rec == nil || !isParticipant(r, rec) {
		writeError(w, http.StatusNotFound, "call record not found")
		return
	}

	if err := s.records.UpdateStatus(r.Context(), id, req.Status, req.Duration); err != nil {
		slog.Error("update call record: failed to update", "error", err, "record_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	rec.Status = req.Status
	if req.Duration != nil {
		rec.Duration = req.Duration
	}
	writeJSON(w, http.StatusOK, toCallRecordResponse(rec))
}

// handleGetCallByRoom returns the most recent record for a media room.
func (s *Server) handleGetCallByRoom(w http.ResponseWriter, r *http.Request) {
	roomName := chi.URLParam(r, "roomName")
	if msg := validateRequiredStringLen("room name", roomName, maxRoomNameLen); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	rec, err := s.records.GetByRoomName(r.Context(), roomName)
	if err != nil {
		slog.Error("get call by room: failed to query", "error", err, "room", roomName)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if rec == nil || !isParticipant(r, rec) {
		writeError(w, http.StatusNotFound, "call record not found")
		return
	}

	writeJSON(w, http.StatusOK, toCallRecordResponse(rec))
}

// isUniqueViolation matches the uniqueness errors of both supported drivers.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}

// isParticipant reports whether the authenticated user is a party to the record.
func isParticipant(r *http.Request, rec *models.CallRecord) bool {
	userID := middleware.UserIDFromContext(r.Context())
	return userID == rec.CallerID || userID == rec.ReceiverID
}
