package database

import (
	"context"
	"time"

	"github.com/waveline/callrelay/internal/database/models"
)

// CallRecordListFilter controls pagination and filtering for history queries.
type CallRecordListFilter struct {
	Limit     int
	Offset    int
	UserID    string // matches caller_id or receiver_id, "" for all
	Status    string // one of the models status values, "" for all
	CallType  string // "audio", "video", or "" for all
	Search    string // substring match on caller_id or receiver_id
	StartDate string // RFC3339 or YYYY-MM-DD
	EndDate   string // RFC3339 or YYYY-MM-DD
}

// CallRecordRepository manages call history rows. Write paths are keyed by
// the relay call id so callers never carry row ids through a call lifecycle.
type CallRecordRepository interface {
	Create(ctx context.Context, rec *models.CallRecord) error
	GetByID(ctx context.Context, id int64) (*models.CallRecord, error)
	GetByCallID(ctx context.Context, callID string) (*models.CallRecord, error)
	GetByRoomName(ctx context.Context, roomName string) (*models.CallRecord, error)

	// Finish marks the record terminal. answerTime may be nil for calls
	// that were never answered.
	Finish(ctx context.Context, callID, status string, answerTime, endTime *time.Time, durationSeconds int) error

	// UpdateStatus sets status and optional duration on an existing row.
	UpdateStatus(ctx context.Context, id int64, status string, durationSeconds *int) error

	List(ctx context.Context, filter CallRecordListFilter) ([]models.CallRecord, int, error)

	// CountByStatus returns row counts grouped by status.
	CountByStatus(ctx context.Context) (map[string]int64, error)

	// DeleteOlderThan removes records that started more than the given
	// number of days ago and returns how many were deleted.
	DeleteOlderThan(ctx context.Context, days int) (int64, error)
}
