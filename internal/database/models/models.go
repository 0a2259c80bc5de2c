// Package models defines the persistent data structures for call history.
package models

import "time"

// Call record statuses. A record starts as ringing and is finalized exactly
// once with one of the terminal statuses.
const (
	StatusRinging   = "ringing"
	StatusCompleted = "completed"
	StatusMissed    = "missed"
	StatusRejected  = "rejected"
	StatusFailed    = "failed"
)

// CallRecord is one row of call history.
type CallRecord struct {
	ID         int64
	CallID     string
	CallerID   string
	ReceiverID string
	CallType   string // "audio" or "video"
	RoomName   string
	Status     string
	StartTime  time.Time
	AnswerTime *time.Time
	EndTime    *time.Time
	Duration   *int // whole seconds of answered time
}
