package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/waveline/callrelay/internal/database/models"
)

const callRecordColumns = `id, call_id, caller_id, receiver_id, call_type,
	 room_name, status, start_time, answer_time, end_time, duration`

// callRecordRepo implements CallRecordRepository on SQLite.
type callRecordRepo struct {
	db *DB
}

// NewCallRecordRepository creates a new CallRecordRepository.
func NewCallRecordRepository(db *DB) CallRecordRepository {
	return &callRecordRepo{db: db}
}

// Create inserts a new call record.
func (r *callRecordRepo) Create(ctx context.Context, rec *models.CallRecord) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO call_records (call_id, caller_id, receiver_id, call_type,
		 room_name, status, start_time, answer_time, end_time, duration)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.CallID, rec.CallerID, rec.ReceiverID, rec.CallType,
		rec.RoomName, rec.Status, rec.StartTime, rec.AnswerTime,
		rec.EndTime, rec.Duration,
	)
	if err != nil {
		return fmt.Errorf("inserting call record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	rec.ID = id
	return nil
}

// GetByID returns a call record by row id.
func (r *callRecordRepo) GetByID(ctx context.Context, id int64) (*models.CallRecord, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+callRecordColumns+` FROM call_records WHERE id = ?`, id,
	))
}

// GetByCallID returns a call record by relay call id.
func (r *callRecordRepo) GetByCallID(ctx context.Context, callID string) (*models.CallRecord, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+callRecordColumns+` FROM call_records WHERE call_id = ?`, callID,
	))
}

// GetByRoomName returns the most recent record for a media room.
func (r *callRecordRepo) GetByRoomName(ctx context.Context, roomName string) (*models.CallRecord, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+callRecordColumns+` FROM call_records
		 WHERE room_name = ? ORDER BY start_time DESC LIMIT 1`, roomName,
	))
}

// Finish marks the record terminal by call id.
func (r *callRecordRepo) Finish(ctx context.Context, callID, status string, answerTime, endTime *time.Time, durationSeconds int) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE call_records SET status = ?, answer_time = ?, end_time = ?, duration = ?
		 WHERE call_id = ?`,
		status, answerTime, endTime, durationSeconds, callID,
	)
	if err != nil {
		return fmt.Errorf("finishing call record: %w", err)
	}
	return nil
}

// UpdateStatus sets status and optional duration on an existing row.
func (r *callRecordRepo) UpdateStatus(ctx context.Context, id int64, status string, durationSeconds *int) error {
	var err error
	if durationSeconds != nil {
		_, err = r.db.ExecContext(ctx,
			`UPDATE call_records SET status = ?, duration = ? WHERE id = ?`,
			status, *durationSeconds, id)
	} else {
		_, err = r.db.ExecContext(ctx,
			`UPDATE call_records SET status = ? WHERE id = ?`, status, id)
	}
	if err != nil {
		return fmt.Errorf("updating call record status: %w", err)
	}
	return nil
}

// List returns call records matching the filter, along with the total count.
func (r *callRecordRepo) List(ctx context.Context, filter CallRecordListFilter) ([]models.CallRecord, int, error) {
	where := "1=1"
	args := []any{}

	if filter.UserID != "" {
		where += " AND (caller_id = ? OR receiver_id = ?)"
		args = append(args, filter.UserID, filter.UserID)
	}
	if filter.Status != "" {
		where += " AND status = ?"
		args = append(args, filter.Status)
	}
	if filter.CallType != "" {
		where += " AND call_type = ?"
		args = append(args, filter.CallType)
	}
	if filter.Search != "" {
		where += " AND (caller_id LIKE ? OR receiver_id LIKE ?)"
		s := "%" + filter.Search + "%"
		args = append(args, s, s)
	}
	if filter.StartDate != "" {
		where += " AND start_time >= ?"
		args = append(args, filter.StartDate)
	}
	if filter.EndDate != "" {
		where += " AND start_time <= ?"
		args = append(args, filter.EndDate)
	}

	// Count total matching rows.
	var total int
	countQuery := "SELECT COUNT(*) FROM call_records WHERE " + where
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting call records: %w", err)
	}

	// Fetch the page of results.
	query := `SELECT ` + callRecordColumns + ` FROM call_records WHERE ` + where +
		` ORDER BY start_time DESC LIMIT ? OFFSET ?`
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing call records: %w", err)
	}
	defer rows.Close()

	records, err := scanRows(rows)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// CountByStatus returns row counts grouped by status.
func (r *callRecordRepo) CountByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM call_records GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting call records by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning status count: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating status counts: %w", err)
	}
	return counts, nil
}

// DeleteOlderThan removes records older than the given number of days.
func (r *callRecordRepo) DeleteOlderThan(ctx context.Context, days int) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM call_records
		 WHERE start_time < datetime('now', '-' || ? || ' days')`, days)
	if err != nil {
		return 0, fmt.Errorf("deleting old call records: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	return n, nil
}

func (r *callRecordRepo) scanOne(row *sql.Row) (*models.CallRecord, error) {
	var rec models.CallRecord
	err := row.Scan(&rec.ID, &rec.CallID, &rec.CallerID, &rec.ReceiverID,
		&rec.CallType, &rec.RoomName, &rec.Status, &rec.StartTime,
		&rec.AnswerTime, &rec.EndTime, &rec.Duration)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning call record: %w", err)
	}
	return &rec, nil
}

func scanRows(rows *sql.Rows) ([]models.CallRecord, error) {
	var records []models.CallRecord
	for rows.Next() {
		var rec models.CallRecord
		if err := rows.Scan(&rec.ID, &rec.CallID, &rec.CallerID, &rec.ReceiverID,
			&rec.CallType, &rec.RoomName, &rec.Status, &rec.StartTime,
			&rec.AnswerTime, &rec.EndTime, &rec.Duration); err != nil {
			return nil, fmt.Errorf("scanning call record row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating call record rows: %w", err)
	}
	return records, nil
}
