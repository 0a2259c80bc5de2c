// Package pgstore provides a PostgreSQL-backed call history store for
// deployments that outgrow the embedded SQLite database.
package pgstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/waveline/callrelay/internal/database"
	"github.com/waveline/callrelay/internal/database/models"

	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store implements database.CallRecordRepository using PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ database.CallRecordRepository = (*Store)(nil)

// New opens a PostgreSQL connection and runs pending migrations.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgresql: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgresql: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{db: db}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	slog.Info("postgresql store opened")
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate runs all pending SQL migration files in order.
func (s *Store) migrate() error {
	// Ensure schema_migrations table exists.
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version := strings.TrimSuffix(entry.Name(), ".sql")

		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = $1", version).Scan(&count)
		if err != nil {
			return fmt.Errorf("checking migration %s: %w", version, err)
		}
		if count > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", version, err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %s: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("executing migration %s: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES ($1)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %s: %w", version, err)
		}

		slog.Info("applied migration", "version", version)
	}

	return nil
}

const callRecordColumns = `id, call_id, caller_id, receiver_id, call_type,
	 room_name, status, start_time, answer_time, end_time, duration`

// Create inserts a new call record.
func (s *Store) Create(ctx context.Context, rec *models.CallRecord) error {
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO call_records (call_id, caller_id, receiver_id, call_type,
		 room_name, status, start_time, answer_time, end_time, duration)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id`,
		rec.CallID, rec.CallerID, rec.ReceiverID, rec.CallType,
		rec.RoomName, rec.Status, rec.StartTime, rec.AnswerTime,
		rec.EndTime, rec.Duration,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("inserting call record: %w", err)
	}
	return nil
}

// GetByID returns a call record by row id.
func (s *Store) GetByID(ctx context.Context, id int64) (*models.CallRecord, error) {
	return s.scanOne(s.db.QueryRowContext(ctx,
		`SELECT `+callRecordColumns+` FROM call_records WHERE id = $1`, id,
	))
}

// GetByCallID returns a call record by relay call id.
func (s *Store) GetByCallID(ctx context.Context, callID string) (*models.CallRecord, error) {
	return s.scanOne(s.db.QueryRowContext(ctx,
		`SELECT `+callRecordColumns+` FROM call_records WHERE call_id = $1`, callID,
	))
}

// GetByRoomName returns the most recent record for a media room.
func (s *Store) GetByRoomName(ctx context.Context, roomName string) (*models.CallRecord, error) {
	return s.scanOne(s.db.QueryRowContext(ctx,
		`SELECT `+callRecordColumns+` FROM call_records
		 WHERE room_name = $1 ORDER BY start_time DESC LIMIT 1`, roomName,
	))
}

// Finish marks the record terminal by call id.
func (s *Store) Finish(ctx context.Context, callID, status string, answerTime, endTime *time.Time, durationSeconds int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE call_records SET status = $1, answer_time = $2, end_time = $3, duration = $4
		 WHERE call_id = $5`,
		status, answerTime, endTime, durationSeconds, callID,
	)
	if err != nil {
		return fmt.Errorf("finishing call record: %w", err)
	}
	return nil
}

// UpdateStatus sets status and optional duration on an existing row.
func (s *Store) UpdateStatus(ctx context.Context, id int64, status string, durationSeconds *int) error {
	var err error
	if durationSeconds != nil {
		_, err = s.db.ExecContext(ctx,
			`UPDATE call_records SET status = $1, duration = $2 WHERE id = $3`,
			status, *durationSeconds, id)
	} else {
		_, err = s.db.ExecContext(ctx,
			`UPDATE call_records SET status = $1 WHERE id = $2`, status, id)
	}
	if err != nil {
		return fmt.Errorf("updating call record status: %w", err)
	}
	return nil
}

// List returns call records matching the filter, along with the total count.
func (s *Store) List(ctx context.Context, filter database.CallRecordListFilter) ([]models.CallRecord, int, error) {
	where := "1=1"
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.UserID != "" {
		p := arg(filter.UserID)
		where += fmt.Sprintf(" AND (caller_id = %s OR receiver_id = %s)", p, p)
	}
	if filter.Status != "" {
		where += " AND status = " + arg(filter.Status)
	}
	if filter.CallType != "" {
		where += " AND call_type = " + arg(filter.CallType)
	}
	if filter.Search != "" {
		p := arg("%" + filter.Search + "%")
		where += fmt.Sprintf(" AND (caller_id LIKE %s OR receiver_id LIKE %s)", p, p)
	}
	if filter.StartDate != "" {
		where += " AND start_time >= " + arg(filter.StartDate)
	}
	if filter.EndDate != "" {
		where += " AND start_time <= " + arg(filter.EndDate)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM call_records WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting call records: %w", err)
	}

	query := `SELECT ` + callRecordColumns + ` FROM call_records WHERE ` + where +
		fmt.Sprintf(` ORDER BY start_time DESC LIMIT %s OFFSET %s`, arg(filter.Limit), arg(filter.Offset))

	rows, err := s.db.QueryContext(ctx, query, args...)
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
func (s *Store) CountByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx,
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
func (s *Store) DeleteOlderThan(ctx context.Context, days int) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM call_records
		 WHERE start_time < NOW() - ($1 || ' days')::interval`, days)
	if err != nil {
		return 0, fmt.Errorf("deleting old call records: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	return n, nil
}

func (s *Store) scanOne(row *sql.Row) (*models.CallRecord, error) {
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
