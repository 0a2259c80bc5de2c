package database

import (
	"context"
	"log/slog"
	"time"
)

// StartRetentionTicker runs a background goroutine that periodically removes
// call records older than maxDays. If maxDays is 0 or negative, no cleanup is
// performed. The goroutine stops when the provided context is cancelled.
func StartRetentionTicker(ctx context.Context, records CallRecordRepository, maxDays int, interval time.Duration) {
	if maxDays <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		// Sweep once at startup so a long-stopped instance catches up
		// without waiting a full interval.
		sweepExpiredRecords(ctx, records, maxDays)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sweepExpiredRecords(ctx, records, maxDays)
			}
		}
	}()
}

func sweepExpiredRecords(ctx context.Context, records CallRecordRepository, maxDays int) {
	deleted, err := records.DeleteOlderThan(ctx, maxDays)
	if err != nil {
		slog.Error("history retention cleanup failed", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("history retention cleanup", "deleted", deleted, "max_days", maxDays)
	}
}
