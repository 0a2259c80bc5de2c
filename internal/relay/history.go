package relay

import (
	"context"
	"time"
)

// recorderTimeout bounds each background persistence call so a slow store
// cannot pile up goroutines indefinitely.
const recorderTimeout = 5 * time.Second

// HistoryRecorder persists call outcomes. Implementations are keyed by call
// id so the relay never has to carry a storage row id through the session
// lifecycle. Recorder failures are logged and never affect live calls.
type HistoryRecorder interface {
	// CallStarted records a new ringing call.
	CallStarted(ctx context.Context, s CallSession) error

	// CallFinished records the terminal outcome of a call. disposition is
	// one of "completed", "missed", "rejected" or "failed".
	CallFinished(ctx context.Context, s CallSession, disposition string) error
}

func (m *Manager) recordStart(s CallSession) {
	if m.recorder == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), recorderTimeout)
		defer cancel()
		if err := m.recorder.CallStarted(ctx, s); err != nil {
			m.logger.Error("failed to record call start", "call_id", s.CallID, "error", err)
		}
	}()
}

func (m *Manager) recordFinish(s CallSession, disposition string) {
	if m.recorder == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), recorderTimeout)
		defer cancel()
		if err := m.recorder.CallFinished(ctx, s, disposition); err != nil {
			m.logger.Error("failed to record call outcome", "call_id", s.CallID, "disposition", disposition, "error", err)
		}
	}()
}
