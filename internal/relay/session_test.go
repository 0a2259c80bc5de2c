package relay

import (
	"testing"
	"time"
)

func TestCallStateTerminal(t *testing.T) {
	for state, want := range map[CallState]bool{
		StateRinging:  false,
		StateActive:   false,
		StateEnded:    true,
		StateDeclined: true,
		StateFailed:   true,
	} {
		if got := state.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", state, got, want)
		}
	}
}

func TestSessionPeer(t *testing.T) {
	s := &CallSession{CallerID: "alice", ReceiverID: "bob"}

	if got := s.Peer("alice"); got != "bob" {
		t.Errorf("Peer(alice) = %q, want bob", got)
	}
	if got := s.Peer("bob"); got != "alice" {
		t.Errorf("Peer(bob) = %q, want alice", got)
	}
	if got := s.Peer("carol"); got != "" {
		t.Errorf("Peer(carol) = %q, want empty", got)
	}
}

func TestDurationSeconds(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	unanswered := &CallSession{StartedAt: base}
	if got := unanswered.DurationSeconds(); got != 0 {
		t.Errorf("unanswered duration = %d, want 0", got)
	}

	answered := base.Add(3 * time.Second)
	ended := answered.Add(90*time.Second + 900*time.Millisecond)
	s := &CallSession{StartedAt: base, AnsweredAt: &answered, EndedAt: &ended}
	if got := s.DurationSeconds(); got != 90 {
		t.Errorf("duration = %d, want 90 (floored)", got)
	}

	// Clock skew must not surface as a negative duration.
	before := answered.Add(-2 * time.Second)
	skewed := &CallSession{StartedAt: base, AnsweredAt: &answered, EndedAt: &before}
	if got := skewed.DurationSeconds(); got != 0 {
		t.Errorf("skewed duration = %d, want 0", got)
	}
}
