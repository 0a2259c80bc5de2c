package relay

import "time"

// CallState represents the lifecycle state of a call session.
type CallState string

const (
	StateRinging  CallState = "ringing"
	StateActive   CallState = "active"
	StateEnded    CallState = "ended"
	StateDeclined CallState = "declined"
	StateFailed   CallState = "failed"
)

// Terminal reports whether no further transitions are accepted from s.
func (s CallState) Terminal() bool {
	switch s {
	case StateEnded, StateDeclined, StateFailed:
		return true
	}
	return false
}

// Call kinds. Forwarded to clients; the relay never branches on the kind
// beyond validating it against this enumeration.
const (
	CallKindAudio = "audio"
	CallKindVideo = "video"
)

// ValidCallKind reports whether kind is a member of the call kind enumeration.
func ValidCallKind(kind string) bool {
	return kind == CallKindAudio || kind == CallKindVideo
}

// CallSession is one signaling session between exactly two users. A single
// session record is indexed under both participant ids; every lookup path
// observes the same object, so a state mutation is visible from either side
// atomically. All mutation happens under the owning Manager's lock.
type CallSession struct {
	// CallID uniquely identifies the call. Caller-supplied or generated
	// when the call starts.
	CallID string

	// CallerID and ReceiverID are the two participants. Never equal.
	CallerID   string
	ReceiverID string

	// Kind is "audio" or "video".
	Kind string

	// Platform names the conferencing backend the clients are meeting on.
	// Opaque to the relay; participants may switch it mid-call.
	Platform string

	// RoomToken identifies the external media room. Passed through to both
	// clients, never validated or inspected.
	RoomToken string

	// State is the current lifecycle state.
	State CallState

	// StartedAt is when the call entered ringing.
	StartedAt time.Time

	// AnsweredAt is set when the receiver accepts.
	AnsweredAt *time.Time

	// EndedAt is set on the terminal transition.
	EndedAt *time.Time
}

// Peer returns the other participant's user id, or "" when userID is not a
// participant of this session.
func (s *CallSession) Peer(userID string) string {
	switch userID {
	case s.CallerID:
		return s.ReceiverID
	case s.ReceiverID:
		return s.CallerID
	}
	return ""
}

// DurationSeconds returns the answered duration in whole seconds, floored.
// Zero if the call was never answered or has not ended, and clamped to zero
// if clock skew produces a negative delta.
func (s *CallSession) DurationSeconds() int {
	if s.AnsweredAt == nil || s.EndedAt == nil {
		return 0
	}
	d := int(s.EndedAt.Sub(*s.AnsweredAt).Seconds())
	if d < 0 {
		return 0
	}
	return d
}
