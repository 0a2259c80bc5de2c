package relay

import "encoding/json"

// Event is one outbound notification produced by a relay operation. Each
// concrete event corresponds to a single wire event name; the transport
// adapter serializes the event under that name.
type Event interface {
	EventName() string
}

// Notice pairs an event with the connection it should be delivered to.
// Operations return notices instead of writing to sockets so the state
// machine stays free of I/O; the transport adapter dispatches them after
// the operation returns.
type Notice struct {
	Target Handle
	Event  Event
}

// RosterEntry is one user in a presence roster.
type RosterEntry struct {
	UserID  string  `json:"user_id"`
	Profile Profile `json:"profile"`
}

// RosterEvent carries the full presence list. Broadcast to every connection
// whenever a user registers or disconnects.
type RosterEvent struct {
	Users []RosterEntry `json:"users"`
}

func (RosterEvent) EventName() string { return "roster" }

// IncomingCallEvent notifies the receiver that a call is ringing.
type IncomingCallEvent struct {
	CallID        string  `json:"call_id"`
	CallerID      string  `json:"caller_id"`
	CallerProfile Profile `json:"caller_profile"`
	Kind          string  `json:"kind"`
	RoomToken     string  `json:"room_token"`
}

func (IncomingCallEvent) EventName() string { return "incoming_call" }

// RingingEvent confirms to the caller that the receiver is being rung.
type RingingEvent struct {
	CallID     string `json:"call_id"`
	ReceiverID string `json:"receiver_id"`
	RoomToken  string `json:"room_token"`
}

func (RingingEvent) EventName() string { return "ringing" }

// CallAcceptedEvent notifies the caller that the receiver accepted.
type CallAcceptedEvent struct {
	CallID    string `json:"call_id"`
	RoomToken string `json:"room_token"`
	Kind      string `json:"kind"`
}

func (CallAcceptedEvent) EventName() string { return "call_accepted" }

// CallConnectedEvent notifies the receiver that the call is now active.
type CallConnectedEvent struct {
	CallID    string `json:"call_id"`
	CallerID  string `json:"caller_id"`
	RoomToken string `json:"room_token"`
	Kind      string `json:"kind"`
}

func (CallConnectedEvent) EventName() string { return "call_connected" }

// CallDeclinedEvent notifies the caller that the receiver declined.
type CallDeclinedEvent struct {
	CallID string `json:"call_id"`
	Reason string `json:"reason"`
}

func (CallDeclinedEvent) EventName() string { return "call_declined" }

// CallEndedEvent notifies a participant that the call reached a terminal
// state. Reason is a human-decodable tag such as "ended by peer" or
// "peer disconnected".
type CallEndedEvent struct {
	CallID          string `json:"call_id"`
	Reason          string `json:"reason"`
	DurationSeconds int    `json:"duration_seconds"`
}

func (CallEndedEvent) EventName() string { return "call_ended" }

// CallFailedEvent reports a rejected or failed call request to the
// requester only.
type CallFailedEvent struct {
	CallID     string `json:"call_id,omitempty"`
	ReceiverID string `json:"receiver_id,omitempty"`
	Reason     Reason `json:"reason"`
}

func (CallFailedEvent) EventName() string { return "call_failed" }

// CallKindChangedEvent notifies both participants that the call switched
// between audio and video.
type CallKindChangedEvent struct {
	CallID string `json:"call_id"`
	Kind   string `json:"kind"`
	Reason string `json:"reason,omitempty"`
}

func (CallKindChangedEvent) EventName() string { return "call_kind_changed" }

// PlatformChangedEvent notifies both participants that the call moved to a
// different conferencing backend.
type PlatformChangedEvent struct {
	CallID   string `json:"call_id"`
	Platform string `json:"platform"`
	Reason   string `json:"reason,omitempty"`
}

func (PlatformChangedEvent) EventName() string { return "platform_changed" }

// ParticipantJoinedEvent tells the peer that the other participant entered
// the media room.
type ParticipantJoinedEvent struct {
	RoomToken   string `json:"room_token"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
	Platform    string `json:"platform,omitempty"`
}

func (ParticipantJoinedEvent) EventName() string { return "participant_joined" }

// ParticipantLeftEvent tells the peer that the other participant left the
// media room.
type ParticipantLeftEvent struct {
	RoomToken string `json:"room_token"`
	UserID    string `json:"user_id"`
	Platform  string `json:"platform,omitempty"`
}

func (ParticipantLeftEvent) EventName() string { return "participant_left" }

// SignalEvent forwards an opaque signaling payload (offer, answer, ICE
// candidate) to the peer of an in-flight call. The payload is never
// inspected or transformed.
type SignalEvent struct {
	CallID     string          `json:"call_id"`
	FromUserID string          `json:"from_user_id"`
	Payload    json.RawMessage `json:"payload"`
}

func (SignalEvent) EventName() string { return "signal" }

// MessageEvent is a direct user-to-user chat payload relayed through the
// registry without a call session.
type MessageEvent struct {
	FromUserID string          `json:"from_user_id"`
	Payload    json.RawMessage `json:"payload"`
}

func (MessageEvent) EventName() string { return "message" }

// TypingEvent signals that the sender started typing.
type TypingEvent struct {
	FromUserID string `json:"from_user_id"`
}

func (TypingEvent) EventName() string { return "typing" }

// StopTypingEvent signals that the sender stopped typing.
type StopTypingEvent struct {
	FromUserID string `json:"from_user_id"`
}

func (StopTypingEvent) EventName() string { return "stop_typing" }

// RegisteredEvent acknowledges a successful presence registration to the
// registering connection.
type RegisteredEvent struct {
	UserID      string `json:"user_id"`
	OnlineUsers int    `json:"online_users"`
}

func (RegisteredEvent) EventName() string { return "registered" }
