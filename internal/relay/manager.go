package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Manager owns the call lifecycle state machine and routes signaling between
// the two resolved connections of a call. All mutating operations are
// serialized by a single mutex; no operation performs I/O while holding it.
// Operations return the notices to dispatch instead of writing to sockets.
type Manager struct {
	mu       sync.Mutex
	registry *Registry
	sessions map[string]*CallSession // both participant ids point at the same record
	recorder HistoryRecorder
	logger   *slog.Logger

	// now is replaceable in tests.
	now func() time.Time

	signalsForwarded atomic.Uint64
	callTotals       map[string]uint64 // terminal dispositions since start
}

// NewManager creates a call session manager on top of the given registry.
// recorder may be nil to disable history persistence.
func NewManager(registry *Registry, recorder HistoryRecorder, logger *slog.Logger) *Manager {
	return &Manager{
		registry:   registry,
		sessions:   make(map[string]*CallSession),
		recorder:   recorder,
		logger:     logger.With("subsystem", "calls"),
		now:        time.Now,
		callTotals: make(map[string]uint64),
	}
}

// Register adds or refreshes the user's presence and returns the roster
// broadcast for every connection plus an acknowledgement for the new one.
func (m *Manager) Register(userID string, h Handle, profile Profile) []Notice {
	m.mu.Lock()
	m.registry.Register(userID, h, profile)

	notices := []Notice{{
		Target: h,
		Event:  RegisteredEvent{UserID: userID, OnlineUsers: m.registry.Count()},
	}}
	notices = append(notices, m.rosterNoticesLocked()...)
	m.mu.Unlock()

	return notices
}

// StartCall validates preconditions, creates a session in ringing state and
// returns it with the notices for both sides. On a precondition failure it
// returns a *CallError carrying the reason; no session is created and no
// state changes.
func (m *Manager) StartCall(callerID, receiverID, kind, callID, roomToken string) (*CallSession, []Notice, error) {
	if callerID == "" || receiverID == "" {
		return nil, nil, errInvalidRequest("caller and receiver ids are required")
	}
	if callerID == receiverID {
		return nil, nil, errInvalidRequest("cannot call yourself")
	}
	if kind == "" {
		kind = CallKindVideo
	}
	if !ValidCallKind(kind) {
		return nil, nil, errInvalidRequest(fmt.Sprintf("unknown call kind %q", kind))
	}

	m.mu.Lock()

	receiver, ok := m.registry.Lookup(receiverID)
	if !ok {
		m.mu.Unlock()
		return nil, nil, errPeerUnreachable(fmt.Sprintf("user %s is not connected", receiverID))
	}

	// A terminal session is removed from the indices on transition, so any
	// indexed session means the line is busy.
	if s, busy := m.sessions[receiverID]; busy && !s.State.Terminal() {
		m.mu.Unlock()
		return nil, nil, errPeerBusy(fmt.Sprintf("user %s is in another call", receiverID))
	}
	if s, busy := m.sessions[callerID]; busy && !s.State.Terminal() {
		m.mu.Unlock()
		return nil, nil, errPeerBusy("caller already has a call in progress")
	}

	if callID == "" {
		callID = uuid.NewString()
	}
	if roomToken == "" {
		roomToken = newRoomToken(callerID, receiverID, m.now())
	}

	s := &CallSession{
		CallID:     callID,
		CallerID:   callerID,
		ReceiverID: receiverID,
		Kind:       kind,
		RoomToken:  roomToken,
		State:      StateRinging,
		StartedAt:  m.now(),
	}
	m.sessions[callerID] = s
	m.sessions[receiverID] = s

	callerProfile := Profile{}
	caller, callerOnline := m.registry.Lookup(callerID)
	if callerOnline {
		callerProfile = caller.Profile
	}

	notices := []Notice{{
		Target: receiver.Handle,
		Event: IncomingCallEvent{
			CallID:        callID,
			CallerID:      callerID,
			CallerProfile: callerProfile,
			Kind:          kind,
			RoomToken:     roomToken,
		},
	}}
	if callerOnline {
		notices = append(notices, Notice{
			Target: caller.Handle,
			Event:  RingingEvent{CallID: callID, ReceiverID: receiverID, RoomToken: roomToken},
		})
	}

	snap := *s
	m.mu.Unlock()

	m.logger.Info("call started",
		"call_id", callID,
		"caller", callerID,
		"receiver", receiverID,
		"kind", kind,
	)
	m.recordStart(snap)

	// Callers get a detached copy; the indexed record keeps mutating under
	// the lock after this returns.
	return &snap, notices, nil
}

// AcceptCall transitions a ringing session to active. Only the designated
// receiver may accept; an accept for an unknown call id, a wrong party or a
// non-ringing state is a benign no-op since these races are expected during
// teardown.
func (m *Manager) AcceptCall(callID, acceptorID string) []Notice {
	m.mu.Lock()

	s, ok := m.sessions[acceptorID]
	if !ok || s.CallID != callID || s.State != StateRinging || s.ReceiverID != acceptorID {
		m.mu.Unlock()
		m.logger.Debug("accept ignored", "call_id", callID, "acceptor", acceptorID)
		return nil
	}

	caller, callerOK := m.registry.Lookup(s.CallerID)
	receiver, receiverOK := m.registry.Lookup(s.ReceiverID)

	// One side vanished between ringing and accept: fail the call and tell
	// whoever is still reachable.
	if !callerOK || !receiverOK {
		now := m.now()
		s.State = StateFailed
		s.EndedAt = &now
		m.removeSessionLocked(s)
		m.callTotals["failed"]++

		var notices []Notice
		if callerOK {
			notices = append(notices, Notice{
				Target: caller.Handle,
				Event:  CallEndedEvent{CallID: s.CallID, Reason: "peer disconnected"},
			})
		}
		if receiverOK {
			notices = append(notices, Notice{
				Target: receiver.Handle,
				Event:  CallEndedEvent{CallID: s.CallID, Reason: "peer disconnected"},
			})
		}
		snap := *s
		m.mu.Unlock()

		m.logger.Warn("call failed on accept, participant disconnected",
			"call_id", s.CallID,
			"caller_online", callerOK,
			"receiver_online", receiverOK,
		)
		m.recordFinish(snap, "failed")
		return notices
	}

	now := m.now()
	s.State = StateActive
	s.AnsweredAt = &now

	notices := []Notice{
		{
			Target: caller.Handle,
			Event:  CallAcceptedEvent{CallID: s.CallID, RoomToken: s.RoomToken, Kind: s.Kind},
		},
		{
			Target: receiver.Handle,
			Event: CallConnectedEvent{
				CallID:    s.CallID,
				CallerID:  s.CallerID,
				RoomToken: s.RoomToken,
				Kind:      s.Kind,
			},
		},
	}
	m.mu.Unlock()

	m.logger.Info("call accepted", "call_id", s.CallID, "caller", s.CallerID, "receiver", s.ReceiverID)
	return notices
}

// DeclineCall transitions a ringing session to declined and notifies the
// caller only. Only the designated receiver may decline.
func (m *Manager) DeclineCall(callID, declinerID string) []Notice {
	m.mu.Lock()

	s, ok := m.sessions[declinerID]
	if !ok || s.CallID != callID || s.State != StateRinging || s.ReceiverID != declinerID {
		m.mu.Unlock()
		m.logger.Debug("decline ignored", "call_id", callID, "decliner", declinerID)
		return nil
	}

	now := m.now()
	s.State = StateDeclined
	s.EndedAt = &now
	m.removeSessionLocked(s)
	m.callTotals["rejected"]++

	var notices []Notice
	if caller, ok := m.registry.Lookup(s.CallerID); ok {
		notices = append(notices, Notice{
			Target: caller.Handle,
			Event:  CallDeclinedEvent{CallID: s.CallID, Reason: "declined"},
		})
	}
	snap := *s
	m.mu.Unlock()

	m.logger.Info("call declined", "call_id", s.CallID, "caller", s.CallerID, "receiver", s.ReceiverID)
	m.recordFinish(snap, "rejected")
	return notices
}

// EndCall transitions a ringing or active session to ended and notifies the
// other participant. Ending an already-ended call is a silent no-op so both
// sides may race to hang up.
func (m *Manager) EndCall(callID, enderID string) []Notice {
	m.mu.Lock()

	s, ok := m.sessions[enderID]
	if !ok || s.CallID != callID || s.State.Terminal() {
		m.mu.Unlock()
		m.logger.Debug("end ignored", "call_id", callID, "ender", enderID)
		return nil
	}

	now := m.now()
	s.State = StateEnded
	s.EndedAt = &now
	m.removeSessionLocked(s)

	disposition := "completed"
	if s.AnsweredAt == nil {
		disposition = "missed"
	}
	m.callTotals[disposition]++

	var notices []Notice
	if peer, ok := m.registry.Lookup(s.Peer(enderID)); ok {
		notices = append(notices, Notice{
			Target: peer.Handle,
			Event: CallEndedEvent{
				CallID:          s.CallID,
				Reason:          "ended by peer",
				DurationSeconds: s.DurationSeconds(),
			},
		})
	}
	snap := *s
	m.mu.Unlock()

	m.logger.Info("call ended",
		"call_id", s.CallID,
		"ender", enderID,
		"duration_s", snap.DurationSeconds(),
		"disposition", disposition,
	)
	m.recordFinish(snap, disposition)
	return notices
}

// ForwardSignal relays an opaque signaling payload to the peer of an
// in-flight call. Signals for unknown or torn-down calls are dropped
// silently, as are signals to a peer that has gone offline.
func (m *Manager) ForwardSignal(fromUserID, toUserID, callID string, payload []byte) []Notice {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[fromUserID]
	if !ok || s.CallID != callID || s.Peer(fromUserID) != toUserID {
		return nil
	}

	peer, ok := m.registry.Lookup(toUserID)
	if !ok {
		return nil
	}

	m.signalsForwarded.Add(1)
	return []Notice{{
		Target: peer.Handle,
		Event:  SignalEvent{CallID: callID, FromUserID: fromUserID, Payload: payload},
	}}
}

// ChangeCallKind switches a non-terminal session between audio and video and
// notifies both participants. Either participant may request the change; a
// kind outside the enumeration is ignored like any other stale request.
func (m *Manager) ChangeCallKind(callID, userID, kind, reason string) []Notice {
	if !ValidCallKind(kind) {
		m.logger.Debug("kind change ignored", "call_id", callID, "kind", kind)
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[userID]
	if !ok || s.CallID != callID {
		return nil
	}
	s.Kind = kind

	ev := CallKindChangedEvent{CallID: callID, Kind: kind, Reason: reason}
	var notices []Notice
	for _, id := range []string{s.CallerID, s.ReceiverID} {
		if uc, ok := m.registry.Lookup(id); ok {
			notices = append(notices, Notice{Target: uc.Handle, Event: ev})
		}
	}
	return notices
}

// SwitchPlatform moves a non-terminal session to another conferencing backend
// and notifies both participants. Either participant may switch; a stale call
// id is a silent no-op.
func (m *Manager) SwitchPlatform(callID, userID, platform string) []Notice {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[userID]
	if !ok || s.CallID != callID {
		return nil
	}
	s.Platform = platform

	ev := PlatformChangedEvent{CallID: callID, Platform: platform, Reason: "switched by peer"}
	var notices []Notice
	for _, id := range []string{s.CallerID, s.ReceiverID} {
		if uc, ok := m.registry.Lookup(id); ok {
			notices = append(notices, Notice{Target: uc.Handle, Event: ev})
		}
	}
	return notices
}

// JoinMeeting tells the peer of the user's in-flight call that the user has
// entered the media room. No session state changes; a user without a live
// session produces no notices.
func (m *Manager) JoinMeeting(userID, roomToken, displayName string) []Notice {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[userID]
	if !ok || s.State.Terminal() {
		return nil
	}
	peer, ok := m.registry.Lookup(s.Peer(userID))
	if !ok {
		return nil
	}
	return []Notice{{
		Target: peer.Handle,
		Event: ParticipantJoinedEvent{
			RoomToken:   roomToken,
			UserID:      userID,
			DisplayName: displayName,
			Platform:    s.Platform,
		},
	}}
}

// LeaveMeeting tells the peer of the user's in-flight call that the user has
// left the media room. The session itself stays untouched; hanging up is a
// separate operation.
func (m *Manager) LeaveMeeting(userID, roomToken string) []Notice {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[userID]
	if !ok || s.State.Terminal() {
		return nil
	}
	peer, ok := m.registry.Lookup(s.Peer(userID))
	if !ok {
		return nil
	}
	return []Notice{{
		Target: peer.Handle,
		Event: ParticipantLeftEvent{
			RoomToken: roomToken,
			UserID:    userID,
			Platform:  s.Platform,
		},
	}}
}

// ForwardToUser relays an event to a user resolved through the registry,
// outside of any call session. Dropped silently when the user is offline.
func (m *Manager) ForwardToUser(toUserID string, ev Event) []Notice {
	m.mu.Lock()
	defer m.mu.Unlock()

	uc, ok := m.registry.Lookup(toUserID)
	if !ok {
		return nil
	}
	return []Notice{{Target: uc.Handle, Event: ev}}
}

// HandleDisconnect tears down state for a closed connection: any non-terminal
// call the user was in ends with reason "peer disconnected", the user leaves
// the registry, and the roster is rebroadcast. A stale handle (already
// superseded by a reconnect) is a complete no-op.
func (m *Manager) HandleDisconnect(h Handle) []Notice {
	m.mu.Lock()

	uc, ok := m.registry.Remove(h)
	if !ok {
		m.mu.Unlock()
		return nil
	}

	var notices []Notice
	var snap CallSession
	var disposition string

	if s, inCall := m.sessions[uc.UserID]; inCall && !s.State.Terminal() {
		now := m.now()
		s.State = StateEnded
		s.EndedAt = &now
		m.removeSessionLocked(s)

		disposition = "completed"
		if s.AnsweredAt == nil {
			disposition = "missed"
		}
		m.callTotals[disposition]++

		if peer, ok := m.registry.Lookup(s.Peer(uc.UserID)); ok {
			notices = append(notices, Notice{
				Target: peer.Handle,
				Event: CallEndedEvent{
					CallID:          s.CallID,
					Reason:          "peer disconnected",
					DurationSeconds: s.DurationSeconds(),
				},
			})
		}
		snap = *s
	}

	notices = append(notices, m.rosterNoticesLocked()...)
	m.mu.Unlock()

	if disposition != "" {
		m.logger.Info("call ended by disconnect",
			"call_id", snap.CallID,
			"user_id", uc.UserID,
			"disposition", disposition,
		)
		m.recordFinish(snap, disposition)
	}
	return notices
}

// RunRingTimeout periodically fails ringing sessions older than timeout and
// hands the resulting notices to dispatch. It blocks until ctx is cancelled.
// Unanswered calls ring forever by default; callers only start this loop when
// a timeout is configured.
func (m *Manager) RunRingTimeout(ctx context.Context, timeout time.Duration, dispatch func([]Notice)) {
	interval := timeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.logger.Info("ring timeout sweep started", "timeout", timeout.String())

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("ring timeout sweep stopped")
			return
		case <-ticker.C:
			if notices := m.expireRinging(timeout); len(notices) > 0 {
				dispatch(notices)
			}
		}
	}
}

// expireRinging transitions every ringing session older than timeout to a
// missed end and returns the notices for both participants.
func (m *Manager) expireRinging(timeout time.Duration) []Notice {
	m.mu.Lock()

	cutoff := m.now().Add(-timeout)
	expired := make([]*CallSession, 0)
	seen := make(map[string]bool)
	for _, s := range m.sessions {
		if s.State == StateRinging && s.StartedAt.Before(cutoff) && !seen[s.CallID] {
			seen[s.CallID] = true
			expired = append(expired, s)
		}
	}

	var notices []Notice
	snaps := make([]CallSession, 0, len(expired))
	for _, s := range expired {
		now := m.now()
		s.State = StateEnded
		s.EndedAt = &now
		m.removeSessionLocked(s)
		m.callTotals["missed"]++

		ev := CallEndedEvent{CallID: s.CallID, Reason: "no answer"}
		for _, id := range []string{s.CallerID, s.ReceiverID} {
			if uc, ok := m.registry.Lookup(id); ok {
				notices = append(notices, Notice{Target: uc.Handle, Event: ev})
			}
		}
		snaps = append(snaps, *s)
	}
	m.mu.Unlock()

	for _, snap := range snaps {
		m.logger.Info("ringing call timed out", "call_id", snap.CallID)
		m.recordFinish(snap, "missed")
	}
	return notices
}

// ActiveCallCount returns the number of in-flight call sessions.
func (m *Manager) ActiveCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool)
	for _, s := range m.sessions {
		seen[s.CallID] = true
	}
	return len(seen)
}

// ConnectedUserCount returns the number of registered users.
func (m *Manager) ConnectedUserCount() int {
	return m.registry.Count()
}

// SignalsForwarded returns the total number of signaling payloads relayed.
func (m *Manager) SignalsForwarded() uint64 {
	return m.signalsForwarded.Load()
}

// CallTotals returns the terminal call counts by disposition since start.
func (m *Manager) CallTotals() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]uint64, len(m.callTotals))
	for k, v := range m.callTotals {
		out[k] = v
	}
	return out
}

// removeSessionLocked drops a session from both participant indices.
// Callers must hold m.mu.
func (m *Manager) removeSessionLocked(s *CallSession) {
	delete(m.sessions, s.CallerID)
	delete(m.sessions, s.ReceiverID)
}

// rosterNoticesLocked builds a roster broadcast for every live connection.
// Callers must hold m.mu.
func (m *Manager) rosterNoticesLocked() []Notice {
	snapshot := m.registry.Snapshot()
	entries := make([]RosterEntry, len(snapshot))
	for i, uc := range snapshot {
		entries[i] = RosterEntry{UserID: uc.UserID, Profile: uc.Profile}
	}
	ev := RosterEvent{Users: entries}

	notices := make([]Notice, len(snapshot))
	for i, uc := range snapshot {
		notices[i] = Notice{Target: uc.Handle, Event: ev}
	}
	return notices
}

// newRoomToken builds a media room identifier from the sorted participant
// ids and the start time, matching the room naming convention clients embed
// in their conferencing URLs.
func newRoomToken(callerID, receiverID string, now time.Time) string {
	a, b := callerID, receiverID
	if b < a {
		a, b = b, a
	}
	return fmt.Sprintf("room-%s-%s-%d", a, b, now.UnixMilli())
}
