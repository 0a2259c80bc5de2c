package relay

// Reason classifies why a call request was rejected. Reasons are reported to
// the requesting client only; the peer never sees raw reason codes.
type Reason string

const (
	// ReasonInvalidRequest covers malformed input such as a self-call or a
	// missing user id. Rejected before any state is touched.
	ReasonInvalidRequest Reason = "invalid_request"

	// ReasonPeerUnreachable means the target user has no live registry
	// entry at the time of the request.
	ReasonPeerUnreachable Reason = "peer_unreachable"

	// ReasonPeerBusy means the target (or the requester) already has a
	// non-terminal call session.
	ReasonPeerBusy Reason = "peer_busy"
)

// CallError is a synchronous rejection of a call request. No shared state is
// mutated when a CallError is returned.
type CallError struct {
	Reason Reason
	msg    string
}

func (e *CallError) Error() string { return e.msg }

// Is matches two CallErrors by reason so errors.Is works against the
// exported sentinel values below.
func (e *CallError) Is(target error) bool {
	t, ok := target.(*CallError)
	return ok && t.Reason == e.Reason
}

// Sentinel values for errors.Is checks.
var (
	ErrInvalidRequest  = &CallError{Reason: ReasonInvalidRequest, msg: "invalid request"}
	ErrPeerUnreachable = &CallError{Reason: ReasonPeerUnreachable, msg: "peer unreachable"}
	ErrPeerBusy        = &CallError{Reason: ReasonPeerBusy, msg: "peer busy"}
)

func errInvalidRequest(msg string) *CallError {
	return &CallError{Reason: ReasonInvalidRequest, msg: msg}
}

func errPeerUnreachable(msg string) *CallError {
	return &CallError{Reason: ReasonPeerUnreachable, msg: msg}
}

func errPeerBusy(msg string) *CallError {
	return &CallError{Reason: ReasonPeerBusy, msg: msg}
}
