package convai

// SessionState is the lifecycle state of a [Conversation].
//
//	UNSTARTED → STARTING → ACTIVE → ENDING → ENDED
//
// ERRORED is reachable from STARTING and ACTIVE and is final.
type SessionState int32

const (
	StateUnstarted SessionState = iota
	StateStarting
	StateActive
	StateEnding
	StateEnded
	StateErrored
)

func (s SessionState) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateEnding:
		return "ending"
	case StateEnded:
		return "ended"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// IsFinal reports whether no further transitions are possible.
func (s SessionState) IsFinal() bool {
	return s == StateEnded || s == StateErrored
}
