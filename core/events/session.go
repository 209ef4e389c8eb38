package events

import "time"

const (
	// KindSessionStarted identifies the agent accepting the conversation.
	KindSessionStarted Kind = "session.started"
	// KindSessionEnded identifies the end of the conversation.
	KindSessionEnded Kind = "session.ended"
	// KindLatencyMeasured identifies a latency report from the agent.
	KindLatencyMeasured Kind = "session.latency_measured"
)

// SessionStarted carries the conversation metadata sent by the agent.
type SessionStarted struct {
	Base
	ConversationID    string
	AgentOutputFormat string
	UserInputFormat   string
}

// NewSessionStarted creates a session started event.
func NewSessionStarted(conversationID, agentOutputFormat, userInputFormat string) SessionStarted {
	return SessionStarted{
		Base:              NewBase(KindSessionStarted),
		ConversationID:    conversationID,
		AgentOutputFormat: agentOutputFormat,
		UserInputFormat:   userInputFormat,
	}
}

// SessionEnded marks the end of the conversation. Err is nil for a clean end.
type SessionEnded struct {
	Base
	ConversationID string
	Err            error
}

// NewSessionEnded creates a session ended event.
func NewSessionEnded(conversationID string, err error) SessionEnded {
	return SessionEnded{Base: NewBase(KindSessionEnded), ConversationID: conversationID, Err: err}
}

// LatencyMeasured carries a round trip time reported by the agent.
type LatencyMeasured struct {
	Base
	Latency time.Duration
}

// NewLatencyMeasured creates a latency event from a millisecond value.
func NewLatencyMeasured(latencyMs float64) LatencyMeasured {
	return LatencyMeasured{
		Base:    NewBase(KindLatencyMeasured),
		Latency: time.Duration(latencyMs * float64(time.Millisecond)),
	}
}

// Milliseconds returns the latency as fractional milliseconds.
func (e LatencyMeasured) Milliseconds() float64 {
	return float64(e.Latency) / float64(time.Millisecond)
}
