package events

const (
	// KindAgentResponse identifies a final agent reply.
	KindAgentResponse Kind = "agent.response"
	// KindAgentResponseCorrected identifies a truncated agent reply.
	KindAgentResponseCorrected Kind = "agent.response_corrected"
	// KindAgentAudio identifies synthesized agent speech.
	KindAgentAudio Kind = "agent.audio"
	// KindAgentInterrupted identifies the user speaking over the agent.
	KindAgentInterrupted Kind = "agent.interrupted"
)

// AgentResponse carries the text of an agent reply.
type AgentResponse struct {
	Base
	Text string
}

// NewAgentResponse creates an agent response event.
func NewAgentResponse(text string) AgentResponse {
	return AgentResponse{Base: NewBase(KindAgentResponse), Text: text}
}

// AgentResponseCorrected carries the original reply and the part of it that
// was spoken before the agent got interrupted.
type AgentResponseCorrected struct {
	Base
	Original  string
	Corrected string
}

// NewAgentResponseCorrected creates an agent response corrected event.
func NewAgentResponseCorrected(original, corrected string) AgentResponseCorrected {
	return AgentResponseCorrected{Base: NewBase(KindAgentResponseCorrected), Original: original, Corrected: corrected}
}

// AgentAudio carries a decoded chunk of agent speech.
type AgentAudio struct {
	Base
	EventID int64
	Audio   []byte
}

// NewAgentAudio creates an agent audio event.
func NewAgentAudio(eventID int64, audio []byte) AgentAudio {
	return AgentAudio{Base: NewBase(KindAgentAudio), EventID: eventID, Audio: audio}
}

// AgentInterrupted marks that the agent got interrupted. Audio with an event
// ID up to and including EventID is stale.
type AgentInterrupted struct {
	Base
	EventID int64
}

// NewAgentInterrupted creates an agent interrupted event.
func NewAgentInterrupted(eventID int64) AgentInterrupted {
	return AgentInterrupted{Base: NewBase(KindAgentInterrupted), EventID: eventID}
}
