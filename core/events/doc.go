// Package events defines the typed conversation event contract.
//
// Event kinds are grouped by receiver-facing namespaces:
//
//   - session.*
//   - agent.*
//   - user.*
//   - tool.*
//
// session events
//
//   - SessionStarted (session.started): the agent accepted the conversation;
//     carries the conversation ID and negotiated audio formats.
//   - SessionEnded (session.ended): the conversation is over; carries the
//     conversation ID and the error that ended it, if any.
//   - LatencyMeasured (session.latency_measured): round trip time reported by
//     the agent with a ping.
//
// agent events
//
//   - AgentResponse (agent.response): final text of an agent reply.
//   - AgentResponseCorrected (agent.response_corrected): the agent was cut off
//     and its reply was truncated to what was actually spoken.
//   - AgentAudio (agent.audio): synthesized speech chunk.
//   - AgentInterrupted (agent.interrupted): the user spoke over the agent;
//     audio up to the carried event ID must be discarded.
//
// user events
//
//   - UserTranscript (user.transcript): recognized user utterance.
//
// tool events
//
//   - ClientToolCalled (tool.client_called): the agent asked the client to run
//     a tool.
package events
