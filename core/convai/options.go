package convai

import "github.com/koscakluka/ema-voicechat/core/events"

type ConversationOptions struct {
	// AgentResponseCallback is called with the final text of every agent reply
	AgentResponseCallback func(response string)
	// AgentResponseCorrectionCallback is called when an agent reply got cut
	// short by the user, with the original and the actually spoken text
	AgentResponseCorrectionCallback func(original, corrected string)
	// UserTranscriptCallback is called with every recognized user utterance
	UserTranscriptCallback func(transcript string)
	// LatencyMeasurementCallback is called with the round trip time the agent
	// reports in its pings
	LatencyMeasurementCallback func(latencyMs float64)
	// EventCallback receives every typed event, including audio
	EventCallback func(events.Event)
	// EndCallback is called once when the session ends, for any reason
	EndCallback func(conversationID string, err error)

	ClientTools      *ClientTools
	ConfigOverride   *ConfigOverride
	DynamicVariables map[string]any
	UserID           string
}

type ConversationOption func(*ConversationOptions)

func WithAgentResponseCallback(callback func(response string)) ConversationOption {
	return func(o *ConversationOptions) { o.AgentResponseCallback = callback }
}

func WithAgentResponseCorrectionCallback(callback func(original, corrected string)) ConversationOption {
	return func(o *ConversationOptions) { o.AgentResponseCorrectionCallback = callback }
}

func WithUserTranscriptCallback(callback func(transcript string)) ConversationOption {
	return func(o *ConversationOptions) { o.UserTranscriptCallback = callback }
}

func WithLatencyMeasurementCallback(callback func(latencyMs float64)) ConversationOption {
	return func(o *ConversationOptions) { o.LatencyMeasurementCallback = callback }
}

// WithEventCallback registers a callback for all typed conversation events.
//
// The callback runs on the session read loop; blocking it delays every
// other callback.
func WithEventCallback(callback func(events.Event)) ConversationOption {
	return func(o *ConversationOptions) { o.EventCallback = callback }
}

func WithEndCallback(callback func(conversationID string, err error)) ConversationOption {
	return func(o *ConversationOptions) { o.EndCallback = callback }
}

// WithClientTools makes tools available to the agent. Tool calls for names
// that are not registered are answered with an error result.
func WithClientTools(tools *ClientTools) ConversationOption {
	return func(o *ConversationOptions) { o.ClientTools = tools }
}

// WithConfigOverride overrides parts of the agent configuration for this
// conversation only. The agent must allow the overridden fields.
func WithConfigOverride(override ConfigOverride) ConversationOption {
	return func(o *ConversationOptions) { o.ConfigOverride = &override }
}

func WithDynamicVariables(variables map[string]any) ConversationOption {
	return func(o *ConversationOptions) { o.DynamicVariables = variables }
}

func WithUserID(userID string) ConversationOption {
	return func(o *ConversationOptions) { o.UserID = userID }
}

// ConfigOverride mirrors the agent settings that can be overridden when a
// conversation starts. Nil sections are left as configured on the agent.
type ConfigOverride struct {
	Agent *AgentOverride
	TTS   *TTSOverride
}

type AgentOverride struct {
	Prompt       *PromptOverride
	FirstMessage string
	Language     string
}

type PromptOverride struct {
	Prompt string
}

type TTSOverride struct {
	VoiceID string
}
