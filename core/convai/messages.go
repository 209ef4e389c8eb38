package convai

import (
	"encoding/base64"
	"fmt"

	"github.com/jinzhu/copier"
)

type messageType string

// Server → client
const (
	messageTypeConversationInitiationMetadata messageType = "conversation_initiation_metadata"
	messageTypeAudio                          messageType = "audio"
	messageTypeAgentResponse                  messageType = "agent_response"
	messageTypeAgentResponseCorrection        messageType = "agent_response_correction"
	messageTypeUserTranscript                 messageType = "user_transcript"
	messageTypeInterruption                   messageType = "interruption"
	messageTypePing                           messageType = "ping"
	messageTypeClientToolCall                 messageType = "client_tool_call"
)

// Client → server
const (
	messageTypeConversationInitiationClientData messageType = "conversation_initiation_client_data"
	messageTypePong                             messageType = "pong"
	messageTypeClientToolResult                 messageType = "client_tool_result"
	messageTypeUserMessage                      messageType = "user_message"
	messageTypeContextualUpdate                 messageType = "contextual_update"
	messageTypeUserActivity                     messageType = "user_activity"
)

type serverMessage struct {
	Type messageType `json:"type"`

	ConversationInitiationMetadataEvent *conversationInitiationMetadataEvent `json:"conversation_initiation_metadata_event,omitempty"`
	AudioEvent                          *audioEvent                          `json:"audio_event,omitempty"`
	AgentResponseEvent                  *agentResponseEvent                  `json:"agent_response_event,omitempty"`
	AgentResponseCorrectionEvent        *agentResponseCorrectionEvent        `json:"agent_response_correction_event,omitempty"`
	UserTranscriptionEvent              *userTranscriptionEvent              `json:"user_transcription_event,omitempty"`
	InterruptionEvent                   *interruptionEvent                   `json:"interruption_event,omitempty"`
	PingEvent                           *pingEvent                           `json:"ping_event,omitempty"`
	ClientToolCall                      *clientToolCall                      `json:"client_tool_call,omitempty"`
}

type conversationInitiationMetadataEvent struct {
	ConversationID         string `json:"conversation_id"`
	AgentOutputAudioFormat string `json:"agent_output_audio_format"`
	UserInputAudioFormat   string `json:"user_input_audio_format"`
}

type audioEvent struct {
	AudioBase64 string `json:"audio_base_64"`
	EventID     int64  `json:"event_id"`
}

func (e audioEvent) decode() ([]byte, error) {
	audio, err := base64.StdEncoding.DecodeString(e.AudioBase64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode agent audio: %w", err)
	}
	return audio, nil
}

type agentResponseEvent struct {
	AgentResponse string `json:"agent_response"`
}

type agentResponseCorrectionEvent struct {
	OriginalAgentResponse  string `json:"original_agent_response"`
	CorrectedAgentResponse string `json:"corrected_agent_response"`
}

type userTranscriptionEvent struct {
	UserTranscript string `json:"user_transcript"`
}

type interruptionEvent struct {
	EventID int64 `json:"event_id"`
}

type pingEvent struct {
	EventID int64    `json:"event_id"`
	PingMs  *float64 `json:"ping_ms"`
}

type clientToolCall struct {
	ToolName   string         `json:"tool_name"`
	ToolCallID string         `json:"tool_call_id"`
	Parameters map[string]any `json:"parameters"`
}

type conversationInitiationClientData struct {
	Type                       messageType                 `json:"type"`
	ConversationConfigOverride *conversationConfigOverride `json:"conversation_config_override,omitempty"`
	DynamicVariables           map[string]any              `json:"dynamic_variables,omitempty"`
	UserID                     string                      `json:"user_id,omitempty"`
}

type conversationConfigOverride struct {
	Agent *agentConfigOverride `json:"agent,omitempty"`
	TTS   *ttsConfigOverride   `json:"tts,omitempty"`
}

type agentConfigOverride struct {
	Prompt       *promptConfigOverride `json:"prompt,omitempty"`
	FirstMessage string                `json:"first_message,omitempty"`
	Language     string                `json:"language,omitempty"`
}

type promptConfigOverride struct {
	Prompt string `json:"prompt,omitempty"`
}

type ttsConfigOverride struct {
	VoiceID string `json:"voice_id,omitempty"`
}

func newConversationInitiationClientData(options ConversationOptions) (conversationInitiationClientData, error) {
	msg := conversationInitiationClientData{
		Type:             messageTypeConversationInitiationClientData,
		DynamicVariables: options.DynamicVariables,
		UserID:           options.UserID,
	}

	if options.ConfigOverride != nil {
		var override conversationConfigOverride
		if err := copier.CopyWithOption(&override, options.ConfigOverride, copier.Option{DeepCopy: true}); err != nil {
			return msg, fmt.Errorf("failed to map config override: %w", err)
		}
		msg.ConversationConfigOverride = &override
	}

	return msg, nil
}

type userAudioChunk struct {
	UserAudioChunk string `json:"user_audio_chunk"`
}

func newUserAudioChunk(audio []byte) userAudioChunk {
	return userAudioChunk{UserAudioChunk: base64.StdEncoding.EncodeToString(audio)}
}

type pongMessage struct {
	Type    messageType `json:"type"`
	EventID int64       `json:"event_id"`
}

type clientToolResult struct {
	Type       messageType `json:"type"`
	ToolCallID string      `json:"tool_call_id"`
	Result     string      `json:"result"`
	IsError    bool        `json:"is_error"`
}

type textMessage struct {
	Type messageType `json:"type"`
	Text string      `json:"text,omitempty"`
}
