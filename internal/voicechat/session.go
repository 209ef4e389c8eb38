package voicechat

import (
	"context"
	"fmt"

	"github.com/koscakluka/ema-voicechat/core/audio"
	"github.com/koscakluka/ema-voicechat/core/audio/miniaudio"
	"github.com/koscakluka/ema-voicechat/core/audio/portaudio"
	"github.com/koscakluka/ema-voicechat/core/convai"
	"github.com/koscakluka/ema-voicechat/core/events"
	"github.com/koscakluka/ema-voicechat/internal/config"
)

// Session is the part of a conversation the lifecycle driver needs.
type Session interface {
	StartSession(ctx context.Context) error
	// EndSession requests a graceful end and returns without waiting
	EndSession()
	WaitForSessionEnd() (conversationID string, err error)
}

// Handlers receive conversation output. They are called from the session's
// goroutines.
type Handlers interface {
	AgentResponse(response string)
	AgentResponseCorrection(original, corrected string)
	UserTranscript(transcript string)
	Latency(latencyMs float64)
}

type SessionParams struct {
	Client       *convai.Client
	AgentID      string
	RequiresAuth bool
	Audio        convai.AudioInterface
	Handlers     Handlers
	// ClientTools are offered to the agent when set
	ClientTools *convai.ClientTools
}

type SessionFactory func(params SessionParams) Session

// NewConversation is the default [SessionFactory].
func NewConversation(params SessionParams) Session {
	opts := []convai.ConversationOption{
		convai.WithAgentResponseCallback(params.Handlers.AgentResponse),
		convai.WithAgentResponseCorrectionCallback(params.Handlers.AgentResponseCorrection),
		convai.WithUserTranscriptCallback(params.Handlers.UserTranscript),
		convai.WithLatencyMeasurementCallback(params.Handlers.Latency),
		convai.WithEventCallback(logEvent),
	}
	if params.ClientTools != nil {
		opts = append(opts, convai.WithClientTools(params.ClientTools))
	}

	return convai.NewConversation(params.Client, params.AgentID, params.RequiresAuth, params.Audio, opts...)
}

func logEvent(event events.Event) {
	switch e := event.(type) {
	case events.SessionStarted:
		logger.Info("conversation started",
			"conversation_id", e.ConversationID,
			"agent_output_format", e.AgentOutputFormat,
			"user_input_format", e.UserInputFormat,
		)
		checkFormat("agent output", e.AgentOutputFormat)
		checkFormat("user input", e.UserInputFormat)
	case events.SessionEnded:
		if e.Err != nil {
			logger.Error("conversation failed", "conversation_id", e.ConversationID, "error", e.Err)
		} else {
			logger.Info("conversation ended", "conversation_id", e.ConversationID)
		}
	case events.ClientToolCalled:
		logger.Info("client tool called", "tool", e.ToolName, "call_id", e.CallID)
	case events.AgentAudio:
	default:
		logger.Debug("conversation event", "namespace", event.Kind().Namespace(), "kind", string(event.Kind()))
	}
}

// checkFormat warns when the agent negotiated a format the local audio
// devices do not run at.
func checkFormat(direction, format string) {
	if format == "" {
		return
	}

	encoding, err := audio.ParseFormat(format)
	if err != nil {
		logger.Warn("unknown audio format", "direction", direction, "format", format, "error", err)
		return
	}
	if expected := audio.GetDefaultEncodingInfo(); encoding != expected {
		logger.Warn("audio format mismatch", "direction", direction, "format", encoding.String(), "expected", expected.String())
	}
}

type AudioFactory func() (convai.AudioInterface, error)

// NewAudioInterface opens the system microphone and speakers with the given
// backend.
func NewAudioInterface(backend string) (convai.AudioInterface, error) {
	switch backend {
	case "", config.AudioBackendMiniaudio:
		client, err := miniaudio.NewClient()
		if err != nil {
			return nil, fmt.Errorf("failed to open audio devices: %w", err)
		}
		return client, nil
	case config.AudioBackendPortaudio:
		client, err := portaudio.NewClient(0)
		if err != nil {
			return nil, fmt.Errorf("failed to open audio devices: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unsupported audio backend %q", backend)
	}
}
