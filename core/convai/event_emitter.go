package convai

import "github.com/koscakluka/ema-voicechat/core/events"

type eventEmitter func(events.Event)

func newCallbackEventEmitter(opts ConversationOptions) eventEmitter {
	return func(event events.Event) {
		if opts.EventCallback != nil {
			opts.EventCallback(event)
		}

		switch typedEvent := event.(type) {
		case events.AgentResponse:
			if opts.AgentResponseCallback != nil {
				opts.AgentResponseCallback(typedEvent.Text)
			}
		case events.AgentResponseCorrected:
			if opts.AgentResponseCorrectionCallback != nil {
				opts.AgentResponseCorrectionCallback(typedEvent.Original, typedEvent.Corrected)
			}
		case events.UserTranscript:
			if opts.UserTranscriptCallback != nil {
				opts.UserTranscriptCallback(typedEvent.Transcript)
			}
		case events.LatencyMeasured:
			if opts.LatencyMeasurementCallback != nil {
				opts.LatencyMeasurementCallback(typedEvent.Milliseconds())
			}
		case events.SessionEnded:
			if opts.EndCallback != nil {
				opts.EndCallback(typedEvent.ConversationID, typedEvent.Err)
			}
		}
	}
}
