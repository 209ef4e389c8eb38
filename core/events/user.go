package events

const (
	// KindUserTranscript identifies a recognized user utterance.
	KindUserTranscript Kind = "user.transcript"
)

// UserTranscript carries a recognized user utterance.
type UserTranscript struct {
	Base
	Transcript string
}

// NewUserTranscript creates a user transcript event.
func NewUserTranscript(transcript string) UserTranscript {
	return UserTranscript{Base: NewBase(KindUserTranscript), Transcript: transcript}
}
