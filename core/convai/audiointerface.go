package convai

// AudioInterface connects a conversation to a microphone and a speaker.
//
// Audio in both directions is 16 kHz mono 16-bit little endian PCM.
type AudioInterface interface {
	// Start begins capturing. onInput is called from the capture context with
	// chunks of microphone audio and must not block for long.
	Start(onInput func(audio []byte)) error
	// Output queues agent speech for playback. It should return quickly.
	Output(audio []byte) error
	// Interrupt drops any queued playback.
	Interrupt()
	// Stop ends capture and playback. Repeated calls are ignored.
	Stop() error
}

// NoAudio is an [AudioInterface] that captures nothing and discards output.
// It is useful for text only sessions.
type NoAudio struct{}

func (NoAudio) Start(func([]byte)) error { return nil }
func (NoAudio) Output([]byte) error      { return nil }
func (NoAudio) Interrupt()               {}
func (NoAudio) Stop() error              { return nil }
