package audio

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	DefaultSampleRate = 16000
	DefaultFormat     = "linear16"
	// DefaultChunkDurationMs is how much microphone audio is buffered before it
	// is handed to the conversation.
	DefaultChunkDurationMs = 250
)

func GetDefaultEncodingInfo() EncodingInfo {
	return EncodingInfo{SampleRate: DefaultSampleRate, Format: encodingFormat(DefaultFormat)}
}

type EncodingInfo struct {
	SampleRate int
	Format     encodingFormat
}

func (e EncodingInfo) IsZero() bool {
	return e.SampleRate == 0 || e.Format.Name() == ""
}

func (e EncodingInfo) SilenceValue() byte {
	switch e.Format {
	case EncodingALaw:
		return 0x55
	case EncodingMulaw:
		return 0xFF
	case EncodingLinear16:
		return 0
	}

	return 0
}

// ChunkSize returns the number of bytes needed to hold durationMs of audio.
func (e EncodingInfo) ChunkSize(durationMs int) int {
	if e.IsZero() || e.Format.ByteSize() <= 0 {
		return 0
	}
	return e.SampleRate * e.Format.ByteSize() * durationMs / 1000
}

// String returns the agent-side name of the encoding, e.g. "pcm_16000".
func (e EncodingInfo) String() string {
	switch e.Format {
	case EncodingLinear16:
		return "pcm_" + strconv.Itoa(e.SampleRate)
	case EncodingMulaw:
		return "ulaw_" + strconv.Itoa(e.SampleRate)
	case EncodingALaw:
		return "alaw_" + strconv.Itoa(e.SampleRate)
	}
	return e.Format.Name() + "_" + strconv.Itoa(e.SampleRate)
}

// ParseFormat parses agent-side audio format names such as "pcm_16000" or
// "ulaw_8000".
func ParseFormat(format string) (EncodingInfo, error) {
	name, rate, ok := strings.Cut(format, "_")
	if !ok {
		return EncodingInfo{}, fmt.Errorf("invalid audio format %q", format)
	}

	sampleRate, err := strconv.Atoi(rate)
	if err != nil || sampleRate <= 0 {
		return EncodingInfo{}, fmt.Errorf("invalid sample rate in audio format %q", format)
	}

	switch name {
	case "pcm":
		return EncodingInfo{SampleRate: sampleRate, Format: EncodingLinear16}, nil
	case "ulaw":
		return EncodingInfo{SampleRate: sampleRate, Format: EncodingMulaw}, nil
	case "alaw":
		return EncodingInfo{SampleRate: sampleRate, Format: EncodingALaw}, nil
	}

	return EncodingInfo{}, fmt.Errorf("unsupported audio format %q", format)
}

type encodingFormat string

func (e encodingFormat) Name() string {
	return string(e)
}

func (e encodingFormat) ByteSize() int {
	switch e {
	case EncodingMulaw, EncodingALaw:
		return 1
	case EncodingLinear16:
		return 2
	}
	return -1
}

const (
	EncodingMulaw    encodingFormat = "mulaw"
	EncodingALaw     encodingFormat = "alaw"
	EncodingLinear16 encodingFormat = "linear16"
)
