// Package config resolves the agent, credential and local settings the
// voice chat needs before a conversation can start.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	AgentIDEnv      = "ELEVENLABS_AGENT_ID"
	APIKeyEnv       = "ELEVENLABS_API_KEY"
	BaseURLEnv      = "ELEVENLABS_BASE_URL"
	AudioBackendEnv = "VOICECHAT_AUDIO_BACKEND"
	WrapWidthEnv    = "VOICECHAT_WRAP_WIDTH"
)

const (
	AudioBackendMiniaudio = "miniaudio"
	AudioBackendPortaudio = "portaudio"

	DefaultAudioBackend = AudioBackendMiniaudio
)

var ErrMissingAgentID = errors.New("agent ID is required")

type Config struct {
	AgentID string
	// APIKey is empty for public agents
	APIKey string

	BaseURL      string
	AudioBackend string
	// WrapWidth is the column transcripts are wrapped at, 0 disables wrapping
	WrapWidth int
}

// RequiresAuth reports whether the session has to authenticate as a private
// agent.
func (c Config) RequiresAuth() bool {
	return c.APIKey != ""
}

// Overrides are values passed on the command line. They take precedence over
// the environment. A nil WrapWidth means the flag was not set.
type Overrides struct {
	AgentID      string
	APIKey       string
	BaseURL      string
	AudioBackend string
	WrapWidth    *int
}

// LoadDotEnv loads variables from the given files (".env" when none are
// given) without overriding variables that are already set. Missing files are
// skipped.
func LoadDotEnv(filenames ...string) error {
	if len(filenames) == 0 {
		filenames = []string{".env"}
	}

	for _, filename := range filenames {
		if _, err := os.Stat(filename); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(filename); err != nil {
			return fmt.Errorf("failed to load %s: %w", filename, err)
		}
	}
	return nil
}

func parseAudioBackend(backend string) (string, error) {
	switch backend := strings.ToLower(strings.TrimSpace(backend)); backend {
	case "":
		return DefaultAudioBackend, nil
	case AudioBackendMiniaudio, AudioBackendPortaudio:
		return backend, nil
	default:
		return "", fmt.Errorf("unsupported audio backend %q", backend)
	}
}

func parseWrapWidth(width string) (int, error) {
	width = strings.TrimSpace(width)
	if width == "" {
		return 0, nil
	}

	parsed, err := strconv.Atoi(width)
	if err != nil || parsed < 0 {
		return 0, fmt.Errorf("invalid wrap width %q", width)
	}
	return parsed, nil
}
