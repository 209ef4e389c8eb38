package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	agentIDPrompt      = "Enter your Agent ID: "
	privateAgentPrompt = "Is this a private agent? (y/n): "
	apiKeyPrompt       = "Enter your API Key: "
)

// Resolver builds a [Config] from overrides, the environment and, for the
// agent and credential, interactive prompts.
type Resolver struct {
	lookupEnv func(key string) (string, bool)
	in        *bufio.Reader
	out       io.Writer
}

type ResolverOption func(*Resolver)

// WithLookupEnv replaces the environment lookup, [os.LookupEnv] by default.
func WithLookupEnv(lookupEnv func(key string) (string, bool)) ResolverOption {
	return func(r *Resolver) { r.lookupEnv = lookupEnv }
}

func NewResolver(in io.Reader, out io.Writer, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		lookupEnv: os.LookupEnv,
		in:        bufio.NewReader(in),
		out:       out,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

func (r *Resolver) Resolve(overrides Overrides) (Config, error) {
	var cfg Config
	var err error

	if cfg.AgentID, err = r.resolveAgentID(overrides.AgentID); err != nil {
		return Config{}, err
	}

	if cfg.APIKey, err = r.resolveAPIKey(overrides.APIKey); err != nil {
		return Config{}, err
	}

	cfg.BaseURL = r.value(overrides.BaseURL, BaseURLEnv)

	if cfg.AudioBackend, err = parseAudioBackend(r.value(overrides.AudioBackend, AudioBackendEnv)); err != nil {
		return Config{}, err
	}

	if overrides.WrapWidth != nil {
		if *overrides.WrapWidth < 0 {
			return Config{}, fmt.Errorf("invalid wrap width %d", *overrides.WrapWidth)
		}
		cfg.WrapWidth = *overrides.WrapWidth
	} else if cfg.WrapWidth, err = parseWrapWidth(r.env(WrapWidthEnv)); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (r *Resolver) resolveAgentID(override string) (string, error) {
	if agentID := r.value(override, AgentIDEnv); agentID != "" {
		return agentID, nil
	}

	agentID, err := r.prompt(agentIDPrompt)
	if err != nil {
		return "", err
	} else if agentID == "" {
		return "", ErrMissingAgentID
	}

	return agentID, nil
}

func (r *Resolver) resolveAPIKey(override string) (string, error) {
	if apiKey := r.value(override, APIKeyEnv); apiKey != "" {
		return apiKey, nil
	}

	answer, err := r.prompt(privateAgentPrompt)
	if err != nil {
		return "", err
	} else if !strings.EqualFold(answer, "y") {
		return "", nil
	}

	return r.prompt(apiKeyPrompt)
}

// value returns the trimmed override, or the trimmed environment variable
// when the override is empty.
func (r *Resolver) value(override, key string) string {
	if override = strings.TrimSpace(override); override != "" {
		return override
	}
	return r.env(key)
}

func (r *Resolver) env(key string) string {
	value, _ := r.lookupEnv(key)
	return strings.TrimSpace(value)
}

// prompt asks for a single line of input. A closed input counts as an empty
// answer.
func (r *Resolver) prompt(question string) (string, error) {
	if _, err := fmt.Fprint(r.out, question); err != nil {
		return "", fmt.Errorf("failed to write prompt: %w", err)
	}

	line, err := r.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read answer: %w", err)
	}

	return strings.TrimSpace(line), nil
}
