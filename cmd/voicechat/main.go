package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/koscakluka/ema-voicechat/internal/config"
	"github.com/koscakluka/ema-voicechat/internal/notes"
	"github.com/koscakluka/ema-voicechat/internal/telemetry"
	"github.com/koscakluka/ema-voicechat/internal/utils"
	"github.com/koscakluka/ema-voicechat/internal/voicechat"
	"github.com/spf13/cobra"
)

const serviceName = "voicechat"

type flags struct {
	agentID      string
	apiKey       string
	audioBackend string
	baseURL      string
	wrapWidth    int
}

// interruptSource starts delivering interrupt signals and returns a function
// that stops it.
type interruptSource func() (interrupts <-chan os.Signal, stop func())

func notifyInterrupts() (<-chan os.Signal, func()) {
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)
	return interrupts, func() { signal.Stop(interrupts) }
}

func newRootCommand(in io.Reader, out io.Writer, notify interruptSource, exitCode *int, appOpts ...voicechat.AppOption) *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:           "voicechat",
		Short:         "Talk to an ElevenLabs conversational agent from the terminal",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		Long: `voicechat opens a voice conversation with an ElevenLabs agent using the
default microphone and speakers. The agent is read from ELEVENLABS_AGENT_ID
and the API key for private agents from ELEVENLABS_API_KEY, both can also be
given in a .env file. Missing values are asked for interactively.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			overrides := config.Overrides{
				AgentID:      f.agentID,
				APIKey:       f.apiKey,
				AudioBackend: f.audioBackend,
				BaseURL:      f.baseURL,
			}
			if cmd.Flags().Changed("wrap") {
				overrides.WrapWidth = utils.Ptr(f.wrapWidth)
			}

			*exitCode = run(cmd.Context(), in, out, notify, overrides, appOpts...)
			return nil
		},
	}

	cmd.Flags().StringVar(&f.agentID, "agent-id", "", "agent to talk to (default $"+config.AgentIDEnv+")")
	cmd.Flags().StringVar(&f.apiKey, "api-key", "", "API key for private agents (default $"+config.APIKeyEnv+")")
	cmd.Flags().StringVar(&f.audioBackend, "audio", "", "audio backend, miniaudio or portaudio (default $"+config.AudioBackendEnv+" or miniaudio)")
	cmd.Flags().StringVar(&f.baseURL, "base-url", "", "API base URL (default $"+config.BaseURLEnv+" or https://api.elevenlabs.io)")
	cmd.Flags().IntVar(&f.wrapWidth, "wrap", 0, "wrap transcripts at this column, 0 disables (default $"+config.WrapWidthEnv+")")

	cmd.AddCommand(newToolsCommand())

	cmd.SetIn(in)
	cmd.SetOut(out)
	cmd.SetErr(out)

	return cmd
}

func newToolsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "Print the client tools to configure on the agent",
		Long: `tools prints the name, description and parameter schema of every client
tool voicechat answers, as JSON. Add them to the agent as client tools so it
can manage notes and reminders during the conversation.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			if err := encoder.Encode(notes.Definitions()); err != nil {
				return fmt.Errorf("failed to encode tool definitions: %w", err)
			}
			return nil
		},
	}
}

func run(ctx context.Context, in io.Reader, out io.Writer, notify interruptSource, overrides config.Overrides, appOpts ...voicechat.AppOption) int {
	greeter := voicechat.NewPrinter(out, 0)
	greeter.Welcome()

	cfg, err := config.NewResolver(in, out).Resolve(overrides)
	if errors.Is(err, config.ErrMissingAgentID) {
		greeter.MissingAgentID()
		return voicechat.ExitFailure
	} else if err != nil {
		greeter.Error(err)
		return voicechat.ExitFailure
	}

	// Until now an interrupt terminates the process, which is what the user
	// wants while answering prompts
	var interrupts <-chan os.Signal
	if notify != nil {
		var stop func()
		interrupts, stop = notify()
		defer stop()
	}

	runID := uuid.NewString()
	shutdown, err := telemetry.Setup(ctx, serviceName, runID)
	if err != nil {
		greeter.Error(err)
		return voicechat.ExitFailure
	}
	defer func() {
		if err := shutdown(context.WithoutCancel(ctx)); err != nil {
			fmt.Fprintln(os.Stderr, "failed to flush telemetry:", err)
		}
	}()

	opts := append([]voicechat.AppOption{
		voicechat.WithPrinter(voicechat.NewPrinter(out, cfg.WrapWidth)),
		voicechat.WithRunID(runID),
	}, appOpts...)
	return voicechat.NewApp(cfg, opts...).Run(ctx, interrupts)
}

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(voicechat.ExitFailure)
	}

	exitCode := voicechat.ExitOK
	cmd := newRootCommand(os.Stdin, os.Stdout, notifyInterrupts, &exitCode)
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(voicechat.ExitFailure)
	}

	os.Exit(exitCode)
}
