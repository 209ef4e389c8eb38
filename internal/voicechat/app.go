// Package voicechat runs a single voice conversation from the terminal.
package voicechat

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/koscakluka/ema-voicechat/core/convai"
	"github.com/koscakluka/ema-voicechat/internal/config"
	"github.com/koscakluka/ema-voicechat/internal/notes"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	ExitOK      = 0
	ExitFailure = 1
)

var ErrInterrupted = errors.New("interrupted while connecting to the agent")

// App owns the configuration, the API client and the conversation handle of
// one run.
type App struct {
	cfg     config.Config
	printer *Printer
	runID   string

	newSession SessionFactory
	newAudio   AudioFactory

	clientOnce sync.Once
	client     *convai.Client

	notes *notes.Store

	startMu     sync.Mutex
	cancelStart context.CancelCauseFunc

	// session is written once when the conversation starts and only read
	// afterwards, including from the interrupt handler
	session atomic.Pointer[sessionHandle]
}

type sessionHandle struct {
	Session
}

type AppOption func(*App)

func WithPrinter(printer *Printer) AppOption {
	return func(a *App) { a.printer = printer }
}

func WithSessionFactory(factory SessionFactory) AppOption {
	return func(a *App) { a.newSession = factory }
}

func WithAudioFactory(factory AudioFactory) AppOption {
	return func(a *App) { a.newAudio = factory }
}

// WithRunID sets the identifier attached to the run's logs and traces. A
// random one is generated by default.
func WithRunID(runID string) AppOption {
	return func(a *App) {
		if runID != "" {
			a.runID = runID
		}
	}
}

// NewApp prepares a run for the resolved configuration. No network or audio
// device is touched until [App.Run].
func NewApp(cfg config.Config, opts ...AppOption) *App {
	a := &App{
		cfg:        cfg,
		runID:      uuid.NewString(),
		newSession: NewConversation,
		notes:      notes.NewStore(),
	}
	a.newAudio = func() (convai.AudioInterface, error) {
		return NewAudioInterface(a.cfg.AudioBackend)
	}

	for _, opt := range opts {
		opt(a)
	}

	if a.printer == nil {
		a.printer = NewPrinter(os.Stdout, cfg.WrapWidth)
	}

	return a
}

// Client returns the API client, creating it on first use.
func (a *App) Client() *convai.Client {
	a.clientOnce.Do(func() {
		opts := []convai.ClientOption{convai.WithBaseURL(a.cfg.BaseURL)}
		if a.cfg.APIKey != "" {
			opts = append(opts, convai.WithAPIKey(a.cfg.APIKey))
		}
		a.client = convai.NewClient(opts...)
	})
	return a.client
}

// Run holds one conversation: it starts the session, ends it gracefully on
// every value received from interrupts, and blocks until it is over. The
// returned value is the process exit code.
func (a *App) Run(ctx context.Context, interrupts <-chan os.Signal) int {
	ctx, span := tracer.Start(ctx, "voice chat", trace.WithAttributes(
		attribute.String("run.id", a.runID),
		attribute.String("agent.id", a.cfg.AgentID),
		attribute.Bool("agent.requires_auth", a.cfg.RequiresAuth()),
	))
	defer span.End()

	fail := func(err error) int {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("voice chat failed", "run_id", a.runID, "error", err)
		a.printer.Error(err)
		return ExitFailure
	}

	a.printer.Banner(a.cfg.AgentID, a.cfg.RequiresAuth())

	startCtx, cancelStart := context.WithCancelCause(ctx)
	defer cancelStart(nil)
	a.startMu.Lock()
	a.cancelStart = cancelStart
	a.startMu.Unlock()

	stopInterrupts := a.handleInterrupts(interrupts)
	defer stopInterrupts()

	session, err := a.start(startCtx)
	if err != nil {
		return fail(err)
	}

	conversationID, err := session.WaitForSessionEnd()
	if err != nil {
		return fail(err)
	}

	span.SetAttributes(attribute.String("conversation.id", conversationID))
	a.printer.Ended(conversationID)
	return ExitOK
}

// start creates the conversation and waits for it to connect. It gives up as
// soon as ctx is cancelled, even when the session is still stuck connecting;
// a session that connects after that is ended right away.
func (a *App) start(ctx context.Context) (Session, error) {
	tools := convai.NewClientTools()
	if err := notes.Register(tools, a.notes); err != nil {
		return nil, err
	}
	logger.Debug("client tools registered", "run_id", a.runID, "tools", tools.Names())

	audioInterface, err := a.newAudio()
	if err != nil {
		return nil, err
	}

	session := a.newSession(SessionParams{
		Client:       a.Client(),
		AgentID:      a.cfg.AgentID,
		RequiresAuth: a.cfg.RequiresAuth(),
		Audio:        audioInterface,
		Handlers:     a.printer,
		ClientTools:  tools,
	})
	if session == nil {
		_ = audioInterface.Stop()
		return nil, fmt.Errorf("failed to create conversation")
	}

	started := make(chan error, 1)
	go func() { started <- session.StartSession(ctx) }()

	select {
	case err := <-started:
		if ctx.Err() != nil {
			if err == nil {
				session.EndSession()
			}
			return nil, context.Cause(ctx)
		}
		if err != nil {
			return nil, err
		}
	case <-ctx.Done():
		go func() {
			if err := <-started; err == nil {
				session.EndSession()
			}
		}()
		return nil, context.Cause(ctx)
	}

	a.session.Store(&sessionHandle{Session: session})
	logger.Info("conversation running", "run_id", a.runID, "agent_id", a.cfg.AgentID)

	return session, nil
}

// Interrupt requests a graceful end of the running conversation without
// waiting for it. While the conversation is still connecting it abandons the
// connection attempt instead, and before [App.Run] it does nothing.
func (a *App) Interrupt() {
	if handle := a.session.Load(); handle != nil {
		a.printer.Ending()
		handle.EndSession()
		return
	}

	a.startMu.Lock()
	cancel := a.cancelStart
	a.startMu.Unlock()
	if cancel == nil {
		logger.Debug("interrupt before conversation started", "run_id", a.runID)
		return
	}

	a.printer.Ending()
	cancel(ErrInterrupted)
}

func (a *App) handleInterrupts(interrupts <-chan os.Signal) (stop func()) {
	if interrupts == nil {
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case sig, ok := <-interrupts:
				if !ok {
					return
				}
				logger.Debug("received signal", "run_id", a.runID, "signal", sig.String())
				a.Interrupt()
			}
		}
	}()

	return func() { close(done) }
}
