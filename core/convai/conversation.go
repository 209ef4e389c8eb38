package convai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-voicechat/core/events"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrSessionAlreadyStarted = errors.New("session already started")
	ErrSessionNotStarted     = errors.New("session not started")
	ErrSessionNotActive      = errors.New("session not active")
)

const (
	// closeGracePeriod bounds how long we wait for the agent to acknowledge
	// a close request before dropping the connection.
	closeGracePeriod = 2 * time.Second
	controlTimeout   = time.Second
)

// Conversation is a single voice session with an agent.
//
// The zero value is not usable, create conversations with [NewConversation].
// A conversation can be started once; callbacks are invoked from the
// session's own goroutines.
type Conversation struct {
	client       *Client
	agentID      string
	requiresAuth bool
	audio        AudioInterface
	options      ConversationOptions
	emit         eventEmitter

	state atomic.Int32

	// ws is set once during StartSession before the session becomes active
	ws      *websocket.Conn
	writeMu sync.Mutex

	mu             sync.Mutex
	conversationID string
	runErr         error

	lastInterruptID atomic.Int64
	stopAudioOnce   sync.Once
	endOnce         sync.Once
	ended           chan struct{}

	runCtx context.Context
	span   trace.Span

	messagesReceived metric.Int64Counter
}

// NewConversation prepares a conversation with the agent. Nothing is sent
// until [Conversation.StartSession] is called.
//
// requiresAuth makes the session authenticate with the client's API key,
// which private agents need. A nil audioInterface is replaced by [NoAudio].
func NewConversation(client *Client, agentID string, requiresAuth bool, audioInterface AudioInterface, opts ...ConversationOption) *Conversation {
	if client == nil {
		client = NewClient()
	}
	if audioInterface == nil {
		audioInterface = NoAudio{}
	}

	options := ConversationOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	messagesReceived, err := meter.Int64Counter("convai.messages.received",
		metric.WithDescription("Messages received from the agent, by type"))
	if err != nil {
		logger.Warn("failed to create messages counter", "error", err)
		messagesReceived = noop.Int64Counter{}
	}

	return &Conversation{
		client:           client,
		agentID:          agentID,
		requiresAuth:     requiresAuth,
		audio:            audioInterface,
		options:          options,
		emit:             newCallbackEventEmitter(options),
		ended:            make(chan struct{}),
		runCtx:           context.Background(),
		messagesReceived: messagesReceived,
	}
}

func (c *Conversation) State() SessionState { return SessionState(c.state.Load()) }

func (c *Conversation) ConversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversationID
}

func (c *Conversation) transition(from, to SessionState) bool {
	if !c.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	logger.Debug("session state changed", "agent_id", c.agentID, "from", from.String(), "to", to.String())
	return true
}

// StartSession connects to the agent and starts streaming audio.
//
// The session keeps running after StartSession returns; use
// [Conversation.WaitForSessionEnd] to block until it is over. Cancelling ctx
// ends the session the same way [Conversation.EndSession] does.
func (c *Conversation) StartSession(ctx context.Context) error {
	if !c.transition(StateUnstarted, StateStarting) {
		return ErrSessionAlreadyStarted
	}

	c.runCtx, c.span = tracer.Start(ctx, "conversation", trace.WithAttributes(
		attribute.String("agent.id", c.agentID),
		attribute.Bool("agent.requires_auth", c.requiresAuth),
	))

	if err := c.connect(c.runCtx); err != nil {
		c.finish(err)
		return err
	}

	go func() {
		select {
		case <-ctx.Done():
			c.EndSession()
		case <-c.ended:
		}
	}()

	return nil
}

func (c *Conversation) connect(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "start session")
	defer span.End()

	recordErr := func(err error) error {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	wsURL, err := c.resolveURL(ctx)
	if err != nil {
		return recordErr(fmt.Errorf("failed to resolve conversation url: %w", err))
	}

	if c.ws, err = c.client.dial(ctx, wsURL); err != nil {
		return recordErr(err)
	}

	initiation, err := newConversationInitiationClientData(c.options)
	if err != nil {
		return recordErr(err)
	}
	if err := c.send(initiation); err != nil {
		return recordErr(fmt.Errorf("failed to send conversation initiation: %w", err))
	}

	go c.processIncomingMessages()

	if !c.transition(StateStarting, StateActive) {
		// The agent already hung up
		return nil
	}

	if err := c.audio.Start(c.sendAudio); err != nil {
		return recordErr(fmt.Errorf("failed to start audio interface: %w", err))
	}
	if c.State().IsFinal() {
		c.stopAudio()
	}

	return nil
}

func (c *Conversation) resolveURL(ctx context.Context) (string, error) {
	if c.requiresAuth {
		return c.client.GetSignedURL(ctx, c.agentID)
	}
	return c.client.ConversationURL(c.agentID)
}

// EndSession asks the agent to end the conversation and returns without
// waiting. It is safe to call from any goroutine, repeated calls and calls
// on a session that is not active are ignored.
func (c *Conversation) EndSession() {
	if !c.transition(StateActive, StateEnding) {
		return
	}

	c.stopAudio()

	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.ws.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(controlTimeout)); err != nil {
		// Nobody is listening on the other end, drop the connection so the
		// read loop exits
		_ = c.ws.Close()
		return
	}

	// Conn.SetReadDeadline belongs to the reader goroutine, the underlying
	// connection is safe to use concurrently
	_ = c.ws.NetConn().SetReadDeadline(time.Now().Add(closeGracePeriod))
}

// WaitForSessionEnd blocks until the session is over and returns the
// conversation ID assigned by the agent.
//
// The error is nil when either side closed the conversation normally.
func (c *Conversation) WaitForSessionEnd() (string, error) {
	if c.State() == StateUnstarted {
		return "", ErrSessionNotStarted
	}

	<-c.ended

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversationID, c.runErr
}

// SendUserMessage sends text to the agent as if the user had said it.
func (c *Conversation) SendUserMessage(text string) error {
	return c.sendIfActive(textMessage{Type: messageTypeUserMessage, Text: text})
}

// SendContextualUpdate gives the agent background information without
// prompting a reply.
func (c *Conversation) SendContextualUpdate(text string) error {
	return c.sendIfActive(textMessage{Type: messageTypeContextualUpdate, Text: text})
}

// RegisterUserActivity tells the agent the user is active, keeping it from
// interrupting.
func (c *Conversation) RegisterUserActivity() error {
	return c.sendIfActive(textMessage{Type: messageTypeUserActivity})
}

func (c *Conversation) sendIfActive(msg any) error {
	if c.State() != StateActive {
		return ErrSessionNotActive
	}
	return c.send(msg)
}

func (c *Conversation) send(msg any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.ws == nil {
		return fmt.Errorf("websocket connection closed")
	}

	if err := c.ws.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to write to websocket: %w", err)
	}
	return nil
}

func (c *Conversation) sendAudio(audio []byte) {
	if c.State() != StateActive || len(audio) == 0 {
		return
	}

	if err := c.send(newUserAudioChunk(audio)); err != nil {
		logger.Debug("failed to send user audio", "error", err)
	}
}

func (c *Conversation) stopAudio() {
	c.stopAudioOnce.Do(func() {
		if err := c.audio.Stop(); err != nil {
			logger.Warn("failed to stop audio interface", "error", err)
		}
	})
}

func (c *Conversation) processIncomingMessages() {
	for {
		msgType, msg, err := c.ws.ReadMessage()
		if err != nil {
			c.finish(c.classifyReadError(err))
			return
		}

		if msgType != websocket.TextMessage {
			continue
		}
		c.handleMessage(msg)
	}
}

// classifyReadError decides whether a broken read loop is a normal end of
// the conversation.
func (c *Conversation) classifyReadError(err error) error {
	if c.State() == StateEnding {
		return nil
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return nil
	}

	return fmt.Errorf("conversation connection lost: %w", err)
}

func (c *Conversation) handleMessage(raw []byte) {
	var msg serverMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		logger.Warn("failed to unmarshal agent message", "error", err)
		return
	}
	c.messagesReceived.Add(c.runCtx, 1, metric.WithAttributes(attribute.String("message.type", string(msg.Type))))

	switch msg.Type {
	case messageTypeConversationInitiationMetadata:
		if e := msg.ConversationInitiationMetadataEvent; e != nil {
			c.mu.Lock()
			c.conversationID = e.ConversationID
			c.mu.Unlock()
			c.span.SetAttributes(attribute.String("conversation.id", e.ConversationID))
			c.emit(events.NewSessionStarted(e.ConversationID, e.AgentOutputAudioFormat, e.UserInputAudioFormat))
		}

	case messageTypeAudio:
		if e := msg.AudioEvent; e != nil {
			// Audio is stopped, or being stopped, outside the active state
			if c.State() != StateActive || e.EventID <= c.lastInterruptID.Load() {
				return
			}
			audio, err := e.decode()
			if err != nil {
				logger.Warn("dropping agent audio", "error", err)
				return
			}
			if err := c.audio.Output(audio); err != nil {
				logger.Warn("failed to play agent audio", "error", err)
			}
			c.emit(events.NewAgentAudio(e.EventID, audio))
		}

	case messageTypeAgentResponse:
		if e := msg.AgentResponseEvent; e != nil {
			c.emit(events.NewAgentResponse(e.AgentResponse))
		}

	case messageTypeAgentResponseCorrection:
		if e := msg.AgentResponseCorrectionEvent; e != nil {
			c.emit(events.NewAgentResponseCorrected(e.OriginalAgentResponse, e.CorrectedAgentResponse))
		}

	case messageTypeUserTranscript:
		if e := msg.UserTranscriptionEvent; e != nil {
			c.emit(events.NewUserTranscript(e.UserTranscript))
		}

	case messageTypeInterruption:
		if e := msg.InterruptionEvent; e != nil {
			c.lastInterruptID.Store(e.EventID)
			if c.State() == StateActive {
				c.audio.Interrupt()
			}
			c.emit(events.NewAgentInterrupted(e.EventID))
		}

	case messageTypePing:
		if e := msg.PingEvent; e != nil {
			if err := c.send(pongMessage{Type: messageTypePong, EventID: e.EventID}); err != nil {
				logger.Warn("failed to answer ping", "error", err)
			}
			if e.PingMs != nil {
				c.emit(events.NewLatencyMeasured(*e.PingMs))
			}
		}

	case messageTypeClientToolCall:
		if call := msg.ClientToolCall; call != nil {
			c.emit(events.NewClientToolCalled(call.ToolCallID, call.ToolName, call.Parameters))
			go c.runClientTool(*call)
		}

	default:
		logger.Debug("ignoring agent message", "type", string(msg.Type))
	}
}

func (c *Conversation) runClientTool(call clientToolCall) {
	ctx, span := tracer.Start(c.runCtx, "client tool call", trace.WithAttributes(
		attribute.String("tool.name", call.ToolName),
		attribute.String("tool.call_id", call.ToolCallID),
	))
	defer span.End()

	var (
		output string
		err    error
	)
	if c.options.ClientTools == nil {
		err = fmt.Errorf("%w: %s", ErrUnknownClientTool, call.ToolName)
	} else {
		output, err = c.options.ClientTools.Execute(ctx, call.ToolName, call.Parameters)
	}

	result := clientToolResult{Type: messageTypeClientToolResult, ToolCallID: call.ToolCallID, Result: output}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		result.Result = err.Error()
		result.IsError = true
	}

	if err := c.sendIfActive(result); err != nil {
		logger.Warn("failed to send client tool result", "tool", call.ToolName, "error", err)
	}
}

func (c *Conversation) finish(err error) {
	c.endOnce.Do(func() {
		final := StateEnded
		if err != nil {
			final = StateErrored
		}
		from := c.State()
		c.state.Store(int32(final))
		logger.Debug("session state changed", "agent_id", c.agentID, "from", from.String(), "to", final.String())

		c.stopAudio()
		if c.ws != nil {
			_ = c.ws.Close()
		}

		c.mu.Lock()
		c.runErr = err
		conversationID := c.conversationID
		c.mu.Unlock()

		if c.span != nil {
			if err != nil {
				c.span.RecordError(err)
				c.span.SetStatus(codes.Error, err.Error())
			}
			c.span.End()
		}

		c.emit(events.NewSessionEnded(conversationID, err))
		close(c.ended)
	})
}
