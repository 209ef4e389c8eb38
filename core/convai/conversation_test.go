package convai

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-voicechat/core/events"
)

func TestConversationDispatchesAgentEventsToCallbacks(t *testing.T) {
	pongs := make(chan map[string]any, 1)
	server := newFakeAgent(t, func(t *testing.T, conn *websocket.Conn) {
		expectInitiation(t, conn)
		writeRaw(t, conn, `{"type":"conversation_initiation_metadata","conversation_initiation_metadata_event":{"conversation_id":"abc123","agent_output_audio_format":"pcm_16000","user_input_audio_format":"pcm_16000"}}`)
		writeRaw(t, conn, `{"type":"user_transcript","user_transcription_event":{"user_transcript":"hello there"}}`)
		writeRaw(t, conn, `{"type":"agent_response","agent_response_event":{"agent_response":"Hi! How can I help?"}}`)
		writeRaw(t, conn, `{"type":"agent_response_correction","agent_response_correction_event":{"original_agent_response":"Hi! How can I help?","corrected_agent_response":"Hi!"}}`)
		writeRaw(t, conn, `{"type":"vad_score","vad_score_event":{"vad_score":0.9}}`)
		writeRaw(t, conn, `{"type":"ping","ping_event":{"event_id":7,"ping_ms":42}}`)

		var pong map[string]any
		if err := conn.ReadJSON(&pong); err != nil {
			t.Errorf("failed to read pong: %v", err)
			return
		}
		pongs <- pong
		closeNormally(conn)
	})

	recorder := &callbackRecorder{}
	conversation := NewConversation(newTestClient(server), "agent-1", false, nil, recorder.options()...)

	if err := conversation.StartSession(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	id, err := waitForEnd(t, conversation)
	if err != nil {
		t.Fatalf("expected clean session end, got %v", err)
	}
	if id != "abc123" {
		t.Fatalf("expected conversation id abc123, got %q", id)
	}
	if state := conversation.State(); state != StateEnded {
		t.Fatalf("expected ended state, got %s", state)
	}

	select {
	case pong := <-pongs:
		if pong["type"] != "pong" || pong["event_id"] != float64(7) {
			t.Fatalf("unexpected pong message: %v", pong)
		}
	default:
		t.Fatalf("expected a pong reply to the ping")
	}

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	if len(recorder.transcripts) != 1 || recorder.transcripts[0] != "hello there" {
		t.Fatalf("unexpected transcripts: %v", recorder.transcripts)
	}
	if len(recorder.responses) != 1 || recorder.responses[0] != "Hi! How can I help?" {
		t.Fatalf("unexpected responses: %v", recorder.responses)
	}
	if len(recorder.corrections) != 1 || recorder.corrections[0] != [2]string{"Hi! How can I help?", "Hi!"} {
		t.Fatalf("unexpected corrections: %v", recorder.corrections)
	}
	if len(recorder.latencies) != 1 || recorder.latencies[0] != 42 {
		t.Fatalf("unexpected latencies: %v", recorder.latencies)
	}
	if recorder.endCalls != 1 || recorder.endID != "abc123" || recorder.endErr != nil {
		t.Fatalf("expected one clean end callback for abc123, got %d calls (%q, %v)", recorder.endCalls, recorder.endID, recorder.endErr)
	}
}

func TestEndSessionEndsConversationGracefully(t *testing.T) {
	server := newFakeAgent(t, func(t *testing.T, conn *websocket.Conn) {
		expectInitiation(t, conn)
		writeRaw(t, conn, `{"type":"conversation_initiation_metadata","conversation_initiation_metadata_event":{"conversation_id":"conv-end"}}`)
		drain(conn)
	})

	started := make(chan struct{}, 1)
	audio := &fakeAudio{}
	conversation := NewConversation(newTestClient(server), "agent-1", false, audio,
		WithEventCallback(func(event events.Event) {
			if event.Kind() == events.KindSessionStarted {
				started <- struct{}{}
			}
		}),
	)

	if err := conversation.StartSession(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for session start")
	}

	conversation.EndSession()
	conversation.EndSession()

	id, err := waitForEnd(t, conversation)
	if err != nil {
		t.Fatalf("expected clean end after EndSession, got %v", err)
	}
	if id != "conv-end" {
		t.Fatalf("expected conversation id conv-end, got %q", id)
	}
	if stops := audio.stopCalls.Load(); stops != 1 {
		t.Fatalf("expected audio interface to be stopped once, got %d", stops)
	}
}

func startAndWaitForMetadata(t *testing.T, conversation *Conversation, started <-chan struct{}) {
	t.Helper()

	if err := conversation.StartSession(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for session start")
	}
}

func sessionStartedSignal() (ConversationOption, <-chan struct{}) {
	started := make(chan struct{}, 1)
	return WithEventCallback(func(event events.Event) {
		if event.Kind() == events.KindSessionStarted {
			started <- struct{}{}
		}
	}), started
}

func TestAgentOutputIsDroppedWhileEnding(t *testing.T) {
	server := newFakeAgent(t, func(t *testing.T, conn *websocket.Conn) {
		expectInitiation(t, conn)
		conn.SetCloseHandler(func(int, string) error { return nil })
		writeRaw(t, conn, `{"type":"conversation_initiation_metadata","conversation_initiation_metadata_event":{"conversation_id":"conv-late"}}`)

		// Wait for the close request, then keep talking before closing
		drain(conn)
		writeRaw(t, conn, audioMessage(1, "late"))
		writeRaw(t, conn, `{"type":"interruption","interruption_event":{"event_id":1}}`)
		closeNormally(conn)
	})

	onStarted, started := sessionStartedSignal()
	audio := &fakeAudio{}
	conversation := NewConversation(newTestClient(server), "agent-1", false, audio, onStarted)
	startAndWaitForMetadata(t, conversation, started)

	conversation.EndSession()

	if _, err := waitForEnd(t, conversation); err != nil {
		t.Fatalf("expected clean end, got %v", err)
	}
	if played := audio.playedChunks(); len(played) != 0 {
		t.Fatalf("expected no audio to be played after ending, got %v", played)
	}
	if interrupts := audio.interruptCalls.Load(); interrupts != 0 {
		t.Fatalf("expected no interrupts after ending, got %d", interrupts)
	}
}

func TestEndSessionGivesUpOnSilentAgent(t *testing.T) {
	release := make(chan struct{})
	server := newFakeAgent(t, func(t *testing.T, conn *websocket.Conn) {
		expectInitiation(t, conn)
		writeRaw(t, conn, `{"type":"conversation_initiation_metadata","conversation_initiation_metadata_event":{"conversation_id":"conv-silent"}}`)
		<-release
	})
	t.Cleanup(func() { close(release) })

	onStarted, started := sessionStartedSignal()
	conversation := NewConversation(newTestClient(server), "agent-1", false, &fakeAudio{}, onStarted)
	startAndWaitForMetadata(t, conversation, started)

	conversation.EndSession()

	id, err := waitForEnd(t, conversation)
	if err != nil {
		t.Fatalf("expected clean end once the close grace period expires, got %v", err)
	}
	if id != "conv-silent" {
		t.Fatalf("expected conversation id conv-silent, got %q", id)
	}
}

func TestEndSessionBeforeStartIsNoop(t *testing.T) {
	conversation := NewConversation(NewClient(), "agent-1", false, nil)

	conversation.EndSession()

	if state := conversation.State(); state != StateUnstarted {
		t.Fatalf("expected unstarted state, got %s", state)
	}
	if _, err := conversation.WaitForSessionEnd(); !errors.Is(err, ErrSessionNotStarted) {
		t.Fatalf("expected ErrSessionNotStarted, got %v", err)
	}
}

func TestStartSessionTwiceFails(t *testing.T) {
	server := newFakeAgent(t, func(t *testing.T, conn *websocket.Conn) {
		expectInitiation(t, conn)
		drain(conn)
	})

	conversation := NewConversation(newTestClient(server), "agent-1", false, nil)
	if err := conversation.StartSession(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	defer conversation.EndSession()

	if err := conversation.StartSession(context.Background()); !errors.Is(err, ErrSessionAlreadyStarted) {
		t.Fatalf("expected ErrSessionAlreadyStarted, got %v", err)
	}
}

func TestPrivateAgentUsesSignedURL(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case signedURLPath:
			if got := r.Header.Get(apiKeyHeader); got != "secret" {
				t.Errorf("expected api key header, got %q", got)
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			if got := r.URL.Query().Get("agent_id"); got != "private-agent" {
				t.Errorf("expected agent id query, got %q", got)
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"signed_url":"ws://` + r.Host + `/signed?token=t0k3n"}`))
		case "/signed":
			if got := r.URL.Query().Get("token"); got != "t0k3n" {
				t.Errorf("expected signed token, got %q", got)
			}
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				t.Errorf("upgrade failed: %v", err)
				return
			}
			defer conn.Close()
			expectInitiation(t, conn)
			writeRaw(t, conn, `{"type":"conversation_initiation_metadata","conversation_initiation_metadata_event":{"conversation_id":"private-conv"}}`)
			closeNormally(conn)
		default:
			t.Errorf("unexpected request to %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL), WithAPIKey("secret"))
	conversation := NewConversation(client, "private-agent", true, nil)
	if err := conversation.StartSession(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	id, err := waitForEnd(t, conversation)
	if err != nil {
		t.Fatalf("expected clean end, got %v", err)
	}
	if id != "private-conv" {
		t.Fatalf("expected private-conv, got %q", id)
	}
}

func TestPrivateAgentWithoutAPIKeyFailsToStart(t *testing.T) {
	t.Setenv(APIKeyEnv, "")

	conversation := NewConversation(NewClient(), "private-agent", true, nil)
	err := conversation.StartSession(context.Background())
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
	if state := conversation.State(); state != StateErrored {
		t.Fatalf("expected errored state, got %s", state)
	}
	if _, err := conversation.WaitForSessionEnd(); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected wait to report the start error, got %v", err)
	}
}

func TestDroppedConnectionEndsWithError(t *testing.T) {
	server := newFakeAgent(t, func(t *testing.T, conn *websocket.Conn) {
		expectInitiation(t, conn)
		writeRaw(t, conn, `{"type":"conversation_initiation_metadata","conversation_initiation_metadata_event":{"conversation_id":"conv-drop"}}`)
		_ = conn.UnderlyingConn().Close()
	})

	conversation := NewConversation(newTestClient(server), "agent-1", false, nil)
	if err := conversation.StartSession(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	id, err := waitForEnd(t, conversation)
	if err == nil {
		t.Fatalf("expected an error for a dropped connection")
	}
	if id != "conv-drop" {
		t.Fatalf("expected conversation id to survive the error, got %q", id)
	}
	if state := conversation.State(); state != StateErrored {
		t.Fatalf("expected errored state, got %s", state)
	}
}

func TestInterruptionDropsStaleAudio(t *testing.T) {
	server := newFakeAgent(t, func(t *testing.T, conn *websocket.Conn) {
		expectInitiation(t, conn)
		writeRaw(t, conn, audioMessage(1, "first"))
		writeRaw(t, conn, `{"type":"interruption","interruption_event":{"event_id":2}}`)
		writeRaw(t, conn, audioMessage(2, "stale"))
		writeRaw(t, conn, audioMessage(3, "fresh"))
		closeNormally(conn)
	})

	audio := &fakeAudio{}
	conversation := NewConversation(newTestClient(server), "agent-1", false, audio)
	if err := conversation.StartSession(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	if _, err := waitForEnd(t, conversation); err != nil {
		t.Fatalf("unexpected end error: %v", err)
	}

	played := audio.playedChunks()
	if len(played) != 2 || played[0] != "first" || played[1] != "fresh" {
		t.Fatalf("expected first and fresh audio to be played, got %v", played)
	}
	if interrupts := audio.interruptCalls.Load(); interrupts != 1 {
		t.Fatalf("expected one interrupt, got %d", interrupts)
	}
}

func TestMicrophoneAudioIsForwarded(t *testing.T) {
	chunks := make(chan string, 1)
	server := newFakeAgent(t, func(t *testing.T, conn *websocket.Conn) {
		expectInitiation(t, conn)

		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			t.Errorf("failed to read audio chunk: %v", err)
			return
		}
		chunk, _ := msg["user_audio_chunk"].(string)
		chunks <- chunk
		closeNormally(conn)
	})

	audio := &fakeAudio{}
	conversation := NewConversation(newTestClient(server), "agent-1", false, audio)
	if err := conversation.StartSession(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	audio.speak([]byte{1, 2, 3, 4})

	select {
	case chunk := <-chunks:
		if chunk != base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 4}) {
			t.Fatalf("unexpected audio chunk %q", chunk)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for audio chunk")
	}

	if _, err := waitForEnd(t, conversation); err != nil {
		t.Fatalf("unexpected end error: %v", err)
	}
}

func TestClientToolCallsAreAnswered(t *testing.T) {
	results := make(chan map[string]any, 2)
	server := newFakeAgent(t, func(t *testing.T, conn *websocket.Conn) {
		expectInitiation(t, conn)
		writeRaw(t, conn, `{"type":"client_tool_call","client_tool_call":{"tool_name":"get_weather","tool_call_id":"call-1","parameters":{"city":"Zagreb"}}}`)
		writeRaw(t, conn, `{"type":"client_tool_call","client_tool_call":{"tool_name":"missing","tool_call_id":"call-2","parameters":{}}}`)

		for range 2 {
			var result map[string]any
			if err := conn.ReadJSON(&result); err != nil {
				t.Errorf("failed to read tool result: %v", err)
				return
			}
			results <- result
		}
		closeNormally(conn)
	})

	tools := NewClientTools()
	if err := tools.Register("get_weather", func(_ context.Context, parameters map[string]any) (string, error) {
		return "sunny in " + parameters["city"].(string), nil
	}); err != nil {
		t.Fatalf("unexpected register error: %v", err)
	}

	conversation := NewConversation(newTestClient(server), "agent-1", false, nil, WithClientTools(tools))
	if err := conversation.StartSession(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	if _, err := waitForEnd(t, conversation); err != nil {
		t.Fatalf("unexpected end error: %v", err)
	}

	byID := map[string]map[string]any{}
	for range 2 {
		select {
		case result := <-results:
			byID[result["tool_call_id"].(string)] = result
		default:
			t.Fatalf("expected two tool results, got %d", len(byID))
		}
	}

	if got := byID["call-1"]; got["type"] != "client_tool_result" || got["result"] != "sunny in Zagreb" || got["is_error"] != false {
		t.Fatalf("unexpected result for call-1: %v", got)
	}
	if got := byID["call-2"]; got["is_error"] != true {
		t.Fatalf("expected unknown tool to be reported as an error, got %v", got)
	}
}

func TestCancellingStartContextEndsSession(t *testing.T) {
	server := newFakeAgent(t, func(t *testing.T, conn *websocket.Conn) {
		expectInitiation(t, conn)
		drain(conn)
	})

	ctx, cancel := context.WithCancel(context.Background())
	conversation := NewConversation(newTestClient(server), "agent-1", false, nil)
	if err := conversation.StartSession(ctx); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	cancel()

	if _, err := waitForEnd(t, conversation); err != nil {
		t.Fatalf("expected clean end after cancellation, got %v", err)
	}
}

func TestSendUserMessageRequiresActiveSession(t *testing.T) {
	conversation := NewConversation(NewClient(), "agent-1", false, nil)

	if err := conversation.SendUserMessage("hello"); !errors.Is(err, ErrSessionNotActive) {
		t.Fatalf("expected ErrSessionNotActive, got %v", err)
	}
}

func TestTextMessagesAreSent(t *testing.T) {
	received := make(chan map[string]any, 3)
	server := newFakeAgent(t, func(t *testing.T, conn *websocket.Conn) {
		expectInitiation(t, conn)
		for range 3 {
			var msg map[string]any
			if err := conn.ReadJSON(&msg); err != nil {
				t.Errorf("failed to read text message: %v", err)
				return
			}
			received <- msg
		}
		closeNormally(conn)
	})

	conversation := NewConversation(newTestClient(server), "agent-1", false, nil)
	if err := conversation.StartSession(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	if err := conversation.SendUserMessage("what's up"); err != nil {
		t.Fatalf("unexpected user message error: %v", err)
	}
	if err := conversation.SendContextualUpdate("user opened settings"); err != nil {
		t.Fatalf("unexpected contextual update error: %v", err)
	}
	if err := conversation.RegisterUserActivity(); err != nil {
		t.Fatalf("unexpected user activity error: %v", err)
	}

	if _, err := waitForEnd(t, conversation); err != nil {
		t.Fatalf("unexpected end error: %v", err)
	}

	expected := []struct{ msgType, text string }{
		{"user_message", "what's up"},
		{"contextual_update", "user opened settings"},
		{"user_activity", ""},
	}
	for _, want := range expected {
		msg := <-received
		text, _ := msg["text"].(string)
		if msg["type"] != want.msgType || text != want.text {
			t.Fatalf("expected %s %q, got %v", want.msgType, want.text, msg)
		}
	}
}

type callbackRecorder struct {
	mu          sync.Mutex
	responses   []string
	corrections [][2]string
	transcripts []string
	latencies   []float64
	endCalls    int
	endID       string
	endErr      error
}

func (r *callbackRecorder) options() []ConversationOption {
	return []ConversationOption{
		WithAgentResponseCallback(func(response string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.responses = append(r.responses, response)
		}),
		WithAgentResponseCorrectionCallback(func(original, corrected string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.corrections = append(r.corrections, [2]string{original, corrected})
		}),
		WithUserTranscriptCallback(func(transcript string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.transcripts = append(r.transcripts, transcript)
		}),
		WithLatencyMeasurementCallback(func(latencyMs float64) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.latencies = append(r.latencies, latencyMs)
		}),
		WithEndCallback(func(conversationID string, err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.endCalls++
			r.endID = conversationID
			r.endErr = err
		}),
	}
}

type fakeAudio struct {
	mu      sync.Mutex
	onInput func([]byte)
	played  []string

	interruptCalls atomic.Int32
	stopCalls      atomic.Int32
}

func (a *fakeAudio) Start(onInput func([]byte)) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onInput = onInput
	return nil
}

func (a *fakeAudio) Output(audio []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.played = append(a.played, string(audio))
	return nil
}

func (a *fakeAudio) Interrupt() { a.interruptCalls.Add(1) }

func (a *fakeAudio) Stop() error {
	a.stopCalls.Add(1)
	return nil
}

func (a *fakeAudio) speak(audio []byte) {
	a.mu.Lock()
	onInput := a.onInput
	a.mu.Unlock()
	if onInput != nil {
		onInput(audio)
	}
}

func (a *fakeAudio) playedChunks() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.played...)
}

func newFakeAgent(t *testing.T, script func(t *testing.T, conn *websocket.Conn)) *httptest.Server {
	t.Helper()

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != conversationPath {
			t.Errorf("unexpected request to %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		script(t, conn)
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestClient(server *httptest.Server) *Client {
	return NewClient(WithBaseURL(server.URL))
}

func expectInitiation(t *testing.T, conn *websocket.Conn) {
	t.Helper()

	var msg map[string]any
	if err := conn.ReadJSON(&msg); err != nil {
		t.Errorf("failed to read initiation message: %v", err)
		return
	}
	if msg["type"] != string(messageTypeConversationInitiationClientData) {
		t.Errorf("expected initiation message first, got %v", msg)
	}
}

func writeRaw(t *testing.T, conn *websocket.Conn, msg string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Errorf("failed to write message: %v", err)
	}
}

func audioMessage(eventID int, audio string) string {
	encoded := base64.StdEncoding.EncodeToString([]byte(audio))
	return `{"type":"audio","audio_event":{"audio_base_64":"` + encoded + `","event_id":` + strconv.Itoa(eventID) + `}}`
}

// closeNormally sends a normal close frame and waits for the client to
// acknowledge it.
func closeNormally(conn *websocket.Conn) {
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	drain(conn)
}

func drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func waitForEnd(t *testing.T, conversation *Conversation) (string, error) {
	t.Helper()

	type result struct {
		id  string
		err error
	}
	done := make(chan result, 1)
	go func() {
		id, err := conversation.WaitForSessionEnd()
		done <- result{id: id, err: err}
	}()

	select {
	case r := <-done:
		return r.id, r.err
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for session end")
		return "", nil
	}
}
