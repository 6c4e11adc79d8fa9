// Package gemini implements the live.Provider interface for Google's Gemini
// Live API.
//
// It establishes a bidirectional WebSocket connection to the Gemini Live
// endpoint and exchanges JSON messages according to the BidiGenerateContent
// protocol. Audio and video are transmitted as base64-encoded chunks; server
// events are surfaced through the live.Hooks callbacks.
package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/Veri5ied/sightline/pkg/live"
)

// Compile-time assertions that Provider and session satisfy the live interfaces.
var _ live.Provider = (*Provider)(nil)
var _ live.Session = (*session)(nil)

const (
	// DefaultModel is the model used when SessionConfig.Model is empty.
	DefaultModel = "gemini-2.0-flash-live-001"

	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements live.Provider for Google's Gemini Live API.
type Provider struct {
	apiKey  string
	baseURL string
}

// New creates a new Gemini Live Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Connect establishes a new Gemini Live session with the given configuration
// and hooks. The returned Session accepts input as soon as the upstream
// acknowledges setup via a setupComplete event.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig, hooks live.Hooks) (live.Session, error) {
	wsURL := fmt.Sprintf(
		"%s/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent?key=%s",
		p.baseURL, p.apiKey,
	)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: dial: %w", err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:   conn,
		hooks:  hooks,
		done:   make(chan struct{}),
		ctx:    sessCtx,
		cancel: sessCancel,
	}

	if err := sess.sendSetup(cfg); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, fmt.Errorf("gemini: setup: %w", err)
	}

	if hooks.OnOpen != nil {
		hooks.OnOpen()
	}

	go sess.receiveLoop()
	go sess.keepaliveLoop()

	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model                    string             `json:"model"`
	GenerationConfig         generationConfig   `json:"generationConfig"`
	SystemInstruction        *systemInstruction `json:"systemInstruction,omitempty"`
	InputAudioTranscription  *emptyObject       `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *emptyObject       `json:"outputAudioTranscription,omitempty"`
}

// emptyObject marshals as {} — used for presence-only protocol fields.
type emptyObject struct{}

type generationConfig struct {
	ResponseModalities []string `json:"responseModalities"`
}

type systemInstruction struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	Audio          *mediaChunk  `json:"audio,omitempty"`
	Video          *mediaChunk  `json:"video,omitempty"`
	ActivityStart  *emptyObject `json:"activityStart,omitempty"`
	ActivityEnd    *emptyObject `json:"activityEnd,omitempty"`
	AudioStreamEnd bool         `json:"audioStreamEnd,omitempty"`
}

type mediaChunk struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type clientContentMessage struct {
	ClientContent clientContent `json:"clientContent"`
}

type clientContent struct {
	Turns        []contentTurn `json:"turns"`
	TurnComplete bool          `json:"turnComplete"`
}

type contentTurn struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverMessage struct {
	SetupComplete *setupComplete `json:"setupComplete,omitempty"`
	ServerContent *serverContent `json:"serverContent,omitempty"`
	GoAway        *goAway        `json:"goAway,omitempty"`
	Error         *geminiError   `json:"error,omitempty"`
}

type setupComplete struct {
	SessionID string `json:"sessionId,omitempty"`
}

type goAway struct {
	TimeLeft string `json:"timeLeft,omitempty"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

type serverContent struct {
	ModelTurn           *modelTurn     `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
	WaitingForInput     *bool          `json:"waitingForInput,omitempty"`
	Text                string         `json:"text,omitempty"`
}

type modelTurn struct {
	Parts []part `json:"parts"`
}

type transcription struct {
	Text     string `json:"text"`
	Finished bool   `json:"finished,omitempty"`
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn  *websocket.Conn
	hooks live.Hooks

	mu     sync.Mutex
	closed bool

	done      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// sendSetup sends the initial BidiGenerateContent setup message.
func (s *session) sendSetup(cfg live.SessionConfig) error {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	msg := setupMessage{
		Setup: setupConfig{
			Model: fmt.Sprintf("models/%s", model),
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"AUDIO"},
			},
		},
	}

	if cfg.SystemInstruction != "" {
		msg.Setup.SystemInstruction = &systemInstruction{
			Parts: []part{{Text: cfg.SystemInstruction}},
		}
	}
	if cfg.InputTranscription {
		msg.Setup.InputAudioTranscription = &emptyObject{}
	}
	if cfg.OutputTranscription {
		msg.Setup.OutputAudioTranscription = &emptyObject{}
	}

	return s.writeJSON(msg)
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gemini: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// receiveLoop reads messages from the WebSocket and dispatches them to the
// registered hooks. It fires OnClose exactly once when the upstream ends the
// connection; caller-initiated Close suppresses the hook.
func (s *session) receiveLoop() {
	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			// Caller-initiated close: exit silently.
			if s.ctx.Err() != nil {
				return
			}
			s.fireClose(closeReason(err))
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue // skip malformed frames
		}

		s.handleServerMessage(&msg)
	}
}

// closeReason extracts a human-readable reason from a WebSocket read error.
func closeReason(err error) string {
	var ce websocket.CloseError
	if errors.As(err, &ce) && ce.Reason != "" {
		return ce.Reason
	}
	return err.Error()
}

func (s *session) handleServerMessage(msg *serverMessage) {
	if msg.Error != nil {
		s.fireError(fmt.Errorf("gemini: %s", errorText(msg.Error)))
	}
	if msg.GoAway != nil {
		s.fireError(fmt.Errorf("gemini: connection will close soon (time left %s)", msg.GoAway.TimeLeft))
	}

	ev, ok := toEvent(msg)
	if ok && s.hooks.OnMessage != nil {
		s.hooks.OnMessage(ev)
	}
}

func errorText(ge *geminiError) string {
	if ge.Message != "" {
		return ge.Message
	}
	return "unknown error"
}

// toEvent translates an upstream protocol message into a live.ServerEvent.
// ok is false when the message carries nothing consumers care about.
func toEvent(msg *serverMessage) (live.ServerEvent, bool) {
	var ev live.ServerEvent
	seen := false

	if msg.SetupComplete != nil {
		ev.SetupComplete = &live.SetupComplete{SessionID: msg.SetupComplete.SessionID}
		seen = true
	}

	sc := msg.ServerContent
	if sc == nil {
		return ev, seen
	}

	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			lp := live.Part{Text: p.Text}
			if p.InlineData != nil {
				data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
				if err != nil {
					continue
				}
				lp.InlineData = &live.Blob{MIMEType: p.InlineData.MIMEType, Data: data}
			}
			ev.ModelTurn = append(ev.ModelTurn, lp)
		}
	}
	if sc.InputTranscription != nil {
		ev.InputTranscription = &live.Transcription{
			Text:     sc.InputTranscription.Text,
			Finished: sc.InputTranscription.Finished,
		}
	}
	if sc.OutputTranscription != nil {
		ev.OutputTranscription = &live.Transcription{
			Text:     sc.OutputTranscription.Text,
			Finished: sc.OutputTranscription.Finished,
		}
	}
	ev.Text = sc.Text
	ev.Interrupted = sc.Interrupted
	ev.TurnComplete = sc.TurnComplete
	ev.WaitingForInput = sc.WaitingForInput

	return ev, true
}

func (s *session) fireError(err error) {
	if s.hooks.OnError != nil {
		s.hooks.OnError(err)
	}
}

func (s *session) fireClose(reason string) {
	s.closeOnce.Do(func() {
		if s.hooks.OnClose != nil {
			s.hooks.OnClose(reason)
		}
	})
}

// keepaliveLoop sends WebSocket pings to keep the Gemini Live connection alive.
func (s *session) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(s.ctx, keepaliveTimeout)
			_ = s.conn.Ping(pingCtx)
			cancel()
		}
	}
}

// ── Session methods ────────────────────────────────────────────────────────────

// SendContent injects a complete content turn into the session.
func (s *session) SendContent(turn live.Turn) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	role := turn.Role
	if role == "" {
		role = "user"
	}

	msg := clientContentMessage{
		ClientContent: clientContent{
			Turns: []contentTurn{
				{Role: role, Parts: []part{{Text: turn.Text}}},
			},
			TurnComplete: turn.Complete,
		},
	}
	return s.writeJSON(msg)
}

// SendRealtimeInput appends one realtime input item to the session.
func (s *session) SendRealtimeInput(in live.RealtimeInput) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	var ri realtimeInput
	switch {
	case in.Audio != nil:
		ri.Audio = &mediaChunk{
			MIMEType: in.Audio.MIMEType,
			Data:     base64.StdEncoding.EncodeToString(in.Audio.Data),
		}
	case in.Video != nil:
		ri.Video = &mediaChunk{
			MIMEType: in.Video.MIMEType,
			Data:     base64.StdEncoding.EncodeToString(in.Video.Data),
		}
	case in.ActivityStart:
		ri.ActivityStart = &emptyObject{}
	case in.ActivityEnd:
		ri.ActivityEnd = &emptyObject{}
	case in.AudioStreamEnd:
		ri.AudioStreamEnd = true
	default:
		return fmt.Errorf("gemini: empty realtime input")
	}

	return s.writeJSON(realtimeInputMessage{RealtimeInput: ri})
}

func (s *session) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("gemini: session closed")
	}
	return nil
}

// Close terminates the session and releases all resources. Idempotent.
// The OnClose hook does not fire for caller-initiated closes.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.closeOnce.Do(func() {}) // suppress OnClose for caller-initiated close
	s.cancel()                // unblocks receiveLoop and keepaliveLoop
	close(s.done)             // signals keepaliveLoop via done channel
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
