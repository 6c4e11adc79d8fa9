// Package wire defines the tagged message vocabulary exchanged between a
// Sightline client and server over the persistent WebSocket channel.
//
// Messages travel as JSON objects with a discriminating "type" field and the
// payload fields inlined alongside it, e.g.
//
//	{"type":"audio.chunk","data":"AAAA","mimeType":"audio/pcm;rate=16000"}
//
// The inbound (client→server) and outbound (server→client) vocabularies are
// disjoint closed sums: [ClientMessage] and [ServerMessage] are sealed
// interfaces whose concrete types live in this package, so dispatch sites can
// switch exhaustively over them. Messages are immutable once constructed.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownType is wrapped by [DecodeClient] when the "type" field names no
// known client message.
var ErrUnknownType = errors.New("unknown message type")

// Client→server message type tags.
const (
	TypeSessionConnect    = "session.connect"
	TypeSessionDisconnect = "session.disconnect"
	TypeTextTurn          = "text.turn"
	TypeAudioChunk        = "audio.chunk"
	TypeAudioEnd          = "audio.end"
	TypeVideoFrame        = "video.frame"
	TypeActivityStart     = "activity.start"
	TypeActivityEnd       = "activity.end"
	TypePing              = "ping"
)

// Server→client message type tags.
const (
	TypeServerReady       = "server.ready"
	TypeSessionConnected  = "session.connected"
	TypeSessionClosed     = "session.closed"
	TypeUserTranscript    = "user.transcript"
	TypeAgentTextDelta    = "agent.text.delta"
	TypeAgentAudioChunk   = "agent.audio.chunk"
	TypeAgentTurnComplete = "agent.turn.complete"
	TypeLiveInterrupted   = "live.interrupted"
	TypeLiveWaitingInput  = "live.waiting-input"
	TypeLiveError         = "live.error"
	TypePong              = "pong"
)

// ClientMessage is the closed sum of all client→server messages.
type ClientMessage interface {
	// Tag returns the wire type tag of the message.
	Tag() string

	clientMessage()
}

// ServerMessage is the closed sum of all server→client messages.
type ServerMessage interface {
	// Tag returns the wire type tag of the message.
	Tag() string

	serverMessage()
}

// ── Client→server messages ─────────────────────────────────────────────────────

// SessionConnect requests a new upstream session, superseding any open one.
type SessionConnect struct {
	// SystemInstruction is an optional system prompt for the session.
	SystemInstruction string `json:"systemInstruction,omitempty"`
}

// SessionDisconnect requests teardown of the current upstream session.
type SessionDisconnect struct{}

// TextTurn sends a single user text turn.
type TextTurn struct {
	Text string `json:"text"`

	// TurnComplete marks the turn finished. Absent means true.
	TurnComplete *bool `json:"turnComplete,omitempty"`
}

// Complete reports the effective completion flag, defaulting to true when the
// field was omitted.
func (t TextTurn) Complete() bool {
	return t.TurnComplete == nil || *t.TurnComplete
}

// AudioChunk appends one chunk of realtime input audio.
type AudioChunk struct {
	// Data is the raw payload; it travels base64-encoded in JSON.
	Data []byte `json:"data"`

	// MIMEType declares the payload encoding, e.g. "audio/pcm;rate=16000".
	MIMEType string `json:"mimeType"`
}

// AudioEnd signals the end of the realtime input audio stream.
type AudioEnd struct{}

// VideoFrame appends one realtime input camera frame.
type VideoFrame struct {
	Data     []byte `json:"data"`
	MIMEType string `json:"mimeType"`
}

// ActivityStart is the explicit barge-in marker opening a burst of user
// activity.
type ActivityStart struct{}

// ActivityEnd closes a burst of user activity.
type ActivityEnd struct{}

// Ping is a liveness probe; the server answers with [Pong].
type Ping struct{}

func (SessionConnect) Tag() string    { return TypeSessionConnect }
func (SessionDisconnect) Tag() string { return TypeSessionDisconnect }
func (TextTurn) Tag() string          { return TypeTextTurn }
func (AudioChunk) Tag() string        { return TypeAudioChunk }
func (AudioEnd) Tag() string          { return TypeAudioEnd }
func (VideoFrame) Tag() string        { return TypeVideoFrame }
func (ActivityStart) Tag() string     { return TypeActivityStart }
func (ActivityEnd) Tag() string       { return TypeActivityEnd }
func (Ping) Tag() string              { return TypePing }

func (SessionConnect) clientMessage()    {}
func (SessionDisconnect) clientMessage() {}
func (TextTurn) clientMessage()          {}
func (AudioChunk) clientMessage()        {}
func (AudioEnd) clientMessage()          {}
func (VideoFrame) clientMessage()        {}
func (ActivityStart) clientMessage()     {}
func (ActivityEnd) clientMessage()       {}
func (Ping) clientMessage()              {}

// ── Server→client messages ─────────────────────────────────────────────────────

// ServerReady greets a freshly accepted channel with the configured model.
type ServerReady struct {
	Model string `json:"model"`
}

// SessionConnected acknowledges a completed upstream session handshake.
type SessionConnected struct {
	// SessionID is the upstream session identifier, if the provider offers one.
	SessionID string `json:"sessionId,omitempty"`
}

// SessionClosed reports that the upstream session ended.
type SessionClosed struct {
	// Reason is the upstream-supplied close reason; may be absent.
	Reason string `json:"reason,omitempty"`
}

// UserTranscript carries the recognition of the user's speech. Text is the
// latest full text so far, not a delta.
type UserTranscript struct {
	Text     string `json:"text"`
	Finished bool   `json:"finished"`
}

// AgentTextDelta carries one incremental fragment of the agent's text.
type AgentTextDelta struct {
	Text string `json:"text"`
}

// AgentAudioChunk carries one chunk of the agent's synthesised audio.
type AgentAudioChunk struct {
	Data     []byte `json:"data"`
	MIMEType string `json:"mimeType"`
}

// AgentTurnComplete reports that the agent finished its turn.
type AgentTurnComplete struct{}

// LiveInterrupted reports that user activity cut off agent output. Clients
// must stop playback immediately on receipt.
type LiveInterrupted struct{}

// LiveWaitingInput reports whether the upstream session is idle and expects
// the next user contribution. An explicit false is meaningful.
type LiveWaitingInput struct {
	Waiting bool `json:"waiting"`
}

// LiveError surfaces any contained failure to the client. The channel remains
// open.
type LiveError struct {
	Message string `json:"message"`
}

// Pong answers a [Ping].
type Pong struct{}

func (ServerReady) Tag() string       { return TypeServerReady }
func (SessionConnected) Tag() string  { return TypeSessionConnected }
func (SessionClosed) Tag() string     { return TypeSessionClosed }
func (UserTranscript) Tag() string    { return TypeUserTranscript }
func (AgentTextDelta) Tag() string    { return TypeAgentTextDelta }
func (AgentAudioChunk) Tag() string   { return TypeAgentAudioChunk }
func (AgentTurnComplete) Tag() string { return TypeAgentTurnComplete }
func (LiveInterrupted) Tag() string   { return TypeLiveInterrupted }
func (LiveWaitingInput) Tag() string  { return TypeLiveWaitingInput }
func (LiveError) Tag() string         { return TypeLiveError }
func (Pong) Tag() string              { return TypePong }

func (ServerReady) serverMessage()       {}
func (SessionConnected) serverMessage()  {}
func (SessionClosed) serverMessage()     {}
func (UserTranscript) serverMessage()    {}
func (AgentTextDelta) serverMessage()    {}
func (AgentAudioChunk) serverMessage()   {}
func (AgentTurnComplete) serverMessage() {}
func (LiveInterrupted) serverMessage()   {}
func (LiveWaitingInput) serverMessage()  {}
func (LiveError) serverMessage()         {}
func (Pong) serverMessage()              {}

// ── Codec ──────────────────────────────────────────────────────────────────────

// tagged is used to peek at the discriminating field before full decoding.
type tagged struct {
	Type string `json:"type"`
}

// DecodeClient parses one inbound frame into its concrete [ClientMessage].
// Malformed JSON and unrecognised tags return an error; the caller is
// expected to answer with a generic invalid-payload [LiveError] and keep the
// channel open.
func DecodeClient(data []byte) (ClientMessage, error) {
	var t tagged
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("wire: decode envelope: %w", err)
	}

	var (
		msg ClientMessage
		err error
	)
	switch t.Type {
	case TypeSessionConnect:
		msg, err = decodeInto[SessionConnect](data)
	case TypeSessionDisconnect:
		msg, err = decodeInto[SessionDisconnect](data)
	case TypeTextTurn:
		msg, err = decodeInto[TextTurn](data)
	case TypeAudioChunk:
		msg, err = decodeInto[AudioChunk](data)
	case TypeAudioEnd:
		msg, err = decodeInto[AudioEnd](data)
	case TypeVideoFrame:
		msg, err = decodeInto[VideoFrame](data)
	case TypeActivityStart:
		msg, err = decodeInto[ActivityStart](data)
	case TypeActivityEnd:
		msg, err = decodeInto[ActivityEnd](data)
	case TypePing:
		msg, err = decodeInto[Ping](data)
	default:
		return nil, fmt.Errorf("wire: %w: %q", ErrUnknownType, t.Type)
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// decodeInto unmarshals data into a fresh value of type M.
func decodeInto[M any](data []byte) (M, error) {
	var m M
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("wire: decode payload: %w", err)
	}
	return m, nil
}

// Encode serialises msg into its wire form: the payload fields with the type
// tag spliced in. msg may be any [ClientMessage] or [ServerMessage].
func Encode(msg interface{ Tag() string }) ([]byte, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("wire: encode %s: %w", msg.Tag(), err)
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("wire: encode %s: %w", msg.Tag(), err)
	}
	if obj == nil {
		obj = make(map[string]json.RawMessage, 1)
	}
	obj["type"] = json.RawMessage(fmt.Sprintf("%q", msg.Tag()))

	return json.Marshal(obj)
}

// DecodeServer parses one outbound frame into its concrete [ServerMessage].
// It exists for client-side consumers; the server never receives these tags.
func DecodeServer(data []byte) (ServerMessage, error) {
	var t tagged
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("wire: decode envelope: %w", err)
	}

	var (
		msg ServerMessage
		err error
	)
	switch t.Type {
	case TypeServerReady:
		msg, err = decodeInto[ServerReady](data)
	case TypeSessionConnected:
		msg, err = decodeInto[SessionConnected](data)
	case TypeSessionClosed:
		msg, err = decodeInto[SessionClosed](data)
	case TypeUserTranscript:
		msg, err = decodeInto[UserTranscript](data)
	case TypeAgentTextDelta:
		msg, err = decodeInto[AgentTextDelta](data)
	case TypeAgentAudioChunk:
		msg, err = decodeInto[AgentAudioChunk](data)
	case TypeAgentTurnComplete:
		msg, err = decodeInto[AgentTurnComplete](data)
	case TypeLiveInterrupted:
		msg, err = decodeInto[LiveInterrupted](data)
	case TypeLiveWaitingInput:
		msg, err = decodeInto[LiveWaitingInput](data)
	case TypeLiveError:
		msg, err = decodeInto[LiveError](data)
	case TypePong:
		msg, err = decodeInto[Pong](data)
	default:
		return nil, fmt.Errorf("wire: %w: %q", ErrUnknownType, t.Type)
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}
