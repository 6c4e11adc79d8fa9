// Package live defines the provider abstraction for hosted realtime
// conversation sessions.
//
// A live provider wraps a streaming voice AI service that accepts raw audio
// and camera frames and returns synthesised audio plus incremental
// transcription in a single, stateful session. The central abstraction is
// [Session]: a bidirectional handle over which the caller pushes realtime
// input and from which server events arrive via the [Hooks] callbacks
// registered at connect time.
//
// Sessions are long-lived (seconds to minutes). A caller owns at most one
// session per conversation channel and must call Close when done.
//
// All implementations must be safe for concurrent use.
package live

import "context"

// Blob is an opaque media payload paired with its declared MIME type.
// Audio payloads carry types such as "audio/pcm;rate=16000"; video frames
// carry compressed still-image types such as "image/jpeg".
type Blob struct {
	// MIMEType declares the payload encoding, including any format
	// parameters (e.g. the PCM sample rate).
	MIMEType string

	// Data is the raw payload bytes. Implementations encode it for the wire
	// as needed (typically base64 inside JSON).
	Data []byte
}

// Turn is one complete unit of dialogue content attributable to a single
// role, injected into the session as client content.
type Turn struct {
	// Role is the speaker role, typically "user".
	Role string

	// Text is the textual content of the turn.
	Text string

	// Complete signals that the turn is finished and the model may respond.
	Complete bool
}

// RealtimeInput is a single realtime input item for a session. Exactly one
// field should be set per call; implementations may reject ambiguous input.
type RealtimeInput struct {
	// Audio is an audio chunk appended to the input audio stream.
	Audio *Blob

	// Video is a camera frame appended to the input video stream.
	Video *Blob

	// ActivityStart marks the beginning of a burst of user activity. It is
	// the explicit barge-in marker used to force interruption where voice
	// activity detection alone may be ambiguous.
	ActivityStart bool

	// ActivityEnd marks the end of a burst of user activity.
	ActivityEnd bool

	// AudioStreamEnd signals that no further input audio will follow.
	AudioStreamEnd bool
}

// Transcription is an incremental transcription fragment produced by the
// session for either direction of the conversation.
type Transcription struct {
	// Text is the transcription text. For input (user speech) transcription
	// the upstream convention is latest-full-text-so-far, not a delta.
	Text string

	// Finished reports whether the fragment completes the utterance.
	Finished bool
}

// Part is a single piece of model turn content.
type Part struct {
	// Text is inline text content, empty when the part carries media.
	Text string

	// InlineData is inline media content (synthesised audio), nil for text
	// parts.
	InlineData *Blob
}

// ServerEvent is one event received from the session. Fields are
// independent: a single event may carry several of them at once, and
// consumers must check each one rather than switching on a single kind.
type ServerEvent struct {
	// SetupComplete is non-nil once the session handshake has finished.
	SetupComplete *SetupComplete

	// ModelTurn carries the model's turn content parts, in order.
	ModelTurn []Part

	// InputTranscription is the recognition of the user's speech, if any.
	InputTranscription *Transcription

	// OutputTranscription is the text version of the model's audio output,
	// if any.
	OutputTranscription *Transcription

	// Text is a legacy flat text field some upstream protocol revisions use
	// instead of OutputTranscription. Consumers should prefer
	// OutputTranscription and fall back to Text.
	Text string

	// Interrupted reports that generation was cut off by user activity.
	Interrupted bool

	// TurnComplete reports that the model finished its turn.
	TurnComplete bool

	// WaitingForInput, when non-nil, reports whether the session is idle
	// and expects the next user contribution. An explicit false must be
	// propagated, hence the pointer.
	WaitingForInput *bool
}

// SetupComplete acknowledges session establishment.
type SetupComplete struct {
	// SessionID is the upstream session identifier, empty if the provider
	// does not offer one.
	SessionID string
}

// Hooks are the four lifecycle callbacks registered when a session is
// opened. All callbacks are invoked from the session's internal receive
// goroutine; implementors of hook functions must not call blocking session
// methods from within them. Nil hooks are skipped.
type Hooks struct {
	// OnOpen fires once the transport is established, before the first
	// server event.
	OnOpen func()

	// OnMessage fires for every server event.
	OnMessage func(ServerEvent)

	// OnError fires for non-fatal session errors. The session state after
	// an error is whatever the upstream leaves it in; it may subsequently
	// close.
	OnError func(error)

	// OnClose fires exactly once when the session terminates. reason is the
	// upstream-supplied close reason and may be empty.
	OnClose func(reason string)
}

// SessionConfig is the initial configuration for a new session.
type SessionConfig struct {
	// Model selects the provider model for the session.
	Model string

	// SystemInstruction is an optional system-level prompt attached to the
	// session. Blank means none.
	SystemInstruction string

	// InputTranscription enables transcription of user speech.
	InputTranscription bool

	// OutputTranscription enables transcription of the model's spoken
	// output.
	OutputTranscription bool
}

// Session represents an open realtime session. It is an interface so that
// test code can supply mock implementations without a live provider
// connection.
//
// The session is the hot path of the conversation pipeline — every method
// must return quickly. Sends are fire-and-forget: a nil return means the
// payload was handed to the transport, not that the provider acknowledged
// it. All methods must be safe for concurrent use.
type Session interface {
	// SendContent injects a complete content turn into the session.
	SendContent(turn Turn) error

	// SendRealtimeInput appends one realtime input item (audio chunk, video
	// frame, activity marker, or stream-end signal) to the session.
	SendRealtimeInput(in RealtimeInput) error

	// Close terminates the session and releases all resources. The OnClose
	// hook does not fire for caller-initiated closes. Calling Close more
	// than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any realtime session backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Connect establishes a new session with the given configuration and
	// hooks. The returned Session is ready to accept input as soon as the
	// provider reports setup completion via Hooks.OnMessage.
	//
	// The supplied ctx governs the connection attempt only; once
	// established, the session remains alive until Close is called or the
	// upstream terminates it.
	Connect(ctx context.Context, cfg SessionConfig, hooks Hooks) (Session, error)
}
