// Package bridge maps the client wire protocol onto a single stateful
// upstream live session and fans the session's events back out as wire
// messages.
//
// One [Bridge] serves exactly one channel. Message handling is cooperative
// single-flow: the channel's read loop calls [Bridge.Handle] sequentially,
// and only the upstream connect call is awaited — all other sends are
// fire-and-forget. Session hooks fire on the session's own receive
// goroutine, so the session handle is guarded by a mutex.
//
// The bridge contains every failure: an upstream call that errors, a message
// arriving with no open session, or a missing credential all surface as a
// single live.error wire message. Nothing the bridge does may terminate the
// channel.
package bridge

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/Veri5ied/sightline/internal/observe"
	"github.com/Veri5ied/sightline/internal/wire"
	"github.com/Veri5ied/sightline/pkg/live"
)

// SendFunc delivers one outbound wire message to the channel. The bridge may
// call it from the channel read loop and from session hook goroutines
// concurrently; implementations must serialise writes themselves.
type SendFunc func(wire.ServerMessage)

// Config configures a [Bridge].
type Config struct {
	// Provider opens upstream sessions. A nil Provider means no credential
	// is configured: connect attempts surface a configuration error instead
	// of dialling.
	Provider live.Provider

	// Model is the upstream model identifier requested for each session.
	Model string

	// Send delivers outbound wire messages. Must not be nil.
	Send SendFunc

	// Metrics records bridge activity. Nil falls back to the default
	// instance.
	Metrics *observe.Metrics
}

// Bridge owns at most one live session for its channel and translates
// between wire messages and session calls.
type Bridge struct {
	provider live.Provider
	model    string
	send     SendFunc
	metrics  *observe.Metrics

	mu      chan struct{} // 1-slot semaphore guarding session; held across connect
	session live.Session
	gen     uint64 // incremented per connect; lets stale close hooks be ignored
}

// New creates a Bridge for one channel.
func New(cfg Config) *Bridge {
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	b := &Bridge{
		provider: cfg.Provider,
		model:    cfg.Model,
		send:     cfg.Send,
		metrics:  m,
		mu:       make(chan struct{}, 1),
	}
	return b
}

func (b *Bridge) lock()   { b.mu <- struct{}{} }
func (b *Bridge) unlock() { <-b.mu }

// Handle dispatches one inbound wire message. connect, disconnect and ping
// are always accepted; every other tag requires an open session and is
// otherwise answered with a single "no active session" error. All upstream
// calls are wrapped so that failures become live.error messages rather than
// propagating.
func (b *Bridge) Handle(ctx context.Context, msg wire.ClientMessage) {
	b.metrics.WireMessage(ctx, msg.Tag())

	switch m := msg.(type) {
	case wire.SessionConnect:
		b.Connect(ctx, m.SystemInstruction)
	case wire.SessionDisconnect:
		b.Disconnect("client requested disconnect")
	case wire.Ping:
		b.send(wire.Pong{})
	case wire.TextTurn:
		b.withSession(ctx, func(s live.Session) error {
			return s.SendContent(live.Turn{Role: "user", Text: m.Text, Complete: m.Complete()})
		})
	case wire.AudioChunk:
		b.withSession(ctx, func(s live.Session) error {
			return s.SendRealtimeInput(live.RealtimeInput{
				Audio: &live.Blob{MIMEType: m.MIMEType, Data: m.Data},
			})
		})
	case wire.AudioEnd:
		b.withSession(ctx, func(s live.Session) error {
			return s.SendRealtimeInput(live.RealtimeInput{AudioStreamEnd: true})
		})
	case wire.VideoFrame:
		b.withSession(ctx, func(s live.Session) error {
			return s.SendRealtimeInput(live.RealtimeInput{
				Video: &live.Blob{MIMEType: m.MIMEType, Data: m.Data},
			})
		})
	case wire.ActivityStart:
		b.withSession(ctx, func(s live.Session) error {
			return s.SendRealtimeInput(live.RealtimeInput{ActivityStart: true})
		})
	case wire.ActivityEnd:
		b.withSession(ctx, func(s live.Session) error {
			return s.SendRealtimeInput(live.RealtimeInput{ActivityEnd: true})
		})
	}
}

// withSession runs fn against the current session. With no session open it
// emits a single "no active session" error and performs no upstream call.
// An fn failure is converted to a live.error message.
func (b *Bridge) withSession(ctx context.Context, fn func(live.Session) error) {
	b.lock()
	sess := b.session
	b.unlock()

	if sess == nil {
		b.sendError(ctx, "no active session")
		return
	}
	if err := fn(sess); err != nil {
		slog.Warn("bridge: upstream send failed", "err", err)
		b.sendError(ctx, err.Error())
	}
}

// Connect opens a new upstream session, first closing any session already
// open (supersede semantics — never two concurrent sessions). A missing
// credential is a contained configuration error, not a dial attempt.
func (b *Bridge) Connect(ctx context.Context, systemInstruction string) {
	if b.provider == nil {
		b.sendError(ctx, "no API key configured")
		return
	}

	// Held across the upstream handshake: messages that need a session and
	// arrive while connect is in flight are rejected with "no active
	// session" rather than queued.
	b.lock()
	defer b.unlock()

	if b.session != nil {
		b.closeCurrentLocked("superseded by new connect")
	}

	cfg := live.SessionConfig{
		Model:               b.model,
		SystemInstruction:   systemInstruction,
		InputTranscription:  true,
		OutputTranscription: true,
	}

	b.gen++
	gen := b.gen

	start := time.Now()
	sess, err := b.provider.Connect(ctx, cfg, live.Hooks{
		OnOpen:    func() {},
		OnMessage: func(ev live.ServerEvent) { b.fanOut(ev) },
		OnError: func(err error) {
			// Session state is whatever the upstream leaves it in.
			b.sendError(context.Background(), err.Error())
		},
		OnClose: func(reason string) { b.upstreamClosed(gen, reason) },
	})
	if err != nil {
		slog.Warn("bridge: connect failed", "model", b.model, "err", err)
		b.sendError(ctx, err.Error())
		return
	}

	b.session = sess
	b.metrics.SessionOpened(ctx)
	b.metrics.ConnectDuration.Record(ctx, time.Since(start).Seconds())
	slog.Info("bridge: session connected", "model", b.model)
}

// Disconnect closes the current session and reports it to the channel.
// Idempotent: with no session open it does nothing.
func (b *Bridge) Disconnect(reason string) {
	b.lock()
	defer b.unlock()

	if b.session == nil {
		return
	}
	b.closeCurrentLocked(reason)
}

// closeCurrentLocked closes the held session, clears the handle and emits
// session.closed with the given reason. Callers must hold the bridge lock.
func (b *Bridge) closeCurrentLocked(reason string) {
	if err := b.session.Close(); err != nil {
		slog.Warn("bridge: session close failed", "err", err)
	}
	b.session = nil
	b.metrics.SessionClosed(context.Background(), "local")
	b.send(wire.SessionClosed{Reason: reason})
}

// upstreamClosed handles a session's close hook: clear the handle and
// surface the upstream-supplied reason, which may be empty. A hook from a
// session that has already been superseded is ignored so the channel sees
// exactly one session.closed per teardown.
func (b *Bridge) upstreamClosed(gen uint64, reason string) {
	b.lock()
	if gen != b.gen {
		b.unlock()
		return
	}
	b.session = nil
	b.unlock()

	b.metrics.SessionClosed(context.Background(), "upstream")
	slog.Info("bridge: session closed by upstream", "reason", reason)
	b.send(wire.SessionClosed{Reason: reason})
}

// fanOut translates one upstream event into zero or more outbound wire
// messages. The checks are independent flags, not a single switch: one event
// may produce several messages.
func (b *Bridge) fanOut(ev live.ServerEvent) {
	if ev.SetupComplete != nil {
		b.send(wire.SessionConnected{SessionID: ev.SetupComplete.SessionID})
	}

	for _, p := range ev.ModelTurn {
		if p.InlineData == nil || !isAudioMIME(p.InlineData.MIMEType) {
			continue
		}
		b.send(wire.AgentAudioChunk{Data: p.InlineData.Data, MIMEType: p.InlineData.MIMEType})
	}

	if ev.InputTranscription != nil && ev.InputTranscription.Text != "" {
		b.send(wire.UserTranscript{
			Text:     ev.InputTranscription.Text,
			Finished: ev.InputTranscription.Finished,
		})
	}

	switch {
	case ev.OutputTranscription != nil && ev.OutputTranscription.Text != "":
		b.send(wire.AgentTextDelta{Text: ev.OutputTranscription.Text})
	case ev.Text != "":
		// Legacy flat text field used by older upstream protocol revisions.
		b.send(wire.AgentTextDelta{Text: ev.Text})
	}

	if ev.Interrupted {
		b.send(wire.LiveInterrupted{})
	}
	if ev.TurnComplete {
		b.send(wire.AgentTurnComplete{})
	}
	if ev.WaitingForInput != nil {
		b.send(wire.LiveWaitingInput{Waiting: *ev.WaitingForInput})
	}
}

func (b *Bridge) sendError(ctx context.Context, msg string) {
	b.metrics.BridgeError(ctx)
	b.send(wire.LiveError{Message: msg})
}

// isAudioMIME reports whether the declared media type is in the audio
// category.
func isAudioMIME(mime string) bool {
	return strings.HasPrefix(mime, "audio/")
}
