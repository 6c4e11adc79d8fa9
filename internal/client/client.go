// Package client implements the headless Sightline client: it owns the
// WebSocket channel to the server and wires the media pipeline components
// together — playback scheduling for agent audio, the scene-change gate for
// camera frames, the auto-observe heuristic and the transcript aggregator.
//
// The controller is UI-agnostic. Frontends (the bundled web page, the probe
// CLI, tests) drive it through its action methods and observe it through the
// transcript commit callback and [Client.Err].
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/Veri5ied/sightline/internal/config"
	"github.com/Veri5ied/sightline/internal/media/autoobserve"
	"github.com/Veri5ied/sightline/internal/media/scenegate"
	"github.com/Veri5ied/sightline/internal/media/scheduler"
	"github.com/Veri5ied/sightline/internal/transcript"
	"github.com/Veri5ied/sightline/internal/wire"
)

// ErrNotDialed is returned by actions invoked before [Client.Dial] succeeded.
var ErrNotDialed = errors.New("client: channel not dialed")

const writeTimeout = 10 * time.Second

// Config assembles a [Client]. URL and Output are required; everything else
// has working defaults.
type Config struct {
	// URL is the ws:// or wss:// channel endpoint.
	URL string

	// Output constructs playback sinks for the audio scheduler.
	Output scheduler.OutputFactory

	// Camera supplies frames for the scene-change gate. Nil disables the
	// camera path entirely.
	Camera scenegate.FrameSource

	// OnEntry receives every committed transcript entry.
	OnEntry func(transcript.Entry)

	// Logger defaults to [slog.Default].
	Logger *slog.Logger

	// Clock defaults to the real clock. Tests inject a fake.
	Clock clockwork.Clock

	// SchedulerOpts, GateOpts and ObserverOpts tune the respective
	// components beyond the shared clock.
	SchedulerOpts []scheduler.Option
	GateOpts      []scenegate.Option
	ObserverOpts  []autoobserve.Option
}

// ApplyTuning maps the client section of the YAML configuration onto the
// component options, appended after any options already set. Zero-valued
// fields keep the component defaults. The AutoObserve switch is runtime
// state, not a construction option; callers pass it to
// [Client.SetAutoObserve] after dialling.
func (cfg *Config) ApplyTuning(t config.ClientConfig) {
	if t.PlaybackLookahead > 0 {
		cfg.SchedulerOpts = append(cfg.SchedulerOpts, scheduler.WithLookahead(t.PlaybackLookahead))
	}
	if t.SceneInterval > 0 {
		cfg.GateOpts = append(cfg.GateOpts, scenegate.WithInterval(t.SceneInterval))
	}
	if t.SceneThreshold > 0 {
		cfg.GateOpts = append(cfg.GateOpts, scenegate.WithThreshold(t.SceneThreshold))
	}
	if t.SilenceThreshold > 0 {
		cfg.ObserverOpts = append(cfg.ObserverOpts, autoobserve.WithSilenceThreshold(t.SilenceThreshold))
	}
	if t.Cooldown > 0 {
		cfg.ObserverOpts = append(cfg.ObserverOpts, autoobserve.WithCooldown(t.Cooldown))
	}
	if t.FrameFreshness > 0 {
		cfg.ObserverOpts = append(cfg.ObserverOpts, autoobserve.WithFrameFreshness(t.FrameFreshness))
	}
}

// Client is the headless channel controller. All exported methods are safe
// for concurrent use.
type Client struct {
	url   string
	log   *slog.Logger
	clock clockwork.Clock

	playback *scheduler.Scheduler
	gate     *scenegate.Gate
	observer *autoobserve.Observer
	agg      *transcript.Aggregator

	mu       sync.Mutex
	conn     *websocket.Conn
	cancel   context.CancelFunc
	done     chan struct{}
	lastErr  error
	cameraOn bool
	micOn    bool
}

// New assembles a client from cfg without touching the network.
func New(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	onEntry := cfg.OnEntry
	if onEntry == nil {
		onEntry = func(transcript.Entry) {}
	}

	c := &Client{
		url:   cfg.URL,
		log:   logger,
		clock: clock,
		agg:   transcript.New(onEntry),
	}

	schedOpts := append([]scheduler.Option{
		scheduler.WithClock(clock),
		scheduler.WithErrorHandler(func(err error) {
			logger.Error("playback aborted", "error", err)
		}),
	}, cfg.SchedulerOpts...)
	c.playback = scheduler.New(cfg.Output, schedOpts...)

	if cfg.Camera != nil {
		gateOpts := append([]scenegate.Option{scenegate.WithClock(clock)}, cfg.GateOpts...)
		c.gate = scenegate.New(cfg.Camera, c.emitFrame, gateOpts...)
	}

	obsOpts := append([]autoobserve.Option{autoobserve.WithClock(clock)}, cfg.ObserverOpts...)
	c.observer = autoobserve.New(c.sendObservePrompt, obsOpts...)

	return c
}

// Dial opens the WebSocket channel and starts the read loop and the
// auto-observe ticker. It does not open an upstream session; call
// [Client.Connect] for that.
func (c *Client) Dial(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return errors.New("client: already dialed")
	}

	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("client: dial %s: %w", c.url, err)
	}
	conn.SetReadLimit(16 << 20)

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.conn = conn
	c.cancel = cancel
	c.done = done
	c.observer.Start(runCtx)
	go c.readLoop(runCtx, conn, done)
	return nil
}

// Close tears the channel down and stops every component. It is safe to call
// more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	cancel := c.cancel
	done := c.done
	c.conn = nil
	c.cancel = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	cancel()
	c.observer.Stop()
	if c.gate != nil {
		c.gate.Stop()
	}
	c.playback.Stop()
	err := conn.Close(websocket.StatusNormalClosure, "client shutdown")
	<-done
	return err
}

// Err returns the error that terminated the read loop, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Transcript returns the committed transcript so far.
func (c *Client) Transcript() []transcript.Entry {
	return c.agg.Entries()
}

// ── User actions ───────────────────────────────────────────────────────────────

// Connect requests a fresh upstream session.
func (c *Client) Connect(ctx context.Context, systemInstruction string) error {
	return c.send(ctx, wire.SessionConnect{SystemInstruction: systemInstruction})
}

// Disconnect requests teardown of the current upstream session.
func (c *Client) Disconnect(ctx context.Context) error {
	return c.send(ctx, wire.SessionDisconnect{})
}

// SendText submits one complete user text turn.
func (c *Client) SendText(ctx context.Context, text string) error {
	c.observer.NoteUserActivity()
	return c.send(ctx, wire.TextTurn{Text: text})
}

// SetMicEnabled records a microphone toggle. Enabling the mic counts as user
// activity; the chunks that then stream through [Client.SendAudio] do not, or
// an open mic would keep the silence clock pinned and auto-observe would
// never become eligible.
func (c *Client) SetMicEnabled(on bool) {
	c.mu.Lock()
	was := c.micOn
	c.micOn = on
	c.mu.Unlock()
	if on && !was {
		c.observer.NoteUserActivity()
	}
}

// SendAudio streams one chunk of microphone audio.
func (c *Client) SendAudio(ctx context.Context, data []byte, mimeType string) error {
	return c.send(ctx, wire.AudioChunk{Data: data, MIMEType: mimeType})
}

// EndAudio marks the microphone stream finished.
func (c *Client) EndAudio(ctx context.Context) error {
	return c.send(ctx, wire.AudioEnd{})
}

// Interrupt barges in on the agent: playback stops locally at once and an
// empty activity burst tells the upstream to cut its turn short.
func (c *Client) Interrupt(ctx context.Context) error {
	c.playback.Stop()
	c.observer.NoteUserActivity()
	if err := c.send(ctx, wire.ActivityStart{}); err != nil {
		return err
	}
	return c.send(ctx, wire.ActivityEnd{})
}

// SetCameraEnabled toggles the camera path: the scene-change gate runs only
// while the camera is on, and auto-observe is told either way.
func (c *Client) SetCameraEnabled(ctx context.Context, on bool) {
	c.mu.Lock()
	was := c.cameraOn
	c.cameraOn = on
	c.mu.Unlock()
	if was == on {
		return
	}
	c.observer.SetCameraEnabled(on)
	if c.gate == nil {
		return
	}
	if on {
		c.gate.Start(ctx)
	} else {
		c.gate.Stop()
	}
}

// AnalyzeFrame forces one camera sample through the gate regardless of the
// interval, then asks for agent feedback without cooldown or freshness
// checks.
func (c *Client) AnalyzeFrame(ctx context.Context) error {
	if c.gate == nil {
		return errors.New("client: no camera configured")
	}
	if err := c.gate.Sample(ctx); err != nil {
		return fmt.Errorf("client: sample frame: %w", err)
	}
	c.observer.RequestFeedback(ctx, autoobserve.ModeManual)
	return nil
}

// SetAutoObserve enables or disables the periodic observation heuristic.
func (c *Client) SetAutoObserve(on bool) {
	if on {
		c.observer.Start(context.Background())
	} else {
		c.observer.Stop()
	}
}

// Ping probes channel liveness.
func (c *Client) Ping(ctx context.Context) error {
	return c.send(ctx, wire.Ping{})
}

// ── Wiring ─────────────────────────────────────────────────────────────────────

func (c *Client) emitFrame(jpegData []byte) {
	err := c.send(context.Background(), wire.VideoFrame{Data: jpegData, MIMEType: "image/jpeg"})
	if err != nil {
		c.log.Warn("dropping camera frame", "error", err)
		return
	}
	c.observer.NoteFrameCaptured()
}

func (c *Client) sendObservePrompt(text string) error {
	return c.send(context.Background(), wire.TextTurn{Text: text})
}

func (c *Client) send(ctx context.Context, msg wire.ClientMessage) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotDialed
	}

	data, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("client: write %s: %w", msg.Tag(), err)
	}
	return nil
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.mu.Lock()
			if ctx.Err() == nil {
				c.lastErr = err
			}
			c.mu.Unlock()
			if ctx.Err() == nil {
				c.log.Warn("channel read ended", "error", err)
			}
			c.onChannelLost()
			return
		}

		msg, err := wire.DecodeServer(data)
		if err != nil {
			c.log.Warn("skipping malformed server message", "error", err)
			continue
		}
		c.handle(msg)
	}
}

// onChannelLost resets local state when the transport drops underneath us.
func (c *Client) onChannelLost() {
	c.playback.Stop()
	c.observer.SetConnected(false)
}

func (c *Client) handle(msg wire.ServerMessage) {
	switch m := msg.(type) {
	case wire.ServerReady:
		c.log.Info("channel ready", "model", m.Model)

	case wire.SessionConnected:
		c.observer.SetConnected(true)
		c.log.Info("session connected", "session_id", m.SessionID)

	case wire.SessionClosed:
		c.playback.Stop()
		c.observer.SetConnected(false)
		c.agg.SessionClosed(m.Reason)
		c.log.Info("session closed", "reason", m.Reason)

	case wire.UserTranscript:
		c.agg.UserTranscript(m.Text, m.Finished)

	case wire.AgentTextDelta:
		c.agg.AgentDelta(m.Text)

	case wire.AgentAudioChunk:
		c.playback.Enqueue(scheduler.Chunk{Data: m.Data, MIMEType: m.MIMEType})

	case wire.AgentTurnComplete:
		c.agg.TurnComplete()

	case wire.LiveInterrupted:
		c.playback.Stop()
		c.agg.Interrupted()

	case wire.LiveWaitingInput:
		c.observer.SetWaiting(m.Waiting)

	case wire.LiveError:
		c.agg.Event("error: " + m.Message)
		c.log.Warn("live error", "message", m.Message)

	case wire.Pong:
		c.log.Debug("pong")
	}
}
