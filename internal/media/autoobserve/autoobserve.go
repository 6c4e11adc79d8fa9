// Package autoobserve implements the silence-driven heuristic that
// proactively prompts the session for feedback about the camera view.
//
// The heuristic runs only while all of the following hold: the feature is
// enabled, the channel is connected, the camera is on, and the most recent
// waiting-for-input signal was true. On a fixed tick it checks whether the
// user has been silent long enough; the shared feedback request then
// independently re-checks, at call time, the cooldown since the last
// auto-feedback actually sent and the freshness of the last captured frame.
// Only when every condition holds is the fixed observation prompt sent.
//
// Timing is driven by an injectable clock so the whole state machine is
// testable without wall-clock waits.
package autoobserve

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Veri5ied/sightline/internal/observe"
)

// Defaults applied when the corresponding option is not given.
const (
	DefaultTickInterval     = time.Second
	DefaultSilenceThreshold = 12 * time.Second
	DefaultCooldown         = 30 * time.Second
	DefaultFrameFreshness   = 5 * time.Second
)

// Prompt is the fixed auto-observation text turn sent on an auto trigger.
const Prompt = "Briefly comment on what you can currently see through the camera, " +
	"if anything seems worth pointing out."

// Mode distinguishes who initiated a feedback request.
type Mode int

const (
	// ModeAuto is a silence-triggered request; cooldown and frame freshness
	// are enforced.
	ModeAuto Mode = iota

	// ModeManual is a user-initiated request (manual frame analysis);
	// cooldown and freshness are skipped, and the action counts as user
	// activity.
	ModeManual
)

// SendFunc delivers the observation prompt as a user text turn.
type SendFunc func(text string) error

// Option configures an [Observer] during construction.
type Option func(*Observer)

// WithTickInterval sets the evaluation tick. Default 1s.
func WithTickInterval(d time.Duration) Option {
	return func(o *Observer) {
		if d > 0 {
			o.tick = d
		}
	}
}

// WithSilenceThreshold sets the minimum user inactivity before an auto
// trigger becomes eligible. Default 12s.
func WithSilenceThreshold(d time.Duration) Option {
	return func(o *Observer) {
		if d > 0 {
			o.silence = d
		}
	}
}

// WithCooldown sets the minimum gap between two auto-feedbacks actually
// sent. Default 30s.
func WithCooldown(d time.Duration) Option {
	return func(o *Observer) {
		if d > 0 {
			o.cooldown = d
		}
	}
}

// WithFrameFreshness sets the maximum age of the last captured frame for an
// auto trigger to fire. Default 5s.
func WithFrameFreshness(d time.Duration) Option {
	return func(o *Observer) {
		if d > 0 {
			o.freshness = d
		}
	}
}

// WithClock injects the clock. Tests use a fake clock to time-travel.
func WithClock(c clockwork.Clock) Option {
	return func(o *Observer) { o.clock = c }
}

// WithMetrics overrides the metrics instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Observer) { o.metrics = m }
}

// Observer is the auto-observe state machine. Safe for concurrent use.
type Observer struct {
	send      SendFunc
	tick      time.Duration
	silence   time.Duration
	cooldown  time.Duration
	freshness time.Duration
	clock     clockwork.Clock
	metrics   *observe.Metrics

	mu        sync.Mutex
	enabled   bool
	connected bool
	cameraOn  bool
	waiting   bool // most recent waiting-for-input signal

	// The activity clock: three independent timestamps, each updated only
	// by the one event that defines it.
	lastActivity time.Time // last user-originated action
	lastFrame    time.Time // last camera frame captured
	lastAuto     time.Time // last auto-feedback actually sent

	stop chan struct{}
}

// New creates an Observer that sends prompts via send.
func New(send SendFunc, opts ...Option) *Observer {
	o := &Observer{
		send:      send,
		tick:      DefaultTickInterval,
		silence:   DefaultSilenceThreshold,
		cooldown:  DefaultCooldown,
		freshness: DefaultFrameFreshness,
		clock:     clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	o.lastActivity = o.clock.Now()
	return o
}

// Start enables the heuristic and begins ticking. No-op when already running.
func (o *Observer) Start(ctx context.Context) {
	o.mu.Lock()
	o.enabled = true
	if o.stop != nil {
		o.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	o.stop = stop
	o.mu.Unlock()

	go o.run(ctx, stop)
}

// Stop disables the heuristic and clears its ticker. Idempotent.
func (o *Observer) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.enabled = false
	if o.stop != nil {
		close(o.stop)
		o.stop = nil
	}
}

// SetConnected records whether the channel currently has a live session.
func (o *Observer) SetConnected(v bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.connected = v
}

// SetCameraEnabled records whether the camera input is on.
func (o *Observer) SetCameraEnabled(v bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cameraOn = v
}

// SetWaiting records the most recent waiting-for-input signal. An explicit
// false suppresses auto triggers entirely.
func (o *Observer) SetWaiting(v bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.waiting = v
}

// NoteUserActivity stamps the last-activity timestamp, deferring the next
// eligible auto trigger. Call it for every user-originated action: mic
// toggle on, manual text send, manual frame analysis, interrupt.
func (o *Observer) NoteUserActivity() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lastActivity = o.clock.Now()
}

// NoteFrameCaptured stamps the last-frame timestamp.
func (o *Observer) NoteFrameCaptured() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lastFrame = o.clock.Now()
}

func (o *Observer) run(ctx context.Context, stop chan struct{}) {
	ticker := o.clock.NewTicker(o.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.Chan():
			o.evaluate(ctx)
		}
	}
}

// evaluate is one tick of the heuristic.
func (o *Observer) evaluate(ctx context.Context) {
	o.mu.Lock()
	eligible := o.enabled && o.connected && o.cameraOn && o.waiting &&
		o.clock.Now().Sub(o.lastActivity) >= o.silence
	o.mu.Unlock()

	if !eligible {
		return
	}
	o.RequestFeedback(ctx, ModeAuto)
}

// RequestFeedback is the shared feedback operation. In [ModeAuto] it
// independently re-checks, at call time, that the channel and camera are
// still active, that the cooldown since the last auto-feedback has elapsed,
// and that the last captured frame is fresh; when any check fails it is a
// silent no-op. [ModeManual] skips cooldown and freshness and counts as user
// activity.
func (o *Observer) RequestFeedback(ctx context.Context, mode Mode) {
	o.mu.Lock()
	now := o.clock.Now()

	if !o.connected || !o.cameraOn {
		o.mu.Unlock()
		return
	}
	if mode == ModeAuto {
		if !o.lastAuto.IsZero() && now.Sub(o.lastAuto) < o.cooldown {
			o.mu.Unlock()
			return
		}
		if o.lastFrame.IsZero() || now.Sub(o.lastFrame) > o.freshness {
			o.mu.Unlock()
			return
		}
	} else {
		o.lastActivity = now
	}
	o.mu.Unlock()

	if err := o.send(Prompt); err != nil {
		slog.Warn("autoobserve: prompt send failed", "err", err)
		return
	}

	if mode == ModeAuto {
		o.mu.Lock()
		o.lastAuto = o.clock.Now()
		o.mu.Unlock()
	}
	o.metrics.AutoObservations.Add(ctx, 1)
}
