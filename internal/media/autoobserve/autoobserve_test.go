package autoobserve_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Veri5ied/sightline/internal/media/autoobserve"
)

// promptRecorder records sent prompts and signals each on a channel.
type promptRecorder struct {
	mu    sync.Mutex
	sent  []string
	fired chan struct{}
}

func newPromptRecorder() *promptRecorder {
	return &promptRecorder{fired: make(chan struct{}, 16)}
}

func (r *promptRecorder) send(text string) error {
	r.mu.Lock()
	r.sent = append(r.sent, text)
	r.mu.Unlock()
	r.fired <- struct{}{}
	return nil
}

func (r *promptRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func expectPrompt(t *testing.T, r *promptRecorder) {
	t.Helper()
	select {
	case <-r.fired:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for an observation prompt")
	}
}

func expectNoPrompt(t *testing.T, r *promptRecorder) {
	t.Helper()
	select {
	case <-r.fired:
		t.Fatal("unexpected observation prompt")
	case <-time.After(50 * time.Millisecond):
	}
}

// newTicking builds an observer with a 10s silence threshold and generous
// freshness, started and ready to be driven tick by tick.
func newTicking(t *testing.T, rec *promptRecorder, clock *clockwork.FakeClock) *autoobserve.Observer {
	t.Helper()
	o := autoobserve.New(rec.send,
		autoobserve.WithClock(clock),
		autoobserve.WithSilenceThreshold(10*time.Second),
		autoobserve.WithFrameFreshness(time.Minute),
		autoobserve.WithCooldown(30*time.Second),
	)
	o.Start(context.Background())
	t.Cleanup(o.Stop)
	return o
}

// advanceTicks moves the fake clock forward n one-second ticks, waiting for
// the run loop to be back on the ticker before each step.
func advanceTicks(clock *clockwork.FakeClock, n int) {
	for i := 0; i < n; i++ {
		clock.BlockUntil(1)
		clock.Advance(time.Second)
	}
}

func TestAuto_FiresAfterSilence(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	rec := newPromptRecorder()
	o := newTicking(t, rec, clock)

	o.SetConnected(true)
	o.SetCameraEnabled(true)
	o.SetWaiting(true)
	o.NoteFrameCaptured()

	advanceTicks(clock, 10)
	expectPrompt(t, rec)

	rec.mu.Lock()
	got := rec.sent[0]
	rec.mu.Unlock()
	if got != autoobserve.Prompt {
		t.Errorf("prompt = %q, want the fixed observation prompt", got)
	}
}

func TestAuto_UserActivityDefersTrigger(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	rec := newPromptRecorder()
	o := newTicking(t, rec, clock)

	o.SetConnected(true)
	o.SetCameraEnabled(true)
	o.SetWaiting(true)
	o.NoteFrameCaptured()

	advanceTicks(clock, 9)
	o.NoteUserActivity()
	advanceTicks(clock, 9)
	expectNoPrompt(t, rec)

	advanceTicks(clock, 1)
	expectPrompt(t, rec)
}

func TestAuto_SuppressedWhileNotWaiting(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	rec := newPromptRecorder()
	o := newTicking(t, rec, clock)

	o.SetConnected(true)
	o.SetCameraEnabled(true)
	o.SetWaiting(false)
	o.NoteFrameCaptured()

	advanceTicks(clock, 20)
	expectNoPrompt(t, rec)

	// The explicit waiting=true signal releases it on the next eligible tick.
	o.SetWaiting(true)
	advanceTicks(clock, 1)
	expectPrompt(t, rec)
}

func TestRequestFeedback_AutoCooldown(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	rec := newPromptRecorder()
	o := autoobserve.New(rec.send,
		autoobserve.WithClock(clock),
		autoobserve.WithCooldown(30*time.Second),
		autoobserve.WithFrameFreshness(time.Minute),
	)
	o.SetConnected(true)
	o.SetCameraEnabled(true)
	o.NoteFrameCaptured()

	o.RequestFeedback(context.Background(), autoobserve.ModeAuto)
	expectPrompt(t, rec)

	// Within the cooldown window: silent no-op.
	clock.Advance(10 * time.Second)
	o.NoteFrameCaptured()
	o.RequestFeedback(context.Background(), autoobserve.ModeAuto)
	expectNoPrompt(t, rec)

	// Past the cooldown: fires again.
	clock.Advance(25 * time.Second)
	o.NoteFrameCaptured()
	o.RequestFeedback(context.Background(), autoobserve.ModeAuto)
	expectPrompt(t, rec)
}

func TestRequestFeedback_AutoRequiresFreshFrame(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	rec := newPromptRecorder()
	o := autoobserve.New(rec.send,
		autoobserve.WithClock(clock),
		autoobserve.WithFrameFreshness(5*time.Second),
	)
	o.SetConnected(true)
	o.SetCameraEnabled(true)

	// No frame ever captured: no-op.
	o.RequestFeedback(context.Background(), autoobserve.ModeAuto)
	expectNoPrompt(t, rec)

	// Stale frame: no-op.
	o.NoteFrameCaptured()
	clock.Advance(6 * time.Second)
	o.RequestFeedback(context.Background(), autoobserve.ModeAuto)
	expectNoPrompt(t, rec)

	// Fresh frame: fires.
	o.NoteFrameCaptured()
	o.RequestFeedback(context.Background(), autoobserve.ModeAuto)
	expectPrompt(t, rec)
}

func TestRequestFeedback_ManualSkipsCooldownAndFreshness(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	rec := newPromptRecorder()
	o := autoobserve.New(rec.send, autoobserve.WithClock(clock))
	o.SetConnected(true)
	o.SetCameraEnabled(true)

	// No frame stamp, back-to-back calls: both fire.
	o.RequestFeedback(context.Background(), autoobserve.ModeManual)
	o.RequestFeedback(context.Background(), autoobserve.ModeManual)
	expectPrompt(t, rec)
	expectPrompt(t, rec)
}

func TestRequestFeedback_RequiresConnectedAndCamera(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		name      string
		connected bool
		camera    bool
	}{
		{"disconnected", false, true},
		{"camera off", true, false},
		{"neither", false, false},
	} {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := newPromptRecorder()
			o := autoobserve.New(rec.send, autoobserve.WithClock(clockwork.NewFakeClock()))
			o.SetConnected(tt.connected)
			o.SetCameraEnabled(tt.camera)
			o.NoteFrameCaptured()

			o.RequestFeedback(context.Background(), autoobserve.ModeAuto)
			o.RequestFeedback(context.Background(), autoobserve.ModeManual)
			expectNoPrompt(t, rec)
		})
	}
}

func TestStop_HaltsTicker(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	rec := newPromptRecorder()
	o := newTicking(t, rec, clock)

	o.SetConnected(true)
	o.SetCameraEnabled(true)
	o.SetWaiting(true)
	o.NoteFrameCaptured()

	o.Stop()
	clock.Advance(time.Minute)
	expectNoPrompt(t, rec)

	if rec.count() != 0 {
		t.Errorf("got %d prompts after Stop, want 0", rec.count())
	}
}
