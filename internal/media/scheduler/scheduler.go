// Package scheduler implements the client-side gapless audio playback
// scheduler.
//
// Inbound agent audio chunks are queued FIFO and drained by a single-flight
// drain pass that decodes each chunk and schedules it on the output device
// back-to-back: a chunk starts at max(now+lookahead, cursor), and the cursor
// advances to start+duration. The cursor never moves backwards, which
// guarantees non-overlapping, arrival-ordered playback under steady arrival
// and graceful catch-up under bursty arrival.
//
// [Scheduler.Stop] is the only mechanism that silences audio that is already
// scheduled but not yet finished; it is the mandatory response to an
// interruption or session close. A decode failure aborts the whole queue via
// Stop rather than skipping the bad chunk — the cursor would otherwise
// disagree with what actually played — and is surfaced through the error
// callback.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Veri5ied/sightline/internal/observe"
	"github.com/Veri5ied/sightline/pkg/audio"
)

// DefaultLookahead is the scheduling lookahead applied when none is
// configured: far enough ahead that the output device can start cleanly,
// close enough to keep perceived latency low.
const DefaultLookahead = 50 * time.Millisecond

// Chunk is one queued unit of inbound agent audio.
type Chunk struct {
	// Data is the encoded payload.
	Data []byte

	// MIMEType is the format tag, e.g. "audio/pcm;rate=24000".
	MIMEType string
}

// Output is the playback device handle. It is created lazily by the first
// drain pass and torn down outright by [Scheduler.Stop].
type Output interface {
	// Schedule queues samples to begin playing exactly at startAt.
	Schedule(samples []float32, sampleRate int, startAt time.Time) error

	// Close immediately silences everything scheduled and releases the
	// device. Close is idempotent.
	Close() error
}

// OutputFactory opens the playback device. It may block (device acquisition)
// and may fail.
type OutputFactory func() (Output, error)

// Option configures a [Scheduler] during construction.
type Option func(*Scheduler)

// WithLookahead overrides the fixed scheduling lookahead.
func WithLookahead(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.lookahead = d
		}
	}
}

// WithClock injects the clock used for cursor arithmetic. Tests use a fake
// clock for deterministic start times.
func WithClock(c clockwork.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithDecoder overrides the chunk decoder. Default is
// [audio.NewPlatformDecoder].
func WithDecoder(d audio.Decoder) Option {
	return func(s *Scheduler) { s.decoder = d }
}

// WithErrorHandler registers the callback that receives decode and device
// failures. The scheduler has already performed its full stop when the
// callback fires.
func WithErrorHandler(fn func(error)) Option {
	return func(s *Scheduler) { s.onError = fn }
}

// WithMetrics overrides the metrics instance. Default is
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// Scheduler is the gapless playback scheduler. All exported methods are safe
// for concurrent use.
type Scheduler struct {
	factory   OutputFactory
	decoder   audio.Decoder
	clock     clockwork.Clock
	lookahead time.Duration
	onError   func(error)
	metrics   *observe.Metrics

	mu       sync.Mutex
	queue    []Chunk
	draining bool      // single-flight guard for the drain pass
	out      Output    // nil until the first drain; nil again after Stop
	cursor   time.Time // nextPlayTime; zero after Stop, never decreases otherwise
	gen      uint64    // bumped by Stop so an in-flight drain discards its work
}

// New creates a Scheduler that plays through outputs opened by factory.
func New(factory OutputFactory, opts ...Option) *Scheduler {
	s := &Scheduler{
		factory:   factory,
		decoder:   audio.NewPlatformDecoder(),
		clock:     clockwork.NewRealClock(),
		lookahead: DefaultLookahead,
		metrics:   nil,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Enqueue appends chunk to the playback queue and triggers a drain pass if
// one is not already running.
func (s *Scheduler) Enqueue(chunk Chunk) {
	s.mu.Lock()
	s.queue = append(s.queue, chunk)
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	s.mu.Unlock()

	go s.drain()
}

// Stop clears the queue, resets the cursor to zero, and tears down the
// output device outright — silencing anything already scheduled. Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.queue = nil
	s.cursor = time.Time{}
	s.gen++
	out := s.out
	s.out = nil
	s.mu.Unlock()

	if out != nil {
		_ = out.Close()
	}
	if s.metrics != nil {
		s.metrics.PlaybackStops.Add(context.Background(), 1)
	}
}

// NextPlayTime returns the cursor: the monotonic time at which the next
// chunk will begin. Zero means nothing is scheduled since the last Stop.
func (s *Scheduler) NextPlayTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// drain is the single-consumer drain pass. It runs until the queue empties
// or a failure aborts playback.
func (s *Scheduler) drain() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.draining = false
			s.mu.Unlock()
			return
		}
		chunk := s.queue[0]
		s.queue = s.queue[1:]
		gen := s.gen
		s.mu.Unlock()

		samples, rate, err := s.decoder.Decode(chunk.Data, chunk.MIMEType)
		if err != nil {
			s.abort(err)
			return
		}

		out, err := s.ensureOutput(gen)
		if err != nil {
			s.abort(err)
			return
		}
		if out == nil {
			// Stopped while decoding; the queue is already gone.
			s.finishDrain()
			return
		}

		s.mu.Lock()
		if gen != s.gen {
			// Stop raced the decode: discard, never schedule stale audio.
			s.draining = false
			s.mu.Unlock()
			return
		}
		now := s.clock.Now()
		startAt := now.Add(s.lookahead)
		if s.cursor.After(startAt) {
			startAt = s.cursor
		}
		s.cursor = startAt.Add(audio.Duration(len(samples), rate))
		s.mu.Unlock()

		if err := out.Schedule(samples, rate, startAt); err != nil {
			s.abort(err)
			return
		}
		s.metrics.ChunksScheduled.Add(context.Background(), 1)
	}
}

// ensureOutput returns the open output, lazily creating one. Returns a nil
// output (and nil error) when a Stop superseded gen while the device was
// being opened.
func (s *Scheduler) ensureOutput(gen uint64) (Output, error) {
	s.mu.Lock()
	if s.out != nil {
		out := s.out
		s.mu.Unlock()
		return out, nil
	}
	s.mu.Unlock()

	out, err := s.factory()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		go out.Close()
		return nil, nil
	}
	s.out = out
	return out, nil
}

// abort performs the full stop mandated for any drain failure and surfaces
// the error.
func (s *Scheduler) abort(err error) {
	s.finishDrain()
	s.Stop()
	if s.onError != nil {
		s.onError(err)
	}
}

func (s *Scheduler) finishDrain() {
	s.mu.Lock()
	s.draining = false
	s.mu.Unlock()
}
