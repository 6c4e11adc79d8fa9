// Package scenegate implements the periodic camera-frame sampler that
// suppresses visually redundant frames before they enter the channel.
//
// Each tick the current frame is downsampled to a fixed 32×18 luma grid.
// The frame is emitted (JPEG-encoded at full resolution) only when there is
// no retained signature yet, or when the mean absolute per-cell difference
// against the signature of the last *emitted* frame reaches the threshold.
// A suppressed frame never updates the retained signature, so gradual drift
// accumulates until it crosses the threshold — bandwidth stays bounded
// without permanently desensitising the gate.
package scenegate

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Veri5ied/sightline/internal/observe"
)

// Signature grid dimensions.
const (
	GridWidth  = 32
	GridHeight = 18
)

// Defaults applied when the corresponding option is not given.
const (
	DefaultInterval  = time.Second
	DefaultThreshold = 12.0
	defaultQuality   = 80
)

// Signature is the downsampled luma vector of one frame, row-major,
// GridWidth×GridHeight cells in the 0–255 range.
type Signature [GridWidth * GridHeight]float64

// MeanAbsDiff returns the mean absolute per-cell difference between two
// signatures.
func (s Signature) MeanAbsDiff(other Signature) float64 {
	var sum float64
	for i := range s {
		d := s[i] - other[i]
		if d < 0 {
			d = -d
		}
		sum += d
	}
	return sum / float64(len(s))
}

// FrameSource supplies the current camera frame on demand.
type FrameSource interface {
	// Frame returns the most recent captured frame. An error means no frame
	// is currently available; the gate skips the tick.
	Frame(ctx context.Context) (image.Image, error)
}

// EmitFunc receives the JPEG encoding of each frame that passes the gate.
type EmitFunc func(jpegData []byte)

// Option configures a [Gate] during construction.
type Option func(*Gate)

// WithInterval sets the fixed sampling interval. Default 1s.
func WithInterval(d time.Duration) Option {
	return func(g *Gate) {
		if d > 0 {
			g.interval = d
		}
	}
}

// WithThreshold sets the mean absolute luma difference at or above which a
// frame is emitted. Default 12.
func WithThreshold(t float64) Option {
	return func(g *Gate) {
		if t >= 0 {
			g.threshold = t
		}
	}
}

// WithClock injects the clock driving the sampling ticker.
func WithClock(c clockwork.Clock) Option {
	return func(g *Gate) { g.clock = c }
}

// WithMetrics overrides the metrics instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Gate) { g.metrics = m }
}

// Gate samples a [FrameSource] on a fixed interval and forwards only frames
// that changed enough since the last emitted one. Safe for concurrent use.
type Gate struct {
	src       FrameSource
	emit      EmitFunc
	interval  time.Duration
	threshold float64
	clock     clockwork.Clock
	metrics   *observe.Metrics

	mu       sync.Mutex
	retained *Signature // signature of the last emitted frame, nil before the first emit
	stop     chan struct{}
}

// New creates a Gate that reads frames from src and hands passing frames to
// emit.
func New(src FrameSource, emit EmitFunc, opts ...Option) *Gate {
	g := &Gate{
		src:       src,
		emit:      emit,
		interval:  DefaultInterval,
		threshold: DefaultThreshold,
		clock:     clockwork.NewRealClock(),
	}
	for _, o := range opts {
		o(g)
	}
	if g.metrics == nil {
		g.metrics = observe.DefaultMetrics()
	}
	return g
}

// Start begins the sampling ticker. It is a no-op when already running.
func (g *Gate) Start(ctx context.Context) {
	g.mu.Lock()
	if g.stop != nil {
		g.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	g.stop = stop
	g.mu.Unlock()

	go g.run(ctx, stop)
}

// Stop clears the sampling ticker. The retained signature survives a
// stop/start cycle. Idempotent.
func (g *Gate) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stop != nil {
		close(g.stop)
		g.stop = nil
	}
}

func (g *Gate) run(ctx context.Context, stop chan struct{}) {
	ticker := g.clock.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.Chan():
			if err := g.Sample(ctx); err != nil {
				slog.Debug("scenegate: sample skipped", "err", err)
			}
		}
	}
}

// Sample performs one gate evaluation: grab a frame, compare its signature
// against the retained one, and emit if changed enough. Exposed for direct
// use by manual frame-analysis paths.
func (g *Gate) Sample(ctx context.Context) error {
	img, err := g.src.Frame(ctx)
	if err != nil {
		return err
	}
	if img == nil {
		return fmt.Errorf("scenegate: nil frame")
	}

	sig := Compute(img)

	g.mu.Lock()
	changed := g.retained == nil || sig.MeanAbsDiff(*g.retained) >= g.threshold
	g.mu.Unlock()

	if !changed {
		g.metrics.FramesSuppressed.Add(ctx, 1)
		return nil
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: defaultQuality}); err != nil {
		return fmt.Errorf("scenegate: jpeg encode: %w", err)
	}

	// Retain the signature only for frames that were actually emitted.
	g.mu.Lock()
	g.retained = &sig
	g.mu.Unlock()

	g.metrics.FramesEmitted.Add(ctx, 1)
	g.emit(buf.Bytes())
	return nil
}

// Compute downsamples img to the signature grid, averaging the weighted
// RGB→luma value (0.299 R + 0.587 G + 0.114 B) over each cell's pixels.
func Compute(img image.Image) Signature {
	var sig Signature
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return sig
	}

	for cy := 0; cy < GridHeight; cy++ {
		y0 := b.Min.Y + cy*h/GridHeight
		y1 := b.Min.Y + (cy+1)*h/GridHeight
		if y1 == y0 {
			y1 = y0 + 1
		}
		for cx := 0; cx < GridWidth; cx++ {
			x0 := b.Min.X + cx*w/GridWidth
			x1 := b.Min.X + (cx+1)*w/GridWidth
			if x1 == x0 {
				x1 = x0 + 1
			}

			var sum float64
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					r, g, bl, _ := img.At(x, y).RGBA()
					// RGBA returns 16-bit components; scale to 8-bit.
					sum += 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(bl>>8)
				}
			}
			sig[cy*GridWidth+cx] = sum / float64((y1-y0)*(x1-x0))
		}
	}
	return sig
}
