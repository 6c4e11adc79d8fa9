package audio

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/go-audio/wav"
	"layeh.com/gopus"
)

// Opus packets carry 48 kHz mono audio; 120 ms is the largest legal frame.
const (
	opusSampleRate   = 48000
	opusChannels     = 1
	opusMaxFrameSize = opusSampleRate * 120 / 1000
)

// Decoder turns one encoded audio chunk into normalised mono float samples.
//
// Implementations must be safe for concurrent use.
type Decoder interface {
	// Decode decodes data according to its MIME format tag and returns the
	// samples together with their sample rate.
	Decode(data []byte, mimeType string) (samples []float32, sampleRate int, err error)
}

// PlatformDecoder is the default [Decoder]: PCM16 chunks are decoded
// natively at the rate encoded in the format tag, WAV containers go through
// go-audio/wav, and Opus packets through gopus. Anything else is a decode
// error.
type PlatformDecoder struct {
	mu   sync.Mutex
	opus *gopus.Decoder // lazily created; stateful across packets
}

// NewPlatformDecoder creates a PlatformDecoder.
func NewPlatformDecoder() *PlatformDecoder {
	return &PlatformDecoder{}
}

// Decode implements [Decoder].
func (d *PlatformDecoder) Decode(data []byte, mimeType string) ([]float32, int, error) {
	f := ParseFormat(mimeType)

	switch {
	case f.IsPCM():
		samples, err := DecodePCM16(data)
		if err != nil {
			return nil, 0, err
		}
		return samples, f.SampleRate, nil

	case f.MIMEType == "audio/wav" || f.MIMEType == "audio/x-wav" || f.MIMEType == "audio/wave":
		return decodeWAV(data)

	case f.MIMEType == "audio/opus":
		return d.decodeOpus(data)

	default:
		return nil, 0, fmt.Errorf("audio: unsupported format %q", f.MIMEType)
	}
}

// decodeWAV decodes a complete WAV container into mono samples, averaging
// channels when the source is multi-channel.
func decodeWAV(data []byte) ([]float32, int, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("audio: wav decode: %w", err)
	}
	if buf == nil || buf.Format == nil || len(buf.Data) == 0 {
		return nil, 0, fmt.Errorf("audio: wav decode: empty buffer")
	}

	channels := buf.Format.NumChannels
	if channels < 1 {
		channels = 1
	}
	bitDepth := int(dec.BitDepth)
	if bitDepth == 0 {
		bitDepth = 16
	}
	scale := float32(int64(1) << (bitDepth - 1))

	frames := len(buf.Data) / channels
	samples := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += float32(buf.Data[i*channels+c]) / scale
		}
		samples[i] = sum / float32(channels)
	}
	return samples, buf.Format.SampleRate, nil
}

// decodeOpus decodes one Opus packet. The decoder is stateful and must see
// packets in order, hence the single shared instance under a mutex.
func (d *PlatformDecoder) decodeOpus(data []byte) ([]float32, int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.opus == nil {
		dec, err := gopus.NewDecoder(opusSampleRate, opusChannels)
		if err != nil {
			return nil, 0, fmt.Errorf("audio: create opus decoder: %w", err)
		}
		d.opus = dec
	}

	pcm, err := d.opus.Decode(data, opusMaxFrameSize, false)
	if err != nil {
		return nil, 0, fmt.Errorf("audio: opus decode: %w", err)
	}

	samples := make([]float32, len(pcm))
	for i, s := range pcm {
		samples[i] = float32(s) / 32768
	}
	return samples, opusSampleRate, nil
}
