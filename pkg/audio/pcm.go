// Package audio provides decoding helpers for the Sightline playback
// pipeline: little-endian PCM16 decoding, MIME format-tag parsing, and a
// platform decoder that delegates container formats to well-known codecs.
package audio

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultPCMRate is the sample rate assumed for PCM chunks whose format tag
// carries no rate parameter.
const DefaultPCMRate = 24000

// Format is the decoded form of a chunk's MIME format tag.
type Format struct {
	// MIMEType is the bare media type with parameters stripped, lowercased
	// (e.g. "audio/pcm").
	MIMEType string

	// SampleRate is the rate parameter of the tag, or [DefaultPCMRate] when
	// absent.
	SampleRate int
}

// IsPCM reports whether the format tags raw linear PCM16 data.
func (f Format) IsPCM() bool {
	return f.MIMEType == "audio/pcm" || strings.HasPrefix(f.MIMEType, "audio/l16")
}

// ParseFormat parses a MIME format tag such as "audio/pcm;rate=16000".
// Unknown parameters are ignored; a missing or malformed rate falls back to
// [DefaultPCMRate].
func ParseFormat(mimeType string) Format {
	parts := strings.Split(mimeType, ";")
	f := Format{
		MIMEType:   strings.ToLower(strings.TrimSpace(parts[0])),
		SampleRate: DefaultPCMRate,
	}
	for _, p := range parts[1:] {
		key, value, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok || !strings.EqualFold(key, "rate") {
			continue
		}
		if rate, err := strconv.Atoi(value); err == nil && rate > 0 {
			f.SampleRate = rate
		}
	}
	return f
}

// DecodePCM16 converts little-endian 16-bit PCM bytes into normalised
// float32 samples in [-1, 1). An odd byte count is a malformed chunk.
func DecodePCM16(data []byte) ([]float32, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("audio: odd byte count %d in PCM16 data", len(data))
	}
	samples := make([]float32, len(data)/2)
	for i := range samples {
		s := int16(binary.LittleEndian.Uint16(data[i*2:]))
		samples[i] = float32(s) / 32768
	}
	return samples, nil
}

// Duration returns the playback duration of n mono samples at the given rate.
func Duration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(sampleRate)
}
