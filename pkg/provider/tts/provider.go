// Package tts defines the Provider interface for Text-to-Speech backends.
//
// Providers return complete MP3 buffers; the transcoding layer converts them
// to telephony μ-law before anything reaches a call. Batch synthesis keeps the
// cache layer simple: a (text, voice) pair maps to exactly one byte slice.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"fmt"
)

// Voice identifies a synthesis voice across engines.
type Voice struct {
	// Engine names the backing provider, e.g. "openai" or "google".
	Engine string

	// ID is the engine-specific voice name, e.g. "nova" or "en-US-Neural2-F".
	ID string

	// Speed is the speaking-rate multiplier. Zero means 1.0.
	Speed float64
}

// Rate returns the effective speaking rate, defaulting to 1.0.
func (v Voice) Rate() float64 {
	if v.Speed == 0 {
		return 1.0
	}
	return v.Speed
}

// String renders the voice for cache keys and logs, e.g. "openai-nova-1.1".
func (v Voice) String() string {
	return fmt.Sprintf("%s-%s-%g", v.Engine, v.ID, v.Rate())
}

// Provider is the abstraction over any batch TTS backend.
type Provider interface {
	// Synthesize renders text with the given voice and returns encoded MP3
	// bytes. Implementations may ignore voice.Engine; the caller routes to
	// the right provider before the call.
	Synthesize(ctx context.Context, text string, voice Voice) ([]byte, error)
}
