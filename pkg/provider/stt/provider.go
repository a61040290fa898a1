// Package stt defines the Provider interface for Speech-to-Text backends.
//
// The dialog engine transcribes one utterance at a time: a complete WAV
// buffer in, text out. Batch transcription fits the turn model better than a
// streaming session — the segmenter has already decided where the utterance
// ends before STT is involved.
//
// Implementations must be safe for concurrent use; multiple calls may be in
// flight across sessions.
package stt

import "context"

// Result is a completed transcription.
type Result struct {
	// Text is the transcribed utterance. Empty means the provider heard
	// nothing intelligible; the caller decides how to react.
	Text string

	// Language is the detected (or hinted) BCP-47 language code.
	Language string

	// DurationSec is the audio duration as reported by the provider, when the
	// verbose response carries it.
	DurationSec float64
}

// Provider is the abstraction over any batch STT backend.
type Provider interface {
	// Transcribe submits a complete WAV buffer for transcription. language is
	// a BCP-47 hint; empty lets the provider auto-detect. Implementations
	// request deterministic decoding (temperature 0) where the backend
	// supports it.
	Transcribe(ctx context.Context, wav []byte, language string) (Result, error)
}
