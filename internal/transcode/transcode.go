// Package transcode shells out to ffmpeg for the audio conversions the call
// pipeline needs: telephony μ-law up to Whisper-ready WAV, provider MP3 down
// to telephony μ-law, and arbitrary audio files to μ-law for the simulator.
//
// All conversions run through pipes. Nothing touches the filesystem, so
// concurrent sessions never contend on temp files.
package transcode

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

const (
	defaultFFmpegPath = "ffmpeg"

	// defaultFilters band-passes the telephony range before transcription.
	// Whisper copes noticeably better when line hum and hiss are cut first.
	defaultFilters = "highpass=f=120,lowpass=f=3800"

	// defaultGainDB compensates for the quiet level of μ-law phone audio.
	defaultGainDB = 6.0

	// whisperSampleRate is the input rate Whisper models expect.
	whisperSampleRate = 16000
)

// Config controls the ffmpeg invocations.
type Config struct {
	// FFmpegPath is the binary to execute. Default "ffmpeg" from PATH.
	FFmpegPath string

	// Filters is the filter chain applied before transcription. Default
	// "highpass=f=120,lowpass=f=3800". Set to "-" to disable filtering.
	Filters string

	// GainDB is the volume boost in dB applied before transcription.
	// Default 6.
	GainDB float64
}

// withDefaults fills zero fields.
func (c Config) withDefaults() Config {
	if c.FFmpegPath == "" {
		c.FFmpegPath = defaultFFmpegPath
	}
	if c.Filters == "" {
		c.Filters = defaultFilters
	}
	if c.GainDB == 0 {
		c.GainDB = defaultGainDB
	}
	return c
}

// Transcoder runs ffmpeg conversions. Safe for concurrent use; every call
// spawns its own process.
type Transcoder struct {
	cfg Config
}

// New creates a Transcoder with cfg defaults applied.
func New(cfg Config) *Transcoder {
	return &Transcoder{cfg: cfg.withDefaults()}
}

// MulawToWAV converts raw 8 kHz μ-law into a 16 kHz mono PCM WAV suitable
// for transcription, applying the configured filter chain and gain.
func (t *Transcoder) MulawToWAV(ctx context.Context, ulaw []byte) ([]byte, error) {
	if len(ulaw) == 0 {
		return nil, fmt.Errorf("transcode: empty input audio")
	}
	return t.run(ctx, ulaw, t.mulawToWAVArgs())
}

// mulawToWAVArgs builds the argument list for MulawToWAV.
func (t *Transcoder) mulawToWAVArgs() []string {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "mulaw", "-ar", "8000", "-ac", "1",
		"-i", "pipe:0",
	}
	if chain := t.filterChain(); chain != "" {
		args = append(args, "-af", chain)
	}
	args = append(args,
		"-ar", fmt.Sprintf("%d", whisperSampleRate), "-ac", "1",
		"-f", "wav", "pipe:1",
	)
	return args
}

// filterChain assembles the -af value from the configured filters and gain.
func (t *Transcoder) filterChain() string {
	var parts []string
	if t.cfg.Filters != "-" {
		parts = append(parts, t.cfg.Filters)
	}
	if t.cfg.GainDB != 0 {
		parts = append(parts, fmt.Sprintf("volume=%gdB", t.cfg.GainDB))
	}
	return strings.Join(parts, ",")
}

// MP3ToMulaw converts an MP3 buffer into raw 8 kHz mono μ-law ready to frame
// onto a call.
func (t *Transcoder) MP3ToMulaw(ctx context.Context, mp3 []byte) ([]byte, error) {
	if len(mp3) == 0 {
		return nil, fmt.Errorf("transcode: empty input audio")
	}
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "mp3", "-i", "pipe:0",
		"-ar", "8000", "-ac", "1",
		"-f", "mulaw", "pipe:1",
	}
	return t.run(ctx, mp3, args)
}

// FileToMulaw converts any audio file ffmpeg can read into raw 8 kHz mono
// μ-law. Used by the call simulator to play recordings at a session.
func (t *Transcoder) FileToMulaw(ctx context.Context, path string) ([]byte, error) {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-i", path,
		"-ar", "8000", "-ac", "1",
		"-f", "mulaw", "pipe:1",
	}
	return t.run(ctx, nil, args)
}

// run executes ffmpeg with stdin fed from input and returns stdout.
func (t *Transcoder) run(ctx context.Context, input []byte, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, t.cfg.FFmpegPath, args...)

	if input != nil {
		cmd.Stdin = bytes.NewReader(input)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, fmt.Errorf("transcode: ffmpeg: %w: %s", err, msg)
		}
		return nil, fmt.Errorf("transcode: ffmpeg: %w", err)
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("transcode: ffmpeg produced no output")
	}
	return stdout.Bytes(), nil
}
