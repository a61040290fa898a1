// Package vad implements frame-level voice activity detection and utterance
// segmentation for the inbound μ-law stream.
//
// Detection is synchronous and allocation-light: each 20 ms frame yields a
// 0–100 activity level (with a fast path for provider idle fill), a warmup
// counter confirms speech onset, and trailing silence closes the segment.
// Thresholds are context-dependent — a higher bar applies while the agent is
// speaking, to resist caller-side echo of the agent's own voice.
//
// A Detector holds per-call state and must only be used from the call's
// event loop; it is not safe for concurrent use.
package vad

import (
	"math"

	"github.com/vocata-ai/vocata/pkg/mulaw"
)

// Config holds the segmentation thresholds. Zero values are replaced by the
// defaults from DefaultConfig.
type Config struct {
	// IdleThreshold is the 0–100 activity level above which a frame counts as
	// speech while the agent is quiet.
	IdleThreshold int

	// PlayingThreshold applies instead while outbound audio is being sent.
	PlayingThreshold int

	// WarmupFrames is the number of consecutive above-threshold frames needed
	// to confirm speech onset while the agent is quiet.
	WarmupFrames int

	// WarmupFramesPlaying applies instead while outbound audio is being sent.
	WarmupFramesPlaying int

	// SilenceMs is the trailing-silence gap that closes a segment.
	SilenceMs int

	// MinSpeechFrames, MinSpeechBytes, and MinSpeechMs are the floors below
	// which a trimmed segment is discarded as noise.
	MinSpeechFrames int
	MinSpeechBytes  int
	MinSpeechMs     int
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		IdleThreshold:       2,
		PlayingThreshold:    6,
		WarmupFrames:        2,
		WarmupFramesPlaying: 4,
		SilenceMs:           400,
		MinSpeechFrames:     10,
		MinSpeechBytes:      1600,
		MinSpeechMs:         400,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.IdleThreshold == 0 {
		c.IdleThreshold = d.IdleThreshold
	}
	if c.PlayingThreshold == 0 {
		c.PlayingThreshold = d.PlayingThreshold
	}
	if c.WarmupFrames == 0 {
		c.WarmupFrames = d.WarmupFrames
	}
	if c.WarmupFramesPlaying == 0 {
		c.WarmupFramesPlaying = d.WarmupFramesPlaying
	}
	if c.SilenceMs == 0 {
		c.SilenceMs = d.SilenceMs
	}
	if c.MinSpeechFrames == 0 {
		c.MinSpeechFrames = d.MinSpeechFrames
	}
	if c.MinSpeechBytes == 0 {
		c.MinSpeechBytes = d.MinSpeechBytes
	}
	if c.MinSpeechMs == 0 {
		c.MinSpeechMs = d.MinSpeechMs
	}
	return c
}

// Kind classifies the outcome of processing one frame.
type Kind int

const (
	// None: no state change worth acting on.
	None Kind = iota

	// SpeechStart: onset confirmed after the warmup run. The frames of the
	// warmup run are already part of the segment under assembly.
	SpeechStart

	// Segment: end-of-speech reached; Event.Audio holds the trimmed segment.
	Segment

	// Discard: end-of-speech reached but the segment was below the minimum
	// floors and was dropped as noise.
	Discard
)

// Event is the result of processing one frame.
type Event struct {
	Kind Kind

	// Audio is the trimmed μ-law segment; set only for Kind == Segment.
	Audio []byte

	// Level is the 0–100 activity level of the processed frame.
	Level int
}

// Detector segments one call's inbound audio.
type Detector struct {
	cfg Config

	speechActive bool
	warmupRun    int
	pending      [][]byte // candidate onset frames accumulated during warmup

	frames     [][]byte // segment frames since confirmed onset, verbatim
	lastVoiced int      // index into frames of the last above-threshold frame
	silenceRun int      // consecutive silent frames since lastVoiced
}

// New creates a Detector with cfg (zero fields defaulted).
func New(cfg Config) *Detector {
	return &Detector{cfg: cfg.withDefaults()}
}

// SpeechActive reports whether an utterance is currently being assembled.
func (d *Detector) SpeechActive() bool { return d.speechActive }

// Reset drops all assembly state. Segment frames are released.
func (d *Detector) Reset() {
	d.speechActive = false
	d.warmupRun = 0
	d.pending = nil
	d.frames = nil
	d.lastVoiced = 0
	d.silenceRun = 0
}

// ProcessFrame advances the detector with one 20 ms μ-law frame. playing
// selects the while-playing threshold set. The frame is copied if retained,
// so callers may reuse the backing array.
//
// Mid-speech silence frames are kept verbatim: dropping them distorts the
// timing the transcription model relies on.
func (d *Detector) ProcessFrame(frame []byte, playing bool) Event {
	level := Level(frame)

	threshold := d.cfg.IdleThreshold
	warmupNeed := d.cfg.WarmupFrames
	if playing {
		threshold = d.cfg.PlayingThreshold
		warmupNeed = d.cfg.WarmupFramesPlaying
	}
	voiced := level > threshold

	if !d.speechActive {
		if !voiced {
			d.warmupRun = 0
			d.pending = nil
			return Event{Kind: None, Level: level}
		}
		d.warmupRun++
		d.pending = append(d.pending, cloneFrame(frame))
		if d.warmupRun < warmupNeed {
			return Event{Kind: None, Level: level}
		}
		// Onset confirmed: the warmup run becomes the head of the segment.
		d.speechActive = true
		d.frames = d.pending
		d.pending = nil
		d.warmupRun = 0
		d.lastVoiced = len(d.frames) - 1
		d.silenceRun = 0
		return Event{Kind: SpeechStart, Level: level}
	}

	d.frames = append(d.frames, cloneFrame(frame))
	if voiced {
		d.lastVoiced = len(d.frames) - 1
		d.silenceRun = 0
		return Event{Kind: None, Level: level}
	}

	d.silenceRun++
	if d.silenceRun*mulaw.FrameMs < d.cfg.SilenceMs {
		return Event{Kind: None, Level: level}
	}

	// End of speech: trim to the last voiced frame inclusive.
	trimmed := d.frames[:d.lastVoiced+1]
	segment := make([]byte, 0, len(trimmed)*mulaw.FrameBytes)
	for _, f := range trimmed {
		segment = append(segment, f...)
	}
	frameCount := len(trimmed)
	d.Reset()

	if frameCount < d.cfg.MinSpeechFrames ||
		len(segment) < d.cfg.MinSpeechBytes ||
		frameCount*mulaw.FrameMs < d.cfg.MinSpeechMs {
		return Event{Kind: Discard, Level: level}
	}
	return Event{Kind: Segment, Audio: segment, Level: level}
}

// Level computes the 0–100 activity level of a μ-law frame. Provider idle
// fill short-circuits to 0 without decoding; anything else is decoded to
// linear PCM and measured as RMS normalized to the int16 range.
func Level(frame []byte) int {
	if mulaw.IsSilentFrame(frame) {
		return 0
	}
	pcm := mulaw.Decode(frame)
	if len(pcm) == 0 {
		return 0
	}
	var sum float64
	for _, s := range pcm {
		v := float64(s)
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(len(pcm)))
	level := int(rms * 100 / 32768)
	if level > 100 {
		level = 100
	}
	return level
}

func cloneFrame(frame []byte) []byte {
	c := make([]byte, len(frame))
	copy(c, frame)
	return c
}
