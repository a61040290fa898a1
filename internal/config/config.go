// Package config provides the configuration schema and loader for the
// Vocata voice agent. Settings come from an optional YAML file with
// environment variable overrides on top, so deployments can tune the audio
// pipeline without shipping a new file.
package config

import (
	"time"

	"github.com/vocata-ai/vocata/internal/vad"
	"github.com/vocata-ai/vocata/pkg/provider/tts"
)

// LogLevel controls log verbosity for the server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load], then overridden from the environment.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Audio     AudioConfig     `yaml:"audio"`
	Dialog    DialogConfig    `yaml:"dialog"`
	Storage   StorageConfig   `yaml:"storage"`
	Telephony TelephonyConfig `yaml:"telephony"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	// The PORT environment variable overrides the port part.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// ProvidersConfig declares the provider implementation for each pipeline
// stage.
type ProvidersConfig struct {
	// STT transcribes caller speech. Supported names: "whisper", "mock".
	STT ProviderEntry `yaml:"stt"`

	// Chat generates agent replies. Supported names: "openai", "anthropic",
	// "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp",
	// "llamafile", "mock".
	Chat ProviderEntry `yaml:"chat"`

	// Classifier routes caller turns to intents. Defaults to the Chat
	// provider with the classifier model when left empty.
	Classifier ProviderEntry `yaml:"classifier"`

	// TTS renders agent replies to audio. Supported names: "openai",
	// "google", "mock".
	TTS TTSEntry `yaml:"tts"`
}

// ProviderEntry is the common configuration block shared by all provider
// types.
type ProviderEntry struct {
	// Name selects the provider implementation.
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o-mini",
	// "whisper-1").
	Model string `yaml:"model"`
}

// TTSEntry extends ProviderEntry with the default voice.
type TTSEntry struct {
	ProviderEntry `yaml:",inline"`

	// Voice is the provider-specific default voice id (e.g., "nova",
	// "en-US-Neural2-F"). Per-call voices from the registry override it.
	Voice string `yaml:"voice"`

	// Speed is the default speaking rate multiplier. 0 means 1.0.
	Speed float64 `yaml:"speed"`
}

// DefaultVoice builds the session default voice binding.
func (t TTSEntry) DefaultVoice() tts.Voice {
	return tts.Voice{Engine: t.Name, ID: t.Voice, Speed: t.Speed}
}

// AudioConfig tunes voice activity detection, segmentation, and the
// transcription pre-processing chain. Zero values take the engine defaults.
type AudioConfig struct {
	VADThreshold             int `yaml:"vad_threshold"`
	VADThresholdWhilePlaying int `yaml:"vad_threshold_while_playing"`

	SpeechWarmupFrames             int `yaml:"speech_warmup_frames"`
	SpeechWarmupFramesWhilePlaying int `yaml:"speech_warmup_frames_while_playing"`

	SilenceMs int `yaml:"silence_ms"`

	MinSpeechFrames int `yaml:"min_speech_frames"`
	MinSpeechBytes  int `yaml:"min_speech_bytes"`
	MinSpeechMs     int `yaml:"min_speech_ms"`

	MergeWindowMs             int `yaml:"merge_window_ms"`
	MergeWindowWhilePlayingMs int `yaml:"merge_window_while_playing_ms"`

	// WhisperGainDB boosts the caller audio before transcription.
	WhisperGainDB float64 `yaml:"whisper_gain_db"`

	// WhisperAudioFilters is the ffmpeg filter chain applied before
	// transcription. "-" disables filtering.
	WhisperAudioFilters string `yaml:"whisper_audio_filters"`

	// FFmpegPath overrides the ffmpeg binary. Default "ffmpeg" from PATH.
	FFmpegPath string `yaml:"ffmpeg_path"`
}

// VAD converts the audio settings to detector thresholds.
func (a AudioConfig) VAD() vad.Config {
	return vad.Config{
		IdleThreshold:       a.VADThreshold,
		PlayingThreshold:    a.VADThresholdWhilePlaying,
		WarmupFrames:        a.SpeechWarmupFrames,
		WarmupFramesPlaying: a.SpeechWarmupFramesWhilePlaying,
		SilenceMs:           a.SilenceMs,
		MinSpeechFrames:     a.MinSpeechFrames,
		MinSpeechBytes:      a.MinSpeechBytes,
		MinSpeechMs:         a.MinSpeechMs,
	}
}

// MergeWindow returns the idle merge window as a duration, 0 when unset.
func (a AudioConfig) MergeWindow() time.Duration {
	return time.Duration(a.MergeWindowMs) * time.Millisecond
}

// MergeWindowWhilePlaying returns the while-playing merge window, 0 when
// unset.
func (a AudioConfig) MergeWindowWhilePlaying() time.Duration {
	return time.Duration(a.MergeWindowWhilePlayingMs) * time.Millisecond
}

// DialogConfig tunes the conversational surface.
type DialogConfig struct {
	// GreetingText is spoken uninterruptibly when a call connects.
	GreetingText string `yaml:"greeting_text"`

	// FillerText is the pre-rendered phrase played while a reply is being
	// generated.
	FillerText string `yaml:"filler_text"`

	// FillerTag and FillerVersion select the cached filler artifact. Bump the
	// version when FillerText changes so stale cache objects are bypassed.
	FillerTag     string `yaml:"filler_tag"`
	FillerVersion string `yaml:"filler_version"`

	// SystemPrompt is the persona injected into the chat model.
	SystemPrompt string `yaml:"system_prompt"`

	// MaxResponseChars truncates generated replies. 0 means the engine
	// default.
	MaxResponseChars int `yaml:"max_response_chars"`

	// Language is the STT language hint (e.g., "en"). Empty autodetects.
	Language string `yaml:"language"`
}

// StorageConfig holds the call registry database and the TTS artifact
// bucket.
type StorageConfig struct {
	// PostgresDSN is the call registry connection string. Empty runs the
	// in-memory registry; calls then survive only as long as the process.
	PostgresDSN string `yaml:"postgres_dsn"`

	// Bucket is the S3 bucket for pre-rendered TTS artifacts. Empty keeps
	// artifacts in process memory only.
	Bucket string `yaml:"bucket"`

	// Region is the bucket's region.
	Region string `yaml:"region"`

	// Endpoint overrides the S3 endpoint, for MinIO and compatible stores.
	Endpoint string `yaml:"endpoint"`
}

// TelephonyConfig configures live-call transfers through the telephony
// provider's REST API. Empty credentials disable transfers.
type TelephonyConfig struct {
	AccountSid string `yaml:"account_sid"`
	AuthToken  string `yaml:"auth_token"`

	// BaseURL overrides the provider API endpoint, mainly for tests.
	BaseURL string `yaml:"base_url"`
}
