package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind. Used by
// [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":  {"whisper", "mock"},
	"chat": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile", "mock"},
	"tts":  {"openai", "google", "mock"},
}

// Load reads the YAML configuration file at path, applies environment
// overrides, and returns a validated [Config]. A missing file is not an
// error; the configuration then comes from defaults and the environment
// alone.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Info("no config file, using defaults and environment", "path", path)
		cfg := &Config{}
		ApplyEnv(cfg)
		if err := Validate(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment
// overrides, and validates the result. Useful in tests where configs are
// constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg fields from the environment. Unset variables leave
// the file values untouched; malformed numeric values are logged and
// skipped.
func ApplyEnv(cfg *Config) {
	envInt("VAD_THRESHOLD", &cfg.Audio.VADThreshold)
	envInt("VAD_THRESHOLD_WHILE_PLAYING", &cfg.Audio.VADThresholdWhilePlaying)
	envInt("SPEECH_WARMUP_FRAMES", &cfg.Audio.SpeechWarmupFrames)
	envInt("SPEECH_WARMUP_FRAMES_WHILE_PLAYING", &cfg.Audio.SpeechWarmupFramesWhilePlaying)
	envInt("SILENCE_MS", &cfg.Audio.SilenceMs)
	envInt("MIN_SPEECH_FRAMES", &cfg.Audio.MinSpeechFrames)
	envInt("MIN_SPEECH_BYTES", &cfg.Audio.MinSpeechBytes)
	envInt("MIN_SPEECH_MS", &cfg.Audio.MinSpeechMs)
	envInt("MERGE_WINDOW_MS", &cfg.Audio.MergeWindowMs)
	envInt("MERGE_WINDOW_MS_WHILE_PLAYING", &cfg.Audio.MergeWindowWhilePlayingMs)
	envFloat("WHISPER_GAIN_DB", &cfg.Audio.WhisperGainDB)
	envStr("WHISPER_AUDIO_FILTERS", &cfg.Audio.WhisperAudioFilters)

	envInt("MAX_RESPONSE_CHARS", &cfg.Dialog.MaxResponseChars)
	envStr("FILLER_VERSION", &cfg.Dialog.FillerVersion)

	envStr("CHAT_MODEL", &cfg.Providers.Chat.Model)
	envStr("CLASSIFIER_MODEL", &cfg.Providers.Classifier.Model)
	envStr("OPENAI_API_KEY", &cfg.Providers.Chat.APIKey)
	envStr("GOOGLE_TTS_API_KEY", &cfg.Providers.TTS.APIKey)

	envStr("DATABASE_URL", &cfg.Storage.PostgresDSN)
	envStr("TTS_BUCKET", &cfg.Storage.Bucket)
	envStr("AWS_REGION", &cfg.Storage.Region)
	envStr("S3_ENDPOINT", &cfg.Storage.Endpoint)

	envStr("TWILIO_ACCOUNT_SID", &cfg.Telephony.AccountSid)
	envStr("TWILIO_AUTH_TOKEN", &cfg.Telephony.AuthToken)

	if port, ok := os.LookupEnv("PORT"); ok && port != "" {
		cfg.Server.ListenAddr = ":" + port
	}
}

func envStr(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("ignoring malformed environment override", "key", key, "value", v)
		return
	}
	*dst = n
}

func envFloat(key string, dst *float64) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("ignoring malformed environment override", "key", key, "value", v)
		return
	}
	*dst = f
}

// Validate checks that cfg contains a coherent set of values. Missing
// provider credentials are warnings, not errors: the server still comes up
// and serves /health so orchestration can see it, even when calls cannot be
// handled yet.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("chat", cfg.Providers.Chat.Name)
	validateProviderName("chat", cfg.Providers.Classifier.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)

	if cfg.Providers.Chat.Name != "" && cfg.Providers.Chat.Name != "mock" && cfg.Providers.Chat.APIKey == "" {
		slog.Warn("providers.chat has no api key; calls will fall back to canned replies",
			"provider", cfg.Providers.Chat.Name)
	}
	if cfg.Providers.TTS.Name != "" && cfg.Providers.TTS.Name != "mock" && cfg.Providers.TTS.APIKey == "" {
		slog.Warn("providers.tts has no api key; speech synthesis will fail",
			"provider", cfg.Providers.TTS.Name)
	}
	if cfg.Storage.PostgresDSN == "" {
		slog.Warn("storage.postgres_dsn is empty; call records will not survive restarts")
	}
	if cfg.Storage.Bucket == "" {
		slog.Warn("storage.bucket is empty; tts artifacts are re-rendered on every restart")
	}

	a := cfg.Audio
	for _, f := range []struct {
		name  string
		value int
	}{
		{"audio.vad_threshold", a.VADThreshold},
		{"audio.vad_threshold_while_playing", a.VADThresholdWhilePlaying},
		{"audio.speech_warmup_frames", a.SpeechWarmupFrames},
		{"audio.speech_warmup_frames_while_playing", a.SpeechWarmupFramesWhilePlaying},
		{"audio.silence_ms", a.SilenceMs},
		{"audio.min_speech_frames", a.MinSpeechFrames},
		{"audio.min_speech_bytes", a.MinSpeechBytes},
		{"audio.min_speech_ms", a.MinSpeechMs},
		{"audio.merge_window_ms", a.MergeWindowMs},
		{"audio.merge_window_while_playing_ms", a.MergeWindowWhilePlayingMs},
	} {
		if f.value < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %d", f.name, f.value))
		}
	}
	if a.VADThreshold > 100 || a.VADThresholdWhilePlaying > 100 {
		errs = append(errs, errors.New("audio vad thresholds are 0-100 activity levels"))
	}

	if s := cfg.Providers.TTS.Speed; s != 0 && (s < 0.5 || s > 2.0) {
		errs = append(errs, fmt.Errorf("providers.tts.speed %.2f is out of range [0.5, 2.0]", s))
	}
	if cfg.Dialog.MaxResponseChars < 0 {
		errs = append(errs, fmt.Errorf("dialog.max_response_chars must not be negative, got %d", cfg.Dialog.MaxResponseChars))
	}

	if (cfg.Telephony.AccountSid == "") != (cfg.Telephony.AuthToken == "") {
		errs = append(errs, errors.New("telephony.account_sid and telephony.auth_token must be set together"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
