// Command vocata is the voice agent server: it terminates telephony media
// streams over WebSocket, runs the STT → LLM → TTS turn pipeline, and exposes
// the operator control API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/vocata-ai/vocata/internal/config"
	"github.com/vocata-ai/vocata/internal/health"
	"github.com/vocata-ai/vocata/internal/observe"
	"github.com/vocata-ai/vocata/internal/registry"
	"github.com/vocata-ai/vocata/internal/server"
	"github.com/vocata-ai/vocata/internal/session"
	"github.com/vocata-ai/vocata/internal/telephony"
	"github.com/vocata-ai/vocata/internal/transcode"
	"github.com/vocata-ai/vocata/internal/ttscache"
	"github.com/vocata-ai/vocata/pkg/provider/llm"
	"github.com/vocata-ai/vocata/pkg/provider/llm/anyllm"
	llmmock "github.com/vocata-ai/vocata/pkg/provider/llm/mock"
	oaillm "github.com/vocata-ai/vocata/pkg/provider/llm/openai"
	"github.com/vocata-ai/vocata/pkg/provider/stt"
	sttmock "github.com/vocata-ai/vocata/pkg/provider/stt/mock"
	"github.com/vocata-ai/vocata/pkg/provider/stt/whisper"
	"github.com/vocata-ai/vocata/pkg/provider/tts"
	"github.com/vocata-ai/vocata/pkg/provider/tts/googletts"
	ttsmock "github.com/vocata-ai/vocata/pkg/provider/tts/mock"
	"github.com/vocata-ai/vocata/pkg/provider/tts/openaitts"
)

const version = "0.3.0"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vocata: %v\n", err)
		return 1
	}
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("vocata starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "vocata",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Call registry ─────────────────────────────────────────────────────────
	var reg registry.Registry
	if dsn := cfg.Storage.PostgresDSN; dsn != "" {
		pg, err := registry.NewPostgresStore(ctx, dsn)
		if err != nil {
			slog.Error("failed to connect to the call registry", "err", err)
			return 1
		}
		defer pg.Close()
		reg = pg
		slog.Info("call registry connected", "backend", "postgres")
	} else {
		reg = registry.NewMemoryStore()
		slog.Info("call registry running in memory")
	}

	// ── Audio pipeline ────────────────────────────────────────────────────────
	transcoder := transcode.New(transcode.Config{
		FFmpegPath: cfg.Audio.FFmpegPath,
		Filters:    cfg.Audio.WhisperAudioFilters,
		GainDB:     cfg.Audio.WhisperGainDB,
	})

	synth, err := buildSynthesizer(cfg, transcoder)
	if err != nil {
		slog.Error("failed to build tts provider", "err", err)
		return 1
	}

	var objects ttscache.ObjectStore
	if cfg.Storage.Bucket != "" {
		s3store, err := ttscache.NewS3Store(ctx, cfg.Storage.Bucket, cfg.Storage.Region, cfg.Storage.Endpoint)
		if err != nil {
			slog.Error("failed to open the tts artifact bucket", "err", err)
			return 1
		}
		objects = s3store
		slog.Info("tts artifacts stored in s3", "bucket", cfg.Storage.Bucket)
	} else {
		objects = ttscache.NewMemoryStore()
	}
	cache, err := ttscache.New(objects, synth, logger, ttscache.WithMetrics(metrics))
	if err != nil {
		slog.Error("failed to build the tts cache", "err", err)
		return 1
	}

	// ── Conversation providers ────────────────────────────────────────────────
	sttProvider, err := buildSTT(cfg)
	if err != nil {
		slog.Error("failed to build stt provider", "err", err)
		return 1
	}
	chat, err := buildLLM(cfg.Providers.Chat)
	if err != nil {
		slog.Error("failed to build chat provider", "err", err)
		return 1
	}
	classifierEntry := cfg.Providers.Classifier
	if classifierEntry.Name == "" {
		classifierEntry = cfg.Providers.Chat
		if m := cfg.Providers.Classifier.Model; m != "" {
			classifierEntry.Model = m
		}
	}
	classifier, err := buildLLM(classifierEntry)
	if err != nil {
		slog.Error("failed to build classifier provider", "err", err)
		return 1
	}

	// ── Telephony ─────────────────────────────────────────────────────────────
	var redirector telephony.Redirector = &telephony.Noop{Logger: logger}
	if cfg.Telephony.AccountSid != "" {
		var opts []telephony.Option
		if cfg.Telephony.BaseURL != "" {
			opts = append(opts, telephony.WithBaseURL(cfg.Telephony.BaseURL))
		}
		tw, err := telephony.NewTwilio(cfg.Telephony.AccountSid, cfg.Telephony.AuthToken, opts...)
		if err != nil {
			slog.Error("failed to build telephony client", "err", err)
			return 1
		}
		redirector = tw
		slog.Info("call transfers enabled")
	} else {
		slog.Warn("telephony credentials not configured; /transfer will log only")
	}

	// ── Prime the greeting and filler artifacts ───────────────────────────────
	defaultVoice := cfg.Providers.TTS.DefaultVoice()
	sessionCfg := buildSessionConfig(cfg, defaultVoice).WithDefaults()
	primeCtx, cancelPrime := context.WithTimeout(ctx, 30*time.Second)
	err = cache.Prime(primeCtx, []ttscache.PrimeItem{
		{
			Entry: ttscache.Entry{Role: ttscache.RoleGreeting, Voice: defaultVoice},
			Text:  sessionCfg.GreetingText,
		},
		{
			Entry: ttscache.Entry{
				Role:    ttscache.RoleFiller,
				Tag:     sessionCfg.FillerTag,
				Version: sessionCfg.FillerVersion,
				Voice:   defaultVoice,
			},
			Text: sessionCfg.FillerText,
		},
	})
	cancelPrime()
	if err != nil {
		// Calls still work: artifacts are synthesized on first use instead.
		slog.Warn("artifact priming incomplete", "err", err)
	} else {
		slog.Info("greeting and filler artifacts primed", "voice", defaultVoice.String())
	}

	// ── HTTP/WebSocket server ─────────────────────────────────────────────────
	manager := session.NewManager()
	factory := func(callID string, w session.FrameWriter) *session.Session {
		return session.New(session.Deps{
			CallID:     callID,
			Writer:     w,
			Cache:      cache,
			Registry:   reg,
			STT:        sttProvider,
			Chat:       chat,
			Classifier: classifier,
			ToWAV:      transcoder.MulawToWAV,
			Synthesize: synth,
			Metrics:    metrics,
			Logger:     logger,
			Config:     sessionCfg,
			OnBound:    func(s *session.Session) { manager.Bind(s) },
		})
	}

	srv := server.New(server.Deps{
		Manager:    manager,
		NewSession: factory,
		Redirector: redirector,
		Health: health.New(health.Checker{
			Name:  "registry",
			Check: reg.Ping,
		}),
		Metrics: metrics,
		Logger:  logger,
	})

	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("server ready", "listen_addr", cfg.Server.ListenAddr)
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		slog.Error("server error", "err", err)
		return 1
	case <-ctx.Done():
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// buildSTT creates the transcription provider named in cfg.
func buildSTT(cfg *config.Config) (stt.Provider, error) {
	entry := cfg.Providers.STT
	switch entry.Name {
	case "", "whisper":
		apiKey := entry.APIKey
		if apiKey == "" {
			apiKey = cfg.Providers.Chat.APIKey
		}
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, whisper.WithBaseURL(entry.BaseURL))
		}
		return whisper.New(apiKey, opts...)
	case "mock":
		return &sttmock.Provider{}, nil
	default:
		return nil, fmt.Errorf("unknown stt provider %q", entry.Name)
	}
}

// buildLLM creates a chat provider. "openai" speaks the OpenAI SDK directly;
// every other name goes through the any-llm backends.
func buildLLM(entry config.ProviderEntry) (llm.Provider, error) {
	switch entry.Name {
	case "", "openai":
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	case "mock":
		return &llmmock.Provider{Replies: []string{"I am a placeholder reply."}}, nil
	default:
		var opts []anyllmlib.Option
		if entry.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
		}
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New(entry.Name, entry.Model, opts...)
	}
}

// buildSynthesizer creates the TTS provider and wraps it with the MP3 to
// μ-law transcode, yielding wire-ready audio for any voice.
func buildSynthesizer(cfg *config.Config, tc *transcode.Transcoder) (ttscache.SynthesizeFunc, error) {
	entry := cfg.Providers.TTS
	var provider tts.Provider
	switch entry.Name {
	case "", "openai":
		var opts []openaitts.Option
		if entry.Model != "" {
			opts = append(opts, openaitts.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, openaitts.WithBaseURL(entry.BaseURL))
		}
		p, err := openaitts.New(entry.APIKey, opts...)
		if err != nil {
			return nil, err
		}
		provider = p
	case "google":
		var opts []googletts.Option
		if entry.BaseURL != "" {
			opts = append(opts, googletts.WithBaseURL(entry.BaseURL))
		}
		p, err := googletts.New(entry.APIKey, opts...)
		if err != nil {
			return nil, err
		}
		provider = p
	case "mock":
		// Mock output is not MP3; skip the transcode so dev setups work
		// without ffmpeg.
		m := &ttsmock.Provider{}
		return func(ctx context.Context, text string, voice tts.Voice) ([]byte, error) {
			return m.Synthesize(ctx, text, voice)
		}, nil
	default:
		return nil, fmt.Errorf("unknown tts provider %q", entry.Name)
	}

	return func(ctx context.Context, text string, voice tts.Voice) ([]byte, error) {
		mp3, err := provider.Synthesize(ctx, text, voice)
		if err != nil {
			return nil, err
		}
		return tc.MP3ToMulaw(ctx, mp3)
	}, nil
}

// buildSessionConfig maps the file/env configuration onto per-session
// settings.
func buildSessionConfig(cfg *config.Config, defaultVoice tts.Voice) session.Config {
	return session.Config{
		VAD:                     cfg.Audio.VAD(),
		MergeWindow:             cfg.Audio.MergeWindow(),
		MergeWindowWhilePlaying: cfg.Audio.MergeWindowWhilePlaying(),
		GreetingText:            cfg.Dialog.GreetingText,
		FillerText:              cfg.Dialog.FillerText,
		FillerTag:               cfg.Dialog.FillerTag,
		FillerVersion:           cfg.Dialog.FillerVersion,
		DefaultVoice:            defaultVoice,
		Language:                cfg.Dialog.Language,
		SystemPrompt:            cfg.Dialog.SystemPrompt,
		MaxResponseChars:        cfg.Dialog.MaxResponseChars,
	}
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
