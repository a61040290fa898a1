// Package session owns the per-call state machine: the WebSocket event
// loop, the VAD-fed segmentation, the generation-tagged audio sender, the
// greeting and filler coordination, and the merge-window hand-off into the
// dialog pipeline.
//
// All per-call state is mutated from a single event loop goroutine; every
// cross-goroutine interaction goes through typed messages or the small
// mutex-guarded identity fields.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vocata-ai/vocata/internal/dialog"
	"github.com/vocata-ai/vocata/internal/observe"
	"github.com/vocata-ai/vocata/internal/registry"
	"github.com/vocata-ai/vocata/internal/ttscache"
	"github.com/vocata-ai/vocata/internal/vad"
	"github.com/vocata-ai/vocata/pkg/mediastream"
	"github.com/vocata-ai/vocata/pkg/mulaw"
	"github.com/vocata-ai/vocata/pkg/provider/llm"
	"github.com/vocata-ai/vocata/pkg/provider/stt"
	"github.com/vocata-ai/vocata/pkg/provider/tts"
)

// Config tunes one session. Zero values take the wire defaults.
type Config struct {
	VAD vad.Config

	// MergeWindow is how long after an EOS the engine waits for a follow-up
	// segment before running the turn. Default 1200 ms.
	MergeWindow time.Duration

	// MergeWindowWhilePlaying applies instead while the agent is speaking,
	// typically the same or longer. Default equals MergeWindow.
	MergeWindowWhilePlaying time.Duration

	// Tick is the outbound chunk cadence. Default 20 ms.
	Tick time.Duration

	// BindWait bounds the greeting's wait for the per-call voice binding
	// when no pre-rendered default greeting exists. Default 2 s.
	BindWait time.Duration

	GreetingText  string
	FillerText    string
	FillerTag     string
	FillerVersion string

	// DefaultVoice serves the greeting fast path and any session without a
	// per-call binding.
	DefaultVoice tts.Voice

	// Language is the STT hint.
	Language string

	// SystemPrompt overrides the default reply persona.
	SystemPrompt string

	// MaxResponseChars truncates generated replies. 0 keeps the default.
	MaxResponseChars int

	// MediaLogEvery controls the frame-summary log cadence. Default 250
	// frames (5 s).
	MediaLogEvery int
}

func (c Config) withDefaults() Config {
	if c.MergeWindow <= 0 {
		c.MergeWindow = 1200 * time.Millisecond
	}
	if c.MergeWindowWhilePlaying <= 0 {
		c.MergeWindowWhilePlaying = c.MergeWindow
	}
	if c.BindWait <= 0 {
		c.BindWait = 2 * time.Second
	}
	if c.GreetingText == "" {
		c.GreetingText = "Hello! You have reached our automated assistant. How can I help you today?"
	}
	if c.FillerText == "" {
		c.FillerText = dialog.DefaultFillerText
	}
	if c.FillerTag == "" {
		c.FillerTag = "thinking"
	}
	if c.FillerVersion == "" {
		c.FillerVersion = "v1"
	}
	if c.MediaLogEvery <= 0 {
		c.MediaLogEvery = 250
	}
	return c
}

// WithDefaults returns c with zero fields replaced by the engine defaults.
// New applies it automatically; callers that need the resolved greeting or
// filler texts up front (e.g. for cache priming) call it directly.
func (c Config) WithDefaults() Config { return c.withDefaults() }

// Deps wires a Session to its collaborators.
type Deps struct {
	// CallID from the upgrade URL; empty means bind from the start event.
	CallID string

	Writer   FrameWriter
	Cache    *ttscache.Cache
	Registry registry.Registry

	STT        stt.Provider
	Chat       llm.Provider
	Classifier llm.Provider

	// ToWAV converts μ-law to a transcription-ready WAV.
	ToWAV func(ctx context.Context, ulaw []byte) ([]byte, error)

	// Synthesize renders text to μ-law for a given voice, uncached.
	Synthesize func(ctx context.Context, text string, voice tts.Voice) ([]byte, error)

	Metrics *observe.Metrics
	Logger  *slog.Logger
	Config  Config

	// OnBound fires from the event loop when the call id becomes known.
	OnBound func(s *Session)
}

// Loop messages.
type (
	peerEvent  struct{ ev mediastream.Event }
	setAICmd   struct{ enabled bool }
	speakCmd   struct{ text string }
	mergeFired struct{ epoch int }
)

// Session is one live call.
type Session struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger

	sender   *Sender
	detector *vad.Detector
	framer   mulaw.Framer
	runner   *dialog.Runner

	ctx    context.Context
	cancel context.CancelFunc
	msgs   chan any
	closed chan struct{}

	aiEnabled atomic.Bool

	// Identity fields read from other goroutines.
	idMu       sync.Mutex
	callID     string
	streamSid  string
	voice      tts.Voice
	voiceKnown bool

	// Event-loop-owned state.
	connected     bool
	startReceived bool
	initialSent   bool
	pending       [][]byte
	mergeTimer    *time.Timer
	mergeEpoch    int
	frameCount    int
	voiceCh       chan tts.Voice
}

// New creates a Session. Run must be called to start the event loop.
func New(deps Deps) *Session {
	cfg := deps.Config.withDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("call_id_hint", deps.CallID)

	s := &Session{
		cfg:      cfg,
		deps:     deps,
		logger:   logger,
		detector: vad.New(cfg.VAD),
		msgs:     make(chan any, 64),
		closed:   make(chan struct{}),
		callID:   deps.CallID,
		voice:    cfg.DefaultVoice,
		voiceCh:  make(chan tts.Voice, 1),
	}
	s.sender = NewSender(deps.Writer, logger, cfg.Tick)
	s.aiEnabled.Store(true)
	return s
}

// CallID returns the bound call id, empty while unbound.
func (s *Session) CallID() string {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	return s.callID
}

// StreamSid returns the peer-assigned stream id.
func (s *Session) StreamSid() string {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	return s.streamSid
}

// Voice returns the session's TTS binding, falling back to the default.
func (s *Session) Voice() tts.Voice {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	return s.voice
}

// Done is closed when the event loop has exited.
func (s *Session) Done() <-chan struct{} {
	return s.closed
}

// HandleEvent posts one inbound wire event to the loop. It drops events
// once the session is closed.
func (s *Session) HandleEvent(ev mediastream.Event) {
	select {
	case s.msgs <- peerEvent{ev: ev}:
	case <-s.closed:
	}
}

// SetAIEnabled toggles automatic replies through the serialized event path.
func (s *Session) SetAIEnabled(enabled bool) {
	select {
	case s.msgs <- setAICmd{enabled: enabled}:
	case <-s.closed:
	}
}

// Speak injects an operator reply, bypassing the ai_enabled gate.
func (s *Session) Speak(text string) {
	select {
	case s.msgs <- speakCmd{text: text}:
	case <-s.closed:
	}
}

// Close tears the session down. Idempotent.
func (s *Session) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Run executes the event loop until ctx is cancelled or the peer sends
// stop. It releases all timers and cancels the in-flight send on exit.
func (s *Session) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.ctx = ctx
	s.cancel = cancel
	defer cancel()
	defer close(s.closed)

	s.deps.Metrics.SessionStarted(ctx)
	defer s.deps.Metrics.SessionEnded(context.WithoutCancel(ctx))
	defer s.stopMergeTimer()
	defer s.markCompleted()

	for {
		select {
		case <-ctx.Done():
			return
		case m := <-s.msgs:
			switch msg := m.(type) {
			case peerEvent:
				if done := s.handleEvent(ctx, msg.ev); done {
					return
				}
			case setAICmd:
				s.handleSetAI(ctx, msg.enabled)
			case speakCmd:
				if s.runner != nil {
					go s.runner.ManualSay(ctx, msg.text)
				}
			case mergeFired:
				s.handleMergeFired(msg.epoch)
			}
		}
	}
}

// handleEvent dispatches one wire event. It returns true on the terminal
// stop event.
func (s *Session) handleEvent(ctx context.Context, ev mediastream.Event) bool {
	switch ev.Event {
	case mediastream.EventConnected:
		s.connected = true
		s.maybeScheduleGreeting(ctx)

	case mediastream.EventStart:
		s.handleStart(ctx, ev)
		s.maybeScheduleGreeting(ctx)

	case mediastream.EventMedia:
		s.handleMedia(ctx, ev)

	case mediastream.EventMark:
		if ev.Mark != nil {
			s.logger.Debug("peer mark", "name", ev.Mark.Name)
		}

	case mediastream.EventStop:
		// No frame may go out after stop: cancel the in-flight send
		// immediately, uninterruptible or not.
		s.logger.Info("peer stop, closing session")
		return true

	default:
		s.logger.Warn("unexpected event", "event", ev.Event)
	}
	return false
}

// handleStart binds the stream and call identity and spins up the dialog
// runner.
func (s *Session) handleStart(ctx context.Context, ev mediastream.Event) {
	if ev.Start == nil || ev.Start.StreamSid == "" {
		s.logger.Error("start event without streamSid, ignoring")
		return
	}
	s.startReceived = true

	s.idMu.Lock()
	s.streamSid = ev.Start.StreamSid
	s.idMu.Unlock()
	s.sender.BindStream(ev.Start.StreamSid)

	callID := s.CallID()
	if callID == "" {
		callID = s.resolveCallID(ctx, ev)
	}
	if callID == "" {
		s.logger.Error("no call id binding, continuing without persistence")
		callID = "unbound-" + ev.Start.StreamSid
	}
	s.idMu.Lock()
	s.callID = callID
	s.idMu.Unlock()
	s.logger = s.logger.With("call_id", callID)
	if s.deps.OnBound != nil {
		s.deps.OnBound(s)
	}

	s.runner = dialog.NewRunner(s.ctx, dialog.Deps{
		CallID:     callID,
		STT:        s.deps.STT,
		Chat:       s.deps.Chat,
		Classifier: s.deps.Classifier,
		ToWAV:      s.deps.ToWAV,
		Synthesize: func(ctx context.Context, text string) ([]byte, error) {
			return s.deps.Synthesize(ctx, text, s.Voice())
		},
		PlayFiller:       s.playFiller,
		Audio:            s.sender,
		Log:              s.deps.Registry,
		AIEnabled:        func(context.Context) bool { return s.aiEnabled.Load() },
		Logger:           s.logger,
		Metrics:          s.deps.Metrics,
		Language:         s.cfg.Language,
		SystemPrompt:     s.cfg.SystemPrompt,
		MaxResponseChars: s.cfg.MaxResponseChars,
	})

	// Status update and voice binding are best-effort and off-loop.
	go func() {
		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.BindWait)
		defer cancel()

		if err := s.deps.Registry.UpdateStatus(bctx, callID, registry.StatusInProgress); err != nil &&
			!errors.Is(err, registry.ErrNotFound) {
			s.logger.Warn("status update failed", "error", err)
		}

		call, err := s.deps.Registry.GetCall(bctx, callID)
		if err != nil || call.Voice.Engine == "" {
			return
		}
		s.idMu.Lock()
		s.voice = call.Voice
		s.voiceKnown = true
		s.idMu.Unlock()
		select {
		case s.voiceCh <- call.Voice:
		default:
		}
	}()
}

// resolveCallID binds a call id for sessions whose upgrade URL carried
// none: callSid, then accountSid, then the most recent ringing registry
// entry.
func (s *Session) resolveCallID(ctx context.Context, ev mediastream.Event) string {
	if ev.Start.CallSid != "" {
		return ev.Start.CallSid
	}
	if ev.Start.AccountSid != "" {
		return ev.Start.AccountSid
	}
	lctx, cancel := context.WithTimeout(ctx, s.cfg.BindWait)
	defer cancel()
	call, err := s.deps.Registry.LatestRinging(lctx)
	if err != nil {
		s.logger.Warn("ringing lookup failed", "error", err)
		return ""
	}
	return call.ID
}

// maybeScheduleGreeting fires the initial greeting exactly once, after both
// connected and start have been seen.
func (s *Session) maybeScheduleGreeting(ctx context.Context) {
	if s.initialSent || !s.connected || !s.startReceived {
		return
	}
	s.initialSent = true
	go s.sendGreeting(ctx)
}

// sendGreeting serves the greeting from the pre-rendered default-voice
// artifact when present; otherwise it waits (bounded) for the per-call
// voice binding and synthesizes on demand. It never blocks the event loop.
func (s *Session) sendGreeting(ctx context.Context) {
	audio, ok := s.deps.Cache.Peek(ttscache.Entry{
		Role:  ttscache.RoleGreeting,
		Voice: s.cfg.DefaultVoice,
	})
	if !ok {
		voice := s.cfg.DefaultVoice
		select {
		case v := <-s.voiceCh:
			voice = v
		case <-time.After(s.cfg.BindWait):
		case <-ctx.Done():
			return
		}
		var err error
		audio, err = s.deps.Cache.Lookup(ctx, ttscache.Entry{
			Role:  ttscache.RoleGreeting,
			Voice: voice,
		}, s.cfg.GreetingText)
		if err != nil {
			s.logger.Error("greeting unavailable, skipping", "error", err)
			return
		}
	}

	completed, err := s.sender.Send(ctx, audio, "greeting", true)
	if err != nil {
		s.logger.Error("greeting send failed", "error", err)
		return
	}
	s.logger.Info("greeting sent", "bytes", len(audio), "completed", completed)
}

// handleMedia feeds inbound caller audio through the detector and reacts to
// its events. Runs on the event loop, so all segmentation state is
// serialized.
func (s *Session) handleMedia(ctx context.Context, ev mediastream.Event) {
	if !ev.IsInbound() {
		return
	}
	// Media before start: recover the stream binding from the event itself.
	if !s.startReceived && ev.StreamSid != "" {
		s.logger.Warn("media before start, adopting stream id", "stream_sid", ev.StreamSid)
		s.startReceived = true
		s.idMu.Lock()
		s.streamSid = ev.StreamSid
		s.idMu.Unlock()
		s.sender.BindStream(ev.StreamSid)
	}
	// The greeting never barges itself out.
	if s.sender.GreetingInProgress() {
		return
	}

	payload, err := ev.AudioPayload()
	if err != nil {
		s.logger.Warn("undecodable media payload, dropping", "error", err)
		return
	}

	playing := s.sender.Sending()
	for _, frame := range s.framer.Push(payload) {
		s.frameCount++
		if s.frameCount%s.cfg.MediaLogEvery == 0 {
			s.logger.Debug("media summary",
				"frames", s.frameCount, "speech_active", s.detector.SpeechActive())
		}

		vev := s.detector.ProcessFrame(frame, playing)
		switch vev.Kind {
		case vad.SpeechStart:
			if playing {
				s.sender.RequestStop("caller_speech")
				s.deps.Metrics.RecordBargeIn(ctx)
			}
			// A new utterance keeps any pending segments waiting so they
			// merge into one turn.
			s.stopMergeTimer()

		case vad.Segment:
			s.pending = append(s.pending, vev.Audio)
			s.resetMergeTimer(playing)

		case vad.Discard:
			s.deps.Metrics.RecordDiscardedSegment(ctx)
			if len(s.pending) > 0 {
				s.resetMergeTimer(playing)
			}
		}
	}
}

// resetMergeTimer (re)arms the pending-segment deadline.
func (s *Session) resetMergeTimer(playing bool) {
	window := s.cfg.MergeWindow
	if playing {
		window = s.cfg.MergeWindowWhilePlaying
	}
	s.stopMergeTimer()
	s.mergeEpoch++
	epoch := s.mergeEpoch
	s.mergeTimer = time.AfterFunc(window, func() {
		select {
		case s.msgs <- mergeFired{epoch: epoch}:
		case <-s.closed:
		}
	})
}

func (s *Session) stopMergeTimer() {
	if s.mergeTimer != nil {
		s.mergeTimer.Stop()
		s.mergeTimer = nil
	}
}

// handleMergeFired concatenates pending segments in arrival order and hands
// the merged audio to the dialog pipeline.
func (s *Session) handleMergeFired(epoch int) {
	if epoch != s.mergeEpoch || len(s.pending) == 0 {
		return
	}
	total := 0
	for _, seg := range s.pending {
		total += len(seg)
	}
	merged := make([]byte, 0, total)
	for _, seg := range s.pending {
		merged = append(merged, seg...)
	}
	s.pending = nil
	s.mergeTimer = nil

	s.logger.Info("segment accepted", "bytes", total)
	if s.runner != nil {
		s.runner.Enqueue(merged)
	}
}

// playFiller implements the filler coordination: stop whatever is playing
// (honoring uninterruptible), fetch the pre-rendered filler for the
// session's voice, and start it without blocking the reply pipeline.
func (s *Session) playFiller(ctx context.Context) {
	s.sender.StopAndWait(ctx, "filler")

	audio, err := s.deps.Cache.Lookup(ctx, ttscache.Entry{
		Role:    ttscache.RoleFiller,
		Tag:     s.cfg.FillerTag,
		Version: s.cfg.FillerVersion,
		Voice:   s.Voice(),
	}, s.cfg.FillerText)
	if err != nil {
		s.logger.Warn("filler unavailable", "error", err)
		return
	}
	if _, err := s.sender.Start(ctx, audio, "filler", false); err != nil &&
		!errors.Is(err, ErrSendInFlight) {
		s.logger.Warn("filler start failed", "error", err)
	}
}

// handleSetAI applies the operator toggle and persists it best-effort.
func (s *Session) handleSetAI(ctx context.Context, enabled bool) {
	s.aiEnabled.Store(enabled)
	s.logger.Info("ai replies toggled", "enabled", enabled)
	callID := s.CallID()
	if callID == "" {
		return
	}
	go func() {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.deps.Registry.SetAIEnabled(pctx, callID, enabled); err != nil &&
			!errors.Is(err, registry.ErrNotFound) {
			s.logger.Warn("ai toggle persist failed", "error", err)
		}
	}()
}

// markCompleted records the terminal call status.
func (s *Session) markCompleted() {
	callID := s.CallID()
	if callID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.deps.Registry.UpdateStatus(ctx, callID, registry.StatusCompleted); err != nil &&
		!errors.Is(err, registry.ErrNotFound) {
		s.logger.Warn("completion status update failed", "error", err)
	}
}
