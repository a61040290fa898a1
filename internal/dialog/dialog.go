// Package dialog runs the per-call turn pipeline: transcode, transcribe,
// classify intent, route, generate, speak.
//
// A Runner is single-flight per session. While one turn is in progress new
// segments queue up in FIFO order; nothing in the pipeline holds a lock
// across a blocking call.
package dialog

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/vocata-ai/vocata/internal/observe"
	"github.com/vocata-ai/vocata/internal/registry"
	"github.com/vocata-ai/vocata/pkg/provider/llm"
	"github.com/vocata-ai/vocata/pkg/provider/stt"
)

// Fixed assistant utterances.
const (
	MsgCannotHear      = "Sorry, I couldn't catch that. Could you repeat?"
	MsgClosingPrefix   = "Understood. "
	MsgClosingQuestion = "Anything else? If not, you may hang up."
	MsgFarewell        = "Thank you for calling. Goodbye!"
	MsgTakeMessage     = "I can take a message. Please tell me your name, a callback number, and what it is regarding."

	// DefaultFillerText is spoken from cache while the real reply is being
	// generated.
	DefaultFillerText = "Yes, thank you; the AI is thinking, please wait a moment"
)

const (
	defaultMaxResponseChars = 140
	chatTemperature         = 0.3
	chatMaxTokens           = 80
	historyLimit            = 10
)

const defaultSystemPrompt = "You are a friendly phone assistant answering a live call. " +
	"Reply in one or two short sentences of plain spoken language. " +
	"Never use lists, markdown, or emoji."

// Audio is the slice of the send scheduler the turn pipeline needs.
type Audio interface {
	// StopAndWait cancels any in-flight send (honoring uninterruptible) and
	// blocks until it drains.
	StopAndWait(ctx context.Context, reason string)

	// Send streams μ-law audio and reports whether it completed naturally.
	Send(ctx context.Context, audio []byte, label string, uninterruptible bool) (bool, error)
}

// Deps wires a Runner to its session and providers.
type Deps struct {
	CallID string

	STT        stt.Provider
	Chat       llm.Provider
	Classifier llm.Provider

	// ToWAV converts raw μ-law into a transcription-ready WAV.
	ToWAV func(ctx context.Context, ulaw []byte) ([]byte, error)

	// Synthesize renders reply text into μ-law for this session's voice.
	Synthesize func(ctx context.Context, text string) ([]byte, error)

	// PlayFiller starts the pre-rendered "thinking" filler without blocking.
	PlayFiller func(ctx context.Context)

	Audio Audio
	Log   registry.Registry

	// AIEnabled gates automatic replies; manual replies bypass it.
	AIEnabled func(ctx context.Context) bool

	Logger *slog.Logger

	// Metrics records stage latencies and provider outcomes; nil disables
	// recording.
	Metrics *observe.Metrics

	// SystemPrompt overrides the default conversational prompt.
	SystemPrompt string

	// MaxResponseChars truncates LLM replies; 0 means the 140 default.
	MaxResponseChars int

	// Language is the STT hint, empty for auto-detect.
	Language string
}

// Runner serializes turns for one session.
type Runner struct {
	ctx  context.Context
	deps Deps

	mu              sync.Mutex
	running         bool
	queue           [][]byte
	closingAsked    bool
	purposeCaptured bool
	farewellSaid    bool
}

// NewRunner creates a Runner bound to the session lifetime ctx.
func NewRunner(ctx context.Context, deps Deps) *Runner {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.SystemPrompt == "" {
		deps.SystemPrompt = defaultSystemPrompt
	}
	if deps.MaxResponseChars <= 0 {
		deps.MaxResponseChars = defaultMaxResponseChars
	}
	return &Runner{ctx: ctx, deps: deps}
}

// ClosingAsked reports whether the closing question has been posed.
func (r *Runner) ClosingAsked() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closingAsked
}

// PurposeCaptured reports whether the caller's purpose has been recorded.
func (r *Runner) PurposeCaptured() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.purposeCaptured
}

// Idle reports whether no turn is in progress and the queue is empty.
func (r *Runner) Idle() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.running && len(r.queue) == 0
}

// Enqueue hands a merged speech segment to the pipeline. If a turn is in
// progress the segment queues behind it.
func (r *Runner) Enqueue(segment []byte) {
	r.mu.Lock()
	if r.running {
		r.queue = append(r.queue, segment)
		r.mu.Unlock()
		return
	}
	r.running = true
	r.mu.Unlock()

	go r.work(segment)
}

// work drains the current segment plus anything queued behind it.
func (r *Runner) work(segment []byte) {
	for {
		r.runTurn(segment)

		r.mu.Lock()
		if len(r.queue) == 0 {
			r.running = false
			r.mu.Unlock()
			return
		}
		segment = r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
	}
}

// runTurn executes one full turn for a merged segment. Errors are handled
// here; the next turn is always accepted.
func (r *Runner) runTurn(segment []byte) {
	ctx := r.ctx
	log := r.deps.Logger
	started := time.Now()

	if r.deps.PlayFiller != nil {
		r.deps.PlayFiller(ctx)
	}

	wav, err := r.deps.ToWAV(ctx, segment)
	if err != nil {
		log.Error("transcode failed, skipping turn", "call_id", r.deps.CallID, "error", err)
		return
	}

	sttStarted := time.Now()
	res, err := r.deps.STT.Transcribe(ctx, wav, r.deps.Language)
	r.deps.Metrics.RecordSTTStage(ctx, sttStarted)
	if err != nil {
		r.deps.Metrics.RecordProviderRequest(ctx, "stt", "transcribe", "error")
		r.deps.Metrics.RecordProviderError(ctx, "stt", "transcribe")
		log.Error("transcription failed, skipping turn", "call_id", r.deps.CallID, "error", err)
		return
	}
	r.deps.Metrics.RecordProviderRequest(ctx, "stt", "transcribe", "ok")
	userText := strings.TrimSpace(res.Text)
	if userText == "" {
		// Nothing intelligible: apologize, log no user message.
		r.speak(ctx, MsgCannotHear, started)
		return
	}
	log.Info("user turn", "call_id", r.deps.CallID, "text", userText,
		"stt_ms", time.Since(started).Milliseconds())

	if err := r.deps.Log.AppendMessage(ctx, r.deps.CallID, registry.Message{
		Role: "user", Content: userText,
	}); err != nil {
		log.Warn("conversation log append failed", "call_id", r.deps.CallID, "error", err)
	}

	if r.deps.AIEnabled != nil && !r.deps.AIEnabled(ctx) {
		log.Info("automatic replies disabled, turn logged only", "call_id", r.deps.CallID)
		return
	}
	if r.farewellDone() {
		return
	}

	intent := classify(ctx, r.deps.Classifier, r.ClosingAsked(), userText, r.deps.Metrics, log)
	r.route(ctx, intent, userText, started)
}

// route dispatches one classified user message.
func (r *Runner) route(ctx context.Context, intent Intent, userText string, turnStarted time.Time) {
	switch intent.Action {
	case ActionFarewell:
		r.farewell(ctx, turnStarted)

	case ActionTakeMessage:
		r.speak(ctx, MsgTakeMessage, turnStarted)

	case ActionClosing:
		r.mu.Lock()
		r.closingAsked = true
		r.purposeCaptured = true
		r.mu.Unlock()
		if err := r.deps.Log.SetPurpose(ctx, r.deps.CallID, userText); err != nil {
			r.deps.Logger.Warn("purpose persist failed", "call_id", r.deps.CallID, "error", err)
		}
		r.speak(ctx, MsgClosingPrefix+MsgClosingQuestion, turnStarted)

	default: // ActionNormal and any fallback
		if r.ClosingAsked() && matchesNothingFurther(userText) {
			r.farewell(ctx, turnStarted)
			return
		}
		reply, err := r.generate(ctx)
		if err != nil {
			r.deps.Logger.Error("reply generation failed, skipping turn",
				"call_id", r.deps.CallID, "error", err)
			return
		}
		r.speak(ctx, reply, turnStarted)
	}
}

// farewell speaks the fixed goodbye and stops initiating further replies.
func (r *Runner) farewell(ctx context.Context, turnStarted time.Time) {
	r.mu.Lock()
	r.farewellSaid = true
	r.mu.Unlock()
	r.speak(ctx, MsgFarewell, turnStarted)
}

func (r *Runner) farewellDone() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.farewellSaid
}

// generate calls the conversational LLM with recent history as context.
func (r *Runner) generate(ctx context.Context) (string, error) {
	history, err := r.deps.Log.RecentMessages(ctx, r.deps.CallID, historyLimit)
	if err != nil {
		return "", err
	}
	msgs := make([]llm.Message, 0, len(history))
	for _, m := range history {
		msgs = append(msgs, llm.Message{Role: m.Role, Content: m.Content})
	}

	llmStarted := time.Now()
	reply, err := r.deps.Chat.Complete(ctx, llm.Request{
		SystemPrompt: r.deps.SystemPrompt,
		Messages:     msgs,
		Temperature:  chatTemperature,
		MaxTokens:    chatMaxTokens,
	})
	r.deps.Metrics.RecordLLMStage(ctx, llmStarted)
	if err != nil {
		r.deps.Metrics.RecordProviderRequest(ctx, "chat", "complete", "error")
		r.deps.Metrics.RecordProviderError(ctx, "chat", "complete")
		return "", err
	}
	r.deps.Metrics.RecordProviderRequest(ctx, "chat", "complete", "ok")
	return truncate(strings.TrimSpace(reply), r.deps.MaxResponseChars), nil
}

// speak appends the assistant message, stops any in-flight audio and streams
// the synthesized reply. Log append always precedes the send. A non-zero
// turnStarted marks the end of a caller turn and feeds the turn latency
// histogram.
func (r *Runner) speak(ctx context.Context, text string, turnStarted time.Time) {
	log := r.deps.Logger

	if err := r.deps.Log.AppendMessage(ctx, r.deps.CallID, registry.Message{
		Role: "assistant", Content: text,
	}); err != nil {
		log.Warn("conversation log append failed", "call_id", r.deps.CallID, "error", err)
	}

	ttsStarted := time.Now()
	audio, err := r.deps.Synthesize(ctx, text)
	r.deps.Metrics.RecordTTSStage(ctx, ttsStarted)
	if err != nil {
		r.deps.Metrics.RecordProviderRequest(ctx, "tts", "synthesize", "error")
		r.deps.Metrics.RecordProviderError(ctx, "tts", "synthesize")
		log.Error("synthesis failed, turn dropped", "call_id", r.deps.CallID, "error", err)
		return
	}
	r.deps.Metrics.RecordProviderRequest(ctx, "tts", "synthesize", "ok")

	r.deps.Audio.StopAndWait(ctx, "new reply")
	if !turnStarted.IsZero() {
		r.deps.Metrics.RecordTurn(ctx, turnStarted)
	}
	completed, err := r.deps.Audio.Send(ctx, audio, "reply", false)
	if err != nil {
		log.Error("reply send failed", "call_id", r.deps.CallID, "error", err)
		return
	}
	log.Info("assistant turn", "call_id", r.deps.CallID, "text", text, "completed", completed)
}

// ManualSay speaks operator-injected text, bypassing the ai_enabled gate.
func (r *Runner) ManualSay(ctx context.Context, text string) {
	r.speak(ctx, text, time.Time{})
}

// truncate caps s at max characters with an ellipsis on overflow.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
