package dialog_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/vocata-ai/vocata/internal/dialog"
	"github.com/vocata-ai/vocata/internal/observe"
	"github.com/vocata-ai/vocata/internal/registry"
	llmmock "github.com/vocata-ai/vocata/pkg/provider/llm/mock"
	"github.com/vocata-ai/vocata/pkg/provider/stt"
	sttmock "github.com/vocata-ai/vocata/pkg/provider/stt/mock"
)

// fakeAudio records send calls.
type fakeAudio struct {
	mu    sync.Mutex
	sends []string
	stops int
}

func (f *fakeAudio) StopAndWait(context.Context, string) {
	f.mu.Lock()
	f.stops++
	f.mu.Unlock()
}

func (f *fakeAudio) Send(_ context.Context, audio []byte, _ string, _ bool) (bool, error) {
	f.mu.Lock()
	f.sends = append(f.sends, string(audio))
	f.mu.Unlock()
	return true, nil
}

func (f *fakeAudio) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sends...)
}

// harness bundles a Runner with its mocks.
type harness struct {
	runner *dialog.Runner
	audio  *fakeAudio
	sttm   *sttmock.Provider
	chat   *llmmock.Provider
	class  *llmmock.Provider
	store  *registry.MemoryStore
}

func newHarness(t *testing.T, aiEnabled bool) *harness {
	t.Helper()
	h := &harness{
		audio: &fakeAudio{},
		sttm:  &sttmock.Provider{},
		chat:  &llmmock.Provider{},
		class: &llmmock.Provider{},
		store: registry.NewMemoryStore(),
	}
	h.runner = dialog.NewRunner(context.Background(), dialog.Deps{
		CallID:     "CA1",
		STT:        h.sttm,
		Chat:       h.chat,
		Classifier: h.class,
		ToWAV: func(_ context.Context, ulaw []byte) ([]byte, error) {
			return ulaw, nil
		},
		Synthesize: func(_ context.Context, text string) ([]byte, error) {
			return []byte(text), nil
		},
		Audio:     h.audio,
		Log:       h.store,
		AIEnabled: func(context.Context) bool { return aiEnabled },
	})
	return h
}

// runTurn enqueues a segment and waits for the pipeline to drain.
func (h *harness) runTurn(t *testing.T, segment string) {
	t.Helper()
	h.runner.Enqueue([]byte(segment))
	deadline := time.Now().Add(2 * time.Second)
	for !h.runner.Idle() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !h.runner.Idle() {
		t.Fatal("turn did not finish")
	}
}

func TestEmptyTranscriptionSaysCannotHear(t *testing.T) {
	t.Parallel()

	h := newHarness(t, true)
	h.sttm.Results = []stt.Result{{Text: ""}}

	h.runTurn(t, "noise")

	sends := h.audio.sent()
	if len(sends) != 1 || sends[0] != dialog.MsgCannotHear {
		t.Fatalf("sends = %q, want the fixed cannot-hear message", sends)
	}
	// No user message is logged for an empty transcription.
	msgs, _ := h.store.RecentMessages(context.Background(), "CA1", 10)
	for _, m := range msgs {
		if m.Role == "user" {
			t.Errorf("user message logged for empty transcription: %q", m.Content)
		}
	}
	if h.class.CallCount() != 0 {
		t.Error("classifier called for empty transcription")
	}
}

func TestClosingIntentCapturesPurpose(t *testing.T) {
	t.Parallel()

	h := newHarness(t, true)
	h.sttm.Results = []stt.Result{{Text: "I'd like to book a table for Friday at seven"}}
	h.class.Replies = []string{`{"action":"closing","reason":"purpose stated"}`}

	h.runTurn(t, "speech")

	if !h.runner.ClosingAsked() || !h.runner.PurposeCaptured() {
		t.Error("closing flags not set")
	}
	call, err := h.store.GetCall(context.Background(), "CA1")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(call.Purpose, "book a table") {
		t.Errorf("purpose = %q, want the user message", call.Purpose)
	}
	sends := h.audio.sent()
	want := dialog.MsgClosingPrefix + dialog.MsgClosingQuestion
	if len(sends) != 1 || sends[0] != want {
		t.Errorf("sends = %q, want %q", sends, want)
	}
	if h.chat.CallCount() != 0 {
		t.Error("conversational LLM called on a closing turn")
	}
}

func TestNothingFurtherTriggersFarewell(t *testing.T) {
	t.Parallel()

	h := newHarness(t, true)
	h.sttm.Results = []stt.Result{
		{Text: "I want to leave feedback about my visit"},
		{Text: "No, thank you!"},
		{Text: "actually one more thing"},
	}
	h.class.Replies = []string{
		`{"action":"closing","reason":"purpose stated"}`,
		`{"action":"normal","reason":"short answer"}`,
		`{"action":"normal","reason":"more requests"}`,
	}

	h.runTurn(t, "turn1")
	h.runTurn(t, "turn2")

	sends := h.audio.sent()
	if len(sends) != 2 || sends[1] != dialog.MsgFarewell {
		t.Fatalf("sends = %q, want farewell second", sends)
	}

	// After the farewell the engine stops initiating replies.
	h.runTurn(t, "turn3")
	if got := h.audio.sent(); len(got) != 2 {
		t.Errorf("reply sent after farewell: %q", got[2:])
	}
	if h.chat.CallCount() != 0 {
		t.Error("conversational LLM called after farewell")
	}
}

func TestNormalReplyUsesHistoryAndTruncates(t *testing.T) {
	t.Parallel()

	h := newHarness(t, true)
	h.sttm.Results = []stt.Result{{Text: "tell me about your opening hours"}}
	h.class.Replies = []string{`{"action":"normal","reason":"question"}`}
	h.chat.Replies = []string{strings.Repeat("We are open every day from nine to five. ", 10)}

	h.runTurn(t, "speech")

	sends := h.audio.sent()
	if len(sends) != 1 {
		t.Fatalf("sends = %d, want 1", len(sends))
	}
	if got := len([]rune(sends[0])); got > 140 {
		t.Errorf("reply length = %d runes, want <= 140", got)
	}
	if !strings.HasSuffix(sends[0], "…") {
		t.Error("truncated reply missing ellipsis")
	}

	req := h.chat.LastRequest()
	if req.Temperature != 0.3 || req.MaxTokens != 80 {
		t.Errorf("chat params = temp %v / max %d, want 0.3 / 80", req.Temperature, req.MaxTokens)
	}
	if len(req.Messages) == 0 || req.Messages[len(req.Messages)-1].Role != "user" {
		t.Errorf("chat context missing trailing user message: %+v", req.Messages)
	}
}

func TestAIDisabledLogsButStaysQuiet(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false)
	h.sttm.Results = []stt.Result{{Text: "hello there"}}

	h.runTurn(t, "speech")

	if got := h.audio.sent(); len(got) != 0 {
		t.Errorf("sends = %q, want none with AI disabled", got)
	}
	if h.class.CallCount() != 0 || h.chat.CallCount() != 0 {
		t.Error("LLM called with AI disabled")
	}
	msgs, _ := h.store.RecentMessages(context.Background(), "CA1", 10)
	if len(msgs) != 1 || msgs[0].Role != "user" {
		t.Errorf("log = %+v, want just the user message", msgs)
	}
}

func TestManualSayBypassesGate(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false)
	h.runner.ManualSay(context.Background(), "An operator will join shortly.")

	sends := h.audio.sent()
	if len(sends) != 1 || sends[0] != "An operator will join shortly." {
		t.Errorf("sends = %q", sends)
	}
	msgs, _ := h.store.RecentMessages(context.Background(), "CA1", 10)
	if len(msgs) != 1 || msgs[0].Role != "assistant" {
		t.Errorf("log = %+v, want one assistant message", msgs)
	}
}

func TestSegmentsQueueBehindRunningTurn(t *testing.T) {
	t.Parallel()

	h := newHarness(t, true)
	release := make(chan struct{})
	var once sync.Once

	h.sttm.Results = []stt.Result{{Text: "first"}, {Text: "second"}}
	h.class.Replies = []string{
		`{"action":"normal","reason":"a"}`,
		`{"action":"normal","reason":"b"}`,
	}
	h.chat.Replies = []string{"reply one", "reply two"}

	// Block the first turn inside transcoding until both segments are in.
	blockingRunner := dialog.NewRunner(context.Background(), dialog.Deps{
		CallID:     "CA2",
		STT:        h.sttm,
		Chat:       h.chat,
		Classifier: h.class,
		ToWAV: func(_ context.Context, ulaw []byte) ([]byte, error) {
			once.Do(func() { <-release })
			return ulaw, nil
		},
		Synthesize: func(_ context.Context, text string) ([]byte, error) {
			return []byte(text), nil
		},
		Audio:     h.audio,
		Log:       h.store,
		AIEnabled: func(context.Context) bool { return true },
	})

	blockingRunner.Enqueue([]byte("segment-a"))
	blockingRunner.Enqueue([]byte("segment-b"))
	close(release)

	deadline := time.Now().Add(2 * time.Second)
	for !blockingRunner.Idle() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	sends := h.audio.sent()
	if len(sends) != 2 || sends[0] != "reply one" || sends[1] != "reply two" {
		t.Errorf("sends = %q, want both replies in order", sends)
	}
}

// histogramCount sums datapoint counts for the named histogram.
func histogramCount(t *testing.T, rm metricdata.ResourceMetrics, name string) uint64 {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			h, ok := m.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("%s data is %T, want Histogram[float64]", name, m.Data)
			}
			var n uint64
			for _, dp := range h.DataPoints {
				n += dp.Count
			}
			return n
		}
	}
	return 0
}

// requestCount sums provider request datapoints matching the attribute set.
func requestCount(t *testing.T, rm metricdata.ResourceMetrics, provider, kind, status string) int64 {
	t.Helper()
	want := attribute.NewSet(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
		attribute.String("status", status),
	)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "vocata.provider.requests" {
				continue
			}
			s, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("provider requests data is %T, want Sum[int64]", m.Data)
			}
			var n int64
			for _, dp := range s.DataPoints {
				if dp.Attributes.Equals(&want) {
					n += dp.Value
				}
			}
			return n
		}
	}
	return 0
}

func TestTurnRecordsPipelineMetrics(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	met, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	if err != nil {
		t.Fatal(err)
	}

	audio := &fakeAudio{}
	runner := dialog.NewRunner(context.Background(), dialog.Deps{
		CallID:     "CA3",
		STT:        &sttmock.Provider{Results: []stt.Result{{Text: "what are your opening hours"}}},
		Chat:       &llmmock.Provider{Replies: []string{"Nine to five, every day."}},
		Classifier: &llmmock.Provider{Replies: []string{`{"action":"normal","reason":"question"}`}},
		ToWAV: func(_ context.Context, ulaw []byte) ([]byte, error) {
			return ulaw, nil
		},
		Synthesize: func(_ context.Context, text string) ([]byte, error) {
			return []byte(text), nil
		},
		Audio:     audio,
		Log:       registry.NewMemoryStore(),
		AIEnabled: func(context.Context) bool { return true },
		Metrics:   met,
	})

	runner.Enqueue([]byte("speech"))
	deadline := time.Now().Add(2 * time.Second)
	for !runner.Idle() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !runner.Idle() {
		t.Fatal("turn did not finish")
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}

	// One STT, one TTS, one turn; the LLM histogram sees classifier + chat.
	for name, want := range map[string]uint64{
		"vocata.stt.duration":  1,
		"vocata.llm.duration":  2,
		"vocata.tts.duration":  1,
		"vocata.turn.duration": 1,
	} {
		if got := histogramCount(t, rm, name); got != want {
			t.Errorf("%s count = %d, want %d", name, got, want)
		}
	}
	for _, call := range []struct{ provider, kind string }{
		{"stt", "transcribe"},
		{"classifier", "complete"},
		{"chat", "complete"},
		{"tts", "synthesize"},
	} {
		if got := requestCount(t, rm, call.provider, call.kind, "ok"); got != 1 {
			t.Errorf("%s/%s ok requests = %d, want 1", call.provider, call.kind, got)
		}
	}
}

func TestFailedTranscriptionRecordsProviderError(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	met, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	if err != nil {
		t.Fatal(err)
	}

	audio := &fakeAudio{}
	runner := dialog.NewRunner(context.Background(), dialog.Deps{
		CallID: "CA4",
		STT:    &sttmock.Provider{Err: context.DeadlineExceeded},
		ToWAV: func(_ context.Context, ulaw []byte) ([]byte, error) {
			return ulaw, nil
		},
		Synthesize: func(_ context.Context, text string) ([]byte, error) {
			return []byte(text), nil
		},
		Audio:     audio,
		Log:       registry.NewMemoryStore(),
		AIEnabled: func(context.Context) bool { return true },
		Metrics:   met,
	})

	runner.Enqueue([]byte("speech"))
	deadline := time.Now().Add(2 * time.Second)
	for !runner.Idle() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	if got := requestCount(t, rm, "stt", "transcribe", "error"); got != 1 {
		t.Errorf("stt error requests = %d, want 1", got)
	}
	if got := histogramCount(t, rm, "vocata.turn.duration"); got != 0 {
		t.Errorf("turn duration recorded for a dropped turn: %d samples", got)
	}
	if sends := audio.sent(); len(sends) != 0 {
		t.Errorf("sends = %q, want none after transcription failure", sends)
	}
}
