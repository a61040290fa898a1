package session_test

import (
	"bytes"
	"context"
	"math"
	"testing"
	"time"

	"github.com/vocata-ai/vocata/internal/registry"
	"github.com/vocata-ai/vocata/internal/session"
	"github.com/vocata-ai/vocata/internal/ttscache"
	"github.com/vocata-ai/vocata/pkg/mediastream"
	"github.com/vocata-ai/vocata/pkg/mulaw"
	"github.com/vocata-ai/vocata/pkg/provider/stt"
	sttmock "github.com/vocata-ai/vocata/pkg/provider/stt/mock"
	"github.com/vocata-ai/vocata/pkg/provider/tts"
)

var defaultVoice = tts.Voice{Engine: "openai", ID: "nova", Speed: 1.0}

// sessionHarness wires a Session to in-memory collaborators. Every session
// speaks a greeting first; greetingLen frames of it are pre-rendered so the
// fast path always hits and tests can subtract it from event counts.
type sessionHarness struct {
	sess     *session.Session
	writer   *fakeWriter
	sttm     *sttmock.Provider
	store    *registry.MemoryStore
	greeting []byte
}

func newSessionHarness(t *testing.T, greetingFrames int) *sessionHarness {
	t.Helper()

	greeting := bytes.Repeat([]byte{0x42}, greetingFrames*mulaw.FrameBytes)
	entry := ttscache.Entry{Role: ttscache.RoleGreeting, Voice: defaultVoice}
	objects := ttscache.NewMemoryStore()
	if err := objects.Put(context.Background(), entry.ObjectName(), greeting); err != nil {
		t.Fatal(err)
	}
	cache, err := ttscache.New(objects, func(_ context.Context, text string, _ tts.Voice) ([]byte, error) {
		return []byte(text), nil
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	// Warm the memory tier so the greeting takes the fast path.
	if _, err := cache.Lookup(context.Background(), entry, ""); err != nil {
		t.Fatal(err)
	}

	h := &sessionHarness{
		writer:   &fakeWriter{},
		sttm:     &sttmock.Provider{},
		store:    registry.NewMemoryStore(),
		greeting: greeting,
	}
	h.sess = session.New(session.Deps{
		Writer:   h.writer,
		Cache:    cache,
		Registry: h.store,
		STT:      h.sttm,
		ToWAV: func(_ context.Context, ulaw []byte) ([]byte, error) {
			return ulaw, nil
		},
		Synthesize: func(_ context.Context, text string, _ tts.Voice) ([]byte, error) {
			return []byte(text), nil
		},
		Config: session.Config{
			Tick:         time.Millisecond,
			MergeWindow:  50 * time.Millisecond,
			BindWait:     100 * time.Millisecond,
			DefaultVoice: defaultVoice,
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	go h.sess.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-h.sess.Done()
	})
	return h
}

// handshake performs connected+start and waits for the greeting to finish
// so later event counts start from a known baseline.
func (h *sessionHarness) handshake(t *testing.T) {
	t.Helper()
	h.sess.HandleEvent(mediastream.Connected())
	h.sess.HandleEvent(mediastream.Start("S1", "C1", "AC1"))
	waitFor(t, "greeting mark", func() bool {
		return countEvents(h.writer.snapshot(), mediastream.EventMark) >= 1
	})
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// loudFrame returns one above-threshold μ-law frame.
func loudFrame() []byte {
	pcm := make([]int16, mulaw.FrameBytes)
	for i := range pcm {
		pcm[i] = int16(10000 * math.Sin(2*math.Pi*440*float64(i)/float64(mulaw.SampleRate)))
	}
	return mulaw.Encode(pcm)
}

func silenceFrame() []byte {
	return bytes.Repeat([]byte{mulaw.SilenceByte}, mulaw.FrameBytes)
}

func (h *sessionHarness) sendFrames(frame []byte, n int) {
	for range n {
		h.sess.HandleEvent(mediastream.InboundMedia("S1", frame))
	}
}

func TestGreetingFastPath(t *testing.T) {
	t.Parallel()

	h := newSessionHarness(t, 12)
	h.sess.HandleEvent(mediastream.Connected())
	h.sess.HandleEvent(mediastream.Start("S1", "C1", "AC1"))

	// The peer speaking during the greeting must not interrupt it.
	h.sendFrames(loudFrame(), 10)

	waitFor(t, "greeting mark", func() bool {
		return countEvents(h.writer.snapshot(), mediastream.EventMark) == 1
	})

	events := h.writer.snapshot()
	if got := mediaBytes(t, events); !bytes.Equal(got, h.greeting) {
		t.Errorf("greeting bytes = %d, want the full %d-byte artifact", len(got), len(h.greeting))
	}
	if events[len(events)-1].Event != mediastream.EventMark {
		t.Error("greeting must end with a mark")
	}
}

func TestMergeWindowProducesOneTurn(t *testing.T) {
	t.Parallel()

	h := newSessionHarness(t, 1)
	h.handshake(t)
	// STT returns empty so the turn ends with the fixed apology and no
	// further LLM machinery is needed.
	h.sttm.Results = []stt.Result{{Text: ""}}

	// Segment A: 30 voiced frames, EOS after the trailing silence.
	h.sendFrames(loudFrame(), 30)
	h.sendFrames(silenceFrame(), 25)
	// Segment B arrives inside the merge window.
	h.sendFrames(loudFrame(), 30)
	h.sendFrames(silenceFrame(), 25)

	waitFor(t, "one merged STT call", func() bool {
		return h.sttm.CallCount() == 1
	})

	if want := 60 * mulaw.FrameBytes; len(h.sttm.Calls[0].WAV) != want {
		t.Errorf("merged segment = %d bytes, want %d (A then B)", len(h.sttm.Calls[0].WAV), want)
	}

	// Exactly one turn: greeting mark plus the apology mark.
	waitFor(t, "apology reply", func() bool {
		return countEvents(h.writer.snapshot(), mediastream.EventMark) == 2
	})
	if h.sttm.CallCount() != 1 {
		t.Errorf("stt calls = %d, want 1", h.sttm.CallCount())
	}
}

func TestShortBurstNeverReachesSTT(t *testing.T) {
	t.Parallel()

	h := newSessionHarness(t, 1)
	h.handshake(t)
	baseline := countEvents(h.writer.snapshot(), mediastream.EventMedia)

	// 140 ms burst, below every minimum floor.
	h.sendFrames(loudFrame(), 7)
	h.sendFrames(silenceFrame(), 30)

	time.Sleep(200 * time.Millisecond)
	if got := h.sttm.CallCount(); got != 0 {
		t.Errorf("stt calls = %d, want 0 for a discarded burst", got)
	}
	if got := countEvents(h.writer.snapshot(), mediastream.EventMedia); got != baseline {
		t.Errorf("agent sent %d extra media frames for a discarded burst", got-baseline)
	}
}

func TestOutboundTrackIgnored(t *testing.T) {
	t.Parallel()

	h := newSessionHarness(t, 1)
	h.handshake(t)

	echo := mediastream.InboundMedia("S1", loudFrame())
	echo.Media.Track = "outbound"
	for range 60 {
		h.sess.HandleEvent(echo)
	}

	time.Sleep(150 * time.Millisecond)
	if got := h.sttm.CallCount(); got != 0 {
		t.Errorf("stt calls = %d, want 0 for outbound-track media", got)
	}
}

func TestStopCompletesCall(t *testing.T) {
	t.Parallel()

	h := newSessionHarness(t, 1)
	if err := h.store.CreateCall(context.Background(), registry.Call{ID: "C1"}); err != nil {
		t.Fatal(err)
	}
	h.handshake(t)
	waitFor(t, "call bound", func() bool { return h.sess.CallID() == "C1" })

	h.sess.HandleEvent(mediastream.Stop("S1"))
	<-h.sess.Done()

	call, err := h.store.GetCall(context.Background(), "C1")
	if err != nil {
		t.Fatal(err)
	}
	if call.Status != registry.StatusCompleted {
		t.Errorf("status = %q, want completed", call.Status)
	}
}

func TestOperatorSpeakBypassesAIToggle(t *testing.T) {
	t.Parallel()

	h := newSessionHarness(t, 1)
	h.handshake(t)

	h.sess.SetAIEnabled(false)
	h.sess.Speak("An operator will be with you shortly.")

	waitFor(t, "manual reply mark", func() bool {
		return countEvents(h.writer.snapshot(), mediastream.EventMark) == 2
	})
	got := mediaBytes(t, h.writer.snapshot())
	want := []byte("An operator will be with you shortly.")
	// Synthesize is identity here; the reply follows the greeting frame.
	if !bytes.Contains(got, want) {
		t.Errorf("spoken audio missing %q", want)
	}
}

func TestCallerSpeechInterruptsReply(t *testing.T) {
	t.Parallel()

	h := newSessionHarness(t, 1)
	h.handshake(t)
	baseline := countEvents(h.writer.snapshot(), mediastream.EventMedia)

	// A 400-frame reply: identity synthesis turns the text into 400 paced
	// media events, plenty of runway to interrupt.
	const replyFrames = 400
	h.sess.Speak(string(bytes.Repeat([]byte{'a'}, replyFrames*mulaw.FrameBytes)))
	waitFor(t, "reply playback", func() bool {
		return countEvents(h.writer.snapshot(), mediastream.EventMedia) > baseline
	})

	// The caller starts talking over the reply. Past the while-playing
	// warmup this must cancel the in-flight send.
	h.sendFrames(loudFrame(), 10)

	time.Sleep(100 * time.Millisecond)
	interrupted := countEvents(h.writer.snapshot(), mediastream.EventMedia)
	time.Sleep(100 * time.Millisecond)
	final := countEvents(h.writer.snapshot(), mediastream.EventMedia)

	if final != interrupted {
		t.Errorf("media still flowing after caller speech: %d then %d frames", interrupted, final)
	}
	if sent := final - baseline; sent >= replyFrames {
		t.Errorf("reply frames sent = %d, want fewer than %d", sent, replyFrames)
	}
	// A cancelled reply never emits its completion mark.
	if marks := countEvents(h.writer.snapshot(), mediastream.EventMark); marks != 1 {
		t.Errorf("marks = %d, want only the greeting mark", marks)
	}
}
