package sim_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/vocata-ai/vocata/internal/sim"
	"github.com/vocata-ai/vocata/pkg/mediastream"
	"github.com/vocata-ai/vocata/pkg/mulaw"
)

// fakeAgent accepts one media stream, records the caller's events, and after
// the start event answers with a short reply and a mark.
type fakeAgent struct {
	mu     sync.Mutex
	events []mediastream.Event
	reply  []byte
}

func (a *fakeAgent) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		ctx := r.Context()

		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			ev, err := mediastream.Parse(data)
			if err != nil {
				continue
			}
			a.mu.Lock()
			a.events = append(a.events, ev)
			a.mu.Unlock()

			switch ev.Event {
			case mediastream.EventStart:
				for _, frame := range mulaw.Split(a.reply) {
					out, _ := mediastream.Media(ev.Start.StreamSid, frame).Marshal()
					if err := conn.Write(ctx, websocket.MessageText, out); err != nil {
						return
					}
				}
				mark, _ := mediastream.Mark(ev.Start.StreamSid, "reply-done").Marshal()
				if err := conn.Write(ctx, websocket.MessageText, mark); err != nil {
					return
				}
			case mediastream.EventStop:
				return
			}
		}
	}
}

func (a *fakeAgent) snapshot() []mediastream.Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]mediastream.Event(nil), a.events...)
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestPlayMulawRecordsAgentReply(t *testing.T) {
	t.Parallel()

	agent := &fakeAgent{reply: bytes.Repeat([]byte{0x42}, 3*mulaw.FrameBytes)}
	srv := httptest.NewServer(agent.handler())
	defer srv.Close()

	client := sim.New(sim.Config{
		URL:    wsURL(srv),
		CallID: "CA-test",
		Speed:  100, // no point pacing a test in real time
		Linger: 200 * time.Millisecond,
	})

	caller := bytes.Repeat([]byte{0x13}, 5*mulaw.FrameBytes)
	res, err := client.PlayMulaw(context.Background(), caller)
	if err != nil {
		t.Fatal(err)
	}

	if res.SentFrames != 5 {
		t.Errorf("sent frames = %d, want 5", res.SentFrames)
	}
	if res.CallID != "CA-test" {
		t.Errorf("call id = %q, want CA-test", res.CallID)
	}
	if len(res.AgentAudio) != len(agent.reply) {
		t.Errorf("agent audio = %d bytes, want %d", len(res.AgentAudio), len(agent.reply))
	}
	if len(res.Marks) != 1 || res.Marks[0] != "reply-done" {
		t.Errorf("marks = %v, want [reply-done]", res.Marks)
	}

	events := agent.snapshot()
	if len(events) < 3 {
		t.Fatalf("agent saw %d events, want at least connected/start/stop", len(events))
	}
	if events[0].Event != mediastream.EventConnected || events[1].Event != mediastream.EventStart {
		t.Errorf("handshake order = %s, %s", events[0].Event, events[1].Event)
	}
	if events[1].Start.CallSid != "CA-test" {
		t.Errorf("start callSid = %q, want CA-test", events[1].Start.CallSid)
	}
	if last := events[len(events)-1]; last.Event != mediastream.EventStop {
		t.Errorf("last event = %s, want stop", last.Event)
	}
	media := 0
	for _, ev := range events {
		if ev.Event == mediastream.EventMedia {
			media++
			if ev.Media.Track != mediastream.TrackInbound {
				t.Errorf("caller media track = %q, want inbound", ev.Media.Track)
			}
		}
	}
	if media != 5 {
		t.Errorf("agent saw %d media frames, want 5", media)
	}
}

func TestLiveResamplesAndFrames(t *testing.T) {
	t.Parallel()

	agent := &fakeAgent{}
	srv := httptest.NewServer(agent.handler())
	defer srv.Close()

	client := sim.New(sim.Config{
		URL:       wsURL(srv),
		InputRate: 16000,
		Linger:    100 * time.Millisecond,
	})

	// One second of 16 kHz silence: 16000 samples, little-endian int16.
	pcm := make([]byte, 16000*2)
	for i := 0; i < len(pcm); i += 2 {
		binary.LittleEndian.PutUint16(pcm[i:], 0)
	}

	res, err := client.Live(context.Background(), bytes.NewReader(pcm))
	if err != nil {
		t.Fatal(err)
	}

	// 16 kHz down to 8 kHz is about 8000 samples, 50 full frames; the
	// resampler may hold back a boundary sample.
	if res.SentFrames < 49 || res.SentFrames > 50 {
		t.Errorf("sent frames = %d, want 49..50 for one second of audio", res.SentFrames)
	}
	if res.CallID == "" || !strings.HasPrefix(res.CallID, "CA") {
		t.Errorf("call id = %q, want a generated CA id", res.CallID)
	}
}
