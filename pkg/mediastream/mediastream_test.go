package mediastream_test

import (
	"bytes"
	"encoding/base64"
	"testing"

	"github.com/vocata-ai/vocata/pkg/mediastream"
)

func TestParseStart(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"event":"start","start":{"streamSid":"S1","callSid":"C1","accountSid":"A1"}}`)
	ev, err := mediastream.Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if ev.Event != mediastream.EventStart {
		t.Errorf("event tag: want start, got %q", ev.Event)
	}
	if ev.Start == nil || ev.Start.StreamSid != "S1" || ev.Start.CallSid != "C1" || ev.Start.AccountSid != "A1" {
		t.Errorf("start payload not decoded: %+v", ev.Start)
	}
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
	}{
		{"malformed json", `{"event":`},
		{"missing event tag", `{"streamSid":"S1"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := mediastream.Parse([]byte(tt.raw)); err == nil {
				t.Error("Parse: expected error, got nil")
			}
		})
	}
}

func TestMediaRoundTrip(t *testing.T) {
	t.Parallel()

	audio := bytes.Repeat([]byte{0x55}, 160)
	ev := mediastream.Media("S1", audio)

	data, err := ev.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	back, err := mediastream.Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	got, err := back.AudioPayload()
	if err != nil {
		t.Fatalf("AudioPayload: %v", err)
	}
	if !bytes.Equal(got, audio) {
		t.Error("payload did not survive the round trip")
	}
	// Agent-originated media must not carry a track.
	if back.Media.Track != "" {
		t.Errorf("agent media track: want empty, got %q", back.Media.Track)
	}
}

func TestIsInbound(t *testing.T) {
	t.Parallel()

	payload := base64.StdEncoding.EncodeToString([]byte{0xFF})
	tests := []struct {
		name  string
		track string
		want  bool
	}{
		{"unset track", "", true},
		{"inbound", mediastream.TrackInbound, true},
		{"outbound", mediastream.TrackOutbound, false},
		{"both", "both", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := mediastream.Event{
				Event: mediastream.EventMedia,
				Media: &mediastream.MediaInfo{Payload: payload, Track: tt.track},
			}
			if got := ev.IsInbound(); got != tt.want {
				t.Errorf("IsInbound = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAudioPayloadRejectsNonMedia(t *testing.T) {
	t.Parallel()

	if _, err := mediastream.Stop("S1").AudioPayload(); err == nil {
		t.Error("AudioPayload on stop event: expected error")
	}
}
