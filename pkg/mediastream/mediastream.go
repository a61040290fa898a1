// Package mediastream defines the bidirectional media-streaming wire grammar
// spoken between the telephony provider and the agent, and by the call
// simulator. All frames are JSON text messages tagged by an "event" field;
// media payloads are base64-encoded 8 kHz mono μ-law.
package mediastream

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Event type tags carried in the "event" field.
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventMark      = "mark"
	EventStop      = "stop"
)

// Track values on inbound media. An empty track is treated as inbound.
const (
	TrackInbound  = "inbound"
	TrackOutbound = "outbound"
)

// Event is the envelope for every message on the stream. Only the fields
// matching the Event tag are populated.
type Event struct {
	Event     string     `json:"event"`
	StreamSid string     `json:"streamSid,omitempty"`
	Start     *StartInfo `json:"start,omitempty"`
	Media     *MediaInfo `json:"media,omitempty"`
	Mark      *MarkInfo  `json:"mark,omitempty"`
}

// StartInfo carries the stream binding delivered once per call.
type StartInfo struct {
	StreamSid  string `json:"streamSid"`
	CallSid    string `json:"callSid,omitempty"`
	AccountSid string `json:"accountSid,omitempty"`
}

// MediaInfo carries one window of base64 μ-law audio. Track is set by the
// provider on inbound media and omitted on agent-originated media.
type MediaInfo struct {
	Payload string `json:"payload"`
	Track   string `json:"track,omitempty"`
}

// MarkInfo is the end-of-utterance marker exchanged after a send completes.
type MarkInfo struct {
	Name string `json:"name"`
}

// Parse decodes a single wire message. It returns an error for malformed
// JSON or a message without an event tag; unknown event tags parse fine and
// are left to the caller to ignore.
func Parse(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("mediastream: malformed event: %w", err)
	}
	if ev.Event == "" {
		return Event{}, fmt.Errorf("mediastream: message has no event tag")
	}
	return ev, nil
}

// AudioPayload decodes the μ-law bytes of a media event. Returns an error if
// the event is not media or the payload is not valid base64.
func (e Event) AudioPayload() ([]byte, error) {
	if e.Event != EventMedia || e.Media == nil {
		return nil, fmt.Errorf("mediastream: event %q carries no media payload", e.Event)
	}
	raw, err := base64.StdEncoding.DecodeString(e.Media.Payload)
	if err != nil {
		return nil, fmt.Errorf("mediastream: decode media payload: %w", err)
	}
	return raw, nil
}

// IsInbound reports whether a media event belongs to the caller's audio path.
// Outbound and mixed tracks are the agent's own echo and must be ignored.
func (e Event) IsInbound() bool {
	return e.Media != nil && (e.Media.Track == "" || e.Media.Track == TrackInbound)
}

// Connected builds the session-opening handshake event.
func Connected() Event {
	return Event{Event: EventConnected}
}

// Start builds the stream-binding event.
func Start(streamSid, callSid, accountSid string) Event {
	return Event{
		Event: EventStart,
		Start: &StartInfo{StreamSid: streamSid, CallSid: callSid, AccountSid: accountSid},
	}
}

// Media builds an agent-to-peer media event; track is always omitted on this
// direction.
func Media(streamSid string, audio []byte) Event {
	return Event{
		Event:     EventMedia,
		StreamSid: streamSid,
		Media:     &MediaInfo{Payload: base64.StdEncoding.EncodeToString(audio)},
	}
}

// InboundMedia builds a peer-to-agent media event on the inbound track. Used
// by the simulator.
func InboundMedia(streamSid string, audio []byte) Event {
	return Event{
		Event:     EventMedia,
		StreamSid: streamSid,
		Media: &MediaInfo{
			Payload: base64.StdEncoding.EncodeToString(audio),
			Track:   TrackInbound,
		},
	}
}

// Mark builds the playback-acknowledgement marker event.
func Mark(streamSid, name string) Event {
	return Event{
		Event:     EventMark,
		StreamSid: streamSid,
		Mark:      &MarkInfo{Name: name},
	}
}

// Stop builds the terminal event.
func Stop(streamSid string) Event {
	return Event{Event: EventStop, StreamSid: streamSid}
}

// Marshal encodes the event for the wire.
func (e Event) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("mediastream: marshal %s event: %w", e.Event, err)
	}
	return data, nil
}
