// Package sim implements a call simulator: a WebSocket client that speaks
// the telephony media-stream protocol at a running engine, playing either a
// recorded audio file or a live PCM stream as the caller and recording what
// the agent says back.
package sim

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/vocata-ai/vocata/internal/transcode"
	"github.com/vocata-ai/vocata/pkg/mediastream"
	"github.com/vocata-ai/vocata/pkg/mulaw"
)

// Config controls one simulated call.
type Config struct {
	// URL is the engine's stream endpoint, e.g. ws://localhost:8080/streams.
	URL string

	// CallID is sent as the callSid of the start event. A synthetic id is
	// generated when empty.
	CallID string

	// Speed is the playback multiplier for file mode. 1.0 is real time;
	// higher plays faster. Default 1.0.
	Speed float64

	// InputRate is the live-mode PCM sample rate in Hz. Default 16000.
	InputRate int

	// Linger is how long the client stays on the line after its audio ends,
	// recording the agent's reply. Default 5 s.
	Linger time.Duration

	// Transcoder decodes audio files in file mode. Defaults to an ffmpeg
	// transcoder from PATH.
	Transcoder *transcode.Transcoder

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Speed <= 0 {
		c.Speed = 1.0
	}
	if c.InputRate <= 0 {
		c.InputRate = 16000
	}
	if c.Linger <= 0 {
		c.Linger = 5 * time.Second
	}
	if c.Transcoder == nil {
		c.Transcoder = transcode.New(transcode.Config{})
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Result summarizes one simulated call.
type Result struct {
	StreamSid  string
	CallID     string
	SentFrames int

	// AgentAudio is the agent's outbound μ-law, concatenated in order.
	AgentAudio []byte

	// Marks are the playback-complete marker names the agent emitted.
	Marks []string

	Duration time.Duration
}

// Client runs simulated calls. Each Play/Live call opens its own connection.
type Client struct {
	cfg Config
}

// New creates a Client.
func New(cfg Config) *Client {
	return &Client{cfg: cfg.withDefaults()}
}

// PlayFile decodes an audio file to telephony μ-law and plays it as the
// caller.
func (c *Client) PlayFile(ctx context.Context, path string) (*Result, error) {
	audio, err := c.cfg.Transcoder.FileToMulaw(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("sim: decode %s: %w", path, err)
	}
	c.cfg.Logger.Info("file decoded", "path", path,
		"seconds", float64(len(audio))/float64(mulaw.SampleRate))
	return c.PlayMulaw(ctx, audio)
}

// PlayMulaw plays raw 8 kHz μ-law as the caller, paced at the frame cadence
// scaled by Speed, then lingers to record the agent's reply.
func (c *Client) PlayMulaw(ctx context.Context, audio []byte) (*Result, error) {
	call, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer call.close()

	interval := time.Duration(float64(mulaw.FrameMs)*float64(time.Millisecond)/c.cfg.Speed)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for _, frame := range mulaw.Split(audio) {
		select {
		case <-ctx.Done():
			return call.finish(ctx)
		case <-ticker.C:
		}
		if err := call.sendFrame(ctx, frame); err != nil {
			return nil, err
		}
	}
	c.cfg.Logger.Info("caller audio sent", "frames", call.sent)

	select {
	case <-ctx.Done():
	case <-time.After(c.cfg.Linger):
	}
	return call.finish(ctx)
}

// Live plays a raw little-endian int16 PCM stream (at Config.InputRate) as
// the caller until r is exhausted or ctx is cancelled. The stream is
// resampled to 8 kHz and framed; capture timing provides the pacing.
func (c *Client) Live(ctx context.Context, r io.Reader) (*Result, error) {
	call, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer call.close()

	resampler := mulaw.NewResampler(c.cfg.InputRate, mulaw.SampleRate)
	var framer mulaw.Framer
	buf := make([]byte, 4096)

	for {
		if ctx.Err() != nil {
			break
		}
		n, err := r.Read(buf)
		if n > 0 {
			pcm := resampler.Resample(pcmSamples(buf[:n]))
			for _, frame := range framer.Push(mulaw.Encode(pcm)) {
				if err := call.sendFrame(ctx, frame); err != nil {
					return nil, err
				}
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("sim: read live input: %w", err)
			}
			break
		}
	}
	c.cfg.Logger.Info("live input ended", "frames", call.sent)

	select {
	case <-ctx.Done():
	case <-time.After(c.cfg.Linger):
	}
	return call.finish(ctx)
}

// pcmSamples reinterprets little-endian bytes as int16 samples, dropping a
// trailing odd byte.
func pcmSamples(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

// activeCall is one open simulated connection.
type activeCall struct {
	cfg       Config
	conn      *websocket.Conn
	streamSid string
	callID    string
	started   time.Time
	sent      int

	mu     sync.Mutex
	agent  []byte
	marks  []string
	closed bool
}

// dial connects and performs the connected/start handshake with synthetic
// stream and account ids.
func (c *Client) dial(ctx context.Context) (*activeCall, error) {
	conn, _, err := websocket.Dial(ctx, c.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("sim: dial %s: %w", c.cfg.URL, err)
	}
	conn.SetReadLimit(1 << 20)

	call := &activeCall{
		cfg:       c.cfg,
		conn:      conn,
		streamSid: "SM" + uuid.NewString(),
		callID:    c.cfg.CallID,
		started:   time.Now(),
	}
	if call.callID == "" {
		call.callID = "CA" + uuid.NewString()
	}

	go call.readLoop()

	if err := call.send(ctx, mediastream.Connected()); err != nil {
		conn.Close(websocket.StatusInternalError, "")
		return nil, err
	}
	start := mediastream.Start(call.streamSid, call.callID, "AC"+uuid.NewString())
	if err := call.send(ctx, start); err != nil {
		conn.Close(websocket.StatusInternalError, "")
		return nil, err
	}
	c.cfg.Logger.Info("call started", "call_id", call.callID, "stream_sid", call.streamSid)
	return call, nil
}

// readLoop records agent media and marks until the connection closes.
func (a *activeCall) readLoop() {
	for {
		_, data, err := a.conn.Read(context.Background())
		if err != nil {
			return
		}
		ev, err := mediastream.Parse(data)
		if err != nil {
			a.cfg.Logger.Warn("unparsable agent event", "error", err)
			continue
		}
		switch ev.Event {
		case mediastream.EventMedia:
			payload, err := ev.AudioPayload()
			if err != nil {
				continue
			}
			a.mu.Lock()
			a.agent = append(a.agent, payload...)
			a.mu.Unlock()
		case mediastream.EventMark:
			if ev.Mark != nil {
				a.mu.Lock()
				a.marks = append(a.marks, ev.Mark.Name)
				a.mu.Unlock()
				a.cfg.Logger.Info("agent finished a reply",
					"mark", ev.Mark.Name, "agent_bytes", len(a.agent))
			}
		}
	}
}

func (a *activeCall) send(ctx context.Context, ev mediastream.Event) error {
	data, err := ev.Marshal()
	if err != nil {
		return fmt.Errorf("sim: marshal event: %w", err)
	}
	if err := a.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("sim: send event: %w", err)
	}
	return nil
}

func (a *activeCall) sendFrame(ctx context.Context, frame []byte) error {
	if err := a.send(ctx, mediastream.InboundMedia(a.streamSid, frame)); err != nil {
		return err
	}
	a.sent++
	return nil
}

// finish sends the stop event and returns the call summary.
func (a *activeCall) finish(ctx context.Context) (*Result, error) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := a.send(sctx, mediastream.Stop(a.streamSid)); err != nil {
		a.cfg.Logger.Warn("stop event not delivered", "error", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	res := &Result{
		StreamSid:  a.streamSid,
		CallID:     a.callID,
		SentFrames: a.sent,
		AgentAudio: append([]byte(nil), a.agent...),
		Marks:      append([]string(nil), a.marks...),
		Duration:   time.Since(a.started),
	}
	return res, nil
}

func (a *activeCall) close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.mu.Unlock()
	_ = a.conn.Close(websocket.StatusNormalClosure, "")
}
