package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vocata-ai/vocata/pkg/mediastream"
	"github.com/vocata-ai/vocata/pkg/mulaw"
)

// Typed sender errors.
var (
	// ErrNoStream reports a send attempted before the peer's start event
	// assigned a stream id.
	ErrNoStream = errors.New("session: no stream id bound")

	// ErrSendInFlight reports a second send started before the first was
	// stopped and awaited.
	ErrSendInFlight = errors.New("session: send already in flight")
)

// FrameWriter writes protocol events to the peer. Implementations must be
// safe for concurrent use; the sender paces media while the event loop may
// emit other events.
type FrameWriter interface {
	WriteEvent(ctx context.Context, ev mediastream.Event) error
}

// SendResult is the outcome of one send generation.
type SendResult struct {
	// Completed is true when every chunk went out and the mark was emitted,
	// false when the generation was cancelled.
	Completed bool

	// Err is set on transport failure.
	Err error
}

// Sender streams μ-law audio to the peer in 160-byte chunks at a 20 ms
// cadence. Every send is tagged with a monotonically increasing generation;
// cancellation names the generation it wants to stop, and the scheduler
// observes it cooperatively between chunks. At most one generation is in
// flight per sender.
type Sender struct {
	w      FrameWriter
	tick   time.Duration
	logger *slog.Logger

	mu                 sync.Mutex
	streamSid          string
	activeGen          uint64
	stopGen            uint64
	uninterruptibleGen uint64
	sending            bool
	greetingInProgress bool
	drained            chan struct{}
}

// NewSender creates a Sender writing through w. tick is the chunk cadence;
// zero means the wire-standard 20 ms.
func NewSender(w FrameWriter, logger *slog.Logger, tick time.Duration) *Sender {
	if tick <= 0 {
		tick = mulaw.FrameMs * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sender{w: w, tick: tick, logger: logger}
}

// BindStream sets the peer-assigned stream id. Sends fail until this is
// called.
func (s *Sender) BindStream(streamSid string) {
	s.mu.Lock()
	s.streamSid = streamSid
	s.mu.Unlock()
}

// Sending reports whether a generation is currently in flight.
func (s *Sender) Sending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sending
}

// GreetingInProgress reports whether the in-flight generation is the initial
// greeting. While true, inbound media is dropped upstream.
func (s *Sender) GreetingInProgress() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.greetingInProgress
}

// Start registers a new send generation synchronously and paces the chunks
// out in a background goroutine. The returned channel receives exactly one
// SendResult. label is recorded for logs; "greeting" additionally marks the
// greeting-in-progress window. uninterruptible exempts the generation from
// stop requests.
func (s *Sender) Start(ctx context.Context, audio []byte, label string, uninterruptible bool) (<-chan SendResult, error) {
	s.mu.Lock()
	if s.streamSid == "" {
		s.mu.Unlock()
		return nil, ErrNoStream
	}
	if s.sending {
		s.mu.Unlock()
		return nil, ErrSendInFlight
	}
	s.activeGen++
	g := s.activeGen
	s.sending = true
	if uninterruptible {
		s.uninterruptibleGen = g
	}
	if label == "greeting" {
		s.greetingInProgress = true
	}
	done := make(chan SendResult, 1)
	drained := make(chan struct{})
	s.drained = drained
	streamSid := s.streamSid
	s.mu.Unlock()

	go func() {
		res := s.pace(ctx, g, streamSid, audio, label)
		s.finish(g, label)
		close(drained)
		done <- res
	}()
	return done, nil
}

// Send is Start followed by waiting for the result. It returns whether the
// send completed naturally.
func (s *Sender) Send(ctx context.Context, audio []byte, label string, uninterruptible bool) (bool, error) {
	done, err := s.Start(ctx, audio, label, uninterruptible)
	if err != nil {
		return false, err
	}
	res := <-done
	return res.Completed, res.Err
}

// pace transmits audio chunk by chunk, observing stop requests between
// ticks, and emits the final mark on natural completion.
func (s *Sender) pace(ctx context.Context, g uint64, streamSid string, audio []byte, label string) SendResult {
	chunks := mulaw.Split(audio)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for i, chunk := range chunks {
		if s.stopped(g) {
			s.logger.Debug("send cancelled",
				"label", label, "generation", g, "sent_chunks", i, "total_chunks", len(chunks))
			return SendResult{Completed: false}
		}
		if err := ctx.Err(); err != nil {
			return SendResult{Completed: false, Err: err}
		}
		if err := s.w.WriteEvent(ctx, mediastream.Media(streamSid, chunk)); err != nil {
			return SendResult{Completed: false, Err: fmt.Errorf("session: write media: %w", err)}
		}
		if i < len(chunks)-1 {
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return SendResult{Completed: false, Err: ctx.Err()}
			}
		}
	}

	mark := mediastream.Mark(streamSid, uuid.NewString())
	if err := s.w.WriteEvent(ctx, mark); err != nil {
		return SendResult{Completed: false, Err: fmt.Errorf("session: write mark: %w", err)}
	}
	s.logger.Debug("send completed", "label", label, "generation", g, "chunks", len(chunks))
	return SendResult{Completed: true}
}

// stopped reports whether generation g has been cancelled. Uninterruptible
// generations never report stopped.
func (s *Sender) stopped(g uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.uninterruptibleGen == g {
		return false
	}
	return s.stopGen >= g
}

// finish clears the in-flight state belonging to generation g.
func (s *Sender) finish(g uint64, label string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sending = false
	if label == "greeting" {
		s.greetingInProgress = false
	}
	if s.uninterruptibleGen == g {
		s.uninterruptibleGen = 0
	}
}

// RequestStop cancels the in-flight generation unless it is
// uninterruptible. Safe to call with nothing in flight.
func (s *Sender) RequestStop(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.sending {
		return
	}
	if s.uninterruptibleGen == s.activeGen {
		s.logger.Debug("stop ignored, generation is uninterruptible",
			"generation", s.activeGen, "reason", reason)
		return
	}
	s.stopGen = s.activeGen
	s.logger.Debug("stop requested", "generation", s.activeGen, "reason", reason)
}

// StopAndWait cancels the in-flight generation and blocks until it drains.
// Uninterruptible generations are awaited without being cancelled.
func (s *Sender) StopAndWait(ctx context.Context, reason string) {
	s.RequestStop(reason)
	s.mu.Lock()
	drained := s.drained
	sending := s.sending
	s.mu.Unlock()
	if !sending || drained == nil {
		return
	}
	select {
	case <-drained:
	case <-ctx.Done():
	}
}
