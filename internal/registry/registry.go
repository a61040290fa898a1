// Package registry persists call records and conversation logs.
//
// The registry is the engine's only durable state: which calls exist, what
// status they are in, which TTS voice each call is bound to, and the
// per-call message log the LLM uses as context. Two implementations exist,
// Postgres for production and an in-memory store for tests and the
// simulator.
package registry

import (
	"context"
	"errors"
	"time"

	"github.com/vocata-ai/vocata/pkg/provider/tts"
)

// ErrNotFound reports that no call with the given id exists.
var ErrNotFound = errors.New("registry: call not found")

// Call status values.
const (
	StatusRinging    = "ringing"
	StatusInProgress = "in-progress"
	StatusCompleted  = "completed"
)

// Call is one call record.
type Call struct {
	// ID is the telephony call identifier, or a synthetic id for simulator
	// sessions.
	ID string

	// From and To are the caller and callee numbers when known.
	From string
	To   string

	// Status is one of the Status constants.
	Status string

	// Voice is the per-call TTS binding.
	Voice tts.Voice

	// AIEnabled gates automatic replies. Operator manual replies are always
	// allowed.
	AIEnabled bool

	// Purpose is the captured call purpose, set when the caller has stated
	// what they want.
	Purpose string

	StartedAt time.Time
	EndedAt   time.Time
}

// Message is one conversation log entry.
type Message struct {
	// Role is "user" or "assistant".
	Role string

	// Content is the message text.
	Content string

	At time.Time
}

// Registry is the abstraction over call and conversation persistence.
// Implementations must be safe for concurrent use.
type Registry interface {
	// CreateCall inserts a new call record. Creating an id that already
	// exists is an error.
	CreateCall(ctx context.Context, call Call) error

	// GetCall returns the call record, or ErrNotFound.
	GetCall(ctx context.Context, id string) (Call, error)

	// UpdateStatus transitions the call's status. Transitioning a call that
	// does not exist returns ErrNotFound.
	UpdateStatus(ctx context.Context, id, status string) error

	// LatestRinging returns the most recently started call still in the
	// ringing state, or ErrNotFound. Used to bind sessions whose upgrade URL
	// carried no call id.
	LatestRinging(ctx context.Context) (Call, error)

	// SetAIEnabled toggles automatic replies for the call.
	SetAIEnabled(ctx context.Context, id string, enabled bool) error

	// SetPurpose records the captured call purpose.
	SetPurpose(ctx context.Context, id, purpose string) error

	// AppendMessage appends one conversation entry. When no call record
	// exists for callID, a synthetic in-progress record is created first so
	// simulator sessions log cleanly.
	AppendMessage(ctx context.Context, callID string, msg Message) error

	// RecentMessages returns up to limit most recent messages in
	// chronological order.
	RecentMessages(ctx context.Context, callID string, limit int) ([]Message, error)

	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error
}
