package registry

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Compile-time assertion that MemoryStore implements Registry.
var _ Registry = (*MemoryStore)(nil)

// MemoryStore is an in-process Registry for tests and database-less runs.
type MemoryStore struct {
	mu       sync.RWMutex
	calls    map[string]Call
	messages map[string][]Message
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		calls:    make(map[string]Call),
		messages: make(map[string][]Message),
	}
}

// CreateCall implements Registry.
func (s *MemoryStore) CreateCall(_ context.Context, call Call) error {
	if call.Status == "" {
		call.Status = StatusRinging
	}
	if call.StartedAt.IsZero() {
		call.StartedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.calls[call.ID]; ok {
		return fmt.Errorf("registry: call %q already exists", call.ID)
	}
	s.calls[call.ID] = call
	return nil
}

// GetCall implements Registry.
func (s *MemoryStore) GetCall(_ context.Context, id string) (Call, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	call, ok := s.calls[id]
	if !ok {
		return Call{}, ErrNotFound
	}
	return call, nil
}

// LatestRinging implements Registry.
func (s *MemoryStore) LatestRinging(_ context.Context) (Call, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest Call
	found := false
	for _, c := range s.calls {
		if c.Status != StatusRinging {
			continue
		}
		if !found || c.StartedAt.After(latest.StartedAt) {
			latest = c
			found = true
		}
	}
	if !found {
		return Call{}, ErrNotFound
	}
	return latest, nil
}

// UpdateStatus implements Registry.
func (s *MemoryStore) UpdateStatus(_ context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	call, ok := s.calls[id]
	if !ok {
		return ErrNotFound
	}
	call.Status = status
	if status == StatusCompleted {
		call.EndedAt = time.Now()
	}
	s.calls[id] = call
	return nil
}

// SetAIEnabled implements Registry.
func (s *MemoryStore) SetAIEnabled(_ context.Context, id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	call, ok := s.calls[id]
	if !ok {
		return ErrNotFound
	}
	call.AIEnabled = enabled
	s.calls[id] = call
	return nil
}

// SetPurpose implements Registry.
func (s *MemoryStore) SetPurpose(_ context.Context, id, purpose string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	call, ok := s.calls[id]
	if !ok {
		return ErrNotFound
	}
	call.Purpose = purpose
	s.calls[id] = call
	return nil
}

// AppendMessage implements Registry.
func (s *MemoryStore) AppendMessage(_ context.Context, callID string, msg Message) error {
	if msg.At.IsZero() {
		msg.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.calls[callID]; !ok {
		s.calls[callID] = Call{
			ID:        callID,
			Status:    StatusInProgress,
			AIEnabled: true,
			StartedAt: time.Now(),
		}
	}
	s.messages[callID] = append(s.messages[callID], msg)
	return nil
}

// RecentMessages implements Registry.
func (s *MemoryStore) RecentMessages(_ context.Context, callID string, limit int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[callID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// Ping implements Registry.
func (s *MemoryStore) Ping(context.Context) error {
	return nil
}
