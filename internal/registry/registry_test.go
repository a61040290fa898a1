package registry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vocata-ai/vocata/internal/registry"
	"github.com/vocata-ai/vocata/pkg/provider/tts"
)

func TestCallLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := registry.NewMemoryStore()

	call := registry.Call{
		ID:        "CA123",
		From:      "+15550001111",
		Voice:     tts.Voice{Engine: "openai", ID: "nova", Speed: 1.1},
		AIEnabled: true,
	}
	if err := store.CreateCall(ctx, call); err != nil {
		t.Fatal(err)
	}
	if err := store.CreateCall(ctx, call); err == nil {
		t.Error("duplicate CreateCall: want error, got nil")
	}

	got, err := store.GetCall(ctx, "CA123")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != registry.StatusRinging {
		t.Errorf("initial status = %q, want ringing", got.Status)
	}
	if got.Voice.ID != "nova" {
		t.Errorf("voice binding lost: %+v", got.Voice)
	}

	if err := store.UpdateStatus(ctx, "CA123", registry.StatusCompleted); err != nil {
		t.Fatal(err)
	}
	got, _ = store.GetCall(ctx, "CA123")
	if got.EndedAt.IsZero() {
		t.Error("completed call has zero EndedAt")
	}

	if _, err := store.GetCall(ctx, "missing"); !errors.Is(err, registry.ErrNotFound) {
		t.Errorf("GetCall(missing) = %v, want ErrNotFound", err)
	}
	if err := store.UpdateStatus(ctx, "missing", registry.StatusCompleted); !errors.Is(err, registry.ErrNotFound) {
		t.Errorf("UpdateStatus(missing) = %v, want ErrNotFound", err)
	}
}

func TestLatestRingingPicksMostRecent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := registry.NewMemoryStore()

	if _, err := store.LatestRinging(ctx); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("empty store: want ErrNotFound, got %v", err)
	}

	base := time.Now()
	for i, id := range []string{"CA-old", "CA-new", "CA-done"} {
		call := registry.Call{ID: id, StartedAt: base.Add(time.Duration(i) * time.Second)}
		if id == "CA-done" {
			call.Status = registry.StatusCompleted
		}
		if err := store.CreateCall(ctx, call); err != nil {
			t.Fatal(err)
		}
	}

	got, err := store.LatestRinging(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "CA-new" {
		t.Errorf("LatestRinging = %q, want CA-new", got.ID)
	}
}

func TestAppendMessageCreatesSyntheticCall(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := registry.NewMemoryStore()

	// Simulator sessions log without a prior CreateCall.
	if err := store.AppendMessage(ctx, "sim-1", registry.Message{Role: "user", Content: "hello"}); err != nil {
		t.Fatal(err)
	}
	call, err := store.GetCall(ctx, "sim-1")
	if err != nil {
		t.Fatal(err)
	}
	if call.Status != registry.StatusInProgress {
		t.Errorf("synthetic call status = %q, want in-progress", call.Status)
	}
	if !call.AIEnabled {
		t.Error("synthetic call should default to AI enabled")
	}
}

func TestRecentMessagesLimitAndOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := registry.NewMemoryStore()

	texts := []string{"one", "two", "three", "four"}
	for _, txt := range texts {
		if err := store.AppendMessage(ctx, "CA1", registry.Message{Role: "user", Content: txt}); err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := store.RecentMessages(ctx, "CA1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("len = %d, want 2", len(msgs))
	}
	if msgs[0].Content != "three" || msgs[1].Content != "four" {
		t.Errorf("got %q,%q, want the last two in order", msgs[0].Content, msgs[1].Content)
	}
}
