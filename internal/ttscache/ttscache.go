// Package ttscache caches rendered μ-law audio for fixed-text utterances,
// the initial greeting and the "thinking" filler, across two tiers: a
// process-wide in-memory map and an object store.
//
// Lookup order on a miss is memory, then object store, then synthesize-now.
// A synthesized artifact populates memory immediately; the object-store
// write is fire-and-forget so a slow bucket never delays a live call.
// Concurrent misses for the same key collapse into one synthesis job.
package ttscache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/vocata-ai/vocata/internal/observe"
	"github.com/vocata-ai/vocata/pkg/provider/tts"
)

// Roles for fixed-text cache entries.
const (
	RoleGreeting = "initial-greeting"
	RoleFiller   = "filler"
)

// writeBackTimeout bounds the asynchronous object-store write.
const writeBackTimeout = 30 * time.Second

// Entry identifies one fixed-text audio artifact.
type Entry struct {
	// Role is RoleGreeting or RoleFiller.
	Role string

	// Tag names the filler text variant, e.g. "thinking". Empty for greetings.
	Tag string

	// Version invalidates filler entries when the text changes. Empty for
	// greetings.
	Version string

	// Voice is the synthesis voice binding.
	Voice tts.Voice
}

// ObjectName renders the stable artifact name, e.g.
// "initial-greeting-openai-nova-1.ulaw" or
// "filler-thinking-v2-openai-nova-1.ulaw". Content is raw μ-law, no header.
func (e Entry) ObjectName() string {
	suffix := fmt.Sprintf("%s-%s-%g.ulaw", e.Voice.Engine, e.Voice.ID, e.Voice.Rate())
	if e.Role == RoleFiller {
		return fmt.Sprintf("%s-%s-%s-%s", RoleFiller, e.Tag, e.Version, suffix)
	}
	return RoleGreeting + "-" + suffix
}

// SynthesizeFunc renders text with the given voice and returns raw 8 kHz
// μ-law. The caller composes the TTS provider with the transcoder.
type SynthesizeFunc func(ctx context.Context, text string, voice tts.Voice) ([]byte, error)

// cached is one memory-tier value.
type cached struct {
	audio    []byte
	loadedAt time.Time
}

// Cache is the two-tier fixed-text audio cache. Safe for concurrent use.
type Cache struct {
	store   ObjectStore
	synth   SynthesizeFunc
	logger  *slog.Logger
	metrics *observe.Metrics

	mu  sync.RWMutex
	mem map[string]cached

	sf singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithMetrics enables per-lookup tier counting.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// New creates a Cache. store may be nil to run memory-only; synth must not
// be nil.
func New(store ObjectStore, synth SynthesizeFunc, logger *slog.Logger, opts ...Option) (*Cache, error) {
	if synth == nil {
		return nil, errors.New("ttscache: synth must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{
		store:  store,
		synth:  synth,
		logger: logger,
		mem:    make(map[string]cached),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Lookup returns the μ-law audio for entry, synthesizing text on a full
// miss. The returned slice is shared; callers must not mutate it.
func (c *Cache) Lookup(ctx context.Context, entry Entry, text string) ([]byte, error) {
	name := entry.ObjectName()

	c.mu.RLock()
	hit, ok := c.mem[name]
	c.mu.RUnlock()
	if ok {
		c.metrics.RecordCacheLookup(ctx, entry.Role, "memory")
		return hit.audio, nil
	}

	v, err, _ := c.sf.Do(name, func() (any, error) {
		// Another flight may have filled memory while we queued.
		c.mu.RLock()
		hit, ok := c.mem[name]
		c.mu.RUnlock()
		if ok {
			c.metrics.RecordCacheLookup(ctx, entry.Role, "memory")
			return hit.audio, nil
		}

		if c.store != nil {
			audio, err := c.store.Get(ctx, name)
			switch {
			case err == nil:
				c.put(name, audio)
				c.metrics.RecordCacheLookup(ctx, entry.Role, "store")
				return audio, nil
			case errors.Is(err, ErrNotFound):
				// fall through to synthesis
			default:
				c.logger.Warn("object store read failed, synthesizing",
					"object", name, "error", err)
			}
		}

		audio, err := c.synth(ctx, text, entry.Voice)
		if err != nil {
			return nil, fmt.Errorf("ttscache: synthesize %s: %w", name, err)
		}
		c.put(name, audio)
		c.writeBack(name, audio)
		c.metrics.RecordCacheLookup(ctx, entry.Role, "synthesized")
		return audio, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Peek returns the memory-tier value without touching the store or
// synthesizing. Used for the greeting fast path.
func (c *Cache) Peek(entry Entry) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	hit, ok := c.mem[entry.ObjectName()]
	return hit.audio, ok
}

// put fills the memory tier.
func (c *Cache) put(name string, audio []byte) {
	c.mu.Lock()
	c.mem[name] = cached{audio: audio, loadedAt: time.Now()}
	c.mu.Unlock()
}

// writeBack persists the artifact without blocking the caller.
func (c *Cache) writeBack(name string, audio []byte) {
	if c.store == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeBackTimeout)
		defer cancel()
		if err := c.store.Put(ctx, name, audio); err != nil {
			c.logger.Warn("object store write-back failed", "object", name, "error", err)
		}
	}()
}

// PrimeItem pairs an entry with the text to render on a cold start.
type PrimeItem struct {
	Entry Entry
	Text  string
}

// Prime loads or synthesizes every item concurrently. A single failing item
// fails the whole prime; callers typically log and continue, since every
// entry also loads lazily on first use.
func (c *Cache) Prime(ctx context.Context, items []PrimeItem) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, item := range items {
		g.Go(func() error {
			_, err := c.Lookup(ctx, item.Entry, item.Text)
			return err
		})
	}
	return g.Wait()
}
