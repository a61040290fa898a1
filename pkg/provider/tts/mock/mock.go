// Package mock provides a scriptable tts.Provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/vocata-ai/vocata/pkg/provider/tts"
)

// Compile-time assertion that Provider implements tts.Provider.
var _ tts.Provider = (*Provider)(nil)

// Call records the arguments of one Synthesize invocation.
type Call struct {
	Text  string
	Voice tts.Voice
}

// Provider is a scriptable TTS mock. Audio, when set, is returned by every
// call; otherwise the text itself comes back as bytes so tests can assert on
// what would have been spoken. Safe for concurrent use.
type Provider struct {
	mu sync.Mutex

	// Audio, when non-nil, is returned by every call.
	Audio []byte

	// Err, when non-nil, is returned by every call.
	Err error

	// Calls records every invocation.
	Calls []Call
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(_ context.Context, text string, voice tts.Voice) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Calls = append(p.Calls, Call{Text: text, Voice: voice})

	if p.Err != nil {
		return nil, p.Err
	}
	if p.Audio != nil {
		cp := make([]byte, len(p.Audio))
		copy(cp, p.Audio)
		return cp, nil
	}
	return []byte(text), nil
}

// CallCount returns the number of recorded invocations.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
