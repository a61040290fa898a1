// Package mock provides a scriptable stt.Provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/vocata-ai/vocata/pkg/provider/stt"
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Call records the arguments of one Transcribe invocation.
type Call struct {
	WAV      []byte
	Language string
}

// Provider is a scriptable STT mock. Results are consumed in order; when the
// script runs out the zero Result is returned. Safe for concurrent use.
type Provider struct {
	mu sync.Mutex

	// Results are returned one per call, in order.
	Results []stt.Result

	// Err, when non-nil, is returned by every call.
	Err error

	// Calls records every invocation.
	Calls []Call
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(_ context.Context, wav []byte, language string) (stt.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cp := make([]byte, len(wav))
	copy(cp, wav)
	p.Calls = append(p.Calls, Call{WAV: cp, Language: language})

	if p.Err != nil {
		return stt.Result{}, p.Err
	}
	if len(p.Results) == 0 {
		return stt.Result{}, nil
	}
	r := p.Results[0]
	p.Results = p.Results[1:]
	return r, nil
}

// CallCount returns the number of recorded invocations.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
