// Package mock provides a scriptable llm.Provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/vocata-ai/vocata/pkg/provider/llm"
)

// Compile-time assertion that Provider implements llm.Provider.
var _ llm.Provider = (*Provider)(nil)

// Provider is a scriptable LLM mock. Replies are consumed in order; when the
// script runs out the last reply repeats, or "" if none were set. Safe for
// concurrent use.
type Provider struct {
	mu sync.Mutex

	// Replies are returned one per call, in order.
	Replies []string

	// Err, when non-nil, is returned by every call.
	Err error

	// Requests records every invocation.
	Requests []llm.Request
}

// Complete implements llm.Provider.
func (p *Provider) Complete(_ context.Context, req llm.Request) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Requests = append(p.Requests, req)

	if p.Err != nil {
		return "", p.Err
	}
	if len(p.Replies) == 0 {
		return "", nil
	}
	reply := p.Replies[0]
	if len(p.Replies) > 1 {
		p.Replies = p.Replies[1:]
	}
	return reply, nil
}

// CallCount returns the number of recorded invocations.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Requests)
}

// LastRequest returns the most recent request, or the zero Request.
func (p *Provider) LastRequest() llm.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Requests) == 0 {
		return llm.Request{}
	}
	return p.Requests[len(p.Requests)-1]
}
