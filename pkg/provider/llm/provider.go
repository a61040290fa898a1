// Package llm defines the Provider interface for chat completion backends.
//
// The dialog engine issues two kinds of completions per turn: a constrained
// intent classification and a short conversational reply. Both are one-shot
// request/response calls; streaming buys nothing when replies are capped at
// a sentence or two, so the interface stays non-streaming.
//
// Implementations must be safe for concurrent use.
package llm

import "context"

// Message is one entry of the conversation context.
type Message struct {
	// Role is "user", "assistant", or "system".
	Role string

	// Content is the message text.
	Content string
}

// Request carries everything the model needs for one completion.
type Request struct {
	// SystemPrompt is injected ahead of the conversation history.
	SystemPrompt string

	// Messages is the ordered conversation context; the last message drives
	// the response.
	Messages []Message

	// Temperature controls randomness. 0 requests deterministic decoding.
	Temperature float64

	// MaxTokens caps the completion length. Zero means provider default.
	MaxTokens int
}

// Provider is the abstraction over any chat completion backend.
type Provider interface {
	// Complete returns the model's reply text for req.
	Complete(ctx context.Context, req Request) (string, error)
}
