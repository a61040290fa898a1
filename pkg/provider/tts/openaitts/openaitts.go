// Package openaitts provides a tts.Provider backed by the OpenAI speech
// endpoint (POST /v1/audio/speech).
package openaitts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vocata-ai/vocata/pkg/provider/tts"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "tts-1"
	defaultVoice   = "alloy"
)

// Compile-time assertion that Provider implements tts.Provider.
var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the speech model (default "tts-1").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = strings.TrimRight(url, "/") }
}

// WithTimeout sets the per-request HTTP timeout. Default is 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// Provider implements tts.Provider against the OpenAI speech HTTP API.
// Safe for concurrent use.
type Provider struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// New creates a Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openaitts: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		model:      defaultModel,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// speechRequest is the JSON body of POST /audio/speech.
type speechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format"`
	Speed          float64 `json:"speed,omitempty"`
}

// Synthesize implements tts.Provider. The response body is MP3.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.Voice) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("openaitts: text must not be empty")
	}

	id := voice.ID
	if id == "" {
		id = defaultVoice
	}

	body, err := json.Marshal(speechRequest{
		Model:          p.model,
		Input:          text,
		Voice:          id,
		ResponseFormat: "mp3",
		Speed:          voice.Rate(),
	})
	if err != nil {
		return nil, fmt.Errorf("openaitts: marshal request: %w", err)
	}

	endpoint := p.baseURL + "/audio/speech"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openaitts: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openaitts: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openaitts: read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openaitts: server returned HTTP %d: %s", resp.StatusCode, truncate(data, 200))
	}
	if len(data) == 0 {
		return nil, errors.New("openaitts: empty audio in response")
	}
	return data, nil
}

// truncate shortens b for error messages.
func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "…"
}
