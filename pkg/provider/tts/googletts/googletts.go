// Package googletts provides a tts.Provider backed by the Google Cloud
// Text-to-Speech REST API (POST /v1/text:synthesize).
//
// Authentication uses an API key passed as a query parameter. The language
// code is derived from the voice name, e.g. "en-US-Neural2-F" speaks "en-US".
package googletts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vocata-ai/vocata/pkg/provider/tts"
)

const (
	defaultBaseURL  = "https://texttospeech.googleapis.com/v1"
	defaultLanguage = "en-US"
)

// Compile-time assertion that Provider implements tts.Provider.
var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithBaseURL overrides the API base URL.
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = strings.TrimRight(u, "/") }
}

// WithTimeout sets the per-request HTTP timeout. Default is 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// Provider implements tts.Provider against the Google Cloud TTS REST API.
// Safe for concurrent use.
type Provider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// New creates a Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("googletts: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// synthesizeRequest mirrors the text:synthesize JSON body.
type synthesizeRequest struct {
	Input struct {
		Text string `json:"text"`
	} `json:"input"`
	Voice struct {
		LanguageCode string `json:"languageCode"`
		Name         string `json:"name"`
	} `json:"voice"`
	AudioConfig struct {
		AudioEncoding string  `json:"audioEncoding"`
		SpeakingRate  float64 `json:"speakingRate,omitempty"`
	} `json:"audioConfig"`
}

// Synthesize implements tts.Provider. The response audio is MP3.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.Voice) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("googletts: text must not be empty")
	}
	if voice.ID == "" {
		return nil, errors.New("googletts: voice.ID must not be empty")
	}

	var sr synthesizeRequest
	sr.Input.Text = text
	sr.Voice.LanguageCode = languageCode(voice.ID)
	sr.Voice.Name = voice.ID
	sr.AudioConfig.AudioEncoding = "MP3"
	sr.AudioConfig.SpeakingRate = voice.Rate()

	body, err := json.Marshal(sr)
	if err != nil {
		return nil, fmt.Errorf("googletts: marshal request: %w", err)
	}

	endpoint := p.baseURL + "/text:synthesize?key=" + url.QueryEscape(p.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("googletts: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("googletts: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("googletts: read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("googletts: server returned HTTP %d: %s", resp.StatusCode, truncate(data, 200))
	}

	var out struct {
		AudioContent string `json:"audioContent"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("googletts: parse JSON response: %w", err)
	}
	if out.AudioContent == "" {
		return nil, errors.New("googletts: empty audioContent in response")
	}

	audio, err := base64.StdEncoding.DecodeString(out.AudioContent)
	if err != nil {
		return nil, fmt.Errorf("googletts: decode audioContent: %w", err)
	}
	return audio, nil
}

// languageCode extracts the BCP-47 language tag from a Google voice name.
// Voice names look like "en-US-Neural2-F" or "de-DE-Wavenet-B".
func languageCode(voiceName string) string {
	parts := strings.SplitN(voiceName, "-", 3)
	if len(parts) >= 2 {
		return parts[0] + "-" + parts[1]
	}
	return defaultLanguage
}

// truncate shortens b for error messages.
func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "…"
}
