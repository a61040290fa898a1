// Package whisper provides an stt.Provider backed by the OpenAI-compatible
// audio transcription endpoint (POST /v1/audio/transcriptions).
//
// Each utterance is uploaded as a WAV file in a multipart form with
// temperature 0 and a verbose JSON response, so the detected language and
// audio duration come back alongside the text.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/vocata-ai/vocata/pkg/provider/stt"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "whisper-1"
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the transcription model (default "whisper-1").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the API base URL, e.g. for a self-hosted
// OpenAI-compatible transcription server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = strings.TrimRight(url, "/") }
}

// WithTimeout sets the per-request HTTP timeout. Default is 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// Provider implements stt.Provider against the transcription HTTP API.
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
		return nil, errors.New("whisper: apiKey must not be empty")
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

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, wav []byte, language string) (stt.Result, error) {
	if len(wav) == 0 {
		return stt.Result{}, errors.New("whisper: empty audio buffer")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: write wav data: %w", err)
	}

	fields := map[string]string{
		"model":           p.model,
		"temperature":     "0",
		"response_format": "verbose_json",
	}
	if language != "" {
		fields["language"] = language
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return stt.Result{}, fmt.Errorf("whisper: write field %s: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	endpoint := p.baseURL + "/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return stt.Result{}, fmt.Errorf("whisper: server returned HTTP %d: %s", resp.StatusCode, truncate(data, 200))
	}

	var verbose struct {
		Text     string  `json:"text"`
		Language string  `json:"language"`
		Duration float64 `json:"duration"`
	}
	if err := json.Unmarshal(data, &verbose); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: parse JSON response: %w", err)
	}

	return stt.Result{
		Text:        strings.TrimSpace(verbose.Text),
		Language:    verbose.Language,
		DurationSec: verbose.Duration,
	}, nil
}

// truncate shortens b for error messages.
func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "…"
}
