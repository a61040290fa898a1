package telephony

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const twilioAPIBase = "https://api.twilio.com/2010-04-01"

// Compile-time assertion that Twilio implements Redirector.
var _ Redirector = (*Twilio)(nil)

// Twilio redirects live calls through the Twilio REST API: the call is
// updated with inline TwiML that dials the transfer target.
type Twilio struct {
	accountSid string
	authToken  string
	baseURL    string
	httpClient *http.Client
}

// Option is a functional option for Twilio.
type Option func(*Twilio)

// WithBaseURL overrides the API base URL, mainly for tests.
func WithBaseURL(u string) Option {
	return func(t *Twilio) { t.baseURL = strings.TrimRight(u, "/") }
}

// WithTimeout sets the per-request HTTP timeout. Default is 10 s.
func WithTimeout(d time.Duration) Option {
	return func(t *Twilio) { t.httpClient.Timeout = d }
}

// NewTwilio creates a Twilio redirector.
func NewTwilio(accountSid, authToken string, opts ...Option) (*Twilio, error) {
	if accountSid == "" || authToken == "" {
		return nil, errors.New("telephony: accountSid and authToken must not be empty")
	}
	t := &Twilio{
		accountSid: accountSid,
		authToken:  authToken,
		baseURL:    twilioAPIBase,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Redirect implements Redirector. The live call leg is updated with TwiML
// that dials target; the media stream ends when the provider switches legs.
func (t *Twilio) Redirect(ctx context.Context, callID, target string) error {
	if callID == "" || target == "" {
		return errors.New("telephony: callID and target must not be empty")
	}

	twiml := fmt.Sprintf("<Response><Dial>%s</Dial></Response>", target)
	form := url.Values{}
	form.Set("Twiml", twiml)

	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls/%s.json", t.baseURL, t.accountSid, callID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("telephony: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(t.accountSid, t.authToken)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telephony: redirect request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return fmt.Errorf("telephony: redirect returned HTTP %d: %s", resp.StatusCode, body)
	}
	return nil
}
