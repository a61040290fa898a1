// Package telephony triggers provider-side call control actions. The only
// action the engine needs is the operator transfer: redirecting a live call
// leg to a human target.
package telephony

import (
	"context"
	"log/slog"
)

// Redirector hands a live call off to a new target.
type Redirector interface {
	// Redirect moves callID to target, a phone number or SIP address.
	Redirect(ctx context.Context, callID, target string) error
}

// Compile-time assertion that Noop implements Redirector.
var _ Redirector = (*Noop)(nil)

// Noop logs redirect requests without touching any provider. Used by the
// simulator and credential-less deployments.
type Noop struct {
	Logger *slog.Logger
}

// Redirect implements Redirector.
func (n *Noop) Redirect(_ context.Context, callID, target string) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("redirect requested with no telephony backend",
		"call_id", callID, "target", target)
	return nil
}
