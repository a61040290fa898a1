package dialog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vocata-ai/vocata/internal/observe"
	"github.com/vocata-ai/vocata/pkg/provider/llm"
)

// Intent actions.
const (
	ActionNormal      = "normal"
	ActionTakeMessage = "take_message"
	ActionClosing     = "closing"
	ActionFarewell    = "farewell"
)

// Intent is the classifier verdict for one user message.
type Intent struct {
	Action string `json:"action"`
	Reason string `json:"reason"`
}

const classifierPrompt = `You classify one caller message from a phone call.
Respond with strict JSON only, no prose: {"action":"...","reason":"..."}.
Actions:
- "normal": ordinary conversation, questions, anything else.
- "take_message": the caller wants to leave a message for someone.
- "closing": the caller has fully stated the purpose of their call.
- "farewell": the caller is saying goodbye or ending the call.`

// classify runs the constrained intent call. Every failure mode, RPC error,
// malformed JSON, unknown action, falls back to normal so a flaky classifier
// never blocks the conversation.
func classify(ctx context.Context, p llm.Provider, closingAsked bool, userMessage string, metrics *observe.Metrics, logger *slog.Logger) Intent {
	fallback := Intent{Action: ActionNormal, Reason: "fallback"}
	if p == nil {
		return fallback
	}

	input := fmt.Sprintf("closing_asked: %t\nmessage: %s", closingAsked, userMessage)
	started := time.Now()
	raw, err := p.Complete(ctx, llm.Request{
		SystemPrompt: classifierPrompt,
		Messages:     []llm.Message{{Role: "user", Content: input}},
		Temperature:  0,
		MaxTokens:    60,
	})
	metrics.RecordLLMStage(ctx, started)
	if err != nil {
		metrics.RecordProviderRequest(ctx, "classifier", "complete", "error")
		metrics.RecordProviderError(ctx, "classifier", "complete")
		logger.Warn("intent classification failed, assuming normal", "error", err)
		return fallback
	}
	metrics.RecordProviderRequest(ctx, "classifier", "complete", "ok")

	intent, err := parseIntent(raw)
	if err != nil {
		logger.Warn("intent response unparseable, assuming normal",
			"response", raw, "error", err)
		return fallback
	}
	return intent
}

// parseIntent extracts the strict-JSON verdict, tolerating code fences some
// models insist on.
func parseIntent(raw string) (Intent, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	var intent Intent
	if err := json.Unmarshal([]byte(s), &intent); err != nil {
		return Intent{}, err
	}
	switch intent.Action {
	case ActionNormal, ActionTakeMessage, ActionClosing, ActionFarewell:
		return intent, nil
	default:
		return Intent{}, fmt.Errorf("unknown action %q", intent.Action)
	}
}
