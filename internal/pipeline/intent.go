// ABOUTME: Intent detection prompt construction and reply parsing
// ABOUTME: Tolerates fenced JSON and non-string parameter values

package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/2389/helpdesk-gateway/internal/conversation"
)

const (
	IntentServiceUnavailable = "service_unavailable"
	IntentUnknown            = "unknown"
)

// Intent is the classified purpose of a user message.
type Intent struct {
	Name       string
	Parameters map[string]string
}

func intentSystemPrompt(product, description string, intents []string) string {
	var list strings.Builder
	for i, name := range intents {
		if i > 0 {
			list.WriteString("\n")
		}
		list.WriteString("  - ")
		list.WriteString(name)
	}

	return fmt.Sprintf(`You are an enterprise support assistant for %s.
%s

Classify the user's message into exactly one intent from:

%s

Rules:
1. Choose the single best-matching intent.
2. Extract parameters (ticketId, userId, priority, etc.) if mentioned.
3. Respond ONLY with valid JSON, no markdown, no explanation:
   {"intentName": "<intent>", "parameters": {"<key>": "<value>"}}
`, strings.ToUpper(product), description, list.String())
}

func intentUserPrompt(text string, history []conversation.Turn) string {
	if len(history) == 0 {
		return "User message: " + text
	}
	var b strings.Builder
	b.WriteString("Conversation so far:\n")
	for _, t := range history {
		b.WriteString(t.Role)
		b.WriteString(": ")
		b.WriteString(t.Content)
		b.WriteString("\n")
	}
	b.WriteString("\nUser message: ")
	b.WriteString(text)
	return b.String()
}

func (o *Orchestrator) detectIntent(ctx context.Context, product, text string, history []conversation.Turn) Intent {
	system := intentSystemPrompt(product, o.router.Description(product), o.mapper.Intents(product))
	reply, err := o.llm.Complete(ctx, system, intentUserPrompt(text, history))
	if err != nil {
		o.logger.Error("intent detection failed", "product", product, "error", err)
		return Intent{
			Name: IntentServiceUnavailable,
			Parameters: map[string]string{
				"reason":   "LLM service temporarily unavailable",
				"fallback": "true",
			},
		}
	}

	intent, ok := parseIntent(reply)
	if !ok {
		o.logger.Warn("unparseable intent reply", "product", product, "reply", reply)
	}
	return intent
}

// parseIntent decodes {"intentName": ..., "parameters": {...}}, optionally
// wrapped in a ``` or ```json fence. Failures yield the unknown intent.
func parseIntent(raw string) (Intent, bool) {
	cleaned := strings.TrimSpace(raw)
	if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```")
		cleaned = strings.TrimPrefix(cleaned, "json")
		cleaned = strings.TrimSuffix(strings.TrimSpace(cleaned), "```")
		cleaned = strings.TrimSpace(cleaned)
	}

	var payload struct {
		IntentName string         `json:"intentName"`
		Parameters map[string]any `json:"parameters"`
	}
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil || payload.IntentName == "" {
		return Intent{Name: IntentUnknown, Parameters: map[string]string{}}, false
	}

	params := make(map[string]string, len(payload.Parameters))
	for k, v := range payload.Parameters {
		switch val := v.(type) {
		case nil:
		case string:
			params[k] = val
		default:
			params[k] = fmt.Sprint(val)
		}
	}
	return Intent{Name: payload.IntentName, Parameters: params}, true
}
