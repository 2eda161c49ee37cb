// ABOUTME: Answer synthesis prompt and the deterministic no-LLM fallback
// ABOUTME: Both consume the joined action and knowledge results

package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/2389/helpdesk-gateway/internal/actions"
	"github.com/2389/helpdesk-gateway/internal/knowledge"
)

const synthesisSystemPrompt = `You are an expert enterprise support assistant.
You receive: a user's support query, live API diagnostic data, and documentation.

Guidelines:
- Be concise but complete. Slack messages should be easy to read.
- Use numbered steps for remediation actions.
- Mention ticket IDs, user IDs, or status values from API data.
- If the API shows a problem, explain what it means and how to fix it.
- Do NOT mention "RAG", "LLM", or "API call". Speak naturally.
- End with a friendly offer to help further.
- Use plain Slack Markdown: *bold*, _italic_, numbered lists.
- Maximum 400 words.
`

func synthesisUserPrompt(query string, results []actions.Result, docs []knowledge.Result) string {
	var b strings.Builder
	b.WriteString("=== User Query ===\n")
	b.WriteString(query)
	b.WriteString("\n\n")

	if len(results) > 0 {
		b.WriteString("=== Live API Data ===\n")
		for _, r := range results {
			fmt.Fprintf(&b, "API: %s | Success: %t\n", r.Name, r.Success)
			if r.Success {
				b.WriteString("Data: ")
				b.WriteString(prettyJSON(r.Data))
				b.WriteString("\n")
			} else {
				b.WriteString("Error: ")
				b.WriteString(r.Error)
				b.WriteString("\n")
			}
			b.WriteString("\n")
		}
	}

	if len(docs) > 0 {
		b.WriteString("=== Relevant Documentation ===\n")
		for _, d := range docs {
			fmt.Fprintf(&b, "Title: %s\nContent: %s\n\n", d.Title, d.Excerpt)
		}
	}

	b.WriteString("=== Task ===\nWrite a helpful Slack response for the user.")
	return b.String()
}

func prettyJSON(v any) string {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(out)
}

// fallbackText summarizes raw results when synthesis is unavailable.
func fallbackText(results []actions.Result, docs []knowledge.Result) string {
	var b strings.Builder
	b.WriteString(":warning: *AI synthesis is temporarily unavailable.*\n\n")
	b.WriteString("Here's the raw data from our systems:\n\n")

	if len(results) > 0 {
		b.WriteString("*API Results:*\n")
		for _, r := range results {
			fmt.Fprintf(&b, "• `%s`: ", r.Name)
			if r.Success {
				b.WriteString("✓ Data retrieved\n")
			} else {
				b.WriteString("✗ ")
				b.WriteString(r.Error)
				b.WriteString("\n")
			}
		}
		b.WriteString("\n")
	}

	if len(docs) > 0 {
		b.WriteString("*Relevant Documentation:*\n")
		for _, d := range docs {
			fmt.Fprintf(&b, "• _%s_\n", d.Title)
		}
		b.WriteString("\n")
	}

	b.WriteString("Please try again in a few minutes, or contact support directly.")
	return b.String()
}

func (o *Orchestrator) synthesize(ctx context.Context, query string, results []actions.Result, docs []knowledge.Result) string {
	reply, err := o.llm.Complete(ctx, synthesisSystemPrompt, synthesisUserPrompt(query, results, docs))
	if err == nil {
		if reply = strings.TrimSpace(reply); reply != "" {
			return reply
		}
		err = errors.New("empty completion")
	}
	o.logger.Error("synthesis failed, using fallback", "error", err)
	return fallbackText(results, docs)
}
