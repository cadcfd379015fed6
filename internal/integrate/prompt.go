// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package integrate

import (
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/pdiddy/research-assistant/pkg/types"
)

// promptTemplate renders the generation prompt. Tool results are listed in
// issue order and failures are named explicitly so the model acknowledges
// gaps instead of inventing data.
var promptTemplate = template.Must(template.New("integrate").Parse(
	`You are a research assistant. Answer the user's question using only the tool results below.
{{- if .Turns}}

Conversation so far:
{{- range .Turns}}
{{.Role}}: {{.Content}}
{{- end}}
{{- end}}

User question: {{.Question}}
Detected intent: {{.Intent}}

Tool results:
{{- range .Results}}
[{{.ToolName}}] {{if .Failed}}FAILED: {{.ErrorDetail}}{{else}}{{printf "%s" .Payload}}{{end}}
{{- end}}
{{- if .AnyFailed}}

Some tools failed. Answer from the successful results and say what is missing.
{{- end}}

Write a concise, factual answer. Do not mention the tools by name.`))

// promptData feeds promptTemplate.
type promptData struct {
	Question  string
	Intent    types.IntentType
	Turns     []types.Turn
	Results   []types.ToolResult
	AnyFailed bool
}

// buildPrompt renders the prompt for a query, its conversation window, and
// its tool results. The output is deterministic for identical inputs.
func buildPrompt(query types.Query, recent []types.Turn, agg types.AggregatedResult) (string, error) {
	var sb strings.Builder
	err := promptTemplate.Execute(&sb, promptData{
		Question:  query.Text,
		Intent:    agg.IntentType,
		Turns:     recent,
		Results:   agg.Results,
		AnyFailed: agg.AnyFailed(),
	})
	if err != nil {
		return "", fmt.Errorf("rendering prompt: %w", err)
	}
	return sb.String(), nil
}

// fallbackMessage builds a plain-text answer when generation is
// unavailable: a per-tool summary of what succeeded and what did not.
func fallbackMessage(agg types.AggregatedResult) string {
	if len(agg.Results) == 0 {
		return "I could not determine what you are asking for. " +
			"Try asking about papers, authors, citations, trends, or keywords."
	}

	var sb strings.Builder
	sb.WriteString("Here is what I found:\n")
	for _, r := range agg.Results {
		if r.Failed() {
			fmt.Fprintf(&sb, "- %s: unavailable\n", toolLabel(r.ToolName))
			continue
		}
		fmt.Fprintf(&sb, "- %s: %s\n", toolLabel(r.ToolName), compactPayload(r.Payload))
	}
	if agg.AnyFailed() {
		sb.WriteString("Some sources were unavailable, so this answer may be incomplete.")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// toolLabels maps tool names to reader-facing labels.
var toolLabels = map[string]string{
	"search_papers":        "paper search",
	"search_authors":       "author lookup",
	"get_author_papers":    "author's papers",
	"get_paper_details":    "paper details",
	"get_citation_network": "citation network",
	"get_trending_papers":  "trending papers",
	"get_top_keywords":     "top keywords",
}

func toolLabel(tool string) string {
	if label, ok := toolLabels[tool]; ok {
		return label
	}
	return tool
}

// compactPayload reduces a JSON payload to a one-line digest for the
// fallback answer. Long payloads are truncated at a word boundary.
func compactPayload(payload []byte) string {
	s := strings.Join(strings.Fields(string(payload)), " ")
	const limit = 400
	if len(s) <= limit {
		return s
	}
	if idx := strings.LastIndex(s[:limit], " "); idx > 0 {
		s = s[:idx]
	} else {
		s = s[:limit]
	}
	return s + "..."
}

// sortedParams renders intent parameters deterministically for logging.
func sortedParams(params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, params[k]))
	}
	return strings.Join(parts, " ")
}
