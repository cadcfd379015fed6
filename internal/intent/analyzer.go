// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package intent classifies user queries into research intents and
// extracts the parameters each intent needs downstream.
// Implements: prd001-intent (R1.1-R1.5); docs/ARCHITECTURE.md § Intent
// Analysis.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/pdiddy/research-assistant/internal/llm"
	"github.com/pdiddy/research-assistant/pkg/types"
)

// requiredSlots names the parameter each intent cannot act without.
// citation_analysis accepts either of its two slots.
var requiredSlots = map[types.IntentType][]string{
	types.IntentSearchPapers:     {"keywords"},
	types.IntentAuthorInfo:       {"author_name"},
	types.IntentCitationAnalysis: {"paper_title", "paper_id"},
}

// Analyzer turns a raw query into a typed intent. Classification prefers
// the language model when one is configured and falls back to the
// deterministic keyword rules on any model failure, so the pipeline keeps
// answering when the model is unreachable.
type Analyzer struct {
	cfg   types.AnalyzerConfig
	rules []Rule
	gen   llm.Generator
	log   *zap.Logger
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithGenerator enables model-backed classification.
func WithGenerator(g llm.Generator) Option {
	return func(a *Analyzer) { a.gen = g }
}

// WithLogger sets the analyzer's logger.
func WithLogger(log *zap.Logger) Option {
	return func(a *Analyzer) { a.log = log }
}

// NewAnalyzer builds an analyzer. When cfg.RulesFile is set the YAML table
// replaces the built-in rules.
func NewAnalyzer(cfg types.AnalyzerConfig, opts ...Option) (*Analyzer, error) {
	cfg = cfg.WithDefaults()

	a := &Analyzer{
		cfg:   cfg,
		rules: defaultRules,
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}

	if cfg.RulesFile != "" {
		rules, err := LoadRules(cfg.RulesFile)
		if err != nil {
			return nil, err
		}
		a.rules = rules
	}
	return a, nil
}

// Classify determines the intent of a query. recent holds the most recent
// conversation turns, newest last; entities recorded on those turns fill
// missing slots so follow-up queries ("what else has she written?") resolve
// against the prior subject.
func (a *Analyzer) Classify(ctx context.Context, query types.Query, recent []types.Turn) types.Intent {
	var intent types.Intent

	if a.cfg.UseLLM && a.gen != nil {
		llmIntent, err := a.classifyLLM(ctx, query.Text)
		if err != nil {
			a.log.Warn("model classification failed, using rules",
				zap.String("query_id", query.ID),
				zap.Error(err))
			intent = a.classifyRules(query.Text)
		} else {
			intent = llmIntent
		}
	} else {
		intent = a.classifyRules(query.Text)
	}

	a.fillSlots(&intent, query.Text)
	a.resolveCoreferences(&intent, recent)

	if missingRequiredSlot(intent) {
		intent.Confidence -= a.cfg.MissingSlotPenalty
	}
	if intent.Confidence < a.cfg.ConfidenceThreshold {
		a.log.Debug("confidence below threshold, downgrading to unknown",
			zap.String("query_id", query.ID),
			zap.String("intent", string(intent.Type)),
			zap.Float64("confidence", intent.Confidence))
		intent.Type = types.IntentUnknown
	}

	a.log.Debug("classified query",
		zap.String("query_id", query.ID),
		zap.String("intent", string(intent.Type)),
		zap.Float64("confidence", intent.Confidence))
	return intent
}

// classifyRules applies the keyword table.
func (a *Analyzer) classifyRules(text string) types.Intent {
	intentType, confidence := matchRules(a.rules, text)
	return types.Intent{
		Type:       intentType,
		Parameters: map[string]any{},
		Confidence: confidence,
	}
}

// classifyPrompt asks the model for a strict JSON classification.
const classifyPrompt = `Classify the research query below into exactly one intent.

Intents:
- search_papers: find papers on a topic
- author_info: information about an author or their papers
- citation_analysis: citation relationships of a specific paper
- trend_analysis: trending research areas
- keyword_analysis: most frequent keywords in a field
- unknown: none of the above

Respond with JSON only, no prose:
{"intent": "<intent>", "parameters": {...}, "confidence": <0.0-1.0>}

Parameters by intent: search_papers needs "keywords" (list of strings);
author_info needs "author_name"; citation_analysis needs "paper_title" or
"paper_id"; trend_analysis and keyword_analysis take an optional "field".

Query: %s`

// llmClassification is the JSON shape the model is asked to return.
type llmClassification struct {
	Intent     string         `json:"intent"`
	Parameters map[string]any `json:"parameters"`
	Confidence float64        `json:"confidence"`
}

// intentAliases maps model spellings back onto the canonical enum.
var intentAliases = map[string]types.IntentType{
	"paper_search":   types.IntentSearchPapers,
	"search":         types.IntentSearchPapers,
	"author":         types.IntentAuthorInfo,
	"citations":      types.IntentCitationAnalysis,
	"trends":         types.IntentTrendAnalysis,
	"keywords":       types.IntentKeywordAnalysis,
	"general_chat":   types.IntentUnknown,
	"paper_details":  types.IntentCitationAnalysis,
	"none":           types.IntentUnknown,
	"not_applicable": types.IntentUnknown,
}

func (a *Analyzer) classifyLLM(ctx context.Context, text string) (types.Intent, error) {
	out, err := a.gen.Generate(ctx, fmt.Sprintf(classifyPrompt, text), llm.GenerateConfig{
		MaxTokens:   256,
		Temperature: 0,
	})
	if err != nil {
		return types.Intent{}, err
	}

	parsed, err := parseClassification(out)
	if err != nil {
		return types.Intent{}, err
	}

	intentType := types.IntentType(parsed.Intent)
	if !intentType.Valid() {
		alias, ok := intentAliases[strings.ToLower(parsed.Intent)]
		if !ok {
			return types.Intent{}, fmt.Errorf("model returned unknown intent %q", parsed.Intent)
		}
		intentType = alias
	}

	params := parsed.Parameters
	if params == nil {
		params = map[string]any{}
	}
	confidence := parsed.Confidence
	if confidence <= 0 || confidence > 1 {
		confidence = 0.5
	}
	return types.Intent{Type: intentType, Parameters: params, Confidence: confidence}, nil
}

// parseClassification extracts the first JSON object from model output.
// Models wrap JSON in prose or code fences often enough that a plain
// Unmarshal of the whole string is not reliable.
func parseClassification(out string) (llmClassification, error) {
	var c llmClassification

	start := strings.Index(out, "{")
	end := strings.LastIndex(out, "}")
	if start < 0 || end <= start {
		return c, fmt.Errorf("no JSON object in model output")
	}
	if err := json.Unmarshal([]byte(out[start:end+1]), &c); err != nil {
		return c, fmt.Errorf("parsing model classification: %w", err)
	}
	return c, nil
}

// fillSlots extracts parameters from the query text for any slot the
// classifier left empty.
func (a *Analyzer) fillSlots(intent *types.Intent, text string) {
	if intent.Parameters == nil {
		intent.Parameters = map[string]any{}
	}

	switch intent.Type {
	case types.IntentSearchPapers:
		if len(intent.Keywords()) == 0 {
			if kw := extractKeywords(text); len(kw) > 0 {
				intent.Parameters["keywords"] = kw
			}
		}
	case types.IntentAuthorInfo:
		if intent.StringParam("author_name") == "" {
			if name := extractAuthorName(text); name != "" {
				intent.Parameters["author_name"] = name
			}
		}
	case types.IntentCitationAnalysis:
		if intent.StringParam("paper_id") == "" && intent.StringParam("paper_title") == "" {
			id, title := extractPaperRef(text)
			if id != "" {
				intent.Parameters["paper_id"] = id
			}
			if title != "" {
				intent.Parameters["paper_title"] = title
			}
		}
	case types.IntentTrendAnalysis, types.IntentKeywordAnalysis:
		if intent.StringParam("field") == "" {
			if field := extractField(text); field != "" {
				intent.Parameters["field"] = field
			}
		}
	}
}

// resolveCoreferences fills still-missing required slots from entities
// recorded on recent turns, newest first.
func (a *Analyzer) resolveCoreferences(intent *types.Intent, recent []types.Turn) {
	slots, ok := requiredSlots[intent.Type]
	if !ok || !missingRequiredSlot(*intent) {
		return
	}

	window := recent
	if a.cfg.ContextWindow > 0 && len(window) > a.cfg.ContextWindow {
		window = window[len(window)-a.cfg.ContextWindow:]
	}

	for i := len(window) - 1; i >= 0; i-- {
		for _, slot := range slots {
			if v, ok := window[i].Entities[slot]; ok && v != "" {
				intent.Parameters[slot] = v
				return
			}
		}
	}
}

// missingRequiredSlot reports whether an intent lacks every one of its
// required slots. Intents with no required slots are always complete.
func missingRequiredSlot(intent types.Intent) bool {
	slots, ok := requiredSlots[intent.Type]
	if !ok {
		return false
	}
	for _, slot := range slots {
		switch v := intent.Parameters[slot].(type) {
		case string:
			if v != "" {
				return false
			}
		case []string:
			if len(v) > 0 {
				return false
			}
		case []any:
			if len(v) > 0 {
				return false
			}
		}
	}
	return true
}
