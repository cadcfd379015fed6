// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package integrate turns aggregated tool results into a single user-facing
// answer, generating prose with the language model and degrading to a
// templated summary when generation is unavailable.
// Implements: prd004-integration (R4.1-R4.5); docs/ARCHITECTURE.md §
// Response Integration.
package integrate

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/research-assistant/internal/llm"
	"github.com/pdiddy/research-assistant/internal/metrics"
	"github.com/pdiddy/research-assistant/pkg/types"
)

// Integrator composes the final response for a query. It never returns an
// error: any failure along the way degrades to the templated fallback so
// the user always gets an answer, with the degradation recorded in the
// response metadata.
type Integrator struct {
	gen llm.Generator
	cfg types.LLMConfig
	log *zap.Logger
}

// NewIntegrator builds an integrator. gen may be nil, in which case every
// response uses the templated fallback.
func NewIntegrator(gen llm.Generator, cfg types.LLMConfig, log *zap.Logger) *Integrator {
	if log == nil {
		log = zap.NewNop()
	}
	cfg = cfg.WithDefaults()
	return &Integrator{gen: gen, cfg: cfg, log: log}
}

// Integrate produces the user-facing response for a query. The response is
// marked degraded when any tool failed or when prose generation fell back
// to the template; raw error strings never reach the message text.
func (g *Integrator) Integrate(ctx context.Context, query types.Query, intent types.Intent, agg types.AggregatedResult, recent []types.Turn, started time.Time) types.IntegratedResponse {
	degraded := agg.AnyFailed()

	message, generated := g.generate(ctx, query, recent, agg)
	if !generated {
		degraded = degraded || len(agg.Results) > 0
		message = fallbackMessage(agg)
	}

	if degraded {
		metrics.DegradedResponses.Inc()
	}

	g.log.Debug("integrated response",
		zap.String("query_id", query.ID),
		zap.String("intent", string(intent.Type)),
		zap.String("params", sortedParams(intent.Parameters)),
		zap.Bool("degraded", degraded),
		zap.Bool("generated", generated))

	return types.IntegratedResponse{
		Message: message,
		Metadata: types.ResponseMetadata{
			IntentType:     intent.Type,
			Confidence:     intent.Confidence,
			ProcessingTime: time.Since(started),
			Degraded:       degraded,
		},
	}
}

// generate attempts model-backed prose. The second return is false when
// the caller should use the fallback instead.
func (g *Integrator) generate(ctx context.Context, query types.Query, recent []types.Turn, agg types.AggregatedResult) (string, bool) {
	if g.gen == nil || len(agg.Results) == 0 {
		return "", false
	}

	prompt, err := buildPrompt(query, recent, agg)
	if err != nil {
		g.log.Warn("prompt rendering failed", zap.String("query_id", query.ID), zap.Error(err))
		return "", false
	}

	text, err := g.gen.Generate(ctx, prompt, llm.GenerateConfig{
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
		Timeout:     g.cfg.Timeout,
	})
	if err != nil {
		g.log.Warn("generation failed, using fallback",
			zap.String("query_id", query.ID), zap.Error(err))
		return "", false
	}
	if text == "" {
		return "", false
	}
	return text, true
}
