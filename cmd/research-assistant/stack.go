// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pdiddy/research-assistant/internal/agent"
	"github.com/pdiddy/research-assistant/internal/conversation"
	"github.com/pdiddy/research-assistant/internal/dispatch"
	"github.com/pdiddy/research-assistant/internal/intent"
	"github.com/pdiddy/research-assistant/internal/integrate"
	"github.com/pdiddy/research-assistant/internal/llm"
	"github.com/pdiddy/research-assistant/internal/protocol"
	"github.com/pdiddy/research-assistant/pkg/types"
)

// pipeline bundles the assembled components so commands can close them in
// order.
type pipeline struct {
	agent  *agent.Agent
	client *protocol.Client
	store  *conversation.Store
}

// buildPipeline assembles the full query pipeline from config. The
// protocol connection is attempted eagerly but a failure is not fatal: the
// client reconnects on the first call and the integrator degrades until
// then.
func buildPipeline(ctx context.Context, cfg types.AgentConfig, log *zap.Logger) (*pipeline, error) {
	if len(cfg.Protocol.Command) == 0 {
		return nil, fmt.Errorf("protocol.command is not configured")
	}

	client := protocol.NewClient(cfg.Protocol, protocol.WithLogger(log))

	connectCtx, cancel := context.WithTimeout(ctx, startupGrace)
	defer cancel()
	if err := client.Start(connectCtx); err != nil {
		log.Warn("initial backend connection failed, continuing degraded", zap.Error(err))
	}

	store, err := conversation.NewStore(cfg.Store)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("opening conversation store: %w", err)
	}

	var gen llm.Generator
	if cfg.LLM.APIKey != "" {
		gen = llm.NewClaudeGenerator(cfg.LLM)
	} else {
		log.Warn("no Anthropic API key configured, responses use templated fallback")
	}

	analyzer, err := intent.NewAnalyzer(cfg.Analyzer,
		intent.WithGenerator(gen), intent.WithLogger(log))
	if err != nil {
		client.Close()
		store.Close()
		return nil, fmt.Errorf("building analyzer: %w", err)
	}

	dispatcher := dispatch.NewDispatcher(client, log)
	integrator := integrate.NewIntegrator(gen, cfg.LLM, log)

	return &pipeline{
		agent:  agent.New(analyzer, dispatcher, integrator, store, log),
		client: client,
		store:  store,
	}, nil
}

// close shuts the pipeline down: protocol client first so in-flight calls
// fail fast, then the store.
func (p *pipeline) close(log *zap.Logger) {
	if err := p.client.Close(); err != nil {
		log.Warn("closing protocol client", zap.Error(err))
	}
	if err := p.store.Close(); err != nil {
		log.Warn("closing conversation store", zap.Error(err))
	}
}
