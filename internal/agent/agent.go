// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package agent orchestrates the query pipeline: read the conversation
// window, classify, dispatch tools, integrate a response, and record both
// sides of the exchange.
// Implements: prd001-intent through prd005-conversation end to end;
//
//	docs/ARCHITECTURE.md § Pipeline.
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pdiddy/research-assistant/internal/metrics"
	"github.com/pdiddy/research-assistant/pkg/types"
)

// Classifier determines the intent of a query given recent turns.
type Classifier interface {
	Classify(ctx context.Context, query types.Query, recent []types.Turn) types.Intent
}

// Dispatcher runs the tool plan for an intent.
type Dispatcher interface {
	Dispatch(ctx context.Context, intent types.Intent) types.AggregatedResult
}

// Integrator composes the user-facing answer.
type Integrator interface {
	Integrate(ctx context.Context, query types.Query, intent types.Intent, agg types.AggregatedResult, recent []types.Turn, started time.Time) types.IntegratedResponse
}

// TurnStore is the slice of the conversation store the agent needs.
type TurnStore interface {
	Append(ctx context.Context, turn types.Turn) (types.Turn, error)
	ReadRecent(ctx context.Context, conversationID string, n int) ([]types.Turn, error)
}

// Request is one user query entering the pipeline. An empty
// ConversationID starts a new conversation.
type Request struct {
	Text           string
	ConversationID string
	UserID         string
}

// Response is the pipeline's answer plus the identifiers callers need to
// follow up.
type Response struct {
	QueryID        string
	ConversationID string
	types.IntegratedResponse
}

// Agent wires the pipeline stages together.
type Agent struct {
	classifier Classifier
	dispatcher Dispatcher
	integrator Integrator
	store      TurnStore
	log        *zap.Logger
}

// New builds an agent from its stages.
func New(classifier Classifier, dispatcher Dispatcher, integrator Integrator, store TurnStore, log *zap.Logger) *Agent {
	if log == nil {
		log = zap.NewNop()
	}
	return &Agent{
		classifier: classifier,
		dispatcher: dispatcher,
		integrator: integrator,
		store:      store,
		log:        log,
	}
}

// ProcessQuery runs one query through the full pipeline. Both the user
// turn and the assistant turn are appended to the conversation log; a
// store failure on the final append is logged but does not discard the
// answer.
func (a *Agent) ProcessQuery(ctx context.Context, req Request) (Response, error) {
	if req.Text == "" {
		return Response{}, fmt.Errorf("empty query text")
	}

	started := time.Now()
	query := types.Query{
		ID:             uuid.NewString(),
		Text:           req.Text,
		UserID:         req.UserID,
		ConversationID: req.ConversationID,
		Timestamp:      started.UTC(),
	}
	if query.ConversationID == "" {
		query.ConversationID = uuid.NewString()
	}

	recent, err := a.store.ReadRecent(ctx, query.ConversationID, 0)
	if err != nil {
		return Response{}, fmt.Errorf("reading conversation window: %w", err)
	}

	intent := a.classifier.Classify(ctx, query, recent)
	agg := a.dispatcher.Dispatch(ctx, intent)
	resp := a.integrator.Integrate(ctx, query, intent, agg, recent, started)

	if _, err := a.store.Append(ctx, types.Turn{
		ConversationID: query.ConversationID,
		Role:           types.RoleUser,
		Content:        query.Text,
		CreatedAt:      query.Timestamp,
	}); err != nil {
		return Response{}, fmt.Errorf("recording user turn: %w", err)
	}

	if _, err := a.store.Append(ctx, types.Turn{
		ConversationID: query.ConversationID,
		Role:           types.RoleAssistant,
		Content:        resp.Message,
		IntentType:     string(intent.Type),
		Entities:       entitySlots(intent),
	}); err != nil {
		// The answer already exists; losing the assistant turn only costs
		// coreference context on the next query.
		a.log.Warn("recording assistant turn failed",
			zap.String("query_id", query.ID), zap.Error(err))
	}

	metrics.QueryDuration.Observe(time.Since(started).Seconds())

	a.log.Info("processed query",
		zap.String("query_id", query.ID),
		zap.String("conversation_id", query.ConversationID),
		zap.String("intent", string(intent.Type)),
		zap.Int("tool_results", len(agg.Results)),
		zap.Bool("degraded", resp.Metadata.Degraded),
		zap.Duration("elapsed", time.Since(started)))

	return Response{
		QueryID:            query.ID,
		ConversationID:     query.ConversationID,
		IntegratedResponse: resp,
	}, nil
}

// entitySlots pulls the string-valued intent parameters into the entity
// map recorded with the assistant turn. Later queries resolve pronouns
// against these.
func entitySlots(intent types.Intent) map[string]any {
	if len(intent.Parameters) == 0 {
		return nil
	}
	entities := map[string]any{}
	for k, v := range intent.Parameters {
		if s, ok := v.(string); ok && s != "" {
			entities[k] = s
		}
	}
	if len(entities) == 0 {
		return nil
	}
	return entities
}
