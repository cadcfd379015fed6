// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package dispatch maps classified intents onto tool invocations and runs
// them against the protocol client, fanning out independent calls and
// chaining dependent ones.
// Implements: prd003-dispatch (R3.1-R3.4); docs/ARCHITECTURE.md § Tool
// Dispatch.
package dispatch

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/pdiddy/research-assistant/pkg/types"
)

// ToolCaller is the slice of the protocol client the dispatcher needs.
type ToolCaller interface {
	Call(ctx context.Context, tool string, args map[string]any) types.ToolResult
}

// Dispatcher executes the tool plan for an intent.
type Dispatcher struct {
	caller ToolCaller
	log    *zap.Logger
}

// NewDispatcher builds a dispatcher over a tool caller.
func NewDispatcher(caller ToolCaller, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{caller: caller, log: log}
}

// Dispatch runs the plan for an intent and returns results in issue order
// regardless of completion order. A failing step never cancels its
// siblings; each failure is carried as a ToolResult so the integrator can
// report partial answers. Unknown intents yield an empty result set.
func (d *Dispatcher) Dispatch(ctx context.Context, intent types.Intent) types.AggregatedResult {
	plan := planFor(intent)
	agg := types.AggregatedResult{IntentType: intent.Type}
	if len(plan.Steps) == 0 {
		return agg
	}

	results := make([]types.ToolResult, len(plan.Steps))

	var wg sync.WaitGroup
	for i, step := range plan.Steps {
		wg.Add(1)
		go func(i int, step Step) {
			defer wg.Done()
			results[i] = d.caller.Call(ctx, step.Tool, step.Args(intent))
		}(i, step)
	}
	wg.Wait()

	agg.Results = results

	if plan.DependentTool != "" {
		first := results[0]
		if first.Failed() {
			d.log.Debug("skipping dependent tool, predecessor failed",
				zap.String("tool", plan.DependentTool),
				zap.String("predecessor", first.ToolName))
		} else {
			args := plan.DependentArgs(first.Payload)
			agg.Results = append(agg.Results, d.caller.Call(ctx, plan.DependentTool, args))
		}
	}

	for _, r := range agg.Results {
		if r.Failed() {
			d.log.Warn("tool call failed",
				zap.String("tool", r.ToolName),
				zap.String("status", string(r.Status)),
				zap.String("detail", r.ErrorDetail))
		}
	}
	return agg
}

// citationArgs derives get_citation_network arguments from a
// get_paper_details payload. Falls back to an empty paper_id when the
// payload has no recognizable identifier; the tool reports its own error
// in that case.
func citationArgs(payload []byte) map[string]any {
	var details struct {
		PaperID string `json:"paper_id"`
		ID      string `json:"id"`
	}
	_ = json.Unmarshal(payload, &details)

	id := details.PaperID
	if id == "" {
		id = details.ID
	}
	return map[string]any{"paper_id": id, "depth": 1}
}
