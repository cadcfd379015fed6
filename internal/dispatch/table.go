// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package dispatch

import (
	"github.com/pdiddy/research-assistant/pkg/types"
)

// Step is one tool invocation in a plan. Args builds the tool arguments
// from the classified intent; for dependent steps the arguments of the
// follow-up are built from the predecessor's result instead (see
// planFor).
type Step struct {
	Tool string
	Args func(intent types.Intent) map[string]any
}

// Plan is the ordered set of tool invocations for one intent. Independent
// steps run concurrently. A DependentStep, when set, runs after the first
// step succeeds and receives its payload.
type Plan struct {
	Steps []Step

	// DependentTool runs after Steps[0] succeeds, with arguments derived
	// from its payload by DependentArgs. Empty means no second stage.
	DependentTool string
	DependentArgs func(firstPayload []byte) map[string]any
}

// planFor returns the plan for an intent. The table covers every intent
// type; unknown intents get an empty plan so the caller can answer from
// conversation alone.
func planFor(intent types.Intent) Plan {
	switch intent.Type {
	case types.IntentSearchPapers:
		return Plan{Steps: []Step{{
			Tool: "search_papers",
			Args: func(in types.Intent) map[string]any {
				return map[string]any{
					"keywords":    in.Keywords(),
					"max_results": 10,
				}
			},
		}}}

	case types.IntentAuthorInfo:
		author := func(in types.Intent) map[string]any {
			return map[string]any{"author_name": in.StringParam("author_name")}
		}
		return Plan{Steps: []Step{
			{Tool: "search_authors", Args: author},
			{Tool: "get_author_papers", Args: author},
		}}

	case types.IntentCitationAnalysis:
		return Plan{
			Steps: []Step{{
				Tool: "get_paper_details",
				Args: func(in types.Intent) map[string]any {
					args := map[string]any{}
					if id := in.StringParam("paper_id"); id != "" {
						args["paper_id"] = id
					}
					if title := in.StringParam("paper_title"); title != "" {
						args["paper_title"] = title
					}
					return args
				},
			}},
			DependentTool: "get_citation_network",
			DependentArgs: citationArgs,
		}

	case types.IntentTrendAnalysis:
		return Plan{Steps: []Step{{
			Tool: "get_trending_papers",
			Args: fieldArgs,
		}}}

	case types.IntentKeywordAnalysis:
		return Plan{Steps: []Step{{
			Tool: "get_top_keywords",
			Args: fieldArgs,
		}}}

	default:
		return Plan{}
	}
}

func fieldArgs(in types.Intent) map[string]any {
	args := map[string]any{"limit": 10}
	if field := in.StringParam("field"); field != "" {
		args["field"] = field
	}
	return args
}
