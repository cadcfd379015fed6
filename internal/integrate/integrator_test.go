package integrate

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pdiddy/research-assistant/internal/llm"
	"github.com/pdiddy/research-assistant/pkg/types"
)

// fakeGenerator returns a canned response or error, recording the prompt.
type fakeGenerator struct {
	out     string
	err     error
	prompts []string
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string, _ llm.GenerateConfig) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.out, f.err
}

func okResult(tool, payload string) types.ToolResult {
	return types.ToolResult{
		ToolName: tool,
		Status:   types.StatusOK,
		Payload:  json.RawMessage(payload),
	}
}

func failedResult(tool, detail string) types.ToolResult {
	return types.ToolResult{
		ToolName:    tool,
		Status:      types.StatusError,
		ErrorDetail: detail,
	}
}

func TestIntegrateGeneratedResponse(t *testing.T) {
	gen := &fakeGenerator{out: "I found two relevant papers on deep learning."}
	g := NewIntegrator(gen, types.LLMConfig{}, nil)

	agg := types.AggregatedResult{
		IntentType: types.IntentSearchPapers,
		Results:    []types.ToolResult{okResult("search_papers", `{"papers": ["a", "b"]}`)},
	}
	resp := g.Integrate(context.Background(),
		types.Query{ID: "q1", Text: "Find papers about deep learning"},
		types.Intent{Type: types.IntentSearchPapers, Confidence: 0.9},
		agg, nil, time.Now())

	if resp.Message != gen.out {
		t.Errorf("message = %q", resp.Message)
	}
	if resp.Metadata.Degraded {
		t.Error("response should not be degraded")
	}
	if resp.Metadata.IntentType != types.IntentSearchPapers {
		t.Errorf("metadata intent = %s", resp.Metadata.IntentType)
	}
	if resp.Metadata.Confidence != 0.9 {
		t.Errorf("metadata confidence = %.2f", resp.Metadata.Confidence)
	}
}

func TestIntegratePromptContainsResultsAndQuestion(t *testing.T) {
	gen := &fakeGenerator{out: "answer"}
	g := NewIntegrator(gen, types.LLMConfig{}, nil)

	agg := types.AggregatedResult{
		IntentType: types.IntentAuthorInfo,
		Results: []types.ToolResult{
			okResult("search_authors", `{"name": "Yann LeCun"}`),
			failedResult("get_author_papers", "backend unavailable"),
		},
	}
	recent := []types.Turn{
		{Role: types.RoleUser, Content: "Find papers about convnets"},
		{Role: types.RoleAssistant, Content: "Here are two papers."},
	}
	g.Integrate(context.Background(),
		types.Query{Text: "papers by Yann LeCun"},
		types.Intent{Type: types.IntentAuthorInfo},
		agg, recent, time.Now())

	if len(gen.prompts) != 1 {
		t.Fatalf("prompts = %d", len(gen.prompts))
	}
	prompt := gen.prompts[0]
	for _, want := range []string{
		"papers by Yann LeCun",
		`{"name": "Yann LeCun"}`,
		"[get_author_papers] FAILED",
		"Some tools failed",
		"user: Find papers about convnets",
		"assistant: Here are two papers.",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestIntegratePromptDeterministic(t *testing.T) {
	query := types.Query{Text: "Find papers about pruning"}
	agg := types.AggregatedResult{
		IntentType: types.IntentSearchPapers,
		Results:    []types.ToolResult{okResult("search_papers", `{"papers": []}`)},
	}

	p1, err := buildPrompt(query, nil, agg)
	if err != nil {
		t.Fatal(err)
	}
	p2, err := buildPrompt(query, nil, agg)
	if err != nil {
		t.Fatal(err)
	}
	if p1 != p2 {
		t.Error("identical inputs produced different prompts")
	}
}

func TestIntegratePartialFailureMarkedDegraded(t *testing.T) {
	gen := &fakeGenerator{out: "partial answer"}
	g := NewIntegrator(gen, types.LLMConfig{}, nil)

	agg := types.AggregatedResult{
		IntentType: types.IntentAuthorInfo,
		Results: []types.ToolResult{
			okResult("search_authors", `{}`),
			failedResult("get_author_papers", "timeout"),
		},
	}
	resp := g.Integrate(context.Background(), types.Query{}, types.Intent{Type: types.IntentAuthorInfo}, agg, nil, time.Now())

	if !resp.Metadata.Degraded {
		t.Error("partial failure should mark response degraded")
	}
	if resp.Message != "partial answer" {
		t.Errorf("message = %q", resp.Message)
	}
}

func TestIntegrateGenerationFailureUsesFallback(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("api key invalid: sk-secret")}
	g := NewIntegrator(gen, types.LLMConfig{}, nil)

	agg := types.AggregatedResult{
		IntentType: types.IntentSearchPapers,
		Results:    []types.ToolResult{okResult("search_papers", `{"papers": ["a"]}`)},
	}
	resp := g.Integrate(context.Background(), types.Query{}, types.Intent{Type: types.IntentSearchPapers}, agg, nil, time.Now())

	if !resp.Metadata.Degraded {
		t.Error("fallback response should be degraded")
	}
	// Raw error text never reaches the user.
	if strings.Contains(resp.Message, "sk-secret") || strings.Contains(resp.Message, "api key") {
		t.Errorf("message leaks error detail: %q", resp.Message)
	}
	if !strings.Contains(resp.Message, "paper search") {
		t.Errorf("fallback should summarize tool results: %q", resp.Message)
	}
}

func TestIntegrateNilGeneratorUsesFallback(t *testing.T) {
	g := NewIntegrator(nil, types.LLMConfig{}, nil)

	agg := types.AggregatedResult{
		IntentType: types.IntentTrendAnalysis,
		Results:    []types.ToolResult{okResult("get_trending_papers", `{"topics": ["LLMs"]}`)},
	}
	resp := g.Integrate(context.Background(), types.Query{}, types.Intent{Type: types.IntentTrendAnalysis}, agg, nil, time.Now())

	if !strings.Contains(resp.Message, "trending papers") {
		t.Errorf("message = %q", resp.Message)
	}
	if !resp.Metadata.Degraded {
		t.Error("templated response should be marked degraded")
	}
}

func TestIntegrateUnknownIntentNotDegraded(t *testing.T) {
	gen := &fakeGenerator{out: "unused"}
	g := NewIntegrator(gen, types.LLMConfig{}, nil)

	resp := g.Integrate(context.Background(), types.Query{Text: "hello"},
		types.Intent{Type: types.IntentUnknown},
		types.AggregatedResult{IntentType: types.IntentUnknown}, nil, time.Now())

	if resp.Metadata.Degraded {
		t.Error("empty plan is a normal answer, not degradation")
	}
	if !strings.Contains(resp.Message, "papers, authors, citations") {
		t.Errorf("message = %q", resp.Message)
	}
	if len(gen.prompts) != 0 {
		t.Error("no generation should happen without tool results")
	}
}

func TestFallbackMarksUnavailableSources(t *testing.T) {
	agg := types.AggregatedResult{
		IntentType: types.IntentAuthorInfo,
		Results: []types.ToolResult{
			failedResult("search_authors", "connection lost"),
			okResult("get_author_papers", `{"papers": ["x"]}`),
		},
	}
	msg := fallbackMessage(agg)

	if !strings.Contains(msg, "author lookup: unavailable") {
		t.Errorf("message = %q", msg)
	}
	if strings.Contains(msg, "connection lost") {
		t.Errorf("message leaks error detail: %q", msg)
	}
	if !strings.Contains(msg, "may be incomplete") {
		t.Errorf("message = %q", msg)
	}
}

func TestCompactPayloadTruncates(t *testing.T) {
	long := strings.Repeat("word ", 200)
	got := compactPayload([]byte(long))
	if len(got) > 410 {
		t.Errorf("len = %d", len(got))
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("got = %q", got[len(got)-10:])
	}
}
