// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package llm wraps the language-model collaborator behind a single
// Generate capability so the pipeline can substitute a mock in tests.
// Implements: prd004-integration R5.1-R5.4;
//
//	docs/ARCHITECTURE.md § Language Model.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pdiddy/research-assistant/internal/httputil"
	"github.com/pdiddy/research-assistant/pkg/types"
)

// GenerateConfig bounds a single generation call.
type GenerateConfig struct {
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// Generator produces text from a prompt. The production implementation
// calls the Claude Messages API; tests supply a canned generator.
type Generator interface {
	Generate(ctx context.Context, prompt string, cfg GenerateConfig) (string, error)
}

// messagesAPIURL is the Claude API endpoint. Package-level var for test
// substitution.
var messagesAPIURL = "https://api.anthropic.com/v1/messages"

// ClaudeGenerator calls the Claude Messages API.
type ClaudeGenerator struct {
	Model  string
	APIKey string
	Client *http.Client
}

// NewClaudeGenerator builds the production generator from config.
func NewClaudeGenerator(cfg types.LLMConfig) *ClaudeGenerator {
	return &ClaudeGenerator{
		Model:  cfg.Model,
		APIKey: cfg.APIKey,
		Client: &http.Client{},
	}
}

// claudeRequest is the request body for the Claude Messages API.
type claudeRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature,omitempty"`
	Messages    []claudeMessage `json:"messages"`
}

// claudeMessage is a single message in the API conversation.
type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// claudeResponse is the response body from the Claude Messages API.
type claudeResponse struct {
	Content []claudeContent `json:"content"`
}

// claudeContent is a content block in the API response.
type claudeContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Generate sends one prompt and returns the model's text.
func (c *ClaudeGenerator) Generate(ctx context.Context, prompt string, cfg GenerateConfig) (string, error) {
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	reqBody := claudeRequest{
		Model:       c.Model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		Messages: []claudeMessage{
			{Role: "user", Content: prompt},
		},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, messagesAPIURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := httputil.DoWithRetry(ctx, client, req, 0)
	if err != nil {
		return "", fmt.Errorf("calling Claude API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("Claude API returned %d: %s", resp.StatusCode, string(body))
	}

	var cResp claudeResponse
	if err := json.NewDecoder(resp.Body).Decode(&cResp); err != nil {
		return "", fmt.Errorf("decoding Claude response: %w", err)
	}

	for _, block := range cResp.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}

	return "", fmt.Errorf("no text content in Claude API response")
}
