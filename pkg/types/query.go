// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines shared data structures for the research-assistant
// query pipeline. Implements: prd001-intent (Intent, IntentType);
//
//	prd002-protocol-client (ToolInvocation, ToolResult, ConnectionState);
//	prd003-dispatch (AggregatedResult);
//	prd004-integration (IntegratedResponse);
//	prd005-conversation (Turn, Role).
//
// See docs/ARCHITECTURE.md § Data Structures.
package types

import (
	"encoding/json"
	"time"
)

// Query is a single user research question entering the pipeline. It is
// immutable once created; every downstream artifact references it by ID.
type Query struct {
	// ID uniquely identifies this query for logging and correlation.
	ID string `json:"id"`

	// Text is the raw user utterance.
	Text string `json:"text"`

	// UserID identifies the requesting user.
	UserID string `json:"user_id"`

	// ConversationID links the query to a conversation; empty for the
	// first turn of a new conversation.
	ConversationID string `json:"conversation_id,omitempty"`

	// Timestamp records when the query was received.
	Timestamp time.Time `json:"timestamp"`
}

// IntentType enumerates the recognized purposes of a user query.
type IntentType string

const (
	IntentSearchPapers     IntentType = "search_papers"
	IntentAuthorInfo       IntentType = "author_info"
	IntentCitationAnalysis IntentType = "citation_analysis"
	IntentTrendAnalysis    IntentType = "trend_analysis"
	IntentKeywordAnalysis  IntentType = "keyword_analysis"
	IntentUnknown          IntentType = "unknown"
)

// AllIntentTypes lists every IntentType. The dispatch table is checked
// against this list for exhaustiveness.
var AllIntentTypes = []IntentType{
	IntentSearchPapers,
	IntentAuthorInfo,
	IntentCitationAnalysis,
	IntentTrendAnalysis,
	IntentKeywordAnalysis,
	IntentUnknown,
}

// Valid reports whether t is a member of the enumerated set.
func (t IntentType) Valid() bool {
	for _, known := range AllIntentTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Intent is the classified purpose of a query with extracted parameters.
// Produced exactly once per Query by the analyzer and never mutated.
type Intent struct {
	// Type is the classified intent from the enumerated set.
	Type IntentType `json:"type"`

	// Parameters holds the typed slots extracted for the intent
	// (e.g. "keywords" for search_papers, "author_name" for author_info).
	Parameters map[string]any `json:"parameters"`

	// Confidence is the classifier's certainty in [0, 1].
	Confidence float64 `json:"confidence"`
}

// Keywords returns the "keywords" slot as a string slice, tolerating the
// []any shape produced by JSON decoding.
func (i Intent) Keywords() []string {
	return stringSlice(i.Parameters["keywords"])
}

// StringParam returns the named slot as a trimmed string, or "" when the
// slot is absent or not a string.
func (i Intent) StringParam(name string) string {
	if s, ok := i.Parameters[name].(string); ok {
		return s
	}
	return ""
}

func stringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// ToolInvocation is a single named call against the academic-data service.
type ToolInvocation struct {
	// ToolName is the remote tool to call (e.g. "search_papers").
	ToolName string `json:"tool_name"`

	// Arguments is the call payload.
	Arguments map[string]any `json:"arguments"`

	// CorrelationID ties the invocation to its ToolResult. Assigned by
	// the protocol client when the request is written.
	CorrelationID uint64 `json:"correlation_id"`
}

// ResultStatus is the terminal status of a tool invocation.
type ResultStatus string

const (
	StatusOK      ResultStatus = "ok"
	StatusError   ResultStatus = "error"
	StatusTimeout ResultStatus = "timeout"
)

// ToolResult is the single terminal outcome of a ToolInvocation. Every
// issued invocation receives exactly one — success, application error, or
// client-side failure — never zero, never more than one.
type ToolResult struct {
	CorrelationID uint64       `json:"correlation_id"`
	ToolName      string       `json:"tool_name"`
	Status        ResultStatus `json:"status"`

	// Payload is the raw result document when Status is ok.
	Payload json.RawMessage `json:"payload,omitempty"`

	// ErrorDetail describes the failure when Status is error or timeout.
	// Internal detail: never surfaced verbatim to end users.
	ErrorDetail string `json:"error_detail,omitempty"`
}

// Failed reports whether the invocation did not complete successfully.
func (r ToolResult) Failed() bool {
	return r.Status != StatusOK
}

// AggregatedResult is the ordered collection of ToolResults produced for one
// Intent. Order follows invocation-issue order, not completion order, so
// consumers see deterministic structure even under concurrent dispatch.
type AggregatedResult struct {
	IntentType IntentType   `json:"intent_type"`
	Results    []ToolResult `json:"results"`
}

// AnyFailed reports whether at least one result is failed.
func (a AggregatedResult) AnyFailed() bool {
	for _, r := range a.Results {
		if r.Failed() {
			return true
		}
	}
	return false
}

// Successful returns the subset of results with status ok, preserving order.
func (a AggregatedResult) Successful() []ToolResult {
	out := make([]ToolResult, 0, len(a.Results))
	for _, r := range a.Results {
		if !r.Failed() {
			out = append(out, r)
		}
	}
	return out
}

// ResponseMetadata is the derived metadata attached to a final answer.
type ResponseMetadata struct {
	IntentType IntentType `json:"intent_type"`

	Confidence float64 `json:"confidence"`

	// ProcessingTime is the wall-clock duration of the whole pipeline run.
	ProcessingTime time.Duration `json:"processing_time"`

	// Degraded is true when any tool result failed or the language model
	// fell back to the templated summary.
	Degraded bool `json:"degraded"`
}

// IntegratedResponse is the terminal artifact of the pipeline: the natural
// language answer plus metadata. Owned by the caller after creation.
type IntegratedResponse struct {
	Message  string           `json:"message"`
	Metadata ResponseMetadata `json:"metadata"`
}

// ConnectionState is the lifecycle state of the protocol client's subprocess
// connection. See docs/ARCHITECTURE.md § Protocol Client.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateReady
	StateDegraded
	StateClosed
)

// String returns the lowercase state name.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	case StateClosed:
		return "closed"
	default:
		return "invalid"
	}
}

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in a conversation. The store treats turns as an
// ordered-append log keyed by conversation ID.
type Turn struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`

	// IntentType and entity slots recorded with assistant turns; later
	// queries use them for coreference ("his papers").
	IntentType string         `json:"intent_type,omitempty"`
	Entities   map[string]any `json:"entities,omitempty"`
}
