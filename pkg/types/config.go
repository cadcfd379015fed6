// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// ProtocolConfig holds settings for the academic-data service subprocess
// connection. Per prd002-protocol-client R5.1-R5.7.
type ProtocolConfig struct {
	// Command is the subprocess command line: binary followed by arguments.
	Command []string `json:"command" yaml:"command"`

	// WorkingDir is the subprocess working directory.
	WorkingDir string `json:"working_dir" yaml:"working_dir"`

	// StartupTimeout bounds subprocess spawn plus protocol handshake.
	StartupTimeout time.Duration `json:"startup_timeout" yaml:"startup_timeout"`

	// CallTimeout bounds a single tool invocation (default 30s). A call
	// exceeding it yields a timeout ToolResult without tearing down the
	// connection.
	CallTimeout time.Duration `json:"call_timeout" yaml:"call_timeout"`

	// DegradedThreshold is the number of consecutive call timeouts that
	// moves a Ready connection to Degraded (default 3).
	DegradedThreshold int `json:"degraded_threshold" yaml:"degraded_threshold"`

	// MaxRetries is the number of consecutive failed connection attempts
	// allowed before the client transitions to Closed (default 3).
	MaxRetries int `json:"max_retries" yaml:"max_retries"`

	// RetryDelay is the pause before an automatic reconnect attempt
	// (default 1s).
	RetryDelay time.Duration `json:"retry_delay" yaml:"retry_delay"`

	// Debug enables state-transition and retry logging on the debug sink.
	Debug bool `json:"debug" yaml:"debug"`
}

// WithDefaults returns a copy of c with zero fields replaced by defaults.
func (c ProtocolConfig) WithDefaults() ProtocolConfig {
	if c.StartupTimeout <= 0 {
		c.StartupTimeout = 15 * time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 30 * time.Second
	}
	if c.DegradedThreshold <= 0 {
		c.DegradedThreshold = 3
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	return c
}

// LLMConfig holds settings for the language-model collaborator.
// Per prd004-integration R5.1-R5.4.
type LLMConfig struct {
	// Model is the model identifier (e.g. "claude-sonnet-4-5-20250929").
	Model string `json:"model" yaml:"model"`

	// APIKey authenticates against the API.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// MaxTokens bounds the generated completion (default 2048).
	MaxTokens int `json:"max_tokens" yaml:"max_tokens"`

	// Temperature is the sampling temperature (default 0.7).
	Temperature float64 `json:"temperature" yaml:"temperature"`

	// Timeout bounds one generation call (default 60s).
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// WithDefaults returns a copy of c with zero fields replaced by defaults.
func (c LLMConfig) WithDefaults() LLMConfig {
	if c.MaxTokens <= 0 {
		c.MaxTokens = 2048
	}
	if c.Temperature <= 0 {
		c.Temperature = 0.7
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	return c
}

// AnalyzerConfig holds the intent classification policy. The threshold and
// penalty are policy, not constants: the confidence formula of the upstream
// model is not contractual. Per prd001-intent R3.1-R3.4.
type AnalyzerConfig struct {
	// ConfidenceThreshold is the minimum confidence required to keep a
	// classified intent; below it the analyzer reports unknown
	// (default 0.5).
	ConfidenceThreshold float64 `json:"confidence_threshold" yaml:"confidence_threshold"`

	// MissingSlotPenalty is subtracted from confidence when a required
	// slot is unfilled (default 0.3).
	MissingSlotPenalty float64 `json:"missing_slot_penalty" yaml:"missing_slot_penalty"`

	// ContextWindow is the number of prior turns consulted for
	// coreference (default 6).
	ContextWindow int `json:"context_window" yaml:"context_window"`

	// RulesFile optionally points at a YAML file overriding the built-in
	// keyword rule table.
	RulesFile string `json:"rules_file,omitempty" yaml:"rules_file,omitempty"`

	// UseLLM enables the language-model classifier; the keyword rules
	// remain the fallback when it fails.
	UseLLM bool `json:"use_llm" yaml:"use_llm"`
}

// WithDefaults returns a copy of c with zero fields replaced by defaults.
func (c AnalyzerConfig) WithDefaults() AnalyzerConfig {
	if c.ConfidenceThreshold <= 0 {
		c.ConfidenceThreshold = 0.5
	}
	if c.MissingSlotPenalty <= 0 {
		c.MissingSlotPenalty = 0.3
	}
	if c.ContextWindow <= 0 {
		c.ContextWindow = 6
	}
	return c
}

// StoreConfig holds settings for the conversation store.
// Per prd005-conversation R1.1-R1.3.
type StoreConfig struct {
	// Path is the SQLite database file (default "conversations.db").
	Path string `json:"path" yaml:"path"`

	// WindowSize is the number of recent turns read for context
	// (default 6).
	WindowSize int `json:"window_size" yaml:"window_size"`
}

// WithDefaults returns a copy of c with zero fields replaced by defaults.
func (c StoreConfig) WithDefaults() StoreConfig {
	if c.Path == "" {
		c.Path = "conversations.db"
	}
	if c.WindowSize <= 0 {
		c.WindowSize = 6
	}
	return c
}

// ServerConfig holds the HTTP layer settings.
type ServerConfig struct {
	// Addr is the listen address (default ":8080").
	Addr string `json:"addr" yaml:"addr"`

	// ShutdownTimeout bounds graceful shutdown (default 10s).
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// WithDefaults returns a copy of c with zero fields replaced by defaults.
func (c ServerConfig) WithDefaults() ServerConfig {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	return c
}

// AgentConfig groups all component configurations for the assistant.
type AgentConfig struct {
	Protocol ProtocolConfig `json:"protocol" yaml:"protocol"`
	LLM      LLMConfig      `json:"llm" yaml:"llm"`
	Analyzer AnalyzerConfig `json:"analyzer" yaml:"analyzer"`
	Store    StoreConfig    `json:"store" yaml:"store"`
	Server   ServerConfig   `json:"server" yaml:"server"`
}

// WithDefaults returns a copy of c with every section defaulted.
func (c AgentConfig) WithDefaults() AgentConfig {
	c.Protocol = c.Protocol.WithDefaults()
	c.LLM = c.LLM.WithDefaults()
	c.Analyzer = c.Analyzer.WithDefaults()
	c.Store = c.Store.WithDefaults()
	c.Server = c.Server.WithDefaults()
	return c
}
