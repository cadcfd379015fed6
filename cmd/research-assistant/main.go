// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the research-assistant CLI.
// Implements: prd001-intent through prd006-api (CLI surface).
// See docs/ARCHITECTURE.md § Pipeline, § Project Structure.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/research-assistant/internal/secrets"
	"github.com/pdiddy/research-assistant/pkg/types"
)

// version is set at build time via ldflags.
var version = "dev"

// loadedSecrets holds API keys loaded from .secrets/ at startup.
var loadedSecrets map[string]string

// secretDefault returns the secret value for key if it exists, or fallback otherwise.
func secretDefault(key, fallback string) string {
	if fallback != "" {
		return fallback
	}
	if v, ok := loadedSecrets[key]; ok {
		return v
	}
	return ""
}

// rootCmd is the base command for the research-assistant CLI.
var rootCmd = &cobra.Command{
	Use:   "research-assistant",
	Short: "Conversational front end for academic paper research",
	Long: `research-assistant answers natural-language research questions. Each query
is classified into an intent, mapped onto tool calls against the academic
data service, and the results are integrated into a single answer.

Run "serve" to expose the pipeline over HTTP, or "ask" for a one-shot
query from the command line.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		s, err := secrets.Load(".secrets/")
		if err != nil {
			return err
		}
		loadedSecrets = s
		if len(s) > 0 {
			keys := make([]string, 0, len(s))
			for k := range s {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			fmt.Fprintf(os.Stderr, "Loaded secrets: %v\n", keys)
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./research-assistant.yaml or ~/.config/research-assistant/config.yaml)")
	rootCmd.PersistentFlags().Bool("verbose", false, "enable debug logging")
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("research-assistant")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "research-assistant"))
		}
	}

	viper.SetEnvPrefix("RESEARCH_ASSISTANT")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// loadAgentConfig assembles the pipeline configuration from viper, with the
// Anthropic API key falling back to the .secrets/ directory.
func loadAgentConfig() types.AgentConfig {
	cfg := types.AgentConfig{
		Protocol: types.ProtocolConfig{
			Command:           viper.GetStringSlice("protocol.command"),
			WorkingDir:        viper.GetString("protocol.working_dir"),
			StartupTimeout:    viper.GetDuration("protocol.startup_timeout"),
			CallTimeout:       viper.GetDuration("protocol.call_timeout"),
			DegradedThreshold: viper.GetInt("protocol.degraded_threshold"),
			MaxRetries:        viper.GetInt("protocol.max_retries"),
			RetryDelay:        viper.GetDuration("protocol.retry_delay"),
			Debug:             viper.GetBool("protocol.debug"),
		},
		LLM: types.LLMConfig{
			Model:       viper.GetString("llm.model"),
			APIKey:      secretDefault("anthropic-api-key", viper.GetString("llm.api_key")),
			MaxTokens:   viper.GetInt("llm.max_tokens"),
			Temperature: viper.GetFloat64("llm.temperature"),
			Timeout:     viper.GetDuration("llm.timeout"),
		},
		Analyzer: types.AnalyzerConfig{
			ConfidenceThreshold: viper.GetFloat64("analyzer.confidence_threshold"),
			MissingSlotPenalty:  viper.GetFloat64("analyzer.missing_slot_penalty"),
			ContextWindow:       viper.GetInt("analyzer.context_window"),
			RulesFile:           viper.GetString("analyzer.rules_file"),
			UseLLM:              viper.GetBool("analyzer.use_llm"),
		},
		Store: types.StoreConfig{
			Path:       viper.GetString("store.path"),
			WindowSize: viper.GetInt("store.window_size"),
		},
		Server: types.ServerConfig{
			Addr:            viper.GetString("server.addr"),
			ShutdownTimeout: viper.GetDuration("server.shutdown_timeout"),
		},
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "claude-sonnet-4-5-20250929"
	}
	return cfg.WithDefaults()
}

// startupGrace bounds the initial protocol connection attempt before the
// process gives up and starts anyway in degraded mode.
const startupGrace = 30 * time.Second

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
