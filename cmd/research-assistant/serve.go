// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/research-assistant/internal/api"
	"github.com/pdiddy/research-assistant/internal/logging"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	Long: `Serve starts the research assistant as an HTTP service. Queries arrive on
POST /api/v1/chat; conversation history, tool listing, health, and
Prometheus metrics are exposed alongside.

The academic data service subprocess is spawned on startup and supervised
for the lifetime of the server.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		verbose, _ := cmd.Flags().GetBool("verbose")
		log, err := logging.New(verbose)
		if err != nil {
			return err
		}
		defer log.Sync()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			viper.Set("server.addr", addr)
		}

		cfg := loadAgentConfig()
		p, err := buildPipeline(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer p.close(log)

		server := api.NewServer(p.agent, p.store, p.client, log)
		if err := server.Serve(ctx, cfg.Server); err != nil &&
			!errors.Is(err, http.ErrServerClosed) && !errors.Is(err, context.Canceled) {
			return err
		}
		log.Info("server stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (overrides server.addr)")

	rootCmd.AddCommand(serveCmd)
}
