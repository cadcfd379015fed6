// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pdiddy/research-assistant/internal/logging"
	"github.com/pdiddy/research-assistant/internal/protocol"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools the academic data service advertises",
	RunE: func(cmd *cobra.Command, args []string) error {
		verbose, _ := cmd.Flags().GetBool("verbose")
		log, err := logging.New(verbose)
		if err != nil {
			return err
		}
		defer log.Sync()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg := loadAgentConfig()
		if len(cfg.Protocol.Command) == 0 {
			return fmt.Errorf("protocol.command is not configured")
		}

		client := protocol.NewClient(cfg.Protocol, protocol.WithLogger(log))
		defer client.Close()

		tools, err := client.ListTools(ctx)
		if err != nil {
			return err
		}
		for _, tool := range tools {
			fmt.Println(tool)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(toolsCmd)
}
