// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pdiddy/research-assistant/internal/agent"
	"github.com/pdiddy/research-assistant/internal/logging"
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a single research question from the command line",
	Long: `Ask runs one query through the full pipeline and prints the answer. Pass
--conversation to continue an earlier conversation; the new conversation ID
is printed either way so a follow-up can reference it.`,
	Args: cobra.MinimumNArgs(1),
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
		p, err := buildPipeline(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer p.close(log)

		conversationID, _ := cmd.Flags().GetString("conversation")
		resp, err := p.agent.ProcessQuery(ctx, agent.Request{
			Text:           strings.Join(args, " "),
			ConversationID: conversationID,
		})
		if err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return json.NewEncoder(os.Stdout).Encode(resp)
		}

		fmt.Println(resp.Message)
		fmt.Fprintf(os.Stderr, "\nconversation: %s  intent: %s  confidence: %.2f",
			resp.ConversationID, resp.Metadata.IntentType, resp.Metadata.Confidence)
		if resp.Metadata.Degraded {
			fmt.Fprint(os.Stderr, "  (degraded)")
		}
		fmt.Fprintln(os.Stderr)
		return nil
	},
}

func init() {
	askCmd.Flags().String("conversation", "", "conversation ID to continue")
	askCmd.Flags().Bool("json", false, "output the full response as JSON")

	rootCmd.AddCommand(askCmd)
}
