package main

import (
	"fmt"

	"github.com/intentbridge/relay/internal/config"
	"github.com/intentbridge/relay/internal/dispatch"
	"github.com/intentbridge/relay/internal/logging"
	"github.com/intentbridge/relay/internal/queue"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate config and ping the queue store and relayer",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		log := logging.New()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("config invalid: %w", err)
		}
		fmt.Fprintf(out, "config OK (version %d, %d chains)\n", cfg.Version, len(cfg.Chains))

		failures := 0

		q, err := queue.New(cmd.Context(), cfg.Queue, log)
		if err != nil {
			failures++
			fmt.Fprintf(out, "- redis %s: ERROR %v\n", cfg.Queue.RedisAddr(), err)
		} else {
			fmt.Fprintf(out, "- redis %s: OK\n", cfg.Queue.RedisAddr())
			q.Close()
		}

		d := dispatch.New(cfg.Relayer.BaseURL, cfg.Server.WebhookSecret, cfg.RelayerTimeout(), log)
		if err := d.Ping(cmd.Context()); err != nil {
			failures++
			fmt.Fprintf(out, "- relayer %s: ERROR %v\n", cfg.Relayer.BaseURL, err)
		} else {
			fmt.Fprintf(out, "- relayer %s: OK\n", cfg.Relayer.BaseURL)
		}

		if failures > 0 {
			return fmt.Errorf("validate: %d dependency check(s) failed", failures)
		}

		fmt.Fprintln(out, "validate: success")
		return nil
	},
}
