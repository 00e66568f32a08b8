package main

import (
	"fmt"

	"github.com/intentbridge/relay/internal/config"
	"github.com/intentbridge/relay/internal/logging"
	"github.com/intentbridge/relay/internal/queue"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue depth counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		q, err := queue.New(cmd.Context(), cfg.Queue, logging.New())
		if err != nil {
			return fmt.Errorf("open queue: %w", err)
		}
		defer q.Close()

		stats, err := q.Stats(cmd.Context())
		if err != nil {
			return fmt.Errorf("queue stats: %w", err)
		}

		fmt.Fprintf(out, "waiting:   %d\n", stats.Waiting)
		fmt.Fprintf(out, "active:    %d\n", stats.Active)
		fmt.Fprintf(out, "delayed:   %d\n", stats.Delayed)
		fmt.Fprintf(out, "completed: %d\n", stats.Completed)
		fmt.Fprintf(out, "failed:    %d\n", stats.Failed)
		return nil
	},
}
