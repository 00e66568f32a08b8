package main

import (
	"encoding/json"
	"fmt"

	"github.com/intentbridge/relay/internal/config"
	"github.com/intentbridge/relay/internal/deadletter"
	"github.com/spf13/cobra"
)

var exportLimit int

func init() {
	exportCmd.Flags().IntVar(&exportLimit, "limit", 100, "Maximum number of jobs to export")
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export dead-lettered jobs as JSON lines",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		store, err := deadletter.Open(cfg.DeadLetter.DBPath)
		if err != nil {
			return fmt.Errorf("open dead-letter archive: %w", err)
		}
		defer store.Close()

		records, err := store.List(cmd.Context(), exportLimit)
		if err != nil {
			return fmt.Errorf("list dead-lettered jobs: %w", err)
		}

		enc := json.NewEncoder(out)
		for _, r := range records {
			if err := enc.Encode(r); err != nil {
				return fmt.Errorf("encode record %s: %w", r.ID, err)
			}
		}
		return nil
	},
}
