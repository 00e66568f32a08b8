package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const sampleConfig = `version: 1

server:
  port: 3000
  webhook_secret: ${WEBHOOK_SECRET}

relayer:
  base_url: ${RELAYER_URL}
  timeout: 10s

queue:
  redis_host: ${REDIS_HOST}
  redis_port: "6379"
  concurrency: 5
  max_attempts: 3
  backoff_base: 2s
  visibility_timeout: 60s
  retention: 24h

deadletter:
  db_path: deadletter.db

chains:
  - name: mantle
    chain_id: 5003
    contracts:
      - "0x0000000000000000000000000000000000000001"   # intent pool
      - "0x0000000000000000000000000000000000000002"   # settlement
    aliases: [mantle]
  - name: ethereum
    chain_id: 11155111
    contracts:
      - "0x0000000000000000000000000000000000000003"   # intent pool
    aliases: [ethereum, sepolia]
`

const sampleEnv = `WEBHOOK_SECRET=change-me
RELAYER_URL=http://localhost:4000
REDIS_HOST=localhost
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Scaffold a sample config.yaml and .env",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		for _, f := range []struct{ path, body string }{
			{"config.yaml", sampleConfig},
			{".env", sampleEnv},
		} {
			if _, err := os.Stat(f.path); err == nil {
				fmt.Fprintf(out, "skip %s (exists)\n", f.path)
				continue
			}
			if err := os.WriteFile(f.path, []byte(f.body), 0o644); err != nil {
				return fmt.Errorf("write %s: %w", f.path, err)
			}
			fmt.Fprintf(out, "wrote %s\n", f.path)
		}
		return nil
	},
}
