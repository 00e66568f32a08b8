package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/intentbridge/relay/internal/chains"
	"github.com/intentbridge/relay/internal/config"
	"github.com/intentbridge/relay/internal/deadletter"
	"github.com/intentbridge/relay/internal/dispatch"
	"github.com/intentbridge/relay/internal/ingress"
	"github.com/intentbridge/relay/internal/logging"
	"github.com/intentbridge/relay/internal/metrics"
	"github.com/intentbridge/relay/internal/normalize"
	"github.com/intentbridge/relay/internal/queue"
	"github.com/intentbridge/relay/internal/worker"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the event relay pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		logLevel := os.Getenv("LOG_LEVEL")
		if logLevel == "" {
			logLevel = "info"
		}
		log := logging.NewWithLevel(logLevel)

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		q, err := queue.New(ctx, cfg.Queue, log)
		if err != nil {
			return fmt.Errorf("open queue: %w", err)
		}
		defer q.Close()

		archive, err := deadletter.Open(cfg.DeadLetter.DBPath)
		if err != nil {
			return fmt.Errorf("open dead-letter archive: %w", err)
		}
		defer archive.Close()

		mtr := metrics.Init()
		registry := chains.NewRegistry(cfg.Chains)
		normalizer := normalize.New(registry)
		dispatcher := dispatch.New(cfg.Relayer.BaseURL, cfg.Server.WebhookSecret, cfg.RelayerTimeout(), log)
		processor := worker.NewProcessor(normalizer, dispatcher, log, mtr)
		pool := worker.NewPool(q, processor.Process, archive, cfg.Queue.Concurrency, log, mtr)

		server := ingress.New(cfg.Server, q, registry, log, mtr)
		httpSrv := server.Serve(fmt.Sprintf(":%d", cfg.Server.Port))
		log.Info("ingress listening",
			"port", cfg.Server.Port,
			"relayer", cfg.Relayer.BaseURL,
			"workers", cfg.Queue.Concurrency)

		poolDone := make(chan struct{})
		go func() {
			pool.Run(ctx)
			close(poolDone)
		}()

		<-ctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Error("ingress shutdown error", "error", err)
		}
		select {
		case <-poolDone:
		case <-shutdownCtx.Done():
			log.Warn("workers did not drain before deadline; leases will expire and redeliver")
		}

		return nil
	},
}
