package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/phiberoptick/dockhand/engine"
	"github.com/phiberoptick/dockhand/logger"
	"github.com/phiberoptick/dockhand/notify"
	"github.com/phiberoptick/dockhand/scan"
	"github.com/phiberoptick/dockhand/server"
	"github.com/phiberoptick/dockhand/update"
)

var checkInterval string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		docker, err := engine.NewDockerEngine()
		if err != nil {
			return fmt.Errorf("failed to connect to Docker: %w", err)
		}
		registry := engine.NewRegistryClient()
		store := update.NewFileStore(cfg.State.Path)

		scanner := scan.NewRunner(cfg)
		seq := update.NewSequencer(docker, scanner, store, update.SequencerOptions{
			SelfContainerID:    cfg.Updates.SelfContainerID,
			StopTimeoutSeconds: cfg.Updates.StopTimeoutSeconds,
		})
		orch := update.NewOrchestrator(seq)

		notifier := notify.NewAppriseNotifier(cfg.Notify.AppriseURLs)
		if !notifier.WaitUntilReady(10 * time.Second) {
			logger.Warn("Apprise endpoint not reachable at startup, continuing anyway")
		}

		srv, err := server.NewServer(cfg, docker, registry, orch, store, notifier)
		if err != nil {
			return fmt.Errorf("failed to init server: %w", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if interval, err := time.ParseDuration(checkInterval); err == nil && interval > 0 {
			go srv.StartScheduler(ctx, interval)
		}

		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start() }()

		select {
		case <-ctx.Done():
			logger.Info("Shutting down")
			return nil
		case err := <-errCh:
			return err
		}
	},
}

func init() {
	serveCmd.Flags().StringVar(&checkInterval, "check-interval", "24h", "background update check interval (0 to disable)")
	rootCmd.AddCommand(serveCmd)
}
