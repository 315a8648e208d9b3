package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/phiberoptick/dockhand/api"
	"github.com/phiberoptick/dockhand/engine"
	"github.com/phiberoptick/dockhand/scan"
	"github.com/phiberoptick/dockhand/update"
)

var (
	updateCriteria        string
	updateJSON            bool
	updatePreserveNetwork bool
)

var updateCmd = &cobra.Command{
	Use:   "update CONTAINER...",
	Short: "Update one or more containers",
	Long: "Pulls the latest image for each named container, optionally gates the\n" +
		"swap behind a vulnerability scan, and recreates the container in place.\n" +
		"Containers are processed strictly in order.",
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		docker, err := engine.NewDockerEngine()
		if err != nil {
			return fmt.Errorf("failed to connect to Docker: %w", err)
		}
		store := update.NewFileStore(cfg.State.Path)

		criteriaStr := updateCriteria
		if criteriaStr == "" {
			criteriaStr = cfg.Updates.VulnerabilityCriteria
		}
		criteria, err := api.ParseCriteria(criteriaStr)
		if err != nil {
			return err
		}

		scanner := scan.NewRunner(cfg)
		seq := update.NewSequencer(docker, scanner, store, update.SequencerOptions{
			SelfContainerID:    cfg.Updates.SelfContainerID,
			StopTimeoutSeconds: cfg.Updates.StopTimeoutSeconds,
			PreserveNetwork:    updatePreserveNetwork,
		})
		orch := update.NewOrchestrator(seq)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		ctx, cancel := context.WithTimeout(ctx, cfg.BatchTimeoutDuration())
		defer cancel()

		events, err := orch.Run(ctx, args, criteria)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		var summary *api.BatchSummary
		for ev := range events {
			if updateJSON {
				_ = enc.Encode(ev)
				continue
			}
			printEvent(ev)
			if ev.Type == api.EventComplete {
				summary = ev.Summary
			}
		}

		if summary != nil && summary.Failed > 0 {
			return fmt.Errorf("%d of %d containers failed to update", summary.Failed, summary.Total())
		}
		return nil
	},
}

func printEvent(ev api.ProgressEvent) {
	switch ev.Type {
	case api.EventStart:
		fmt.Println(ev.Message)
	case api.EventPullLog, api.EventScanLog:
		// Noise on a terminal; shown only in JSON mode.
	case api.EventScanComplete:
		if ev.Scan != nil {
			s := ev.Scan.Summary
			fmt.Printf("[%d/%d] %s: scan found %d vulnerabilities (%d critical, %d high)\n",
				ev.Current, ev.Total, ev.Container, s.Total(), s.Critical, s.High)
		}
	case api.EventBlocked:
		fmt.Printf("[%d/%d] %s: BLOCKED: %s\n", ev.Current, ev.Total, ev.Container, ev.BlockReason)
	case api.EventComplete:
		fmt.Println(ev.Message)
	case api.EventError:
		fmt.Printf("error: %s\n", ev.Error)
	default:
		name := ev.Container
		if name == "" {
			name = ev.ContainerID
		}
		if ev.Error != "" {
			fmt.Printf("[%d/%d] %s: FAILED: %s\n", ev.Current, ev.Total, name, ev.Error)
			return
		}
		if ev.Message != "" {
			fmt.Printf("[%d/%d] %s: %s\n", ev.Current, ev.Total, name, ev.Message)
		}
	}
}

func init() {
	updateCmd.Flags().StringVar(&updateCriteria, "criteria", "", "vulnerability criteria (never, any, critical_high, critical, more_than_current)")
	updateCmd.Flags().BoolVar(&updateJSON, "json", false, "output a stream of JSON events")
	updateCmd.Flags().BoolVar(&updatePreserveNetwork, "preserve-network", false, "preserve network settings (IP, MAC) during recreation")
	rootCmd.AddCommand(updateCmd)
}
