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
)

var (
	checkForce bool
	checkJSON  bool
)

var checkCmd = &cobra.Command{
	Use:   "check [CONTAINER]",
	Short: "Check containers for available image updates",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		docker, err := engine.NewDockerEngine()
		if err != nil {
			return fmt.Errorf("failed to connect to Docker: %w", err)
		}
		registry := engine.NewRegistryClient()

		filter := ""
		if len(args) == 1 {
			filter = args[0]
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		checks, err := engine.CheckUpdates(ctx, docker, registry, filter, checkForce, nil)
		if err != nil {
			return err
		}

		if checkJSON {
			return json.NewEncoder(os.Stdout).Encode(api.CheckReport{Containers: checks})
		}

		updates := 0
		for _, c := range checks {
			switch {
			case c.Status == "error":
				fmt.Printf("%-30s error: %s\n", c.Name, c.Error)
			case c.UpdateAvailable:
				fmt.Printf("%-30s update available (%s)\n", c.Name, c.Image)
				updates++
			default:
				fmt.Printf("%-30s up to date\n", c.Name)
			}
		}
		fmt.Printf("\n%d of %d containers have updates available\n", updates, len(checks))
		return nil
	},
}

func init() {
	checkCmd.Flags().BoolVar(&checkForce, "force", false, "bypass the registry digest cache")
	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "output JSON")
	rootCmd.AddCommand(checkCmd)
}
