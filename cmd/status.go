package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mdas-ops/tddf-cli/pkg/mdas"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query the ingestion server's upload queue status",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("upload"); err != nil {
			return err
		}

		client := mdas.NewClient(cfg.Uploader.ServerURL, cfg.Uploader.APIKey)

		ping, err := client.Ping(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Server:      %s (%s)\n", ping.Status, ping.Environment)

		status, err := client.BatchStatus(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("Active:      %d\n", status.Queue.Active)
		fmt.Printf("Waiting:     %d\n", status.Queue.Waiting)
		fmt.Printf("Completed:   %d\n", status.Queue.Completed)
		fmt.Printf("Failed:      %d\n", status.Queue.Failed)
		fmt.Printf("Max workers: %d\n", status.MaxConcurrent)
		if status.IsBusy {
			fmt.Println("Server is busy; new batches should wait.")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
