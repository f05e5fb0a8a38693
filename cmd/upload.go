package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/mdas-ops/tddf-cli/internal/uploader"
	"github.com/mdas-ops/tddf-cli/pkg/mdas"
)

var uploadBaseDir string

var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Upload inbox files to the ingestion server in a batch",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("upload"); err != nil {
			return err
		}

		client := mdas.NewClient(cfg.Uploader.ServerURL, cfg.Uploader.APIKey,
			mdas.WithChunkSize(cfg.Uploader.ChunkThresholdBytes),
			mdas.WithRateLimit(cfg.Uploader.RequestsPerSec),
		)

		batch := uploader.NewBatch(uploader.Config{
			BaseDir:      uploadBaseDir,
			InboxDir:     cfg.Uploader.InboxDir,
			LogsDir:      cfg.Uploader.LogsDir,
			ProcessedDir: cfg.Uploader.ProcessedDir,
			MaxRetries:   cfg.Uploader.MaxRetries,
			WakeInterval: time.Duration(cfg.Uploader.WakeIntervalSecs) * time.Second,
		}, client)

		report, err := batch.Run(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("Total:      %d\n", report.Total)
		fmt.Printf("Successful: %d\n", report.Successful)
		fmt.Printf("Failed:     %d\n", report.Failed)
		for _, u := range report.Uploads {
			if !u.Success {
				fmt.Printf("  ✗ %s: %s\n", u.FileName, u.Error)
			}
		}

		if report.Failed > 0 {
			return eris.Errorf("%d of %d uploads failed", report.Failed, report.Total)
		}
		return nil
	},
}

func init() {
	uploadCmd.Flags().StringVar(&uploadBaseDir, "dir", ".", "base folder containing inbox/logs/processed")
	rootCmd.AddCommand(uploadCmd)
}
