package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mdas-ops/tddf-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "tddf-cli",
	Short: "TDDF settlement file decoder and ingestion tooling",
	Long:  "Decodes fixed-width TDDF settlement files to JSON, persists decoded records, and moves files between the bank's FTP drop, the local inbox, and the ingestion server.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
