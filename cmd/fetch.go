package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mdas-ops/tddf-cli/internal/fetcher"
)

var fetchDest string

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Pull settlement files from the bank's FTP drop into the inbox",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("fetch"); err != nil {
			return err
		}

		dest := fetchDest
		if dest == "" {
			dest = filepath.Join(".", cfg.Uploader.InboxDir)
		}

		f := fetcher.NewFTPFetcher(fetcher.FTPOptions{
			Host:     cfg.FTP.Host,
			Port:     cfg.FTP.Port,
			User:     cfg.FTP.User,
			Password: cfg.FTP.Password,
		})

		downloaded, err := f.Sync(ctx, cfg.FTP.RemoteDir, cfg.FTP.Pattern, dest)
		if err != nil {
			return err
		}

		for _, name := range downloaded {
			fmt.Printf("✓ %s\n", name)
		}
		if len(downloaded) == 0 {
			fmt.Println("No new files.")
		}

		zap.L().Info("fetch complete",
			zap.Int("downloaded", len(downloaded)),
			zap.String("dest", dest),
		)
		return nil
	},
}

func init() {
	fetchCmd.Flags().StringVar(&fetchDest, "dest", "", "destination folder (default: inbox from config)")
	rootCmd.AddCommand(fetchCmd)
}
