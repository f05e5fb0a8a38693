package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mdas-ops/tddf-cli/internal/ingest"
	"github.com/mdas-ops/tddf-cli/internal/tddf"
)

var (
	ingestConcurrency int
	ingestEncoding    string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>...",
	Short: "Decode settlement files and persist the records to the store",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("ingest"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return err
		}

		encoding := ingestEncoding
		if encoding == "" {
			encoding = cfg.Decode.Encoding
		}
		concurrency := ingestConcurrency
		if concurrency == 0 {
			concurrency = cfg.Ingest.MaxConcurrentFiles
		}

		svc := ingest.New(st, tddf.Options{StrictDates: cfg.Decode.StrictDates}, encoding)
		outcomes := svc.Files(ctx, args, concurrency)

		var failed int
		for _, o := range outcomes {
			if o.Err != nil {
				failed++
				fmt.Printf("✗ %s: %v\n", o.Path, o.Err)
				continue
			}
			fmt.Printf("✓ %s: %d records (%s), %d errors\n",
				o.Path, o.Result.TotalRecords, o.Upload.Status, len(o.Result.Errors))
		}

		zap.L().Info("ingest complete",
			zap.Int("files", len(args)),
			zap.Int("failed", failed),
		)

		if failed > 0 {
			return eris.Errorf("%d of %d files failed", failed, len(args))
		}
		return nil
	},
}

func init() {
	ingestCmd.Flags().IntVar(&ingestConcurrency, "concurrency", 0, "max files ingested in parallel (default from config)")
	ingestCmd.Flags().StringVar(&ingestEncoding, "encoding", "", "input encoding: utf8 or latin1 (default from config)")
	rootCmd.AddCommand(ingestCmd)
}
