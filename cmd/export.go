package main

import (
	"github.com/spf13/cobra"

	"github.com/mdas-ops/tddf-cli/internal/export"
	"github.com/mdas-ops/tddf-cli/internal/model"
	"github.com/mdas-ops/tddf-cli/internal/store"
)

var exportStatus string

var exportCmd = &cobra.Command{
	Use:   "export <file.xlsx>",
	Short: "Write an XLSX upload summary from the store",
	Args:  cobra.ExactArgs(1),
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

		return export.WriteXLSX(ctx, st, args[0], store.UploadFilter{
			Status: model.UploadStatus(exportStatus),
		})
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportStatus, "status", "", "filter by upload status (queued|processing|complete|failed)")
	rootCmd.AddCommand(exportCmd)
}
