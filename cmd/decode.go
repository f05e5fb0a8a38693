package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/mdas-ops/tddf-cli/internal/ingest"
	"github.com/mdas-ops/tddf-cli/internal/tddf"
)

var (
	decodeSummary     bool
	decodeStrictDates bool
	decodeEncoding    string
)

var decodeCmd = &cobra.Command{
	Use:   "decode <file>",
	Short: "Decode a TDDF settlement file to JSON on stdout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]

		raw, err := os.ReadFile(path)
		if err != nil {
			return eris.Wrapf(err, "read %s", path)
		}

		encoding := decodeEncoding
		if encoding == "" {
			encoding = cfg.Decode.Encoding
		}
		content, err := ingest.DecodeBytes(raw, encoding)
		if err != nil {
			return err
		}

		opts := tddf.Options{StrictDates: cfg.Decode.StrictDates || decodeStrictDates}
		result := tddf.EncodeFile(content, "", filepath.Base(path), opts)

		if decodeSummary {
			printSummary(result)
			return nil
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func printSummary(result *tddf.FileResult) {
	fmt.Printf("File:          %s\n", result.Filename)
	fmt.Printf("Total lines:   %d\n", result.TotalLines)
	fmt.Printf("Total records: %d\n", result.TotalRecords)
	fmt.Printf("Duration:      %dms\n", result.EncodingDurationMs)

	types := make([]string, 0, len(result.RecordCounts.ByType))
	for rt := range result.RecordCounts.ByType {
		types = append(types, rt)
	}
	sort.Strings(types)
	for _, rt := range types {
		fmt.Printf("  %s: %d\n", rt, result.RecordCounts.ByType[rt])
	}

	if len(result.Errors) > 0 {
		fmt.Printf("Errors (%d):\n", len(result.Errors))
		for _, e := range result.Errors {
			fmt.Printf("  %s\n", e)
		}
	}
}

var layoutsCmd = &cobra.Command{
	Use:   "layouts",
	Short: "Dump the active field layouts as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := tddf.LayoutsYAML()
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	},
}

func init() {
	decodeCmd.Flags().BoolVar(&decodeSummary, "summary", false, "print a summary instead of full JSON")
	decodeCmd.Flags().BoolVar(&decodeStrictDates, "strict-dates", false, "reject calendar-invalid dates")
	decodeCmd.Flags().StringVar(&decodeEncoding, "encoding", "", "input encoding: utf8 or latin1 (default from config)")
	decodeCmd.AddCommand(layoutsCmd)
	rootCmd.AddCommand(decodeCmd)
}
