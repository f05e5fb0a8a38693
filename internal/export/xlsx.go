// Package export writes store contents to spreadsheet reports.
package export

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/mdas-ops/tddf-cli/internal/store"
)

var uploadColumns = []string{
	"ID", "Filename", "Size (bytes)", "Status", "Total Lines", "Total Records",
	"Errors", "Duration (ms)", "Created At",
}

// WriteXLSX writes an upload summary workbook: one sheet listing uploads,
// one aggregating record counts by type.
func WriteXLSX(ctx context.Context, st store.Store, path string, filter store.UploadFilter) error {
	uploads, err := st.ListUploads(ctx, filter)
	if err != nil {
		return err
	}

	file := xlsx.NewFile()

	sheet, err := file.AddSheet("Uploads")
	if err != nil {
		return eris.Wrap(err, "export: add uploads sheet")
	}

	header := sheet.AddRow()
	for _, col := range uploadColumns {
		header.AddCell().Value = col
	}

	typeTotals := map[string]int{}
	for _, u := range uploads {
		row := sheet.AddRow()
		row.AddCell().Value = u.ID
		row.AddCell().Value = u.Filename
		row.AddCell().SetInt64(u.SizeBytes)
		row.AddCell().Value = string(u.Status)
		row.AddCell().SetInt(u.TotalLines)
		row.AddCell().SetInt(u.TotalRecords)
		row.AddCell().SetInt(len(u.Errors))
		row.AddCell().SetInt64(u.DurationMs)
		row.AddCell().Value = u.CreatedAt.Format(time.RFC3339)

		for rt, n := range u.CountsByType {
			typeTotals[rt] += n
		}
	}

	counts, err := file.AddSheet("Record Counts")
	if err != nil {
		return eris.Wrap(err, "export: add counts sheet")
	}

	countsHeader := counts.AddRow()
	countsHeader.AddCell().Value = "Record Type"
	countsHeader.AddCell().Value = "Total Records"

	types := make([]string, 0, len(typeTotals))
	for rt := range typeTotals {
		types = append(types, rt)
	}
	sort.Strings(types)
	for _, rt := range types {
		row := counts.AddRow()
		row.AddCell().Value = rt
		row.AddCell().SetInt(typeTotals[rt])
	}

	if !strings.HasSuffix(path, ".xlsx") {
		path += ".xlsx"
	}
	if err := file.Save(path); err != nil {
		return eris.Wrapf(err, "export: save %s", path)
	}

	zap.L().Info("export written",
		zap.String("path", path),
		zap.Int("uploads", len(uploads)),
	)
	return nil
}
