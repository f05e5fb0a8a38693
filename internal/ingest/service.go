// Package ingest decodes settlement files and persists the results.
package ingest

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/encoding/charmap"

	"github.com/mdas-ops/tddf-cli/internal/model"
	"github.com/mdas-ops/tddf-cli/internal/store"
	"github.com/mdas-ops/tddf-cli/internal/tddf"
)

// Service runs the decode-and-persist pass for settlement files.
type Service struct {
	store    store.Store
	opts     tddf.Options
	encoding string
}

// New creates an ingest service. encoding is "utf8" or "latin1"; older bank
// hosts still emit Latin-1.
func New(st store.Store, opts tddf.Options, encoding string) *Service {
	if encoding == "" {
		encoding = "utf8"
	}
	return &Service{store: st, opts: opts, encoding: encoding}
}

// DecodeBytes converts raw file bytes to a string in the named encoding
// ("utf8" or "latin1").
func DecodeBytes(raw []byte, encoding string) (string, error) {
	switch encoding {
	case "", "utf8":
		return string(raw), nil
	case "latin1":
		out, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
		if err != nil {
			return "", eris.Wrap(err, "ingest: decode latin1")
		}
		return string(out), nil
	default:
		return "", eris.Errorf("ingest: unknown encoding %q", encoding)
	}
}

// File ingests one settlement file from disk.
func (s *Service) File(ctx context.Context, path string) (*model.Upload, *tddf.FileResult, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "ingest: read %s", path)
	}
	return s.Content(ctx, filepath.Base(path), raw)
}

// Content ingests settlement file content already in memory: create the
// upload row, decode, bulk-save the records, and complete the upload.
func (s *Service) Content(ctx context.Context, filename string, raw []byte) (*model.Upload, *tddf.FileResult, error) {
	content, err := DecodeBytes(raw, s.encoding)
	if err != nil {
		return nil, nil, err
	}

	upload, err := s.store.CreateUpload(ctx, filename, int64(len(raw)))
	if err != nil {
		return nil, nil, err
	}

	if err := s.store.UpdateUploadStatus(ctx, upload.ID, model.UploadStatusProcessing); err != nil {
		return nil, nil, err
	}

	result := tddf.EncodeFile(content, upload.ID, filename, s.opts)

	if _, err := s.store.SaveRecords(ctx, upload.ID, result.DecodedRecords); err != nil {
		// Record the failure on the upload row before bailing out.
		if statusErr := s.store.UpdateUploadStatus(ctx, upload.ID, model.UploadStatusFailed); statusErr != nil {
			zap.L().Warn("could not mark upload failed", zap.String("uploadId", upload.ID), zap.Error(statusErr))
		}
		return nil, nil, err
	}

	if err := s.store.CompleteUpload(ctx, upload.ID, result); err != nil {
		return nil, nil, err
	}

	final, err := s.store.GetUpload(ctx, upload.ID)
	if err != nil {
		return nil, nil, err
	}

	zap.L().Info("file ingested",
		zap.String("uploadId", upload.ID),
		zap.String("filename", filename),
		zap.Int("totalRecords", result.TotalRecords),
		zap.Int("errors", len(result.Errors)),
		zap.Int64("durationMs", result.EncodingDurationMs),
	)

	return final, result, nil
}

// FileOutcome pairs a path with its ingest result for multi-file runs.
type FileOutcome struct {
	Path   string
	Upload *model.Upload
	Result *tddf.FileResult
	Err    error
}

// Files ingests multiple files concurrently, bounded by maxConcurrent.
// Decoding within each file stays single-pass; only files run in parallel.
// A failed file does not stop the others.
func (s *Service) Files(ctx context.Context, paths []string, maxConcurrent int) []FileOutcome {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}

	outcomes := make([]FileOutcome, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)

	for i, path := range paths {
		g.Go(func() error {
			upload, result, err := s.File(ctx, path)
			outcomes[i] = FileOutcome{Path: path, Upload: upload, Result: result, Err: err}

			if err != nil {
				zap.L().Error("file ingest failed", zap.String("path", path), zap.Error(err))
			}
			// Errors are collected per file, not returned, so one bad
			// file cannot cancel the group.
			return nil
		})
	}

	_ = g.Wait()
	return outcomes
}
