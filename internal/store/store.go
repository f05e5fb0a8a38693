// Package store persists uploads and decoded TDDF records. Two backends are
// supported: Postgres (production) and SQLite (local ingestion and tests).
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/mdas-ops/tddf-cli/internal/model"
	"github.com/mdas-ops/tddf-cli/internal/tddf"
)

// UploadFilter specifies criteria for listing uploads.
type UploadFilter struct {
	Status model.UploadStatus `json:"status,omitempty"`
	Limit  int                `json:"limit,omitempty"`
	Offset int                `json:"offset,omitempty"`
}

// Store defines the persistence interface for the ingestion pipeline.
type Store interface {
	// Uploads
	CreateUpload(ctx context.Context, filename string, sizeBytes int64) (*model.Upload, error)
	UpdateUploadStatus(ctx context.Context, uploadID string, status model.UploadStatus) error
	CompleteUpload(ctx context.Context, uploadID string, result *tddf.FileResult) error
	GetUpload(ctx context.Context, uploadID string) (*model.Upload, error)
	ListUploads(ctx context.Context, filter UploadFilter) ([]model.Upload, error)

	// Decoded records
	SaveRecords(ctx context.Context, uploadID string, records []tddf.DecodedRecord) (int64, error)

	// Queue reporting
	QueueStats(ctx context.Context) (*model.QueueStats, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Config selects and configures the store backend.
type Config struct {
	Driver      string      `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string      `yaml:"database_url" mapstructure:"database_url"`
	Pool        *PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// Open creates the configured store backend.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "postgres":
		return NewPostgres(ctx, cfg.DatabaseURL, cfg.Pool)
	case "sqlite":
		return NewSQLite(cfg.DatabaseURL)
	default:
		return nil, eris.Errorf("store: unknown driver %q (valid: postgres, sqlite)", cfg.Driver)
	}
}
