package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/mdas-ops/tddf-cli/internal/db"
	"github.com/mdas-ops/tddf-cli/internal/model"
	"github.com/mdas-ops/tddf-cli/internal/tddf"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"insert_upload":        `INSERT INTO uploads (id, filename, size_bytes, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
	"update_upload_status": `UPDATE uploads SET status = $1, updated_at = $2 WHERE id = $3`,
	"get_upload":           `SELECT id, filename, size_bytes, status, total_lines, total_records, counts_by_type, errors, duration_ms, created_at, updated_at FROM uploads WHERE id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need direct
// query access (e.g., the export report queries).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS uploads (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	filename       TEXT NOT NULL,
	size_bytes     BIGINT NOT NULL DEFAULT 0,
	status         TEXT NOT NULL DEFAULT 'queued',
	total_lines    INTEGER NOT NULL DEFAULT 0,
	total_records  INTEGER NOT NULL DEFAULT 0,
	counts_by_type JSONB,
	errors         JSONB,
	duration_ms    BIGINT NOT NULL DEFAULT 0,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS tddf_records (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	upload_id   TEXT NOT NULL REFERENCES uploads(id),
	record_type TEXT,
	line_number INTEGER NOT NULL,
	raw_line    TEXT NOT NULL,
	fields      JSONB,
	error       TEXT,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_uploads_status ON uploads(status);
CREATE INDEX IF NOT EXISTS idx_uploads_created_at ON uploads(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_tddf_records_upload_id ON tddf_records(upload_id);
CREATE INDEX IF NOT EXISTS idx_tddf_records_type ON tddf_records(record_type);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateUpload(ctx context.Context, filename string, sizeBytes int64) (*model.Upload, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO uploads (id, filename, size_bytes, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, filename, sizeBytes, string(model.UploadStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert upload")
	}

	return &model.Upload{
		ID:        id,
		Filename:  filename,
		SizeBytes: sizeBytes,
		Status:    model.UploadStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) UpdateUploadStatus(ctx context.Context, uploadID string, status model.UploadStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE uploads SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), uploadID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update upload status %s", uploadID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("upload not found: %s", uploadID)
	}
	return nil
}

func (s *PostgresStore) CompleteUpload(ctx context.Context, uploadID string, result *tddf.FileResult) error {
	countsJSON, err := json.Marshal(result.RecordCounts.ByType)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal counts")
	}
	errorsJSON, err := json.Marshal(result.Errors)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal errors")
	}

	status := model.UploadStatusComplete
	if len(result.Errors) > 0 && result.TotalRecords == 0 {
		status = model.UploadStatusFailed
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE uploads SET status = $1, total_lines = $2, total_records = $3,
		 counts_by_type = $4, errors = $5, duration_ms = $6, updated_at = $7 WHERE id = $8`,
		string(status), result.TotalLines, result.TotalRecords,
		countsJSON, errorsJSON, result.EncodingDurationMs, time.Now().UTC(), uploadID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete upload %s", uploadID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("upload not found: %s", uploadID)
	}
	return nil
}

func (s *PostgresStore) GetUpload(ctx context.Context, uploadID string) (*model.Upload, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, filename, size_bytes, status, total_lines, total_records, counts_by_type, errors, duration_ms, created_at, updated_at FROM uploads WHERE id = $1`,
		uploadID,
	)
	u, err := scanUpload(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get upload %s", uploadID)
	}
	return u, nil
}

func (s *PostgresStore) ListUploads(ctx context.Context, filter UploadFilter) ([]model.Upload, error) {
	query := `SELECT id, filename, size_bytes, status, total_lines, total_records, counts_by_type, errors, duration_ms, created_at, updated_at FROM uploads WHERE 1=1`
	var args []any

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` AND status = $1`
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list uploads")
	}
	defer rows.Close()

	var uploads []model.Upload
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan upload")
		}
		uploads = append(uploads, *u)
	}
	return uploads, eris.Wrap(rows.Err(), "postgres: list uploads iterate")
}

// recordColumns is the COPY column order for tddf_records.
var recordColumns = []string{"id", "upload_id", "record_type", "line_number", "raw_line", "fields", "error"}

func (s *PostgresStore) SaveRecords(ctx context.Context, uploadID string, records []tddf.DecodedRecord) (int64, error) {
	rows := make([][]any, 0, len(records))
	for _, rec := range records {
		var fieldsJSON []byte
		if rec.Fields != nil {
			b, err := json.Marshal(rec.Fields)
			if err != nil {
				return 0, eris.Wrapf(err, "postgres: marshal fields line %d", rec.LineNumber)
			}
			fieldsJSON = b
		}

		var recType, recErr any
		if rec.RecordType != "" {
			recType = string(rec.RecordType)
		}
		if rec.Error != "" {
			recErr = rec.Error
		}

		rows = append(rows, []any{
			uuid.New().String(), uploadID, recType, rec.LineNumber, rec.RawLine, fieldsJSON, recErr,
		})
	}

	return db.CopyFrom(ctx, s.pool, "tddf_records", recordColumns, rows)
}

func (s *PostgresStore) QueueStats(ctx context.Context) (*model.QueueStats, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT
			count(*) FILTER (WHERE status IN ('uploading', 'processing')),
			count(*) FILTER (WHERE status = 'queued'),
			count(*) FILTER (WHERE status = 'complete'),
			count(*) FILTER (WHERE status = 'failed')
		 FROM uploads`,
	)

	var qs model.QueueStats
	if err := row.Scan(&qs.Active, &qs.Waiting, &qs.Completed, &qs.Failed); err != nil {
		return nil, eris.Wrap(err, "postgres: queue stats")
	}
	return &qs, nil
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

func scanUpload(row scannable) (*model.Upload, error) {
	var u model.Upload
	var countsJSON, errorsJSON []byte

	err := row.Scan(&u.ID, &u.Filename, &u.SizeBytes, &u.Status, &u.TotalLines,
		&u.TotalRecords, &countsJSON, &errorsJSON, &u.DurationMs, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.New("upload not found")
	}
	if err != nil {
		return nil, err
	}

	if len(countsJSON) > 0 {
		if err := json.Unmarshal(countsJSON, &u.CountsByType); err != nil {
			return nil, eris.Wrap(err, "unmarshal counts_by_type")
		}
	}
	if len(errorsJSON) > 0 {
		if err := json.Unmarshal(errorsJSON, &u.Errors); err != nil {
			return nil, eris.Wrap(err, "unmarshal errors")
		}
	}
	return &u, nil
}
