package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/mdas-ops/tddf-cli/internal/model"
	"github.com/mdas-ops/tddf-cli/internal/tddf"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS uploads (
	id             TEXT PRIMARY KEY,
	filename       TEXT NOT NULL,
	size_bytes     INTEGER NOT NULL DEFAULT 0,
	status         TEXT NOT NULL DEFAULT 'queued',
	total_lines    INTEGER NOT NULL DEFAULT 0,
	total_records  INTEGER NOT NULL DEFAULT 0,
	counts_by_type TEXT,
	errors         TEXT,
	duration_ms    INTEGER NOT NULL DEFAULT 0,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS tddf_records (
	id          TEXT PRIMARY KEY,
	upload_id   TEXT NOT NULL REFERENCES uploads(id),
	record_type TEXT,
	line_number INTEGER NOT NULL,
	raw_line    TEXT NOT NULL,
	fields      TEXT,
	error       TEXT,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_uploads_status ON uploads(status);
CREATE INDEX IF NOT EXISTS idx_tddf_records_upload_id ON tddf_records(upload_id);
CREATE INDEX IF NOT EXISTS idx_tddf_records_type ON tddf_records(record_type);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateUpload(ctx context.Context, filename string, sizeBytes int64) (*model.Upload, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO uploads (id, filename, size_bytes, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, filename, sizeBytes, string(model.UploadStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert upload")
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

func (s *SQLiteStore) UpdateUploadStatus(ctx context.Context, uploadID string, status model.UploadStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE uploads SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), uploadID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update upload status %s", uploadID)
	}
	return checkRowsAffected(res, "upload", uploadID)
}

func (s *SQLiteStore) CompleteUpload(ctx context.Context, uploadID string, result *tddf.FileResult) error {
	countsJSON, err := json.Marshal(result.RecordCounts.ByType)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal counts")
	}
	errorsJSON, err := json.Marshal(result.Errors)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal errors")
	}

	status := model.UploadStatusComplete
	if len(result.Errors) > 0 && result.TotalRecords == 0 {
		status = model.UploadStatusFailed
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE uploads SET status = ?, total_lines = ?, total_records = ?,
		 counts_by_type = ?, errors = ?, duration_ms = ?, updated_at = ? WHERE id = ?`,
		string(status), result.TotalLines, result.TotalRecords,
		string(countsJSON), string(errorsJSON), result.EncodingDurationMs, time.Now().UTC(), uploadID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete upload %s", uploadID)
	}
	return checkRowsAffected(res, "upload", uploadID)
}

func (s *SQLiteStore) GetUpload(ctx context.Context, uploadID string) (*model.Upload, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, filename, size_bytes, status, total_lines, total_records, counts_by_type, errors, duration_ms, created_at, updated_at FROM uploads WHERE id = ?`,
		uploadID,
	)
	return scanSQLiteUpload(row)
}

func (s *SQLiteStore) ListUploads(ctx context.Context, filter UploadFilter) ([]model.Upload, error) {
	query := `SELECT id, filename, size_bytes, status, total_lines, total_records, counts_by_type, errors, duration_ms, created_at, updated_at FROM uploads WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list uploads")
	}
	defer rows.Close()

	var uploads []model.Upload
	for rows.Next() {
		u, err := scanSQLiteUpload(rows)
		if err != nil {
			return nil, err
		}
		uploads = append(uploads, *u)
	}
	return uploads, eris.Wrap(rows.Err(), "sqlite: list uploads iterate")
}

func (s *SQLiteStore) SaveRecords(ctx context.Context, uploadID string, records []tddf.DecodedRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO tddf_records (id, upload_id, record_type, line_number, raw_line, fields, error) VALUES (?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare insert record")
	}
	defer stmt.Close()

	var n int64
	for _, rec := range records {
		var fieldsJSON any
		if rec.Fields != nil {
			b, err := json.Marshal(rec.Fields)
			if err != nil {
				return 0, eris.Wrapf(err, "sqlite: marshal fields line %d", rec.LineNumber)
			}
			fieldsJSON = string(b)
		}

		var recType, recErr any
		if rec.RecordType != "" {
			recType = string(rec.RecordType)
		}
		if rec.Error != "" {
			recErr = rec.Error
		}

		if _, err := stmt.ExecContext(ctx,
			uuid.New().String(), uploadID, recType, rec.LineNumber, rec.RawLine, fieldsJSON, recErr,
		); err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert record line %d", rec.LineNumber)
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit records")
	}
	return n, nil
}

func (s *SQLiteStore) QueueStats(ctx context.Context) (*model.QueueStats, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT
			count(CASE WHEN status IN ('uploading', 'processing') THEN 1 END),
			count(CASE WHEN status = 'queued' THEN 1 END),
			count(CASE WHEN status = 'complete' THEN 1 END),
			count(CASE WHEN status = 'failed' THEN 1 END)
		 FROM uploads`,
	)

	var qs model.QueueStats
	if err := row.Scan(&qs.Active, &qs.Waiting, &qs.Completed, &qs.Failed); err != nil {
		return nil, eris.Wrap(err, "sqlite: queue stats")
	}
	return &qs, nil
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func scanSQLiteUpload(row scannable) (*model.Upload, error) {
	var u model.Upload
	var countsJSON, errorsJSON sql.NullString

	err := row.Scan(&u.ID, &u.Filename, &u.SizeBytes, &u.Status, &u.TotalLines,
		&u.TotalRecords, &countsJSON, &errorsJSON, &u.DurationMs, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("upload not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan upload")
	}

	if countsJSON.Valid && countsJSON.String != "" {
		if err := json.Unmarshal([]byte(countsJSON.String), &u.CountsByType); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal counts_by_type")
		}
	}
	if errorsJSON.Valid && errorsJSON.String != "" {
		if err := json.Unmarshal([]byte(errorsJSON.String), &u.Errors); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal errors")
		}
	}
	return &u, nil
}
