// Package model defines the persistence-facing types shared by the store,
// the HTTP API, and the CLI commands.
package model

import "time"

// UploadStatus tracks an upload through the ingestion queue.
type UploadStatus string

const (
	UploadStatusQueued     UploadStatus = "queued"
	UploadStatusUploading  UploadStatus = "uploading"
	UploadStatusProcessing UploadStatus = "processing"
	UploadStatusComplete   UploadStatus = "complete"
	UploadStatusFailed     UploadStatus = "failed"
)

// Upload is one received settlement file and the outcome of decoding it.
// Counts and errors are populated when decoding completes.
type Upload struct {
	ID           string         `json:"id"`
	Filename     string         `json:"filename"`
	SizeBytes    int64          `json:"size_bytes"`
	Status       UploadStatus   `json:"status"`
	TotalLines   int            `json:"total_lines"`
	TotalRecords int            `json:"total_records"`
	CountsByType map[string]int `json:"counts_by_type,omitempty"`
	Errors       []string       `json:"errors,omitempty"`
	DurationMs   int64          `json:"duration_ms"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// QueueStats summarizes the upload queue for the batch-status endpoint and
// the status command.
type QueueStats struct {
	Active    int `json:"active"`
	Waiting   int `json:"waiting"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Busy reports whether the server should ask batch clients to hold off.
func (q QueueStats) Busy() bool {
	return q.Active > 0 || q.Waiting > 0
}
