// Package uploader orchestrates batch uploads of settlement files from a
// watched folder tree (inbox, logs, processed) to the ingestion server.
package uploader

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/mdas-ops/tddf-cli/internal/resilience"
	"github.com/mdas-ops/tddf-cli/pkg/mdas"
)

// UploadingExtension marks a file claimed by a running upload. The rename is
// atomic, so two instances scanning the same inbox cannot claim one file.
const UploadingExtension = ".uploading"

const lockFileName = "uploader.lock"

// Config controls a batch run.
type Config struct {
	// BaseDir contains the inbox, logs, and processed folders.
	BaseDir      string
	InboxDir     string
	LogsDir      string
	ProcessedDir string

	// MaxRetries bounds per-file upload attempts.
	MaxRetries int

	// WakeInterval is the pause between wake-up pings; MaxWakeAttempts
	// bounds them. Hosted servers sleep when idle and need a few pings
	// before they answer.
	WakeInterval    time.Duration
	MaxWakeAttempts int

	// PollInterval is the pause between busy-checks when the server's
	// queue is full.
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.InboxDir == "" {
		c.InboxDir = "inbox"
	}
	if c.LogsDir == "" {
		c.LogsDir = "logs"
	}
	if c.ProcessedDir == "" {
		c.ProcessedDir = "processed"
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.WakeInterval <= 0 {
		c.WakeInterval = 20 * time.Second
	}
	if c.MaxWakeAttempts <= 0 {
		c.MaxWakeAttempts = 15
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
	return c
}

// FileOutcome records the result of one file's upload.
type FileOutcome struct {
	FileName string `json:"fileName"`
	UploadID string `json:"uploadId,omitempty"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

// Report summarizes a batch run. A copy is written to the logs folder as
// upload-report-YYYYMMDD-HHMMSS.json.
type Report struct {
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt time.Time     `json:"finishedAt"`
	Total      int           `json:"total"`
	Successful int           `json:"successful"`
	Failed     int           `json:"failed"`
	Uploads    []FileOutcome `json:"uploads"`
}

// Batch uploads every file in the inbox to the server, moving successes to
// the processed folder.
type Batch struct {
	cfg    Config
	client mdas.Client
	lock   *InstanceLock
}

// NewBatch creates a batch runner. Folders are created on Run.
func NewBatch(cfg Config, client mdas.Client) *Batch {
	return &Batch{cfg: cfg.withDefaults(), client: client}
}

// Run executes one batch pass: acquire the instance lock, wake the server,
// then upload each inbox file with claim-rename, retries, and a move to
// processed on success. A JSON report lands in the logs folder either way.
func (b *Batch) Run(ctx context.Context) (*Report, error) {
	inbox, logs, processed, err := b.ensureFolders()
	if err != nil {
		return nil, err
	}

	hostname, _ := os.Hostname()
	b.lock = NewInstanceLock(filepath.Join(logs, lockFileName), hostname)
	if err := b.lock.Acquire(); err != nil {
		return nil, err
	}
	defer b.lock.Release()

	if err := b.wakeServer(ctx); err != nil {
		return nil, err
	}

	files, err := listInboxFiles(inbox)
	if err != nil {
		return nil, err
	}

	report := &Report{StartedAt: time.Now(), Total: len(files)}
	if len(files) == 0 {
		zap.L().Info("inbox empty, nothing to upload", zap.String("inbox", inbox))
		report.FinishedAt = time.Now()
		return report, b.writeReport(logs, report)
	}

	zap.L().Info("starting batch upload",
		zap.Int("files", len(files)),
		zap.String("inbox", inbox),
	)

	for i, name := range files {
		if err := b.waitUntilReady(ctx, i); err != nil {
			return report, err
		}

		outcome := b.uploadOne(ctx, inbox, processed, name)
		report.Uploads = append(report.Uploads, outcome)
		if outcome.Success {
			report.Successful++
		} else {
			report.Failed++
		}
	}

	report.FinishedAt = time.Now()
	zap.L().Info("batch upload finished",
		zap.Int("total", report.Total),
		zap.Int("successful", report.Successful),
		zap.Int("failed", report.Failed),
	)

	return report, b.writeReport(logs, report)
}

func (b *Batch) ensureFolders() (inbox, logs, processed string, err error) {
	inbox = filepath.Join(b.cfg.BaseDir, b.cfg.InboxDir)
	logs = filepath.Join(b.cfg.BaseDir, b.cfg.LogsDir)
	processed = filepath.Join(b.cfg.BaseDir, b.cfg.ProcessedDir)
	for _, dir := range []string{inbox, logs, processed} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", "", "", eris.Wrapf(err, "uploader: create folder %s", dir)
		}
	}
	return inbox, logs, processed, nil
}

// wakeServer pings until the server answers or attempts run out.
func (b *Batch) wakeServer(ctx context.Context) error {
	for attempt := 1; attempt <= b.cfg.MaxWakeAttempts; attempt++ {
		resp, err := b.client.Ping(ctx)
		if err == nil {
			zap.L().Info("server awake",
				zap.String("status", resp.Status),
				zap.String("environment", resp.Environment),
				zap.Int("attempt", attempt),
			)
			return nil
		}
		if !resilience.IsTransient(err) {
			return eris.Wrap(err, "uploader: server ping rejected")
		}

		zap.L().Info("server not ready, waiting",
			zap.Int("attempt", attempt),
			zap.Int("maxAttempts", b.cfg.MaxWakeAttempts),
			zap.Duration("interval", b.cfg.WakeInterval),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.cfg.WakeInterval):
		}
	}
	return eris.Errorf("uploader: server did not respond after %d wake-up attempts", b.cfg.MaxWakeAttempts)
}

// waitUntilReady polls batch-status until the server reports not busy.
// The first file skips the check; the server always accepts a fresh batch.
func (b *Batch) waitUntilReady(ctx context.Context, fileIndex int) error {
	if fileIndex == 0 {
		return nil
	}
	for {
		status, err := b.client.BatchStatus(ctx)
		if err != nil {
			return eris.Wrap(err, "uploader: batch status")
		}
		if !status.IsBusy {
			return nil
		}
		zap.L().Info("server busy, waiting",
			zap.Int("active", status.Queue.Active),
			zap.Int("waiting", status.Queue.Waiting),
			zap.Duration("interval", b.cfg.PollInterval),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.cfg.PollInterval):
		}
	}
}

func (b *Batch) uploadOne(ctx context.Context, inbox, processed, name string) FileOutcome {
	outcome := FileOutcome{FileName: name}

	claimed, err := claimFile(filepath.Join(inbox, name))
	if err != nil {
		outcome.Error = err.Error()
		zap.L().Warn("could not claim file", zap.String("file", name), zap.Error(err))
		return outcome
	}

	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.MaxAttempts = b.cfg.MaxRetries
	retryCfg.OnRetry = resilience.RetryLogger("upload " + name)

	uploadID, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (string, error) {
		return b.sendFile(ctx, claimed, name)
	})
	if err != nil {
		outcome.Error = err.Error()
		zap.L().Error("upload failed", zap.String("file", name), zap.Error(err))
		// Put the file back for the next run.
		if unclaimErr := unclaimFile(claimed); unclaimErr != nil {
			zap.L().Warn("could not unclaim file", zap.String("file", name), zap.Error(unclaimErr))
		}
		return outcome
	}

	outcome.UploadID = uploadID
	if err := moveToProcessed(claimed, processed); err != nil {
		// The upload succeeded; a stuck move is a warning, not a failure.
		zap.L().Warn("could not move file to processed", zap.String("file", name), zap.Error(err))
	}

	outcome.Success = true
	zap.L().Info("file uploaded", zap.String("file", name), zap.String("uploadId", uploadID))
	return outcome
}

func (b *Batch) sendFile(ctx context.Context, path, name string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", eris.Wrapf(err, "uploader: open %s", name)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", eris.Wrapf(err, "uploader: stat %s", name)
	}

	return b.client.UploadFile(ctx, name, info.Size(), f)
}

func (b *Batch) writeReport(logs string, report *Report) error {
	if report.FinishedAt.IsZero() {
		report.FinishedAt = time.Now()
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return eris.Wrap(err, "uploader: marshal report")
	}

	name := fmt.Sprintf("upload-report-%s.json", report.StartedAt.Format("20060102-150405"))
	path := filepath.Join(logs, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return eris.Wrap(err, "uploader: write report")
	}

	zap.L().Info("report saved", zap.String("path", path))
	return nil
}

// listInboxFiles returns inbox file names in sorted order, skipping
// directories and files claimed by another run.
func listInboxFiles(inbox string) ([]string, error) {
	entries, err := os.ReadDir(inbox)
	if err != nil {
		return nil, eris.Wrap(err, "uploader: read inbox")
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), UploadingExtension) {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)
	return files, nil
}

// claimFile renames path with the uploading extension and returns the new
// path. A rename failure means another instance got there first.
func claimFile(path string) (string, error) {
	claimed := path + UploadingExtension
	if err := os.Rename(path, claimed); err != nil {
		return "", eris.Wrapf(err, "uploader: claim %s", filepath.Base(path))
	}
	return claimed, nil
}

// unclaimFile strips the uploading extension so the next run retries the file.
func unclaimFile(claimed string) error {
	original := strings.TrimSuffix(claimed, UploadingExtension)
	if err := os.Rename(claimed, original); err != nil {
		return eris.Wrapf(err, "uploader: unclaim %s", filepath.Base(claimed))
	}
	return nil
}

// moveToProcessed moves a claimed file into the processed folder under its
// original name, appending " (1)", " (2)" and so on if the name is taken.
func moveToProcessed(claimed, processed string) error {
	original := strings.TrimSuffix(filepath.Base(claimed), UploadingExtension)
	dest := uniqueName(processed, original)
	if err := os.Rename(claimed, dest); err != nil {
		return eris.Wrapf(err, "uploader: move %s to processed", original)
	}
	return nil
}

func uniqueName(dir, name string) string {
	dest := filepath.Join(dir, name)
	if _, err := os.Stat(dest); os.IsNotExist(err) {
		return dest
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, i, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}
