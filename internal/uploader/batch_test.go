package uploader

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdas-ops/tddf-cli/internal/resilience"
	"github.com/mdas-ops/tddf-cli/pkg/mdas"
)

// fakeClient implements mdas.Client for batch tests.
type fakeClient struct {
	pingErrs    []error // consumed one per Ping call, then success
	busyCount   int     // number of BatchStatus calls reporting busy
	failFiles   map[string]error
	uploaded    []string
	statusCalls int
}

func (f *fakeClient) Ping(ctx context.Context) (*mdas.PingResponse, error) {
	if len(f.pingErrs) > 0 {
		err := f.pingErrs[0]
		f.pingErrs = f.pingErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &mdas.PingResponse{Status: "ok", Environment: "test"}, nil
}

func (f *fakeClient) BatchStatus(ctx context.Context) (*mdas.BatchStatusResponse, error) {
	f.statusCalls++
	busy := f.statusCalls <= f.busyCount
	return &mdas.BatchStatusResponse{IsBusy: busy}, nil
}

func (f *fakeClient) StartUpload(ctx context.Context, filename string, size int64) (string, error) {
	return "up-" + filename, nil
}

func (f *fakeClient) Upload(ctx context.Context, uploadID, filename string, body io.Reader) error {
	return nil
}

func (f *fakeClient) UploadChunk(ctx context.Context, uploadID string, chunk []byte, index, total int) error {
	return nil
}

func (f *fakeClient) UploadFile(ctx context.Context, filename string, size int64, body io.Reader) (string, error) {
	if err, ok := f.failFiles[filename]; ok {
		return "", err
	}
	f.uploaded = append(f.uploaded, filename)
	return "up-" + filename, nil
}

func testConfig(base string) Config {
	return Config{
		BaseDir:         base,
		MaxRetries:      2,
		WakeInterval:    time.Millisecond,
		MaxWakeAttempts: 3,
		PollInterval:    time.Millisecond,
	}
}

func writeInboxFile(t *testing.T, base, name, content string) {
	t.Helper()
	inbox := filepath.Join(base, "inbox")
	require.NoError(t, os.MkdirAll(inbox, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(inbox, name), []byte(content), 0644))
}

func TestBatch_UploadsAndMovesToProcessed(t *testing.T) {
	base := t.TempDir()
	writeInboxFile(t, base, "a.tddf", "AAA")
	writeInboxFile(t, base, "b.tddf", "BBB")

	client := &fakeClient{}
	b := NewBatch(testConfig(base), client)

	report, err := b.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 2, report.Successful)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, []string{"a.tddf", "b.tddf"}, client.uploaded)

	assert.FileExists(t, filepath.Join(base, "processed", "a.tddf"))
	assert.FileExists(t, filepath.Join(base, "processed", "b.tddf"))
	assert.NoFileExists(t, filepath.Join(base, "inbox", "a.tddf"))
}

func TestBatch_FailedFileUnclaimedAndReported(t *testing.T) {
	base := t.TempDir()
	writeInboxFile(t, base, "bad.tddf", "XXX")

	client := &fakeClient{
		failFiles: map[string]error{"bad.tddf": eris.New("rejected")},
	}
	b := NewBatch(testConfig(base), client)

	report, err := b.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Uploads, 1)
	assert.False(t, report.Uploads[0].Success)
	assert.Contains(t, report.Uploads[0].Error, "rejected")

	// File returned to the inbox for the next run.
	assert.FileExists(t, filepath.Join(base, "inbox", "bad.tddf"))
}

func TestBatch_RetriesTransientUploadFailure(t *testing.T) {
	base := t.TempDir()
	writeInboxFile(t, base, "flaky.tddf", "YYY")

	client := &flakyClient{failuresLeft: 1}
	b := NewBatch(testConfig(base), client)

	report, err := b.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Successful)
	assert.Equal(t, 2, client.attempts)
}

// flakyClient fails UploadFile with a transient error a set number of times.
type flakyClient struct {
	fakeClient
	failuresLeft int
	attempts     int
}

func (f *flakyClient) UploadFile(ctx context.Context, filename string, size int64, body io.Reader) (string, error) {
	f.attempts++
	if f.failuresLeft > 0 {
		f.failuresLeft--
		return "", resilience.NewTransientError(eris.New("503"), 503)
	}
	return "up-" + filename, nil
}

func TestBatch_WaitsOutBusyServer(t *testing.T) {
	base := t.TempDir()
	writeInboxFile(t, base, "a.tddf", "A")
	writeInboxFile(t, base, "b.tddf", "B")

	client := &fakeClient{busyCount: 2}
	b := NewBatch(testConfig(base), client)

	report, err := b.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Successful)
	// Busy polls happen before the second file only.
	assert.Equal(t, 3, client.statusCalls)
}

func TestBatch_WakesSleepingServer(t *testing.T) {
	base := t.TempDir()
	writeInboxFile(t, base, "a.tddf", "A")

	client := &fakeClient{
		pingErrs: []error{
			resilience.NewTransientError(eris.New("starting"), 503),
			nil,
		},
	}
	b := NewBatch(testConfig(base), client)

	report, err := b.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Successful)
}

func TestBatch_WakeGivesUpAfterMaxAttempts(t *testing.T) {
	base := t.TempDir()

	transient := resilience.NewTransientError(eris.New("asleep"), 503)
	client := &fakeClient{pingErrs: []error{transient, transient, transient}}
	b := NewBatch(testConfig(base), client)

	_, err := b.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wake-up attempts")
}

func TestBatch_AuthFailureStopsImmediately(t *testing.T) {
	base := t.TempDir()

	client := &fakeClient{pingErrs: []error{eris.New("authentication failed")}}
	b := NewBatch(testConfig(base), client)

	_, err := b.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping rejected")
}

func TestBatch_WritesReportFile(t *testing.T) {
	base := t.TempDir()
	writeInboxFile(t, base, "a.tddf", "A")

	b := NewBatch(testConfig(base), &fakeClient{})
	_, err := b.Run(context.Background())
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(base, "logs"))
	require.NoError(t, err)

	var found bool
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".json" {
			found = true
		}
	}
	assert.True(t, found, "expected an upload-report JSON in logs")
}

func TestBatch_SkipsClaimedFiles(t *testing.T) {
	base := t.TempDir()
	writeInboxFile(t, base, "a.tddf", "A")
	writeInboxFile(t, base, "b.tddf"+UploadingExtension, "claimed elsewhere")

	client := &fakeClient{}
	b := NewBatch(testConfig(base), client)

	report, err := b.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Total)
	assert.Equal(t, []string{"a.tddf"}, client.uploaded)
}

func TestUniqueName_AppendsCounter(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f.tddf"), []byte("1"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f (1).tddf"), []byte("2"), 0644))

	got := uniqueName(dir, "f.tddf")
	assert.Equal(t, filepath.Join(dir, "f (2).tddf"), got)
}
