package uploader

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstanceLock_AcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uploader.lock")

	l := NewInstanceLock(path, "host-a")
	require.NoError(t, l.Acquire())
	assert.FileExists(t, path)

	l.Release()
	assert.NoFileExists(t, path)
}

func TestInstanceLock_RemoteHolderBlocks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uploader.lock")

	info := lockInfo{
		PID:       99999,
		Hostname:  "other-host",
		StartedAt: time.Now().Format(time.RFC3339),
		Timestamp: time.Now().Unix(),
	}
	data, err := json.Marshal(info)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))

	l := NewInstanceLock(path, "host-a")
	err = l.Acquire()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "other-host")
}

func TestInstanceLock_StaleLockOverridden(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uploader.lock")

	old := time.Now().Add(-time.Hour)
	info := lockInfo{
		PID:       12345,
		Hostname:  "other-host",
		StartedAt: old.Format(time.RFC3339),
		Timestamp: old.Unix(),
	}
	data, err := json.Marshal(info)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))

	l := NewInstanceLock(path, "host-a")
	require.NoError(t, l.Acquire())
	t.Cleanup(l.Release)

	got, err := l.read()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), got.PID)
}

func TestInstanceLock_OrphanedLocalLockOverridden(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uploader.lock")

	// PID 0 can never be a live uploader process.
	info := lockInfo{
		PID:       0,
		Hostname:  "host-a",
		StartedAt: time.Now().Format(time.RFC3339),
		Timestamp: time.Now().Unix(),
	}
	data, err := json.Marshal(info)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))

	l := NewInstanceLock(path, "host-a")
	require.NoError(t, l.Acquire())
	t.Cleanup(l.Release)
}

func TestInstanceLock_CorruptLockIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uploader.lock")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0644))

	l := NewInstanceLock(path, "host-a")
	require.NoError(t, l.Acquire())
	t.Cleanup(l.Release)
}

func TestInstanceLock_ReleaseRespectsNewOwner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uploader.lock")

	l := NewInstanceLock(path, "host-a")
	require.NoError(t, l.Acquire())

	// Another process took over (e.g., after our lock went stale).
	info := lockInfo{PID: os.Getpid() + 1, Hostname: "host-a", Timestamp: time.Now().Unix()}
	data, err := json.Marshal(info)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))

	l.Release()
	assert.FileExists(t, path)
}
