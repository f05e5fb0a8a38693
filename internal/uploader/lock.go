package uploader

import (
	"encoding/json"
	"os"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
)

// LockStaleAfter is the age past which a lock file from a crashed run is
// overridden.
const LockStaleAfter = 30 * time.Minute

// lockInfo is the JSON contents of the lock file.
type lockInfo struct {
	PID       int    `json:"pid"`
	Hostname  string `json:"hostname"`
	StartedAt string `json:"startedAt"`
	Timestamp int64  `json:"timestamp"`
}

// InstanceLock prevents concurrent uploader runs against the same base
// folder. The lock is a JSON file recording the owning process; locks older
// than LockStaleAfter are treated as leftovers from a crash and overridden.
type InstanceLock struct {
	path       string
	hostname   string
	pid        int
	staleAfter time.Duration
	acquired   bool
}

// NewInstanceLock creates a lock at path owned by the current process.
func NewInstanceLock(path, hostname string) *InstanceLock {
	return &InstanceLock{
		path:       path,
		hostname:   hostname,
		pid:        os.Getpid(),
		staleAfter: LockStaleAfter,
	}
}

// Acquire takes the lock. It fails if another live instance holds it, and
// overrides locks that are stale or belong to a dead local process.
func (l *InstanceLock) Acquire() error {
	existing, err := l.read()
	if err != nil {
		return err
	}

	if existing != nil {
		age := time.Since(time.Unix(existing.Timestamp, 0))
		switch {
		case age > l.staleAfter:
			// Stale lock from a crashed run, override it.
		case existing.Hostname == l.hostname && !processRunning(existing.PID):
			// Orphaned lock from a dead local process, override it.
		case existing.Hostname == l.hostname:
			return eris.Errorf("another uploader instance is already running (PID %d, started %s)",
				existing.PID, existing.StartedAt)
		default:
			return eris.Errorf("another uploader instance is running on %s (PID %d, started %s)",
				existing.Hostname, existing.PID, existing.StartedAt)
		}
	}

	now := time.Now()
	info := lockInfo{
		PID:       l.pid,
		Hostname:  l.hostname,
		StartedAt: now.Format(time.RFC3339),
		Timestamp: now.Unix(),
	}
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return eris.Wrap(err, "uploader: marshal lock info")
	}
	if err := os.WriteFile(l.path, data, 0644); err != nil {
		return eris.Wrap(err, "uploader: write lock file")
	}

	l.acquired = true
	return nil
}

// Release removes the lock file if this process still owns it.
func (l *InstanceLock) Release() {
	if !l.acquired {
		return
	}
	info, err := l.read()
	if err == nil && info != nil && info.PID == l.pid {
		_ = os.Remove(l.path)
	}
	l.acquired = false
}

func (l *InstanceLock) read() (*lockInfo, error) {
	data, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "uploader: read lock file")
	}

	var info lockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		// Unreadable lock files are treated as absent so a corrupted
		// lock cannot wedge the uploader forever.
		return nil, nil
	}
	return &info, nil
}

func processRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 probes for existence without delivering a signal.
	return proc.Signal(syscall.Signal(0)) == nil
}
