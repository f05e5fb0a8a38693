package server

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// session tracks one in-flight upload between start and completion.
type session struct {
	ID       string
	FileName string
	FileSize int64

	mu          sync.Mutex
	totalChunks int
	received    map[int]bool
}

// sessionRegistry is the in-memory table of open upload sessions. Chunks are
// spooled to disk under spoolDir/<session-id>/ until the set is complete.
type sessionRegistry struct {
	spoolDir string

	mu       sync.RWMutex
	sessions map[string]*session
}

func newSessionRegistry(spoolDir string) *sessionRegistry {
	return &sessionRegistry{
		spoolDir: spoolDir,
		sessions: make(map[string]*session),
	}
}

func (r *sessionRegistry) create(fileName string, fileSize int64) (*session, error) {
	sess := &session{
		ID:       uuid.NewString(),
		FileName: fileName,
		FileSize: fileSize,
		received: make(map[int]bool),
	}

	if r.spoolDir != "" {
		if err := os.MkdirAll(filepath.Join(r.spoolDir, sess.ID), 0755); err != nil {
			return nil, eris.Wrap(err, "server: create spool dir")
		}
	}

	r.mu.Lock()
	r.sessions[sess.ID] = sess
	r.mu.Unlock()
	return sess, nil
}

func (r *sessionRegistry) get(id string) (*session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[id]
	return sess, ok
}

// remove drops the session and its spool directory.
func (r *sessionRegistry) remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()

	if r.spoolDir != "" {
		_ = os.RemoveAll(filepath.Join(r.spoolDir, id))
	}
}

// saveChunk spools one chunk to disk and reports whether the session now has
// every chunk.
func (r *sessionRegistry) saveChunk(sess *session, chunk io.Reader, index, total int) (bool, error) {
	path := filepath.Join(r.spoolDir, sess.ID, chunkName(index))
	f, err := os.Create(path)
	if err != nil {
		return false, eris.Wrap(err, "server: create chunk file")
	}
	if _, err := io.Copy(f, chunk); err != nil {
		f.Close()
		return false, eris.Wrap(err, "server: write chunk file")
	}
	if err := f.Close(); err != nil {
		return false, eris.Wrap(err, "server: close chunk file")
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.totalChunks == 0 {
		sess.totalChunks = total
	} else if sess.totalChunks != total {
		return false, eris.Errorf("server: totalChunks changed from %d to %d", sess.totalChunks, total)
	}
	sess.received[index] = true

	return len(sess.received) == sess.totalChunks, nil
}

// assemble concatenates the spooled chunks in index order.
func (r *sessionRegistry) assemble(sess *session) ([]byte, error) {
	sess.mu.Lock()
	total := sess.totalChunks
	sess.mu.Unlock()

	var content []byte
	for i := 0; i < total; i++ {
		data, err := os.ReadFile(filepath.Join(r.spoolDir, sess.ID, chunkName(i)))
		if err != nil {
			return nil, eris.Wrapf(err, "server: read chunk %d", i)
		}
		content = append(content, data...)
	}
	return content, nil
}

func chunkName(index int) string {
	return fmt.Sprintf("chunk-%06d", index)
}

func readAllLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxUploadBytes))
	if err != nil {
		return nil, eris.Wrap(err, "server: read upload body")
	}
	return data, nil
}
