// Package tempres provides scoped temporary files used to hand audio between decode steps.
// A Resource is owned by the request that acquired it and is deleted exactly once.
package tempres

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Manager creates temporary resources in a single directory and tracks how many are alive
type Manager struct {
	dir    string
	logger *slog.Logger

	// onReleaseFailure is invoked for every deletion that failed
	onReleaseFailure func()

	live     atomic.Int64
	created  atomic.Uint64
	released atomic.Uint64
}

// Resource is a temporary file with a guaranteed single release
type Resource struct {
	path      string
	createdAt time.Time

	manager *Manager
	once    sync.Once
	err     error
}

// NewManager creates a manager rooted at dir; an empty dir means os.TempDir()
func NewManager(dir string, logger *slog.Logger, onReleaseFailure func()) (*Manager, error) {
	if dir == "" {
		dir = os.TempDir()
	}

	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("temp dir %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("temp dir %s is not a directory", dir)
	}

	return &Manager{
		dir:              dir,
		logger:           logger,
		onReleaseFailure: onReleaseFailure,
	}, nil
}

// Acquire creates an empty temporary file whose name ends in suffix (e.g. ".webm")
func (m *Manager) Acquire(prefix, suffix string) (*Resource, error) {
	name := fmt.Sprintf("%s-%s%s", prefix, uuid.NewString(), suffix)
	path := filepath.Join(m.dir, name)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to close temp file: %w", err)
	}

	m.live.Add(1)
	m.created.Add(1)

	return &Resource{
		path:      path,
		createdAt: time.Now(),
		manager:   m,
	}, nil
}

// AcquireWith creates a temporary file and writes data into it.
// The resource is already released if an error is returned.
func (m *Manager) AcquireWith(prefix, suffix string, data []byte) (*Resource, error) {
	res, err := m.Acquire(prefix, suffix)
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(res.path, data, 0600); err != nil {
		res.Release()
		return nil, fmt.Errorf("failed to write temp file: %w", err)
	}

	return res, nil
}

// Live returns the number of acquired resources that were not released yet
func (m *Manager) Live() int64 {
	return m.live.Load()
}

// Stats returns the number of created and released resources
func (m *Manager) Stats() (created, released uint64) {
	return m.created.Load(), m.released.Load()
}

// Dir returns the directory temporary files are created in
func (m *Manager) Dir() string {
	return m.dir
}

// Path returns the file path of the resource
func (r *Resource) Path() string {
	return r.path
}

// Release deletes the file. Only the first call has an effect; later calls return the
// first result. A file that is already gone counts as released. Deletion failures are
// logged here so callers may ignore the returned error.
func (r *Resource) Release() error {
	r.once.Do(func() {
		m := r.manager
		m.live.Add(-1)
		m.released.Add(1)

		err := os.Remove(r.path)
		if err == nil || errors.Is(err, fs.ErrNotExist) {
			return
		}

		r.err = err
		m.logger.Warn("Failed to remove temp file",
			slog.String("path", r.path),
			slog.Duration("age", time.Since(r.createdAt)),
			slog.String("error", err.Error()),
		)
		if m.onReleaseFailure != nil {
			m.onReleaseFailure()
		}
	})

	return r.err
}
