// Package workspace manages per-request scratch directories. Every request
// gets an isolated directory that is removed on all exit paths; Release is
// idempotent so it can be deferred around the whole request and also invoked
// early on error paths.
package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"trellis-api/internal/shared"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Manager struct {
	root string
	log  *zap.SugaredLogger
}

func NewManager(root string, log *zap.SugaredLogger) *Manager {
	if root == "" {
		root = os.TempDir()
	}
	return &Manager{root: root, log: log}
}

func (m *Manager) Root() string {
	return m.root
}

// Acquire creates a fresh workspace directory under the manager root. The
// directory name carries a random identifier so concurrent requests never
// collide. Failure here is fatal to the request and happens before any stage
// runs.
func (m *Manager) Acquire() (*Workspace, error) {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	dir := filepath.Join(m.root, shared.WorkspacePrefix+id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Join(shared.ErrWorkspaceUnavailable, err)
	}
	m.log.Debugw("workspace acquired", "workspace", dir)
	return &Workspace{id: id, dir: dir, log: m.log}, nil
}

type Workspace struct {
	id      string
	dir     string
	log     *zap.SugaredLogger
	release sync.Once
}

func (w *Workspace) ID() string {
	return w.id
}

func (w *Workspace) Dir() string {
	return w.dir
}

// Path joins name inside the workspace directory.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.dir, name)
}

// Release recursively deletes the workspace. Safe to call multiple times and
// safe if the directory was never populated.
func (w *Workspace) Release() {
	w.release.Do(func() {
		if err := os.RemoveAll(w.dir); err != nil {
			w.log.Warnw("failed to remove workspace", "workspace", w.dir, "error", err)
			return
		}
		w.log.Debugw("workspace released", "workspace", w.dir)
	})
}
