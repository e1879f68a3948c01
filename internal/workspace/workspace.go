// Package workspace allocates one private directory tree per pipeline run
// and removes it on teardown.
package workspace

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/forPelevin/lipseg/internal/types"
)

const dirPrefix = "lipseg-"

type Manager struct {
	base string
}

// NewManager roots workspaces under base, or under os.TempDir() when base
// is empty.
func NewManager(base string) *Manager {
	if base == "" {
		base = os.TempDir()
	}
	return &Manager{base: base}
}

func (m *Manager) Base() string { return m.base }

// Acquire creates a new workspace named after a random run id.
func (m *Manager) Acquire() (*Workspace, error) {
	if err := os.MkdirAll(m.base, 0o755); err != nil {
		return nil, &types.WorkspaceError{Op: "acquire", Path: m.base, Err: err}
	}
	id := uuid.NewString()
	root, err := filepath.Abs(filepath.Join(m.base, dirPrefix+id))
	if err != nil {
		return nil, &types.WorkspaceError{Op: "acquire", Err: err}
	}
	// Mkdir, not MkdirAll: an existing directory means a collision.
	if err := os.Mkdir(root, 0o700); err != nil {
		return nil, &types.WorkspaceError{Op: "acquire", Path: root, Err: err}
	}
	return &Workspace{id: id, root: root}, nil
}

// Workspace is safe for concurrent use by the jobs of one run.
type Workspace struct {
	id   string
	root string

	mu     sync.Mutex
	closed bool
}

func (w *Workspace) ID() string   { return w.id }
func (w *Workspace) Root() string { return w.root }

// Path joins elem under the workspace root without touching the disk.
func (w *Workspace) Path(elem ...string) string {
	return filepath.Join(append([]string{w.root}, elem...)...)
}

// Dir creates (if needed) and returns a subdirectory of the workspace.
func (w *Workspace) Dir(name string) (string, error) {
	p := w.Path(name)
	if !w.contains(p) || p == w.root {
		return "", &types.WorkspaceError{Op: "mkdir", Path: p, Err: errors.New("path escapes workspace")}
	}
	if err := os.MkdirAll(p, 0o700); err != nil {
		return "", &types.WorkspaceError{Op: "mkdir", Path: p, Err: err}
	}
	return p, nil
}

// Release deletes one intermediate artifact. Missing files are not an error.
func (w *Workspace) Release(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return &types.WorkspaceError{Op: "release", Path: path, Err: err}
	}
	if !w.contains(abs) || abs == w.root {
		return &types.WorkspaceError{Op: "release", Path: path, Err: errors.New("path is outside workspace")}
	}
	if err := os.Remove(abs); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &types.WorkspaceError{Op: "release", Path: path, Err: err}
	}
	return nil
}

// Handoff moves the final artifact src out of the workspace to dst so that
// teardown does not delete it. dst is written via a temporary sibling and
// renamed, so a partial file never appears at dst.
func (w *Workspace) Handoff(src, dst string) error {
	if !w.contains(src) {
		return &types.WorkspaceError{Op: "handoff", Path: src, Err: errors.New("source is outside workspace")}
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return &types.WorkspaceError{Op: "handoff", Path: dst, Err: err}
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	// Different filesystems: copy next to dst, then rename into place.
	if err := copyFile(src, dst); err != nil {
		return &types.WorkspaceError{Op: "handoff", Path: dst, Err: err}
	}
	return nil
}

// Close removes the whole tree. It is idempotent.
func (w *Workspace) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	if err := os.RemoveAll(w.root); err != nil {
		return &types.WorkspaceError{Op: "teardown", Path: w.root, Err: err}
	}
	w.closed = true
	return nil
}

func (w *Workspace) contains(p string) bool {
	abs, err := filepath.Abs(p)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(w.root, abs)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("copy: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
