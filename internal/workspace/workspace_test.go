package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forPelevin/lipseg/internal/types"
)

func TestAcquire_CreatesPrivateRoot(t *testing.T) {
	m := NewManager(t.TempDir())
	ws, err := m.Acquire()
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })

	info, err := os.Stat(ws.Root())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, os.FileMode(0o700), info.Mode().Perm())
	assert.True(t, strings.HasPrefix(filepath.Base(ws.Root()), "lipseg-"+ws.ID()))
}

func TestAcquire_ConcurrentRunsNeverShareRoots(t *testing.T) {
	m := NewManager(t.TempDir())

	const n = 32
	var (
		mu    sync.Mutex
		roots = map[string]bool{}
		wg    sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ws, err := m.Acquire()
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			roots[ws.Root()] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, roots, n)
}

func TestClose_RemovesTreeAndIsIdempotent(t *testing.T) {
	m := NewManager(t.TempDir())
	ws, err := m.Acquire()
	require.NoError(t, err)

	dir, err := ws.Dir("video")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "video_000.mp4"), []byte("x"), 0o644))

	require.NoError(t, ws.Close())
	_, err = os.Stat(ws.Root())
	assert.True(t, errors.Is(err, os.ErrNotExist))
	assert.NoError(t, ws.Close())
}

func TestClose_DoesNotTouchSiblingRun(t *testing.T) {
	m := NewManager(t.TempDir())
	a, err := m.Acquire()
	require.NoError(t, err)
	b, err := m.Acquire()
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	outB := b.Path("out_000.mp4")
	require.NoError(t, os.WriteFile(outB, []byte("b"), 0o644))

	require.NoError(t, a.Close())
	_, err = os.Stat(outB)
	assert.NoError(t, err)
}

func TestRelease(t *testing.T) {
	m := NewManager(t.TempDir())
	ws, err := m.Acquire()
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })

	p := ws.Path("seg.mp4")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	require.NoError(t, ws.Release(p))
	_, err = os.Stat(p)
	assert.True(t, errors.Is(err, os.ErrNotExist))

	// already gone
	assert.NoError(t, ws.Release(p))

	outside := filepath.Join(t.TempDir(), "keep.mp4")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0o644))
	err = ws.Release(outside)
	var wsErr *types.WorkspaceError
	require.True(t, errors.As(err, &wsErr))
	assert.Equal(t, "release", wsErr.Op)
	_, err = os.Stat(outside)
	assert.NoError(t, err)

	assert.Error(t, ws.Release(ws.Root()))
}

func TestDir_RejectsEscape(t *testing.T) {
	m := NewManager(t.TempDir())
	ws, err := m.Acquire()
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })

	_, err = ws.Dir("../elsewhere")
	assert.Error(t, err)
}

func TestHandoff_SurvivesTeardown(t *testing.T) {
	m := NewManager(t.TempDir())
	ws, err := m.Acquire()
	require.NoError(t, err)

	src := ws.Path("final.mp4")
	require.NoError(t, os.WriteFile(src, []byte("video"), 0o644))
	dst := filepath.Join(t.TempDir(), "nested", "result.mp4")

	require.NoError(t, ws.Handoff(src, dst))
	require.NoError(t, ws.Close())

	b, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "video", string(b))
}

func TestHandoff_RejectsForeignSource(t *testing.T) {
	m := NewManager(t.TempDir())
	ws, err := m.Acquire()
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })

	err = ws.Handoff(filepath.Join(t.TempDir(), "x.mp4"), filepath.Join(t.TempDir(), "y.mp4"))
	assert.Error(t, err)
}

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a")
	dst := filepath.Join(dir, "b")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))
	require.NoError(t, copyFile(src, dst))
	b, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(b))
}
