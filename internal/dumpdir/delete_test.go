package dumpdir

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelete(t *testing.T) {
	d := createTestDir(t)
	require.NoError(t, d.SaveText("reason", "segfault"))
	require.NoError(t, d.SaveText("backtrace", "#0 main()"))

	require.NoError(t, d.Delete())
	_, err := os.Stat(d.path)
	assert.True(t, os.IsNotExist(err))
}

func TestDeleteRecursesIntoSubdirs(t *testing.T) {
	d := createTestDir(t)
	sub := filepath.Join(d.path, "sub")
	require.NoError(t, os.MkdirAll(filepath.Join(sub, "deeper"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "file"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "deeper", "file"), []byte("y"), 0o644))

	require.NoError(t, d.Delete())
	_, err := os.Stat(d.path)
	assert.True(t, os.IsNotExist(err))
}

func TestDeleteRequiresLock(t *testing.T) {
	d := createTestDir(t)
	d.unlock()
	require.ErrorIs(t, d.Delete(), ErrNotLocked)
	// The directory survives.
	assert.DirExists(t, d.path)
}

func TestDeleteKeepsLockUntilContentsGone(t *testing.T) {
	// The lock symlink must be the last entry to go, so concurrent openers
	// keep losing the validity check rather than finding a half-empty
	// unlocked directory.
	d := createTestDir(t)
	require.NoError(t, d.SaveText("reason", "segfault"))

	require.NoError(t, deleteContents(d.fd, true, d.log))

	entries, err := os.ReadDir(d.path)
	require.NoError(t, err)
	assert.Empty(t, entries)
	// deleteContents removed the lock at the very end; do by hand what
	// Delete does after the walk.
	d.locked = false
	require.NoError(t, os.Remove(d.path))
	require.NoError(t, d.Close())
}

func TestDeleteDumpDir(t *testing.T) {
	d := createTestDir(t)
	require.NoError(t, d.Close())

	require.NoError(t, DeleteDumpDir(d.path, WithLogger(quietLogger())))
	_, err := os.Stat(d.path)
	assert.True(t, os.IsNotExist(err))
}

func TestDeleteDumpDirMissing(t *testing.T) {
	err := DeleteDumpDir(filepath.Join(t.TempDir(), "gone"), WithLogger(quietLogger()))
	require.Error(t, err)
}
