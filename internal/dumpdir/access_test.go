package dumpdir

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestAccessibleByRoot(t *testing.T) {
	d := createTestDir(t)
	require.NoError(t, d.Close())

	assert.True(t, AccessibleByUID(d.path, 0, PolicyOwnedByUser))
	assert.True(t, AccessibleByUID(d.path, 0, PolicyGroupMember))
}

func TestAccessibleByOther(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared")
	require.NoError(t, os.Mkdir(path, 0o755))

	// World-readable: any uid may read, whatever the policy.
	assert.True(t, AccessibleByUID(path, 12345, PolicyOwnedByUser))
	assert.True(t, AccessibleByUID(path, 12345, PolicyGroupMember))
}

func TestAccessibleByOwner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "private")
	require.NoError(t, os.Mkdir(path, 0o700))

	assert.True(t, AccessibleByUID(path, os.Getuid(), PolicyOwnedByUser))
	// Some unrelated uid that neither owns the directory nor shares its
	// group.
	assert.False(t, AccessibleByUID(path, os.Getuid()+54321, PolicyOwnedByUser))
	assert.False(t, AccessibleByUID(path, os.Getuid()+54321, PolicyGroupMember))
}

func TestAccessibleMissingOrNotDir(t *testing.T) {
	assert.False(t, AccessibleByUID(filepath.Join(t.TempDir(), "gone"), 0, PolicyOwnedByUser))

	file := filepath.Join(t.TempDir(), "plain")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	assert.False(t, AccessibleByUID(file, 0, PolicyOwnedByUser))
}

func TestFdAccessibleByUID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fdcheck")
	require.NoError(t, os.Mkdir(path, 0o700))
	fd, err := unix.Open(path, unix.O_DIRECTORY|unix.O_RDONLY, 0)
	require.NoError(t, err)
	defer unix.Close(fd)

	assert.True(t, FdAccessibleByUID(fd, 0, PolicyOwnedByUser))
	assert.True(t, FdAccessibleByUID(fd, os.Getuid(), PolicyOwnedByUser))
	assert.False(t, FdAccessibleByUID(fd, os.Getuid()+54321, PolicyOwnedByUser))
}
