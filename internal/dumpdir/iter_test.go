package dumpdir

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectItems(t *testing.T, d *Dir) []string {
	t.Helper()
	it, err := d.Items()
	require.NoError(t, err)
	var names []string
	for {
		name, ok := it.Next()
		if !ok {
			break
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func TestItemsEnumeratesRegularFiles(t *testing.T) {
	d := createTestDir(t)
	require.NoError(t, d.SaveText("reason", "segfault"))
	require.NoError(t, d.SaveText("uid", "1000"))
	require.NoError(t, os.Mkdir(filepath.Join(d.path, "subdir"), 0o755))

	// Subdirectories and the lock symlink are not items.
	assert.Equal(t, []string{"reason", "time", "uid"}, collectItems(t, d))
}

func TestItemsExhaustedCursorStaysDone(t *testing.T) {
	d := createTestDir(t)
	it, err := d.Items()
	require.NoError(t, err)
	for {
		if _, ok := it.Next(); !ok {
			break
		}
	}
	_, ok := it.Next()
	assert.False(t, ok)
}

func TestItemsReplacesPriorCursor(t *testing.T) {
	d := createTestDir(t)
	first, err := d.Items()
	require.NoError(t, err)

	second, err := d.Items()
	require.NoError(t, err)
	defer second.Close()

	// The replaced cursor is closed, the new one works.
	_, ok := first.Next()
	assert.False(t, ok)
	name, ok := second.Next()
	assert.True(t, ok)
	assert.Equal(t, FilenameTime, name)
}

func TestItemsCursorIndependentOfHandleFd(t *testing.T) {
	d := createTestDir(t)
	it, err := d.Items()
	require.NoError(t, err)
	it.Close()

	// Closing the cursor must not close the handle's own descriptor.
	assert.True(t, d.Exist(FilenameTime))
	require.NoError(t, d.SaveText("after", "cursor close"))
}
