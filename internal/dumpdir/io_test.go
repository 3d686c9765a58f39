package dumpdir

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		// Exactly one newline, at the end: stripped, so that
		// "echo value > item" loads as "value".
		{"value\n", "value"},
		{"value", "value"},
		{"", ""},
		{"\n", ""},
		// Any newline but unterminated last line: newline appended.
		{"a\nb", "a\nb\n"},
		{"a\nb\n", "a\nb\n"},
		{"a\nb\nc", "a\nb\nc\n"},
		// NUL becomes space, other control bytes are dropped.
		{"a\x00b", "a b"},
		{"a\x07b", "ab"},
		{"a\tb\rc", "a\tb\rc"},
		// Printable high bytes survive.
		{"sm\xc3\xa9", "sm\xc3\xa9"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeText([]byte(tt.in)), "input %q", tt.in)
	}
}

func TestSaveLoadRoundtrip(t *testing.T) {
	d := createTestDir(t)

	require.NoError(t, d.SaveText("hostname", "example.com"))
	assert.Equal(t, "example.com", d.LoadText("hostname"))

	// A shell-written item with a trailing newline loads the same.
	require.NoError(t, d.SaveText("kernel", "6.1.0\n"))
	assert.Equal(t, "6.1.0", d.LoadText("kernel"))

	require.NoError(t, d.SaveBinary("payload", []byte{0x01, 0x02, 0x03}))
	assert.True(t, d.Exist("payload"))
}

func TestLoadTextMissingItem(t *testing.T) {
	d := createTestDir(t)

	// Default: empty string, no error.
	s, err := d.LoadTextExt("nonexistent", FailQuietlyENOENT)
	require.NoError(t, err)
	assert.Equal(t, "", s)

	// ReturnNilOnFailure: the failure is reported.
	_, err = d.LoadTextExt("nonexistent", FailQuietlyENOENT|ReturnNilOnFailure)
	require.Error(t, err)
	assert.True(t, errors.Is(err, unix.ENOENT))
}

func TestLoadTextInvalidName(t *testing.T) {
	d := createTestDir(t)
	_, err := d.LoadTextExt("../escape", 0)
	require.ErrorIs(t, err, ErrBadName)
	_, err = d.LoadTextExt("", ReturnNilOnFailure)
	require.ErrorIs(t, err, ErrBadName)
}

func TestLoadTextReleaseAlias(t *testing.T) {
	d := createTestDir(t)
	require.NoError(t, d.SaveText(FilenameOSRelease, "Fedora release 42"))
	assert.Equal(t, "Fedora release 42", d.LoadText("release"))
}

func TestSaveRequiresLock(t *testing.T) {
	d := createTestDir(t)
	d.unlock()
	err := d.SaveText("item", "value")
	require.ErrorIs(t, err, ErrNotLocked)
	err = d.DeleteItem("item")
	require.ErrorIs(t, err, ErrNotLocked)
}

func TestDeleteItem(t *testing.T) {
	d := createTestDir(t)
	require.NoError(t, d.SaveText("item", "value"))
	require.NoError(t, d.DeleteItem("item"))
	assert.False(t, d.Exist("item"))
	// Deleting a missing item is not an error.
	require.NoError(t, d.DeleteItem("item"))
}

func TestSecureOpenRejectsSymlink(t *testing.T) {
	d := createTestDir(t)
	require.NoError(t, unix.Symlinkat("/etc/passwd", d.fd, "sneaky"))

	_, err := secureOpenAt(d.fd, "sneaky", d.log)
	require.Error(t, err)

	// The ordinary load path refuses it too.
	_, err = d.LoadTextExt("sneaky", FailQuietlyENOENT|ReturnNilOnFailure)
	require.Error(t, err)
}

func TestSecureOpenRejectsHardlink(t *testing.T) {
	d := createTestDir(t)
	require.NoError(t, d.SaveText("original", "secret"))
	require.NoError(t, os.Link(filepath.Join(d.path, "original"), filepath.Join(d.path, "linked")))

	_, err := secureOpenAt(d.fd, "linked", d.log)
	require.ErrorIs(t, err, unix.EINVAL)
}

func TestSaveReplacesSymlinkWithFile(t *testing.T) {
	d := createTestDir(t)
	target := filepath.Join(t.TempDir(), "outside")
	require.NoError(t, os.WriteFile(target, []byte("untouched"), 0o644))
	require.NoError(t, unix.Symlinkat(target, d.fd, "item"))

	require.NoError(t, d.SaveText("item", "new"))

	// The symlink was unlinked, not written through.
	b, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "untouched", string(b))
	assert.Equal(t, "new", d.LoadText("item"))
}
