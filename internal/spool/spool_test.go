package spool

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crashspool/crashspool/internal/dumpdir"
)

func testSpool(t *testing.T) *Spool {
	t.Helper()
	s, err := New(t.TempDir(), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	return s
}

func TestNewRequiresExistingDir(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)

	file := filepath.Join(t.TempDir(), "plain")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, err = New(file)
	require.Error(t, err)
}

func TestNewName(t *testing.T) {
	s := testSpool(t)
	a := s.NewName("oops")
	b := s.NewName("oops")

	assert.True(t, dumpdir.IsCorrectFilename(a))
	assert.NotEqual(t, a, b)
	assert.Contains(t, a, "oops-")

	assert.Contains(t, s.NewName(""), "problem-")
}

func TestCreateOpenDelete(t *testing.T) {
	s := testSpool(t)

	d, err := s.Create("oops", -1)
	require.NoError(t, err)
	name := filepath.Base(d.Path())
	assert.True(t, d.Locked())
	assert.Greater(t, d.Time(), int64(0))
	require.NoError(t, d.Close())

	names, err := s.List("")
	require.NoError(t, err)
	assert.Equal(t, []string{name}, names)

	d, err = s.Open(name, 0)
	require.NoError(t, err)
	require.NoError(t, d.Close())

	require.NoError(t, s.Delete(name))
	names, err = s.List("")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestListPattern(t *testing.T) {
	s := testSpool(t)
	for _, name := range []string{"ccpp-1", "ccpp-2", "python-1"} {
		require.NoError(t, os.Mkdir(filepath.Join(s.Root(), name), 0o755))
	}
	// Stray files under the root are not problem directories.
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "stray"), nil, 0o644))

	names, err := s.List("ccpp-*")
	require.NoError(t, err)
	assert.Equal(t, []string{"ccpp-1", "ccpp-2"}, names)

	names, err = s.List("")
	require.NoError(t, err)
	assert.Equal(t, []string{"ccpp-1", "ccpp-2", "python-1"}, names)

	_, err = s.List("[")
	require.Error(t, err)
}

func TestOpenRejectsTraversal(t *testing.T) {
	s := testSpool(t)
	_, err := s.Open("../outside", 0)
	require.Error(t, err)
	_, err = s.Open("a/b", 0)
	require.Error(t, err)
	require.Error(t, s.Delete(".."))
	assert.False(t, s.Accessible("../outside", 0))
}

func TestPrune(t *testing.T) {
	s := testSpool(t)

	old, err := s.Create("old", -1)
	require.NoError(t, err)
	oldName := filepath.Base(old.Path())
	require.NoError(t, old.SaveText(dumpdir.FilenameTime, "1000000"))
	require.NoError(t, old.Close())

	fresh, err := s.Create("fresh", -1)
	require.NoError(t, err)
	freshName := filepath.Base(fresh.Path())
	require.NoError(t, fresh.Close())

	// An invalid entry is skipped, not deleted.
	require.NoError(t, os.Mkdir(filepath.Join(s.Root(), "not-a-dump"), 0o755))

	removed, err := s.Prune(time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	names, err := s.List("")
	require.NoError(t, err)
	assert.NotContains(t, names, oldName)
	assert.Contains(t, names, freshName)
	assert.Contains(t, names, "not-a-dump")
}

func TestWatch(t *testing.T) {
	s := testSpool(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := s.Watch(ctx)
	require.NoError(t, err)

	d, err := s.Create("oops", -1)
	require.NoError(t, err)
	name := filepath.Base(d.Path())
	require.NoError(t, d.Close())

	waitFor := func(want Event) {
		t.Helper()
		deadline := time.After(5 * time.Second)
		for {
			select {
			case ev, ok := <-events:
				require.True(t, ok, "event channel closed")
				if ev == want {
					return
				}
			case <-deadline:
				t.Fatalf("timed out waiting for %+v", want)
			}
		}
	}
	waitFor(Event{Name: name, Op: EntryCreated})

	require.NoError(t, s.Delete(name))
	waitFor(Event{Name: name, Op: EntryRemoved})

	cancel()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("event channel did not close on cancel")
		}
	}
}
