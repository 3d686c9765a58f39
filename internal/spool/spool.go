// Package spool manages a spool directory full of problem directories: one
// flat root (typically /var/spool/crashspool) whose entries are each a
// dumpdir. It layers naming, enumeration, garbage collection and change
// watching over the per-directory store.
package spool

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/google/uuid"

	"github.com/crashspool/crashspool/internal/dumpdir"
)

// DefaultMode is the item mode for problem directories created through the
// spool: owner read/write, group read, nothing for the world.
const DefaultMode os.FileMode = 0o640

// Spool binds a root directory holding problem directories.
type Spool struct {
	root      string
	mode      os.FileMode
	ownerUser string
	policy    dumpdir.OwnershipPolicy
	log       *slog.Logger
}

// Option adjusts spool construction.
type Option func(*Spool)

// WithLogger routes diagnostics to log instead of slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(s *Spool) {
		if log != nil {
			s.log = log
		}
	}
}

// WithMode sets the item mode for created problem directories.
func WithMode(mode os.FileMode) Option {
	return func(s *Spool) { s.mode = mode }
}

// WithOwnerUser sets the account sanitised problem directories belong to.
func WithOwnerUser(name string) Option {
	return func(s *Spool) {
		if name != "" {
			s.ownerUser = name
		}
	}
}

// WithPolicy selects the accessibility policy for Accessible.
func WithPolicy(policy dumpdir.OwnershipPolicy) Option {
	return func(s *Spool) { s.policy = policy }
}

// New binds root, which must already exist and be a directory.
func New(root string, opts ...Option) (*Spool, error) {
	s := &Spool{
		root:      strings.TrimRight(root, "/"),
		mode:      DefaultMode,
		ownerUser: dumpdir.DefaultOwnerUser,
		policy:    dumpdir.PolicyOwnedByUser,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	st, err := os.Stat(s.root)
	if err != nil {
		return nil, fmt.Errorf("spool root: %w", err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("spool root %s: not a directory", s.root)
	}
	return s, nil
}

// Root returns the spool root path.
func (s *Spool) Root() string { return s.root }

// validName guards every spool entry name a caller hands us: entries are
// direct children of the root, so item-name rules apply.
func (s *Spool) validName(name string) error {
	if !dumpdir.IsCorrectFilename(name) {
		return fmt.Errorf("bad problem directory name %q", name)
	}
	return nil
}

// List returns the names of problem directories in the spool, sorted.
// pattern is a glob over entry names; empty matches everything. Entries
// that are not directories are skipped.
func (s *Spool) List(pattern string) ([]string, error) {
	var g glob.Glob
	if pattern != "" {
		var err error
		g, err = glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
		}
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read spool root: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if g != nil && !g.Match(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// NewName generates a fresh problem directory name:
// <prefix>-<date>-<pid>-<suffix>. The date and pid make names meaningful to
// operators, the random suffix keeps two crashes in the same second from
// colliding.
func (s *Spool) NewName(prefix string) string {
	if prefix == "" {
		prefix = "problem"
	}
	return fmt.Sprintf("%s-%s-%d-%s",
		prefix,
		time.Now().Format("2006-01-02-15:04:05"),
		os.Getpid(),
		uuid.NewString()[:8])
}

// Create makes a fresh locked problem directory in the spool and populates
// its basic items. crashedUID may be -1 for no sanitisation.
func (s *Spool) Create(prefix string, crashedUID int) (*dumpdir.Dir, error) {
	name := s.NewName(prefix)
	d, err := dumpdir.Create(filepath.Join(s.root, name), crashedUID, s.mode,
		dumpdir.WithLogger(s.log), dumpdir.WithOwnerUser(s.ownerUser))
	if err != nil {
		return nil, err
	}
	if err := d.CreateBasicFiles(crashedUID, ""); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

// Open opens a problem directory by spool entry name.
func (s *Spool) Open(name string, flags dumpdir.Flags) (*dumpdir.Dir, error) {
	if err := s.validName(name); err != nil {
		return nil, err
	}
	return dumpdir.Open(filepath.Join(s.root, name), flags,
		dumpdir.WithLogger(s.log), dumpdir.WithOwnerUser(s.ownerUser))
}

// Delete removes a problem directory by spool entry name.
func (s *Spool) Delete(name string) error {
	if err := s.validName(name); err != nil {
		return err
	}
	return dumpdir.DeleteDumpDir(filepath.Join(s.root, name),
		dumpdir.WithLogger(s.log), dumpdir.WithOwnerUser(s.ownerUser))
}

// Accessible reports whether uid may read the named problem directory
// under the spool's policy.
func (s *Spool) Accessible(name string, uid int) bool {
	if err := s.validName(name); err != nil {
		return false
	}
	return dumpdir.AccessibleByUID(filepath.Join(s.root, name), uid, s.policy)
}

// Prune deletes problem directories whose time item is older than cutoff
// and returns how many went away. Entries that are not valid problem
// directories or cannot be opened are skipped with a diagnostic.
func (s *Spool) Prune(cutoff time.Time) (int, error) {
	names, err := s.List("")
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, name := range names {
		d, err := s.Open(name, dumpdir.FailQuietlyENOENT|dumpdir.DontWaitForLock)
		if err != nil {
			s.log.Debug("prune: skipping entry", "name", name, "error", err)
			continue
		}
		if d.Time() >= 0 && d.Time() < cutoff.Unix() {
			if err := d.Delete(); err != nil {
				s.log.Error("prune: can't delete problem directory", "name", name, "error", err)
				d.Close()
				continue
			}
			removed++
			s.log.Info("prune: deleted problem directory", "name", name)
			continue
		}
		d.Close()
	}
	return removed, nil
}
