// Package dumpdir implements a filesystem-backed store of problem
// directories: one directory per captured problem, holding named text and
// binary items plus required metadata. Many unrelated processes on the same
// host work on the store at once (crash hooks create directories, reporters
// read them, janitors delete them), coordinated only through an advisory
// per-directory lock built from a symlink whose target is the holder's pid.
//
// A directory is valid once it contains a well-formed "time" item. The lock
// protocol uses that as its validity predicate: an opener that manages to
// lock a directory without a time file has either raced a fresh creator or a
// deleter mid-flight, and backs off.
package dumpdir

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// Error kinds surfaced by the store. Callers match them with errors.Is.
var (
	// ErrNotProblemDir means the directory exists but lacks a well-formed
	// time item even after the opener's retry budget.
	ErrNotProblemDir = errors.New("not a problem directory")

	// ErrNotLocked means a mutating operation was invoked on a handle that
	// does not hold the directory lock. This is a caller bug.
	ErrNotLocked = errors.New("problem directory is not locked")

	// ErrBadName means a caller-supplied item name failed validation.
	ErrBadName = errors.New("invalid item name")

	// ErrRemoveContents means Delete could not empty the directory.
	ErrRemoveContents = errors.New("can't remove directory contents")

	// ErrRmdirContended means Delete emptied the directory but rmdir kept
	// failing for the whole retry budget.
	ErrRmdirContended = errors.New("can't remove directory")
)

// Flags adjust the behavior of Open, Create and the load/save primitives.
type Flags uint

const (
	// FailQuietlyENOENT suppresses the diagnostic when the target is missing.
	FailQuietlyENOENT Flags = 1 << iota
	// FailQuietlyEACCES suppresses the diagnostic when permission is denied.
	FailQuietlyEACCES
	// ReturnNilOnFailure makes LoadTextExt report load failures as errors
	// instead of returning an empty string.
	ReturnNilOnFailure
	// OpenFollow permits symlink dereference. Only honored for external
	// paths such as /etc/system-release, never for items inside a problem
	// directory.
	OpenFollow
	// OpenReadonly accepts a read-only handle when the directory is
	// readable but not writable.
	OpenReadonly
	// DontWaitForLock gives up after the first failed validity check
	// instead of backing off and retrying.
	DontWaitForLock
	// CreateParents creates missing parent directories in CreateSkeleton.
	CreateParents
)

// DefaultOwnerUser is the account that ends up owning sanitised problem
// directories when no override is configured.
const DefaultOwnerUser = "crashspool"

const noOwner = -1

// Dir is a handle to one problem directory. It owns the directory file
// descriptor exclusively; Close releases the lock (if held) and the fd.
// Mutating operations require the lock.
type Dir struct {
	path   string
	fd     int
	locked bool

	// mode is applied to newly created items (directory mode & 0666 on
	// open; the caller-supplied file mode on create).
	mode uint32

	// uid/gid are the sanitisation target for item writes, or noOwner when
	// the opener is unprivileged and sanitisation is disabled.
	uid, gid int

	// time is the parsed value of the time item, -1 until known.
	time int64

	iter *ItemIterator

	log       *slog.Logger
	ownerUser string
}

// Option adjusts handle construction.
type Option func(*Dir)

// WithLogger routes the handle's diagnostics to log instead of
// slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(d *Dir) {
		if log != nil {
			d.log = log
		}
	}
}

// WithOwnerUser overrides the account that owns sanitised directories
// (default DefaultOwnerUser).
func WithOwnerUser(name string) Option {
	return func(d *Dir) {
		if name != "" {
			d.ownerUser = name
		}
	}
}

func newDir(path string, opts []Option) *Dir {
	d := &Dir{
		path:      strings.TrimRight(path, "/"),
		fd:        -1,
		uid:       noOwner,
		gid:       noOwner,
		time:      -1,
		log:       slog.Default(),
		ownerUser: DefaultOwnerUser,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Path returns the directory path with trailing slashes stripped.
func (d *Dir) Path() string { return d.path }

// Locked reports whether this handle holds the directory lock. Read-only
// handles never do.
func (d *Dir) Locked() bool { return d.locked }

// Time returns the parsed value of the time item, or -1 when unknown.
func (d *Dir) Time() int64 { return d.time }

// openDirFd opens a directory without following a symlink at the final
// component.
func openDirFd(path string) (int, error) {
	return unix.Open(path, unix.O_DIRECTORY|unix.O_NOFOLLOW|unix.O_RDONLY, 0)
}

// Open opens an existing problem directory and acquires its lock. The
// directory must be valid (contain a well-formed time item). With
// OpenReadonly an unwritable but readable directory yields an unlocked
// read-only handle on which mutating operations fail with ErrNotLocked.
func Open(path string, flags Flags, opts ...Option) (*Dir, error) {
	d := newDir(path, opts)
	fd, err := openDirFd(d.path)
	if err != nil {
		d.reportOpenFailure(err, flags)
		return nil, fmt.Errorf("open %s: %w", d.path, err)
	}
	d.fd = fd
	return d.finishOpen(flags)
}

// OpenFd is Open for a directory descriptor the caller already holds. The
// handle takes ownership of fd; name is used for diagnostics and rmdir.
func OpenFd(fd int, name string, flags Flags, opts ...Option) (*Dir, error) {
	d := newDir(name, opts)
	d.fd = fd
	return d.finishOpen(flags)
}

func (d *Dir) finishOpen(flags Flags) (*Dir, error) {
	var st unix.Stat_t
	if err := unix.Fstat(d.fd, &st); err != nil {
		d.reportOpenFailure(err, flags)
		d.Close()
		return nil, fmt.Errorf("stat %s: %w", d.path, err)
	}
	// Strip the executable bits: items are plain files.
	d.mode = uint32(st.Mode) & 0o666

	if err := d.lock(roleOpener, flags); err != nil {
		if flags&OpenReadonly != 0 && errors.Is(err, unix.EACCES) {
			if unix.Faccessat(d.fd, ".", unix.R_OK, unix.AT_SYMLINK_NOFOLLOW) == nil {
				t, terr := parseTimeAt(d.fd, FilenameTime, d.log)
				if terr != nil {
					d.Close()
					return nil, fmt.Errorf("%s: %w", d.path, ErrNotProblemDir)
				}
				d.time = t
				return d, nil
			}
		}
		if errors.Is(err, ErrNotProblemDir) {
			d.log.Error("not a problem directory", "dir", d.path)
		} else {
			d.reportOpenFailure(err, flags)
		}
		d.Close()
		return nil, err
	}

	if os.Geteuid() == 0 {
		// A privileged opener will want to create more files; remember
		// whose they should be.
		if err := unix.Fstat(d.fd, &st); err != nil {
			d.log.Error("can't stat problem directory", "dir", d.path, "error", err)
			d.Close()
			return nil, fmt.Errorf("stat %s: %w", d.path, err)
		}
		d.uid = int(st.Uid)
		d.gid = int(st.Gid)
	}
	return d, nil
}

func (d *Dir) reportOpenFailure(err error, flags Flags) {
	if errors.Is(err, unix.ENOENT) || errors.Is(err, unix.ENOTDIR) {
		if flags&FailQuietlyENOENT == 0 {
			d.log.Error("problem directory does not exist", "dir", d.path)
		}
		return
	}
	if flags&FailQuietlyEACCES == 0 {
		d.log.Error("can't access problem directory", "dir", d.path, "error", err)
	}
}

// Close releases the lock if held, closes the directory descriptor and any
// open iteration cursor. It is safe to call more than once.
func (d *Dir) Close() error {
	if d == nil {
		return nil
	}
	d.unlock()
	if d.iter != nil {
		d.iter.Close()
		d.iter = nil
	}
	if d.fd >= 0 {
		err := unix.Close(d.fd)
		d.fd = -1
		return err
	}
	return nil
}

// Exist reports whether an item or subdirectory of that name is present.
func (d *Dir) Exist(name string) bool {
	if !IsCorrectFilename(name) {
		d.log.Error("cannot test existence, invalid item name", "name", name)
		return false
	}
	var st unix.Stat_t
	if err := unix.Fstatat(d.fd, name, &st, unix.AT_SYMLINK_NOFOLLOW); err != nil {
		return false
	}
	switch st.Mode & unix.S_IFMT {
	case unix.S_IFREG, unix.S_IFDIR:
		return true
	}
	return false
}
