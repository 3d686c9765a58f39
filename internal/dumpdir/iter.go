package dumpdir

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// ItemIterator enumerates the regular-file items of a problem directory. It
// reads through a duplicated directory descriptor, so closing it (or letting
// it run to the end) never invalidates the handle's own fd.
type ItemIterator struct {
	dirFd int // the handle's fd, for fstatat; not owned
	f     *os.File
}

// Items starts a fresh iteration, replacing any cursor a previous call left
// open. The handle's Close also closes a still-open iterator.
func (d *Dir) Items() (*ItemIterator, error) {
	dupFd, err := unix.Dup(d.fd)
	if err != nil {
		d.log.Error("can't duplicate directory descriptor", "dir", d.path, "error", err)
		return nil, fmt.Errorf("dup %s: %w", d.path, err)
	}
	// The dup shares the directory stream position with d.fd; a fresh
	// cursor must not inherit where an earlier one stopped.
	if _, err := unix.Seek(dupFd, 0, 0); err != nil {
		unix.Close(dupFd)
		return nil, fmt.Errorf("rewind %s: %w", d.path, err)
	}
	if d.iter != nil {
		d.iter.Close()
	}
	it := &ItemIterator{dirFd: d.fd, f: os.NewFile(uintptr(dupFd), d.path)}
	d.iter = it
	return it, nil
}

// Next returns the next item name. Entries that are not regular files
// (the lock symlink, subdirectories) are skipped without following
// symlinks. At the end of the stream the cursor closes itself and every
// further call reports done.
func (it *ItemIterator) Next() (string, bool) {
	for it.f != nil {
		names, err := it.f.Readdirnames(1)
		if err != nil || len(names) == 0 {
			it.Close()
			return "", false
		}
		name := names[0]
		var st unix.Stat_t
		if unix.Fstatat(it.dirFd, name, &st, unix.AT_SYMLINK_NOFOLLOW) != nil {
			continue
		}
		if st.Mode&unix.S_IFMT == unix.S_IFREG {
			return name, true
		}
	}
	return "", false
}

// Close releases the cursor's duplicated descriptor. Safe to call twice.
func (it *ItemIterator) Close() {
	if it.f != nil {
		it.f.Close()
		it.f = nil
	}
}

// SanitizeModeAndOwner resets mode and ownership of every item to the
// handle's cached mode and uid:gid. A no-op for unprivileged handles: there
// normal umask handling already produced the right modes, and the files
// belong to the user anyway. A privileged process writing into a user's
// problem directory leaves root-owned files behind; this fixes them up.
// Individual failures are logged and skipped. Requires the lock.
func (d *Dir) SanitizeModeAndOwner() error {
	if d.uid == noOwner {
		return nil
	}
	if !d.locked {
		d.log.Error("cannot sanitize, directory is not locked", "dir", d.path)
		return fmt.Errorf("sanitize %s: %w", d.path, ErrNotLocked)
	}

	it, err := d.Items()
	if err != nil {
		return err
	}
	defer it.Close()
	for {
		name, ok := it.Next()
		if !ok {
			return nil
		}
		fd, err := secureOpenAt(d.fd, name, d.log)
		if err != nil {
			continue
		}
		if err := unix.Fchmod(fd, d.mode); err != nil {
			d.log.Error("can't change item mode", "dir", d.path, "name", name, "error", err)
		}
		if err := unix.Fchown(fd, d.uid, d.gid); err != nil {
			d.log.Error("can't change item ownership", "dir", d.path, "name", name, "uid", d.uid, "gid", d.gid, "error", err)
		}
		unix.Close(fd)
	}
}
