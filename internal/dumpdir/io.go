package dumpdir

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// secureOpenAt opens an item for reading relative to dirFd without
// dereferencing symlinks, and rejects anything that is not a regular file
// with link count 1. The store may be group-owned by partially trusted
// users; the link-count check defeats hardlink substitution of files the
// caller has no business reading.
func secureOpenAt(dirFd int, name string, log *slog.Logger) (int, error) {
	fd, err := unix.Openat(dirFd, name, unix.O_RDONLY|unix.O_NOFOLLOW, 0)
	if err != nil {
		return -1, err
	}
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		log.Error("can't stat item", "name", name, "error", err)
		unix.Close(fd)
		return -1, err
	}
	if st.Mode&unix.S_IFMT != unix.S_IFREG || st.Nlink > 1 {
		log.Debug("item is not a regular file or has extra links", "name", name, "nlink", st.Nlink)
		unix.Close(fd)
		return -1, unix.EINVAL
	}
	return fd, nil
}

func isSpaceByte(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\v', '\f', '\r':
		return true
	}
	return false
}

// normalizeText applies the item payload normalisation: NUL becomes space,
// other bytes below 0x20 that are not whitespace are dropped (DEL and bytes
// from 0x80 up are kept), and the trailing-newline
// rule makes "echo value > item" and "value" load identically. A payload
// with exactly one newline as its last byte loses it; a payload with any
// newline but an unterminated last line gains one; a payload with no
// newlines is returned verbatim.
func normalizeText(data []byte) string {
	var b strings.Builder
	b.Grow(len(data))
	oneline := 0
	for _, ch := range data {
		if ch == '\n' {
			oneline = oneline<<1 | 1
		}
		if ch == 0 {
			ch = ' '
		}
		if isSpaceByte(ch) || ch >= ' ' {
			b.WriteByte(ch)
		}
	}
	s := b.String()
	if oneline != 0 && s[len(s)-1] == '\n' {
		if oneline == 1 {
			s = s[:len(s)-1]
		}
	} else if oneline != 0 {
		s += "\n"
	}
	return s
}

func loadTextOpenFailure(path string, err error, flags Flags, log *slog.Logger) (string, error) {
	if flags&FailQuietlyENOENT == 0 {
		log.Error("can't open file", "path", path, "error", err)
	}
	if flags&ReturnNilOnFailure != 0 {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	return "", nil
}

func loadTextFromFile(f *os.File, flags Flags, log *slog.Logger) (string, error) {
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		log.Error("can't read file", "path", f.Name(), "error", err)
		if flags&ReturnNilOnFailure != 0 {
			return "", fmt.Errorf("read %s: %w", f.Name(), err)
		}
		return "", nil
	}
	return normalizeText(data), nil
}

func loadTextAt(dirFd int, name string, flags Flags, log *slog.Logger) (string, error) {
	oflags := unix.O_RDONLY
	if flags&OpenFollow == 0 {
		oflags |= unix.O_NOFOLLOW
	}
	fd, err := unix.Openat(dirFd, name, oflags, 0)
	if err != nil {
		return loadTextOpenFailure(name, err, flags, log)
	}
	return loadTextFromFile(os.NewFile(uintptr(fd), name), flags, log)
}

// loadTextFile loads an external path, outside any problem directory. This
// is the only reader that honors OpenFollow.
func loadTextFile(path string, flags Flags, log *slog.Logger) (string, error) {
	oflags := unix.O_RDONLY
	if flags&OpenFollow == 0 {
		oflags |= unix.O_NOFOLLOW
	}
	fd, err := unix.Open(path, oflags, 0)
	if err != nil {
		return loadTextOpenFailure(path, err, flags, log)
	}
	return loadTextFromFile(os.NewFile(uintptr(fd), path), flags, log)
}

// saveBinaryAt replaces the item by unlinking any previous file and creating
// a fresh one with O_EXCL|O_NOFOLLOW, then fixes ownership (when
// sanitisation is on) and mode (to defeat umask) before writing the payload.
// A failure partway can leave a partial file behind.
func saveBinaryAt(dirFd int, name string, data []byte, uid, gid int, mode uint32, log *slog.Logger) error {
	_ = unix.Unlinkat(dirFd, name, 0)
	fd, err := unix.Openat(dirFd, name, unix.O_WRONLY|unix.O_CREAT|unix.O_EXCL|unix.O_NOFOLLOW, mode)
	if err != nil {
		log.Error("can't open item for writing", "name", name, "error", err)
		return fmt.Errorf("create %s: %w", name, err)
	}
	f := os.NewFile(uintptr(fd), name)
	defer f.Close()

	if uid != noOwner {
		if err := unix.Fchown(fd, uid, gid); err != nil {
			log.Error("can't change item ownership", "name", name, "uid", uid, "gid", gid, "error", err)
			return fmt.Errorf("chown %s: %w", name, err)
		}
	}
	// O_CREAT gave us mode & ^umask, and the file may have existed with a
	// different mode anyway.
	if err := unix.Fchmod(fd, mode); err != nil {
		log.Error("can't change item mode", "name", name, "error", err)
		return fmt.Errorf("chmod %s: %w", name, err)
	}
	if _, err := f.Write(data); err != nil {
		log.Error("can't save item", "name", name, "error", err)
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// LoadTextExt loads and normalises a text item. Without ReturnNilOnFailure a
// load failure yields "" and a nil error (with a diagnostic unless
// FailQuietlyENOENT); with it, the failure is returned as an error. An
// invalid name is always an error.
func (d *Dir) LoadTextExt(name string, flags Flags) (string, error) {
	if !IsCorrectFilename(name) {
		d.log.Error("cannot load text, invalid item name", "name", name)
		return "", fmt.Errorf("%w: %q", ErrBadName, name)
	}
	// Old dumps called this item "release".
	if name == "release" {
		name = FilenameOSRelease
	}
	return loadTextAt(d.fd, name, flags&^OpenFollow, d.log)
}

// LoadText loads a text item, returning "" when it cannot be read.
func (d *Dir) LoadText(name string) string {
	s, _ := d.LoadTextExt(name, 0)
	return s
}

// SaveText writes a text item. Requires the lock.
func (d *Dir) SaveText(name, value string) error {
	return d.SaveBinary(name, []byte(value))
}

// SaveBinary writes an item payload verbatim. Requires the lock.
func (d *Dir) SaveBinary(name string, data []byte) error {
	if !d.locked {
		d.log.Error("cannot save item, directory is not locked", "dir", d.path, "name", name)
		return fmt.Errorf("save %s in %s: %w", name, d.path, ErrNotLocked)
	}
	if !IsCorrectFilename(name) {
		d.log.Error("cannot save item, invalid item name", "name", name)
		return fmt.Errorf("%w: %q", ErrBadName, name)
	}
	return saveBinaryAt(d.fd, name, data, d.uid, d.gid, d.mode, d.log)
}

// DeleteItem removes an item. A missing item is not an error. Requires the
// lock.
func (d *Dir) DeleteItem(name string) error {
	if !d.locked {
		d.log.Error("cannot delete item, directory is not locked", "dir", d.path, "name", name)
		return fmt.Errorf("delete %s in %s: %w", name, d.path, ErrNotLocked)
	}
	if !IsCorrectFilename(name) {
		d.log.Error("cannot delete item, invalid item name", "name", name)
		return fmt.Errorf("%w: %q", ErrBadName, name)
	}
	if err := unix.Unlinkat(d.fd, name, 0); err != nil && !errors.Is(err, unix.ENOENT) {
		d.log.Error("can't delete item", "name", name, "error", err)
		return fmt.Errorf("delete %s: %w", name, err)
	}
	return nil
}
