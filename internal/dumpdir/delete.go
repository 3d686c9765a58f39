package dumpdir

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// deleteContents empties the directory behind dirFd. The walk runs on a
// duplicated descriptor so the caller's fd stays usable. At the top level
// the lock symlink is skipped during the walk and unlinked last, so the
// directory stays locked while it is being emptied.
func deleteContents(dirFd int, skipLockFile bool, log *slog.Logger) error {
	dupFd, err := unix.Dup(dirFd)
	if err != nil {
		log.Error("can't duplicate directory descriptor", "error", err)
		return fmt.Errorf("dup: %w", err)
	}
	// The dup shares the stream position with dirFd, which an earlier
	// iteration may have moved.
	if _, err := unix.Seek(dupFd, 0, 0); err != nil {
		unix.Close(dupFd)
		return fmt.Errorf("rewind: %w", err)
	}
	f := os.NewFile(uintptr(dupFd), ".")
	defer f.Close()

	names, err := f.Readdirnames(-1)
	if err != nil {
		// Only a directory that still exists is a failure; one already
		// deleted under us is done.
		if errors.Is(err, unix.ENOENT) || errors.Is(err, unix.ENOTDIR) {
			return nil
		}
		return fmt.Errorf("readdir: %w", err)
	}

	unlinkLockFile := false
	for _, name := range names {
		if skipLockFile && name == lockName {
			unlinkLockFile = true
			continue
		}
		err := unix.Unlinkat(dirFd, name, 0)
		if err == nil || errors.Is(err, unix.ENOENT) {
			continue
		}
		if errors.Is(err, unix.EISDIR) {
			subFd, err := unix.Openat(dirFd, name, unix.O_DIRECTORY|unix.O_RDONLY, 0)
			if err != nil {
				log.Error("can't open subdirectory", "name", name, "error", err)
				return fmt.Errorf("open %s: %w", name, err)
			}
			err = deleteContents(subFd, false, log)
			unix.Close(subFd)
			if err != nil {
				return err
			}
			if err := unix.Unlinkat(dirFd, name, unix.AT_REMOVEDIR); err != nil && !errors.Is(err, unix.ENOENT) {
				log.Error("can't remove subdirectory", "name", name, "error", err)
				return fmt.Errorf("rmdir %s: %w", name, err)
			}
			continue
		}
		log.Error("can't remove item", "name", name, "error", err)
		return fmt.Errorf("unlink %s: %w", name, err)
	}

	if unlinkLockFile {
		if err := unix.Unlinkat(dirFd, lockName, 0); err != nil && !errors.Is(err, unix.ENOENT) {
			log.Error("can't remove lock file", "error", err)
			return fmt.Errorf("unlink %s: %w", lockName, err)
		}
	}
	return nil
}

// Delete empties and removes the problem directory, then closes the handle.
// Requires the lock. The rmdir retries: a concurrent opener may have
// re-locked the emptied directory, but its validity check fails at once and
// it releases, so a bounded retry always wins against well-behaved peers.
func (d *Dir) Delete() error {
	if !d.locked {
		d.log.Error("unlocked problem directory cannot be deleted", "dir", d.path)
		return fmt.Errorf("delete %s: %w", d.path, ErrNotLocked)
	}

	if err := deleteContents(d.fd, true, d.log); err != nil {
		d.log.Error("can't remove contents of problem directory", "dir", d.path, "error", err)
		return fmt.Errorf("delete %s: %w: %v", d.path, ErrRemoveContents, err)
	}

	removed := false
	for i := 0; i < rmdirRetryCount; i++ {
		if err := unix.Rmdir(d.path); err == nil {
			removed = true
			break
		}
		time.Sleep(rmdirRetryDelay)
	}
	if !removed {
		d.log.Error("can't remove problem directory", "dir", d.path)
		return fmt.Errorf("delete %s: %w", d.path, ErrRmdirContended)
	}

	// deleteContents already removed the lock file.
	d.locked = false
	return d.Close()
}

// DeleteDumpDir opens and deletes a problem directory in one step.
func DeleteDumpDir(path string, opts ...Option) error {
	d, err := Open(path, 0, opts...)
	if err != nil {
		return err
	}
	return d.Delete()
}
