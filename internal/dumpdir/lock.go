package dumpdir

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"golang.org/x/sys/unix"
)

// Lock protocol timing. The directory is locked by creating a symlink named
// .lock inside it whose target is the pid of the locking process; symlink
// creation is atomic. Two interleavings can leave us holding a lock on a
// directory that is not really free: a creator that has not yet written the
// time item, and a deleter that has emptied the directory but not yet
// rmdir'ed it. Both are detected by the missing time item; the opener
// unlocks and backs off, the creator and deleter simply retry.
//
// For that to converge, the creator must retry locking its own new directory
// much faster than openers retry directories they are waiting on.
const (
	// Delay between "symlink fails with EEXIST, readlink fails with ENOENT"
	// tries. Someone just unlocked the directory; we retry forever.
	symlinkRetryDelay = 10 * time.Millisecond

	// Opener's delay while a live process holds the lock.
	waitForOtherProcess = 500 * time.Millisecond

	// Creator's delay in the same situation. Must differ from the opener's:
	// this is our own fresh directory and we have priority.
	createLockDelay = 10 * time.Millisecond

	// Delay and budget for the opener's "locked it, but there is no time
	// item" loop. Exhausting the budget means the target is an ordinary
	// directory, not a problem directory.
	noTimeFileDelay = 50 * time.Millisecond
	noTimeFileCount = 10

	// Delay and budget for the deleter's rmdir retry, see Delete.
	rmdirRetryDelay = 10 * time.Millisecond
	rmdirRetryCount = 50
)

// lockRole selects the retry interval and whether the validity predicate
// runs after acquisition.
type lockRole int

const (
	// roleOpener waits politely for other holders and verifies the time
	// item once the lock is held.
	roleOpener lockRole = iota
	// roleCreator retries fast and skips the validity check: the create
	// flow writes the time item only after locking.
	roleCreator
)

// tryLockSymlink makes one pass at planting the lock symlink. It returns
// (true, nil) when the lock is now ours, (false, nil) when a live process
// holds it, and an error when the directory is gone or the filesystem
// misbehaves. Stale locks from dead pids and unparsable targets are removed
// and the create is retried within the same call.
func (d *Dir) tryLockSymlink(pid string) (bool, error) {
	for {
		err := unix.Symlinkat(pid, d.fd, lockName)
		if err == nil {
			d.log.Debug("locked problem directory", "dir", d.path)
			return true, nil
		}
		if !errors.Is(err, unix.EEXIST) {
			if errors.Is(err, unix.ENOENT) || errors.Is(err, unix.ENOTDIR) || errors.Is(err, unix.EACCES) {
				// Directory vanished or is unwritable; the caller
				// classifies these.
				return false, err
			}
			d.log.Error("can't create lock file", "dir", d.path, "error", err)
			return false, fmt.Errorf("create lock in %s: %w", d.path, err)
		}

		var buf [64]byte
		n, err := unix.Readlinkat(d.fd, lockName, buf[:])
		if err != nil {
			if errors.Is(err, unix.ENOENT) {
				// The holder released between our symlinkat and
				// readlinkat. Retry forever; one candidate always wins.
				time.Sleep(symlinkRetryDelay)
				continue
			}
			d.log.Error("can't read lock file", "dir", d.path, "error", err)
			return false, fmt.Errorf("read lock in %s: %w", d.path, err)
		}
		target := string(buf[:n])

		if target == pid {
			// Locking a directory we already hold is a caller bug, but
			// must not be treated as a free lock.
			d.log.Warn("lock file is already locked by us", "dir", d.path)
			return false, nil
		}
		if isDigits(target) {
			if _, err := os.Stat("/proc/" + target); err == nil {
				d.log.Debug("lock file is locked by another process", "dir", d.path, "pid", target)
				return false, nil
			}
			d.log.Info("removing lock left by dead process", "dir", d.path, "pid", target)
		}
		// Stale or garbage lock. It may be gone by now; ENOENT is fine.
		if err := unix.Unlinkat(d.fd, lockName, 0); err != nil && !errors.Is(err, unix.ENOENT) {
			d.log.Error("can't remove stale lock file", "dir", d.path, "error", err)
			return false, fmt.Errorf("remove stale lock in %s: %w", d.path, err)
		}
	}
}

func (d *Dir) lock(role lockRole, flags Flags) error {
	if d.locked {
		d.log.Error("locking bug: lock already held", "dir", d.path)
		return fmt.Errorf("%s: lock already held", d.path)
	}

	pid := strconv.Itoa(os.Getpid())
	sleep := waitForOtherProcess
	if role == roleCreator {
		sleep = createLockDelay
	}

	count := noTimeFileCount
	for {
		for {
			ok, err := d.tryLockSymlink(pid)
			if err != nil {
				return err
			}
			if ok {
				break
			}
			// Another process has the lock; wait for it to go away.
			time.Sleep(sleep)
		}

		if role == roleCreator {
			d.locked = true
			return nil
		}

		// The opener must see a valid time item. If it is missing we have
		// locked a directory that was just created by somebody else, or
		// one that is almost deleted. Unlock and back off.
		t, err := parseTimeAt(d.fd, FilenameTime, d.log)
		if err == nil {
			d.time = t
			d.locked = true
			return nil
		}
		_ = unix.Unlinkat(d.fd, lockName, 0)
		d.log.Debug("unlocked problem directory (no or corrupted time item)", "dir", d.path)
		count--
		if count == 0 || flags&DontWaitForLock != 0 {
			return fmt.Errorf("%s: %w", d.path, ErrNotProblemDir)
		}
		time.Sleep(noTimeFileDelay)
	}
}

func (d *Dir) unlock() {
	if !d.locked {
		return
	}
	// Clear the flag first so a failing unlink still leaves the handle
	// marked unlocked.
	d.locked = false
	if err := unix.Unlinkat(d.fd, lockName, 0); err != nil && !errors.Is(err, unix.ENOENT) {
		d.log.Error("can't remove lock file", "dir", d.path, "error", err)
		return
	}
	d.log.Debug("unlocked problem directory", "dir", d.path)
}
