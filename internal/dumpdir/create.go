package dumpdir

import (
	"fmt"
	"os"
	"os/user"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// CreateSkeleton makes a fresh empty problem directory and locks it. The
// directory must not exist; with CreateParents missing parents are created.
// crashedUID is the uid of the user whose problem is being captured: it
// selects the group the directory will be sanitised to, while the owning
// uid is resolved from the configured owner account. Pass -1 to leave
// sanitisation disabled.
//
// The directory gets mode | ((mode & 0444) >> 2): read intent on items
// implies traversal on the directory. Items created later get mode itself.
func CreateSkeleton(path string, crashedUID int, mode os.FileMode, flags Flags, opts ...Option) (*Dir, error) {
	dirMode := uint32(mode) | ((uint32(mode) & 0o444) >> 2)
	d := newDir(path, opts)
	d.mode = uint32(mode)

	last := d.path
	if i := strings.LastIndexByte(d.path, '/'); i >= 0 {
		last = d.path[i+1:]
	}
	if dotOrDotdot(last) {
		d.log.Error("bad problem directory name", "dir", d.path)
		return nil, fmt.Errorf("%s: bad dir name", d.path)
	}

	// Creating it owned by the crashed user would let that user replace
	// security-sensitive items (uid, executable); ownership is fixed up by
	// ResetOwnership once the skeleton is complete.
	var err error
	if flags&CreateParents != 0 {
		err = os.MkdirAll(d.path, os.FileMode(dirMode))
	} else {
		err = unix.Mkdir(d.path, dirMode)
	}
	if err != nil {
		d.log.Error("can't create problem directory", "dir", d.path, "error", err)
		return nil, fmt.Errorf("mkdir %s: %w", d.path, err)
	}

	d.fd, err = openDirFd(d.path)
	if err != nil {
		d.fd = -1
		d.log.Error("can't open newly created directory", "dir", d.path, "error", err)
		d.Close()
		return nil, fmt.Errorf("open %s: %w", d.path, err)
	}

	if err := d.lock(roleCreator, 0); err != nil {
		d.Close()
		return nil, err
	}

	// mkdir's mode was filtered by umask.
	if err := unix.Fchmod(d.fd, dirMode); err != nil {
		d.log.Error("can't change directory mode", "dir", d.path, "error", err)
		d.Close()
		return nil, fmt.Errorf("chmod %s: %w", d.path, err)
	}

	if crashedUID != noOwner {
		d.uid = 0
		if u, err := user.Lookup(d.ownerUser); err == nil {
			if n, err := strconv.Atoi(u.Uid); err == nil {
				d.uid = n
			}
		} else {
			d.log.Error("owner account does not exist, using uid 0", "user", d.ownerUser)
		}

		d.gid = 0
		if u, err := user.LookupId(strconv.Itoa(crashedUID)); err == nil {
			if n, err := strconv.Atoi(u.Gid); err == nil {
				d.gid = n
			}
		} else {
			d.log.Error("crashed user does not exist, using gid 0", "uid", crashedUID)
		}
	}

	return d, nil
}

// ResetOwnership applies the ownership computed by CreateSkeleton to the
// directory itself.
func (d *Dir) ResetOwnership() error {
	if err := unix.Fchown(d.fd, d.uid, d.gid); err != nil {
		d.log.Error("can't change directory ownership", "dir", d.path, "uid", d.uid, "gid", d.gid, "error", err)
		return fmt.Errorf("chown %s: %w", d.path, err)
	}
	return nil
}

// Create is CreateSkeleton with parent creation plus ResetOwnership.
func Create(path string, crashedUID int, mode os.FileMode, opts ...Option) (*Dir, error) {
	d, err := CreateSkeleton(path, crashedUID, mode, CreateParents, opts...)
	if err != nil {
		return nil, err
	}
	_ = d.ResetOwnership()
	return d, nil
}

// CreateBasicFiles populates the items every problem directory carries:
// time and last_occurrence (current wall clock, unless time already
// exists), uid, the uname triple and the OS release string. When chrootDir
// is non-empty the release inside the chroot is captured as well.
func (d *Dir) CreateBasicFiles(uid int, chrootDir string) error {
	_, err := d.LoadTextExt(FilenameTime, FailQuietlyENOENT|ReturnNilOnFailure)
	if err != nil {
		// First occurrence.
		now := strconv.FormatInt(time.Now().Unix(), 10)
		if err := d.SaveText(FilenameTime, now); err != nil {
			return err
		}
		if err := d.SaveText(FilenameLastOccurrence, now); err != nil {
			return err
		}
	}
	if t, err := parseTimeAt(d.fd, FilenameTime, d.log); err == nil {
		d.time = t
	}

	if uid != noOwner {
		if err := d.SaveText(FilenameUID, strconv.Itoa(uid)); err != nil {
			return err
		}
	}

	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return fmt.Errorf("uname: %w", err)
	}
	if err := d.SaveText(FilenameKernel, unix.ByteSliceToString(uts.Release[:])); err != nil {
		return err
	}
	if err := d.SaveText(FilenameArchitecture, unix.ByteSliceToString(uts.Machine[:])); err != nil {
		return err
	}
	if err := d.SaveText(FilenameHostname, unix.ByteSliceToString(uts.Nodename[:])); err != nil {
		return err
	}

	// Not every system has a release file (installer environments don't);
	// a missing one is saved as the empty string without complaint.
	if _, err := d.LoadTextExt(FilenameOSRelease, FailQuietlyENOENT|ReturnNilOnFailure); err != nil {
		release, rerr := loadTextFile("/etc/system-release", ReturnNilOnFailure|OpenFollow|FailQuietlyENOENT, d.log)
		if rerr != nil {
			release, _ = loadTextFile("/etc/redhat-release", OpenFollow|FailQuietlyENOENT, d.log)
		}
		if err := d.SaveText(FilenameOSRelease, release); err != nil {
			return err
		}
		if chrootDir != "" {
			release, _ = loadTextFile(chrootDir+"/etc/system-release", OpenFollow|FailQuietlyENOENT, d.log)
			if release != "" {
				if err := d.SaveText(FilenameOSReleaseInRootDir, release); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
