package dumpdir

import (
	"os/user"
	"strconv"

	"golang.org/x/sys/unix"
)

// OwnershipPolicy selects how a non-root uid may be granted access to a
// problem directory that is not world-readable.
type OwnershipPolicy int

const (
	// PolicyOwnedByUser grants access when the uid owns the directory.
	PolicyOwnedByUser OwnershipPolicy = iota
	// PolicyGroupMember grants access when the uid is a member of the
	// directory's group.
	PolicyGroupMember
)

const (
	statAccessibleByUID = 1 << iota
	statOwnedByUID
)

// uidInGroup reports whether uid belongs to group gid, either as its
// primary group or as a supplementary member.
func uidInGroup(uid, gid int) bool {
	u, err := user.LookupId(strconv.Itoa(uid))
	if err != nil {
		return false
	}
	want := strconv.Itoa(gid)
	if u.Gid == want {
		return true
	}
	gids, err := u.GroupIds()
	if err != nil {
		return false
	}
	for _, g := range gids {
		if g == want {
			return true
		}
	}
	return false
}

func fdStatForUID(fd, uid int, policy OwnershipPolicy) (int, error) {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return -1, err
	}
	if st.Mode&unix.S_IFMT != unix.S_IFDIR {
		return -1, unix.ENOTDIR
	}

	ddstat := 0
	if uid == 0 || st.Mode&unix.S_IROTH != 0 {
		ddstat |= statAccessibleByUID
	}

	owned := false
	switch policy {
	case PolicyOwnedByUser:
		owned = uid == int(st.Uid)
	case PolicyGroupMember:
		owned = uidInGroup(uid, int(st.Gid))
	}
	if uid == 0 || st.Mode&unix.S_IROTH != 0 || owned {
		ddstat |= statAccessibleByUID | statOwnedByUID
	}
	return ddstat, nil
}

// FdAccessibleByUID reports whether uid may read the problem directory
// behind fd under the given ownership policy.
func FdAccessibleByUID(fd, uid int, policy OwnershipPolicy) bool {
	ddstat, err := fdStatForUID(fd, uid, policy)
	if err != nil {
		return false
	}
	return ddstat&statAccessibleByUID != 0
}

// AccessibleByUID is FdAccessibleByUID for a path.
func AccessibleByUID(path string, uid int, policy OwnershipPolicy) bool {
	fd, err := openDirFd(path)
	if err != nil {
		return false
	}
	defer unix.Close(fd)
	return FdAccessibleByUID(fd, uid, policy)
}
