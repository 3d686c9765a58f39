package dumpdir

import (
	"fmt"
	"log/slog"
	"math"
	"strconv"

	"golang.org/x/sys/unix"
)

// Enough bytes for any decimal int64 plus a trailing newline. A file that
// fills the whole buffer cannot be a valid timestamp.
const maxTimeFileSize = 8*3 + 1

// parseTimeAt reads and validates the time item: a non-negative decimal
// unix timestamp, optionally newline-terminated, strictly below the largest
// representable time. Signed values, leading whitespace and trailing
// garbage are all rejected by the all-digits check.
func parseTimeAt(dirFd int, name string, log *slog.Logger) (int64, error) {
	fd, err := secureOpenAt(dirFd, name, log)
	if err != nil {
		log.Debug("can't open time item", "name", name, "error", err)
		return -1, fmt.Errorf("open %s: %w", name, err)
	}
	buf := make([]byte, maxTimeFileSize)
	n, err := unix.Read(fd, buf)
	unix.Close(fd)
	if err != nil {
		log.Debug("can't read time item", "name", name, "error", err)
		return -1, fmt.Errorf("read %s: %w", name, err)
	}
	if n == len(buf) {
		log.Debug("time item too long to be a valid timestamp", "name", name, "max", len(buf))
		return -1, fmt.Errorf("%s: timestamp too long", name)
	}
	if n > 0 && buf[n-1] == '\n' {
		n--
	}
	s := string(buf[:n])

	if !isDigits(s) {
		log.Debug("time item is not a valid timestamp", "name", name, "value", s)
		return -1, fmt.Errorf("%s: invalid timestamp %q", name, s)
	}
	val, err := strconv.ParseInt(s, 10, 64)
	if err != nil || val >= math.MaxInt64 {
		log.Debug("time item is not a valid timestamp", "name", name, "value", s)
		return -1, fmt.Errorf("%s: invalid timestamp %q", name, s)
	}
	return val, nil
}
