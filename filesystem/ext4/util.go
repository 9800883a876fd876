package ext4

import (
	"fmt"
	"path"
	"strings"
)

// byte-count multipliers, used throughout Params and defaults
const (
	KB int64 = 1024
	MB int64 = 1024 * KB
	GB int64 = 1024 * MB
)

// stringToASCIIBytes converts s to a fixed-size, NUL-padded ASCII byte
// slice of exactly size bytes, as used for the on-disk volume label and
// last-mounted-directory superblock fields. It truncates s if it is longer
// than size.
func stringToASCIIBytes(s string, size int) ([]byte, error) {
	b := make([]byte, size)
	copy(b, s)
	return b, nil
}

// minString converts a fixed-size, possibly NUL-padded byte slice back to
// a string, stopping at the first NUL byte.
func minString(b []byte) string {
	idx := len(b)
	for i, c := range b {
		if c == 0 {
			idx = i
			break
		}
	}
	return string(b[:idx])
}

// splitPath splits an absolute path into its component parts, ignoring any
// leading, trailing, or duplicate separators.
func splitPath(p string) []string {
	cleaned := path.Clean(p)
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" || cleaned == "." {
		return []string{}
	}
	return strings.Split(cleaned, "/")
}

// journalDevice resolves an external journal device path to a device
// number. External journal devices are not supported by this driver; this
// exists purely so WithFeatureSeparateJournalDevice callers get a clear
// error rather than silently being ignored.
func journalDevice(device string) (uint32, error) {
	return 0, fmt.Errorf("external journal device %q not supported", device)
}
