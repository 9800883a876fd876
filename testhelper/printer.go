package testhelper

import (
	"github.com/ext4-tools/ext4fs/util"
)

// DumpByteSlicesWithDiffs show two byte slices in hex and ASCII format, with differences highlighted.
// Thin re-export of util.DumpByteSlicesWithDiffs for tests that want it under the testhelper package.
func DumpByteSlicesWithDiffs(a, b []byte, bytesPerRow int, showASCII, showPosHex, showPosDec bool) (different bool, out string) {
	return util.DumpByteSlicesWithDiffs(a, b, bytesPerRow, showASCII, showPosHex, showPosDec)
}
