//go:build unix

package local

import (
	"fmt"
	"io/fs"
	"syscall"
)

// fileKey identifies the object behind info by device and inode.
func fileKey(_ string, info fs.FileInfo) string {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return ""
	}
	return fmt.Sprintf("%d:%d", st.Dev, st.Ino)
}
