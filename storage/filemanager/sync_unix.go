//go:build unix

package filemanager

import (
	"os"

	"golang.org/x/sys/unix"
)

// durableSync forces the file's data to stable storage. On unix this
// uses fdatasync, which skips the inode-metadata flush fsync performs
// when only file contents (not size/mtime) changed.
func durableSync(f *os.File) error {
	return unix.Fdatasync(int(f.Fd()))
}
