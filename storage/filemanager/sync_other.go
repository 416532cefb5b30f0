//go:build !unix

package filemanager

import "os"

// durableSync falls back to a full fsync on platforms without fdatasync.
func durableSync(f *os.File) error {
	return f.Sync()
}
