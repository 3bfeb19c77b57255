//go:build !windows

package logpipeline

import (
	"os"
	"path/filepath"
)

// atomicRename renames oldPath to newPath and fsyncs the parent directory so
// the rename survives a crash before the next write lands.
func atomicRename(oldPath, newPath string) error {
	if err := os.Rename(oldPath, newPath); err != nil {
		return err
	}
	dir, err := os.Open(filepath.Dir(newPath))
	if err != nil {
		return err
	}
	defer func() { _ = dir.Close() }()
	return dir.Sync()
}
