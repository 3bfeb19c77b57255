//go:build windows

package logpipeline

import (
	"io"
	"os"
)

// atomicRename renames oldPath to newPath, falling back to a copy+truncate
// when the rename fails because another handle still has the file open —
// the common case on Windows for a file a child process is still writing to
//.
func atomicRename(oldPath, newPath string) error {
	if err := os.Rename(oldPath, newPath); err == nil {
		return nil
	}

	src, err := os.Open(oldPath)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	dst, err := os.OpenFile(newPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}

	return os.Truncate(oldPath, 0)
}
