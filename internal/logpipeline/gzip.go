package logpipeline

import (
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
)

// compressInBackground gzips src to src+".gz" and removes src on success. It
// is invoked from a dedicated goroutine per rotation so a slow compression
// never stalls the consumer's write path.
func compressInBackground(src string, onDone func(dstPath string, err error)) {
	go func() {
		dst := src + ".gz"
		err := compressFile(src, dst)
		if err == nil {
			err = os.Remove(src)
		}
		if onDone != nil {
			onDone(dst, err)
		}
	}()
}

func compressFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	gw, err := gzip.NewWriterLevel(out, gzip.DefaultCompression)
	if err != nil {
		_ = out.Close()
		return err
	}

	if _, err := io.Copy(gw, in); err != nil {
		_ = gw.Close()
		_ = out.Close()
		return err
	}
	if err := gw.Close(); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
