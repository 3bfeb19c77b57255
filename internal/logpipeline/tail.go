package logpipeline

import (
	"bytes"
	"fmt"
	"os"
)

// tailChunkSize is how much of the file tail we read per backward pass
// while hunting for n newlines.
const tailChunkSize = 64 * 1024

// TailLines returns the last n complete lines of the file at path, without
// reading the whole file when it is much larger than n lines need. Used by
// the Logs{name, lines} control command to serve a bounded
// read over a file a background Writer may still be appending to —
// reading is safe because rotation and append are the only writers and
// both are append-only/atomic-rename.
func TailLines(path string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("logpipeline: tail %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("logpipeline: stat %s: %w", path, err)
	}

	var buf []byte
	remaining := info.Size()
	newlines := 0
	for remaining > 0 && newlines <= n {
		readSize := int64(tailChunkSize)
		if readSize > remaining {
			readSize = remaining
		}
		remaining -= readSize
		chunk := make([]byte, readSize)
		if _, err := f.ReadAt(chunk, remaining); err != nil {
			return nil, fmt.Errorf("logpipeline: read %s: %w", path, err)
		}
		buf = append(chunk, buf...)
		newlines = bytes.Count(buf, []byte("\n"))
	}

	text := string(buf)
	if len(text) > 0 && text[len(text)-1] == '\n' {
		text = text[:len(text)-1]
	}
	if text == "" {
		return nil, nil
	}
	lines := splitLines(text)
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}
