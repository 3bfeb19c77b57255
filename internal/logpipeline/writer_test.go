package logpipeline

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWriter_WritesAndFlushesLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")

	w, err := NewWriter(path, Rotation{MaxFiles: 5}, 20*time.Millisecond)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	n, err := w.Write([]byte("line one\nline two\n"))
	require.NoError(t, err)
	require.Equal(t, len("line one\nline two\n"), n)

	require.Eventually(t, func() bool {
		b, readErr := os.ReadFile(path)
		return readErr == nil && len(b) > 0
	}, time.Second, 10*time.Millisecond)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(b), "line one\n")
	require.Contains(t, string(b), "line two\n")

	snap := w.Snapshot()
	require.Equal(t, uint64(2), snap.LinesWritten)
}

func TestWriter_RotatesOnSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")

	w, err := NewWriter(path, Rotation{MaxFileSize: 10, MaxFiles: 5}, 10*time.Millisecond)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	_, err = w.Write([]byte("0123456789\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		entries, readErr := os.ReadDir(dir)
		return readErr == nil && len(entries) >= 2
	}, time.Second, 10*time.Millisecond, "rotation should produce a timestamped sibling file")

	require.GreaterOrEqual(t, w.Snapshot().RotationCount, uint64(1))
}

func TestWriter_DropsUnderBackpressure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")

	w, err := NewWriter(path, Rotation{MaxFiles: 5}, time.Hour)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	// Exhaust every permit without letting the consumer drain them.
	for i := 0; i < queueCapacity; i++ {
		ok := w.sem.TryAcquire(1)
		require.True(t, ok)
	}

	n, err := w.Write([]byte("dropped\n"))
	require.NoError(t, err)
	require.Equal(t, len("dropped\n"), n, "Write must report full length even when the byte was dropped")

	require.Eventually(t, func() bool {
		return w.Snapshot().DroppedMessages >= 1
	}, time.Second, 10*time.Millisecond)
}
