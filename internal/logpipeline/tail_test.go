package logpipeline

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeLines(t *testing.T, path string, n int) {
	t.Helper()
	var b strings.Builder
	for i := 1; i <= n; i++ {
		b.WriteString("line " + strconv.Itoa(i) + "\n")
	}
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
}

func TestTailLines_ReturnsLastN(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	writeLines(t, path, 10)

	got, err := TailLines(path, 3)
	require.NoError(t, err)
	require.Equal(t, []string{"line 8", "line 9", "line 10"}, got)
}

func TestTailLines_FewerLinesThanRequested(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	writeLines(t, path, 2)

	got, err := TailLines(path, 10)
	require.NoError(t, err)
	require.Equal(t, []string{"line 1", "line 2"}, got)
}

func TestTailLines_MissingFileReturnsNil(t *testing.T) {
	got, err := TailLines(filepath.Join(t.TempDir(), "missing.log"), 5)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestTailLines_SpansMultipleChunkReads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.log")
	// enough lines that the tail must cross more than one tailChunkSize read
	lineCount := (tailChunkSize / 8) * 3
	writeLines(t, path, lineCount)

	got, err := TailLines(path, 10000)
	require.NoError(t, err)
	require.Len(t, got, 10000)
	require.Equal(t, "line "+strconv.Itoa(lineCount), got[len(got)-1])
}

func TestTailLines_ZeroOrNegativeReturnsNil(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	writeLines(t, path, 5)

	got, err := TailLines(path, 0)
	require.NoError(t, err)
	require.Nil(t, got)

	got, err = TailLines(path, -1)
	require.NoError(t, err)
	require.Nil(t, got)
}
