package logpipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLineBuffer_EmitsCompleteLinesOnly(t *testing.T) {
	lb := NewLineBuffer(0, 0)

	lines := lb.Feed([]byte("hello wor"))
	require.Empty(t, lines, "no newline yet, nothing should be emitted")

	lines = lb.Feed([]byte("ld\nsecond line\nthird-partial"))
	require.Equal(t, [][]byte{[]byte("hello world\n"), []byte("second line\n")}, lines)

	tail := lb.Flush(false)
	require.Equal(t, []byte("third-partial"), tail)
}

func TestLineBuffer_FlushSynthesizesNewline(t *testing.T) {
	lb := NewLineBuffer(0, 0)
	lb.Feed([]byte("no trailing newline"))
	tail := lb.Flush(true)
	require.True(t, strings.HasSuffix(string(tail), "\n"))
}

func TestLineBuffer_OverflowForceFlushes(t *testing.T) {
	lb := NewLineBuffer(16, 0)
	lines := lb.Feed([]byte("this line has no newline and exceeds sixteen bytes"))
	require.NotEmpty(t, lines, "overflow must force a flush even without a newline")
	require.Equal(t, uint64(1), lb.Overflows())
}

func TestLineBuffer_MaxLinesCapsPerFeed(t *testing.T) {
	lb := NewLineBuffer(0, 2)
	lines := lb.Feed([]byte("a\nb\nc\nd\n"))
	require.Len(t, lines, 2)
}
