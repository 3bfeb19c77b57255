package ipc

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteReadFrame_RoundTrips(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte(`{"hello":"world"}`)
	require.NoError(t, WriteFrame(&buf, payload))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestWriteFrame_RejectsOversizedPayload(t *testing.T) {
	var buf bytes.Buffer
	oversized := make([]byte, MaxFrameSize+1)
	require.Error(t, WriteFrame(&buf, oversized))
}

func TestReadFrame_RejectsOversizedLengthBeforeAllocating(t *testing.T) {
	var buf bytes.Buffer
	// Hand-craft a length prefix bigger than MaxFrameSize with no payload
	// behind it; ReadFrame must reject based on the length alone.
	require.NoError(t, WriteFrame(&bytes.Buffer{}, nil)) // sanity: zero-length frame is legal
	buf.Write([]byte{0xff, 0xff, 0xff, 0x7f})
	_, err := ReadFrame(&buf)
	require.Error(t, err)
	require.Contains(t, err.Error(), "exceeds max")
}

func TestWriteReadJSON_RoundTrips(t *testing.T) {
	var buf bytes.Buffer
	cmd := Command{Type: CmdStart, Name: "web"}
	require.NoError(t, WriteJSON(&buf, cmd))

	var got Command
	require.NoError(t, ReadJSON(&buf, &got))
	require.Equal(t, cmd, got)
}

func TestReadFrame_TruncatedStreamIsAnError(t *testing.T) {
	r := strings.NewReader("\x05\x00\x00\x00ab")
	_, err := ReadFrame(r)
	require.Error(t, err)
}
