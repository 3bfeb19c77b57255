// Package ipc implements bunctl's control channel: a
// length-prefixed JSON frame protocol carried over a Unix domain socket on
// Linux/macOS and a Windows named pipe, with typed Command/Response
// envelopes. Framing and transport live here; command dispatch is the
// daemon's job (internal/daemon), reached through the Dispatcher interface.
package ipc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single frame's JSON payload.
const MaxFrameSize = 10 * 1024 * 1024

// WriteFrame writes a 4-byte little-endian length prefix followed by
// payload.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("ipc: frame payload %d bytes exceeds max %d", len(payload), MaxFrameSize)
	}
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("ipc: write frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("ipc: write frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame from r. The length is validated
// against MaxFrameSize *before* the payload buffer is allocated, so a
// corrupt or hostile peer can never force an oversized allocation.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(hdr[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("ipc: frame length %d exceeds max %d", n, MaxFrameSize)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("ipc: read frame payload: %w", err)
	}
	return buf, nil
}

// WriteJSON marshals v and writes it as one frame.
func WriteJSON(w io.Writer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("ipc: marshal frame: %w", err)
	}
	return WriteFrame(w, b)
}

// ReadJSON reads one frame from r and unmarshals it into v.
func ReadJSON(r io.Reader, v any) error {
	b, err := ReadFrame(r)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}
