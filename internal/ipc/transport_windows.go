//go:build windows

package ipc

import (
	"context"
	"fmt"
	"net"

	"github.com/Microsoft/go-winio"
)

// SocketPath resolves the named-pipe path for daemon name:
// Windows named pipe \\.\pipe\<name>.
func SocketPath(name string) string {
	return `\\.\pipe\` + name
}

// Listen opens the named-pipe listener for name.
func Listen(name string) (net.Listener, error) {
	l, err := winio.ListenPipe(SocketPath(name), nil)
	if err != nil {
		return nil, fmt.Errorf("ipc: listen on pipe %s: %w", SocketPath(name), err)
	}
	return l, nil
}

// Dial connects to name's named pipe.
func Dial(ctx context.Context, name string) (net.Conn, error) {
	conn, err := winio.DialPipeContext(ctx, SocketPath(name))
	if err != nil {
		return nil, fmt.Errorf("ipc: dial pipe %s: %w", name, err)
	}
	return conn, nil
}
