// Package client is the daemon's control-channel client library: it dials
// the Unix socket / named pipe transport and speaks the length-prefixed
// JSON Command/Response protocol (internal/ipc), giving cmd/bunctl and any
// other integrator a typed Go API instead of hand-rolled framing over a
// thin transport wrapper.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/bunctl/bunctl/internal/app"
	"github.com/bunctl/bunctl/internal/ipc"
)

// Client talks to one daemon instance; each call dials its own
// control-channel connection.
type Client struct {
	daemonName string
	dialer     func(context.Context, string) (net.Conn, error)
}

// Config configures a Client. DaemonName selects the socket/pipe name
//; it defaults to "bunctl".
type Config struct {
	DaemonName string
}

// New builds a Client. It does not connect until a call is made.
func New(cfg Config) *Client {
	if cfg.DaemonName == "" {
		cfg.DaemonName = "bunctl"
	}
	return &Client{daemonName: cfg.DaemonName, dialer: ipc.Dial}
}

func (c *Client) call(ctx context.Context, cmd ipc.Command) (*ipc.Response, error) {
	conn, err := c.dialer(ctx, c.daemonName)
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Close() }()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if err := ipc.WriteJSON(conn, cmd); err != nil {
		return nil, err
	}
	var resp ipc.Response
	if err := ipc.ReadJSON(conn, &resp); err != nil {
		return nil, fmt.Errorf("client: read response: %w", err)
	}
	if resp.Type == ipc.RespError {
		return nil, fmt.Errorf("bunctld: %s", resp.Error)
	}
	return &resp, nil
}

// IsReachable reports whether the daemon is listening and responsive.
func (c *Client) IsReachable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err := c.call(ctx, ipc.Command{Type: ipc.CmdList})
	return err == nil
}

// Start sends Start{name, config?}. A nil cfg starts an already-registered
// app as-is; a non-nil cfg registers/updates it first.
func (c *Client) Start(ctx context.Context, name string, cfg *app.Config) error {
	_, err := c.call(ctx, ipc.Command{Type: ipc.CmdStart, Name: name, Config: cfg})
	return err
}

// Stop sends Stop{name}.
func (c *Client) Stop(ctx context.Context, name string) error {
	_, err := c.call(ctx, ipc.Command{Type: ipc.CmdStop, Name: name})
	return err
}

// Restart sends Restart{name}.
func (c *Client) Restart(ctx context.Context, name string) error {
	_, err := c.call(ctx, ipc.Command{Type: ipc.CmdRestart, Name: name})
	return err
}

// Delete sends Delete{name}: stops the app (if running) and removes it.
func (c *Client) Delete(ctx context.Context, name string) error {
	_, err := c.call(ctx, ipc.Command{Type: ipc.CmdDelete, Name: name})
	return err
}

// Status sends Status{name} and decodes the single resulting StatusPayload.
func (c *Client) Status(ctx context.Context, name string) (ipc.StatusPayload, error) {
	resp, err := c.call(ctx, ipc.Command{Type: ipc.CmdStatus, Name: name})
	if err != nil {
		return ipc.StatusPayload{}, err
	}
	var p ipc.StatusPayload
	if err := unmarshalData(resp, &p); err != nil {
		return ipc.StatusPayload{}, err
	}
	return p, nil
}

// List sends List and decodes every registered app's StatusPayload.
func (c *Client) List(ctx context.Context) ([]ipc.StatusPayload, error) {
	resp, err := c.call(ctx, ipc.Command{Type: ipc.CmdList})
	if err != nil {
		return nil, err
	}
	var ps []ipc.StatusPayload
	if err := unmarshalData(resp, &ps); err != nil {
		return nil, err
	}
	return ps, nil
}

// Logs sends Logs{name, lines} and decodes the resulting LogsPayload.
func (c *Client) Logs(ctx context.Context, name string, lines int) (ipc.LogsPayload, error) {
	resp, err := c.call(ctx, ipc.Command{Type: ipc.CmdLogs, Name: name, Lines: lines})
	if err != nil {
		return ipc.LogsPayload{}, err
	}
	var p ipc.LogsPayload
	if err := unmarshalData(resp, &p); err != nil {
		return ipc.LogsPayload{}, err
	}
	return p, nil
}

// Subscribe opens a dedicated long-lived connection and streams matching
// events until ctx is canceled, at which point the returned channel is
// closed. The caller owns draining the channel; a slow reader here only
// lags this one connection, not the daemon's event bus (the daemon-side
// registry.Subscription still applies its own drop-on-full policy).
func (c *Client) Subscribe(ctx context.Context, filter ipc.EventFilter) (<-chan ipc.EventPayload, error) {
	conn, err := c.dialer(ctx, c.daemonName)
	if err != nil {
		return nil, err
	}
	if err := ipc.WriteJSON(conn, ipc.Command{Type: ipc.CmdSubscribe, Filter: &filter}); err != nil {
		_ = conn.Close()
		return nil, err
	}
	var ack ipc.Response
	if err := ipc.ReadJSON(conn, &ack); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("client: subscribe ack: %w", err)
	}
	if ack.Type == ipc.RespError {
		_ = conn.Close()
		return nil, fmt.Errorf("bunctld: %s", ack.Error)
	}

	out := make(chan ipc.EventPayload, 64)
	go func() {
		defer close(out)
		defer func() { _ = conn.Close() }()
		go func() {
			<-ctx.Done()
			_ = conn.Close()
		}()
		for {
			var resp ipc.Response
			if err := ipc.ReadJSON(conn, &resp); err != nil {
				return
			}
			if resp.Type != ipc.RespEvent || resp.Event == nil {
				continue
			}
			select {
			case out <- *resp.Event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func unmarshalData(resp *ipc.Response, v any) error {
	if resp.Data == nil {
		return fmt.Errorf("client: empty data payload")
	}
	return json.Unmarshal(resp.Data, v)
}
