package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bunctl/bunctl/internal/registry"
)

type fakeDispatcher struct {
	bus *registry.EventBus
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, cmd Command) (any, error) {
	switch cmd.Type {
	case CmdStatus:
		if cmd.Name == "missing" {
			return nil, errors.New("not found")
		}
		return StatusPayload{Name: cmd.Name, State: "running"}, nil
	case CmdStop:
		return nil, nil
	default:
		return nil, errors.New("unsupported")
	}
}

func (f *fakeDispatcher) Subscribe(filter registry.Filter) *registry.Subscription {
	return f.bus.Subscribe(filter)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestServeConn_StatusRoundTrips(t *testing.T) {
	d := &fakeDispatcher{bus: registry.NewEventBus()}
	s := NewServer("test", d, discardLogger())

	client, server := net.Pipe()
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.serveConn(ctx, server)

	require.NoError(t, WriteJSON(client, Command{Type: CmdStatus, Name: "web"}))
	var resp Response
	require.NoError(t, ReadJSON(client, &resp))
	require.Equal(t, RespData, resp.Type)

	var payload StatusPayload
	require.NoError(t, json.Unmarshal(resp.Data, &payload))
	require.Equal(t, "web", payload.Name)
}

func TestServeConn_ErrorBecomesRespError(t *testing.T) {
	d := &fakeDispatcher{bus: registry.NewEventBus()}
	s := NewServer("test", d, discardLogger())

	client, server := net.Pipe()
	defer client.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.serveConn(ctx, server)

	require.NoError(t, WriteJSON(client, Command{Type: CmdStatus, Name: "missing"}))
	var resp Response
	require.NoError(t, ReadJSON(client, &resp))
	require.Equal(t, RespError, resp.Type)
	require.NotEmpty(t, resp.Error)
}

func TestServeConn_NilDataBecomesBareSuccess(t *testing.T) {
	d := &fakeDispatcher{bus: registry.NewEventBus()}
	s := NewServer("test", d, discardLogger())

	client, server := net.Pipe()
	defer client.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.serveConn(ctx, server)

	require.NoError(t, WriteJSON(client, Command{Type: CmdStop, Name: "web"}))
	var resp Response
	require.NoError(t, ReadJSON(client, &resp))
	require.Equal(t, RespSuccess, resp.Type)
	require.Nil(t, resp.Data)
}

func TestStreamSubscription_DeliversMatchingEvents(t *testing.T) {
	bus := registry.NewEventBus()
	d := &fakeDispatcher{bus: bus}
	s := NewServer("test", d, discardLogger())

	client, server := net.Pipe()
	defer client.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.serveConn(ctx, server)

	require.NoError(t, WriteJSON(client, Command{Type: CmdSubscribe}))
	var ack Response
	require.NoError(t, ReadJSON(client, &ack))
	require.Equal(t, RespSuccess, ack.Type)

	bus.Publish(registry.Event{Kind: registry.EventProcessStarted, App: "web", At: time.Now()})

	var evResp Response
	require.NoError(t, ReadJSON(client, &evResp))
	require.Equal(t, RespEvent, evResp.Type)
	require.Equal(t, "web", evResp.Event.App)
}
