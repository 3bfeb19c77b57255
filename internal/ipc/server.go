package ipc

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/bunctl/bunctl/internal/registry"
)

// Dispatcher executes one Command and, for Subscribe, streams matching
// registry.Events back over the connection. Implemented by internal/daemon
// so this package stays free of controller/registry wiring policy — it only
// knows framing and transport.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd Command) (data any, err error)
	Subscribe(filter registry.Filter) *registry.Subscription
}

// Server accepts control-channel connections and serves them against a
// Dispatcher, one goroutine per connection.
type Server struct {
	name       string
	dispatcher Dispatcher
	log        *slog.Logger

	mu       sync.Mutex
	listener net.Listener
}

// NewServer builds a Server for daemon name, not yet listening.
func NewServer(name string, dispatcher Dispatcher, log *slog.Logger) *Server {
	return &Server{name: name, dispatcher: dispatcher, log: log}
}

// Serve opens the transport listener and accepts connections until ctx is
// canceled or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	l, err := Listen(s.name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			if isClosedErr(err) {
				return nil
			}
			s.log.Warn("ipc accept failed", "error", err)
			continue
		}
		go s.serveConn(ctx, conn)
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer func() { _ = conn.Close() }()
	for {
		var cmd Command
		if err := ReadJSON(conn, &cmd); err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Debug("ipc read failed", "error", err)
			}
			return
		}

		if cmd.Type == CmdSubscribe {
			s.streamSubscription(ctx, conn, cmd)
			return
		}

		data, err := s.dispatcher.Dispatch(ctx, cmd)
		resp := toResponse(data, err)
		if writeErr := WriteJSON(conn, resp); writeErr != nil {
			s.log.Debug("ipc write failed", "error", writeErr)
			return
		}
	}
}

func (s *Server) streamSubscription(ctx context.Context, conn net.Conn, cmd Command) {
	filter := registry.Filter{}
	if cmd.Filter != nil {
		if cmd.Filter.AppName != "" {
			filter.AppID = appIDOf(cmd.Filter.AppName)
		}
		for _, k := range cmd.Filter.Kinds {
			filter.Kinds = append(filter.Kinds, registry.EventKind(k))
		}
	}
	sub := s.dispatcher.Subscribe(filter)
	defer sub.Unsubscribe()

	if err := WriteJSON(conn, Response{Type: RespSuccess}); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := WriteJSON(conn, Response{Type: RespEvent, Event: toEventPayload(ev)}); err != nil {
				return
			}
		}
	}
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
