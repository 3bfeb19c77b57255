// Package history fans registry.Event out to durable/analytics sinks —
// ClickHouse, OpenSearch, Postgres, SQLite — adapted from the teacher's
// internal/history. provisr's manager called a Sink directly from the same
// goroutine that updated ManagedProcess state; bunctl instead has a single
// Recorder subscribe to the registry's event bus exactly the way
// internal/daemon.Daemon.Run's metrics-forwarding goroutine does, so a slow
// or unreachable sink can never stall a controller.
package history

import (
	"context"
	"log/slog"
	"time"

	"github.com/bunctl/bunctl/internal/app"
	"github.com/bunctl/bunctl/internal/registry"
)

// Event is the durable record of one registry.Event, flattened to the
// primitive fields a sink persists or indexes. Unlike the teacher's Event
// (which wrapped a store.Record keyed by pid+start-time), this wraps the
// richer app/registry vocabulary the hard core already produces, so a
// Recorder needs no second lookup to describe what happened.
type Event struct {
	Kind       registry.EventKind `json:"kind"`
	App        string             `json:"app"`
	PID        int                `json:"pid,omitempty"`
	ExitKind   app.ExitKind       `json:"exit_kind,omitempty"`
	ExitCode   int                `json:"exit_code,omitempty"`
	ExitSignal int                `json:"exit_signal,omitempty"`
	State      app.State          `json:"state,omitempty"`
	Reason     string             `json:"reason,omitempty"`
	OccurredAt time.Time          `json:"occurred_at"`
}

func fromRegistryEvent(e registry.Event) Event {
	out := Event{
		Kind:       e.Kind,
		App:        string(e.App),
		PID:        e.PID,
		State:      e.State,
		Reason:     e.Reason,
		OccurredAt: e.At,
	}
	if e.Exit != nil {
		out.ExitKind = e.Exit.Kind
		out.ExitCode = e.Exit.Code
		out.ExitSignal = e.Exit.Signal
	}
	return out
}

// Sink is a destination for history events (analytics/audit systems).
// Send is called from the Recorder's single drain goroutine, one sink after
// another, so a Recorder never issues concurrent Send calls.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Closer is implemented by sinks holding a connection or file handle.
type Closer interface {
	Close() error
}

// Recorder subscribes to a registry.EventBus and fans every event out to a
// fixed set of Sinks, matching internal/daemon.Daemon.Run's own
// bus-forwarding-goroutine shape (one Subscribe, one drain loop) rather
// than the teacher's direct call-from-manager.
type Recorder struct {
	sinks []Sink
	log   *slog.Logger
}

// NewRecorder builds a Recorder over sinks. A nil logger is replaced by
// slog.Default(), so send failures are still logged.
func NewRecorder(log *slog.Logger, sinks ...Sink) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{sinks: sinks, log: log}
}

// Run drains sub until ctx is done or the subscription closes, sending a
// converted Event to every sink. Intended to be run in its own goroutine,
// the same way Daemon.Run launches its metrics-observer goroutine.
func (r *Recorder) Run(ctx context.Context, sub *registry.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			r.dispatch(ctx, fromRegistryEvent(ev))
		}
	}
}

func (r *Recorder) dispatch(ctx context.Context, e Event) {
	for _, sink := range r.sinks {
		if err := sink.Send(ctx, e); err != nil {
			r.log.Warn("history: sink send failed", "app", e.App, "kind", e.Kind, "error", err)
		}
	}
}

// Close closes every sink that implements Closer, collecting the first
// error encountered but still attempting the rest.
func (r *Recorder) Close() error {
	var first error
	for _, sink := range r.sinks {
		if c, ok := sink.(Closer); ok {
			if err := c.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}
