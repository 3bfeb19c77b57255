package history

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bunctl/bunctl/internal/app"
	"github.com/bunctl/bunctl/internal/registry"
)

type fakeSink struct {
	mu     sync.Mutex
	events []Event
	closed bool
}

func (f *fakeSink) Send(_ context.Context, e Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return nil
}

func (f *fakeSink) Close() error {
	f.closed = true
	return nil
}

func (f *fakeSink) snapshot() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Event, len(f.events))
	copy(out, f.events)
	return out
}

func TestRecorderForwardsBusEventsToEverySink(t *testing.T) {
	bus := registry.NewEventBus()
	sub := bus.Subscribe(registry.Filter{})
	s1, s2 := &fakeSink{}, &fakeSink{}
	rec := NewRecorder(nil, s1, s2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rec.Run(ctx, sub)
		close(done)
	}()

	exit := app.Exited(1)
	bus.Publish(registry.Event{Kind: registry.EventProcessExited, App: "demo", PID: 42, Exit: &exit, At: time.Now()})

	require.Eventually(t, func() bool {
		return len(s1.snapshot()) == 1 && len(s2.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)

	got := s1.snapshot()[0]
	require.Equal(t, registry.EventProcessExited, got.Kind)
	require.Equal(t, "demo", got.App)
	require.Equal(t, 42, got.PID)
	require.Equal(t, app.ExitKindExited, got.ExitKind)
	require.Equal(t, 1, got.ExitCode)

	cancel()
	<-done

	require.NoError(t, rec.Close())
	require.True(t, s1.closed)
	require.True(t, s2.closed)
}

func TestRecorderStopsOnSubscriptionClose(t *testing.T) {
	bus := registry.NewEventBus()
	sub := bus.Subscribe(registry.Filter{})
	rec := NewRecorder(nil)

	done := make(chan struct{})
	go func() {
		rec.Run(context.Background(), sub)
		close(done)
	}()

	sub.Unsubscribe()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after subscription closed")
	}
}
