package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bunctl/bunctl/internal/app"
)

func cfg(name string) app.Config {
	return app.Config{Name: name, Command: "/bin/true", RestartPolicy: app.RestartNo}.WithDefaults()
}

func TestRegister_ThenSnapshotReflectsConfig(t *testing.T) {
	r := New()
	r.Register(cfg("web"))

	snap, err := r.Snapshot(app.ID("web"))
	require.NoError(t, err)
	require.Equal(t, app.StateStopped, snap.State)
	require.Equal(t, "/bin/true", snap.Config.Command)
}

func TestConfig_ReturnsIndependentCopy(t *testing.T) {
	r := New()
	r.Register(cfg("web"))

	got, ok := r.Config(app.ID("web"))
	require.True(t, ok)
	got.Command = "/bin/false"

	snap, err := r.Snapshot(app.ID("web"))
	require.NoError(t, err)
	require.Equal(t, "/bin/true", snap.Config.Command, "mutating a returned Config must not affect the stored one")
}

func TestConfig_UnknownAppReturnsFalse(t *testing.T) {
	r := New()
	_, ok := r.Config(app.ID("missing"))
	require.False(t, ok)
}

func TestAttachHandle_IndexesByPID(t *testing.T) {
	r := New()
	r.Register(cfg("web"))

	require.NoError(t, r.AttachHandle(app.ID("web"), &Handle{PID: 4242, StartedAt: time.Now()}))

	id, ok := r.ByPID(4242)
	require.True(t, ok)
	require.Equal(t, app.ID("web"), id)

	_, err := r.Snapshot("web")
	require.NoError(t, err)
}

func TestAttachHandle_RejectsDoubleAttach(t *testing.T) {
	r := New()
	r.Register(cfg("web"))
	require.NoError(t, r.AttachHandle(app.ID("web"), &Handle{PID: 1}))
	require.Error(t, r.AttachHandle(app.ID("web"), &Handle{PID: 2}))
}

type fakeToken struct{ released bool }

func (f *fakeToken) Release() error {
	f.released = true
	return nil
}

func TestDetachHandle_ClearsPIDIndexAndReleasesToken(t *testing.T) {
	r := New()
	r.Register(cfg("web"))
	tok := &fakeToken{}
	require.NoError(t, r.AttachHandle(app.ID("web"), &Handle{PID: 99, Isolation: tok}))

	require.NoError(t, r.DetachHandle(app.ID("web")))
	require.True(t, tok.released)

	_, ok := r.ByPID(99)
	require.False(t, ok, "pid index must be cleared so a reused pid cannot alias the old app")
}

func TestUnregister_FailsWhileHandleLive(t *testing.T) {
	r := New()
	r.Register(cfg("web"))
	require.NoError(t, r.AttachHandle(app.ID("web"), &Handle{PID: 1}))

	require.Error(t, r.Unregister(app.ID("web")))

	require.NoError(t, r.DetachHandle(app.ID("web")))
	require.NoError(t, r.Unregister(app.ID("web")))
}

func TestEventBus_DeliversToMatchingSubscriberOnly(t *testing.T) {
	r := New()
	sub := r.Events.Subscribe(Filter{AppID: app.ID("web")})
	defer sub.Unsubscribe()

	otherSub := r.Events.Subscribe(Filter{AppID: app.ID("other")})
	defer otherSub.Unsubscribe()

	r.Register(cfg("web"))
	r.SetState(app.ID("web"), app.StateRunning, app.BackoffInfo{})

	select {
	case e := <-sub.Events():
		require.Equal(t, EventStateChanged, e.Kind)
		require.Equal(t, app.StateRunning, e.State)
	case <-time.After(time.Second):
		t.Fatal("expected a state-changed event")
	}

	select {
	case <-otherSub.Events():
		t.Fatal("filtered subscriber should not have received an event for a different app")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEventBus_DropsSlowSubscriber(t *testing.T) {
	r := New()
	sub := r.Events.Subscribe(Filter{})

	r.Register(cfg("web"))
	for i := 0; i < subscriberQueueDepth+10; i++ {
		r.SetState(app.ID("web"), app.StateRunning, app.BackoffInfo{})
	}

	require.Eventually(t, func() bool { return sub.Dropped() }, time.Second, 10*time.Millisecond)

	_, ok := <-sub.Events()
	require.False(t, ok, "dropped subscriber's channel must be closed")
}
