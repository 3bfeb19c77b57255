package appgroup

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bunctl/bunctl/internal/app"
	"github.com/bunctl/bunctl/internal/ipc"
)

type fakeRegistrar struct {
	registered map[string]bool
	running    map[string]bool
	failName   string
}

func newFakeRegistrar() *fakeRegistrar {
	return &fakeRegistrar{registered: map[string]bool{}, running: map[string]bool{}}
}

func (f *fakeRegistrar) Register(cfg app.Config) error {
	if cfg.Name == f.failName {
		return errors.New("register failed")
	}
	f.registered[cfg.Name] = true
	return nil
}

func (f *fakeRegistrar) Dispatch(_ context.Context, cmd ipc.Command) (any, error) {
	switch cmd.Type {
	case ipc.CmdStart:
		f.running[cmd.Name] = true
		return nil, nil
	case ipc.CmdStop:
		f.running[cmd.Name] = false
		return nil, nil
	case ipc.CmdStatus:
		return ipc.StatusPayload{Name: cmd.Name, State: stateOf(f.running[cmd.Name])}, nil
	default:
		return nil, errors.New("unsupported")
	}
}

func stateOf(running bool) string {
	if running {
		return "running"
	}
	return "stopped"
}

func membersSpec(names ...string) Spec {
	members := make([]app.Config, 0, len(names))
	for _, n := range names {
		members = append(members, app.Config{Name: n, Command: "/bin/true"})
	}
	return Spec{Name: "grp", Members: members}
}

func TestGroupStart_RegistersAndStartsAllMembers(t *testing.T) {
	reg := newFakeRegistrar()
	g := New(reg)
	gs := membersSpec("a", "b")

	require.NoError(t, g.Start(context.Background(), gs))
	require.True(t, reg.running["a"])
	require.True(t, reg.running["b"])
}

func TestGroupStart_RollsBackStartedMembersOnFailure(t *testing.T) {
	reg := newFakeRegistrar()
	reg.failName = "bad"
	g := New(reg)
	gs := membersSpec("ok", "bad")

	err := g.Start(context.Background(), gs)
	require.Error(t, err)
	require.False(t, reg.running["ok"], "previously started member must be rolled back")
}

func TestGroupStartRegistered_DoesNotRegisterMembers(t *testing.T) {
	reg := newFakeRegistrar()
	g := New(reg)
	gs := membersSpec("a", "b")

	require.NoError(t, g.StartRegistered(context.Background(), gs))
	require.True(t, reg.running["a"])
	require.True(t, reg.running["b"])
	require.False(t, reg.registered["a"], "StartRegistered must not call Register")
}

func TestGroupStop_StopsEveryMemberBestEffort(t *testing.T) {
	reg := newFakeRegistrar()
	g := New(reg)
	gs := membersSpec("a", "b")
	require.NoError(t, g.Start(context.Background(), gs))

	require.NoError(t, g.Stop(context.Background(), gs))
	require.False(t, reg.running["a"])
	require.False(t, reg.running["b"])
}

func TestGroupStatus_ReturnsEveryMember(t *testing.T) {
	reg := newFakeRegistrar()
	g := New(reg)
	gs := membersSpec("a", "b")
	require.NoError(t, g.Start(context.Background(), gs))

	st, err := g.Status(context.Background(), gs)
	require.NoError(t, err)
	require.Equal(t, "running", st["a"].State)
	require.Equal(t, "running", st["b"].State)
}
