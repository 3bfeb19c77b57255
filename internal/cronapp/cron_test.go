package cronapp

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bunctl/bunctl/internal/app"
	"github.com/bunctl/bunctl/internal/ipc"
)

type fakeRegistrar struct {
	mu     sync.Mutex
	starts int
}

func (f *fakeRegistrar) Register(app.Config) error { return nil }

func (f *fakeRegistrar) Dispatch(_ context.Context, cmd ipc.Command) (any, error) {
	if cmd.Type == ipc.CmdStart {
		f.mu.Lock()
		f.starts++
		f.mu.Unlock()
	}
	return nil, nil
}

func (f *fakeRegistrar) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

func TestParseEvery_AcceptsAtEveryRejectsOther(t *testing.T) {
	_, err := parseEvery("@every 100ms")
	require.NoError(t, err)

	_, err = parseEvery("* * * * *")
	require.Error(t, err)
}

func TestSchedulerRunsJobOnTick(t *testing.T) {
	reg := &fakeRegistrar{}
	sch := NewScheduler(reg)
	job := &Job{
		Name:     "j1",
		Config:   app.Config{Name: "cron-1", Command: "/bin/true"},
		Schedule: "@every 20ms",
	}
	require.NoError(t, sch.Add(job))
	require.NoError(t, sch.Start())
	defer sch.Stop()

	require.Eventually(t, func() bool { return reg.count() > 0 }, time.Second, 5*time.Millisecond)
}

func TestSchedulerRejectsAlwaysRestartPolicy(t *testing.T) {
	reg := &fakeRegistrar{}
	sch := NewScheduler(reg)
	job := &Job{
		Name:     "bad",
		Config:   app.Config{Name: "x", Command: "/bin/true", RestartPolicy: app.RestartAlways},
		Schedule: "@every 1s",
	}
	err := sch.Add(job)
	require.Error(t, err)
}

func TestSchedulerRejectsMissingSchedule(t *testing.T) {
	reg := &fakeRegistrar{}
	sch := NewScheduler(reg)
	job := &Job{Name: "bad", Config: app.Config{Name: "y", Command: "/bin/true"}}
	require.Error(t, sch.Add(job))
}

func TestSchedulerStop_IsIdempotent(t *testing.T) {
	reg := &fakeRegistrar{}
	sch := NewScheduler(reg)
	require.NoError(t, sch.Start())
	sch.Stop()
	require.NotPanics(t, func() { sch.Stop() })
}
