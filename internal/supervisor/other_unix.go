//go:build !linux && !windows

package supervisor

import (
	"context"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/bunctl/bunctl/internal/app"
	"github.com/bunctl/bunctl/internal/bunctlerr"
	"github.com/bunctl/bunctl/internal/registry"
)

// newPlatform backs developer builds on darwin/bsd, where neither cgroup v2
// nor Job Objects exist. It reuses the same POSIX process-group isolation
// Linux falls back to when cgroups are unavailable, so a contributor on a
// Mac still gets a working supervisor instead of an unbuildable module.
func newPlatform() (Supervisor, error) {
	return &posixSupervisor{}, nil
}

type posixSupervisor struct{}

type posixToken struct{}

func (posixToken) Release() error { return nil }

var (
	otherRunningCmdsMu sync.Mutex
	otherRunningCmds   = make(map[app.ID]*exec.Cmd)
)

func (s *posixSupervisor) Spawn(ctx context.Context, cfg app.Config, reg *registry.Registry, stdout, stderr io.Writer) (*registry.Handle, error) {
	id := app.ID(cfg.Name)

	cmd := cfg.BuildCommand()
	if cfg.Cwd != "" {
		cmd.Dir = cfg.Cwd
	}
	if env := cfg.EnvSlice(); len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, bunctlerr.SpawnFailed(string(id), err)
	}
	pid := cmd.Process.Pid

	h := &registry.Handle{PID: pid, StartedAt: time.Now(), Isolation: posixToken{}}
	if err := reg.AttachHandle(id, h); err != nil {
		_ = syscall.Kill(-pid, syscall.SIGKILL)
		return nil, err
	}

	reg.Events.Publish(registry.Event{Kind: registry.EventProcessStarted, App: id, PID: pid, At: time.Now()})

	otherRunningCmdsMu.Lock()
	otherRunningCmds[id] = cmd
	otherRunningCmdsMu.Unlock()

	return h, nil
}

func (s *posixSupervisor) Wait(ctx context.Context, id app.ID, h *registry.Handle, reg *registry.Registry) app.ExitStatus {
	otherRunningCmdsMu.Lock()
	cmd, ok := otherRunningCmds[id]
	otherRunningCmdsMu.Unlock()
	if !ok {
		_ = reg.DetachHandle(id)
		return app.UnknownExit()
	}

	err := cmd.Wait()
	otherRunningCmdsMu.Lock()
	delete(otherRunningCmds, id)
	otherRunningCmdsMu.Unlock()

	exit := app.Exited(0)
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
				exit = app.Signaled(int(ws.Signal()))
			} else {
				exit = app.Exited(exitErr.ExitCode())
			}
		} else {
			exit = app.UnknownExit()
		}
	}

	_ = reg.DetachHandle(id)
	reg.Events.Publish(registry.Event{Kind: registry.EventProcessExited, App: id, PID: h.PID, Exit: &exit, At: time.Now()})
	return exit
}

func (s *posixSupervisor) GracefulStop(ctx context.Context, h *registry.Handle, timeout time.Duration) error {
	if err := syscall.Kill(-h.PID, syscall.SIGTERM); err != nil && err != syscall.ESRCH {
		return err
	}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if syscall.Kill(h.PID, 0) != nil {
			return nil
		}
		time.Sleep(20 * time.Millisecond)
	}
	if syscall.Kill(h.PID, 0) != nil {
		return nil
	}
	return s.KillTree(h)
}

func (s *posixSupervisor) KillTree(h *registry.Handle) error {
	if err := syscall.Kill(-h.PID, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
		return err
	}
	return nil
}

func (s *posixSupervisor) SetResourceLimits(h *registry.Handle, cfg app.Config) error {
	// No OS-native isolation container on this platform — limits stay
	// advisory, consistent with the cgroup-unavailable fallback on Linux.
	return nil
}

func (s *posixSupervisor) GetProcessInfo(pid int) (ProcessInfo, error) {
	return getProcessInfoGopsutil(pid)
}
