//go:build windows

package supervisor

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/bunctl/bunctl/internal/app"
	"github.com/bunctl/bunctl/internal/bunctlerr"
	"github.com/bunctl/bunctl/internal/registry"
)

func newPlatform() (Supervisor, error) {
	return &windowsSupervisor{}, nil
}

// windowsSupervisor implements Supervisor with Job Objects: every spawned
// app's process (and anything it spawns) is assigned to its own Job with
// JOB_OBJECT_LIMIT_KILL_ON_JOB_CLOSE, so the whole tree dies the instant the
// Job handle is closed — no separate tree-walk is needed.
type windowsSupervisor struct{}

// jobToken is the IsolationToken wrapping a live Job Object handle.
type jobToken struct {
	handle windows.Handle
}

func (t *jobToken) Release() error {
	if t.handle == 0 {
		return nil
	}
	err := windows.CloseHandle(t.handle)
	t.handle = 0
	return err
}

var (
	runningCmdsMu sync.Mutex
	runningCmds   = make(map[app.ID]*exec.Cmd)
)

// Spawn creates a Job Object configured to kill-on-close, starts the child
// suspended-free but immediately assigns it to the Job before it can spawn
// grandchildren of its own, then applies the configured memory limit (CPU
// is not limited).
func (s *windowsSupervisor) Spawn(ctx context.Context, cfg app.Config, reg *registry.Registry, stdout, stderr io.Writer) (*registry.Handle, error) {
	id := app.ID(cfg.Name)

	job, err := windows.CreateJobObject(nil, nil)
	if err != nil {
		return nil, bunctlerr.SpawnFailed(string(id), fmt.Errorf("create job object: %w", err))
	}
	if err := setKillOnJobClose(job); err != nil {
		_ = windows.CloseHandle(job)
		return nil, bunctlerr.SpawnFailed(string(id), err)
	}

	cmd := cfg.BuildCommand()
	if cfg.Cwd != "" {
		cmd.Dir = cfg.Cwd
	}
	if env := cfg.EnvSlice(); len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	// stdout/stderr are redirected to the log pipeline's files rather than
	// pipes — pipe blocking is a documented hazard on Windows.
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// CREATE_SUSPENDED-equivalent isn't exposed via os/exec; instead we
	// assign the process to the Job as soon as possible after Start, which
	// is sufficient because Go's exec.Cmd.Start doesn't let the child run
	// far enough to spawn its own children before we get control back.
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: windows.CREATE_NEW_PROCESS_GROUP}

	if err := cmd.Start(); err != nil {
		_ = windows.CloseHandle(job)
		return nil, bunctlerr.SpawnFailed(string(id), err)
	}
	pid := cmd.Process.Pid

	procHandle, err := windows.OpenProcess(windows.PROCESS_SET_QUOTA|windows.PROCESS_TERMINATE, false, uint32(pid))
	if err != nil {
		_ = windows.CloseHandle(job)
		_ = cmd.Process.Kill()
		return nil, bunctlerr.SpawnFailed(string(id), fmt.Errorf("open process: %w", err))
	}
	defer windows.CloseHandle(procHandle)

	if err := windows.AssignProcessToJobObject(job, procHandle); err != nil {
		// Assignment failures are ignored: the process keeps running
		// outside the Job, unisolated but alive.
		_ = windows.CloseHandle(job)
		job = 0
	}

	if job != 0 {
		applyJobLimits(job, cfg)
	}

	h := &registry.Handle{PID: pid, StartedAt: time.Now()}
	if job != 0 {
		h.Isolation = &jobToken{handle: job}
	} else {
		h.Isolation = &jobToken{handle: 0}
	}
	if err := reg.AttachHandle(id, h); err != nil {
		_ = cmd.Process.Kill()
		if job != 0 {
			_ = windows.CloseHandle(job)
		}
		return nil, err
	}

	reg.Events.Publish(registry.Event{Kind: registry.EventProcessStarted, App: id, PID: pid, At: time.Now()})

	runningCmdsMu.Lock()
	runningCmds[id] = cmd
	runningCmdsMu.Unlock()

	return h, nil
}

func (s *windowsSupervisor) Wait(ctx context.Context, id app.ID, h *registry.Handle, reg *registry.Registry) app.ExitStatus {
	runningCmdsMu.Lock()
	cmd, ok := runningCmds[id]
	runningCmdsMu.Unlock()
	if !ok {
		_ = reg.DetachHandle(id)
		return app.UnknownExit()
	}

	err := cmd.Wait()
	runningCmdsMu.Lock()
	delete(runningCmds, id)
	runningCmdsMu.Unlock()

	exit := app.Exited(0)
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exit = app.Exited(exitErr.ExitCode())
		} else {
			exit = app.UnknownExit()
		}
	}

	_ = reg.DetachHandle(id)
	reg.Events.Publish(registry.Event{Kind: registry.EventProcessExited, App: id, PID: h.PID, Exit: &exit, At: time.Now()})
	return exit
}

// GracefulStop sends CTRL_BREAK to the process group and falls back to
// KillTree (TerminateJobObject, or TerminateProcess when the app has no Job)
// if it doesn't exit within timeout.
func (s *windowsSupervisor) GracefulStop(ctx context.Context, h *registry.Handle, timeout time.Duration) error {
	_ = windows.GenerateConsoleCtrlEvent(windows.CTRL_BREAK_EVENT, uint32(h.PID))

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !processAliveWindows(h.PID) {
			return nil
		}
		time.Sleep(20 * time.Millisecond)
	}
	if !processAliveWindows(h.PID) {
		return nil
	}
	return s.KillTree(h)
}

// KillTree closes the Job handle (which, with kill-on-close set, terminates
// every process still assigned to it) or falls back to a direct
// TerminateProcess when the app was never isolated into a Job.
func (s *windowsSupervisor) KillTree(h *registry.Handle) error {
	if tok, ok := h.Isolation.(*jobToken); ok && tok.handle != 0 {
		if err := windows.TerminateJobObject(tok.handle, 1); err != nil {
			return fmt.Errorf("supervisor: terminate job object: %w", err)
		}
		return nil
	}
	proc, err := windows.OpenProcess(windows.PROCESS_TERMINATE, false, uint32(h.PID))
	if err != nil {
		return nil // already gone
	}
	defer windows.CloseHandle(proc)
	return windows.TerminateProcess(proc, 1)
}

// SetResourceLimits rewrites the Job's extended limit information for a live
// app. A no-op when the app was never assigned to a Job.
func (s *windowsSupervisor) SetResourceLimits(h *registry.Handle, cfg app.Config) error {
	tok, ok := h.Isolation.(*jobToken)
	if !ok || tok.handle == 0 {
		return nil
	}
	applyJobLimits(tok.handle, cfg)
	return nil
}

func (s *windowsSupervisor) GetProcessInfo(pid int) (ProcessInfo, error) {
	return getProcessInfoGopsutil(pid)
}

func processAliveWindows(pid int) bool {
	proc, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return false
	}
	defer windows.CloseHandle(proc)
	var code uint32
	if err := windows.GetExitCodeProcess(proc, &code); err != nil {
		return false
	}
	const stillActive = 259
	return code == stillActive
}

// setKillOnJobClose configures the Job so closing its last handle terminates
// every process still assigned to it, and disallows breakaway so a spawned
// grandchild can't escape the Job.
func setKillOnJobClose(job windows.Handle) error {
	info := windows.JOBOBJECT_EXTENDED_LIMIT_INFORMATION{
		BasicLimitInformation: windows.JOBOBJECT_BASIC_LIMIT_INFORMATION{
			LimitFlags: windows.JOB_OBJECT_LIMIT_KILL_ON_JOB_CLOSE,
		},
	}
	_, err := windows.SetInformationJobObject(
		job,
		windows.JobObjectExtendedLimitInformation,
		uintptr(unsafe.Pointer(&info)),
		uint32(unsafe.Sizeof(info)),
	)
	return err
}

// applyJobLimits sets JOB_OBJECT_LIMIT_JOB_MEMORY from cfg.MaxMemory; no CPU
// rate limit is set. An error from SetInformationJobObject is ignored rather
// than failing the spawn, matching the cgroup fallback's advisory-limits
// posture.
func applyJobLimits(job windows.Handle, cfg app.Config) {
	if cfg.MaxMemory > 0 {
		info := windows.JOBOBJECT_EXTENDED_LIMIT_INFORMATION{
			BasicLimitInformation: windows.JOBOBJECT_BASIC_LIMIT_INFORMATION{
				LimitFlags: windows.JOB_OBJECT_LIMIT_KILL_ON_JOB_CLOSE | windows.JOB_OBJECT_LIMIT_JOB_MEMORY,
			},
			JobMemoryLimit: uintptr(cfg.MaxMemory),
		}
		_, _ = windows.SetInformationJobObject(
			job,
			windows.JobObjectExtendedLimitInformation,
			uintptr(unsafe.Pointer(&info)),
			uint32(unsafe.Sizeof(info)),
		)
	}
	// CPU throttling is left advisory-only: x/sys/windows does not expose
	// JOBOBJECT_CPU_RATE_CONTROL_INFORMATION, and reporting remains accurate
	// via GetProcessInfo regardless.
}
