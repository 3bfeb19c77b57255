//go:build linux

package supervisor

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/bunctl/bunctl/internal/app"
	"github.com/bunctl/bunctl/internal/bunctlerr"
	"github.com/bunctl/bunctl/internal/registry"
)

const (
	cgroupRoot   = "/sys/fs/cgroup"
	cgroupSlice  = "bunctl.slice"
	cgroupPeriod = 100000 // microseconds
)

func newPlatform() (Supervisor, error) {
	s := &linuxSupervisor{cgroupAvailable: detectCgroupV2()}
	return s, nil
}

// detectCgroupV2 reports whether the host has a cgroup v2 hierarchy mounted:
// cgroup.controllers under /sys/fs/cgroup exists and opens for reading.
// Writability is not checked here; when creating an app's cgroup fails,
// Spawn falls back silently to a POSIX process group for that app.
func detectCgroupV2() bool {
	path := filepath.Join(cgroupRoot, "cgroup.controllers")
	if _, err := os.Stat(path); err != nil {
		return false
	}
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return false
	}
	_ = f.Close()
	return true
}

// linuxSupervisor implements Supervisor using cgroup v2 for isolation, with
// a silent fallback to bare POSIX process groups when cgroups are
// unavailable.
type linuxSupervisor struct {
	cgroupAvailable bool
}

// cgroupToken is the IsolationToken released when a cgroup'd app exits. It
// removes the now-empty cgroup directory.
type cgroupToken struct {
	path string
}

func (t *cgroupToken) Release() error {
	if t.path == "" {
		return nil
	}
	if err := os.Remove(t.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("supervisor: remove cgroup %s: %w", t.path, err)
	}
	return nil
}

// pgidToken is the IsolationToken used when running without cgroups: there
// is nothing to release beyond the process group itself disappearing with
// its last member.
type pgidToken struct{}

func (pgidToken) Release() error { return nil }

func cgroupPathFor(id app.ID) string {
	return filepath.Join(cgroupRoot, cgroupSlice, string(id))
}

// Spawn creates the cgroup (when available), applies resource limits, and
// starts the child already inside it via clone3(CLONE_INTO_CGROUP) —
// SysProcAttr.UseCgroupFD/CgroupFD place the child in the cgroup as part of
// the same clone that creates it, so there is no window between fork and
// attach in which the first scheduling quantum runs unaccounted.
func (s *linuxSupervisor) Spawn(ctx context.Context, cfg app.Config, reg *registry.Registry, stdout, stderr io.Writer) (*registry.Handle, error) {
	id := app.ID(cfg.Name)

	var cgPath string
	var cgDir *os.File
	if s.cgroupAvailable {
		var err error
		cgPath, err = createCgroup(id, cfg)
		if err == nil {
			cgDir, err = os.Open(cgPath)
			if err != nil {
				_ = os.Remove(cgPath)
				cgPath = ""
			}
		} else {
			// Advisory only: limits are not enforced (and nothing is
			// logged) when cgroups can't be used for this app.
			cgPath = ""
		}
	}

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
	if cgDir != nil {
		cmd.SysProcAttr.UseCgroupFD = true
		cmd.SysProcAttr.CgroupFD = int(cgDir.Fd())
	}

	err := cmd.Start()
	if cgDir != nil {
		_ = cgDir.Close()
	}
	if err != nil {
		if cgPath != "" {
			_ = os.Remove(cgPath)
		}
		return nil, bunctlerr.SpawnFailed(string(id), err)
	}
	pid := cmd.Process.Pid

	h := &registry.Handle{PID: pid, StartedAt: time.Now()}
	if cgPath != "" {
		h.Isolation = &cgroupToken{path: cgPath}
	} else {
		h.Isolation = pgidToken{}
	}
	if err := reg.AttachHandle(id, h); err != nil {
		_ = killProcessGroup(pid, syscall.SIGKILL)
		return nil, err
	}

	reg.Events.Publish(registry.Event{Kind: registry.EventProcessStarted, App: id, PID: pid, At: time.Now()})
	runtimeRegisterCmd(id, cmd)
	return h, nil
}

// runningCmds tracks the *exec.Cmd backing each live Handle so Wait/KillTree
// can reach the os/exec state without the Registry having to know about
// exec.Cmd (the Registry only stores the platform-neutral Handle).
var (
	runningCmdsMu sync.Mutex
	runningCmds   = make(map[app.ID]*exec.Cmd)
)

func runtimeRegisterCmd(id app.ID, cmd *exec.Cmd) {
	runningCmdsMu.Lock()
	runningCmds[id] = cmd
	runningCmdsMu.Unlock()
}

func runtimeCmd(id app.ID) (*exec.Cmd, bool) {
	runningCmdsMu.Lock()
	defer runningCmdsMu.Unlock()
	cmd, ok := runningCmds[id]
	return cmd, ok
}

func runtimeForgetCmd(id app.ID) {
	runningCmdsMu.Lock()
	delete(runningCmds, id)
	runningCmdsMu.Unlock()
}

// Wait blocks until the process exits, emits ProcessExited, and releases the
// isolation token via reg.DetachHandle.
func (s *linuxSupervisor) Wait(ctx context.Context, id app.ID, h *registry.Handle, reg *registry.Registry) app.ExitStatus {
	cmd, ok := runtimeCmd(id)
	if !ok {
		_ = reg.DetachHandle(id)
		return app.UnknownExit()
	}

	err := cmd.Wait()
	runtimeForgetCmd(id)
	exit := exitStatusFromWaitErr(err)

	_ = reg.DetachHandle(id)
	reg.Events.Publish(registry.Event{Kind: registry.EventProcessExited, App: id, PID: h.PID, Exit: &exit, At: time.Now()})
	return exit
}

func exitStatusFromWaitErr(err error) app.ExitStatus {
	if err == nil {
		return app.Exited(0)
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if ws.Signaled() {
				return app.Signaled(int(ws.Signal()))
			}
			return app.Exited(ws.ExitStatus())
		}
		return app.Exited(exitErr.ExitCode())
	}
	return app.UnknownExit()
}

// GracefulStop sends SIGTERM to the process group and escalates to SIGKILL
// after timeout.
func (s *linuxSupervisor) GracefulStop(ctx context.Context, h *registry.Handle, timeout time.Duration) error {
	if err := killProcessGroup(h.PID, syscall.SIGTERM); err != nil {
		return err
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !processAlive(h.PID) {
			return nil
		}
		time.Sleep(20 * time.Millisecond)
	}
	if !processAlive(h.PID) {
		return nil
	}
	return killProcessGroup(h.PID, syscall.SIGKILL)
}

// KillTree enumerates cgroup.procs when available and SIGKILLs each member,
// otherwise SIGKILLs the process group as a whole.
func (s *linuxSupervisor) KillTree(h *registry.Handle) error {
	if tok, ok := h.Isolation.(*cgroupToken); ok && tok.path != "" {
		if pids, err := readCgroupProcs(tok.path); err == nil {
			for _, pid := range pids {
				_ = syscall.Kill(pid, syscall.SIGKILL)
			}
			return nil
		}
	}
	return killProcessGroup(h.PID, syscall.SIGKILL)
}

// SetResourceLimits rewrites memory.max/cpu.max for a live cgroup'd app. A
// no-op when running without cgroups (limits are advisory in that mode).
func (s *linuxSupervisor) SetResourceLimits(h *registry.Handle, cfg app.Config) error {
	tok, ok := h.Isolation.(*cgroupToken)
	if !ok || tok.path == "" {
		return nil
	}
	return writeCgroupLimits(tok.path, cfg)
}

func (s *linuxSupervisor) GetProcessInfo(pid int) (ProcessInfo, error) {
	return getProcessInfoGopsutil(pid)
}

func createCgroup(id app.ID, cfg app.Config) (string, error) {
	path := cgroupPathFor(id)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	if err := writeCgroupLimits(path, cfg); err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return path, nil
}

// writeCgroupLimits applies memory.max and cpu.max: memory.max = max_memory
// or "max"; cpu.max = "<quota> <period>" with period 100000µs and
// quota = floor(period * max_cpu_percent/100).
func writeCgroupLimits(cgPath string, cfg app.Config) error {
	memVal := "max"
	if cfg.MaxMemory > 0 {
		memVal = strconv.FormatInt(cfg.MaxMemory, 10)
	}
	if err := os.WriteFile(filepath.Join(cgPath, "memory.max"), []byte(memVal), 0o644); err != nil {
		return fmt.Errorf("write memory.max: %w", err)
	}

	if cfg.MaxCPUPercent > 0 {
		quota := cgroupPeriod * cfg.MaxCPUPercent / 100
		line := fmt.Sprintf("%d %d", quota, cgroupPeriod)
		if err := os.WriteFile(filepath.Join(cgPath, "cpu.max"), []byte(line), 0o644); err != nil {
			return fmt.Errorf("write cpu.max: %w", err)
		}
	}
	return nil
}

func attachToCgroup(cgPath string, pid int) error {
	return os.WriteFile(filepath.Join(cgPath, "cgroup.procs"), []byte(strconv.Itoa(pid)), 0o644)
}

func readCgroupProcs(cgPath string) ([]int, error) {
	b, err := os.ReadFile(filepath.Join(cgPath, "cgroup.procs"))
	if err != nil {
		return nil, err
	}
	var pids []int
	for _, line := range strings.Split(strings.TrimSpace(string(b)), "\n") {
		if line == "" {
			continue
		}
		if pid, err := strconv.Atoi(line); err == nil {
			pids = append(pids, pid)
		}
	}
	return pids, nil
}

func killProcessGroup(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return nil
	}
	if err := syscall.Kill(-pid, sig); err != nil && err != syscall.ESRCH {
		return err
	}
	return nil
}

func processAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}
