// Package supervisor spawns supervised apps inside an OS-native isolation
// container, enforces resource limits, and reports lifecycle events back to
// the daemon. Three concrete implementations exist behind the
// Supervisor interface — cgroup v2 on Linux, Job Objects on Windows, POSIX
// process groups on other Unix systems — built at startup via New, never
// switched on at the call site.
package supervisor

import (
	"context"
	"io"
	"time"

	"github.com/bunctl/bunctl/internal/app"
	"github.com/bunctl/bunctl/internal/registry"
)

// ProcessInfo is the best-effort resource snapshot get_process_info returns
//: memory bytes, cpu percent, cmdline, fd count.
type ProcessInfo struct {
	PID        int32
	CPUPercent float64
	MemoryRSS  uint64
	MemoryVMS  uint64
	NumThreads int32
	NumFDs     int32
	Cmdline    []string
}

// Event is the union of lifecycle notifications a Supervisor emits. The
// supervisors themselves publish registry.Event values (not this type)
// directly onto the shared registry.EventBus, so the App Controller and any
// IPC subscriber see the same ordered stream.
type Event struct {
	Kind   registry.EventKind
	App    app.ID
	PID    int
	Exit   app.ExitStatus
	Reason string
}

// Supervisor is the uniform, platform-specialized spawn/monitor/kill
// contract every isolation backend implements. Every method that can block
// takes a context so callers can bound it with an explicit timeout.
type Supervisor interface {
	// Spawn creates the isolation container, applies cfg's resource limits,
	// starts the child inside it with stdout/stderr wired to the caller's log
	// pipeline writers, registers the resulting Handle in reg, and emits
	// ProcessStarted. The Handle is also returned directly so the caller's
	// App Controller doesn't need to re-look it up under lock.
	Spawn(ctx context.Context, cfg app.Config, reg *registry.Registry, stdout, stderr io.Writer) (*registry.Handle, error)

	// Wait blocks until the process owning h exits, emits ProcessExited, and
	// releases h's isolation token via reg.DetachHandle.
	Wait(ctx context.Context, id app.ID, h *registry.Handle, reg *registry.Registry) app.ExitStatus

	// GracefulStop sends the platform's polite stop signal and force-kills
	// the tree if the process is still alive after timeout.
	GracefulStop(ctx context.Context, h *registry.Handle, timeout time.Duration) error

	// KillTree terminates the entire process tree atomically.
	KillTree(h *registry.Handle) error

	// SetResourceLimits adjusts memory/CPU limits on a live container.
	SetResourceLimits(h *registry.Handle, cfg app.Config) error

	// GetProcessInfo returns a best-effort resource snapshot for pid.
	GetProcessInfo(pid int) (ProcessInfo, error)
}
