package supervisor

import (
	"fmt"
	"runtime"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// New constructs the platform-appropriate Supervisor — cgroup v2 on Linux
// (falling back to POSIX process groups when cgroups are unavailable), Job
// Objects on Windows.
func New() (Supervisor, error) {
	return newPlatform()
}

// getProcessInfoGopsutil is shared by both platform implementations: it is
// the only piece of get_process_info that isn't OS-isolation-specific
// grounded on a process-metrics collector which
// samples the same gopsutil handle for CPU/memory/thread/fd counts.
func getProcessInfoGopsutil(pid int) (ProcessInfo, error) {
	proc, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return ProcessInfo{}, fmt.Errorf("supervisor: process %d not found: %w", pid, err)
	}

	info := ProcessInfo{PID: int32(pid)}

	if cpu, err := proc.CPUPercent(); err == nil {
		info.CPUPercent = cpu
	}
	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		info.MemoryRSS = mem.RSS
		info.MemoryVMS = mem.VMS
	}
	if threads, err := proc.NumThreads(); err == nil {
		info.NumThreads = threads
	}
	if cmdline, err := proc.CmdlineSlice(); err == nil {
		info.Cmdline = cmdline
	}
	if runtime.GOOS != "windows" {
		if fds, err := proc.NumFDs(); err == nil {
			info.NumFDs = fds
		}
	}

	return info, nil
}
