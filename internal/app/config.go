package app

import (
	"fmt"
	"os/exec"
	"runtime"
	"sort"
	"strings"
	"time"
)

// RestartPolicy controls whether a terminated app is restarted.
type RestartPolicy string

const (
	RestartNo            RestartPolicy = "no"
	RestartAlways        RestartPolicy = "always"
	RestartOnFailure     RestartPolicy = "on-failure"
	RestartUnlessStopped RestartPolicy = "unless-stopped"
)

// BackoffPolicy configures internal/backoff.Engine for one app.
type BackoffPolicy struct {
	BaseDelay      time.Duration `mapstructure:"base_delay" json:"base_delay"`
	MaxDelay       time.Duration `mapstructure:"max_delay" json:"max_delay"`
	Multiplier     float64       `mapstructure:"multiplier" json:"multiplier"`
	JitterFraction float64       `mapstructure:"jitter_fraction" json:"jitter_fraction"`
	MaxAttempts    int           `mapstructure:"max_attempts" json:"max_attempts"`
	ExhaustedAction ExhaustedAction `mapstructure:"exhausted_action" json:"exhausted_action"`
}

// ExhaustedAction decides what happens when the backoff engine is exhausted.
type ExhaustedAction string

const (
	ExhaustedStop   ExhaustedAction = "stop"
	ExhaustedRemove ExhaustedAction = "remove"
)

// DefaultBackoff returns the baseline exponential-backoff policy.
func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{
		BaseDelay:       200 * time.Millisecond,
		MaxDelay:        30 * time.Second,
		Multiplier:      2.0,
		JitterFraction:  0.2,
		MaxAttempts:     8,
		ExhaustedAction: ExhaustedStop,
	}
}

// LogConfig configures the per-stream log pipeline (internal/logpipeline).
type LogConfig struct {
	StdoutPath  string        `mapstructure:"stdout_path" json:"stdout_path"`
	StderrPath  string        `mapstructure:"stderr_path" json:"stderr_path"`
	MaxFileSize int64         `mapstructure:"max_file_size" json:"max_file_size"`
	MaxFiles    int           `mapstructure:"max_files" json:"max_files"`
	Daily       bool          `mapstructure:"daily" json:"daily"`
	Compress    bool          `mapstructure:"compress" json:"compress"`
	FlushEvery  time.Duration `mapstructure:"flush_every" json:"flush_every"`
}

// HealthCheck is a reserved, unimplemented slot.
type HealthCheck struct {
	Path     string        `mapstructure:"path" json:"path,omitempty"`
	Interval time.Duration `mapstructure:"interval" json:"interval,omitempty"`
}

// Config is the immutable, normalized application definition the hard core
// consumes. Once registered it is never mutated in place — a
// reload replaces the whole value.
type Config struct {
	Name    string            `mapstructure:"name" json:"name"`
	Command string            `mapstructure:"command" json:"command"`
	Args    []string          `mapstructure:"args" json:"args"`
	Cwd     string            `mapstructure:"cwd" json:"cwd"`
	Env     map[string]string `mapstructure:"env" json:"env"`

	RestartPolicy RestartPolicy `mapstructure:"restart_policy" json:"restart_policy"`

	MaxMemory     int64 `mapstructure:"max_memory" json:"max_memory,omitempty"`
	MaxCPUPercent int   `mapstructure:"max_cpu_percent" json:"max_cpu_percent,omitempty"`

	StopTimeout time.Duration `mapstructure:"stop_timeout" json:"stop_timeout"`
	KillTimeout time.Duration `mapstructure:"kill_timeout" json:"kill_timeout"`

	Backoff BackoffPolicy `mapstructure:"backoff" json:"backoff"`
	Log     LogConfig     `mapstructure:"log" json:"log"`

	Health HealthCheck `mapstructure:"health" json:"health,omitempty"` // reserved, unused

	Priority  int            `mapstructure:"priority" json:"priority,omitempty"`
	Instances int            `mapstructure:"instances" json:"instances,omitempty"`
	Hooks     LifecycleHooks `mapstructure:"hooks" json:"hooks,omitempty"`
}

// WithDefaults returns a copy of c with zero-valued optional fields filled in
// to their stated defaults.
func (c Config) WithDefaults() Config {
	if c.StopTimeout <= 0 {
		c.StopTimeout = 10 * time.Second
	}
	if c.KillTimeout <= 0 {
		c.KillTimeout = 5 * time.Second
	}
	if c.RestartPolicy == "" {
		c.RestartPolicy = RestartNo
	}
	if c.Backoff.MaxAttempts == 0 && c.Backoff.BaseDelay == 0 {
		c.Backoff = DefaultBackoff()
	}
	if c.Log.FlushEvery <= 0 {
		c.Log.FlushEvery = 100 * time.Millisecond
	}
	if c.Log.MaxFiles <= 0 {
		c.Log.MaxFiles = 5
	}
	if c.Instances <= 0 {
		c.Instances = 1
	}
	return c
}

// Validate checks the fields that matter for safe supervision. It is run
// once at registration time, after WithDefaults has filled in defaults.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if strings.TrimSpace(c.Command) == "" {
		return fmt.Errorf("command is required")
	}
	switch c.RestartPolicy {
	case RestartNo, RestartAlways, RestartOnFailure, RestartUnlessStopped:
	default:
		return fmt.Errorf("invalid restart_policy %q", c.RestartPolicy)
	}
	if c.MaxMemory < 0 {
		return fmt.Errorf("max_memory cannot be negative")
	}
	// Multi-core quotas above 100 are allowed, bounded by available cores.
	if c.MaxCPUPercent < 0 || c.MaxCPUPercent > 100*runtime.NumCPU() {
		return fmt.Errorf("max_cpu_percent %d out of range (0..%d)", c.MaxCPUPercent, 100*runtime.NumCPU())
	}
	if c.StopTimeout < 0 || c.KillTimeout < 0 {
		return fmt.Errorf("stop_timeout/kill_timeout cannot be negative")
	}
	if c.Backoff.JitterFraction < 0 || c.Backoff.JitterFraction > 1 {
		return fmt.Errorf("backoff.jitter_fraction must be within [0,1]")
	}
	if c.Backoff.MaxAttempts < 0 {
		return fmt.Errorf("backoff.max_attempts cannot be negative")
	}
	switch c.Backoff.ExhaustedAction {
	case "", ExhaustedStop, ExhaustedRemove:
	default:
		return fmt.Errorf("invalid backoff.exhausted_action %q", c.Backoff.ExhaustedAction)
	}
	return c.Hooks.Validate()
}

// DeepCopy returns an independent copy of c, suitable for handing out via
// registry snapshots without risking aliasing into the live config.
func (c Config) DeepCopy() Config {
	cp := c
	if c.Args != nil {
		cp.Args = append([]string(nil), c.Args...)
	}
	if c.Env != nil {
		cp.Env = make(map[string]string, len(c.Env))
		for k, v := range c.Env {
			cp.Env[k] = v
		}
	}
	cp.Hooks = c.Hooks.DeepCopy()
	return cp
}

// EnvSlice returns Env as a sorted "K=V" slice suitable for exec.Cmd.Env.
func (c Config) EnvSlice() []string {
	out := make([]string, 0, len(c.Env))
	for k, v := range c.Env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// BuildCommand constructs an *exec.Cmd for c.Command/c.Args. Arguments are
// always literal;
// the only shell-awareness kept is honoring an already-explicit "sh -c ..."
// invocation so a caller who deliberately wants shell semantics doesn't get
// double-wrapped.
func (c Config) BuildCommand() *exec.Cmd {
	cmdStr := strings.TrimSpace(c.Command)
	if cmdStr == "" {
		// #nosec G204
		return exec.Command("/bin/true")
	}
	if len(c.Args) > 0 {
		// #nosec G204
		return exec.Command(cmdStr, c.Args...)
	}
	if _, afterC, ok := parseExplicitShell(cmdStr); ok {
		// #nosec G204
		return exec.Command("/bin/sh", "-c", afterC)
	}
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		// #nosec G204
		return exec.Command("/bin/sh", "-c", cmdStr)
	}
	parts := strings.Fields(cmdStr)
	name := parts[0]
	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}
	// #nosec G204
	return exec.Command(name, args...)
}

// parseExplicitShell detects "sh -c <ARG>" / "/bin/sh -c <ARG>" prefixes so
// BuildCommand never double-wraps an already-shell-quoted command string.
func parseExplicitShell(cmdStr string) (string, string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	candidates := []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "}
	for _, p := range candidates {
		if strings.HasPrefix(trim, p) {
			after := trim[len(p):]
			if n := len(after); n >= 2 {
				if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
					after = after[1 : n-1]
				}
			}
			return strings.Fields(p)[0], after, true
		}
	}
	return "", "", false
}
