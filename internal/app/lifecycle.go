package app

import (
	"fmt"
	"strings"
	"time"
)

// LifecyclePhase names one of the four points a Hook can run at.
type LifecyclePhase string

const (
	PhasePreStart  LifecyclePhase = "pre_start"
	PhasePostStart LifecyclePhase = "post_start"
	PhasePreStop   LifecyclePhase = "pre_stop"
	PhasePostStop  LifecyclePhase = "post_stop"
)

func (p LifecyclePhase) String() string { return string(p) }

// FailureMode decides how a hook's failure affects the surrounding operation.
type FailureMode string

const (
	FailureModeIgnore FailureMode = "ignore"
	FailureModeFail   FailureMode = "fail"
	FailureModeRetry  FailureMode = "retry"
)

// RunMode decides whether the controller waits on a hook before proceeding.
type RunMode string

const (
	RunModeBlocking RunMode = "blocking"
	RunModeAsync    RunMode = "async"
)

// Hook is a single command run at one lifecycle phase, outside the supervised
// app's own process tree.
type Hook struct {
	Name        string        `json:"name" mapstructure:"name"`
	Command     string        `json:"command" mapstructure:"command"`
	WorkDir     string        `json:"work_dir" mapstructure:"work_dir"`
	Env         []string      `json:"env" mapstructure:"env"`
	Timeout     time.Duration `json:"timeout" mapstructure:"timeout"`
	FailureMode FailureMode   `json:"failure_mode" mapstructure:"failure_mode"`
	RunMode     RunMode       `json:"run_mode" mapstructure:"run_mode"`
}

// LifecycleHooks groups the Hooks that fire around an app's start/stop.
type LifecycleHooks struct {
	PreStart  []Hook `json:"pre_start" mapstructure:"pre_start"`
	PostStart []Hook `json:"post_start" mapstructure:"post_start"`
	PreStop   []Hook `json:"pre_stop" mapstructure:"pre_stop"`
	PostStop  []Hook `json:"post_stop" mapstructure:"post_stop"`
}

// HasAnyHooks reports whether any phase has at least one hook.
func (lh *LifecycleHooks) HasAnyHooks() bool {
	return len(lh.PreStart) > 0 || len(lh.PostStart) > 0 || len(lh.PreStop) > 0 || len(lh.PostStop) > 0
}

// GetHooksForPhase returns the hooks registered for phase.
func (lh *LifecycleHooks) GetHooksForPhase(phase LifecyclePhase) []Hook {
	switch phase {
	case PhasePreStart:
		return lh.PreStart
	case PhasePostStart:
		return lh.PostStart
	case PhasePreStop:
		return lh.PreStop
	case PhasePostStop:
		return lh.PostStop
	default:
		return nil
	}
}

// Validate checks hook names are unique across phases and each hook is
// individually well-formed.
func (lh *LifecycleHooks) Validate() error {
	seen := make(map[string]string)
	phases := map[string][]Hook{
		"pre_start":  lh.PreStart,
		"post_start": lh.PostStart,
		"pre_stop":   lh.PreStop,
		"post_stop":  lh.PostStop,
	}

	for phase, hooks := range phases {
		for i, h := range hooks {
			if err := h.Validate(); err != nil {
				return fmt.Errorf("%s hook %d validation failed: %w", phase, i, err)
			}
			if existing, ok := seen[h.Name]; ok {
				return fmt.Errorf("duplicate hook name %q found in %s and %s phases", h.Name, existing, phase)
			}
			seen[h.Name] = phase
		}
		if len(hooks) > 50 {
			return fmt.Errorf("%s phase has too many hooks (%d), maximum is 50", phase, len(hooks))
		}
	}

	total := len(lh.PreStart) + len(lh.PostStart) + len(lh.PreStop) + len(lh.PostStop)
	if total > 100 {
		return fmt.Errorf("total hooks count %d exceeds maximum of 100", total)
	}
	return nil
}

// Validate checks a single hook's fields.
func (h *Hook) Validate() error {
	name := strings.TrimSpace(h.Name)
	if name == "" {
		return fmt.Errorf("hook name is required")
	}
	if strings.ContainsAny(name, " \t\n\r/\\<>:\"|?*") {
		return fmt.Errorf("hook %q: name contains invalid characters", name)
	}
	if strings.TrimSpace(h.Command) == "" {
		return fmt.Errorf("hook %q requires command", name)
	}
	if len(h.Command) > 10000 {
		return fmt.Errorf("hook %q: command too long (max 10000 characters)", name)
	}

	switch h.FailureMode {
	case "", FailureModeIgnore, FailureModeFail, FailureModeRetry:
	default:
		return fmt.Errorf("hook %q: invalid failure_mode %q", name, h.FailureMode)
	}
	switch h.RunMode {
	case "", RunModeBlocking, RunModeAsync:
	default:
		return fmt.Errorf("hook %q: invalid run_mode %q", name, h.RunMode)
	}
	if h.Timeout < 0 {
		return fmt.Errorf("hook %q: timeout cannot be negative", name)
	}
	if h.Timeout > time.Hour {
		return fmt.Errorf("hook %q: timeout too long (max 1 hour)", name)
	}
	if h.WorkDir != "" {
		if strings.TrimSpace(h.WorkDir) == "" {
			return fmt.Errorf("hook %q: work_dir cannot be empty string or whitespace", name)
		}
		if strings.Contains(h.WorkDir, "..") {
			return fmt.Errorf("hook %q: work_dir cannot contain '..' path traversal", name)
		}
	}
	for i, env := range h.Env {
		if !strings.Contains(env, "=") {
			return fmt.Errorf("hook %q: env[%d] %q must be in KEY=VALUE format", name, i, env)
		}
		key := strings.TrimSpace(strings.SplitN(env, "=", 2)[0])
		if key == "" {
			return fmt.Errorf("hook %q: env[%d] has empty key", name, i)
		}
		if strings.HasPrefix(key, "BUNCTL_") {
			return fmt.Errorf("hook %q: env[%d] key %q is reserved (BUNCTL_ prefix)", name, i, key)
		}
	}
	return nil
}

// GetDefaults fills in failure mode, run mode, and timeout defaults.
func (h *Hook) GetDefaults() {
	if h.FailureMode == "" {
		h.FailureMode = FailureModeFail
	}
	if h.RunMode == "" {
		h.RunMode = RunModeBlocking
	}
	if h.Timeout == 0 {
		h.Timeout = 30 * time.Second
	}
}

// DeepCopy returns an independent copy of lh.
func (lh *LifecycleHooks) DeepCopy() LifecycleHooks {
	if lh == nil {
		return LifecycleHooks{}
	}
	return LifecycleHooks{
		PreStart:  copyHooks(lh.PreStart),
		PostStart: copyHooks(lh.PostStart),
		PreStop:   copyHooks(lh.PreStop),
		PostStop:  copyHooks(lh.PostStop),
	}
}

func copyHooks(hooks []Hook) []Hook {
	if hooks == nil {
		return nil
	}
	out := make([]Hook, len(hooks))
	for i, h := range hooks {
		out[i] = h.DeepCopy()
	}
	return out
}

// DeepCopy returns an independent copy of h.
func (h *Hook) DeepCopy() Hook {
	cp := Hook{
		Name:        h.Name,
		Command:     h.Command,
		WorkDir:     h.WorkDir,
		Timeout:     h.Timeout,
		FailureMode: h.FailureMode,
		RunMode:     h.RunMode,
	}
	if h.Env != nil {
		cp.Env = append([]string(nil), h.Env...)
	}
	return cp
}
