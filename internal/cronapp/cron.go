// Package cronapp schedules one-shot app runs on an "@every <duration>"
// interval. Where the scheduler's
// Scheduler drove a process.Manager directly, cronapp drives the same
// Registrar contract internal/appgroup uses, so a scheduled run is just a
// Register+Start against the daemon's normal controller path — restart
// policy, backoff, and logging all behave exactly as they would for a
// manually started app.
package cronapp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bunctl/bunctl/internal/app"
	"github.com/bunctl/bunctl/internal/ipc"
)

// Job defines a scheduled app run. Schedule supports only "@every
// <duration>" (e.g. "@every 5s"), a deliberately
// minimal cron grammar. While Singleton is true (Add always sets it), a
// tick is skipped while the previous tick's Register+Start call is still in
// flight; whether the app started by an earlier tick is still running is
// not checked here, and the Start goes to its controller as usual.
type Job struct {
	Name      string
	Config    app.Config
	Schedule  string
	Singleton bool

	running atomic.Bool
}

// parseEvery parses schedules of the form "@every <duration>".
func parseEvery(expr string) (time.Duration, error) {
	expr = strings.TrimSpace(expr)
	if !strings.HasPrefix(expr, "@every ") {
		return 0, fmt.Errorf("cronapp: unsupported schedule %q (only @every <duration> supported)", expr)
	}
	durStr := strings.TrimSpace(strings.TrimPrefix(expr, "@every "))
	d, err := time.ParseDuration(durStr)
	if err != nil {
		return 0, fmt.Errorf("cronapp: invalid @every duration: %w", err)
	}
	if d <= 0 {
		return 0, errors.New("cronapp: @every duration must be > 0")
	}
	return d, nil
}

// Validate enforces cron-specific constraints: a job needs a name and a
// schedule, and its app may not use restart_policy always. Other restart
// policies pass here (Add then forces RestartNo); the instance count is not
// checked.
func (j *Job) Validate() error {
	if j.Config.RestartPolicy == app.RestartAlways {
		return errors.New("cronapp: job cannot use restart_policy always")
	}
	if j.Name == "" {
		return errors.New("cronapp: job requires a name")
	}
	if j.Schedule == "" {
		return errors.New("cronapp: job requires a schedule")
	}
	return nil
}

// Registrar is the subset of internal/daemon.Daemon a Scheduler needs to
// register and start a job's app each tick.
type Registrar interface {
	Register(cfg app.Config) error
	Dispatch(ctx context.Context, cmd ipc.Command) (any, error)
}

// Scheduler runs Jobs against a shared Registrar.
type Scheduler struct {
	reg  Registrar
	jobs []*Job
	quit chan struct{}
}

func NewScheduler(reg Registrar) *Scheduler { return &Scheduler{reg: reg} }

// Add validates and registers job for scheduling. The restart policy is
// forced to RestartNo and Singleton is always set to true.
func (s *Scheduler) Add(job *Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	job.Config.RestartPolicy = app.RestartNo
	if !job.Singleton {
		job.Singleton = true
	}
	s.jobs = append(s.jobs, job)
	return nil
}

// Start launches every job's ticker loop. Call Stop to cancel all of them.
func (s *Scheduler) Start() error {
	if s.quit != nil {
		return errors.New("cronapp: scheduler already started")
	}
	s.quit = make(chan struct{})
	for _, j := range s.jobs {
		d, err := parseEvery(j.Schedule)
		if err != nil {
			return fmt.Errorf("cronapp: job %s: %w", j.Name, err)
		}
		go s.runJob(j, d)
	}
	return nil
}

func (s *Scheduler) runJob(j *Job, period time.Duration) {
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-s.quit:
			return
		case <-t.C:
			if j.Singleton && !j.running.CompareAndSwap(false, true) {
				continue
			}
			if !j.Singleton {
				j.running.Store(true)
			}
			go s.fire(j)
		}
	}
}

func (s *Scheduler) fire(j *Job) {
	defer j.running.Store(false)
	if err := s.reg.Register(j.Config); err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, _ = s.reg.Dispatch(ctx, ipc.Command{Type: ipc.CmdStart, Name: j.Config.Name})
}

// Stop cancels every job's ticker loop. Safe to call more than once.
func (s *Scheduler) Stop() {
	if s.quit == nil {
		return
	}
	select {
	case <-s.quit:
	default:
		close(s.quit)
	}
}
