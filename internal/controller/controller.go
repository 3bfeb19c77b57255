// Package controller implements the per-AppID supervision state machine
//: one goroutine per app drains a single inbox of commands
// and termination events, so every transition is serialized and observers
// never see a torn state. It is built around
// manager.handler (one ctrl channel per process, serialized Start/Stop) and
// manager.supervisor (the background loop turning raw exits into restart
// decisions) — bunctl merges both responsibilities into one goroutine and
// replaces a fixed-interval retry with internal/backoff's engine.
package controller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bunctl/bunctl/internal/app"
	"github.com/bunctl/bunctl/internal/backoff"
	"github.com/bunctl/bunctl/internal/bunctlerr"
	"github.com/bunctl/bunctl/internal/logpipeline"
	"github.com/bunctl/bunctl/internal/registry"
	"github.com/bunctl/bunctl/internal/supervisor"
)

// PipelineFactory builds the stdout/stderr log pipeline for one spawn of id.
// A fresh Pipeline is built per spawn so rotation/metrics state starts
// clean for each process instance.
type PipelineFactory func(id app.ID, cfg app.Config) (*logpipeline.Pipeline, error)

// commands submitted from outside the controller's own goroutine.
type cmdStart struct{ reply chan error }
type cmdStop struct{ reply chan error }
type cmdRestart struct{ reply chan error }
type cmdShutdown struct{ reply chan struct{} }

// internal events fed back into the inbox by the controller's own helper
// goroutines (spawn, wait, backoff timer).
type evSpawned struct {
	handle   *registry.Handle
	pipeline *logpipeline.Pipeline
}
type evSpawnFailed struct{ err error }
type evExited struct{ exit app.ExitStatus }
type evBackoffFire struct{}
type evUptimeSustained struct{}

// Controller is one app's state machine goroutine.
type Controller struct {
	id  app.ID
	reg *registry.Registry
	sup supervisor.Supervisor
	pipelines PipelineFactory
	log *slog.Logger

	inbox chan any
	done  chan struct{}

	state        app.State
	backoff      *backoff.Engine
	pipeline     *logpipeline.Pipeline
	userStopped  bool
	pendingRestart bool
	shuttingDown bool

	uptimeTimer  *time.Timer
	backoffTimer *time.Timer
}

// New builds a Controller for id. It does not start the goroutine loop;
// call Run for that. cfg.Backoff must already have gone through
// app.Config.WithDefaults (internal/daemon's Register does this before
// registering; Registry.Register does not apply defaults).
func New(id app.ID, reg *registry.Registry, sup supervisor.Supervisor, pipelines PipelineFactory, log *slog.Logger) *Controller {
	cfg, _ := reg.Config(id)
	return &Controller{
		id:        id,
		reg:       reg,
		sup:       sup,
		pipelines: pipelines,
		log:       log.With("app", string(id)),
		inbox:     make(chan any, 32),
		done:      make(chan struct{}),
		state:     app.StateStopped,
		backoff:   backoff.New(cfg.Backoff),
	}
}

// Run starts the controller's serialized event loop. It returns once the
// loop exits, which only happens after a completed Shutdown.
func (c *Controller) Run(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.inbox:
			if c.handle(ctx, msg) {
				return
			}
		}
	}
}

// Done is closed once the controller's Run loop has returned.
func (c *Controller) Done() <-chan struct{} { return c.done }

// State returns the controller's last-known local state (same value last
// published to the Registry).
func (c *Controller) State() app.State { return c.state }

func (c *Controller) submit(ctx context.Context, msg any, reply chan error) error {
	select {
	case c.inbox <- msg:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start is idempotent: a Start submitted while the app is not Stopped or
// Crashed is a no-op.
func (c *Controller) Start(ctx context.Context) error {
	reply := make(chan error, 1)
	return c.submit(ctx, cmdStart{reply: reply}, reply)
}

// Stop requests a graceful stop, honoring the app's stop/kill timeouts.
func (c *Controller) Stop(ctx context.Context) error {
	reply := make(chan error, 1)
	return c.submit(ctx, cmdStop{reply: reply}, reply)
}

// Restart stops the running app (if any) and starts it again once stopped.
func (c *Controller) Restart(ctx context.Context) error {
	reply := make(chan error, 1)
	return c.submit(ctx, cmdRestart{reply: reply}, reply)
}

// Shutdown stops the app if running and terminates the controller's own
// goroutine. It returns once the stop has been *initiated* — callers that
// need to know the process has actually exited should select on Done() as
// well: resource release is explicit, awaited by an explicit shutdown
// call, not by destructors.
func (c *Controller) Shutdown(ctx context.Context) {
	reply := make(chan struct{}, 1)
	select {
	case c.inbox <- cmdShutdown{reply: reply}:
	case <-ctx.Done():
		return
	}
	select {
	case <-reply:
	case <-ctx.Done():
	}
}

func (c *Controller) cfg() app.Config {
	cfg, ok := c.reg.Config(c.id)
	if !ok {
		return app.Config{Name: string(c.id)}.WithDefaults()
	}
	return cfg
}

func (c *Controller) setState(state app.State, info app.BackoffInfo) {
	c.state = state
	c.reg.SetState(c.id, state, info)
}

// setUserStopped updates the local flag UnlessStopped consults and mirrors
// it onto the Registry entry so Status/List responses reflect it too.
func (c *Controller) setUserStopped(stopped bool) {
	c.userStopped = stopped
	c.reg.SetUserStopped(c.id, stopped)
}

// handle processes one inbox message. It returns true when the controller
// loop should exit (a completed Shutdown).
func (c *Controller) handle(ctx context.Context, msg any) bool {
	switch m := msg.(type) {
	case cmdStart:
		m.reply <- c.onStart()
	case cmdStop:
		m.reply <- c.onStop(ctx, false)
	case cmdRestart:
		m.reply <- c.onRestart(ctx)
	case cmdShutdown:
		c.shuttingDown = true
		_ = c.onStop(ctx, true)
		// Ack immediately: Shutdown's contract is "initiated", not
		// "process confirmed exited" — callers select on Done() for that.
		m.reply <- struct{}{}
	case evSpawned:
		c.onSpawned(ctx, m)
	case evSpawnFailed:
		c.onSpawnFailed(m.err)
	case evExited:
		c.onExited(ctx, m.exit)
	case evBackoffFire:
		c.onBackoffFire(ctx)
	case evUptimeSustained:
		if c.state == app.StateRunning {
			c.backoff.Reset()
		}
	}
	if c.shuttingDown && (c.state == app.StateStopped || c.state == app.StateCrashed) {
		return true
	}
	return false
}

func (c *Controller) onStart() error {
	switch c.state {
	case app.StateStopped, app.StateCrashed:
	default:
		return nil // idempotent no-op
	}
	c.setUserStopped(false)
	c.backoff.Reset()
	c.doSpawn(context.Background())
	return nil
}

func (c *Controller) doSpawn(ctx context.Context) {
	cfg := c.cfg()
	c.setState(app.StateStarting, app.BackoffInfo{})
	go func() {
		pipeline, err := c.pipelines(c.id, cfg)
		if err != nil {
			select {
			case c.inbox <- evSpawnFailed{err: fmt.Errorf("build log pipeline: %w", err)}:
			case <-ctx.Done():
			}
			return
		}
		handle, err := c.sup.Spawn(ctx, cfg, c.reg, pipeline.Stdout, pipeline.Stderr)
		if err != nil {
			_ = pipeline.Close()
			select {
			case c.inbox <- evSpawnFailed{err: err}:
			case <-ctx.Done():
			}
			return
		}
		select {
		case c.inbox <- evSpawned{handle: handle, pipeline: pipeline}:
		case <-ctx.Done():
		}
	}()
}

func (c *Controller) onSpawned(ctx context.Context, m evSpawned) {
	c.pipeline = m.pipeline
	c.setState(app.StateRunning, app.BackoffInfo{})
	c.armUptimeTimer()
	id, h, reg, sup := c.id, m.handle, c.reg, c.sup
	go func() {
		exit := sup.Wait(ctx, id, h, reg)
		select {
		case c.inbox <- evExited{exit: exit}:
		case <-ctx.Done():
		}
	}()
	if c.userStopped || c.shuttingDown {
		// A Stop (or Shutdown) arrived while we were Starting; honor it
		// now that the process has actually started.
		_ = c.onStop(ctx, c.shuttingDown)
	}
}

func (c *Controller) onSpawnFailed(err error) {
	c.log.Error("spawn failed", "error", err)
	c.reg.Events.Publish(registry.Event{
		Kind:   registry.EventProcessFailed,
		App:    c.id,
		Reason: err.Error(),
		At:     time.Now(),
	})
	if c.userStopped || c.shuttingDown {
		c.setState(app.StateStopped, app.BackoffInfo{})
		return
	}
	c.scheduleBackoffOrTerminal()
}

func (c *Controller) onStop(ctx context.Context, forShutdown bool) error {
	switch c.state {
	case app.StateStopped, app.StateCrashed:
		return nil
	case app.StateStarting:
		// Stop during Starting waits for the spawn to acknowledge, then
		// transitions through Stopping. The pending evSpawned/evSpawnFailed
		// handler observes userStopped and stops immediately once the spawn
		// lands.
		c.setUserStopped(true)
		return nil
	case app.StateBackoff:
		// Immediate cancellation.
		c.cancelBackoffTimer()
		c.setUserStopped(true)
		c.setState(app.StateStopped, app.BackoffInfo{})
		return nil
	case app.StateRunning:
		c.setUserStopped(true)
		c.cancelUptimeTimer()
		cfg := c.cfg()
		h, ok := c.reg.Handle(c.id)
		if !ok {
			c.setState(app.StateStopped, app.BackoffInfo{})
			return nil
		}
		c.setState(app.StateStopping, app.BackoffInfo{})
		sup := c.sup
		go func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), cfg.StopTimeout+cfg.KillTimeout+time.Second)
			defer cancel()
			if err := sup.GracefulStop(stopCtx, h, cfg.StopTimeout); err != nil {
				c.log.Warn("graceful stop reported an error", "error", err)
			}
		}()
		return nil
	case app.StateStopping:
		return nil
	}
	return nil
}

func (c *Controller) onRestart(ctx context.Context) error {
	switch c.state {
	case app.StateStopped, app.StateCrashed:
		return c.onStart()
	case app.StateBackoff:
		// onStop resolves Backoff synchronously (no process to wait on),
		// so there is no later evExited to pick up a pendingRestart flag —
		// start again immediately.
		if err := c.onStop(ctx, false); err != nil {
			return err
		}
		c.setUserStopped(false)
		c.backoff.Reset()
		c.doSpawn(ctx)
		return nil
	default:
		c.pendingRestart = true
		return c.onStop(ctx, false)
	}
}

func (c *Controller) onExited(ctx context.Context, exit app.ExitStatus) {
	c.cancelUptimeTimer()
	if c.pipeline != nil {
		_ = c.pipeline.Close()
		c.pipeline = nil
	}
	c.reg.RecordExit(c.id, exit)

	wasStopping := c.state == app.StateStopping
	cfg := c.cfg()

	if wasStopping || c.userStopped {
		c.setState(app.StateStopped, app.BackoffInfo{})
	} else if exit.ShouldRestart(cfg.RestartPolicy, c.userStopped) {
		c.scheduleBackoffOrTerminal()
	} else {
		c.setState(app.StateStopped, app.BackoffInfo{})
	}

	if c.pendingRestart {
		c.pendingRestart = false
		if !c.shuttingDown {
			c.setUserStopped(false)
			c.backoff.Reset()
			c.doSpawn(ctx)
		}
	}
}

func (c *Controller) scheduleBackoffOrTerminal() {
	if c.shuttingDown {
		c.setState(app.StateStopped, app.BackoffInfo{})
		return
	}
	cfg := c.cfg()
	d, ok := c.backoff.NextDelay()
	if !ok {
		c.reg.Events.Publish(registry.Event{
			Kind: registry.EventBackoffExhausted,
			App:  c.id,
			At:   time.Now(),
		})
		switch cfg.Backoff.ExhaustedAction {
		case app.ExhaustedRemove:
			c.setState(app.StateStopped, app.BackoffInfo{})
			if err := c.reg.Unregister(c.id); err != nil {
				c.log.Warn("could not unregister exhausted app", "error", err)
			}
		default:
			c.setState(app.StateCrashed, app.BackoffInfo{})
		}
		return
	}
	info := app.BackoffInfo{Attempt: c.backoff.Attempt(), NextRetryAt: time.Now().Add(d)}
	c.setState(app.StateBackoff, info)
	c.backoffTimer = time.AfterFunc(d, func() {
		select {
		case c.inbox <- evBackoffFire{}:
		default:
		}
	})
}

func (c *Controller) onBackoffFire(ctx context.Context) {
	if c.state != app.StateBackoff {
		return
	}
	if c.shuttingDown || c.userStopped {
		c.setState(app.StateStopped, app.BackoffInfo{})
		return
	}
	c.doSpawn(ctx)
}

func (c *Controller) armUptimeTimer() {
	cfg := c.cfg()
	if cfg.Backoff.MaxDelay <= 0 {
		return
	}
	c.uptimeTimer = time.AfterFunc(cfg.Backoff.MaxDelay, func() {
		select {
		case c.inbox <- evUptimeSustained{}:
		default:
		}
	})
}

func (c *Controller) cancelUptimeTimer() {
	if c.uptimeTimer != nil {
		c.uptimeTimer.Stop()
		c.uptimeTimer = nil
	}
}

func (c *Controller) cancelBackoffTimer() {
	if c.backoffTimer != nil {
		c.backoffTimer.Stop()
		c.backoffTimer = nil
	}
}

// KindOf is a convenience re-export so callers translating Controller
// errors into IPC responses don't need to import bunctlerr directly.
var KindOf = bunctlerr.KindOf
