// Package daemon wires the hard core — internal/registry, internal/
// supervisor, and one internal/controller per registered app — into the
// control surface internal/ipc exposes. It keeps one map of named
// processes behind a single entry point per command, generalized into
// ipc.Dispatcher's Dispatch/Subscribe contract so the same wiring serves
// both the Unix-socket/named-pipe control channel and, unmodified, any
// future in-process caller.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bunctl/bunctl/internal/app"
	"github.com/bunctl/bunctl/internal/bunctlerr"
	"github.com/bunctl/bunctl/internal/controller"
	"github.com/bunctl/bunctl/internal/ipc"
	"github.com/bunctl/bunctl/internal/logpipeline"
	"github.com/bunctl/bunctl/internal/obsmetrics"
	"github.com/bunctl/bunctl/internal/registry"
	"github.com/bunctl/bunctl/internal/supervisor"
)

// DefaultLogTailLines bounds a Logs command with no explicit Lines, mirroring
// hand-picked defaults for unsized requests.
const DefaultLogTailLines = 200

// scrapeInterval is how often the daemon samples supervised apps' resource
// usage into Prometheus (log pipeline counters are not sampled here).
const scrapeInterval = 5 * time.Second

// Daemon owns every live Controller and satisfies ipc.Dispatcher, so an
// ipc.Server can be pointed directly at one.
type Daemon struct {
	reg     *registry.Registry
	sup     supervisor.Supervisor
	metrics *obsmetrics.Metrics
	log     *slog.Logger

	mu          sync.Mutex
	controllers map[app.ID]*controller.Controller
	cancel      map[app.ID]context.CancelFunc

	runCtx context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
}

var _ ipc.Dispatcher = (*Daemon)(nil)

// New builds a Daemon around reg/sup. metrics may be nil to disable
// Prometheus observation entirely.
func New(reg *registry.Registry, sup supervisor.Supervisor, metrics *obsmetrics.Metrics, log *slog.Logger) *Daemon {
	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		reg:         reg,
		sup:         sup,
		metrics:     metrics,
		log:         log,
		controllers: make(map[app.ID]*controller.Controller),
		cancel:      make(map[app.ID]context.CancelFunc),
		runCtx:      ctx,
		stop:        cancel,
	}
}

// pipelineFactory is the controller.PipelineFactory every Controller shares:
// a fresh logpipeline.Pipeline per spawn, rooted at cfg.Log.
func pipelineFactory(id app.ID, cfg app.Config) (*logpipeline.Pipeline, error) {
	return logpipeline.NewPipeline(string(id), cfg.Log)
}

// Register adds or replaces cfg's Entry and, the first time id is seen,
// starts its Controller goroutine (already-running controllers simply pick
// up the new Config on their next spawn, per registry.Register's contract).
func (d *Daemon) Register(cfg app.Config) error {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return bunctlerr.Config(cfg.Name, "invalid config", err)
	}
	d.reg.Register(cfg)

	id := app.ID(cfg.Name)
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.controllers[id]; ok {
		return nil
	}
	ctrlCtx, cancel := context.WithCancel(d.runCtx)
	c := controller.New(id, d.reg, d.sup, pipelineFactory, d.log)
	d.controllers[id] = c
	d.cancel[id] = cancel
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		c.Run(ctrlCtx)
	}()
	return nil
}

func (d *Daemon) controllerFor(name string) (*controller.Controller, error) {
	id := app.ID(name)
	d.mu.Lock()
	c, ok := d.controllers[id]
	d.mu.Unlock()
	if !ok {
		return nil, bunctlerr.NotFound(name)
	}
	return c, nil
}

// Dispatch implements ipc.Dispatcher, translating one wire Command into a
// Registry/Controller call and a JSON-able result.
func (d *Daemon) Dispatch(ctx context.Context, cmd ipc.Command) (any, error) {
	switch cmd.Type {
	case ipc.CmdStart:
		c, err := d.controllerFor(cmd.Name)
		if err != nil {
			if cmd.Config != nil {
				if rerr := d.Register(*cmd.Config); rerr != nil {
					return nil, rerr
				}
				c, err = d.controllerFor(cmd.Name)
			}
			if err != nil {
				return nil, err
			}
		}
		return nil, c.Start(ctx)

	case ipc.CmdStop:
		c, err := d.controllerFor(cmd.Name)
		if err != nil {
			return nil, err
		}
		if d.metrics != nil {
			d.metrics.ObserveStop(cmd.Name)
		}
		return nil, c.Stop(ctx)

	case ipc.CmdRestart:
		c, err := d.controllerFor(cmd.Name)
		if err != nil {
			return nil, err
		}
		return nil, c.Restart(ctx)

	case ipc.CmdDelete:
		return nil, d.delete(ctx, cmd.Name)

	case ipc.CmdStatus:
		snap, err := d.reg.Snapshot(app.ID(cmd.Name))
		if err != nil {
			return nil, err
		}
		return ipc.ToStatusPayload(snap), nil

	case ipc.CmdList:
		snaps := d.reg.SnapshotAll()
		out := make([]ipc.StatusPayload, 0, len(snaps))
		for _, s := range snaps {
			out = append(out, ipc.ToStatusPayload(s))
		}
		return out, nil

	case ipc.CmdLogs:
		return d.logs(cmd.Name, cmd.Lines)

	default:
		return nil, fmt.Errorf("daemon: unsupported command %q", cmd.Type)
	}
}

// Subscribe implements ipc.Dispatcher by handing back a live feed straight
// off the shared registry event bus.
func (d *Daemon) Subscribe(filter registry.Filter) *registry.Subscription {
	return d.reg.Events.Subscribe(filter)
}

func (d *Daemon) delete(ctx context.Context, name string) error {
	id := app.ID(name)
	c, err := d.controllerFor(name)
	if err != nil {
		return err
	}
	c.Shutdown(ctx)
	select {
	case <-c.Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	d.mu.Lock()
	if cancel, ok := d.cancel[id]; ok {
		cancel()
	}
	delete(d.controllers, id)
	delete(d.cancel, id)
	d.mu.Unlock()

	return d.reg.Unregister(id)
}

// logs returns the tail of an app's stdout/stderr files. Reading straight from disk is safe concurrently with an active
// Writer because rotation is atomic rename-or-truncate and appends never
// rewrite already-flushed bytes.
func (d *Daemon) logs(name string, lines int) (ipc.LogsPayload, error) {
	if lines <= 0 {
		lines = DefaultLogTailLines
	}
	cfg, ok := d.reg.Config(app.ID(name))
	if !ok {
		return ipc.LogsPayload{}, bunctlerr.NotFound(name)
	}

	stdoutPath := cfg.Log.StdoutPath
	stderrPath := cfg.Log.StderrPath
	if stdoutPath == "" {
		stdoutPath = logpipeline.DefaultStdoutPath(name)
	}
	if stderrPath == "" {
		stderrPath = logpipeline.DefaultStderrPath(name)
	}

	out, err := logpipeline.TailLines(stdoutPath, lines)
	if err != nil {
		return ipc.LogsPayload{}, err
	}
	errLines, err := logpipeline.TailLines(stderrPath, lines)
	if err != nil {
		return ipc.LogsPayload{}, err
	}
	return ipc.LogsPayload{Stdout: out, Stderr: errLines}, nil
}

// Run starts the periodic metrics-scrape loop and blocks until ctx is done,
// then signals every Controller to shut down and waits for them to drain.
func (d *Daemon) Run(ctx context.Context) {
	if d.metrics != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.scrapeLoop(ctx)
		}()
	}

	go func() {
		sub := d.reg.Events.Subscribe(registry.Filter{})
		defer sub.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub.Events():
				if !ok {
					return
				}
				if d.metrics != nil {
					d.metrics.ObserveEvent(ev)
				}
			}
		}
	}()

	<-ctx.Done()
	d.shutdownAll()
}

func (d *Daemon) shutdownAll() {
	d.mu.Lock()
	ids := make([]app.ID, 0, len(d.controllers))
	for id := range d.controllers {
		ids = append(ids, id)
	}
	d.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, id := range ids {
		d.mu.Lock()
		c := d.controllers[id]
		d.mu.Unlock()
		if c == nil {
			continue
		}
		c.Shutdown(shutdownCtx)
	}
	d.stop()
	d.wg.Wait()
}

func (d *Daemon) scrapeLoop(ctx context.Context) {
	ticker := time.NewTicker(scrapeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.scrapeOnce()
		}
	}
}

func (d *Daemon) scrapeOnce() {
	for _, snap := range d.reg.SnapshotAll() {
		if snap.PID == 0 {
			continue
		}
		info, err := d.sup.GetProcessInfo(snap.PID)
		if err != nil {
			continue
		}
		d.metrics.ObserveResourceUsage(string(snap.ID), info.MemoryRSS, info.CPUPercent)
	}
}
