// Package appgroup provides start/stop/status operations over a named set
// of apps, reusing internal/daemon's per-app Register/Dispatch rather than
// driving process control directly. A Group has no state of its own beyond
// the member list; all bookkeeping still lives in the registry, so a group
// is just a convenience fan-out over app names.
package appgroup

import (
	"context"
	"fmt"
	"time"

	"github.com/bunctl/bunctl/internal/app"
	"github.com/bunctl/bunctl/internal/ipc"
)

// Spec names a set of apps to be operated on together. Name is a logical
// group identifier used for diagnostics only; Members lists full app
// configs rather than bare names, so Start can register apps the daemon
// hasn't seen yet.
type Spec struct {
	Name    string
	Members []app.Config
}

// Registrar is the subset of internal/daemon.Daemon a Group needs: enough
// to register a member and drive its lifecycle through the same ipc
// envelope the control channel uses.
type Registrar interface {
	Register(cfg app.Config) error
	Dispatch(ctx context.Context, cmd ipc.Command) (any, error)
}

// Group drives Start/Stop/Status across Spec.Members via a Registrar.
type Group struct {
	reg Registrar
}

func New(reg Registrar) *Group { return &Group{reg: reg} }

// Start registers and starts every member. If any member fails, it stops
// any members already started in this call and returns the error, mirroring
// an all-or-nothing group start.
func (g *Group) Start(ctx context.Context, gs Spec) error {
	started := make([]app.Config, 0, len(gs.Members))
	for _, m := range gs.Members {
		if err := g.reg.Register(m); err != nil {
			g.rollback(started)
			return fmt.Errorf("appgroup %s: register %s: %w", gs.Name, m.Name, err)
		}
		if _, err := g.reg.Dispatch(ctx, ipc.Command{Type: ipc.CmdStart, Name: m.Name}); err != nil {
			g.rollback(started)
			return fmt.Errorf("appgroup %s: start %s: %w", gs.Name, m.Name, err)
		}
		started = append(started, m)
	}
	return nil
}

func (g *Group) rollback(started []app.Config) {
	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for i := len(started) - 1; i >= 0; i-- {
		_, _ = g.reg.Dispatch(stopCtx, ipc.Command{Type: ipc.CmdStop, Name: started[i].Name})
	}
}

// StartRegistered starts every member by name without registering it
// first, for callers (e.g. internal/httpapi's /group/start) operating on
// apps a config file already registered at daemon startup. Rollback
// semantics match Start.
func (g *Group) StartRegistered(ctx context.Context, gs Spec) error {
	started := make([]string, 0, len(gs.Members))
	for _, m := range gs.Members {
		if _, err := g.reg.Dispatch(ctx, ipc.Command{Type: ipc.CmdStart, Name: m.Name}); err != nil {
			g.rollbackNames(started)
			return fmt.Errorf("appgroup %s: start %s: %w", gs.Name, m.Name, err)
		}
		started = append(started, m.Name)
	}
	return nil
}

func (g *Group) rollbackNames(started []string) {
	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for i := len(started) - 1; i >= 0; i-- {
		_, _ = g.reg.Dispatch(stopCtx, ipc.Command{Type: ipc.CmdStop, Name: started[i]})
	}
}

// Stop stops every member regardless of current state, best-effort, and
// returns the first error encountered.
func (g *Group) Stop(ctx context.Context, gs Spec) error {
	var firstErr error
	for _, m := range gs.Members {
		if _, err := g.reg.Dispatch(ctx, ipc.Command{Type: ipc.CmdStop, Name: m.Name}); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Status returns each member's current status payload, keyed by app name.
func (g *Group) Status(ctx context.Context, gs Spec) (map[string]ipc.StatusPayload, error) {
	out := make(map[string]ipc.StatusPayload, len(gs.Members))
	for _, m := range gs.Members {
		res, err := g.reg.Dispatch(ctx, ipc.Command{Type: ipc.CmdStatus, Name: m.Name})
		if err != nil {
			return nil, err
		}
		payload, ok := res.(ipc.StatusPayload)
		if !ok {
			return nil, fmt.Errorf("appgroup: unexpected status result for %s", m.Name)
		}
		out[m.Name] = payload
	}
	return out, nil
}
