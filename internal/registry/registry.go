// Package registry is the daemon's single source of truth for which apps
// exist, which ones have a live process, and the fan-out of lifecycle
// events to subscribers. It is a dual-indexed map — AppId to
// Entry, pid to AppId — guarded by one RWMutex: writers take the exclusive
// lock, readers (status queries) take the shared lock.
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/bunctl/bunctl/internal/app"
	"github.com/bunctl/bunctl/internal/bunctlerr"
)

// IsolationToken is the opaque resource an Entry's Handle holds while the
// process is alive — a cgroup path on Linux, a Job Object handle on Windows.
// Registry never interprets it beyond holding and releasing it; platform
// supervisors implement it.
type IsolationToken interface {
	Release() error
}

// Handle is the live-process half of an Entry, present only while a
// child is running.
type Handle struct {
	PID       int
	StartedAt time.Time
	Isolation IsolationToken
}

// Entry is one app's registry record: its registered Config plus, while
// running, its Handle. Registry methods update an Entry under the Registry's
// lock; an *Entry returned by Get or Register is the live record, not a copy.
type Entry struct {
	ID     app.ID
	Config app.Config

	State       app.State
	Backoff     app.BackoffInfo
	LastExit    app.ExitStatus
	Restarts    int
	UserStopped bool

	handle *Handle
}

// Snapshot is the read-only view handed out to status queries and IPC
// responses; it never aliases the live Entry.
type Snapshot struct {
	ID          app.ID
	Config      app.Config
	State       app.State
	Backoff     app.BackoffInfo
	LastExit    app.ExitStatus
	Restarts    int
	PID         int
	StartedAt   time.Time
	UserStopped bool
}

// Registry is the dual-indexed map plus the event bus fed by every
// registered app's lifecycle transitions.
type Registry struct {
	mu     sync.RWMutex
	byApp  map[app.ID]*Entry
	byPID  map[int]app.ID
	Events *EventBus
}

// New constructs an empty Registry with its own EventBus.
func New() *Registry {
	return &Registry{
		byApp:  make(map[app.ID]*Entry),
		byPID:  make(map[int]app.ID),
		Events: NewEventBus(),
	}
}

// Register adds or atomically replaces the Config for id. Re-registering a
// running app updates Config in place without disturbing its live Handle —
// the new Config takes effect on the next spawn.
func (r *Registry) Register(cfg app.Config) *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := app.ID(cfg.Name)
	e, ok := r.byApp[id]
	if !ok {
		e = &Entry{ID: id, State: app.StateStopped}
		r.byApp[id] = e
	}
	e.Config = cfg.DeepCopy()
	return e
}

// Get returns the Entry for id, or (nil, false) if it is not registered.
func (r *Registry) Get(id app.ID) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byApp[id]
	return e, ok
}

// Config returns a deep copy of id's current Config, safe to read without
// the caller taking any lock of its own — the App Controller fetches it
// fresh on every spawn so a concurrent Register takes effect on the next
// restart, never by mutating a value the controller already holds.
func (r *Registry) Config(id app.ID) (app.Config, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byApp[id]
	if !ok {
		return app.Config{}, false
	}
	return e.Config.DeepCopy(), true
}

// ByPID resolves the AppId owning pid, used when the supervisor observes an
// exit and needs to find the owning controller.
func (r *Registry) ByPID(pid int) (app.ID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byPID[pid]
	return id, ok
}

// List returns every registered AppId in no particular order.
func (r *Registry) List() []app.ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]app.ID, 0, len(r.byApp))
	for id := range r.byApp {
		out = append(out, id)
	}
	return out
}

// Snapshot returns a point-in-time copy of id's Entry.
func (r *Registry) Snapshot(id app.ID) (Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byApp[id]
	if !ok {
		return Snapshot{}, bunctlerr.NotFound(string(id))
	}
	return snapshotLocked(e), nil
}

// SnapshotAll returns a point-in-time copy of every registered Entry.
func (r *Registry) SnapshotAll() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Snapshot, 0, len(r.byApp))
	for _, e := range r.byApp {
		out = append(out, snapshotLocked(e))
	}
	return out
}

func snapshotLocked(e *Entry) Snapshot {
	s := Snapshot{
		ID:          e.ID,
		Config:      e.Config.DeepCopy(),
		State:       e.State,
		Backoff:     e.Backoff,
		LastExit:    e.LastExit,
		Restarts:    e.Restarts,
		UserStopped: e.UserStopped,
	}
	if e.handle != nil {
		s.PID = e.handle.PID
		s.StartedAt = e.handle.StartedAt
	}
	return s
}

// AttachHandle installs h as id's live process handle, indexing it by pid.
// Called only by the Supervisor after a successful spawn.
func (r *Registry) AttachHandle(id app.ID, h *Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byApp[id]
	if !ok {
		return bunctlerr.NotFound(string(id))
	}
	if e.handle != nil {
		return fmt.Errorf("registry: app %s already has a live handle (pid %d)", id, e.handle.PID)
	}
	e.handle = h
	r.byPID[h.PID] = id
	return nil
}

// DetachHandle removes id's live handle and releases its isolation token.
// Called only by the Supervisor after a confirmed exit. The
// pid index entry is cleared atomically with the handle so a reused pid can
// never alias a stale AppId.
func (r *Registry) DetachHandle(id app.ID) error {
	r.mu.Lock()
	e, ok := r.byApp[id]
	if !ok {
		r.mu.Unlock()
		return bunctlerr.NotFound(string(id))
	}
	h := e.handle
	e.handle = nil
	if h != nil {
		delete(r.byPID, h.PID)
	}
	r.mu.Unlock()

	if h != nil && h.Isolation != nil {
		return h.Isolation.Release()
	}
	return nil
}

// Handle returns id's live handle, if any.
func (r *Registry) Handle(id app.ID) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byApp[id]
	if !ok || e.handle == nil {
		return nil, false
	}
	return e.handle, true
}

// SetState updates id's observable State/Backoff fields and publishes
// EventStateChanged. Called only by that app's Controller goroutine, which
// is why this alone is sufficient to keep per-app event ordering.
func (r *Registry) SetState(id app.ID, state app.State, backoff app.BackoffInfo) {
	r.mu.Lock()
	e, ok := r.byApp[id]
	if ok {
		e.State = state
		e.Backoff = backoff
	}
	r.mu.Unlock()
	if ok {
		r.Events.Publish(Event{Kind: EventStateChanged, App: id, State: state, At: time.Now()})
	}
}

// RecordExit stores the last ExitStatus and bumps the restart counter.
func (r *Registry) RecordExit(id app.ID, exit app.ExitStatus) {
	r.mu.Lock()
	if e, ok := r.byApp[id]; ok {
		e.LastExit = exit
		e.Restarts++
	}
	r.mu.Unlock()
}

// SetUserStopped sets or clears the "user requested stop" flag consulted by
// the UnlessStopped restart policy.
func (r *Registry) SetUserStopped(id app.ID, stopped bool) {
	r.mu.Lock()
	if e, ok := r.byApp[id]; ok {
		e.UserStopped = stopped
	}
	r.mu.Unlock()
}

// Unregister removes id entirely. Fails if the app still has a live handle —
// callers must stop it first.
func (r *Registry) Unregister(id app.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byApp[id]
	if !ok {
		return bunctlerr.NotFound(string(id))
	}
	if e.handle != nil {
		return fmt.Errorf("registry: cannot unregister %s while it has a live handle", id)
	}
	delete(r.byApp, id)
	return nil
}
