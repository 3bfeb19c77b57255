package ipc

import (
	"encoding/json"

	"github.com/bunctl/bunctl/internal/app"
	"github.com/bunctl/bunctl/internal/registry"
)

func appIDOf(name string) app.ID { return app.ID(name) }

// toResponse builds the wire Response for a Dispatcher result: an error
// becomes RespError, a nil data becomes a bare RespSuccess, anything else
// is marshaled into RespData.
func toResponse(data any, err error) Response {
	if err != nil {
		return Response{Type: RespError, Error: err.Error()}
	}
	if data == nil {
		return Response{Type: RespSuccess}
	}
	b, mErr := json.Marshal(data)
	if mErr != nil {
		return Response{Type: RespError, Error: mErr.Error()}
	}
	return Response{Type: RespData, Data: b}
}

func toExitPayload(e app.ExitStatus) *ExitPayload {
	return &ExitPayload{Kind: string(e.Kind), Code: e.Code, Signal: e.Signal}
}

func toEventPayload(e registry.Event) *EventPayload {
	p := &EventPayload{
		Kind:   string(e.Kind),
		App:    string(e.App),
		PID:    e.PID,
		State:  string(e.State),
		Reason: e.Reason,
		At:     e.At,
	}
	if e.Exit != nil {
		p.Exit = toExitPayload(*e.Exit)
	}
	return p
}

// ToStatusPayload converts a registry.Snapshot into its wire form.
func ToStatusPayload(s registry.Snapshot) StatusPayload {
	p := StatusPayload{
		Name:        string(s.ID),
		State:       string(s.State),
		PID:         s.PID,
		StartedAt:   s.StartedAt,
		Restarts:    s.Restarts,
		UserStopped: s.UserStopped,
		Config:      s.Config,
	}
	if s.State == app.StateBackoff {
		p.Backoff = &BackoffPayload{Attempt: s.Backoff.Attempt, NextRetryAt: s.Backoff.NextRetryAt}
	}
	if s.LastExit.Kind != "" {
		p.LastExit = toExitPayload(s.LastExit)
	}
	return p
}
