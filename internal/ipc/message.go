package ipc

import (
	"encoding/json"
	"time"

	"github.com/bunctl/bunctl/internal/app"
)

// CommandType tags the envelope carried in a request frame.
type CommandType string

const (
	CmdStart       CommandType = "start"
	CmdStop        CommandType = "stop"
	CmdRestart     CommandType = "restart"
	CmdDelete      CommandType = "delete"
	CmdStatus      CommandType = "status"
	CmdList        CommandType = "list"
	CmdLogs        CommandType = "logs"
	CmdSubscribe   CommandType = "subscribe"
	CmdUnsubscribe CommandType = "unsubscribe"
)

// Command is one client request frame: Type selects which of the payload
// fields is meaningful, keeping a handler-per-command style
// collapsed into a single tagged struct for a framed protocol.
type Command struct {
	Type   CommandType  `json:"type"`
	Name   string       `json:"name,omitempty"`
	Config *app.Config  `json:"config,omitempty"`
	Lines  int          `json:"lines,omitempty"`
	Filter *EventFilter `json:"filter,omitempty"`
}

// EventFilter mirrors registry.Filter over the wire (registry.Filter itself
// is not JSON-tagged since it is an in-process type).
type EventFilter struct {
	AppName string   `json:"app_name,omitempty"`
	Kinds   []string `json:"kinds,omitempty"`
}

// ResponseType tags a response/event frame.
type ResponseType string

const (
	RespSuccess ResponseType = "success"
	RespError   ResponseType = "error"
	RespData    ResponseType = "data"
	RespEvent   ResponseType = "event"
)

// Response is one server reply frame. Exactly one of Error/Data/Event is
// populated, selected by Type.
type Response struct {
	Type  ResponseType    `json:"type"`
	Error string          `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Event *EventPayload   `json:"event,omitempty"`
}

// EventPayload is the wire form of a registry.Event.
type EventPayload struct {
	Kind   string       `json:"kind"`
	App    string       `json:"app"`
	PID    int          `json:"pid,omitempty"`
	State  string       `json:"state,omitempty"`
	Exit   *ExitPayload `json:"exit,omitempty"`
	Reason string       `json:"reason,omitempty"`
	At     time.Time    `json:"at"`
}

// ExitPayload is the wire form of app.ExitStatus.
type ExitPayload struct {
	Kind   string `json:"kind"`
	Code   int    `json:"code,omitempty"`
	Signal int    `json:"signal,omitempty"`
}

// StatusPayload is the Data payload for Status/List responses, the wire
// form of registry.Snapshot.
type StatusPayload struct {
	Name        string          `json:"name"`
	State       string          `json:"state"`
	PID         int             `json:"pid,omitempty"`
	StartedAt   time.Time       `json:"started_at,omitempty"`
	Restarts    int             `json:"restarts"`
	UserStopped bool            `json:"user_stopped"`
	Backoff     *BackoffPayload `json:"backoff,omitempty"`
	LastExit    *ExitPayload    `json:"last_exit,omitempty"`
	Config      app.Config      `json:"config"`
}

// BackoffPayload is the wire form of app.BackoffInfo.
type BackoffPayload struct {
	Attempt     int       `json:"attempt"`
	NextRetryAt time.Time `json:"next_retry_at"`
}

// LogsPayload is the Data payload for a Logs response: the tail of each
// stream in its own slice, stdout and stderr kept apart per SPEC_FULL.md's
// open-question decision (no cross-stream interleaving).
type LogsPayload struct {
	Stdout []string `json:"stdout"`
	Stderr []string `json:"stderr"`
}
