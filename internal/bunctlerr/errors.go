// Package bunctlerr defines the typed error taxonomy shared by every bunctl
// subsystem. Callers use errors.Is against the Err* sentinels (or
// errors.As/KindOf to read the Kind) instead of matching on error strings.
package bunctlerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error into one of a small set of stable taxonomy buckets.
type Kind string

const (
	KindInvalidAppName Kind = "invalid_app_name"
	KindNotFound       Kind = "process_not_found"
	KindSpawnFailed    Kind = "spawn_failed"
	KindConfig         Kind = "config"
	KindTimeout        Kind = "timeout"
	KindIO             Kind = "io"
	KindOther          Kind = "other"
)

// Error is the concrete error type carrying a Kind alongside the wrapped cause.
type Error struct {
	Kind    Kind
	App     string // AppId this error pertains to, if any
	Message string
	Cause   error
}

func (e *Error) Error() string {
	switch {
	case e.App != "" && e.Cause != nil:
		return fmt.Sprintf("%s[%s]: %s: %v", e.Kind, e.App, e.Message, e.Cause)
	case e.App != "":
		return fmt.Sprintf("%s[%s]: %s", e.Kind, e.App, e.Message)
	case e.Cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, bunctlerr.ErrNotFound) style matching: any
// *Error target matches when its Kind equals e's Kind.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

func newErr(kind Kind, app, msg string, cause error) *Error {
	return &Error{Kind: kind, App: app, Message: msg, Cause: cause}
}

func InvalidAppName(name string) error {
	return newErr(KindInvalidAppName, name, "invalid app name", nil)
}

func NotFound(app string) error {
	return newErr(KindNotFound, app, "process not found", nil)
}

func SpawnFailed(app string, cause error) error {
	return newErr(KindSpawnFailed, app, "spawn failed", cause)
}

func Config(app, msg string, cause error) error {
	return newErr(KindConfig, app, msg, cause)
}

func Timeout(app, msg string) error {
	return newErr(KindTimeout, app, msg, nil)
}

func IO(app, msg string, cause error) error {
	return newErr(KindIO, app, msg, cause)
}

func Other(app, msg string, cause error) error {
	return newErr(KindOther, app, msg, cause)
}

// KindOf extracts the Kind of err, defaulting to KindOther when err is not
// (or does not wrap) a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindOther
}

// sentinel instances usable directly with errors.Is(err, bunctlerr.ErrNotFound).
var (
	ErrNotFound       = &Error{Kind: KindNotFound}
	ErrInvalidAppName = &Error{Kind: KindInvalidAppName}
	ErrSpawnFailed    = &Error{Kind: KindSpawnFailed}
	ErrTimeout        = &Error{Kind: KindTimeout}
)
