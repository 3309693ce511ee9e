package alerts

import "errors"

// ErrNotFound indicates a missing alert record.
var ErrNotFound = errors.New("alert: not found")

// ErrUnauthorized indicates the requesting user does not own the alert.
var ErrUnauthorized = errors.New("alert: unauthorized")

// ErrUnknownMethod indicates an escalation step with no registered
// delivery channel; a configuration error, treated as a no-op step.
var ErrUnknownMethod = errors.New("alert: unknown delivery method")
