// v1
// internal/control/errors.go
package control

import "errors"

// ErrUnknownZone is returned when an ingest references a zone that is not in
// the configured table.
var ErrUnknownZone = errors.New("unknown zoneId")

// ErrInvalidRequest is returned for malformed manual control requests.
var ErrInvalidRequest = errors.New("invalid control request")

// ErrUnauthorized is returned when a manual control call carries no
// authenticated principal.
var ErrUnauthorized = errors.New("missing or invalid principal")

// ErrStorage wraps persistence failures surfaced through ingest or apply.
// Callers must not assume state was persisted when they see it.
var ErrStorage = errors.New("zone state storage failure")

// ErrClosed is returned when work is submitted after shutdown began.
var ErrClosed = errors.New("controller is shut down")
