package dialogue

import "errors"

// ErrSessionNotFound is returned when an operation names a session id the
// manager does not own. It is surfaced to the caller and never retried.
var ErrSessionNotFound = errors.New("session not found")
