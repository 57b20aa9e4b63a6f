// Package errs collects the sentinel errors shared across the core so
// callers can distinguish specific expected outcomes from genuine
// infrastructure failure via errors.Is, instead of matching on error
// strings. CAS contention (BeginTask, AssignTask) isn't one of these -
// those report it as a plain bool, since a failed CAS carries no
// information beyond "someone else won the race".
package errs

import "errors"

var (
	// ErrTaskNotRunning means FinishTask was called for a task that isn't
	// currently running.
	ErrTaskNotRunning = errors.New("fcs: task is not running")

	// ErrTaskNotFound means a lookup by id found no matching row.
	ErrTaskNotFound = errors.New("fcs: task not found")

	// ErrMalformedDef means a task's def couldn't be parsed by the
	// business-logic collaborator - it bubbles up to be recorded as
	// failed, it's not infrastructural.
	ErrMalformedDef = errors.New("fcs: malformed task definition")

	// ErrStreamLost means a notification subscription was dropped. Fatal
	// to whichever driver depended on it; the caller should restart that
	// driver and re-bootstrap from the database.
	ErrStreamLost = errors.New("fcs: notification stream lost")
)
