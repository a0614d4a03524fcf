// Package errkind names the error taxonomy as sentinel errors, so every
// component surfaces failures the same way instead of inventing its own
// ad-hoc error types.
package errkind

import "errors"

// Sentinel errors grouped by the failure kind they represent.
var (
	ErrNotFound           = errors.New("not_found")
	ErrMalformed          = errors.New("malformed")
	ErrClaimConflict      = errors.New("claim_conflict")
	ErrVersionConflict    = errors.New("version_conflict")
	ErrBlockedDependency  = errors.New("blocked_dependency")
	ErrDrainingWorker     = errors.New("draining_worker")
	ErrReadyTimeout       = errors.New("ready_timeout")
	ErrShutdownGateBlocked = errors.New("shutdown_gate_blocked")
	ErrShutdownRejected   = errors.New("shutdown_rejected")
	ErrResourceDenied     = errors.New("resource_denied")
	ErrLockStaleRecovered = errors.New("lock_stale_recovered")
	ErrTransportUnavailable = errors.New("transport_unavailable")
	ErrIO                 = errors.New("io_error")
	ErrWrongStatus        = errors.New("wrong_status")
)
