package remote

import (
	"errors"
	"fmt"
)

// ValidationError is a server-side rejection of a write (bad input, unknown
// table, auth failure). The write is surfaced to the caller and never queued.
type ValidationError struct {
	Table  string
	Status int
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("remote rejected write to %s (status %d): %s", e.Table, e.Status, e.Reason)
}

// ConflictError is a server-side constraint violation, e.g. a duplicate
// household code. Surfaced, never retried.
type ConflictError struct {
	Table  string
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("remote conflict on %s: %s", e.Table, e.Reason)
}

// ConnectivityError means the request never produced a definitive server
// answer: transport failure, timeout, or a 5xx. The operation may be queued
// locally and retried on the next flush.
type ConnectivityError struct {
	Op  string
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("remote unreachable during %s: %v", e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// IsConnectivity reports whether err is a connectivity failure, i.e. the
// class of failure that gets queued rather than surfaced.
func IsConnectivity(err error) bool {
	var ce *ConnectivityError
	return errors.As(err, &ce)
}
