package kv

import "fmt"

// UnavailableError wraps any transport failure against the shared
// store: network errors, timeouts, or protocol errors. Callers treat
// all of them the same way and engage their fallback path.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("store unavailable during %s: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

func unavailable(op string, err error) error {
	return &UnavailableError{Op: op, Err: err}
}
