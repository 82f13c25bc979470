package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("match already finalized with a different result")

	errInvalidRecord = errors.New("tournament and player1 are required")
	errInvalidResult = errors.New("result must be final")
)

// Error wraps a storage failure with its retry classification.
type Error struct {
	Op        string
	Err       error
	Retryable bool
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient marks err as safe to retry.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err, Retryable: true}
}

// Permanent marks err as not worth retrying.
func Permanent(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// IsTransient reports whether err is a retryable storage failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// classify wraps errors common to every backend: network faults, bad
// connections and per-call deadlines are retryable; the rest are not.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
		return err
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	var ne net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, context.DeadlineExceeded) || errors.As(err, &ne) {
		return Transient(op, err)
	}
	return Permanent(op, err)
}
