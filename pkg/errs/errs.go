// Package errs defines the error taxonomy shared by the storage and query
// layers. Every sentinel here is wrapped with context via fmt.Errorf's %w
// verb so callers can recover the class with errors.Is/errors.As while the
// query executor still gets a readable message.
package errs

import (
	"errors"
	"fmt"
)

// Sentinel classes for the storage and query error taxonomy.
var (
	ErrCorruptData   = errors.New("corrupt data")
	ErrIO            = errors.New("io error")
	ErrOutOfMemory   = errors.New("out of memory")
	ErrSpill         = errors.New("spill error")
	ErrParse         = errors.New("parse error")
	ErrPlan          = errors.New("plan error")
	ErrCancelled     = errors.New("cancelled")
	ErrTimeout       = errors.New("timeout")
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// CorruptData wraps a fatal storage corruption with the file/segment that
// triggered it. The engine marks the affected namespace read-only.
func CorruptData(where string, cause error) error {
	return fmt.Errorf("%w: %s: %v", ErrCorruptData, where, cause)
}

// IO wraps a transient read/write failure.
func IO(op string, cause error) error {
	return fmt.Errorf("%w: %s: %v", ErrIO, op, cause)
}

// OutOfMemory reports a budget overrun with no spill available.
func OutOfMemory(operator string, requested, budget int64) error {
	return fmt.Errorf("%w: operator %s requested %d bytes, budget %d", ErrOutOfMemory, operator, requested, budget)
}

// Spill wraps an I/O failure inside an external sort or hash join.
func Spill(op string, cause error) error {
	return fmt.Errorf("%w: %s: %v", ErrSpill, op, cause)
}

// ParseError carries a message and the byte offset where parsing failed.
type ParseError struct {
	Message  string
	Position int
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at %d: %s", e.Position, e.Message)
}

func (e *ParseError) Unwrap() error { return ErrParse }

// PlanError carries a message and the planning phase where it occurred.
type PlanError struct {
	Message string
	Phase   string
}

func (e *PlanError) Error() string {
	return fmt.Sprintf("plan error in %s: %s", e.Phase, e.Message)
}

func (e *PlanError) Unwrap() error { return ErrPlan }

// Cancelled reports cooperative termination at the named boundary.
func Cancelled(where string) error {
	return fmt.Errorf("%w: %s", ErrCancelled, where)
}

// Timeout reports expiry of a query's wall-time limit.
func Timeout(where string) error {
	return fmt.Errorf("%w: %s", ErrTimeout, where)
}

// NotFound reports a missing schema object (database, table, index).
func NotFound(kind, name string) error {
	return fmt.Errorf("%w: %s %q", ErrNotFound, kind, name)
}

// AlreadyExists reports a duplicate schema object.
func AlreadyExists(kind, name string) error {
	return fmt.Errorf("%w: %s %q", ErrAlreadyExists, kind, name)
}
