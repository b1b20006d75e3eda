// Package enginerr defines the error taxonomy shared across the storage
// engine: disk, WAL, index and transaction packages all wrap their
// failures into a *Error carrying one of the Kind values below, so callers
// can classify a failure with errors.Is regardless of which component
// raised it.
package enginerr

import (
	"errors"
	"fmt"
)

// Kind classifies an engine failure. The zero value is never used.
type Kind int

const (
	_ Kind = iota
	// NotFound means a key, page index or WAL record was absent where the
	// caller expected one to be present.
	NotFound
	// IO means a disk or filesystem operation failed.
	IO
	// InvalidFormat means a type-tag mismatch, unexpected record tag, or a
	// decode that ran past the end of a page/block.
	InvalidFormat
	// EOF means a codec cursor was exhausted.
	EOF
	// MemoryPoolEmpty means the page pool could not satisfy an acquire.
	MemoryPoolEmpty
	// WorkerClosed means a request was submitted to a worker pool that has
	// already been shut down.
	WorkerClosed
	// ThreadConflict means two operations raced on a resource that must be
	// single-writer and the race was detected rather than silently lost.
	ThreadConflict
	// TransactionClosed means get/insert/commit/abort was called on a
	// transaction handle that already committed or aborted.
	TransactionClosed
	// WALCapacityExceeded means the current WAL segment is full and
	// rotation itself failed.
	WALCapacityExceeded
	// Panic means a worker goroutine panicked; the recovered value is
	// attached as the wrapped error.
	Panic
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not found"
	case IO:
		return "io"
	case InvalidFormat:
		return "invalid format"
	case EOF:
		return "eof"
	case MemoryPoolEmpty:
		return "memory pool empty"
	case WorkerClosed:
		return "worker closed"
	case ThreadConflict:
		return "thread conflict"
	case TransactionClosed:
		return "transaction closed"
	case WALCapacityExceeded:
		return "wal capacity exceeded"
	case Panic:
		return "panic"
	default:
		return "unknown"
	}
}

// Error is the concrete error type every engine package returns. Op names
// the failing operation ("pager: read_page", "wal: append"); Err is the
// wrapped cause, nil for taxonomy-only errors.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, enginerr.NotFound) work by comparing Kind values
// through a sentinel wrapper, since Kind itself is not an error.
func (e *Error) Is(target error) bool {
	var k kindSentinel
	if errors.As(target, &k) {
		return e.Kind == k.kind
	}
	return false
}

type kindSentinel struct{ kind Kind }

func (k kindSentinel) Error() string { return k.kind.String() }

// Sentinel returns an error value usable with errors.Is to test a Kind,
// e.g. errors.Is(err, enginerr.Sentinel(enginerr.NotFound)).
func Sentinel(k Kind) error { return kindSentinel{kind: k} }

// New builds an *Error with no wrapped cause.
func New(op string, kind Kind) *Error {
	return &Error{Kind: kind, Op: op}
}

// Wrap builds an *Error around an existing cause. If err is nil, Wrap
// returns nil so call sites can write `return enginerr.Wrap(...)` after an
// `if err != nil` unconditionally inside helpers that may be called with a
// nil error during cleanup paths.
func Wrap(op string, kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err ultimately carries the given Kind.
func Is(err error, kind Kind) bool {
	return errors.Is(err, Sentinel(kind))
}
