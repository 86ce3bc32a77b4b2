package metastore

import (
	"errors"
	"fmt"
)

// Sentinel errors, one per error kind. They match through errors.Is against
// any *Error of the same kind.
var (
	// ErrBackend is an opaque failure of the storage backend.
	ErrBackend = errors.New("storage backend error")

	// ErrIO is a local I/O failure such as an unreadable database file.
	ErrIO = errors.New("i/o error")

	// ErrUnsupportedEncoding is returned for a transaction encoding the store
	// cannot produce.
	ErrUnsupportedEncoding = errors.New("unsupported transaction encoding")

	// ErrBlockNotFound is returned when a slot has no metadata row.
	ErrBlockNotFound = errors.New("block not found")

	// ErrSignatureNotFound is returned when a signature has no row.
	ErrSignatureNotFound = errors.New("signature not found")

	// ErrTimeout is returned when a backend query exceeds its deadline.
	ErrTimeout = errors.New("storage backend timeout")

	// ErrTaskJoin is returned when the task running a store call failed to
	// complete.
	ErrTaskJoin = errors.New("task join failure")
)

// ErrorKind classifies an Error.
type ErrorKind uint8

const (
	KindBackend ErrorKind = iota
	KindIO
	KindUnsupportedEncoding
	KindBlockNotFound
	KindSignatureNotFound
	KindTimeout
	KindTaskJoin
)

var kindSentinels = map[ErrorKind]error{
	KindBackend:             ErrBackend,
	KindIO:                  ErrIO,
	KindUnsupportedEncoding: ErrUnsupportedEncoding,
	KindBlockNotFound:       ErrBlockNotFound,
	KindSignatureNotFound:   ErrSignatureNotFound,
	KindTimeout:             ErrTimeout,
	KindTaskJoin:            ErrTaskJoin,
}

// String returns the kind name.
func (k ErrorKind) String() string {
	switch k {
	case KindBackend:
		return "backend"
	case KindIO:
		return "io"
	case KindUnsupportedEncoding:
		return "unsupported_encoding"
	case KindBlockNotFound:
		return "block_not_found"
	case KindSignatureNotFound:
		return "signature_not_found"
	case KindTimeout:
		return "timeout"
	case KindTaskJoin:
		return "task_join"
	default:
		return "unknown"
	}
}

// Error is the typed error returned by every Store method.
type Error struct {
	Kind ErrorKind

	// Slot is set for KindBlockNotFound.
	Slot uint64

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Kind == KindBlockNotFound:
		return fmt.Sprintf("block not found: %d", e.Slot)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", kindSentinels[e.Kind], e.Err)
	default:
		return kindSentinels[e.Kind].Error()
	}
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel error of the same kind.
func (e *Error) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

// BlockNotFound returns a KindBlockNotFound error for slot.
func BlockNotFound(slot uint64) *Error {
	return &Error{Kind: KindBlockNotFound, Slot: slot}
}

// BackendError wraps a backend failure.
func BackendError(err error) *Error {
	return &Error{Kind: KindBackend, Err: err}
}

// IOError wraps a local I/O failure.
func IOError(err error) *Error {
	return &Error{Kind: KindIO, Err: err}
}

// TimeoutError wraps a deadline failure.
func TimeoutError(err error) *Error {
	return &Error{Kind: KindTimeout, Err: err}
}

// TaskJoinError wraps a failure of the task executing a store call.
func TaskJoinError(err error) *Error {
	return &Error{Kind: KindTaskJoin, Err: err}
}

// BlockNotFoundSlot reports the slot carried by a KindBlockNotFound error.
func BlockNotFoundSlot(err error) (uint64, bool) {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindBlockNotFound {
		return e.Slot, true
	}
	return 0, false
}
