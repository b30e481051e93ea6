package errors

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindInitialization Kind = "INITIALIZATION"
	KindLockConflict   Kind = "LOCK_CONFLICT"
	KindCheckpoint     Kind = "CHECKPOINT"
	KindTransaction    Kind = "TRANSACTION"
	KindRollback       Kind = "ROLLBACK"
	KindCleanup        Kind = "CLEANUP"
)

type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Holder  string `json:"holder,omitempty"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Initialization(message string, err error) *Error {
	return &Error{
		Kind:    KindInitialization,
		Message: message,
		Err:     err,
	}
}

// LockConflict reports that a lease on path is already held. Holder carries
// the lock id of the current owner so callers can surface who is blocking them.
func LockConflict(path, holder string) *Error {
	return &Error{
		Kind:    KindLockConflict,
		Message: fmt.Sprintf("file %s is locked by %s", path, holder),
		Holder:  holder,
	}
}

func Checkpoint(message string, err error) *Error {
	return &Error{
		Kind:    KindCheckpoint,
		Message: message,
		Err:     err,
	}
}

func Transaction(message string, err error) *Error {
	return &Error{
		Kind:    KindTransaction,
		Message: message,
		Err:     err,
	}
}

func Rollback(message string, err error) *Error {
	return &Error{
		Kind:    KindRollback,
		Message: message,
		Err:     err,
	}
}

func Cleanup(message string, err error) *Error {
	return &Error{
		Kind:    KindCleanup,
		Message: message,
		Err:     err,
	}
}

// IsKind reports whether err (or anything it wraps) is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
