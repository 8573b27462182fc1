package rollback

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// ErrorKind classifies rollback manager failures so callers can branch on the
// cause instead of matching error strings.
type ErrorKind int

const (
	// KindUnauthorized: caller is not the role the operation requires.
	KindUnauthorized ErrorKind = iota
	// KindInvalidAddress: zero address supplied for a role.
	KindInvalidAddress
	// KindInvalidQueueableDuration: duration below the configured floor.
	KindInvalidQueueableDuration
	// KindMismatchedParameters: batch slices differ in length.
	KindMismatchedParameters
	// KindAlreadyExists: propose on an identifier that is not Unknown.
	KindAlreadyExists
	// KindNonExistentRollback: queue on an identifier never proposed.
	KindNonExistentRollback
	// KindNotQueueable: queue on a record that is neither Pending nor Expired.
	KindNotQueueable
	// KindExpired: queue after the queueable window passed.
	KindExpired
	// KindNotQueued: cancel/execute on a record that is not Queued/Active.
	KindNotQueued
	// KindExecutionTooEarly: execute while the backend delay has not elapsed.
	KindExecutionTooEarly
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindInvalidAddress:
		return "invalid_address"
	case KindInvalidQueueableDuration:
		return "invalid_queueable_duration"
	case KindMismatchedParameters:
		return "mismatched_parameters"
	case KindAlreadyExists:
		return "already_exists"
	case KindNonExistentRollback:
		return "non_existent_rollback"
	case KindNotQueueable:
		return "not_queueable"
	case KindExpired:
		return "expired"
	case KindNotQueued:
		return "not_queued"
	case KindExecutionTooEarly:
		return "execution_too_early"
	default:
		return "unknown"
	}
}

// Error is the typed failure returned by every manager operation. ID is set
// when the failure concerns a specific rollback identifier.
type Error struct {
	Kind    ErrorKind
	ID      common.Hash
	Message string
}

func (e *Error) Error() string {
	switch {
	case e.ID != (common.Hash{}) && e.Message != "":
		return fmt.Sprintf("rollback %s: %s: %s", e.Kind, e.ID.Hex(), e.Message)
	case e.ID != (common.Hash{}):
		return fmt.Sprintf("rollback %s: %s", e.Kind, e.ID.Hex())
	case e.Message != "":
		return fmt.Sprintf("rollback %s: %s", e.Kind, e.Message)
	default:
		return fmt.Sprintf("rollback %s", e.Kind)
	}
}

// Is matches by kind, and by identifier when the target carries one. This lets
// callers write errors.Is(err, &Error{Kind: KindExpired}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.ID == (common.Hash{}) || t.ID == e.ID
}

// NewError creates a typed error without an identifier.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// NewIDError creates a typed error tied to a rollback identifier.
func NewIDError(kind ErrorKind, id common.Hash) *Error {
	return &Error{Kind: kind, ID: id}
}

// KindOf extracts the ErrorKind from err. The second return is false when err
// is not a rollback error (for example a propagated backend failure).
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
