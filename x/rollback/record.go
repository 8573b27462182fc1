package rollback

import "time"

// State is the derived lifecycle state of a rollback record. It is computed
// from the record and a clock reading, never stored.
type State uint8

const (
	// StateUnknown means the identifier was never proposed.
	StateUnknown State = iota
	// StatePending means proposed and still inside the queueable window.
	StatePending
	// StateExpired means the queueable window elapsed before queueing.
	StateExpired
	// StateQueued means handed to the backend, delay not yet elapsed.
	StateQueued
	// StateActive means the backend delay elapsed and execution is possible.
	StateActive
	// StateExecuted means the batch was executed through the backend.
	StateExecuted
	// StateCanceled means the batch was canceled while queued or active.
	StateCanceled
)

func (s State) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StatePending:
		return "pending"
	case StateExpired:
		return "expired"
	case StateQueued:
		return "queued"
	case StateActive:
		return "active"
	case StateExecuted:
		return "executed"
	case StateCanceled:
		return "canceled"
	default:
		return "invalid"
	}
}

// Terminal reports whether no operation can advance a record in this state.
func (s State) Terminal() bool {
	return s == StateExpired || s == StateExecuted || s == StateCanceled
}

// Record is the stored bookkeeping for one identifier. Records are created by
// propose and only ever advance; they are never deleted, so an identifier that
// reached a terminal state can never be reused.
type Record struct {
	// QueueExpiresAt is set once at proposal time to now + queueable duration.
	// The zero value marks a record that was never proposed. It is retained
	// after queueing as provenance; ExecutableAt supersedes it in the state
	// derivation.
	QueueExpiresAt time.Time

	// ExecutableAt is zero until a successful queue, then now + backend delay.
	ExecutableAt time.Time

	// Executed is set by a successful execute. Terminal.
	Executed bool

	// Canceled is set by a successful cancel. Terminal.
	Canceled bool
}

// StateAt derives the lifecycle state at the given instant. All threshold
// comparisons are inclusive: a record is Expired or Active exactly at, not
// strictly after, its boundary timestamp.
func (r Record) StateAt(now time.Time) State {
	switch {
	case r.QueueExpiresAt.IsZero():
		return StateUnknown
	case r.Executed:
		return StateExecuted
	case r.Canceled:
		return StateCanceled
	case !r.ExecutableAt.IsZero():
		if !now.Before(r.ExecutableAt) {
			return StateActive
		}
		return StateQueued
	case !now.Before(r.QueueExpiresAt):
		return StateExpired
	default:
		return StatePending
	}
}
