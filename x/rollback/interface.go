package rollback

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Backend is the delayed-execution channel queued batches are forwarded to.
// The manager never assumes how a backend addresses operations: each strategy
// supplies its own identifier discipline through Identifier, so the manager's
// bookkeeping and the backend's stay keyed the same way.
//
// The executableAt argument on CancelBatch and ExecuteBatch is the activation
// time recorded at queue time; backends that address operations per action
// need it to reconstruct the queued call keys, batch-keyed backends ignore it.
type Backend interface {
	// Delay returns the backend's current enforced delay between queue and
	// execution.
	Delay(ctx context.Context) (time.Duration, error)

	// Identifier derives the content identifier for a batch under this
	// backend's hashing discipline.
	Identifier(batch Batch) (common.Hash, error)

	// QueueBatch forwards the batch to the backend with the activation time
	// the manager computed.
	QueueBatch(ctx context.Context, batch Batch, executableAt time.Time) error

	// CancelBatch removes the batch from the backend's queue.
	CancelBatch(ctx context.Context, batch Batch, executableAt time.Time) error

	// ExecuteBatch executes the batch through the backend and returns any
	// return data.
	ExecuteBatch(ctx context.Context, batch Batch, executableAt time.Time) ([]byte, error)
}

// Manager drives rollback batches through their lifecycle. Propose is
// admin-gated; Queue, Cancel and Execute are guardian-gated. Every operation
// identifies the caller explicitly: the transport layer is responsible for
// authenticating the address it passes in.
type Manager interface {
	// Propose registers a new batch and opens its queueable window.
	Propose(ctx context.Context, caller common.Address, batch Batch) (common.Hash, error)

	// Queue forwards a pending batch to the backend before its window expires.
	Queue(ctx context.Context, caller common.Address, batch Batch) (common.Hash, error)

	// Cancel removes a queued or active batch from the backend.
	Cancel(ctx context.Context, caller common.Address, batch Batch) (common.Hash, error)

	// Execute runs an active batch through the backend.
	Execute(ctx context.Context, caller common.Address, batch Batch) (common.Hash, []byte, error)

	// Identifier derives the identifier for a batch without touching state.
	Identifier(batch Batch) (common.Hash, error)

	// StateOf derives the current state for an identifier.
	StateOf(ctx context.Context, id common.Hash) (State, error)

	// RecordOf returns the stored record and its derived state.
	RecordOf(ctx context.Context, id common.Hash) (Record, State, error)

	// Identifiers lists every identifier the manager has seen.
	Identifiers(ctx context.Context) ([]common.Hash, error)

	// SetAdmin replaces the admin role. Admin-gated.
	SetAdmin(ctx context.Context, caller, newAdmin common.Address) error

	// SetGuardian replaces the guardian role. Admin-gated.
	SetGuardian(ctx context.Context, caller, newGuardian common.Address) error

	// SetQueueableDuration changes the queueable window for future proposals.
	// Admin-gated; the new value must not undercut the immutable floor.
	SetQueueableDuration(ctx context.Context, caller common.Address, d time.Duration) error

	Admin() common.Address
	Guardian() common.Address
	QueueableDuration() time.Duration
	MinQueueableDuration() time.Duration
}
