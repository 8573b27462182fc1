package backend

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/compose-network/rollback-manager/x/rollback"
)

// Timelock is a delayed-execution backend that schedules an entire batch
// atomically under one operation id. The id is the timelock's own hash of
// (targets, values, payloads, predecessor, salt); every caller addressing an
// operation must derive it through HashOperationBatch.
type Timelock interface {
	MinDelay(ctx context.Context) (time.Duration, error)
	HashOperationBatch(targets []common.Address, values []*big.Int, payloads [][]byte, predecessor, salt common.Hash) (common.Hash, error)
	ScheduleBatch(ctx context.Context, targets []common.Address, values []*big.Int, payloads [][]byte, predecessor, salt common.Hash, delay time.Duration) error
	CancelOperation(ctx context.Context, id common.Hash) error
	ExecuteBatch(ctx context.Context, targets []common.Address, values []*big.Int, payloads [][]byte, predecessor, salt common.Hash) ([]byte, error)
}

// Atomic adapts a Timelock to the manager's backend contract. Batches are
// scheduled with no predecessor and a salt bound to the controller address,
// and identifiers are delegated to the timelock's own batch hash so the
// manager's records stay keyed exactly like the timelock's bookkeeping.
type Atomic struct {
	timelock   Timelock
	controller common.Address
}

var _ rollback.Backend = (*Atomic)(nil)

// NewAtomic wraps a Timelock as a rollback backend. The controller address
// feeds the operation salt and must match the identity the timelock grants
// scheduling rights to.
func NewAtomic(timelock Timelock, controller common.Address) (*Atomic, error) {
	if timelock == nil {
		return nil, fmt.Errorf("backend: timelock is required")
	}
	if controller == (common.Address{}) {
		return nil, fmt.Errorf("backend: controller address must not be zero")
	}
	return &Atomic{timelock: timelock, controller: controller}, nil
}

func (a *Atomic) Delay(ctx context.Context) (time.Duration, error) {
	return a.timelock.MinDelay(ctx)
}

func (a *Atomic) Identifier(batch rollback.Batch) (common.Hash, error) {
	salt := OperationSalt(a.controller, batch.Description)
	return a.timelock.HashOperationBatch(batch.Targets, batch.Values, batch.Payloads, common.Hash{}, salt)
}

func (a *Atomic) QueueBatch(ctx context.Context, batch rollback.Batch, executableAt time.Time) error {
	delay, err := a.timelock.MinDelay(ctx)
	if err != nil {
		return fmt.Errorf("timelock delay: %w", err)
	}
	salt := OperationSalt(a.controller, batch.Description)
	return a.timelock.ScheduleBatch(ctx, batch.Targets, batch.Values, batch.Payloads, common.Hash{}, salt, delay)
}

func (a *Atomic) CancelBatch(ctx context.Context, batch rollback.Batch, _ time.Time) error {
	id, err := a.Identifier(batch)
	if err != nil {
		return fmt.Errorf("derive operation id: %w", err)
	}
	return a.timelock.CancelOperation(ctx, id)
}

func (a *Atomic) ExecuteBatch(ctx context.Context, batch rollback.Batch, _ time.Time) ([]byte, error) {
	salt := OperationSalt(a.controller, batch.Description)
	return a.timelock.ExecuteBatch(ctx, batch.Targets, batch.Values, batch.Payloads, common.Hash{}, salt)
}
