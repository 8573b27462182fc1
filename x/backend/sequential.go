package backend

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/compose-network/rollback-manager/x/rollback"
)

// Executor is a delayed-execution backend that queues each transaction
// independently under an explicit activation time (eta). Queued transactions
// are addressed by (target, value, signature, data, eta); the signature is a
// function selector string, always empty here because payloads carry full
// calldata.
type Executor interface {
	Delay(ctx context.Context) (time.Duration, error)
	QueueTransaction(ctx context.Context, target common.Address, value *big.Int, signature string, data []byte, eta time.Time) error
	CancelTransaction(ctx context.Context, target common.Address, value *big.Int, signature string, data []byte, eta time.Time) error
	ExecuteTransaction(ctx context.Context, target common.Address, value *big.Int, signature string, data []byte, eta time.Time) ([]byte, error)
}

// Sequential adapts an Executor to the manager's backend contract by issuing
// one call per action. Identifiers are self-computed content hashes because
// the executor has no batch-level addressing of its own.
type Sequential struct {
	exec Executor
}

var _ rollback.Backend = (*Sequential)(nil)

// NewSequential wraps an Executor as a rollback backend.
func NewSequential(exec Executor) (*Sequential, error) {
	if exec == nil {
		return nil, fmt.Errorf("backend: executor is required")
	}
	return &Sequential{exec: exec}, nil
}

func (s *Sequential) Delay(ctx context.Context) (time.Duration, error) {
	return s.exec.Delay(ctx)
}

func (s *Sequential) Identifier(batch rollback.Batch) (common.Hash, error) {
	return ContentIdentifier(batch)
}

func (s *Sequential) QueueBatch(ctx context.Context, batch rollback.Batch, executableAt time.Time) error {
	for i := range batch.Targets {
		if err := s.exec.QueueTransaction(ctx, batch.Targets[i], batch.Values[i], "", batch.Payloads[i], executableAt); err != nil {
			return fmt.Errorf("queue action %d: %w", i, err)
		}
	}
	return nil
}

func (s *Sequential) CancelBatch(ctx context.Context, batch rollback.Batch, executableAt time.Time) error {
	for i := range batch.Targets {
		if err := s.exec.CancelTransaction(ctx, batch.Targets[i], batch.Values[i], "", batch.Payloads[i], executableAt); err != nil {
			return fmt.Errorf("cancel action %d: %w", i, err)
		}
	}
	return nil
}

func (s *Sequential) ExecuteBatch(ctx context.Context, batch rollback.Batch, executableAt time.Time) ([]byte, error) {
	var out []byte
	for i := range batch.Targets {
		data, err := s.exec.ExecuteTransaction(ctx, batch.Targets[i], batch.Values[i], "", batch.Payloads[i], executableAt)
		if err != nil {
			return nil, fmt.Errorf("execute action %d: %w", i, err)
		}
		out = append(out, data...)
	}
	return out, nil
}
