package backend

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/compose-network/rollback-manager/x/backend/contracts"
)

// CallSender abstracts the chain connection the contract-backed strategies
// use. Call performs a read-only call; Send submits a state-changing
// transaction and returns its return data once included.
type CallSender interface {
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)
	Send(ctx context.Context, to common.Address, value *big.Int, data []byte) ([]byte, error)
}

// EthExecutor implements Executor against an on-chain per-transaction
// executor contract.
type EthExecutor struct {
	sender  CallSender
	binding *contracts.ExecutorBinding
}

var _ Executor = (*EthExecutor)(nil)

// NewEthExecutor creates an Executor backed by the contract behind binding.
func NewEthExecutor(sender CallSender, binding *contracts.ExecutorBinding) (*EthExecutor, error) {
	if sender == nil {
		return nil, fmt.Errorf("backend: call sender is required")
	}
	if binding == nil {
		return nil, fmt.Errorf("backend: executor binding is required")
	}
	return &EthExecutor{sender: sender, binding: binding}, nil
}

func (e *EthExecutor) Delay(ctx context.Context) (time.Duration, error) {
	data, err := e.binding.BuildDelayCalldata()
	if err != nil {
		return 0, err
	}
	ret, err := e.sender.Call(ctx, e.binding.Address(), data)
	if err != nil {
		return 0, fmt.Errorf("call delay: %w", err)
	}
	return e.binding.UnpackDelay(ret)
}

func (e *EthExecutor) QueueTransaction(ctx context.Context, target common.Address, value *big.Int, signature string, data []byte, eta time.Time) error {
	calldata, err := e.binding.BuildQueueTransactionCalldata(target, value, signature, data, eta)
	if err != nil {
		return err
	}
	if _, err := e.sender.Send(ctx, e.binding.Address(), nil, calldata); err != nil {
		return fmt.Errorf("send queueTransaction: %w", err)
	}
	return nil
}

func (e *EthExecutor) CancelTransaction(ctx context.Context, target common.Address, value *big.Int, signature string, data []byte, eta time.Time) error {
	calldata, err := e.binding.BuildCancelTransactionCalldata(target, value, signature, data, eta)
	if err != nil {
		return err
	}
	if _, err := e.sender.Send(ctx, e.binding.Address(), nil, calldata); err != nil {
		return fmt.Errorf("send cancelTransaction: %w", err)
	}
	return nil
}

func (e *EthExecutor) ExecuteTransaction(ctx context.Context, target common.Address, value *big.Int, signature string, data []byte, eta time.Time) ([]byte, error) {
	calldata, err := e.binding.BuildExecuteTransactionCalldata(target, value, signature, data, eta)
	if err != nil {
		return nil, err
	}
	// The forwarded value rides on the executor call so it can be passed
	// through to the target.
	ret, err := e.sender.Send(ctx, e.binding.Address(), value, calldata)
	if err != nil {
		return nil, fmt.Errorf("send executeTransaction: %w", err)
	}
	return ret, nil
}

// EthTimelock implements Timelock against an on-chain batch timelock
// contract.
type EthTimelock struct {
	sender  CallSender
	binding *contracts.TimelockBinding
}

var _ Timelock = (*EthTimelock)(nil)

// NewEthTimelock creates a Timelock backed by the contract behind binding.
func NewEthTimelock(sender CallSender, binding *contracts.TimelockBinding) (*EthTimelock, error) {
	if sender == nil {
		return nil, fmt.Errorf("backend: call sender is required")
	}
	if binding == nil {
		return nil, fmt.Errorf("backend: timelock binding is required")
	}
	return &EthTimelock{sender: sender, binding: binding}, nil
}

func (t *EthTimelock) MinDelay(ctx context.Context) (time.Duration, error) {
	data, err := t.binding.BuildGetMinDelayCalldata()
	if err != nil {
		return 0, err
	}
	ret, err := t.sender.Call(ctx, t.binding.Address(), data)
	if err != nil {
		return 0, fmt.Errorf("call getMinDelay: %w", err)
	}
	return t.binding.UnpackGetMinDelay(ret)
}

func (t *EthTimelock) HashOperationBatch(targets []common.Address, values []*big.Int, payloads [][]byte, predecessor, salt common.Hash) (common.Hash, error) {
	return t.binding.HashOperationBatch(targets, values, payloads, predecessor, salt)
}

func (t *EthTimelock) ScheduleBatch(ctx context.Context, targets []common.Address, values []*big.Int, payloads [][]byte, predecessor, salt common.Hash, delay time.Duration) error {
	calldata, err := t.binding.BuildScheduleBatchCalldata(targets, values, payloads, predecessor, salt, delay)
	if err != nil {
		return err
	}
	if _, err := t.sender.Send(ctx, t.binding.Address(), nil, calldata); err != nil {
		return fmt.Errorf("send scheduleBatch: %w", err)
	}
	return nil
}

func (t *EthTimelock) CancelOperation(ctx context.Context, id common.Hash) error {
	calldata, err := t.binding.BuildCancelCalldata(id)
	if err != nil {
		return err
	}
	if _, err := t.sender.Send(ctx, t.binding.Address(), nil, calldata); err != nil {
		return fmt.Errorf("send cancel: %w", err)
	}
	return nil
}

func (t *EthTimelock) ExecuteBatch(ctx context.Context, targets []common.Address, values []*big.Int, payloads [][]byte, predecessor, salt common.Hash) ([]byte, error) {
	calldata, err := t.binding.BuildExecuteBatchCalldata(targets, values, payloads, predecessor, salt)
	if err != nil {
		return nil, err
	}

	value := new(big.Int)
	for _, v := range values {
		if v != nil {
			value.Add(value, v)
		}
	}

	ret, err := t.sender.Send(ctx, t.binding.Address(), value, calldata)
	if err != nil {
		return nil, fmt.Errorf("send executeBatch: %w", err)
	}
	return ret, nil
}
