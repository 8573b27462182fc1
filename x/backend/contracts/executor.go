package contracts

import (
	_ "embed"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Executor ABI JSON embedded at compile time
//
//go:embed abi/executor.json
var executorABIJSON string

// ExecutorBinding builds calldata for a per-transaction delayed executor
// contract: each queued transaction carries its own explicit activation time.
type ExecutorBinding struct {
	address common.Address
	abi     abi.ABI
}

// NewExecutorBinding creates an ExecutorBinding for the contract at addr.
func NewExecutorBinding(addr string) (*ExecutorBinding, error) {
	if !common.IsHexAddress(addr) {
		return nil, fmt.Errorf("invalid executor address: %q", addr)
	}

	parsedABI, err := abi.JSON(strings.NewReader(executorABIJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse executor ABI: %w", err)
	}

	return &ExecutorBinding{
		address: common.HexToAddress(addr),
		abi:     parsedABI,
	}, nil
}

// Address returns the executor contract address.
func (b *ExecutorBinding) Address() common.Address {
	return b.address
}

// ABI returns the parsed executor ABI.
func (b *ExecutorBinding) ABI() abi.ABI {
	return b.abi
}

// BuildDelayCalldata encodes the delay() view call.
func (b *ExecutorBinding) BuildDelayCalldata() ([]byte, error) {
	data, err := b.abi.Pack("delay")
	if err != nil {
		return nil, fmt.Errorf("failed to pack delay calldata: %w", err)
	}
	return data, nil
}

// UnpackDelay decodes the delay() return data into a duration in seconds.
func (b *ExecutorBinding) UnpackDelay(ret []byte) (time.Duration, error) {
	out, err := b.abi.Unpack("delay", ret)
	if err != nil {
		return 0, fmt.Errorf("failed to unpack delay return: %w", err)
	}
	seconds, ok := out[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("unexpected delay return type %T", out[0])
	}
	return time.Duration(seconds.Int64()) * time.Second, nil
}

// BuildQueueTransactionCalldata encodes queueTransaction for one action.
func (b *ExecutorBinding) BuildQueueTransactionCalldata(target common.Address, value *big.Int, signature string, data []byte, eta time.Time) ([]byte, error) {
	return b.packTransaction("queueTransaction", target, value, signature, data, eta)
}

// BuildCancelTransactionCalldata encodes cancelTransaction for one action.
func (b *ExecutorBinding) BuildCancelTransactionCalldata(target common.Address, value *big.Int, signature string, data []byte, eta time.Time) ([]byte, error) {
	return b.packTransaction("cancelTransaction", target, value, signature, data, eta)
}

// BuildExecuteTransactionCalldata encodes executeTransaction for one action.
func (b *ExecutorBinding) BuildExecuteTransactionCalldata(target common.Address, value *big.Int, signature string, data []byte, eta time.Time) ([]byte, error) {
	return b.packTransaction("executeTransaction", target, value, signature, data, eta)
}

func (b *ExecutorBinding) packTransaction(method string, target common.Address, value *big.Int, signature string, data []byte, eta time.Time) ([]byte, error) {
	if value == nil {
		value = new(big.Int)
	}
	calldata, err := b.abi.Pack(method, target, value, signature, data, big.NewInt(eta.Unix()))
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s calldata: %w", method, err)
	}
	return calldata, nil
}
