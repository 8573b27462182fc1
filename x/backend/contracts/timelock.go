package contracts

import (
	_ "embed"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Timelock ABI JSON embedded at compile time
//
//go:embed abi/timelock.json
var timelockABIJSON string

// TimelockBinding builds calldata for a batch timelock contract that
// schedules a whole batch under one salted operation id.
type TimelockBinding struct {
	address common.Address
	abi     abi.ABI
}

// NewTimelockBinding creates a TimelockBinding for the contract at addr.
func NewTimelockBinding(addr string) (*TimelockBinding, error) {
	if !common.IsHexAddress(addr) {
		return nil, fmt.Errorf("invalid timelock address: %q", addr)
	}

	parsedABI, err := abi.JSON(strings.NewReader(timelockABIJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse timelock ABI: %w", err)
	}

	return &TimelockBinding{
		address: common.HexToAddress(addr),
		abi:     parsedABI,
	}, nil
}

// Address returns the timelock contract address.
func (b *TimelockBinding) Address() common.Address {
	return b.address
}

// ABI returns the parsed timelock ABI.
func (b *TimelockBinding) ABI() abi.ABI {
	return b.abi
}

// BuildGetMinDelayCalldata encodes the getMinDelay() view call.
func (b *TimelockBinding) BuildGetMinDelayCalldata() ([]byte, error) {
	data, err := b.abi.Pack("getMinDelay")
	if err != nil {
		return nil, fmt.Errorf("failed to pack getMinDelay calldata: %w", err)
	}
	return data, nil
}

// UnpackGetMinDelay decodes the getMinDelay() return data.
func (b *TimelockBinding) UnpackGetMinDelay(ret []byte) (time.Duration, error) {
	out, err := b.abi.Unpack("getMinDelay", ret)
	if err != nil {
		return 0, fmt.Errorf("failed to unpack getMinDelay return: %w", err)
	}
	seconds, ok := out[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("unexpected getMinDelay return type %T", out[0])
	}
	return time.Duration(seconds.Int64()) * time.Second, nil
}

// HashOperationBatch computes the operation id exactly the way the contract
// does: keccak256 of the ABI encoding of the batch call arguments. Computing
// it locally avoids a round trip for a pure function.
func (b *TimelockBinding) HashOperationBatch(targets []common.Address, values []*big.Int, payloads [][]byte, predecessor, salt common.Hash) (common.Hash, error) {
	method, ok := b.abi.Methods["hashOperationBatch"]
	if !ok {
		return common.Hash{}, fmt.Errorf("timelock ABI has no hashOperationBatch")
	}

	vals := make([]*big.Int, len(values))
	for i, v := range values {
		if v == nil {
			vals[i] = new(big.Int)
		} else {
			vals[i] = v
		}
	}

	encoded, err := method.Inputs.Pack(targets, vals, payloads, predecessor, salt)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to encode operation batch: %w", err)
	}
	return crypto.Keccak256Hash(encoded), nil
}

// BuildScheduleBatchCalldata encodes scheduleBatch for a whole batch.
func (b *TimelockBinding) BuildScheduleBatchCalldata(targets []common.Address, values []*big.Int, payloads [][]byte, predecessor, salt common.Hash, delay time.Duration) ([]byte, error) {
	vals := normalizeValues(values)
	data, err := b.abi.Pack("scheduleBatch", targets, vals, payloads, predecessor, salt, big.NewInt(int64(delay/time.Second)))
	if err != nil {
		return nil, fmt.Errorf("failed to pack scheduleBatch calldata: %w", err)
	}
	return data, nil
}

// BuildCancelCalldata encodes cancel for an operation id.
func (b *TimelockBinding) BuildCancelCalldata(id common.Hash) ([]byte, error) {
	data, err := b.abi.Pack("cancel", id)
	if err != nil {
		return nil, fmt.Errorf("failed to pack cancel calldata: %w", err)
	}
	return data, nil
}

// BuildExecuteBatchCalldata encodes executeBatch for a whole batch.
func (b *TimelockBinding) BuildExecuteBatchCalldata(targets []common.Address, values []*big.Int, payloads [][]byte, predecessor, salt common.Hash) ([]byte, error) {
	vals := normalizeValues(values)
	data, err := b.abi.Pack("executeBatch", targets, vals, payloads, predecessor, salt)
	if err != nil {
		return nil, fmt.Errorf("failed to pack executeBatch calldata: %w", err)
	}
	return data, nil
}

func normalizeValues(values []*big.Int) []*big.Int {
	out := make([]*big.Int, len(values))
	for i, v := range values {
		if v == nil {
			out[i] = new(big.Int)
		} else {
			out[i] = v
		}
	}
	return out
}
