package backend

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/compose-network/rollback-manager/x/rollback"
)

var batchHashArgs abi.Arguments

func init() {
	addressSlice, err := abi.NewType("address[]", "", nil)
	if err != nil {
		panic(fmt.Sprintf("backend: address[] type: %v", err))
	}
	uint256Slice, err := abi.NewType("uint256[]", "", nil)
	if err != nil {
		panic(fmt.Sprintf("backend: uint256[] type: %v", err))
	}
	bytesSlice, err := abi.NewType("bytes[]", "", nil)
	if err != nil {
		panic(fmt.Sprintf("backend: bytes[] type: %v", err))
	}
	bytes32, err := abi.NewType("bytes32", "", nil)
	if err != nil {
		panic(fmt.Sprintf("backend: bytes32 type: %v", err))
	}

	batchHashArgs = abi.Arguments{
		{Type: addressSlice},
		{Type: uint256Slice},
		{Type: bytesSlice},
		{Type: bytes32},
	}
}

// ContentIdentifier derives a batch identifier from its own content:
// keccak256 of the ABI encoding of (targets, values, payloads,
// keccak256(description)). Used by strategies whose backend does not address
// operations by a hash of its own.
func ContentIdentifier(batch rollback.Batch) (common.Hash, error) {
	b := batch.Clone()
	encoded, err := batchHashArgs.Pack(b.Targets, b.Values, b.Payloads, b.DescriptionHash())
	if err != nil {
		return common.Hash{}, fmt.Errorf("encode batch: %w", err)
	}
	return crypto.Keccak256Hash(encoded), nil
}

// OperationSalt derives the atomic strategy's batch salt: the controller
// address left-padded to 32 bytes, XORed with keccak256(description). Binding
// the controller address into the salt keeps identifiers from colliding when
// several controllers share one timelock.
func OperationSalt(controller common.Address, description string) common.Hash {
	var salt common.Hash
	addr := common.BytesToHash(controller.Bytes())
	desc := crypto.Keccak256Hash([]byte(description))
	for i := range salt {
		salt[i] = addr[i] ^ desc[i]
	}
	return salt
}
