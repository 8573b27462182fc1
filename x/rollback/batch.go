package rollback

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Batch is an ordered set of calls managed as a single reversible unit. The
// three slices are parallel: Targets[i] receives Values[i] wei with
// Payloads[i] as calldata. Description disambiguates otherwise identical
// batches and feeds the identifier.
type Batch struct {
	Targets     []common.Address
	Values      []*big.Int
	Payloads    [][]byte
	Description string
}

// Validate checks the parallel slices line up.
func (b Batch) Validate() error {
	if len(b.Targets) != len(b.Values) || len(b.Targets) != len(b.Payloads) {
		return NewError(KindMismatchedParameters, "targets, values and payloads must have equal length")
	}
	return nil
}

// Len returns the number of calls in the batch.
func (b Batch) Len() int {
	return len(b.Targets)
}

// DescriptionHash returns keccak256 of the description string.
func (b Batch) DescriptionHash() common.Hash {
	return crypto.Keccak256Hash([]byte(b.Description))
}

// Clone deep-copies the batch so stored references cannot be mutated by the
// caller afterwards.
func (b Batch) Clone() Batch {
	out := Batch{
		Targets:     append([]common.Address(nil), b.Targets...),
		Values:      make([]*big.Int, len(b.Values)),
		Payloads:    make([][]byte, len(b.Payloads)),
		Description: b.Description,
	}
	for i, v := range b.Values {
		if v != nil {
			out.Values[i] = new(big.Int).Set(v)
		} else {
			out.Values[i] = new(big.Int)
		}
	}
	for i, p := range b.Payloads {
		out.Payloads[i] = append([]byte(nil), p...)
	}
	return out
}
