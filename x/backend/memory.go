package backend

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// ErrTransactionAlreadyQueued indicates a queue call for a transaction
	// hash the executor already holds.
	ErrTransactionAlreadyQueued = errors.New("backend: transaction already queued")

	// ErrTransactionNotQueued indicates a cancel or execute call for a
	// transaction hash the executor does not hold.
	ErrTransactionNotQueued = errors.New("backend: transaction not queued")

	// ErrDelayNotElapsed indicates an execute call before the activation time.
	ErrDelayNotElapsed = errors.New("backend: delay not elapsed")

	// ErrOperationExists indicates a schedule call for an operation id the
	// timelock has already seen.
	ErrOperationExists = errors.New("backend: operation already scheduled")

	// ErrOperationNotPending indicates a cancel call for an operation that is
	// not waiting.
	ErrOperationNotPending = errors.New("backend: operation not pending")
)

var (
	txHashArgs      abi.Arguments
	operationIDArgs abi.Arguments
)

func init() {
	address, err := abi.NewType("address", "", nil)
	if err != nil {
		panic(fmt.Sprintf("backend: address type: %v", err))
	}
	uint256, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic(fmt.Sprintf("backend: uint256 type: %v", err))
	}
	bytes32, err := abi.NewType("bytes32", "", nil)
	if err != nil {
		panic(fmt.Sprintf("backend: bytes32 type: %v", err))
	}
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

	txHashArgs = abi.Arguments{
		{Type: address}, // target
		{Type: uint256}, // value
		{Type: bytes32}, // keccak(signature)
		{Type: bytes32}, // keccak(data)
		{Type: uint256}, // eta, unix seconds
	}

	operationIDArgs = abi.Arguments{
		{Type: addressSlice},
		{Type: uint256Slice},
		{Type: bytesSlice},
		{Type: bytes32}, // predecessor
		{Type: bytes32}, // salt
	}
}

// TransactionHash derives the key a per-action executor queues transactions
// under.
func TransactionHash(target common.Address, value *big.Int, signature string, data []byte, eta time.Time) (common.Hash, error) {
	if value == nil {
		value = new(big.Int)
	}
	encoded, err := txHashArgs.Pack(
		target,
		value,
		crypto.Keccak256Hash([]byte(signature)),
		crypto.Keccak256Hash(data),
		big.NewInt(eta.Unix()),
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("encode transaction: %w", err)
	}
	return crypto.Keccak256Hash(encoded), nil
}

// OperationID derives the batch-level operation id an atomic timelock uses.
func OperationID(targets []common.Address, values []*big.Int, payloads [][]byte, predecessor, salt common.Hash) (common.Hash, error) {
	vals := make([]*big.Int, len(values))
	for i, v := range values {
		if v == nil {
			vals[i] = new(big.Int)
		} else {
			vals[i] = v
		}
	}
	encoded, err := operationIDArgs.Pack(targets, vals, payloads, predecessor, salt)
	if err != nil {
		return common.Hash{}, fmt.Errorf("encode operation: %w", err)
	}
	return crypto.Keccak256Hash(encoded), nil
}

// MemoryExecutor is an in-process Executor for tests and single-node
// deployments. It keeps its own queued-transaction bookkeeping and enforces
// activation times itself.
type MemoryExecutor struct {
	mu     sync.Mutex
	delay  time.Duration
	now    func() time.Time
	queued map[common.Hash]time.Time
}

var _ Executor = (*MemoryExecutor)(nil)

// NewMemoryExecutor creates an executor with a fixed delay. A nil now defaults
// to time.Now.
func NewMemoryExecutor(delay time.Duration, now func() time.Time) *MemoryExecutor {
	if now == nil {
		now = time.Now
	}
	return &MemoryExecutor{
		delay:  delay,
		now:    now,
		queued: make(map[common.Hash]time.Time),
	}
}

func (e *MemoryExecutor) Delay(context.Context) (time.Duration, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.delay, nil
}

// SetDelay changes the delay applied to future queue operations.
func (e *MemoryExecutor) SetDelay(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.delay = d
}

func (e *MemoryExecutor) QueueTransaction(_ context.Context, target common.Address, value *big.Int, signature string, data []byte, eta time.Time) error {
	h, err := TransactionHash(target, value, signature, data, eta)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.queued[h]; ok {
		return fmt.Errorf("%w: %s", ErrTransactionAlreadyQueued, h.Hex())
	}
	e.queued[h] = eta
	return nil
}

func (e *MemoryExecutor) CancelTransaction(_ context.Context, target common.Address, value *big.Int, signature string, data []byte, eta time.Time) error {
	h, err := TransactionHash(target, value, signature, data, eta)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.queued[h]; !ok {
		return fmt.Errorf("%w: %s", ErrTransactionNotQueued, h.Hex())
	}
	delete(e.queued, h)
	return nil
}

func (e *MemoryExecutor) ExecuteTransaction(_ context.Context, target common.Address, value *big.Int, signature string, data []byte, eta time.Time) ([]byte, error) {
	h, err := TransactionHash(target, value, signature, data, eta)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	queuedETA, ok := e.queued[h]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTransactionNotQueued, h.Hex())
	}
	if e.now().Before(queuedETA) {
		return nil, fmt.Errorf("%w: %s", ErrDelayNotElapsed, h.Hex())
	}
	delete(e.queued, h)
	return nil, nil
}

// QueuedCount returns the number of transactions currently queued.
func (e *MemoryExecutor) QueuedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queued)
}

type memoryOperation struct {
	readyAt time.Time
	done    bool
}

// MemoryTimelock is an in-process Timelock for tests and single-node
// deployments. Operation ids of executed operations are never forgotten, so a
// replayed schedule for the same content is rejected.
type MemoryTimelock struct {
	mu       sync.Mutex
	minDelay time.Duration
	now      func() time.Time
	ops      map[common.Hash]*memoryOperation
}

var _ Timelock = (*MemoryTimelock)(nil)

// NewMemoryTimelock creates a timelock with a fixed minimum delay. A nil now
// defaults to time.Now.
func NewMemoryTimelock(minDelay time.Duration, now func() time.Time) *MemoryTimelock {
	if now == nil {
		now = time.Now
	}
	return &MemoryTimelock{
		minDelay: minDelay,
		now:      now,
		ops:      make(map[common.Hash]*memoryOperation),
	}
}

func (t *MemoryTimelock) MinDelay(context.Context) (time.Duration, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.minDelay, nil
}

// SetMinDelay changes the delay applied to future schedule operations.
func (t *MemoryTimelock) SetMinDelay(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.minDelay = d
}

func (t *MemoryTimelock) HashOperationBatch(targets []common.Address, values []*big.Int, payloads [][]byte, predecessor, salt common.Hash) (common.Hash, error) {
	return OperationID(targets, values, payloads, predecessor, salt)
}

func (t *MemoryTimelock) ScheduleBatch(_ context.Context, targets []common.Address, values []*big.Int, payloads [][]byte, predecessor, salt common.Hash, delay time.Duration) error {
	id, err := OperationID(targets, values, payloads, predecessor, salt)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.ops[id]; ok {
		return fmt.Errorf("%w: %s", ErrOperationExists, id.Hex())
	}
	if delay < t.minDelay {
		return fmt.Errorf("backend: delay %s below timelock minimum %s", delay, t.minDelay)
	}
	t.ops[id] = &memoryOperation{readyAt: t.now().Add(delay)}
	return nil
}

func (t *MemoryTimelock) CancelOperation(_ context.Context, id common.Hash) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	op, ok := t.ops[id]
	if !ok || op.done {
		return fmt.Errorf("%w: %s", ErrOperationNotPending, id.Hex())
	}
	delete(t.ops, id)
	return nil
}

func (t *MemoryTimelock) ExecuteBatch(_ context.Context, targets []common.Address, values []*big.Int, payloads [][]byte, predecessor, salt common.Hash) ([]byte, error) {
	id, err := OperationID(targets, values, payloads, predecessor, salt)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	op, ok := t.ops[id]
	if !ok || op.done {
		return nil, fmt.Errorf("%w: %s", ErrOperationNotPending, id.Hex())
	}
	if t.now().Before(op.readyAt) {
		return nil, fmt.Errorf("%w: %s", ErrDelayNotElapsed, id.Hex())
	}
	op.done = true
	return nil, nil
}

// PendingCount returns the number of scheduled, unexecuted operations.
func (t *MemoryTimelock) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, op := range t.ops {
		if !op.done {
			n++
		}
	}
	return n
}
