package rollback

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

var (
	adminAddr    = common.HexToAddress("0x1111111111111111111111111111111111111111")
	guardianAddr = common.HexToAddress("0x2222222222222222222222222222222222222222")
	strangerAddr = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

// stubBackend is an in-test Backend with an injectable delay and failure
// points. Identifiers are keccak over the description, which is enough to
// keep distinct test batches distinct.
type stubBackend struct {
	mu    sync.Mutex
	delay time.Duration

	queueErr   error
	cancelErr  error
	executeErr error

	queueCalls   []time.Time
	cancelCalls  []time.Time
	executeCalls []time.Time

	returnData []byte
}

func (s *stubBackend) Delay(context.Context) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delay, nil
}

func (s *stubBackend) setDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

func (s *stubBackend) Identifier(batch Batch) (common.Hash, error) {
	return crypto.Keccak256Hash([]byte(batch.Description)), nil
}

func (s *stubBackend) QueueBatch(_ context.Context, _ Batch, executableAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queueErr != nil {
		return s.queueErr
	}
	s.queueCalls = append(s.queueCalls, executableAt)
	return nil
}

func (s *stubBackend) CancelBatch(_ context.Context, _ Batch, executableAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelErr != nil {
		return s.cancelErr
	}
	s.cancelCalls = append(s.cancelCalls, executableAt)
	return nil
}

func (s *stubBackend) ExecuteBatch(_ context.Context, _ Batch, executableAt time.Time) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.executeErr != nil {
		return nil, s.executeErr
	}
	s.executeCalls = append(s.executeCalls, executableAt)
	return s.returnData, nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(start time.Time) *testClock {
	return &testClock{now: start}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testBatch(description string) Batch {
	return Batch{
		Targets:     []common.Address{common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")},
		Values:      []*big.Int{big.NewInt(0)},
		Payloads:    [][]byte{{0x01, 0x02}},
		Description: description,
	}
}

func newTestManager(t *testing.T, be *stubBackend, clock *testClock, sink Sink) Manager {
	t.Helper()

	mgr, err := New(Config{
		Backend:              be,
		Sink:                 sink,
		Admin:                adminAddr,
		Guardian:             guardianAddr,
		QueueableDuration:    14 * 24 * time.Hour,
		MinQueueableDuration: 24 * time.Hour,
		Now:                  clock.Now,
	})
	require.NoError(t, err)
	return mgr
}

func requireKind(t *testing.T, err error, want ErrorKind) {
	t.Helper()
	kind, ok := KindOf(err)
	require.True(t, ok, "expected a typed rollback error, got %v", err)
	require.Equal(t, want, kind)
}

func TestManagerLifecycleHappyPath(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newTestClock(time.Unix(1_700_000_000, 0).UTC())
	be := &stubBackend{delay: 48 * time.Hour, returnData: []byte("ok")}
	sink := NewMemorySink()
	mgr := newTestManager(t, be, clock, sink)

	batch := testBatch("roll back bad upgrade")

	id, err := mgr.Propose(ctx, adminAddr, batch)
	require.NoError(t, err)

	st, err := mgr.StateOf(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StatePending, st)

	queuedAt := clock.Now()
	qid, err := mgr.Queue(ctx, guardianAddr, batch)
	require.NoError(t, err)
	require.Equal(t, id, qid)
	require.Len(t, be.queueCalls, 1)
	require.True(t, be.queueCalls[0].Equal(queuedAt.Add(48*time.Hour)))

	rec, st, err := mgr.RecordOf(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StateQueued, st)
	require.True(t, rec.ExecutableAt.Equal(queuedAt.Add(48*time.Hour)))

	// One second before the activation boundary execution is rejected.
	clock.Advance(48*time.Hour - time.Second)
	_, _, err = mgr.Execute(ctx, guardianAddr, batch)
	requireKind(t, err, KindExecutionTooEarly)

	// Exactly at the boundary it goes through.
	clock.Advance(time.Second)
	eid, data, err := mgr.Execute(ctx, guardianAddr, batch)
	require.NoError(t, err)
	require.Equal(t, id, eid)
	require.Equal(t, []byte("ok"), data)
	require.Len(t, be.executeCalls, 1)
	require.True(t, be.executeCalls[0].Equal(rec.ExecutableAt))

	st, err = mgr.StateOf(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StateExecuted, st)

	// Executed identifiers never leave the store, so replays are rejected.
	_, _, err = mgr.Execute(ctx, guardianAddr, batch)
	requireKind(t, err, KindNotQueued)
	_, err = mgr.Propose(ctx, adminAddr, batch)
	requireKind(t, err, KindAlreadyExists)

	types := make([]EventType, 0, sink.Len())
	for _, ev := range sink.Events() {
		types = append(types, ev.Type)
	}
	require.Equal(t, []EventType{EventProposed, EventQueued, EventExecuted}, types)
}

func TestManagerAuthorizationMatrix(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newTestClock(time.Unix(1_700_000_000, 0).UTC())
	be := &stubBackend{delay: time.Hour}
	mgr := newTestManager(t, be, clock, nil)

	batch := testBatch("auth matrix")

	_, err := mgr.Propose(ctx, guardianAddr, batch)
	requireKind(t, err, KindUnauthorized)
	_, err = mgr.Propose(ctx, strangerAddr, batch)
	requireKind(t, err, KindUnauthorized)

	_, err = mgr.Propose(ctx, adminAddr, batch)
	require.NoError(t, err)

	_, err = mgr.Queue(ctx, adminAddr, batch)
	requireKind(t, err, KindUnauthorized)
	_, err = mgr.Cancel(ctx, strangerAddr, batch)
	requireKind(t, err, KindUnauthorized)
	_, _, err = mgr.Execute(ctx, adminAddr, batch)
	requireKind(t, err, KindUnauthorized)

	require.Error(t, mgr.SetAdmin(ctx, guardianAddr, strangerAddr))
	require.Error(t, mgr.SetGuardian(ctx, guardianAddr, strangerAddr))
	require.Error(t, mgr.SetQueueableDuration(ctx, guardianAddr, 48*time.Hour))

	// Authorization outranks parameter validation.
	bad := batch
	bad.Values = nil
	_, err = mgr.Propose(ctx, strangerAddr, bad)
	requireKind(t, err, KindUnauthorized)
}

func TestManagerQueueWindowExpiry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newTestClock(time.Unix(1_700_000_000, 0).UTC())
	be := &stubBackend{delay: time.Hour}
	mgr := newTestManager(t, be, clock, nil)

	batch := testBatch("expires")
	id, err := mgr.Propose(ctx, adminAddr, batch)
	require.NoError(t, err)

	// The window closes exactly at queueExpiresAt.
	clock.Advance(14 * 24 * time.Hour)
	_, err = mgr.Queue(ctx, guardianAddr, batch)
	requireKind(t, err, KindExpired)

	st, err := mgr.StateOf(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StateExpired, st)

	// Expired identifiers are burned for good.
	_, err = mgr.Propose(ctx, adminAddr, batch)
	requireKind(t, err, KindAlreadyExists)
}

func TestManagerQueueUnknownAndDoubleQueue(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newTestClock(time.Unix(1_700_000_000, 0).UTC())
	be := &stubBackend{delay: time.Hour}
	mgr := newTestManager(t, be, clock, nil)

	batch := testBatch("double queue")

	_, err := mgr.Queue(ctx, guardianAddr, batch)
	requireKind(t, err, KindNonExistentRollback)

	_, err = mgr.Propose(ctx, adminAddr, batch)
	require.NoError(t, err)
	_, err = mgr.Queue(ctx, guardianAddr, batch)
	require.NoError(t, err)

	_, err = mgr.Queue(ctx, guardianAddr, batch)
	requireKind(t, err, KindNotQueueable)
}

func TestManagerCancel(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newTestClock(time.Unix(1_700_000_000, 0).UTC())
	be := &stubBackend{delay: time.Hour}
	mgr := newTestManager(t, be, clock, nil)

	// Cancel of a never-proposed batch rejects with NotQueued, not
	// NonExistentRollback.
	_, err := mgr.Cancel(ctx, guardianAddr, testBatch("never proposed"))
	requireKind(t, err, KindNotQueued)

	batch := testBatch("cancel me")
	id, err := mgr.Propose(ctx, adminAddr, batch)
	require.NoError(t, err)

	// Pending batches are not cancelable; they simply expire.
	_, err = mgr.Cancel(ctx, guardianAddr, batch)
	requireKind(t, err, KindNotQueued)

	_, err = mgr.Queue(ctx, guardianAddr, batch)
	require.NoError(t, err)

	rec, _, err := mgr.RecordOf(ctx, id)
	require.NoError(t, err)

	cid, err := mgr.Cancel(ctx, guardianAddr, batch)
	require.NoError(t, err)
	require.Equal(t, id, cid)
	require.Len(t, be.cancelCalls, 1)
	require.True(t, be.cancelCalls[0].Equal(rec.ExecutableAt))

	st, err := mgr.StateOf(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StateCanceled, st)

	// Canceled is terminal: no re-queue, no execute, no re-propose.
	_, err = mgr.Queue(ctx, guardianAddr, batch)
	requireKind(t, err, KindNotQueueable)
	_, _, err = mgr.Execute(ctx, guardianAddr, batch)
	requireKind(t, err, KindNotQueued)
	_, err = mgr.Propose(ctx, adminAddr, batch)
	requireKind(t, err, KindAlreadyExists)
}

func TestManagerCancelActiveBatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newTestClock(time.Unix(1_700_000_000, 0).UTC())
	be := &stubBackend{delay: time.Hour}
	mgr := newTestManager(t, be, clock, nil)

	batch := testBatch("cancel active")
	id, err := mgr.Propose(ctx, adminAddr, batch)
	require.NoError(t, err)
	_, err = mgr.Queue(ctx, guardianAddr, batch)
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)
	st, err := mgr.StateOf(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StateActive, st)

	_, err = mgr.Cancel(ctx, guardianAddr, batch)
	require.NoError(t, err)
}

func TestManagerBackendFailureLeavesRecordUntouched(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newTestClock(time.Unix(1_700_000_000, 0).UTC())
	be := &stubBackend{delay: time.Hour}
	mgr := newTestManager(t, be, clock, nil)

	batch := testBatch("retryable execute")
	id, err := mgr.Propose(ctx, adminAddr, batch)
	require.NoError(t, err)
	_, err = mgr.Queue(ctx, guardianAddr, batch)
	require.NoError(t, err)
	clock.Advance(time.Hour)

	boom := errors.New("rpc timeout")
	be.executeErr = boom
	_, _, err = mgr.Execute(ctx, guardianAddr, batch)
	require.ErrorIs(t, err, boom)
	_, ok := KindOf(err)
	require.False(t, ok)

	st, err := mgr.StateOf(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StateActive, st)

	be.executeErr = nil
	_, _, err = mgr.Execute(ctx, guardianAddr, batch)
	require.NoError(t, err)
}

func TestManagerQueueBackendFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newTestClock(time.Unix(1_700_000_000, 0).UTC())
	be := &stubBackend{delay: time.Hour}
	mgr := newTestManager(t, be, clock, nil)

	batch := testBatch("queue failure")
	id, err := mgr.Propose(ctx, adminAddr, batch)
	require.NoError(t, err)

	boom := errors.New("scheduling rejected")
	be.queueErr = boom
	_, err = mgr.Queue(ctx, guardianAddr, batch)
	require.ErrorIs(t, err, boom)

	// Still pending, so the queue can be retried.
	st, err := mgr.StateOf(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StatePending, st)

	be.queueErr = nil
	_, err = mgr.Queue(ctx, guardianAddr, batch)
	require.NoError(t, err)
}

func TestManagerMismatchedParameters(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newTestClock(time.Unix(1_700_000_000, 0).UTC())
	be := &stubBackend{delay: time.Hour}
	mgr := newTestManager(t, be, clock, nil)

	bad := testBatch("bad shapes")
	bad.Values = append(bad.Values, big.NewInt(1))

	_, err := mgr.Propose(ctx, adminAddr, bad)
	requireKind(t, err, KindMismatchedParameters)
	_, err = mgr.Queue(ctx, guardianAddr, bad)
	requireKind(t, err, KindMismatchedParameters)
	_, err = mgr.Cancel(ctx, guardianAddr, bad)
	requireKind(t, err, KindMismatchedParameters)
	_, _, err = mgr.Execute(ctx, guardianAddr, bad)
	requireKind(t, err, KindMismatchedParameters)
	_, err = mgr.Identifier(bad)
	requireKind(t, err, KindMismatchedParameters)
}

func TestManagerDelayQuotedAtQueueTime(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newTestClock(time.Unix(1_700_000_000, 0).UTC())
	be := &stubBackend{delay: time.Hour}
	mgr := newTestManager(t, be, clock, nil)

	batch := testBatch("fresh delay")
	id, err := mgr.Propose(ctx, adminAddr, batch)
	require.NoError(t, err)

	// The delay changes between propose and queue; the quote at queue time
	// wins.
	be.setDelay(6 * time.Hour)
	queuedAt := clock.Now()
	_, err = mgr.Queue(ctx, guardianAddr, batch)
	require.NoError(t, err)

	rec, _, err := mgr.RecordOf(ctx, id)
	require.NoError(t, err)
	require.True(t, rec.ExecutableAt.Equal(queuedAt.Add(6*time.Hour)))
}

func TestManagerRoleRotation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newTestClock(time.Unix(1_700_000_000, 0).UTC())
	be := &stubBackend{delay: time.Hour}
	sink := NewMemorySink()
	mgr := newTestManager(t, be, clock, sink)

	require.Error(t, mgr.SetAdmin(ctx, adminAddr, common.Address{}))
	require.Error(t, mgr.SetGuardian(ctx, adminAddr, common.Address{}))

	newAdmin := common.HexToAddress("0x4444444444444444444444444444444444444444")
	require.NoError(t, mgr.SetAdmin(ctx, adminAddr, newAdmin))
	require.Equal(t, newAdmin, mgr.Admin())

	// The old admin lost its privileges with the handover.
	require.Error(t, mgr.SetAdmin(ctx, adminAddr, adminAddr))

	require.NoError(t, mgr.SetGuardian(ctx, newAdmin, strangerAddr))
	require.Equal(t, strangerAddr, mgr.Guardian())

	batch := testBatch("rotated roles")
	_, err := mgr.Propose(ctx, newAdmin, batch)
	require.NoError(t, err)
	_, err = mgr.Queue(ctx, guardianAddr, batch)
	requireKind(t, err, KindUnauthorized)
	_, err = mgr.Queue(ctx, strangerAddr, batch)
	require.NoError(t, err)

	var seen []EventType
	for _, ev := range sink.Events() {
		seen = append(seen, ev.Type)
	}
	require.Contains(t, seen, EventAdminChanged)
	require.Contains(t, seen, EventGuardianChanged)
}

func TestManagerSetQueueableDuration(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newTestClock(time.Unix(1_700_000_000, 0).UTC())
	be := &stubBackend{delay: time.Hour}
	mgr := newTestManager(t, be, clock, nil)

	require.Equal(t, 14*24*time.Hour, mgr.QueueableDuration())
	require.Equal(t, 24*time.Hour, mgr.MinQueueableDuration())

	err := mgr.SetQueueableDuration(ctx, adminAddr, 12*time.Hour)
	requireKind(t, err, KindInvalidQueueableDuration)

	before := testBatch("window before change")
	idBefore, err := mgr.Propose(ctx, adminAddr, before)
	require.NoError(t, err)

	require.NoError(t, mgr.SetQueueableDuration(ctx, adminAddr, 24*time.Hour))
	require.Equal(t, 24*time.Hour, mgr.QueueableDuration())

	after := testBatch("window after change")
	idAfter, err := mgr.Propose(ctx, adminAddr, after)
	require.NoError(t, err)

	// Only proposals made after the change get the narrower window.
	clock.Advance(24 * time.Hour)
	stBefore, err := mgr.StateOf(ctx, idBefore)
	require.NoError(t, err)
	require.Equal(t, StatePending, stBefore)
	stAfter, err := mgr.StateOf(ctx, idAfter)
	require.NoError(t, err)
	require.Equal(t, StateExpired, stAfter)
}

func TestManagerRecordOfUnknown(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newTestClock(time.Unix(1_700_000_000, 0).UTC())
	mgr := newTestManager(t, &stubBackend{delay: time.Hour}, clock, nil)

	_, _, err := mgr.RecordOf(ctx, common.HexToHash("0xdead"))
	requireKind(t, err, KindNonExistentRollback)

	// StateOf is softer: unknown derives to StateUnknown without error.
	st, err := mgr.StateOf(ctx, common.HexToHash("0xdead"))
	require.NoError(t, err)
	require.Equal(t, StateUnknown, st)
}

func TestManagerIdentifiers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newTestClock(time.Unix(1_700_000_000, 0).UTC())
	mgr := newTestManager(t, &stubBackend{delay: time.Hour}, clock, nil)

	ids, err := mgr.Identifiers(ctx)
	require.NoError(t, err)
	require.Empty(t, ids)

	a, err := mgr.Propose(ctx, adminAddr, testBatch("first"))
	require.NoError(t, err)
	b, err := mgr.Propose(ctx, adminAddr, testBatch("second"))
	require.NoError(t, err)

	ids, err = mgr.Identifiers(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []common.Hash{a, b}, ids)
}

func TestConfigValidation(t *testing.T) {
	t.Parallel()

	be := &stubBackend{delay: time.Hour}

	_, err := New(Config{Admin: adminAddr, Guardian: guardianAddr, MinQueueableDuration: time.Hour})
	require.Error(t, err)

	_, err = New(Config{Backend: be, Guardian: guardianAddr, MinQueueableDuration: time.Hour})
	requireKind(t, err, KindInvalidAddress)

	_, err = New(Config{Backend: be, Admin: adminAddr, MinQueueableDuration: time.Hour})
	requireKind(t, err, KindInvalidAddress)

	_, err = New(Config{Backend: be, Admin: adminAddr, Guardian: guardianAddr})
	requireKind(t, err, KindInvalidQueueableDuration)

	_, err = New(Config{
		Backend:              be,
		Admin:                adminAddr,
		Guardian:             guardianAddr,
		QueueableDuration:    time.Hour,
		MinQueueableDuration: 2 * time.Hour,
	})
	requireKind(t, err, KindInvalidQueueableDuration)

	// An unset duration falls back to the floor.
	mgr, err := New(Config{
		Backend:              be,
		Admin:                adminAddr,
		Guardian:             guardianAddr,
		MinQueueableDuration: 2 * time.Hour,
	})
	require.NoError(t, err)
	require.Equal(t, 2*time.Hour, mgr.QueueableDuration())
}
