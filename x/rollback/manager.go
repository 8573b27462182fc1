package rollback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// manager implements Manager. A single mutex serializes all state-changing
// operations; records for different identifiers never interfere beyond that
// serialization.
type manager struct {
	mu sync.Mutex

	logger  zerolog.Logger
	backend Backend
	store   RecordStore
	sink    Sink
	metrics *Metrics
	now     func() time.Time

	admin             common.Address
	guardian          common.Address
	queueableDuration time.Duration
	minQueueable      time.Duration
}

var _ Manager = (*manager)(nil)

// New constructs a Manager using the provided config.
func New(cfg Config) (Manager, error) {
	if err := cfg.apply(); err != nil {
		return nil, err
	}

	return &manager{
		logger:            cfg.Logger.With().Str("component", "rollback-manager").Logger(),
		backend:           cfg.Backend,
		store:             cfg.Store,
		sink:              cfg.Sink,
		metrics:           cfg.Metrics,
		now:               cfg.Now,
		admin:             cfg.Admin,
		guardian:          cfg.Guardian,
		queueableDuration: cfg.QueueableDuration,
		minQueueable:      cfg.MinQueueableDuration,
	}, nil
}

// Propose registers a batch under its identifier and opens the queueable
// window. Only batches whose identifier derives to Unknown are accepted: an
// identifier that was ever proposed, even if it since expired or terminated,
// is never reusable.
func (m *manager) Propose(ctx context.Context, caller common.Address, batch Batch) (common.Hash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if caller != m.admin {
		m.metrics.RecordRejection(KindUnauthorized, "propose")
		return common.Hash{}, NewError(KindUnauthorized, "propose requires the admin role")
	}

	if err := batch.Validate(); err != nil {
		m.metrics.RecordRejection(KindMismatchedParameters, "propose")
		return common.Hash{}, err
	}

	id, err := m.backend.Identifier(batch)
	if err != nil {
		m.metrics.RecordBackendError("identifier")
		return common.Hash{}, fmt.Errorf("derive identifier: %w", err)
	}

	now := m.now()
	rec, _, err := m.getRecord(ctx, id)
	if err != nil {
		return common.Hash{}, err
	}
	if st := rec.StateAt(now); st != StateUnknown {
		m.metrics.RecordRejection(KindAlreadyExists, "propose")
		return common.Hash{}, NewIDError(KindAlreadyExists, id)
	}

	rec = Record{QueueExpiresAt: now.Add(m.queueableDuration)}
	if err := m.store.Put(ctx, id, rec); err != nil {
		return common.Hash{}, fmt.Errorf("store record: %w", err)
	}

	m.metrics.RecordProposal(batch.Len())
	m.metrics.RecordTransition(StatePending)
	m.syncRecordCount(ctx)

	stored := batch.Clone()
	ev := newEvent(EventProposed, now)
	ev.Rollback = id
	ev.Batch = &stored
	ev.QueueExpiresAt = rec.QueueExpiresAt
	m.sink.Publish(ctx, ev)

	m.logger.Info().
		Str("rollback_id", id.Hex()).
		Int("batch_size", batch.Len()).
		Time("queue_expires_at", rec.QueueExpiresAt).
		Msg("rollback proposed")

	return id, nil
}

// Queue forwards a pending batch to the backend. This is the only operation
// that tells the backend about the batch content; the activation time is
// now + the delay the backend quotes at this moment.
func (m *manager) Queue(ctx context.Context, caller common.Address, batch Batch) (common.Hash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if caller != m.guardian {
		m.metrics.RecordRejection(KindUnauthorized, "queue")
		return common.Hash{}, NewError(KindUnauthorized, "queue requires the guardian role")
	}

	if err := batch.Validate(); err != nil {
		m.metrics.RecordRejection(KindMismatchedParameters, "queue")
		return common.Hash{}, err
	}

	id, err := m.backend.Identifier(batch)
	if err != nil {
		m.metrics.RecordBackendError("identifier")
		return common.Hash{}, fmt.Errorf("derive identifier: %w", err)
	}

	now := m.now()
	rec, ok, err := m.getRecord(ctx, id)
	if err != nil {
		return common.Hash{}, err
	}
	if !ok {
		m.metrics.RecordRejection(KindNonExistentRollback, "queue")
		return common.Hash{}, NewIDError(KindNonExistentRollback, id)
	}
	switch st := rec.StateAt(now); st {
	case StatePending:
	case StateExpired:
		m.metrics.RecordRejection(KindExpired, "queue")
		return common.Hash{}, NewIDError(KindExpired, id)
	default:
		m.metrics.RecordRejection(KindNotQueueable, "queue")
		return common.Hash{}, NewIDError(KindNotQueueable, id)
	}

	delay, err := m.backend.Delay(ctx)
	if err != nil {
		m.metrics.RecordBackendError("delay")
		return common.Hash{}, fmt.Errorf("backend delay: %w", err)
	}
	executableAt := now.Add(delay)

	if err := m.backend.QueueBatch(ctx, batch, executableAt); err != nil {
		m.metrics.RecordBackendError("queue")
		return common.Hash{}, fmt.Errorf("backend queue: %w", err)
	}

	rec.ExecutableAt = executableAt
	if err := m.store.Put(ctx, id, rec); err != nil {
		return common.Hash{}, fmt.Errorf("store record: %w", err)
	}

	m.metrics.RecordTransition(StateQueued)
	m.metrics.RecordBackendDelay(delay.Seconds())

	ev := newEvent(EventQueued, now)
	ev.Rollback = id
	ev.ExecutableAt = executableAt
	m.sink.Publish(ctx, ev)

	m.logger.Info().
		Str("rollback_id", id.Hex()).
		Dur("backend_delay", delay).
		Time("executable_at", executableAt).
		Msg("rollback queued")

	return id, nil
}

// Cancel removes a queued or active batch from the backend and terminates the
// record. Any other state, including never-proposed, rejects with NotQueued.
func (m *manager) Cancel(ctx context.Context, caller common.Address, batch Batch) (common.Hash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if caller != m.guardian {
		m.metrics.RecordRejection(KindUnauthorized, "cancel")
		return common.Hash{}, NewError(KindUnauthorized, "cancel requires the guardian role")
	}

	if err := batch.Validate(); err != nil {
		m.metrics.RecordRejection(KindMismatchedParameters, "cancel")
		return common.Hash{}, err
	}

	id, err := m.backend.Identifier(batch)
	if err != nil {
		m.metrics.RecordBackendError("identifier")
		return common.Hash{}, fmt.Errorf("derive identifier: %w", err)
	}

	now := m.now()
	rec, _, err := m.getRecord(ctx, id)
	if err != nil {
		return common.Hash{}, err
	}
	if st := rec.StateAt(now); st != StateQueued && st != StateActive {
		m.metrics.RecordRejection(KindNotQueued, "cancel")
		return common.Hash{}, NewIDError(KindNotQueued, id)
	}

	if err := m.backend.CancelBatch(ctx, batch, rec.ExecutableAt); err != nil {
		m.metrics.RecordBackendError("cancel")
		return common.Hash{}, fmt.Errorf("backend cancel: %w", err)
	}

	rec.Canceled = true
	if err := m.store.Put(ctx, id, rec); err != nil {
		return common.Hash{}, fmt.Errorf("store record: %w", err)
	}

	m.metrics.RecordTransition(StateCanceled)

	ev := newEvent(EventCanceled, now)
	ev.Rollback = id
	m.sink.Publish(ctx, ev)

	m.logger.Info().Str("rollback_id", id.Hex()).Msg("rollback canceled")

	return id, nil
}

// Execute runs an active batch through the backend. A backend failure
// propagates to the caller and leaves the record untouched, so execution can
// be retried once the underlying cause is resolved.
func (m *manager) Execute(ctx context.Context, caller common.Address, batch Batch) (common.Hash, []byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if caller != m.guardian {
		m.metrics.RecordRejection(KindUnauthorized, "execute")
		return common.Hash{}, nil, NewError(KindUnauthorized, "execute requires the guardian role")
	}

	if err := batch.Validate(); err != nil {
		m.metrics.RecordRejection(KindMismatchedParameters, "execute")
		return common.Hash{}, nil, err
	}

	id, err := m.backend.Identifier(batch)
	if err != nil {
		m.metrics.RecordBackendError("identifier")
		return common.Hash{}, nil, fmt.Errorf("derive identifier: %w", err)
	}

	now := m.now()
	rec, _, err := m.getRecord(ctx, id)
	if err != nil {
		return common.Hash{}, nil, err
	}
	switch st := rec.StateAt(now); st {
	case StateActive:
	case StateQueued:
		m.metrics.RecordRejection(KindExecutionTooEarly, "execute")
		return common.Hash{}, nil, NewIDError(KindExecutionTooEarly, id)
	default:
		m.metrics.RecordRejection(KindNotQueued, "execute")
		return common.Hash{}, nil, NewIDError(KindNotQueued, id)
	}

	data, err := m.backend.ExecuteBatch(ctx, batch, rec.ExecutableAt)
	if err != nil {
		m.metrics.RecordBackendError("execute")
		return common.Hash{}, nil, fmt.Errorf("backend execute: %w", err)
	}

	rec.Executed = true
	if err := m.store.Put(ctx, id, rec); err != nil {
		return common.Hash{}, nil, fmt.Errorf("store record: %w", err)
	}

	m.metrics.RecordTransition(StateExecuted)

	ev := newEvent(EventExecuted, now)
	ev.Rollback = id
	m.sink.Publish(ctx, ev)

	m.logger.Info().Str("rollback_id", id.Hex()).Int("return_bytes", len(data)).Msg("rollback executed")

	return id, data, nil
}

// Identifier derives the identifier for a batch under the configured backend's
// hashing discipline.
func (m *manager) Identifier(batch Batch) (common.Hash, error) {
	if err := batch.Validate(); err != nil {
		return common.Hash{}, err
	}
	return m.backend.Identifier(batch)
}

// StateOf derives the current state for id.
func (m *manager) StateOf(ctx context.Context, id common.Hash) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, _, err := m.getRecord(ctx, id)
	if err != nil {
		return StateUnknown, err
	}
	return rec.StateAt(m.now()), nil
}

// RecordOf returns the stored record together with its derived state. Unknown
// identifiers reject with NonExistentRollback.
func (m *manager) RecordOf(ctx context.Context, id common.Hash) (Record, State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok, err := m.getRecord(ctx, id)
	if err != nil {
		return Record{}, StateUnknown, err
	}
	if !ok {
		return Record{}, StateUnknown, NewIDError(KindNonExistentRollback, id)
	}
	return rec, rec.StateAt(m.now()), nil
}

// Identifiers lists all identifiers the manager has seen.
func (m *manager) Identifiers(ctx context.Context) ([]common.Hash, error) {
	return m.store.List(ctx)
}

// SetAdmin replaces the admin role.
func (m *manager) SetAdmin(ctx context.Context, caller, newAdmin common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if caller != m.admin {
		m.metrics.RecordRejection(KindUnauthorized, "set_admin")
		return NewError(KindUnauthorized, "set admin requires the admin role")
	}
	if newAdmin == (common.Address{}) {
		m.metrics.RecordRejection(KindInvalidAddress, "set_admin")
		return NewError(KindInvalidAddress, "admin address must not be zero")
	}

	old := m.admin
	m.admin = newAdmin

	ev := newEvent(EventAdminChanged, m.now())
	ev.OldAddress = old
	ev.NewAddress = newAdmin
	m.sink.Publish(ctx, ev)

	m.logger.Info().Str("old", old.Hex()).Str("new", newAdmin.Hex()).Msg("admin changed")
	return nil
}

// SetGuardian replaces the guardian role.
func (m *manager) SetGuardian(ctx context.Context, caller, newGuardian common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if caller != m.admin {
		m.metrics.RecordRejection(KindUnauthorized, "set_guardian")
		return NewError(KindUnauthorized, "set guardian requires the admin role")
	}
	if newGuardian == (common.Address{}) {
		m.metrics.RecordRejection(KindInvalidAddress, "set_guardian")
		return NewError(KindInvalidAddress, "guardian address must not be zero")
	}

	old := m.guardian
	m.guardian = newGuardian

	ev := newEvent(EventGuardianChanged, m.now())
	ev.OldAddress = old
	ev.NewAddress = newGuardian
	m.sink.Publish(ctx, ev)

	m.logger.Info().Str("old", old.Hex()).Str("new", newGuardian.Hex()).Msg("guardian changed")
	return nil
}

// SetQueueableDuration changes the window applied to future proposals.
// Records already proposed keep the expiry they were written with.
func (m *manager) SetQueueableDuration(ctx context.Context, caller common.Address, d time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if caller != m.admin {
		m.metrics.RecordRejection(KindUnauthorized, "set_queueable_duration")
		return NewError(KindUnauthorized, "set queueable duration requires the admin role")
	}
	if d < m.minQueueable {
		m.metrics.RecordRejection(KindInvalidQueueableDuration, "set_queueable_duration")
		return NewError(KindInvalidQueueableDuration, "queueable duration below floor")
	}

	old := m.queueableDuration
	m.queueableDuration = d

	ev := newEvent(EventQueueableDurationChanged, m.now())
	ev.OldDuration = old
	ev.NewDuration = d
	m.sink.Publish(ctx, ev)

	m.logger.Info().Dur("old", old).Dur("new", d).Msg("queueable duration changed")
	return nil
}

func (m *manager) Admin() common.Address {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.admin
}

func (m *manager) Guardian() common.Address {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.guardian
}

func (m *manager) QueueableDuration() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queueableDuration
}

func (m *manager) MinQueueableDuration() time.Duration {
	return m.minQueueable
}

func (m *manager) getRecord(ctx context.Context, id common.Hash) (Record, bool, error) {
	rec, ok, err := m.store.Get(ctx, id)
	if err != nil {
		return Record{}, false, fmt.Errorf("load record: %w", err)
	}
	return rec, ok, nil
}

func (m *manager) syncRecordCount(ctx context.Context) {
	if n, err := m.store.Len(ctx); err == nil {
		m.metrics.SetRecords(n)
	}
}
