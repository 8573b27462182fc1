package rollback

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// RecordStore persists rollback records keyed by identifier. The mapping is
// append-only: records are created once and mutated forward, never removed.
type RecordStore interface {
	// Get returns the record for id. The boolean is false when no record
	// exists.
	Get(ctx context.Context, id common.Hash) (Record, bool, error)

	// Put creates or replaces the record for id.
	Put(ctx context.Context, id common.Hash, rec Record) error

	// List returns all known identifiers, in no particular order.
	List(ctx context.Context) ([]common.Hash, error)

	// Len returns the number of stored records.
	Len(ctx context.Context) (int, error)
}

// memoryRecordStore is the in-process RecordStore used by tests and the
// single-node deployment.
type memoryRecordStore struct {
	mu      sync.RWMutex
	records map[common.Hash]Record
}

// NewMemoryRecordStore creates an empty in-memory record store.
func NewMemoryRecordStore() RecordStore {
	return &memoryRecordStore{records: make(map[common.Hash]Record)}
}

func (s *memoryRecordStore) Get(_ context.Context, id common.Hash) (Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	return rec, ok, nil
}

func (s *memoryRecordStore) Put(_ context.Context, id common.Hash, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[id] = rec
	return nil
}

func (s *memoryRecordStore) List(_ context.Context) ([]common.Hash, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]common.Hash, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *memoryRecordStore) Len(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}
