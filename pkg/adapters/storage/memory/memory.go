package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aescanero/robotd/internal/domain"
	"github.com/aescanero/robotd/internal/ports"
)

// InMemoryWorkerStore implements WorkerStore using an in-memory map.
// Records are copied on the way in and out so callers cannot mutate the
// stored values.
type InMemoryWorkerStore struct {
	records map[string]*domain.WorkerRecord
	mu      sync.RWMutex
}

// NewInMemoryWorkerStore creates a new in-memory worker store
func NewInMemoryWorkerStore() *InMemoryWorkerStore {
	return &InMemoryWorkerStore{
		records: make(map[string]*domain.WorkerRecord),
	}
}

// Save persists a worker record
func (s *InMemoryWorkerStore) Save(ctx context.Context, record *domain.WorkerRecord) error {
	if record == nil || record.WorkerID == "" {
		return fmt.Errorf("worker record without id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[record.WorkerID] = copyRecord(record)
	return nil
}

// Get retrieves a worker record
func (s *InMemoryWorkerStore) Get(ctx context.Context, workerID string) (*domain.WorkerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[workerID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ports.ErrRecordNotFound, workerID)
	}
	return copyRecord(record), nil
}

// Delete removes a worker record. Deleting a missing record is not an error.
func (s *InMemoryWorkerStore) Delete(ctx context.Context, workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, workerID)
	return nil
}

// List returns every stored record, oldest allocation first
func (s *InMemoryWorkerStore) List(ctx context.Context) ([]*domain.WorkerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]*domain.WorkerRecord, 0, len(s.records))
	for _, r := range s.records {
		records = append(records, copyRecord(r))
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].AllocatedAt.Before(records[j].AllocatedAt)
	})
	return records, nil
}

func copyRecord(r *domain.WorkerRecord) *domain.WorkerRecord {
	c := *r
	if r.LastRunAt != nil {
		t := *r.LastRunAt
		c.LastRunAt = &t
	}
	return &c
}
