package ports

import (
	"context"
	"errors"

	"github.com/aescanero/robotd/internal/domain"
)

// ErrRecordNotFound is returned when no record exists for a worker
var ErrRecordNotFound = errors.New("worker record not found")

// WorkerStore persists the externally visible view of allocated workers
type WorkerStore interface {
	Save(ctx context.Context, record *domain.WorkerRecord) error
	Get(ctx context.Context, workerID string) (*domain.WorkerRecord, error)
	Delete(ctx context.Context, workerID string) error
	List(ctx context.Context) ([]*domain.WorkerRecord, error)
}
