package orchestrator

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/aescanero/robotd/internal/application/workers"
	"github.com/aescanero/robotd/internal/domain"
	"github.com/aescanero/robotd/internal/ports"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Manager is the entry point used by the API layers. It validates requests,
// delegates to the worker pool, keeps worker records up to date and
// publishes lifecycle events.
type Manager struct {
	pool      *workers.Pool
	validator *Validator
	eventBus  ports.EventBus
	store     ports.WorkerStore
	logger    *zap.Logger

	// Configuration
	runTimeout time.Duration
}

// NewManager creates a new manager. A zero runTimeout lets runs last as long
// as the caller's context.
func NewManager(
	pool *workers.Pool,
	validator *Validator,
	eventBus ports.EventBus,
	store ports.WorkerStore,
	logger *zap.Logger,
	runTimeout time.Duration,
) *Manager {
	return &Manager{
		pool:       pool,
		validator:  validator,
		eventBus:   eventBus,
		store:      store,
		logger:     logger,
		runTimeout: runTimeout,
	}
}

// Allocate creates a worker for robot
func (m *Manager) Allocate(ctx context.Context, robot string) (workers.WorkerID, error) {
	if err := m.validator.ValidateRobotName(robot); err != nil {
		m.logger.Warn("rejected robot name",
			zap.String("robot", robot),
			zap.Error(err))
		return workers.WorkerID{}, err
	}

	id, err := m.pool.AllocateWorker(ctx, robot)
	if err != nil {
		return workers.WorkerID{}, err
	}

	now := time.Now()
	record := &domain.WorkerRecord{
		WorkerID:    id.String(),
		Robot:       robot,
		State:       workers.StateIdle.String(),
		AllocatedAt: now,
		UpdatedAt:   now,
	}
	m.saveRecord(ctx, record)
	m.publishEvent(ctx, id, robot, domain.EventTypeWorkerAllocated, nil)

	return id, nil
}

// Run runs the worker's robot and blocks until it finishes. When the
// configured run timeout expires or ctx is cancelled the worker is stopped.
func (m *Manager) Run(ctx context.Context, id workers.WorkerID, parameters map[string]interface{}) (*workers.RunResult, error) {
	if err := m.validator.ValidateParameters(parameters); err != nil {
		return nil, err
	}

	w, err := m.pool.Worker(id)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if m.runTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, m.runTimeout)
	}
	// run identifies this run once it has started, so that a late stop
	// cannot reach a later run on the same worker.
	var run atomic.Uint64
	stop := context.AfterFunc(runCtx, func() {
		seq := run.Load()
		if seq == 0 {
			// Not started yet; the runtime sees the cancelled context.
			return
		}
		m.logger.Info("stopping worker: run context ended",
			zap.String("worker_id", id.String()),
			zap.Error(runCtx.Err()))
		if err := m.pool.StopWorkerRun(id, seq); err != nil && workers.KindOf(err) != workers.KindInvalidState {
			m.logger.Error("failed to stop worker after run context ended",
				zap.String("worker_id", id.String()),
				zap.Error(err))
		}
	})

	result, err := m.pool.RunWorkerNotify(runCtx, id, parameters, func() {
		run.Store(w.Runs())
		m.publishEvent(ctx, id, w.Robot(), domain.EventTypeRunStarted, nil)
	})
	stop()
	timedOut := errors.Is(runCtx.Err(), context.DeadlineExceeded)
	cancel()

	if err != nil && workers.KindOf(err) != workers.KindRuntimeExecution {
		// Rejected before the robot started; nothing to record.
		return nil, err
	}

	// The caller may be gone; the outcome is still recorded.
	ctx = context.WithoutCancel(ctx)
	now := time.Now()
	var (
		outcome   domain.RunOutcome
		eventType domain.EventType
		data      = map[string]interface{}{}
	)
	switch {
	case err != nil:
		outcome, eventType = domain.RunOutcomeFailed, domain.EventTypeRunFailed
		data["error"] = err.Error()
	case result.Aborted:
		outcome, eventType = domain.RunOutcomeAborted, domain.EventTypeRunAborted
		data["duration_ms"] = result.Duration.Milliseconds()
		if timedOut {
			data["reason"] = "timeout"
		}
	default:
		outcome, eventType = domain.RunOutcomeCompleted, domain.EventTypeRunCompleted
		data["duration_ms"] = result.Duration.Milliseconds()
	}

	m.updateRecord(ctx, w, func(r *domain.WorkerRecord) {
		r.Runs++
		r.LastOutcome = outcome
		r.LastRunAt = &now
		r.LastError = ""
		if err != nil {
			r.LastError = err.Error()
		}
	})
	m.publishEvent(ctx, id, w.Robot(), eventType, data)

	return result, err
}

// Stop asks a running worker to abort its robot
func (m *Manager) Stop(ctx context.Context, id workers.WorkerID) error {
	w, err := m.pool.Worker(id)
	if err != nil {
		return err
	}

	err = m.pool.StopWorker(id)
	switch workers.KindOf(err) {
	case workers.KindUnknown:
		m.publishEvent(ctx, id, w.Robot(), domain.EventTypeStopRequested, nil)
	case workers.KindAbortFailed:
		m.publishEvent(ctx, id, w.Robot(), domain.EventTypeStopFailed, map[string]interface{}{
			"error": err.Error(),
		})
	}
	if err == nil || workers.KindOf(err) == workers.KindAbortFailed {
		m.updateRecord(ctx, w, func(*domain.WorkerRecord) {})
	}
	return err
}

// Release disposes of an idle or failed worker
func (m *Manager) Release(ctx context.Context, id workers.WorkerID) error {
	w, err := m.pool.Worker(id)
	if err != nil {
		return err
	}

	err = m.pool.ReleaseWorker(ctx, id)
	switch workers.KindOf(err) {
	case workers.KindUnknown:
		m.deleteRecord(ctx, id)
		m.publishEvent(ctx, id, w.Robot(), domain.EventTypeWorkerReleased, nil)
	case workers.KindPoolFailure:
		m.deleteRecord(ctx, id)
		m.publishEvent(ctx, id, w.Robot(), domain.EventTypeWorkerLeaked, map[string]interface{}{
			"error":  err.Error(),
			"leaked": m.pool.Leaked(),
		})
	}
	return err
}

// ReleaseAll stops and releases every worker. Workers whose runtime could
// not be disposed of are reported as leaked.
func (m *Manager) ReleaseAll(ctx context.Context) error {
	released, err := m.pool.ReleaseAllWorkers(ctx)
	for _, r := range released {
		m.deleteRecord(ctx, r.ID)
		if r.Disposition == workers.DispositionLeaked {
			m.publishEvent(ctx, r.ID, r.Robot, domain.EventTypeWorkerLeaked, map[string]interface{}{
				"error":  r.Err.Error(),
				"leaked": m.pool.Leaked(),
			})
			continue
		}
		m.publishEvent(ctx, r.ID, r.Robot, domain.EventTypeWorkerReleased, map[string]interface{}{
			"disposition": r.Disposition,
		})
	}
	return err
}

// PoolSize returns the number of allocated workers
func (m *Manager) PoolSize() int {
	return m.pool.PoolSize()
}

// Capacity returns how many workers can exist at once
func (m *Manager) Capacity() int {
	return m.pool.Capacity()
}

// Leaked returns the number of lost runtime slots
func (m *Manager) Leaked() int {
	return m.pool.Leaked()
}

// Get returns the record of an allocated worker with its live state
func (m *Manager) Get(ctx context.Context, id workers.WorkerID) (*domain.WorkerRecord, error) {
	w, err := m.pool.Worker(id)
	if err != nil {
		return nil, err
	}
	return m.recordFor(ctx, w), nil
}

// List returns the records of every allocated worker, oldest first
func (m *Manager) List(ctx context.Context) ([]*domain.WorkerRecord, error) {
	stored, err := m.store.List(ctx)
	if err != nil {
		m.logger.Warn("failed to list worker records, using live state only", zap.Error(err))
		stored = nil
	}
	byID := make(map[string]*domain.WorkerRecord, len(stored))
	for _, r := range stored {
		byID[r.WorkerID] = r
	}

	infos := m.pool.Snapshot()
	records := make([]*domain.WorkerRecord, 0, len(infos))
	for _, info := range infos {
		r, ok := byID[info.ID.String()]
		if !ok {
			r = &domain.WorkerRecord{
				WorkerID:    info.ID.String(),
				Robot:       info.Robot,
				AllocatedAt: info.AllocatedAt,
				UpdatedAt:   info.AllocatedAt,
			}
		}
		r.State = info.State.String()
		records = append(records, r)
	}
	return records, nil
}

// Shutdown releases every worker
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("shutting down manager", zap.Int("workers", m.pool.PoolSize()))

	if err := m.ReleaseAll(ctx); err != nil {
		m.logger.Error("manager shut down with lost runtimes",
			zap.Int("leaked", m.pool.Leaked()),
			zap.Error(err))
		return err
	}

	m.logger.Info("manager shut down complete")
	return nil
}

// recordFor returns the stored record of w, or one rebuilt from the worker,
// with the live state applied.
func (m *Manager) recordFor(ctx context.Context, w *workers.Worker) *domain.WorkerRecord {
	record, err := m.store.Get(ctx, w.ID().String())
	if err != nil {
		if !errors.Is(err, ports.ErrRecordNotFound) {
			m.logger.Warn("failed to load worker record",
				zap.String("worker_id", w.ID().String()),
				zap.Error(err))
		}
		record = &domain.WorkerRecord{
			WorkerID:    w.ID().String(),
			Robot:       w.Robot(),
			AllocatedAt: w.AllocatedAt(),
			UpdatedAt:   w.AllocatedAt(),
		}
	}
	record.State = w.State().String()
	return record
}

func (m *Manager) updateRecord(ctx context.Context, w *workers.Worker, update func(*domain.WorkerRecord)) {
	record := m.recordFor(ctx, w)
	update(record)
	record.UpdatedAt = time.Now()
	m.saveRecord(ctx, record)
}

func (m *Manager) saveRecord(ctx context.Context, record *domain.WorkerRecord) {
	if err := m.store.Save(ctx, record); err != nil {
		m.logger.Error("failed to save worker record",
			zap.String("worker_id", record.WorkerID),
			zap.Error(err))
	}
}

func (m *Manager) deleteRecord(ctx context.Context, id workers.WorkerID) {
	if err := m.store.Delete(ctx, id.String()); err != nil && !errors.Is(err, ports.ErrRecordNotFound) {
		m.logger.Error("failed to delete worker record",
			zap.String("worker_id", id.String()),
			zap.Error(err))
	}
}

// publishEvent publishes an event to the event bus
func (m *Manager) publishEvent(ctx context.Context, id workers.WorkerID, robot string, eventType domain.EventType, data map[string]interface{}) {
	event := domain.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		WorkerID:  id.String(),
		Robot:     robot,
		Timestamp: time.Now(),
		Data:      data,
	}

	if err := m.eventBus.Publish(ctx, domain.WorkerEventsTopic, event); err != nil {
		m.logger.Error("failed to publish event",
			zap.String("worker_id", id.String()),
			zap.String("event_type", string(eventType)),
			zap.Error(err))
	}
}
