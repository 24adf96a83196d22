package workers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aescanero/robotd/internal/domain"
	"github.com/aescanero/robotd/internal/ports"
	"go.uber.org/zap"
)

// Pool owns every allocated Worker and bounds how many can exist at once.
//
// A slot is counted from the moment an allocation or a release starts
// until it finishes, so the number of live workers plus in-flight
// allocations and releases never exceeds the maximum. Runtimes that could
// neither be returned nor destroyed stay counted as leaked for the lifetime
// of the pool.
type Pool struct {
	maxSize      int
	workDir      string
	runtimes     ports.RuntimePool
	metrics      ports.MetricsCollector
	logger       *zap.Logger
	closeTimeout time.Duration

	mu       sync.Mutex
	workers  map[WorkerID]*Worker
	reserved int
	leaked   int
}

// WorkerInfo is a point in time view of a worker
type WorkerInfo struct {
	ID          WorkerID    `json:"workerId"`
	Robot       string      `json:"robot"`
	State       WorkerState `json:"state"`
	AllocatedAt time.Time   `json:"allocatedAt"`
}

// NewPool creates a worker pool that holds at most maxSize workers. Robots
// are resolved relative to workDir.
func NewPool(
	maxSize int,
	workDir string,
	runtimes ports.RuntimePool,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
	closeTimeout time.Duration,
) *Pool {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Pool{
		maxSize:      maxSize,
		workDir:      workDir,
		runtimes:     runtimes,
		metrics:      metrics,
		logger:       logger,
		closeTimeout: closeTimeout,
		workers:      make(map[WorkerID]*Worker),
	}
}

// AllocateWorker borrows a runtime, compiles robot on it and registers a new
// IDLE worker. On failure no worker is registered and the runtime has been
// handed back to the runtime pool.
func (p *Pool) AllocateWorker(ctx context.Context, robot string) (WorkerID, error) {
	p.mu.Lock()
	if len(p.workers)+p.reserved+p.leaked >= p.maxSize {
		p.mu.Unlock()
		p.metrics.RecordAllocationFailed("capacity")
		p.logger.Warn("worker pool exhausted",
			zap.String("robot", robot),
			zap.Int("max_size", p.maxSize))
		return WorkerID{}, allocateFailed(ErrPoolExhausted)
	}
	p.reserved++
	id := NewWorkerID()
	for p.workers[id] != nil {
		id = NewWorkerID()
	}
	p.mu.Unlock()

	w, leaked, err := p.buildWorker(ctx, id, robot)

	p.mu.Lock()
	p.reserved--
	if leaked {
		p.leaked++
	}
	if err == nil {
		p.workers[id] = w
	}
	size, capacity, leakedTotal := len(p.workers), p.maxSize-p.leaked, p.leaked
	p.mu.Unlock()

	p.metrics.RecordPoolSize(size, capacity, leakedTotal)
	if err != nil {
		return WorkerID{}, err
	}

	p.metrics.RecordWorkerAllocated(robot)
	p.logger.Info("worker allocated",
		zap.String("worker_id", id.String()),
		zap.String("robot", robot),
		zap.Int("pool_size", size))
	return id, nil
}

// buildWorker runs outside the pool lock. The returned flag reports that
// the borrowed runtime could not be disposed of.
func (p *Pool) buildWorker(ctx context.Context, id WorkerID, robot string) (*Worker, bool, error) {
	rt, err := p.runtimes.Borrow(ctx)
	if err != nil {
		p.metrics.RecordAllocationFailed("runtime_unavailable")
		p.logger.Error("failed to borrow runtime",
			zap.String("robot", robot),
			zap.Error(err))
		return nil, false, allocateFailed(fmt.Errorf("%w: %w", ErrRuntimeUnavailable, err))
	}

	w := newWorker(id, p.workDir, robot, rt, p.runtimes, p.closeTimeout, p.logger)
	cerr := w.compile()
	if cerr == nil {
		return w, false, nil
	}

	reason := "compile"
	if errors.Is(cerr, ErrRobotNotFound) {
		reason = "robot_not_found"
	} else if !errors.Is(cerr, ErrCompile) {
		cerr = fmt.Errorf("%w: %w", ErrCompile, cerr)
	}
	p.metrics.RecordAllocationFailed(reason)
	p.logger.Warn("failed to compile robot",
		zap.String("robot", robot),
		zap.Error(cerr))

	// A missing robot never touched the runtime, so it can be reused.
	// Anything else may have left partial state behind.
	var derr error
	if reason == "robot_not_found" {
		derr = p.runtimes.Return(ctx, rt)
	}
	if reason != "robot_not_found" || derr != nil {
		derr = p.runtimes.Invalidate(ctx, rt)
	}
	if derr != nil {
		p.logger.Error("failed to dispose of runtime after compile failure, slot is lost",
			zap.String("robot", robot),
			zap.Error(derr))
		return nil, true, allocateFailed(cerr)
	}
	return nil, false, allocateFailed(cerr)
}

// lookup returns the registered worker or a NotFound error
func (p *Pool) lookup(op string, id WorkerID) (*Worker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.workers[id]
	if !ok {
		return nil, notFound(op, id)
	}
	return w, nil
}

// Worker returns the registered worker with the given id
func (p *Pool) Worker(id WorkerID) (*Worker, error) {
	return p.lookup("get", id)
}

// RunWorker runs the robot of an IDLE worker and blocks until it finishes.
func (p *Pool) RunWorker(ctx context.Context, id WorkerID, parameters map[string]interface{}) (*RunResult, error) {
	return p.RunWorkerNotify(ctx, id, parameters, nil)
}

// RunWorkerNotify is RunWorker with a callback invoked once the worker has
// moved to RUNNING, before the robot starts. It is not called for a run
// that is rejected.
func (p *Pool) RunWorkerNotify(ctx context.Context, id WorkerID, parameters map[string]interface{}, started func()) (*RunResult, error) {
	w, err := p.lookup("run", id)
	if err != nil {
		return nil, err
	}

	result, err := w.run(ctx, parameters, started)
	switch {
	case err == nil && result.Aborted:
		p.metrics.RecordRun(string(domain.RunOutcomeAborted), result.Duration)
	case err == nil:
		p.metrics.RecordRun(string(domain.RunOutcomeCompleted), result.Duration)
	case KindOf(err) == KindRuntimeExecution:
		p.metrics.RecordRun(string(domain.RunOutcomeFailed), 0)
	}
	return result, err
}

// StopWorker asks a RUNNING worker to abort its robot. It does not wait for
// the run to return.
func (p *Pool) StopWorker(id WorkerID) error {
	w, err := p.lookup("stop", id)
	if err != nil {
		return err
	}
	return p.recordAbort(w.Abort())
}

// StopWorkerRun is StopWorker limited to one run of the worker, as numbered
// by Worker.Runs. A run that is already over is reported as InvalidState.
func (p *Pool) StopWorkerRun(id WorkerID, run uint64) error {
	w, err := p.lookup("stop", id)
	if err != nil {
		return err
	}
	return p.recordAbort(w.AbortRun(run))
}

func (p *Pool) recordAbort(err error) error {
	switch KindOf(err) {
	case KindUnknown:
		p.metrics.RecordAbort("requested")
	case KindAbortFailed:
		p.metrics.RecordAbort("failed")
	case KindInvalidState:
		p.metrics.RecordAbort("rejected")
	}
	return err
}

// ReleaseWorker unregisters an IDLE or RUNTIME_ERROR worker and disposes of
// its runtime. Releasing a RUNNING or ABORTING worker is rejected; stop it
// first. Once ReleaseWorker returns, the id is unknown to the pool even if
// it reports a PoolFailure.
func (p *Pool) ReleaseWorker(ctx context.Context, id WorkerID) error {
	p.mu.Lock()
	w, ok := p.workers[id]
	if !ok {
		p.mu.Unlock()
		return notFound("release", id)
	}
	if err := w.markReleasing(); err != nil {
		p.mu.Unlock()
		return err
	}
	delete(p.workers, id)
	p.reserved++
	p.mu.Unlock()

	disposition, err := w.close(ctx)

	p.mu.Lock()
	p.reserved--
	if KindOf(err) == KindPoolFailure {
		p.leaked++
	}
	size, capacity, leaked := len(p.workers), p.maxSize-p.leaked, p.leaked
	p.mu.Unlock()

	p.metrics.RecordWorkerReleased(disposition)
	p.metrics.RecordPoolSize(size, capacity, leaked)
	if err != nil {
		p.logger.Error("worker released but its runtime was lost",
			zap.String("worker_id", id.String()),
			zap.Int("leaked", leaked),
			zap.Error(err))
		return err
	}

	p.logger.Info("worker released",
		zap.String("worker_id", id.String()),
		zap.String("disposition", disposition),
		zap.Int("pool_size", size))
	return nil
}

// Released reports what happened to one worker in ReleaseAllWorkers
type Released struct {
	ID    WorkerID
	Robot string
	// Disposition is DispositionReturned, DispositionInvalidated or
	// DispositionLeaked
	Disposition string
	Err         error
}

// ReleaseAllWorkers stops and releases every registered worker, whatever
// its state. Workers are closed concurrently. Per-worker failures are
// logged and joined into the returned error; the pool is empty afterwards
// in every case. The outcome of each worker is reported in allocation
// order.
func (p *Pool) ReleaseAllWorkers(ctx context.Context) ([]Released, error) {
	p.mu.Lock()
	all := make([]*Worker, 0, len(p.workers))
	for id, w := range p.workers {
		all = append(all, w)
		delete(p.workers, id)
	}
	p.reserved += len(all)
	p.mu.Unlock()

	if len(all) == 0 {
		return nil, nil
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].AllocatedAt().Before(all[j].AllocatedAt())
	})
	p.logger.Info("releasing all workers", zap.Int("count", len(all)))

	var (
		wg       sync.WaitGroup
		errM     sync.Mutex
		errs     []error
		released = make([]Released, len(all))
	)
	for i, w := range all {
		wg.Add(1)
		go func(i int, w *Worker) {
			defer wg.Done()
			disposition, err := w.close(ctx)
			released[i] = Released{ID: w.ID(), Robot: w.Robot(), Disposition: disposition, Err: err}

			p.mu.Lock()
			p.reserved--
			if KindOf(err) == KindPoolFailure {
				p.leaked++
			}
			p.mu.Unlock()

			p.metrics.RecordWorkerReleased(disposition)
			if err != nil {
				p.logger.Error("failed to release worker during shutdown",
					zap.String("worker_id", w.ID().String()),
					zap.String("robot", w.Robot()),
					zap.Error(err))
				errM.Lock()
				errs = append(errs, err)
				errM.Unlock()
			}
		}(i, w)
	}
	wg.Wait()

	p.mu.Lock()
	size, capacity, leaked := len(p.workers), p.maxSize-p.leaked, p.leaked
	p.mu.Unlock()
	p.metrics.RecordPoolSize(size, capacity, leaked)

	return released, errors.Join(errs...)
}

// PoolSize returns the number of registered workers
func (p *Pool) PoolSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// MaxSize returns the configured maximum number of workers
func (p *Pool) MaxSize() int {
	return p.maxSize
}

// Capacity returns the maximum number of workers reduced by leaked slots
func (p *Pool) Capacity() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxSize - p.leaked
}

// Leaked returns the number of slots lost to runtimes that could not be destroyed
func (p *Pool) Leaked() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.leaked
}

// Snapshot returns every registered worker, oldest first
func (p *Pool) Snapshot() []WorkerInfo {
	p.mu.Lock()
	all := make([]*Worker, 0, len(p.workers))
	for _, w := range p.workers {
		all = append(all, w)
	}
	p.mu.Unlock()

	infos := make([]WorkerInfo, 0, len(all))
	for _, w := range all {
		infos = append(infos, WorkerInfo{
			ID:          w.ID(),
			Robot:       w.Robot(),
			State:       w.State(),
			AllocatedAt: w.AllocatedAt(),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].AllocatedAt.Before(infos[j].AllocatedAt)
	})
	return infos
}

type nopMetrics struct{}

func (nopMetrics) RecordWorkerAllocated(string) {}
func (nopMetrics) RecordAllocationFailed(string) {}
func (nopMetrics) RecordWorkerReleased(string) {}
func (nopMetrics) RecordRun(string, time.Duration) {}
func (nopMetrics) RecordAbort(string) {}
func (nopMetrics) RecordPoolSize(int, int, int) {}
func (nopMetrics) RecordWorkerStates(map[string]int) {}
