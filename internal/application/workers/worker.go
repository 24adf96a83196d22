package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aescanero/robotd/internal/ports"
	"go.uber.org/zap"
)

// Runtime dispositions reported when a worker is closed
const (
	DispositionReturned    = "returned"
	DispositionInvalidated = "invalidated"
	DispositionLeaked      = "leaked"
)

// RunResult is the outcome of a run that did not fail
type RunResult struct {
	// Value is what the robot returned, nil when it returned nothing or was aborted
	Value interface{}
	// Aborted is set when the run ended because of an abort request
	Aborted  bool
	Duration time.Duration
}

// Worker binds one borrowed runtime to one compiled robot.
//
// The state field is guarded by mu, which is only held for validation and
// transitions. The runtime call itself happens outside mu so that Abort and
// State never wait for a long running robot.
type Worker struct {
	id           WorkerID
	workDir      string
	robot        string
	allocatedAt  time.Time
	runtimes     ports.RuntimePool
	closeTimeout time.Duration
	logger       *zap.Logger

	mu          sync.Mutex
	state       WorkerState
	runtime     ports.Runtime
	cancel      context.CancelFunc
	done        chan struct{}
	runs        uint64
	abortFailed bool
	closed      bool
}

func newWorker(id WorkerID, workDir, robot string, rt ports.Runtime, runtimes ports.RuntimePool, closeTimeout time.Duration, logger *zap.Logger) *Worker {
	return &Worker{
		id:           id,
		workDir:      workDir,
		robot:        robot,
		allocatedAt:  time.Now(),
		runtimes:     runtimes,
		closeTimeout: closeTimeout,
		logger: logger.With(
			zap.String("worker_id", id.String()),
			zap.String("robot", robot)),
		state:   StateIdle,
		runtime: rt,
	}
}

// ID returns the worker id
func (w *Worker) ID() WorkerID {
	return w.id
}

// Robot returns the robot name the worker was allocated for
func (w *Worker) Robot() string {
	return w.robot
}

// WorkDir returns the directory the robot was resolved against
func (w *Worker) WorkDir() string {
	return w.workDir
}

// AllocatedAt returns when the worker was created
func (w *Worker) AllocatedAt() time.Time {
	return w.allocatedAt
}

// State returns the current state
func (w *Worker) State() WorkerState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Runs returns how many runs the worker has accepted. While a run is in
// flight it identifies that run.
func (w *Worker) Runs() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.runs
}

// compile is only called by the pool before the worker is registered, so
// nothing else can observe the worker yet.
func (w *Worker) compile() error {
	return w.runtime.Compile(w.workDir, w.robot)
}

// Run executes the robot with the given parameters. The worker must be IDLE.
//
// A run that ends because of Abort returns a RunResult with Aborted set and
// leaves the worker IDLE. A robot failure leaves the worker in
// RUNTIME_ERROR, after which only Close is meaningful.
func (w *Worker) Run(ctx context.Context, parameters map[string]interface{}) (*RunResult, error) {
	return w.run(ctx, parameters, nil)
}

// run calls started, when set, after the IDLE to RUNNING transition.
func (w *Worker) run(ctx context.Context, parameters map[string]interface{}, started func()) (*RunResult, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil, invalidState("run", w.id, "worker is closed")
	}
	if w.state != StateIdle {
		state := w.state
		w.mu.Unlock()
		return nil, invalidState("run", w.id, "worker is not ready for running (state %s)", state)
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	w.state = StateRunning
	w.runs++
	w.abortFailed = false
	w.cancel = cancel
	w.done = done
	rt := w.runtime
	w.mu.Unlock()

	if started != nil {
		started()
	}
	w.logger.Debug("robot run started")
	start := time.Now()
	value, err := execute(runCtx, rt, parameters)
	duration := time.Since(start)
	cancel()

	w.mu.Lock()
	defer w.mu.Unlock()
	defer close(done)
	w.cancel = nil

	switch {
	case w.state == StateAborting && w.abortFailed:
		w.state = StateRuntimeError
		w.logger.Error("robot stopped after a failed abort, runtime is no longer trusted",
			zap.Duration("duration", duration),
			zap.Error(err))
		return nil, &Error{Kind: KindRuntimeExecution, Op: "run", WorkerID: w.id, Msg: "robot stopped after a failed abort", Err: err}

	case w.state == StateAborting:
		w.state = StateIdle
		w.logger.Info("robot run aborted", zap.Duration("duration", duration))
		return &RunResult{Aborted: true, Duration: duration}, nil

	case err != nil && ctx.Err() != nil && isCancellation(err):
		// The caller went away; the runtime honoured the cancellation.
		w.state = StateIdle
		w.logger.Info("robot run cancelled by caller",
			zap.Duration("duration", duration),
			zap.Error(ctx.Err()))
		return &RunResult{Aborted: true, Duration: duration}, nil

	case err != nil:
		w.state = StateRuntimeError
		w.logger.Warn("robot run failed",
			zap.Duration("duration", duration),
			zap.Error(err))
		return nil, &Error{Kind: KindRuntimeExecution, Op: "run", WorkerID: w.id, Err: err}

	default:
		w.state = StateIdle
		w.logger.Debug("robot run completed", zap.Duration("duration", duration))
		return &RunResult{Value: value, Duration: duration}, nil
	}
}

// isCancellation reports whether the runtime stopped because its context
// ended rather than because the robot failed.
func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// execute calls the runtime, converting a panic inside it into an error.
func execute(ctx context.Context, rt ports.Runtime, parameters map[string]interface{}) (value interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("runtime panic: %v", r)
		}
	}()
	return rt.RunRobot(ctx, parameters)
}

// Abort requests cancellation of the in-flight run. The worker must be
// RUNNING. Abort does not wait for Run to return; the worker becomes IDLE
// once the runtime has actually stopped.
func (w *Worker) Abort() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return invalidState("abort", w.id, "worker is closed")
	}
	return w.abortLocked()
}

// AbortRun is Abort limited to the given run, as numbered by Runs. It is
// rejected once that run is over, even if a later run is in flight.
func (w *Worker) AbortRun(run uint64) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return invalidState("abort", w.id, "worker is closed")
	}
	if w.runs != run {
		w.mu.Unlock()
		return invalidState("abort", w.id, "run %d is over", run)
	}
	return w.abortLocked()
}

// abortLocked must be called with mu held; it releases it.
func (w *Worker) abortLocked() error {
	if w.state != StateRunning {
		state := w.state
		w.mu.Unlock()
		return invalidState("abort", w.id, "worker is not running (state %s)", state)
	}
	w.state = StateAborting
	if w.cancel != nil {
		w.cancel()
	}
	rt := w.runtime
	w.mu.Unlock()

	w.logger.Info("aborting robot")
	if err := rt.AbortRobot(); err != nil {
		w.mu.Lock()
		if w.state == StateAborting {
			w.abortFailed = true
		}
		w.mu.Unlock()
		w.logger.Error("failed to abort robot", zap.Error(err))
		return &Error{Kind: KindAbortFailed, Op: "abort", WorkerID: w.id, Err: err}
	}
	return nil
}

// markReleasing closes the worker to new runs if it is in a releasable
// state. Only IDLE and RUNTIME_ERROR workers can be released.
func (w *Worker) markReleasing() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return invalidState("release", w.id, "worker is already being released")
	}
	if w.state != StateIdle && w.state != StateRuntimeError {
		return invalidState("release", w.id, "the worker cannot be released as it is in the %s state", w.state)
	}
	w.closed = true
	return nil
}

// Close stops any in-flight run, waiting up to the close timeout for it to
// settle, and hands the runtime back to the runtime pool. The runtime is
// returned for reuse only when the worker ends up IDLE; otherwise it is
// invalidated. A failed invalidation is reported as KindPoolFailure.
func (w *Worker) Close(ctx context.Context) error {
	_, err := w.close(ctx)
	return err
}

func (w *Worker) close(ctx context.Context) (string, error) {
	w.mu.Lock()
	if w.runtime == nil {
		w.mu.Unlock()
		return "", nil
	}
	w.closed = true
	state := w.state
	done := w.done

	unsafe := false
	if state == StateRunning {
		// abortLocked releases mu
		if err := w.abortLocked(); err != nil && KindOf(err) != KindInvalidState {
			unsafe = true
		}
	} else {
		w.mu.Unlock()
	}

	if state == StateRunning || state == StateAborting {
		timer := time.NewTimer(w.closeTimeout)
		select {
		case <-done:
		case <-timer.C:
			unsafe = true
			w.logger.Warn("robot did not stop within the close timeout",
				zap.Duration("timeout", w.closeTimeout))
		}
		timer.Stop()
	}

	w.mu.Lock()
	if w.state != StateIdle {
		unsafe = true
	}
	rt := w.runtime
	w.runtime = nil
	w.mu.Unlock()

	return w.dispose(ctx, rt, unsafe)
}

func (w *Worker) dispose(ctx context.Context, rt ports.Runtime, unsafe bool) (string, error) {
	if !unsafe {
		err := w.runtimes.Return(ctx, rt)
		if err == nil {
			w.logger.Debug("runtime returned to pool")
			return DispositionReturned, nil
		}
		w.logger.Warn("failed to return runtime, invalidating it", zap.Error(err))
	}

	if err := w.runtimes.Invalidate(ctx, rt); err != nil {
		return DispositionLeaked, &Error{Kind: KindPoolFailure, Op: "close", WorkerID: w.id, Msg: "runtime could not be invalidated", Err: err}
	}
	w.logger.Info("runtime invalidated")
	return DispositionInvalidated, nil
}
