package workers

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// HealthMonitor periodically inspects the worker pool
type HealthMonitor struct {
	pool     *Pool
	interval time.Duration
	logger   *zap.Logger

	mu       sync.RWMutex
	running  bool
	stopCh   chan struct{}
	listener func(*HealthStatus)
}

// HealthStatus represents the health status of the worker pool
type HealthStatus struct {
	TotalWorkers int                 `json:"totalWorkers"`
	Capacity     int                 `json:"capacity"`
	Leaked       int                 `json:"leaked"`
	States       map[WorkerState]int `json:"states"`
	Healthy      bool                `json:"healthy"`
	Timestamp    time.Time           `json:"timestamp"`
}

// NewHealthMonitor creates a new health monitor
func NewHealthMonitor(pool *Pool, interval time.Duration, logger *zap.Logger) *HealthMonitor {
	return &HealthMonitor{
		pool:     pool,
		interval: interval,
		logger:   logger,
	}
}

// OnCheck registers fn to be called with the result of every periodic check
func (h *HealthMonitor) OnCheck(fn func(*HealthStatus)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listener = fn
}

// Start starts the health monitor
func (h *HealthMonitor) Start() {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.stopCh = make(chan struct{})
	stopCh := h.stopCh
	h.mu.Unlock()

	go h.run(stopCh)
}

// Stop stops the health monitor
func (h *HealthMonitor) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	stopCh := h.stopCh
	h.mu.Unlock()

	close(stopCh)
}

func (h *HealthMonitor) run(stopCh <-chan struct{}) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.Check()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			h.Check()
		}
	}
}

// Check inspects the pool once, logs and records the result and notifies
// the registered listener.
func (h *HealthMonitor) Check() *HealthStatus {
	status := h.GetStatus()

	h.logger.Debug("worker pool health check",
		zap.Int("total", status.TotalWorkers),
		zap.Int("idle", status.States[StateIdle]),
		zap.Int("running", status.States[StateRunning]),
		zap.Int("aborting", status.States[StateAborting]),
		zap.Int("runtime_error", status.States[StateRuntimeError]),
		zap.Int("leaked", status.Leaked),
		zap.Bool("healthy", status.Healthy))

	counts := make(map[string]int, len(status.States))
	for state, n := range status.States {
		counts[state.String()] = n
	}
	h.pool.metrics.RecordWorkerStates(counts)
	h.pool.metrics.RecordPoolSize(status.TotalWorkers, status.Capacity, status.Leaked)

	if status.Leaked > 0 {
		h.logger.Warn("worker pool has lost runtime slots",
			zap.Int("leaked", status.Leaked),
			zap.Int("capacity", status.Capacity))
	}
	if n := status.States[StateRuntimeError]; n > 0 {
		h.logger.Warn("workers are waiting to be released after a runtime error",
			zap.Int("count", n))
	}
	if status.Capacity > 0 && status.TotalWorkers == status.Capacity {
		h.logger.Warn("worker pool is full - consider raising WORKER_POOL_SIZE",
			zap.Int("capacity", status.Capacity))
	}

	h.mu.RLock()
	listener := h.listener
	h.mu.RUnlock()
	if listener != nil {
		listener(status)
	}
	return status
}

// GetStatus returns the current health status
func (h *HealthMonitor) GetStatus() *HealthStatus {
	states := make(map[WorkerState]int, len(AllStates))
	for _, s := range AllStates {
		states[s] = 0
	}
	infos := h.pool.Snapshot()
	for _, info := range infos {
		states[info.State]++
	}

	leaked := h.pool.Leaked()
	return &HealthStatus{
		TotalWorkers: len(infos),
		Capacity:     h.pool.MaxSize() - leaked,
		Leaked:       leaked,
		States:       states,
		Healthy:      leaked == 0 && states[StateRuntimeError] == 0,
		Timestamp:    time.Now(),
	}
}

// IsHealthy returns true if the worker pool is healthy
func (h *HealthMonitor) IsHealthy() bool {
	return h.GetStatus().Healthy
}
