package workers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

type recordingMetrics struct {
	nopMetrics

	mu     sync.Mutex
	states map[string]int
	size   int
}

func (m *recordingMetrics) RecordWorkerStates(counts map[string]int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = counts
}

func (m *recordingMetrics) RecordPoolSize(size, capacity, leaked int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.size = size
}

func TestHealthMonitorStatus(t *testing.T) {
	runtimes := newFakeRuntimePool(nil)
	metrics := &recordingMetrics{}
	p := NewPool(3, testWorkDir, runtimes, metrics, zaptest.NewLogger(t), time.Second)
	h := NewHealthMonitor(p, time.Hour, zaptest.NewLogger(t))

	status := h.Check()
	require.True(t, status.Healthy)
	require.Equal(t, 0, status.TotalWorkers)
	require.Equal(t, 3, status.Capacity)

	_, err := p.AllocateWorker(context.Background(), "ok")
	require.NoError(t, err)

	runtimes.factory = func() *fakeRuntime {
		rt := newFakeRuntime()
		rt.runErr = errors.New("robot failed")
		return rt
	}
	failing, err := p.AllocateWorker(context.Background(), "failing")
	require.NoError(t, err)
	_, err = p.RunWorker(context.Background(), failing, nil)
	require.ErrorIs(t, err, ErrRuntimeExecution)

	var seen *HealthStatus
	h.OnCheck(func(s *HealthStatus) { seen = s })
	status = h.Check()
	require.Same(t, status, seen)
	require.False(t, status.Healthy)
	require.Equal(t, 2, status.TotalWorkers)
	require.Equal(t, 1, status.States[StateIdle])
	require.Equal(t, 1, status.States[StateRuntimeError])
	require.Equal(t, 0, status.States[StateRunning])

	metrics.mu.Lock()
	require.Equal(t, 1, metrics.states["RUNTIME_ERROR"])
	require.Equal(t, 2, metrics.size)
	metrics.mu.Unlock()

	require.NoError(t, p.ReleaseWorker(context.Background(), failing))
	require.True(t, h.IsHealthy())
}

func TestHealthMonitorStartStop(t *testing.T) {
	// The monitor goroutine may outlive the test by one tick.
	p := NewPool(1, testWorkDir, newFakeRuntimePool(nil), nil, zap.NewNop(), time.Second)
	h := NewHealthMonitor(p, 10*time.Millisecond, zap.NewNop())

	checked := make(chan struct{}, 1)
	h.OnCheck(func(*HealthStatus) {
		select {
		case checked <- struct{}{}:
		default:
		}
	})
	h.Start()
	h.Start()

	select {
	case <-checked:
	case <-time.After(5 * time.Second):
		t.Fatal("health check never ran")
	}
	h.Stop()
	h.Stop()
}
