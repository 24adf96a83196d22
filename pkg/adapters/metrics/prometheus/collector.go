package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector implements MetricsCollector using Prometheus
type Collector struct {
	workersAllocated  *prometheus.CounterVec
	allocationsFailed *prometheus.CounterVec
	workersReleased   *prometheus.CounterVec
	runs              *prometheus.CounterVec
	runDuration       *prometheus.HistogramVec
	aborts            *prometheus.CounterVec

	poolSize     prometheus.Gauge
	poolCapacity prometheus.Gauge
	poolLeaked   prometheus.Gauge
	workerStates *prometheus.GaugeVec

	runtimesActive prometheus.Gauge
	runtimesIdle   prometheus.Gauge
}

// NewCollector creates a new Prometheus metrics collector registered on reg.
// Pass prometheus.DefaultRegisterer to expose the metrics on the default
// /metrics handler.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		workersAllocated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "robotd_workers_allocated_total",
				Help: "Total number of workers allocated",
			},
			[]string{"robot"},
		),
		allocationsFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "robotd_worker_allocations_failed_total",
				Help: "Total number of failed worker allocations",
			},
			[]string{"reason"},
		),
		workersReleased: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "robotd_workers_released_total",
				Help: "Total number of workers released, by what happened to their runtime",
			},
			[]string{"disposition"},
		),
		runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "robotd_robot_runs_total",
				Help: "Total number of robot runs",
			},
			[]string{"outcome"},
		),
		runDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "robotd_robot_run_duration_seconds",
				Help:    "Robot run duration in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"outcome"},
		),
		aborts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "robotd_robot_aborts_total",
				Help: "Total number of abort requests",
			},
			[]string{"outcome"},
		),
		poolSize: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "robotd_worker_pool_size",
				Help: "Number of allocated workers",
			},
		),
		poolCapacity: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "robotd_worker_pool_capacity",
				Help: "Maximum number of workers, reduced by leaked slots",
			},
		),
		poolLeaked: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "robotd_worker_pool_leaked_slots",
				Help: "Number of slots lost to runtimes that could not be destroyed",
			},
		),
		workerStates: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "robotd_workers",
				Help: "Current number of workers by state",
			},
			[]string{"state"},
		),
		runtimesActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "robotd_runtimes_active",
				Help: "Number of runtimes borrowed from the runtime pool",
			},
		),
		runtimesIdle: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "robotd_runtimes_idle",
				Help: "Number of runtimes kept idle for reuse",
			},
		),
	}
}

// RecordWorkerAllocated records a successful allocation
func (c *Collector) RecordWorkerAllocated(robot string) {
	c.workersAllocated.WithLabelValues(robot).Inc()
}

// RecordAllocationFailed records a failed allocation
func (c *Collector) RecordAllocationFailed(reason string) {
	c.allocationsFailed.WithLabelValues(reason).Inc()
}

// RecordWorkerReleased records a released worker
func (c *Collector) RecordWorkerReleased(disposition string) {
	c.workersReleased.WithLabelValues(disposition).Inc()
}

// RecordRun records a finished run
func (c *Collector) RecordRun(outcome string, duration time.Duration) {
	c.runs.WithLabelValues(outcome).Inc()
	c.runDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordAbort records an abort request
func (c *Collector) RecordAbort(outcome string) {
	c.aborts.WithLabelValues(outcome).Inc()
}

// RecordPoolSize records pool occupancy
func (c *Collector) RecordPoolSize(size, capacity, leaked int) {
	c.poolSize.Set(float64(size))
	c.poolCapacity.Set(float64(capacity))
	c.poolLeaked.Set(float64(leaked))
}

// RecordWorkerStates records the number of workers per state
func (c *Collector) RecordWorkerStates(counts map[string]int) {
	for state, n := range counts {
		c.workerStates.WithLabelValues(state).Set(float64(n))
	}
}

// RecordRuntimePool records runtime pool occupancy
func (c *Collector) RecordRuntimePool(active, idle int) {
	c.runtimesActive.Set(float64(active))
	c.runtimesIdle.Set(float64(idle))
}
