package ports

import "time"

// MetricsCollector records worker pool metrics
type MetricsCollector interface {
	RecordWorkerAllocated(robot string)
	RecordAllocationFailed(reason string)
	RecordWorkerReleased(disposition string)
	RecordRun(outcome string, duration time.Duration)
	RecordAbort(outcome string)
	RecordPoolSize(size, capacity, leaked int)
	RecordWorkerStates(counts map[string]int)
}
