package domain

import "time"

// EventType identifies a worker lifecycle event
type EventType string

const (
	EventTypeWorkerAllocated EventType = "worker.allocated"
	EventTypeRunStarted      EventType = "worker.run.started"
	EventTypeRunCompleted    EventType = "worker.run.completed"
	EventTypeRunAborted      EventType = "worker.run.aborted"
	EventTypeRunFailed       EventType = "worker.run.failed"
	EventTypeStopRequested   EventType = "worker.stop.requested"
	EventTypeStopFailed      EventType = "worker.stop.failed"
	EventTypeWorkerReleased  EventType = "worker.released"
	EventTypeWorkerLeaked    EventType = "worker.leaked"
)

// WorkerEventsTopic is the topic all worker lifecycle events are published on
const WorkerEventsTopic = "worker.events"

// Event is a worker lifecycle notification
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	WorkerID  string                 `json:"workerId"`
	Robot     string                 `json:"robot,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}
