package workers

import (
	"fmt"

	"github.com/google/uuid"
)

// WorkerState is the state of a worker's execution slot
type WorkerState int

const (
	StateIdle WorkerState = iota
	StateRunning
	StateAborting
	StateRuntimeError
)

// AllStates lists every state, in declaration order
var AllStates = []WorkerState{StateIdle, StateRunning, StateAborting, StateRuntimeError}

func (s WorkerState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateAborting:
		return "ABORTING"
	case StateRuntimeError:
		return "RUNTIME_ERROR"
	default:
		return fmt.Sprintf("WorkerState(%d)", int(s))
	}
}

// MarshalText encodes the state by name
func (s WorkerState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// WorkerID identifies an allocated worker. It is minted by the pool and
// never reused while the worker it names is registered.
type WorkerID uuid.UUID

// NewWorkerID returns a fresh random id
func NewWorkerID() WorkerID {
	return WorkerID(uuid.New())
}

// ParseWorkerID parses the string form of a WorkerID
func ParseWorkerID(s string) (WorkerID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return WorkerID{}, fmt.Errorf("invalid worker id %q: %w", s, err)
	}
	return WorkerID(u), nil
}

func (id WorkerID) String() string {
	return uuid.UUID(id).String()
}

// IsZero reports whether id is the zero value
func (id WorkerID) IsZero() bool {
	return id == WorkerID{}
}

// MarshalText encodes the id in its canonical string form
func (id WorkerID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}
