package workers

import (
	"errors"
	"fmt"

	"github.com/aescanero/robotd/internal/ports"
)

// ErrorKind is the closed set of failures the worker pool reports
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindInvalidState: the operation is illegal in the worker's current state
	KindInvalidState
	// KindNotFound: no worker is registered under the id
	KindNotFound
	// KindAllocate: capacity reached, no runtime available, or the robot did not compile
	KindAllocate
	// KindRuntimeExecution: the robot failed while running
	KindRuntimeExecution
	// KindAbortFailed: the runtime could not honour a cancellation request
	KindAbortFailed
	// KindPoolFailure: an unsafe runtime could not be destroyed; its slot is lost
	KindPoolFailure
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidState:
		return "invalid state"
	case KindNotFound:
		return "not found"
	case KindAllocate:
		return "allocate worker failed"
	case KindRuntimeExecution:
		return "runtime execution failed"
	case KindAbortFailed:
		return "abort failed"
	case KindPoolFailure:
		return "pool failure"
	default:
		return "unknown"
	}
}

// Error is returned by every Worker and Pool operation
type Error struct {
	Kind     ErrorKind
	Op       string
	WorkerID WorkerID
	Msg      string
	Err      error
}

// Sentinels for errors.Is; they match any *Error of the same kind.
var (
	ErrInvalidState     = &Error{Kind: KindInvalidState}
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrAllocate         = &Error{Kind: KindAllocate}
	ErrRuntimeExecution = &Error{Kind: KindRuntimeExecution}
	ErrAbortFailed      = &Error{Kind: KindAbortFailed}
	ErrPoolFailure      = &Error{Kind: KindPoolFailure}
)

// Allocation sub-cases, wrapped by KindAllocate errors.
var (
	ErrPoolExhausted      = errors.New("the worker pool has reached its maximum amount of workers")
	ErrRuntimeUnavailable = errors.New("no runtime available")
	ErrRobotNotFound      = ports.ErrRobotNotFound
	ErrCompile            = ports.ErrCompile
)

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if !e.WorkerID.IsZero() {
		msg = fmt.Sprintf("%s (worker %s)", msg, e.WorkerID)
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel of e's kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Msg == "" && t.Err == nil && t.WorkerID.IsZero()
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func invalidState(op string, id WorkerID, format string, args ...interface{}) *Error {
	return &Error{Kind: KindInvalidState, Op: op, WorkerID: id, Msg: fmt.Sprintf(format, args...)}
}

func notFound(op string, id WorkerID) *Error {
	return &Error{Kind: KindNotFound, Op: op, WorkerID: id, Msg: "the worker cannot be found"}
}

func allocateFailed(err error) *Error {
	return &Error{Kind: KindAllocate, Op: "allocate", Err: err}
}
