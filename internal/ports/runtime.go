package ports

import (
	"context"
	"errors"
)

var (
	// ErrRobotNotFound is returned by Runtime.Compile when the robot file does not exist
	ErrRobotNotFound = errors.New("robot not found")

	// ErrCompile is returned by Runtime.Compile when the robot is not a valid program
	ErrCompile = errors.New("robot does not compile")
)

// Runtime is a stateful engine that compiles one robot and runs it
// repeatedly. A Runtime is not safe for concurrent runs: RunRobot is only
// ever in flight once at a time, while AbortRobot may be called from
// another goroutine.
type Runtime interface {
	// Compile prepares the robot for execution. It is called exactly once
	// per binding of a Runtime to a robot, before any RunRobot.
	Compile(workDir, robot string) error

	// RunRobot executes the compiled robot and blocks until it completes,
	// fails or is aborted. Cancelling ctx has the same effect as AbortRobot.
	RunRobot(ctx context.Context, parameters map[string]interface{}) (interface{}, error)

	// AbortRobot requests cooperative cancellation of the in-flight run.
	// It returns an error when the runtime could not be stopped.
	AbortRobot() error
}

// RuntimePool hands out Runtimes. Borrowed runtimes are exclusively owned by
// the borrower until they are returned or invalidated.
type RuntimePool interface {
	// Borrow takes a runtime out of the pool, creating one if capacity allows
	Borrow(ctx context.Context) (Runtime, error)

	// Return hands back a runtime that is safe to reuse
	Return(ctx context.Context, rt Runtime) error

	// Invalidate destroys a runtime that can no longer be trusted and frees
	// its slot
	Invalidate(ctx context.Context, rt Runtime) error
}
