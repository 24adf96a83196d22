// Package workers implements the bounded pool of robot workers.
//
// A Worker binds one Runtime, borrowed from a ports.RuntimePool, to one
// compiled robot and moves through a small state machine:
//
//	IDLE -> RUNNING -> IDLE            run completed
//	IDLE -> RUNNING -> ABORTING -> IDLE  run aborted
//	IDLE -> RUNNING -> RUNTIME_ERROR   robot failed
//
// The Pool registers workers by id, bounds their number, and makes sure
// every runtime ends up either returned to the runtime pool or destroyed.
//
// The health monitor tracks worker states and lost slots and logs metrics.
package workers
