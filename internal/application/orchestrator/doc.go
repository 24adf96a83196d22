// Package orchestrator is the entry point used by the API layers.
//
// The manager sits in front of the worker pool and:
//   - Validates robot names and run parameters
//   - Delegates allocate, run, stop and release to the pool
//   - Keeps a record per worker in the worker store
//   - Publishes lifecycle events to the event bus
//
// A configured run timeout, or a caller that goes away, stops the worker;
// the aborted run is still recorded.
package orchestrator
