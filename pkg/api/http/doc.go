// Package http provides the HTTP REST API implementation.
//
// The HTTP server exposes endpoints for:
//   - Worker allocation, runs, stops and release
//   - Worker and pool queries
//   - Health checks
//   - Prometheus metrics
//
// Manager errors are mapped to statuses by their kind: a full pool is 406,
// an unknown robot or worker 404, a compile error or an illegal state 409,
// and runtime failures 500.
package http
