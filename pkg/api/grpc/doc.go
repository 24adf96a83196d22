// Package grpc exposes the standard grpc.health.v1 service. The
// robotd.WorkerPool service reports SERVING while the worker pool is
// healthy and NOT_SERVING once runtime slots leak or workers sit in
// RUNTIME_ERROR.
package grpc
