// Package domain holds the plain data types shared between the worker pool,
// the adapters and the API layers.
//
// Nothing in this package has behaviour beyond simple helpers; the state
// machine itself lives in internal/application/workers.
package domain
