// Package runtimepool implements ports.RuntimePool with
// github.com/jolestar/go-commons-pool.
package runtimepool
