// Package ports declares the interfaces the worker pool and the orchestrator
// depend on. Adapters under pkg/adapters implement them.
package ports
