package runtimepool

import (
	"context"
	"fmt"
	"io"

	"github.com/aescanero/robotd/internal/ports"
	pool "github.com/jolestar/go-commons-pool/v2"
	"go.uber.org/zap"
)

// Factory creates a new runtime
type Factory func(ctx context.Context) (ports.Runtime, error)

// Config holds runtime pool sizing
type Config struct {
	// MaxTotal bounds the number of runtimes, borrowed or idle
	MaxTotal int
	// MaxIdle bounds the number of runtimes kept for reuse
	MaxIdle int
}

// validator is implemented by runtimes that can check their own health
type validator interface {
	Validate() error
}

// resetter is implemented by runtimes that can drop a compiled robot
type resetter interface {
	Reset() error
}

// Pool implements RuntimePool on top of a commons object pool.
//
// Borrow never blocks: an exhausted pool is reported as an error. Returned
// runtimes are validated and reset before they become idle; a runtime that
// fails either is destroyed.
type Pool struct {
	pool   *pool.ObjectPool
	logger *zap.Logger
}

var _ ports.RuntimePool = (*Pool)(nil)

// Stats is a point in time view of the pool
type Stats struct {
	Active int `json:"active"`
	Idle   int `json:"idle"`
}

// New creates a runtime pool
func New(ctx context.Context, factory Factory, cfg Config, logger *zap.Logger) (*Pool, error) {
	if factory == nil {
		return nil, fmt.Errorf("runtime factory is required")
	}
	if cfg.MaxTotal < 1 {
		return nil, fmt.Errorf("runtime pool max total must be at least 1")
	}
	if cfg.MaxIdle < 0 || cfg.MaxIdle > cfg.MaxTotal {
		cfg.MaxIdle = cfg.MaxTotal
	}

	poolCfg := pool.NewDefaultPoolConfig()
	poolCfg.MaxTotal = cfg.MaxTotal
	poolCfg.MaxIdle = cfg.MaxIdle
	poolCfg.MinIdle = 0
	poolCfg.TestOnReturn = true
	poolCfg.BlockWhenExhausted = false

	p := &Pool{logger: logger}
	p.pool = pool.NewObjectPool(ctx, &runtimeFactory{factory: factory, logger: logger}, poolCfg)
	return p, nil
}

// Borrow takes a runtime out of the pool
func (p *Pool) Borrow(ctx context.Context) (ports.Runtime, error) {
	obj, err := p.pool.BorrowObject(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to borrow runtime: %w", err)
	}
	rt, ok := obj.(ports.Runtime)
	if !ok {
		return nil, fmt.Errorf("pooled object is %T, not a runtime", obj)
	}
	return rt, nil
}

// Return hands back a runtime for reuse
func (p *Pool) Return(ctx context.Context, rt ports.Runtime) error {
	if err := p.pool.ReturnObject(ctx, rt); err != nil {
		return fmt.Errorf("failed to return runtime: %w", err)
	}
	return nil
}

// Invalidate destroys a runtime and frees its slot
func (p *Pool) Invalidate(ctx context.Context, rt ports.Runtime) error {
	if err := p.pool.InvalidateObject(ctx, rt); err != nil {
		return fmt.Errorf("failed to invalidate runtime: %w", err)
	}
	return nil
}

// Stats returns the number of borrowed and idle runtimes
func (p *Pool) Stats() Stats {
	return Stats{
		Active: p.pool.GetNumActive(),
		Idle:   p.pool.GetNumIdle(),
	}
}

// Close destroys idle runtimes. Borrowed runtimes are destroyed when they
// are returned or invalidated.
func (p *Pool) Close(ctx context.Context) {
	stats := p.Stats()
	p.pool.Close(ctx)
	p.logger.Info("runtime pool closed",
		zap.Int("active", stats.Active),
		zap.Int("idle", stats.Idle))
}

// runtimeFactory adapts a Factory to the commons pool lifecycle
type runtimeFactory struct {
	factory Factory
	logger  *zap.Logger
}

func (f *runtimeFactory) MakeObject(ctx context.Context) (*pool.PooledObject, error) {
	rt, err := f.factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating runtime: %w", err)
	}
	f.logger.Debug("runtime created")
	return pool.NewPooledObject(rt), nil
}

func (f *runtimeFactory) DestroyObject(ctx context.Context, object *pool.PooledObject) error {
	if c, ok := object.Object.(io.Closer); ok {
		if err := c.Close(); err != nil {
			return fmt.Errorf("closing runtime: %w", err)
		}
	}
	f.logger.Debug("runtime destroyed")
	return nil
}

func (f *runtimeFactory) ValidateObject(ctx context.Context, object *pool.PooledObject) bool {
	v, ok := object.Object.(validator)
	if !ok {
		return true
	}
	if err := v.Validate(); err != nil {
		f.logger.Info("runtime failed validation, destroying it", zap.Error(err))
		return false
	}
	return true
}

func (f *runtimeFactory) ActivateObject(ctx context.Context, object *pool.PooledObject) error {
	return nil
}

func (f *runtimeFactory) PassivateObject(ctx context.Context, object *pool.PooledObject) error {
	if r, ok := object.Object.(resetter); ok {
		if err := r.Reset(); err != nil {
			return fmt.Errorf("resetting runtime: %w", err)
		}
	}
	return nil
}
