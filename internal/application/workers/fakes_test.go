package workers

import (
	"context"
	"errors"
	"os"
	"sync"

	"github.com/aescanero/robotd/internal/ports"
)

// fakeRuntime is a scriptable ports.Runtime
type fakeRuntime struct {
	compileErr error
	runErr     error
	abortErr   error
	result     interface{}
	panicWith  interface{}

	// block makes RunRobot wait until release is closed or, unless
	// ignoreCancel is set, until its context is done.
	block        bool
	ignoreCancel bool
	release      chan struct{}
	started      chan struct{}

	mu       sync.Mutex
	compiled string
	runs     int
	aborts   int
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		release: make(chan struct{}),
		started: make(chan struct{}, 16),
	}
}

func (f *fakeRuntime) Compile(workDir, robot string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.compileErr != nil {
		return f.compileErr
	}
	f.compiled = workDir + string(os.PathSeparator) + robot
	return nil
}

func (f *fakeRuntime) RunRobot(ctx context.Context, parameters map[string]interface{}) (interface{}, error) {
	f.mu.Lock()
	f.runs++
	f.mu.Unlock()
	f.started <- struct{}{}

	if f.panicWith != nil {
		panic(f.panicWith)
	}
	if f.block {
		if f.ignoreCancel {
			<-f.release
		} else {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-f.release:
			}
		}
	}
	if f.runErr != nil {
		return nil, f.runErr
	}
	if f.result != nil {
		return f.result, nil
	}
	return parameters, nil
}

func (f *fakeRuntime) AbortRobot() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborts++
	return f.abortErr
}

// fakeRuntimePool hands out runtimes built by factory and counts dispositions
type fakeRuntimePool struct {
	factory       func() *fakeRuntime
	borrowErr     error
	returnErr     error
	invalidateErr error

	mu          sync.Mutex
	borrowed    []*fakeRuntime
	returned    int
	invalidated int
}

func newFakeRuntimePool(factory func() *fakeRuntime) *fakeRuntimePool {
	if factory == nil {
		factory = newFakeRuntime
	}
	return &fakeRuntimePool{factory: factory}
}

func (p *fakeRuntimePool) Borrow(ctx context.Context) (ports.Runtime, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.borrowErr != nil {
		return nil, p.borrowErr
	}
	rt := p.factory()
	p.borrowed = append(p.borrowed, rt)
	return rt, nil
}

func (p *fakeRuntimePool) Return(ctx context.Context, rt ports.Runtime) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.returnErr != nil {
		return p.returnErr
	}
	p.returned++
	return nil
}

func (p *fakeRuntimePool) Invalidate(ctx context.Context, rt ports.Runtime) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.invalidateErr != nil {
		return p.invalidateErr
	}
	p.invalidated++
	return nil
}

func (p *fakeRuntimePool) counts() (borrowed, returned, invalidated int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.borrowed), p.returned, p.invalidated
}

func (p *fakeRuntimePool) runtime(i int) *fakeRuntime {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.borrowed[i]
}

var errBoom = errors.New("boom")
