package runtimepool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/aescanero/robotd/internal/ports"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type stubRuntime struct {
	id       int
	invalid  bool
	resets   int
	closed   bool
	closeErr error
}

func (s *stubRuntime) Compile(workDir, robot string) error { return nil }

func (s *stubRuntime) RunRobot(ctx context.Context, parameters map[string]interface{}) (interface{}, error) {
	return nil, nil
}

func (s *stubRuntime) AbortRobot() error { return nil }

func (s *stubRuntime) Validate() error {
	if s.invalid {
		return errors.New("broken")
	}
	return nil
}

func (s *stubRuntime) Reset() error {
	s.resets++
	return nil
}

func (s *stubRuntime) Close() error {
	s.closed = true
	return s.closeErr
}

func newTestPool(t *testing.T, maxTotal int) (*Pool, *atomic.Int32) {
	t.Helper()
	var created atomic.Int32
	factory := func(ctx context.Context) (ports.Runtime, error) {
		n := created.Add(1)
		return &stubRuntime{id: int(n)}, nil
	}
	p, err := New(context.Background(), factory, Config{MaxTotal: maxTotal, MaxIdle: maxTotal}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { p.Close(context.Background()) })
	return p, &created
}

func TestBorrowReturnReuses(t *testing.T) {
	ctx := context.Background()
	p, created := newTestPool(t, 2)

	rt, err := p.Borrow(ctx)
	require.NoError(t, err)
	require.Equal(t, Stats{Active: 1, Idle: 0}, p.Stats())

	require.NoError(t, p.Return(ctx, rt))
	require.Equal(t, Stats{Active: 0, Idle: 1}, p.Stats())
	require.Equal(t, 1, rt.(*stubRuntime).resets)

	again, err := p.Borrow(ctx)
	require.NoError(t, err)
	require.Same(t, rt, again)
	require.Equal(t, int32(1), created.Load())
}

func TestBorrowDoesNotBlockWhenExhausted(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPool(t, 1)

	_, err := p.Borrow(ctx)
	require.NoError(t, err)

	_, err = p.Borrow(ctx)
	require.Error(t, err)
}

func TestInvalidateFreesSlot(t *testing.T) {
	ctx := context.Background()
	p, created := newTestPool(t, 1)

	rt, err := p.Borrow(ctx)
	require.NoError(t, err)
	require.NoError(t, p.Invalidate(ctx, rt))
	require.True(t, rt.(*stubRuntime).closed)
	require.Equal(t, Stats{}, p.Stats())

	other, err := p.Borrow(ctx)
	require.NoError(t, err)
	require.NotSame(t, rt, other)
	require.Equal(t, int32(2), created.Load())
}

func TestReturnDestroysInvalidRuntime(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPool(t, 1)

	rt, err := p.Borrow(ctx)
	require.NoError(t, err)
	rt.(*stubRuntime).invalid = true

	_ = p.Return(ctx, rt)
	require.True(t, rt.(*stubRuntime).closed)
	require.Equal(t, 0, p.Stats().Idle)
}

func TestReturnUnknownRuntimeFails(t *testing.T) {
	p, _ := newTestPool(t, 1)
	require.Error(t, p.Return(context.Background(), &stubRuntime{}))
	require.Error(t, p.Invalidate(context.Background(), &stubRuntime{}))
}

func TestNewValidatesConfig(t *testing.T) {
	factory := func(ctx context.Context) (ports.Runtime, error) { return &stubRuntime{}, nil }
	_, err := New(context.Background(), factory, Config{MaxTotal: 0}, zaptest.NewLogger(t))
	require.Error(t, err)
	_, err = New(context.Background(), nil, Config{MaxTotal: 1}, zaptest.NewLogger(t))
	require.Error(t, err)
}
