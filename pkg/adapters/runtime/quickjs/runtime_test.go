package quickjs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aescanero/robotd/internal/ports"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func writeRobot(t *testing.T, dir, name, src string) {
	t.Helper()
	path, err := RobotPath(dir, name)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
}

func newRuntime(t *testing.T) *Runtime {
	t.Helper()
	rt, err := New(Config{MemoryLimitMB: 32, AbortTimeout: 5 * time.Second}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func TestRobotPath(t *testing.T) {
	path, err := RobotPath("/srv/robots", "billing.monthly.export")
	require.NoError(t, err)
	require.Equal(t, filepath.Join("/srv/robots", "billing", "monthly", "export.js"), path)

	for _, bad := range []string{"", "a..b", ".a", "a/b", `a\b`} {
		_, err := RobotPath("/srv/robots", bad)
		require.ErrorIs(t, err, ports.ErrRobotNotFound, bad)
	}
}

func TestCompileAndRun(t *testing.T) {
	dir := t.TempDir()
	writeRobot(t, dir, "demo.sum", `
var total = 0;
for (var i = 0; i < args.items.length; i++) total += args.items[i];
return { total: total, who: args.who };
`)
	rt := newRuntime(t)
	require.NoError(t, rt.Compile(dir, "demo.sum"))

	out, err := rt.RunRobot(context.Background(), map[string]interface{}{
		"items": []int{1, 2, 3},
		"who":   "robot   \"quoted\"",
	})
	require.NoError(t, err)
	require.Equal(t, map[string]interface{}{
		"total": 6.0,
		"who":   "robot   \"quoted\"",
	}, out)

	// Runs are repeatable.
	out, err = rt.RunRobot(context.Background(), map[string]interface{}{"items": []int{4}})
	require.NoError(t, err)
	require.Equal(t, 4.0, out.(map[string]interface{})["total"])
}

func TestRunWithoutResult(t *testing.T) {
	dir := t.TempDir()
	writeRobot(t, dir, "noop", `var x = 1;`)
	rt := newRuntime(t)
	require.NoError(t, rt.Compile(dir, "noop"))

	out, err := rt.RunRobot(context.Background(), nil)
	require.NoError(t, err)
	require.Nil(t, out)
}

func TestCompileErrors(t *testing.T) {
	dir := t.TempDir()
	writeRobot(t, dir, "broken", `return {;`)
	rt := newRuntime(t)

	err := rt.Compile(dir, "missing.robot")
	require.ErrorIs(t, err, ports.ErrRobotNotFound)

	err = rt.Compile(dir, "broken")
	require.ErrorIs(t, err, ports.ErrCompile)

	_, err = rt.RunRobot(context.Background(), nil)
	require.Error(t, err, "nothing compiled")
}

func TestRunError(t *testing.T) {
	dir := t.TempDir()
	writeRobot(t, dir, "fails", `throw new Error("no invoices found");`)
	rt := newRuntime(t)
	require.NoError(t, rt.Compile(dir, "fails"))

	_, err := rt.RunRobot(context.Background(), nil)
	require.ErrorContains(t, err, "no invoices found")
	require.NoError(t, rt.Validate())
}

func TestAbortRobot(t *testing.T) {
	dir := t.TempDir()
	writeRobot(t, dir, "spin", `
if (args.spin) { while (true) {} }
return "done";
`)
	rt := newRuntime(t)
	require.NoError(t, rt.Compile(dir, "spin"))

	require.NoError(t, rt.AbortRobot(), "abort with nothing running is a no-op")

	errc := make(chan error, 1)
	go func() {
		_, err := rt.RunRobot(context.Background(), map[string]interface{}{"spin": true})
		errc <- err
	}()

	require.Eventually(t, func() bool {
		rt.mu.Lock()
		defer rt.mu.Unlock()
		return rt.done != nil
	}, 5*time.Second, time.Millisecond)

	require.NoError(t, rt.AbortRobot())
	select {
	case err := <-errc:
		require.ErrorContains(t, err, "interrupted")
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after abort")
	}

	require.Error(t, rt.Validate(), "an interrupted VM is not reusable as is")

	// The robot is recompiled into a fresh VM.
	out, err := rt.RunRobot(context.Background(), map[string]interface{}{"spin": false})
	require.NoError(t, err)
	require.Equal(t, "done", out)
	require.NoError(t, rt.Validate())
}

func TestRunCancelledByContext(t *testing.T) {
	dir := t.TempDir()
	writeRobot(t, dir, "spin", `while (true) {}`)
	rt := newRuntime(t)
	require.NoError(t, rt.Compile(dir, "spin"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := rt.RunRobot(ctx, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = rt.RunRobot(ctx, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded, "a done context never starts a run")
}

func TestResetForgetsRobot(t *testing.T) {
	dir := t.TempDir()
	writeRobot(t, dir, "leaky", `globalThis.leaked = 42; return 1;`)
	writeRobot(t, dir, "probe", `return typeof globalThis.leaked;`)
	rt := newRuntime(t)

	require.NoError(t, rt.Compile(dir, "leaky"))
	_, err := rt.RunRobot(context.Background(), nil)
	require.NoError(t, err)

	require.NoError(t, rt.Reset())
	require.NoError(t, rt.Compile(dir, "probe"))
	out, err := rt.RunRobot(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, "undefined", out)
}

func TestClose(t *testing.T) {
	rt := newRuntime(t)
	require.NoError(t, rt.Close())
	require.NoError(t, rt.Close())
	require.Error(t, rt.Validate())
	require.Error(t, rt.Compile(t.TempDir(), "any"))
}
