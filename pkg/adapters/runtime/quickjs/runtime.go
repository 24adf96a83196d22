package quickjs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aescanero/robotd/internal/ports"
	"go.uber.org/zap"
	"modernc.org/quickjs"
)

// RobotExt is the file extension of robot sources
const RobotExt = ".js"

// Config holds runtime limits
type Config struct {
	// MemoryLimitMB caps the VM heap; 0 means unlimited
	MemoryLimitMB int
	// AbortTimeout bounds how long AbortRobot waits for a run to stop
	AbortTimeout time.Duration
}

// Runtime runs one compiled robot in a QuickJS VM.
//
// The robot source is the body of a function taking a single argument,
// args, holding the run parameters. Whatever the body returns is the run
// result. Parameters and results cross into and out of the VM as JSON.
type Runtime struct {
	cfg    Config
	logger *zap.Logger

	mu          sync.Mutex
	vm          *quickjs.VM
	robot       string
	program     string
	dirty       bool
	done        chan struct{}
	interrupted bool
	closing     bool
}

var _ ports.Runtime = (*Runtime)(nil)

var errClosed = errors.New("runtime is closed")

// New creates a runtime with a fresh VM
func New(cfg Config, logger *zap.Logger) (*Runtime, error) {
	r := &Runtime{cfg: cfg, logger: logger}
	vm, err := r.newVM()
	if err != nil {
		return nil, err
	}
	r.vm = vm
	return r, nil
}

// NewFactory returns a constructor suitable for a runtime pool
func NewFactory(cfg Config, logger *zap.Logger) func(context.Context) (ports.Runtime, error) {
	return func(ctx context.Context) (ports.Runtime, error) {
		return New(cfg, logger)
	}
}

func (r *Runtime) newVM() (*quickjs.VM, error) {
	vm, err := quickjs.NewVM()
	if err != nil {
		return nil, fmt.Errorf("creating VM: %w", err)
	}
	if r.cfg.MemoryLimitMB > 0 {
		vm.SetMemoryLimit(uintptr(r.cfg.MemoryLimitMB) << 20)
	}
	return vm, nil
}

// RobotPath resolves a dot separated robot name against workDir:
// "billing.export" becomes <workDir>/billing/export.js.
func RobotPath(workDir, robot string) (string, error) {
	segments := strings.Split(robot, ".")
	for _, s := range segments {
		if s == "" || strings.ContainsAny(s, `/\`) {
			return "", fmt.Errorf("%w: malformed robot name %q", ports.ErrRobotNotFound, robot)
		}
	}
	return filepath.Join(workDir, filepath.Join(segments...)) + RobotExt, nil
}

// Compile loads the robot source and evaluates it into the VM
func (r *Runtime) Compile(workDir, robot string) error {
	path, err := RobotPath(workDir, robot)
	if err != nil {
		return err
	}

	src, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ports.ErrRobotNotFound, path)
		}
		return fmt.Errorf("reading robot %s: %w", path, err)
	}

	program := "globalThis.__robot = function (args) {\n" + string(src) + "\n};"

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.vm == nil {
		return errClosed
	}
	if err := evalDiscard(r.vm, program); err != nil {
		return fmt.Errorf("%w: %s: %v", ports.ErrCompile, robot, err)
	}
	r.robot = robot
	r.program = program

	r.logger.Debug("robot compiled",
		zap.String("robot", robot),
		zap.String("path", path))
	return nil
}

func evalDiscard(vm *quickjs.VM, js string) error {
	v, err := vm.EvalValue(js, quickjs.EvalGlobal)
	if err != nil {
		return err
	}
	v.Free()
	return nil
}

// RunRobot calls the compiled robot with parameters. Cancelling ctx
// interrupts the VM.
func (r *Runtime) RunRobot(ctx context.Context, parameters map[string]interface{}) (interface{}, error) {
	if parameters == nil {
		parameters = map[string]interface{}{}
	}
	args, err := json.Marshal(parameters)
	if err != nil {
		return nil, fmt.Errorf("encoding run parameters: %w", err)
	}
	// A JSON string is also a valid JavaScript string literal.
	literal, err := json.Marshal(string(args))
	if err != nil {
		return nil, fmt.Errorf("encoding run parameters: %w", err)
	}
	script := "(function () {\n" +
		"  var r = globalThis.__robot(JSON.parse(" + string(literal) + "));\n" +
		"  return r === undefined ? \"null\" : JSON.stringify(r);\n" +
		"})()"

	vm, done, robot, err := r.beginRun(ctx)
	if err != nil {
		return nil, err
	}

	stop := context.AfterFunc(ctx, r.interrupt)
	out, evalErr := vm.Eval(script, quickjs.EvalGlobal)
	stop()

	interrupted := r.endRun(done)
	if evalErr != nil {
		if interrupted {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("robot %s interrupted: %w", robot, ctx.Err())
			}
			return nil, fmt.Errorf("robot %s interrupted: %w", robot, evalErr)
		}
		return nil, fmt.Errorf("robot %s failed: %w", robot, evalErr)
	}

	encoded, ok := out.(string)
	if !ok {
		return nil, fmt.Errorf("robot %s returned a value that cannot be serialized", robot)
	}
	var result interface{}
	if err := json.Unmarshal([]byte(encoded), &result); err != nil {
		return nil, fmt.Errorf("decoding robot result: %w", err)
	}
	return result, nil
}

// beginRun marks a run in flight, rebuilding the VM first when the last run
// was interrupted.
func (r *Runtime) beginRun(ctx context.Context) (*quickjs.VM, chan struct{}, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case r.vm == nil:
		return nil, nil, "", errClosed
	case r.program == "":
		return nil, nil, "", fmt.Errorf("no robot compiled")
	case r.done != nil:
		return nil, nil, "", fmt.Errorf("robot %s is already running", r.robot)
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, "", err
	}

	if r.dirty {
		vm, err := r.newVM()
		if err != nil {
			return nil, nil, "", err
		}
		if err := evalDiscard(vm, r.program); err != nil {
			vm.Close()
			return nil, nil, "", fmt.Errorf("recompiling robot %s: %w", r.robot, err)
		}
		r.vm.Close()
		r.vm = vm
		r.dirty = false
		r.logger.Debug("robot recompiled after interrupted run", zap.String("robot", r.robot))
	}

	r.done = make(chan struct{})
	r.interrupted = false
	return r.vm, r.done, r.robot, nil
}

// endRun reports whether the run was interrupted; an interrupted VM is
// rebuilt before the next run.
func (r *Runtime) endRun(done chan struct{}) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	interrupted := r.interrupted
	if interrupted {
		r.dirty = true
	}
	if r.closing {
		r.vm.Close()
		r.vm = nil
		r.closing = false
	}
	r.done = nil
	close(done)
	return interrupted
}

func (r *Runtime) interrupt() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done == nil {
		return
	}
	r.interrupted = true
	r.vm.Interrupt()
}

// AbortRobot interrupts the in-flight run and waits up to the abort timeout
// for it to return. It is a no-op when nothing is running.
func (r *Runtime) AbortRobot() error {
	r.mu.Lock()
	done, robot := r.done, r.robot
	r.mu.Unlock()
	if done == nil {
		return nil
	}

	r.interrupt()

	timer := time.NewTimer(r.cfg.AbortTimeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return fmt.Errorf("robot %s did not stop within %s", robot, r.cfg.AbortTimeout)
	}
}

// Validate checks that the VM is usable for another robot
func (r *Runtime) Validate() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case r.vm == nil:
		return errClosed
	case r.done != nil:
		return fmt.Errorf("robot %s is still running", r.robot)
	case r.dirty:
		return fmt.Errorf("runtime was interrupted")
	}

	out, err := r.vm.Eval("JSON.stringify(1 + 1)", quickjs.EvalGlobal)
	if err != nil {
		return fmt.Errorf("validating VM: %w", err)
	}
	if out != "2" {
		return fmt.Errorf("validating VM: unexpected result %v", out)
	}
	return nil
}

// Reset forgets the compiled robot and starts over with a fresh VM, so the
// next robot sees no globals left by the previous one.
func (r *Runtime) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.done != nil {
		return fmt.Errorf("robot %s is still running", r.robot)
	}
	vm, err := r.newVM()
	if err != nil {
		return err
	}
	if r.vm != nil {
		r.vm.Close()
	}
	r.vm = vm
	r.robot = ""
	r.program = ""
	r.dirty = false
	return nil
}

// Close releases the VM. A run still in flight is interrupted and the VM
// is released once it returns.
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.vm == nil {
		return nil
	}
	if r.done != nil {
		r.closing = true
		r.interrupted = true
		r.vm.Interrupt()
		return nil
	}
	r.vm.Close()
	r.vm = nil
	return nil
}
