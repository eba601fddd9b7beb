package interpreter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"rexx/interpreter-go/pkg/activity"
	"rexx/interpreter-go/pkg/memory"
	"rexx/interpreter-go/pkg/runtime"
)

// Options configures an Interpreter. Zero values select the defaults.
type Options struct {
	Heap     memory.Options
	MaxDepth int
	// YieldInterval is the number of clauses an activity runs before it
	// offers the execution lock to waiting activities. Zero never yields.
	YieldInterval int
	Trace         TraceSetting
	Address       string
	SearchPath    []string

	Stdout     io.Writer
	TraceOut   io.Writer
	TraceColor bool

	Debug    bool
	Debugger Debugger
}

const DefaultYieldInterval = 100

// Result is the outcome of a program or routine run.
type Result struct {
	Value    string
	HasValue bool
	// Exited is set when the program ended with EXIT.
	Exited bool
}

// Interpreter owns a managed heap, the activity manager that serialises
// access to it, and the registered routines.
type Interpreter struct {
	opts     Options
	heap     *memory.Heap
	manager  *activity.Manager
	stdout   io.Writer
	traceOut io.Writer
	debugger Debugger

	// routines is a heap root; it holds registered and loaded routines.
	routines *runtime.Directory

	nativeMu sync.RWMutex
	natives  map[string]*nativeRoutine

	resolverMu sync.RWMutex
	resolvers  []Resolver

	originMu sync.RWMutex
	origins  map[string]string

	wasm *wasmHost
}

func New(opts Options) *Interpreter {
	if opts.YieldInterval < 0 {
		opts.YieldInterval = 0
	}
	if opts.Address == "" {
		opts.Address = "SYSTEM"
	}
	if len(opts.SearchPath) == 0 {
		opts.SearchPath = []string{"."}
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	i := &Interpreter{
		opts:     opts,
		heap:     memory.NewHeap(opts.Heap),
		manager:  activity.NewManager(activity.Options{MaxDepth: opts.MaxDepth}),
		stdout:   opts.Stdout,
		traceOut: opts.TraceOut,
		debugger: opts.Debugger,
		natives:  make(map[string]*nativeRoutine),
		wasm:     newWasmHost(context.Background()),
	}
	if i.traceOut == nil {
		i.traceOut = os.Stderr
	}
	i.routines = runtime.NewDirectory(i.heap, 16)
	i.heap.AddRoot(i.routines)
	i.heap.SetLockCheck(i.manager.HeldByCaller)
	i.heap.AddRootSource(i.manager.MarkRoots)
	i.resolvers = []Resolver{
		registryResolver{interp: i},
		imageResolver{interp: i},
		&macrospaceResolver{interp: i},
		wasmResolver{interp: i},
	}
	return i
}

func (i *Interpreter) Heap() *memory.Heap { return i.heap }

func (i *Interpreter) Manager() *activity.Manager { return i.manager }

func (i *Interpreter) Options() Options { return i.opts }

// AddResolver appends r to the external resolvers, after the built-in ones.
func (i *Interpreter) AddResolver(r Resolver) {
	i.resolverMu.Lock()
	defer i.resolverMu.Unlock()
	i.resolvers = append(i.resolvers, r)
}

// RegisterFunction makes fn callable under name from every program.
func (i *Interpreter) RegisterFunction(name string, fn NativeFunc) {
	name = strings.ToUpper(name)
	i.nativeMu.Lock()
	defer i.nativeMu.Unlock()
	i.natives[name] = &nativeRoutine{name: name, fn: fn}
}

// RegisterRoutine roots r and makes it callable by name. It must run with
// the execution lock held, inside Do or an activity.
func (i *Interpreter) RegisterRoutine(r *Routine) {
	i.routines.Put(r.Name(), r)
}

// Routine returns a registered routine.
func (i *Interpreter) Routine(name string) (*Routine, bool) {
	var routine *Routine
	found := false
	_ = i.Do(func(*activity.Activity) error {
		obj, ok := i.routines.Get(strings.ToUpper(name))
		if ok {
			routine, found = obj.(*Routine)
		}
		return nil
	})
	return routine, found
}

// Do runs fn on the calling goroutine with the execution lock held. Every
// object allocated inside fn stays reachable until fn returns, so host code
// can build routines and register them without racing the collector.
func (i *Interpreter) Do(fn func(act *activity.Activity) error) (err error) {
	act, err := i.manager.Attach("host")
	if err != nil {
		return err
	}
	defer act.Detach()
	release := i.heap.Hold()
	defer release()
	defer func() {
		if r := recover(); r != nil {
			err = i.fatal(&activity.PanicError{Activity: act.Name(), Value: r})
		}
	}()
	return fn(act)
}

// Run executes r as a program on a new activity and waits for it. The
// arguments become the program's argument strings.
func (i *Interpreter) Run(r *Routine, args ...string) (Result, error) {
	return i.start(r.Name(), r, args)
}

// Call resolves name the way a CALL instruction would, outside any program,
// and runs it on a new activity.
func (i *Interpreter) Call(name string, args ...string) (Result, error) {
	return i.start(strings.ToUpper(name), nil, args)
}

func (i *Interpreter) start(name string, r *Routine, args []string) (Result, error) {
	act, err := i.manager.NewActivity(name)
	if err != nil {
		return Result{}, err
	}
	var res Result
	act.Start(func(act *activity.Activity) error {
		var err error
		res, err = i.runOn(act, name, r, args)
		return err
	})
	if err := act.Join(); err != nil {
		return Result{}, i.fatal(err)
	}
	return res, nil
}

// runOn runs on act with the lock held. A nil r resolves name as an external
// routine first.
func (i *Interpreter) runOn(act *activity.Activity, name string, r *Routine, args []string) (Result, error) {
	top := &Activation{
		interp:   i,
		activity: act,
		kind:     activationProgram,
		trace:    i.opts.Trace,
		address:  i.opts.Address,
		debug:    i.opts.Debug,
	}
	release := i.heap.Hold()
	top.args = make([]memory.Object, len(args))
	for idx, arg := range args {
		top.args[idx] = runtime.NewString(i.heap, arg)
	}
	top.vars = runtime.NewVariableDictionary(i.heap)
	if r == nil {
		top.code = NewCode(i.heap, name)
		if err := top.code.Finalize(); err != nil {
			release()
			return Result{}, err
		}
	} else {
		top.routine = r
		top.code = r.code
	}
	if err := act.PushFrame(top); err != nil {
		release()
		return Result{}, err
	}
	release()
	defer act.PopFrame(top)

	var (
		value memory.Object
		err   error
	)
	if r != nil {
		value, err = top.run()
	} else {
		value, err = i.invokeByName(top, name)
	}
	res := Result{}
	var exit exitSignal
	if errors.As(err, &exit) {
		value, err = exit.value, nil
		res.Exited = true
	}
	if err != nil {
		return Result{}, err
	}
	if value != nil {
		res.Value, res.HasValue = runtime.Text(value), true
	}
	return res, nil
}

func (i *Interpreter) invokeByName(top *Activation, name string) (memory.Object, error) {
	target, err := i.resolveExternal(top, name)
	if err != nil {
		return nil, err
	}
	if target == nil {
		cond := newSyntax(ErrRoutineNotFound, name)
		cond.Target = name
		return nil, cond
	}
	return target.Invoke(top, top.args)
}

// fatal converts an activity panic caused by heap exhaustion into a
// FatalError.
func (i *Interpreter) fatal(err error) error {
	var oom *memory.OutOfMemoryError
	if errors.As(err, &oom) {
		return &FatalError{Err: oom}
	}
	var panicErr *activity.PanicError
	if errors.As(err, &panicErr) {
		return &FatalError{Err: err}
	}
	return err
}

// Halt asks every running activity to raise HALT at its next clause.
func (i *Interpreter) Halt(reason string) {
	for _, act := range i.manager.Activities() {
		act.RequestHalt(reason)
	}
}

// Close halts the running activities and releases the WebAssembly runtime.
func (i *Interpreter) Close() error {
	i.manager.Shutdown()
	if err := i.wasm.close(); err != nil {
		return fmt.Errorf("close wasm runtime: %w", err)
	}
	return nil
}
