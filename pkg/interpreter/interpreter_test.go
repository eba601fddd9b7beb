package interpreter

import (
	"bytes"
	"errors"
	"io"
	goRuntime "runtime"
	"strings"
	"sync"
	"testing"

	"rexx/interpreter-go/pkg/activity"
	"rexx/interpreter-go/pkg/memory"
	"rexx/interpreter-go/pkg/runtime"
)

func newTestInterpreter(t *testing.T, opts Options) (*Interpreter, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	opts.Stdout = &out
	if opts.TraceOut == nil {
		opts.TraceOut = io.Discard
	}
	if len(opts.SearchPath) == 0 {
		opts.SearchPath = []string{t.TempDir()}
	}
	interp := New(opts)
	t.Cleanup(func() { _ = interp.Close() })
	return interp, &out
}

func mustLoad(t *testing.T, interp *Interpreter, source string) []*Routine {
	t.Helper()
	routines, err := interp.LoadAssembly("test.yml", []byte(source))
	if err != nil {
		t.Fatalf("LoadAssembly: %v", err)
	}
	return routines
}

func mustRun(t *testing.T, interp *Interpreter, r *Routine, args ...string) Result {
	t.Helper()
	res, err := interp.Run(r, args...)
	if err != nil {
		t.Fatalf("Run %s: %v", r.Name(), err)
	}
	return res
}

func expectCondition(t *testing.T, err error, name, code string) *Condition {
	t.Helper()
	cond, ok := AsCondition(err)
	if !ok {
		t.Fatalf("expected %s condition %s, got %v", name, code, err)
	}
	if cond.Name != name || cond.Code != code {
		t.Fatalf("condition = %s %s, want %s %s", cond.Name, cond.Code, name, code)
	}
	return cond
}

func TestCallBindsAndDropsResult(t *testing.T) {
	interp, out := newTestInterpreter(t, Options{})
	routines := mustLoad(t, interp, `
routines:
  - name: main
    body:
      - call: {name: give, args: ["x"]}
      - say: {var: result}
      - call: nothing
      - say: {var: result}
      - return: "done"
  - name: give
    body:
      - return: {op: "||", left: {call: arg, args: ["1"]}, right: "!"}
  - name: nothing
    body:
      - return: null
`)
	res := mustRun(t, interp, routines[0])
	if got := out.String(); got != "x!\nRESULT\n" {
		t.Fatalf("output = %q", got)
	}
	if !res.HasValue || res.Value != "done" || res.Exited {
		t.Fatalf("result = %+v", res)
	}
}

func TestFunctionWithoutValueRaises44(t *testing.T) {
	interp, _ := newTestInterpreter(t, Options{})
	routines := mustLoad(t, interp, `
routines:
  - name: main
    body:
      - say: {call: nothing}
  - name: nothing
    body:
      - return: null
`)
	_, err := interp.Run(routines[0])
	cond := expectCondition(t, err, ConditionSyntax, ErrNoDataReturned)
	if cond.Line != 1 || cond.Program != "MAIN" {
		t.Fatalf("condition position = %s:%d", cond.Program, cond.Line)
	}
}

func TestRecursionExhaustsControlStack(t *testing.T) {
	interp, _ := newTestInterpreter(t, Options{MaxDepth: 20})
	routines := mustLoad(t, interp, `
routines:
  - name: rec
    body:
      - call: rec
`)
	_, err := interp.Run(routines[0])
	cond := expectCondition(t, err, ConditionSyntax, ErrControlStackFull)
	if len(cond.Callers) == 0 {
		t.Fatalf("expected the unwound callers to be recorded")
	}
}

func TestSignalOnSyntaxTransfersToLabel(t *testing.T) {
	interp, out := newTestInterpreter(t, Options{})
	routines := mustLoad(t, interp, `
routines:
  - name: main
    body:
      - signal_on: {condition: syntax, name: oops}
      - say: {op: "+", left: "a", right: "1"}
      - say: "not reached"
      - label: oops
      - say: {op: " ", left: {call: condition, args: ["C"]}, right: {call: condition, args: ["E"]}}
      - say: {var: sigl}
`)
	mustRun(t, interp, routines[0])
	if got := out.String(); got != "SYNTAX 41.1\n2\n" {
		t.Fatalf("output = %q", got)
	}
}

func TestTrapFiresOnce(t *testing.T) {
	interp, out := newTestInterpreter(t, Options{})
	routines := mustLoad(t, interp, `
routines:
  - name: main
    body:
      - signal_on: {condition: syntax, name: oops}
      - say: {op: "+", left: "a", right: "1"}
      - label: oops
      - say: "trapped"
      - say: {op: "+", left: "b", right: "1"}
`)
	_, err := interp.Run(routines[0])
	expectCondition(t, err, ConditionSyntax, ErrBadArithmetic)
	if got := out.String(); got != "trapped\n" {
		t.Fatalf("output = %q", got)
	}
}

func TestNoValueTrap(t *testing.T) {
	interp, out := newTestInterpreter(t, Options{})
	routines := mustLoad(t, interp, `
routines:
  - name: main
    body:
      - say: {var: unset}
      - signal_on: {condition: novalue, name: nv}
      - say: {var: unset}
      - label: nv
      - say: {call: condition, args: ["D"]}
`)
	mustRun(t, interp, routines[0])
	if got := out.String(); got != "UNSET\nvariable UNSET has no value\n" {
		t.Fatalf("output = %q", got)
	}
}

func TestInternalCallSharesVariables(t *testing.T) {
	interp, out := newTestInterpreter(t, Options{})
	routines := mustLoad(t, interp, `
routines:
  - name: main
    body:
      - assign: {name: x, value: "1"}
      - call: bump
      - say: {var: x}
      - say: {var: result}
      - exit: null
      - label: bump
      - assign: {name: x, value: {op: "+", left: {var: x}, right: "1"}}
      - return: {var: sigl}
`)
	res := mustRun(t, interp, routines[0])
	if got := out.String(); got != "2\n2\n" {
		t.Fatalf("output = %q", got)
	}
	if !res.Exited || res.HasValue {
		t.Fatalf("result = %+v", res)
	}
}

func TestExternalRoutineGetsFreshVariables(t *testing.T) {
	interp, out := newTestInterpreter(t, Options{})
	routines := mustLoad(t, interp, `
routines:
  - name: main
    body:
      - assign: {name: x, value: "outer"}
      - call: peek
      - say: {var: x}
  - name: peek
    body:
      - say: {var: x}
      - assign: {name: x, value: "inner"}
`)
	mustRun(t, interp, routines[0])
	if got := out.String(); got != "X\nouter\n" {
		t.Fatalf("output = %q", got)
	}
}

func TestExternalTargetIsCachedPerSite(t *testing.T) {
	interp, out := newTestInterpreter(t, Options{})
	resolves := 0
	interp.AddResolver(ResolverFunc(func(a *Activation, name string) (ExternalRoutine, error) {
		if name != "TWICE" {
			return nil, nil
		}
		resolves++
		return &nativeRoutine{name: name, fn: func(a *Activation, args []memory.Object) (memory.Object, error) {
			text := runtime.Text(args[0])
			return runtime.NewString(a.Interpreter().Heap(), text+text), nil
		}}, nil
	}))
	routines := mustLoad(t, interp, `
routines:
  - name: main
    body:
      - loop: {count: "3", control: i, body: [{say: {call: twice, args: [{var: i}]}}]}
      - say: {call: twice, args: ["z"]}
`)
	mustRun(t, interp, routines[0])
	if got := out.String(); got != "11\n22\n33\nzz\n" {
		t.Fatalf("output = %q", got)
	}
	if resolves != 2 {
		t.Fatalf("resolver consulted %d times, want once per site", resolves)
	}
}

func TestSiteKeepsTargetAfterRegistrationChanges(t *testing.T) {
	interp, out := newTestInterpreter(t, Options{})
	interp.RegisterFunction("twice", func(a *Activation, args []memory.Object) (memory.Object, error) {
		text := runtime.Text(args[0])
		return runtime.NewString(a.Interpreter().Heap(), text+text), nil
	})
	interp.RegisterFunction("rebind", func(a *Activation, args []memory.Object) (memory.Object, error) {
		a.Interpreter().RegisterFunction("twice", func(a *Activation, args []memory.Object) (memory.Object, error) {
			return runtime.NewString(a.Interpreter().Heap(), "X"+runtime.Text(args[0])), nil
		})
		return nil, nil
	})
	routines := mustLoad(t, interp, `
routines:
  - name: main
    body:
      - loop: {count: "3", control: i, body: [{say: {call: twice, args: [{var: i}]}}, {call: rebind}]}
      - say: {call: twice, args: ["z"]}
`)
	mustRun(t, interp, routines[0])
	if got := out.String(); got != "11\n22\n33\nXz\n" {
		t.Fatalf("output = %q", got)
	}
}

func TestUnknownRoutineRaises43(t *testing.T) {
	interp, _ := newTestInterpreter(t, Options{})
	routines := mustLoad(t, interp, `
routines:
  - name: main
    body:
      - call: missing
`)
	_, err := interp.Run(routines[0])
	cond := expectCondition(t, err, ConditionSyntax, ErrRoutineNotFound)
	if cond.Target != "MISSING" {
		t.Fatalf("condition target = %q", cond.Target)
	}
}

func TestBuiltins(t *testing.T) {
	interp, out := newTestInterpreter(t, Options{})
	routines := mustLoad(t, interp, `
routines:
  - name: main
    body:
      - say: {call: length, args: ["hello"]}
      - say: {call: reverse, args: ["abc"]}
      - say: {call: arg}
      - say: {call: arg, args: ["2"]}
      - say: {call: arg, args: ["3", "e"]}
      - say: {call: arg, args: ["1", "o"]}
      - say: {call: time, args: ["E"]}
      - say: {call: sleep, args: ["0"]}
`)
	mustRun(t, interp, routines[0], "p", "q")
	if got := out.String(); got != "5\ncba\n2\nq\n0\n0\n0\n0\n" {
		t.Fatalf("output = %q", got)
	}
}

func TestBuiltinArityIsChecked(t *testing.T) {
	interp, _ := newTestInterpreter(t, Options{})
	routines := mustLoad(t, interp, `
routines:
  - name: main
    body:
      - say: {call: length}
`)
	_, err := interp.Run(routines[0])
	expectCondition(t, err, ConditionSyntax, ErrNotEnoughArguments)
}

func TestLabelTakesPrecedenceOverBuiltin(t *testing.T) {
	interp, out := newTestInterpreter(t, Options{})
	routines := mustLoad(t, interp, `
routines:
  - name: main
    body:
      - say: {call: length, args: ["abc"]}
      - exit: null
      - label: length
      - return: "mine"
`)
	mustRun(t, interp, routines[0])
	if got := out.String(); got != "mine\n" {
		t.Fatalf("output = %q", got)
	}
}

func TestTraceResults(t *testing.T) {
	var trace bytes.Buffer
	interp, _ := newTestInterpreter(t, Options{Trace: TraceResults, TraceOut: &trace})
	routines := mustLoad(t, interp, `
routines:
  - name: main
    body:
      - assign: {name: x, value: "5"}
      - say: {var: x}
`)
	mustRun(t, interp, routines[0])
	want := "     1 *-* X = '5'\n" +
		"       >=>   \"5\"\n" +
		"     2 *-* SAY X\n" +
		"       >>>   \"5\"\n"
	if got := trace.String(); got != want {
		t.Fatalf("trace = %q, want %q", got, want)
	}
}

func TestTraceInstructionSwitchesSetting(t *testing.T) {
	var trace bytes.Buffer
	interp, _ := newTestInterpreter(t, Options{TraceOut: &trace})
	routines := mustLoad(t, interp, `
routines:
  - name: main
    body:
      - say: "quiet"
      - trace: labels
      - nop: null
      - label: here
`)
	mustRun(t, interp, routines[0])
	if got := trace.String(); got != "     4 *-* HERE:\n" {
		t.Fatalf("trace = %q", got)
	}
}

func TestHaltIsTrappable(t *testing.T) {
	interp, out := newTestInterpreter(t, Options{})
	interp.RegisterFunction("stop", func(a *Activation, args []memory.Object) (memory.Object, error) {
		a.Activity().RequestHalt("test")
		return nil, nil
	})
	routines := mustLoad(t, interp, `
routines:
  - name: main
    body:
      - signal_on: {condition: halt, name: stopped}
      - call: stop
      - say: "not reached"
      - label: stopped
      - say: {call: condition, args: ["C"]}
`)
	mustRun(t, interp, routines[0])
	if got := out.String(); got != "HALT\n" {
		t.Fatalf("output = %q", got)
	}
}

func TestCallByName(t *testing.T) {
	interp, _ := newTestInterpreter(t, Options{})
	mustLoad(t, interp, `
routines:
  - name: give
    body:
      - return: {op: "||", left: {call: arg, args: ["1"]}, right: "!"}
`)
	res, err := interp.Call("give", "x")
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if res.Value != "x!" {
		t.Fatalf("result = %+v", res)
	}
	if _, err := interp.Call("nobody"); err == nil {
		t.Fatalf("expected unknown routine to fail")
	}
}

func TestHeapExhaustionIsFatal(t *testing.T) {
	interp, _ := newTestInterpreter(t, Options{Heap: memory.Options{
		InitialSize: 64 << 10,
		SegmentSize: 16 << 10,
		Limit:       256 << 10,
	}})
	routines := mustLoad(t, interp, `
routines:
  - name: main
    body:
      - assign: {name: x, value: "0123456789abcdef"}
      - loop: {count: "30", body: [{assign: {name: x, value: {op: "||", left: {var: x}, right: {var: x}}}}]}
`)
	_, err := interp.Run(routines[0])
	var fatal *FatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("expected FatalError, got %v", err)
	}
	var oom *memory.OutOfMemoryError
	if !errors.As(err, &oom) {
		t.Fatalf("expected OutOfMemoryError inside %v", err)
	}
}

func TestCollectionDuringRunKeepsVariables(t *testing.T) {
	interp, out := newTestInterpreter(t, Options{Heap: memory.Options{
		InitialSize: 16 << 10,
		SegmentSize: 16 << 10,
		Limit:       64 << 20,
	}})
	routines := mustLoad(t, interp, `
routines:
  - name: main
    body:
      - assign: {name: keep, value: "kept"}
      - loop: {count: "2000", control: i, body: [{assign: {name: junk, value: {op: "||", left: {var: i}, right: "-garbage-garbage-garbage"}}}]}
      - say: {var: keep}
      - say: {var: junk}
`)
	mustRun(t, interp, routines[0])
	if got := out.String(); got != "kept\n2000-garbage-garbage-garbage\n" {
		t.Fatalf("output = %q", got)
	}
	if stats := interp.Heap().Stats(); stats.Collections == 0 {
		t.Fatalf("expected the small heap to collect, stats %+v", stats)
	}
}

func TestCollectRequiresTheCallerToHoldTheLock(t *testing.T) {
	if goRuntime.GOOS != "linux" && goRuntime.GOOS != "windows" {
		t.Skip("no native thread ids on " + goRuntime.GOOS)
	}
	interp, _ := newTestInterpreter(t, Options{})
	holder, err := interp.Manager().NewActivity("holder")
	if err != nil {
		t.Fatalf("NewActivity: %v", err)
	}
	parked := make(chan struct{})
	release := make(chan struct{})
	var inside error
	holder.Start(func(*activity.Activity) error {
		_, inside = interp.Heap().Collect()
		close(parked)
		<-release
		return nil
	})
	<-parked
	_, outside := interp.Heap().Collect()
	close(release)
	if err := holder.Join(); err != nil {
		t.Fatalf("holder: %v", err)
	}
	if inside != nil {
		t.Fatalf("holder could not collect: %v", inside)
	}
	if !errors.Is(outside, memory.ErrLockNotHeld) {
		t.Fatalf("collect without the lock = %v, want ErrLockNotHeld", outside)
	}
}

func TestConcurrentActivitiesShareTheLock(t *testing.T) {
	interp, out := newTestInterpreter(t, Options{YieldInterval: 1})
	routines := mustLoad(t, interp, `
routines:
  - name: main
    body:
      - loop: {count: "50", body: [{say: {call: arg, args: ["1"]}}]}
`)
	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, tag := range []string{"a", "b"} {
		wg.Add(1)
		go func(tag string) {
			defer wg.Done()
			_, err := interp.Run(routines[0], tag)
			errs <- err
		}(tag)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	}
	if a, b := strings.Count(out.String(), "a\n"), strings.Count(out.String(), "b\n"); a != 50 || b != 50 {
		t.Fatalf("lines a=%d b=%d, want 50 each", a, b)
	}
}

func TestStepDebugger(t *testing.T) {
	var dbg bytes.Buffer
	debugger := NewStepDebugger(strings.NewReader("\np x\n\nc\n"), &dbg)
	interp, out := newTestInterpreter(t, Options{Debug: true, Debugger: debugger})
	routines := mustLoad(t, interp, `
routines:
  - name: main
    body:
      - assign: {name: x, value: "1"}
      - say: {var: x}
      - say: "b"
      - say: "c"
`)
	mustRun(t, interp, routines[0])
	if got := out.String(); got != "1\nb\nc\n" {
		t.Fatalf("output = %q", got)
	}
	if !strings.Contains(dbg.String(), `X = "1"`) {
		t.Fatalf("debugger output %q does not show X", dbg.String())
	}
	if strings.Count(dbg.String(), "*-*") != 4 {
		t.Fatalf("debugger paused %d times, want 4:\n%s", strings.Count(dbg.String(), "*-*"), dbg.String())
	}
}

func TestParseTraceSetting(t *testing.T) {
	cases := map[string]TraceSetting{
		"":        TraceNormal,
		"off":     TraceOff,
		"R":       TraceResults,
		"all":     TraceAll,
		" Labels": TraceLabels,
	}
	for text, want := range cases {
		got, err := ParseTraceSetting(text)
		if err != nil || got != want {
			t.Fatalf("ParseTraceSetting(%q) = %v, %v; want %v", text, got, err, want)
		}
	}
	if _, err := ParseTraceSetting("sideways"); err == nil {
		t.Fatalf("expected an error for an unknown setting")
	}
}
