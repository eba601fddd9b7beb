package interpreter

import (
	"errors"
	"io/fs"
	"strings"
	"testing"

	"rexx/interpreter-go/pkg/activity"
)

func TestParseAssemblyErrors(t *testing.T) {
	cases := []struct {
		name   string
		source string
		want   string
	}{
		{"empty", ``, "empty document"},
		{"no routines", `routines: []`, "no routines"},
		{"unnamed", "routines:\n  - body: []\n", "has no name"},
		{"duplicate", "routines:\n  - name: a\n  - name: A\n", "duplicate routine A"},
		{"unknown field", "routines:\n  - name: a\n    bogus: 1\n", "bogus"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseAssembly("bad.yml", []byte(tc.source))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("ParseAssembly error = %v, want it to mention %q", err, tc.want)
			}
		})
	}
}

func TestLoadAssemblyRejectsBadClauses(t *testing.T) {
	interp, _ := newTestInterpreter(t, Options{})
	cases := map[string]string{
		"unknown verb":     "routines:\n  - name: a\n    body:\n      - jump: here\n",
		"two verbs":        "routines:\n  - name: a\n    body:\n      - {say: x, nop: null}\n",
		"bad operator":     "routines:\n  - name: a\n    body:\n      - say: {op: \"**\", left: \"1\", right: \"2\"}\n",
		"bad condition":    "routines:\n  - name: a\n    body:\n      - signal_on: {condition: lostdigits}\n",
		"missing value":    "routines:\n  - name: a\n    body:\n      - assign: {name: x}\n",
		"unknown trace":    "routines:\n  - name: a\n    body:\n      - trace: sideways\n",
		"unnamed label":    "routines:\n  - name: a\n    body:\n      - label: \"\"\n",
		"bad line number":  "routines:\n  - name: a\n    body:\n      - {line: 0, nop: null}\n",
		"bad loop clause":  "routines:\n  - name: a\n    body:\n      - loop: {count: \"1\", body: [3]}\n",
		"call without name": "routines:\n  - name: a\n    body:\n      - call: {args: [\"1\"]}\n",
	}
	for name, source := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := interp.LoadAssembly("bad.yml", []byte(source)); err == nil {
				t.Fatalf("expected LoadAssembly to fail")
			}
		})
	}
	_, err := interp.LoadAssembly("bad.yml", []byte(cases["unknown verb"]))
	if !errors.Is(err, fs.ErrInvalid) {
		t.Fatalf("unknown verb error = %v, want fs.ErrInvalid", err)
	}
}

func TestBuilderNumbersLoopBodies(t *testing.T) {
	interp, _ := newTestInterpreter(t, Options{})
	routines := mustLoad(t, interp, `
routines:
  - name: main
    body:
      - say: "before"
      - loop: {count: "2", body: [{say: "a"}, {loop: {count: "1", body: [{say: "b"}]}}]}
      - say: "after"
      - {line: 10, say: "ten"}
`)
	code := routines[0].Code()
	instrs := code.Instructions()
	lines := []int{instrs[0].Line(), instrs[1].Line(), instrs[2].Line(), instrs[3].Line()}
	if want := []int{1, 2, 6, 10}; !equalInts(lines, want) {
		t.Fatalf("top-level lines = %v, want %v", lines, want)
	}
	outer := instrs[1].(*Loop)
	inner := outer.body[1].(*Loop)
	if got := []int{outer.body[0].Line(), inner.Line(), inner.body[0].Line()}; !equalInts(got, []int{3, 4, 5}) {
		t.Fatalf("loop body lines = %v", got)
	}
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for idx := range a {
		if a[idx] != b[idx] {
			return false
		}
	}
	return true
}

func TestBuilderRoutineWithoutLoader(t *testing.T) {
	interp, out := newTestInterpreter(t, Options{})
	var main *Routine
	err := interp.Do(func(*activity.Activity) error {
		b := NewBuilder(interp.Heap())
		r, err := b.Routine("main",
			b.Assign("x", b.Lit("3")),
			b.Say(b.Op(OpMultiply, b.Var("x"), b.Call("twice", b.Var("x")))),
			b.Exit(nil),
			b.Label("twice"),
			b.Return(b.Op(OpAdd, b.Call("arg", b.Lit("1")), b.Call("arg", b.Lit("1")))),
		)
		if err != nil {
			return err
		}
		interp.RegisterRoutine(r)
		main = r
		return nil
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	res := mustRun(t, interp, main)
	if got := out.String(); got != "18\n" {
		t.Fatalf("output = %q", got)
	}
	if !res.Exited {
		t.Fatalf("result = %+v", res)
	}
}
