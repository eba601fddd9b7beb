package interpreter

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"rexx/interpreter-go/pkg/memory"
	"rexx/interpreter-go/pkg/runtime"
)

// BuiltinFunc implements a built-in function. Its argc arguments are the
// top entries of stack, first argument deepest. A nil result means the
// function returned nothing.
type BuiltinFunc func(a *Activation, argc int, stack *EvalStack) (memory.Object, error)

type builtin struct {
	name    string
	minArgs int
	maxArgs int
	fn      BuiltinFunc
}

// builtinTable is indexed by the position resolved into call sites, so
// entries are only ever appended.
var builtinTable = []builtin{
	{"ARG", 0, 2, builtinArg},
	{"CONDITION", 0, 1, builtinCondition},
	{"LENGTH", 1, 1, builtinLength},
	{"REVERSE", 1, 1, builtinReverse},
	{"SLEEP", 1, 1, builtinSleep},
	{"TIME", 0, 1, builtinTime},
}

var builtinIndex = func() map[string]int {
	index := make(map[string]int, len(builtinTable))
	for idx, b := range builtinTable {
		index[b.name] = idx
	}
	for idx := range builtinTable {
		entry := &builtinTable[idx]
		entry.fn = checkArity(entry.name, entry.minArgs, entry.maxArgs, entry.fn)
	}
	return index
}()

func lookupBuiltin(name string) (int, bool) {
	idx, ok := builtinIndex[strings.ToUpper(name)]
	return idx, ok
}

// BuiltinNames lists the built-in functions in table order.
func BuiltinNames() []string {
	names := make([]string, len(builtinTable))
	for idx, b := range builtinTable {
		names[idx] = b.name
	}
	return names
}

func checkArity(name string, min, max int, fn BuiltinFunc) BuiltinFunc {
	return func(a *Activation, argc int, stack *EvalStack) (memory.Object, error) {
		if argc < min {
			return nil, newSyntax(ErrNotEnoughArguments, name, min)
		}
		if argc > max {
			return nil, newSyntax(ErrTooManyArguments, name, max)
		}
		return fn(a, argc, stack)
	}
}

func (a *Activation) newString(s string) *runtime.String {
	return runtime.NewString(a.interp.heap, s)
}

func wholeArg(name string, argc int, stack *EvalStack, idx int) (int64, error) {
	arg := stack.Arg(argc, idx)
	n, ok := runtime.WholeNumber(arg)
	if !ok {
		return 0, newSyntax(ErrWholeNumberArg, name, idx+1, runtime.Text(arg))
	}
	return n, nil
}

func optionArg(name string, argc int, stack *EvalStack, idx int, def byte, allowed string) (byte, error) {
	if idx >= argc {
		return def, nil
	}
	text := strings.TrimSpace(runtime.Text(stack.Arg(argc, idx)))
	if text == "" {
		return def, nil
	}
	opt := strings.ToUpper(text)[0]
	if !strings.ContainsRune(allowed, rune(opt)) {
		return 0, newSyntax(ErrBadOption, name, allowed, text)
	}
	return opt, nil
}

// ARG() returns the argument count, ARG(n) the nth argument, and
// ARG(n, 'E'|'O') whether it exists or is omitted.
func builtinArg(a *Activation, argc int, stack *EvalStack) (memory.Object, error) {
	if argc == 0 {
		return a.newString(strconv.Itoa(len(a.args))), nil
	}
	n, err := wholeArg("ARG", argc, stack, 0)
	if err != nil {
		return nil, err
	}
	if n < 1 {
		return nil, newSyntax(ErrWholeNumberArg, "ARG", 1, strconv.FormatInt(n, 10))
	}
	exists := int(n) <= len(a.args) && a.args[n-1] != nil
	opt, err := optionArg("ARG", argc, stack, 1, 'A', "AEO")
	if err != nil {
		return nil, err
	}
	switch opt {
	case 'E':
		return a.newString(boolText(exists)), nil
	case 'O':
		return a.newString(boolText(!exists)), nil
	}
	if !exists {
		return a.newString(""), nil
	}
	return a.args[n-1], nil
}

// CONDITION reports on the last trapped condition: C name, D description,
// I instruction, S state; E the error code.
func builtinCondition(a *Activation, argc int, stack *EvalStack) (memory.Object, error) {
	opt, err := optionArg("CONDITION", argc, stack, 0, 'I', "CDEIS")
	if err != nil {
		return nil, err
	}
	if a.condition == nil {
		return a.newString(""), nil
	}
	switch opt {
	case 'C':
		return a.newString(conditionField(a.condition, "CONDITION")), nil
	case 'D':
		return a.newString(conditionField(a.condition, "DESCRIPTION")), nil
	case 'E':
		return a.newString(conditionField(a.condition, "CODE")), nil
	case 'S':
		return a.newString("OFF"), nil
	default:
		return a.newString(conditionField(a.condition, "INSTRUCTION")), nil
	}
}

func builtinLength(a *Activation, argc int, stack *EvalStack) (memory.Object, error) {
	text := runtime.Text(stack.Arg(argc, 0))
	return a.newString(strconv.Itoa(len(text))), nil
}

func builtinReverse(a *Activation, argc int, stack *EvalStack) (memory.Object, error) {
	text := []byte(runtime.Text(stack.Arg(argc, 0)))
	for i, j := 0, len(text)-1; i < j; i, j = i+1, j-1 {
		text[i], text[j] = text[j], text[i]
	}
	return a.newString(string(text)), nil
}

// SLEEP waits the given number of seconds with the execution lock released.
func builtinSleep(a *Activation, argc int, stack *EvalStack) (memory.Object, error) {
	arg := stack.Arg(argc, 0)
	secs, err := strconv.ParseFloat(strings.TrimSpace(runtime.Text(arg)), 64)
	if err != nil || secs < 0 {
		return nil, newSyntax(ErrIncorrectCall, "SLEEP")
	}
	d := time.Duration(secs * float64(time.Second))
	a.activity.Blocking(func() { time.Sleep(d) })
	return a.newString("0"), nil
}

// TIME returns the time of day (N, L, S) or reads the activation's elapsed
// clock (E, R). R also restarts the clock.
func builtinTime(a *Activation, argc int, stack *EvalStack) (memory.Object, error) {
	opt, err := optionArg("TIME", argc, stack, 0, 'N', "ELNRS")
	if err != nil {
		return nil, err
	}
	now := time.Now()
	switch opt {
	case 'E', 'R':
		if a.elapsed.IsZero() {
			a.elapsedOrigin()
			return a.newString("0"), nil
		}
		elapsed := now.Sub(a.elapsed)
		if opt == 'R' {
			a.elapsed = now
		}
		return a.newString(fmt.Sprintf("%.6f", elapsed.Seconds())), nil
	case 'L':
		return a.newString(now.Format("15:04:05.000000")), nil
	case 'S':
		midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		return a.newString(strconv.Itoa(int(now.Sub(midnight).Seconds()))), nil
	default:
		return a.newString(now.Format("15:04:05")), nil
	}
}
