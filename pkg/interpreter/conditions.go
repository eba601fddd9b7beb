package interpreter

import (
	"errors"
	"fmt"

	"rexx/interpreter-go/pkg/memory"
	"rexx/interpreter-go/pkg/runtime"
)

// Condition names that SIGNAL ON can trap.
const (
	ConditionSyntax  = "SYNTAX"
	ConditionHalt    = "HALT"
	ConditionError   = "ERROR"
	ConditionNoValue = "NOVALUE"
)

// Error codes raised by the execution core.
const (
	ErrControlStackFull   = "11.1"
	ErrLabelNotFound      = "16.1"
	ErrIncorrectCall      = "40.1"
	ErrNotEnoughArguments = "40.3"
	ErrTooManyArguments   = "40.4"
	ErrWholeNumberArg     = "40.12"
	ErrBadOption          = "40.28"
	ErrBadArithmetic      = "41.1"
	ErrRoutineNotFound    = "43.1"
	ErrNoDataReturned     = "44.1"
	ErrSystemService      = "48.1"
	ErrInterrupted        = "4.1"
)

var errorMessages = map[string]string{
	ErrControlStackFull:   "Control stack full",
	ErrLabelNotFound:      "Label %q not found",
	ErrIncorrectCall:      "Incorrect call to routine %s",
	ErrNotEnoughArguments: "Routine %s requires %d arguments",
	ErrTooManyArguments:   "Routine %s accepts at most %d arguments",
	ErrWholeNumberArg:     "Routine %s argument %d must be a whole number; found %q",
	ErrBadOption:          "Routine %s option must be one of %s; found %q",
	ErrBadArithmetic:      "Nonnumeric value %q used in arithmetic operation",
	ErrRoutineNotFound:    "Could not find routine %q",
	ErrNoDataReturned:     "No data returned from function %q",
	ErrSystemService:      "Failure in system service: %s",
	ErrInterrupted:        "Program interrupted with HALT condition: %s",
}

// Condition is a recoverable interpreter error. It propagates up the
// activation chain until a SIGNAL ON trap handles it.
type Condition struct {
	Name    string
	Code    string
	Message string
	Line    int
	Program string
	// Target is the routine or label the condition is about, if any.
	Target string
	Cause  error
	// Callers lists the call clauses the condition unwound through,
	// innermost first.
	Callers []Position
}

// Position is a clause of a named program.
type Position struct {
	Program string
	Line    int
}

func (c *Condition) Error() string {
	if c.Code == "" {
		return fmt.Sprintf("%s condition: %s", c.Name, c.Message)
	}
	return fmt.Sprintf("Error %s: %s", c.Code, c.Message)
}

func (c *Condition) Unwrap() error { return c.Cause }

// newSyntax builds a SYNTAX condition for code with the message arguments.
func newSyntax(code string, args ...any) *Condition {
	format, ok := errorMessages[code]
	if !ok {
		format = "Error %s"
		args = []any{code}
	}
	return &Condition{Name: ConditionSyntax, Code: code, Message: fmt.Sprintf(format, args...)}
}

func newHalt(reason string) *Condition {
	cond := newSyntax(ErrInterrupted, reason)
	cond.Name = ConditionHalt
	return cond
}

// AsCondition extracts the condition carried by err.
func AsCondition(err error) (*Condition, bool) {
	var cond *Condition
	if errors.As(err, &cond) {
		return cond, true
	}
	return nil, false
}

// FatalError ends the program without giving traps a chance: the heap is
// exhausted, an image is corrupt, or the activity panicked.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return "fatal: " + e.Err.Error()
}

func (e *FatalError) Unwrap() error { return e.Err }

// conditionObject renders cond as the directory CONDITION() and SIGNAL
// traps see.
func (i *Interpreter) conditionObject(cond *Condition, instruction string) *runtime.Directory {
	release := i.heap.Hold()
	defer release()
	dir := runtime.NewDirectory(i.heap, 6)
	put := func(key, value string) {
		dir.Put(key, runtime.NewString(i.heap, value))
	}
	put("CONDITION", cond.Name)
	put("CODE", cond.Code)
	put("DESCRIPTION", cond.Message)
	put("INSTRUCTION", instruction)
	put("PROGRAM", cond.Program)
	put("POSITION", fmt.Sprintf("%d", cond.Line))
	return dir
}

func conditionField(obj memory.Object, key string) string {
	dir, ok := obj.(*runtime.Directory)
	if !ok {
		return ""
	}
	value, _ := dir.Get(key)
	return runtime.Text(value)
}
