package interpreter

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"rexx/interpreter-go/pkg/runtime"
)

// Debugger is consulted before each clause of an activation in debug mode.
// Returning an error raises it in the activation as if the clause had.
type Debugger interface {
	Pause(a *Activation, instr Instruction) error
}

// StepDebugger prompts on out and reads one command per clause from in.
// Input is read with the execution lock released.
//
//	(empty)   step to the next clause
//	c         continue without pausing
//	p NAME    print a variable
//	q         halt the program
type StepDebugger struct {
	in  *bufio.Reader
	out io.Writer
}

func NewStepDebugger(in io.Reader, out io.Writer) *StepDebugger {
	return &StepDebugger{in: bufio.NewReader(in), out: out}
}

func (d *StepDebugger) Pause(a *Activation, instr Instruction) error {
	for {
		fmt.Fprintf(d.out, "%6d *-* %s\n+++ ", instr.Line(), instr.Text())
		var line string
		var err error
		a.activity.Blocking(func() {
			line, err = d.in.ReadString('\n')
		})
		if err != nil && line == "" {
			if err == io.EOF {
				a.SetDebug(false)
				return nil
			}
			return newSyntax(ErrSystemService, err.Error())
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			return nil
		}
		switch strings.ToLower(fields[0]) {
		case "c":
			a.SetDebug(false)
			return nil
		case "q":
			return newHalt("debugger quit")
		case "p":
			for _, name := range fields[1:] {
				value, ok := a.vars.Get(strings.ToUpper(name))
				if !ok {
					fmt.Fprintf(d.out, "%s is unset\n", strings.ToUpper(name))
					continue
				}
				fmt.Fprintf(d.out, "%s = %q\n", strings.ToUpper(name), runtime.Text(value))
			}
		default:
			fmt.Fprintf(d.out, "unknown command %q\n", fields[0])
		}
	}
}
