package interpreter

import (
	"fmt"
	"strings"

	"rexx/interpreter-go/pkg/memory"
	"rexx/interpreter-go/pkg/runtime"
)

// TraceSetting selects which clauses and results are echoed to the trace
// writer.
type TraceSetting uint8

const (
	TraceOff TraceSetting = iota
	TraceNormal
	TraceAll
	TraceResults
	TraceLabels
)

var traceNames = map[TraceSetting]string{
	TraceOff:     "OFF",
	TraceNormal:  "NORMAL",
	TraceAll:     "ALL",
	TraceResults: "RESULTS",
	TraceLabels:  "LABELS",
}

func (t TraceSetting) String() string {
	if name, ok := traceNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TraceSetting(%d)", uint8(t))
}

// ParseTraceSetting accepts a setting name or its first letter.
func ParseTraceSetting(text string) (TraceSetting, error) {
	text = strings.ToUpper(strings.TrimSpace(text))
	if text == "" {
		return TraceNormal, nil
	}
	for setting, name := range traceNames {
		if text == name || text == name[:1] {
			return setting, nil
		}
	}
	return TraceOff, fmt.Errorf("unknown trace setting %q", text)
}

const (
	colorReset  = "\x1b[0m"
	colorClause = "\x1b[36m"
	colorResult = "\x1b[32m"
)

func (a *Activation) tracesClause(instr Instruction) bool {
	switch a.trace {
	case TraceAll, TraceResults:
		return true
	case TraceLabels:
		_, isLabel := instr.(*Label)
		return isLabel
	default:
		return false
	}
}

func (a *Activation) traceClause(instr Instruction) {
	if a.interp.traceOut == nil || !a.tracesClause(instr) {
		return
	}
	line := fmt.Sprintf("%6d *-* %s", instr.Line(), instr.Text())
	if a.interp.opts.TraceColor {
		line = colorClause + line + colorReset
	}
	fmt.Fprintln(a.interp.traceOut, line)
}

// traceResult echoes an intermediate value under TRACE RESULTS.
func (a *Activation) traceResult(marker string, value memory.Object) {
	if a.trace != TraceResults || a.interp.traceOut == nil {
		return
	}
	line := fmt.Sprintf("       %s   %q", marker, runtime.Text(value))
	if a.interp.opts.TraceColor {
		line = colorResult + line + colorReset
	}
	fmt.Fprintln(a.interp.traceOut, line)
}
