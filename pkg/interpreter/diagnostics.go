package interpreter

import (
	"errors"
	"fmt"
	"strings"

	"rexx/interpreter-go/pkg/driver"
)

type RuntimeDiagnosticNote struct {
	Message  string
	Location driver.DiagnosticLocation
}

type RuntimeDiagnostic struct {
	Severity driver.DiagnosticSeverity
	Message  string
	Location driver.DiagnosticLocation
	Notes    []RuntimeDiagnosticNote
}

const maxDiagnosticNotes = 8

// SetProgramOrigin records the file a program was loaded from, for
// diagnostics.
func (i *Interpreter) SetProgramOrigin(program, path string) {
	i.originMu.Lock()
	defer i.originMu.Unlock()
	if i.origins == nil {
		i.origins = make(map[string]string)
	}
	i.origins[strings.ToUpper(program)] = path
}

func (i *Interpreter) programOrigin(program string) string {
	i.originMu.RLock()
	defer i.originMu.RUnlock()
	if path, ok := i.origins[strings.ToUpper(program)]; ok {
		return path
	}
	return program
}

func (i *Interpreter) locationOf(pos Position) driver.DiagnosticLocation {
	if pos.Program == "" && pos.Line == 0 {
		return driver.DiagnosticLocation{}
	}
	return driver.DiagnosticLocation{Path: i.programOrigin(pos.Program), Line: pos.Line}
}

// BuildRuntimeDiagnostic describes err, with a note for each call clause a
// condition unwound through.
func (i *Interpreter) BuildRuntimeDiagnostic(err error) RuntimeDiagnostic {
	diag := RuntimeDiagnostic{Severity: driver.SeverityError}
	if err == nil {
		return diag
	}
	cond, ok := AsCondition(err)
	if !ok {
		var fatal *FatalError
		if errors.As(err, &fatal) {
			diag.Message = fatal.Error()
		} else {
			diag.Message = err.Error()
		}
		return diag
	}
	diag.Message = cond.Error()
	if cond.Code == "" && cond.Name != ConditionSyntax {
		diag.Severity = driver.SeverityWarning
	}
	diag.Location = i.locationOf(Position{Program: cond.Program, Line: cond.Line})
	for _, caller := range cond.Callers {
		if len(diag.Notes) >= maxDiagnosticNotes {
			break
		}
		loc := i.locationOf(caller)
		if loc.IsZero() || loc == diag.Location {
			continue
		}
		diag.Notes = append(diag.Notes, RuntimeDiagnosticNote{Message: "called from here", Location: loc})
	}
	return diag
}

func DescribeRuntimeDiagnostic(diag RuntimeDiagnostic) string {
	message := strings.TrimSpace(diag.Message)
	prefix := "runtime: "
	if diag.Severity == driver.SeverityWarning {
		prefix = "warning: runtime: "
	}
	var b strings.Builder
	if location := diag.Location.Format(); location != "" {
		fmt.Fprintf(&b, "%s%s %s", prefix, location, message)
	} else {
		fmt.Fprintf(&b, "%s%s", prefix, message)
	}
	for _, note := range diag.Notes {
		if loc := note.Location.Format(); loc != "" {
			fmt.Fprintf(&b, "\nnote: %s %s", loc, note.Message)
		} else {
			fmt.Fprintf(&b, "\nnote: %s", note.Message)
		}
	}
	return b.String()
}
