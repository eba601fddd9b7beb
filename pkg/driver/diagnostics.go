package driver

import "fmt"

// DiagnosticSeverity ranks a reported problem.
type DiagnosticSeverity int

const (
	SeverityError DiagnosticSeverity = iota
	SeverityWarning
)

func (s DiagnosticSeverity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	default:
		return "error"
	}
}

// DiagnosticLocation points at a clause of a program.
type DiagnosticLocation struct {
	Path string
	Line int
}

// Format renders the location as path:line, falling back to whichever part
// is known.
func (l DiagnosticLocation) Format() string {
	switch {
	case l.Path != "" && l.Line > 0:
		return fmt.Sprintf("%s:%d", l.Path, l.Line)
	case l.Path != "":
		return l.Path
	case l.Line > 0:
		return fmt.Sprintf("line %d", l.Line)
	default:
		return ""
	}
}

func (l DiagnosticLocation) IsZero() bool {
	return l == DiagnosticLocation{}
}
