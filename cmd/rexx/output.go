package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"rexx/interpreter-go/pkg/driver"
	"rexx/interpreter-go/pkg/interpreter"
)

const (
	ansiRed    = "\x1b[31m"
	ansiYellow = "\x1b[33m"
	ansiReset  = "\x1b[0m"
)

func stderrWriter() io.Writer {
	return colorable.NewColorableStderr()
}

func stderrIsTerminal() bool {
	fd := os.Stderr.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// reportRuntimeError prints err as a diagnostic and picks the exit code.
func reportRuntimeError(interp *interpreter.Interpreter, err error) int {
	diag := interp.BuildRuntimeDiagnostic(err)
	text := interpreter.DescribeRuntimeDiagnostic(diag)
	out := stderrWriter()
	if stderrIsTerminal() {
		color := ansiRed
		if diag.Severity == driver.SeverityWarning {
			color = ansiYellow
		}
		fmt.Fprintf(out, "%s%s%s\n", color, text, ansiReset)
	} else {
		fmt.Fprintln(out, text)
	}
	var fatal *interpreter.FatalError
	if errors.As(err, &fatal) {
		return exitFatal
	}
	return exitFailure
}
