package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"rexx/interpreter-go/pkg/envelope"
	"rexx/interpreter-go/pkg/interpreter"
)

func runProgram(args []string, flags globalFlags) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "rexx run requires a program file")
		return exitFailure
	}
	path, programArgs := args[0], args[1:]

	ws, err := loadWorkspace()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitFailure
	}
	opts, err := ws.interpreterOptions(programDir(path), flags)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitFailure
	}
	interp := interpreter.New(opts)
	defer interp.Close()

	cache, err := envelope.NewCache(ws.config.ImageCacheDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: image cache disabled: %v\n", err)
		cache = nil
	}
	entry, err := loadProgram(interp, cache, path)
	if err != nil {
		return reportLoadError(interp, path, err)
	}

	res, err := interp.Run(entry, programArgs...)
	if err != nil {
		return reportRuntimeError(interp, err)
	}
	return exitStatus(res)
}

// exitStatus maps EXIT n to the process status when n is a small whole
// number.
func exitStatus(res interpreter.Result) int {
	if !res.Exited || !res.HasValue {
		return exitOK
	}
	code, err := strconv.Atoi(res.Value)
	if err != nil || code < 0 || code > 255 {
		return exitOK
	}
	return code
}

func reportLoadError(interp *interpreter.Interpreter, path string, err error) int {
	if _, ok := interpreter.AsCondition(err); ok {
		return reportRuntimeError(interp, err)
	}
	fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", path, err)
	var fatal *interpreter.FatalError
	if errors.As(err, &fatal) {
		return exitFatal
	}
	return exitFailure
}
