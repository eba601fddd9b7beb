package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"rexx/interpreter-go/pkg/driver"
	"rexx/interpreter-go/pkg/interpreter"
	"rexx/interpreter-go/pkg/memory"
)

type workspace struct {
	config *driver.Config
	lock   *driver.Lockfile
}

// loadWorkspace reads the nearest rexx.yml and its lock file. Both are
// optional.
func loadWorkspace() (*workspace, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to determine working directory: %w", err)
	}
	cfg := driver.DefaultConfig()
	if path, err := driver.FindConfig(cwd); err == nil {
		cfg, err = driver.LoadConfig(path)
		if err != nil {
			return nil, err
		}
	} else if !errors.Is(err, driver.ErrConfigNotFound) {
		return nil, err
	}
	ws := &workspace{config: cfg}
	lock, err := driver.LoadLockfile(cfg.LockfilePath())
	switch {
	case err == nil:
		ws.lock = lock
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read lockfile: %w", err)
	}
	return ws, nil
}

// interpreterOptions builds the interpreter configuration for a program
// that lives in base.
func (ws *workspace) interpreterOptions(base string, flags globalFlags) (interpreter.Options, error) {
	cfg := ws.config
	opts := interpreter.Options{
		Heap: memory.Options{
			InitialSize: uint64(cfg.Heap.Initial),
			SegmentSize: uint64(cfg.Heap.Segment),
			Limit:       uint64(cfg.Heap.Limit),
		},
		MaxDepth:      cfg.Stack.MaxDepth,
		YieldInterval: interpreter.DefaultYieldInterval,
		Address:       cfg.Address,
		SearchPath:    cfg.SearchPaths(base, ws.lock, os.Getenv),
		Stdout:        os.Stdout,
		TraceOut:      stderrWriter(),
		TraceColor:    stderrIsTerminal(),
		Debug:         flags.debug,
	}
	if cfg.YieldInterval != nil {
		opts.YieldInterval = *cfg.YieldInterval
	}
	if cfg.Trace != "" {
		setting, err := interpreter.ParseTraceSetting(cfg.Trace)
		if err != nil {
			return opts, fmt.Errorf("%s: trace: %w", cfg.Path, err)
		}
		opts.Trace = setting
	}
	if flags.hasTrace {
		opts.Trace = flags.trace
	}
	if flags.debug {
		opts.Debugger = interpreter.NewStepDebugger(os.Stdin, opts.TraceOut)
	}
	return opts, nil
}

func programDir(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Dir(path)
	}
	return filepath.Dir(abs)
}
