package main

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"rexx/interpreter-go/pkg/interpreter"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(strings.TrimSpace(contents)+"\n"), 0o644); err != nil {
		t.Fatalf("write file %s: %v", path, err)
	}
}

// enterTempDir switches to a fresh directory for the rest of the test and
// clears the environment the CLI reads.
func enterTempDir(t *testing.T) string {
	t.Helper()
	t.Setenv("REXX_OPTS", "")
	t.Setenv("REXX_PATH", "")
	dir := t.TempDir()
	oldWD, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(oldWD); err != nil {
			t.Fatalf("restore working directory: %v", err)
		}
	})
	return dir
}

// compileImage builds the first routine of an assembly into an image.
func compileImage(t *testing.T, source string) []byte {
	t.Helper()
	interp := interpreter.New(interpreter.Options{Stdout: io.Discard, TraceOut: io.Discard})
	defer interp.Close()
	routines, err := interp.LoadAssembly("lib.yml", []byte(source))
	if err != nil {
		t.Fatalf("LoadAssembly: %v", err)
	}
	image, err := interp.SaveImage(routines[0])
	if err != nil {
		t.Fatalf("SaveImage: %v", err)
	}
	return image
}

func captureCLI(t *testing.T, args []string) (int, string, string) {
	t.Helper()

	stdout := os.Stdout
	stderr := os.Stderr

	rOut, wOut, err := os.Pipe()
	if err != nil {
		t.Fatalf("stdout pipe: %v", err)
	}
	rErr, wErr, err := os.Pipe()
	if err != nil {
		t.Fatalf("stderr pipe: %v", err)
	}

	os.Stdout = wOut
	os.Stderr = wErr

	outCh := make(chan []byte)
	errCh := make(chan []byte)
	go func() {
		data, _ := io.ReadAll(rOut)
		outCh <- data
	}()
	go func() {
		data, _ := io.ReadAll(rErr)
		errCh <- data
	}()

	code := run(args)

	os.Stdout = stdout
	os.Stderr = stderr

	if err := wOut.Close(); err != nil {
		t.Fatalf("stdout close: %v", err)
	}
	if err := wErr.Close(); err != nil {
		t.Fatalf("stderr close: %v", err)
	}
	outBytes := <-outCh
	errBytes := <-errCh
	rOut.Close()
	rErr.Close()
	return code, string(outBytes), string(errBytes)
}
