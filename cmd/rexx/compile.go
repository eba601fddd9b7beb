package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/inhies/go-bytesize"

	"rexx/interpreter-go/pkg/envelope"
	"rexx/interpreter-go/pkg/interpreter"
)

// splitOutputFlag pulls -o/--output out of args.
func splitOutputFlag(args []string) (string, []string, error) {
	out := ""
	rest := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "-o" || arg == "--output":
			if i+1 >= len(args) {
				return "", nil, fmt.Errorf("%s expects a path", arg)
			}
			out = args[i+1]
			i++
		case strings.HasPrefix(arg, "--output="):
			out = strings.TrimPrefix(arg, "--output=")
		default:
			rest = append(rest, arg)
		}
	}
	return out, rest, nil
}

// runCompile writes one image per routine of each assembly file.
func runCompile(args []string) int {
	outDir, files, err := splitOutputFlag(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitFailure
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "rexx compile requires at least one assembly file")
		return exitFailure
	}
	interp := interpreter.New(interpreter.Options{Stdout: os.Stdout, TraceOut: stderrWriter()})
	defer interp.Close()

	for _, path := range files {
		names, images, err := compileAssembly(interp, path)
		if err != nil {
			return reportLoadError(interp, path, err)
		}
		dir := outDir
		if dir == "" {
			dir = filepath.Dir(path)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "failed to create %s: %v\n", dir, err)
			return exitFailure
		}
		for idx, name := range names {
			target := filepath.Join(dir, strings.ToLower(name)+envelope.ImageExt)
			if err := os.WriteFile(target, images[idx], 0o644); err != nil {
				fmt.Fprintf(os.Stderr, "failed to write %s: %v\n", target, err)
				return exitFailure
			}
			fmt.Fprintf(os.Stdout, "compiled %s -> %s\n", name, target)
		}
	}
	return exitOK
}

// runPack bundles routines into a macrospace library.
func runPack(args []string) int {
	out, files, err := splitOutputFlag(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitFailure
	}
	if out == "" || len(files) == 0 {
		fmt.Fprintln(os.Stderr, "rexx pack requires -o <lib.rxlib> and at least one input")
		return exitFailure
	}
	interp := interpreter.New(interpreter.Options{Stdout: os.Stdout, TraceOut: stderrWriter()})
	defer interp.Close()

	var macros []envelope.Macro
	for _, path := range files {
		if strings.EqualFold(filepath.Ext(path), envelope.ImageExt) {
			data, err := os.ReadFile(path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to read %s: %v\n", path, err)
				return exitFailure
			}
			info, err := interp.InspectImage(data)
			if err != nil {
				return reportLoadError(interp, path, err)
			}
			macros = append(macros, envelope.Macro{Name: info.Routine, Image: data})
			continue
		}
		names, images, err := compileAssembly(interp, path)
		if err != nil {
			return reportLoadError(interp, path, err)
		}
		for idx, name := range names {
			macros = append(macros, envelope.Macro{Name: name, Image: images[idx]})
		}
	}

	var buf bytes.Buffer
	if err := envelope.WriteMacrospace(&buf, macros); err != nil {
		fmt.Fprintf(os.Stderr, "failed to pack %s: %v\n", out, err)
		return exitFailure
	}
	if err := os.WriteFile(out, buf.Bytes(), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write %s: %v\n", out, err)
		return exitFailure
	}
	fmt.Fprintf(os.Stdout, "packed %d routines -> %s\n", len(macros), out)
	return exitOK
}

// runImage prints the header and contents of a compiled image.
func runImage(args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "rexx image requires exactly one image file")
		return exitFailure
	}
	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read %s: %v\n", path, err)
		return exitFailure
	}
	interp := interpreter.New(interpreter.Options{Stdout: os.Stdout, TraceOut: stderrWriter()})
	defer interp.Close()

	info, err := interp.InspectImage(data)
	if err != nil {
		return reportLoadError(interp, path, err)
	}
	fmt.Fprintf(os.Stdout, "image: %s\n", path)
	fmt.Fprintf(os.Stdout, "version: %d\n", info.Header.Version)
	fmt.Fprintf(os.Stdout, "payload: %s (%d bytes)\n", bytesize.New(float64(info.Header.Length)), info.Header.Length)
	fmt.Fprintf(os.Stdout, "checksum: %#04x\n", info.Header.CRC)
	fmt.Fprintf(os.Stdout, "routine: %s\n", info.Routine)
	fmt.Fprintf(os.Stdout, "objects: %d (%s)\n", info.Objects, bytesize.New(float64(info.Bytes)))

	types := make([]string, 0, len(info.Types))
	for name := range info.Types {
		types = append(types, name)
	}
	sort.Strings(types)
	for _, name := range types {
		fmt.Fprintf(os.Stdout, "  %-16s %d\n", name, info.Types[name])
	}
	return exitOK
}
