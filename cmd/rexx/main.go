package main

import (
	"fmt"
	"os"

	"rexx/interpreter-go/pkg/driver"
)

const cliToolVersion = "rexx 0.1.0-dev"

const (
	exitOK      = 0
	exitFailure = 1
	exitFatal   = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	extra, err := driver.ExtraArgs(os.Getenv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitFailure
	}
	if len(extra) > 0 {
		args = append(extra, args...)
	}
	if len(args) == 0 {
		printUsage()
		return exitFailure
	}

	flags, remaining, err := parseGlobalFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitFailure
	}
	if len(remaining) == 0 {
		printUsage()
		return exitFailure
	}

	switch remaining[0] {
	case "--help", "-h", "help":
		printUsage()
		return exitOK
	case "--version", "-V", "version":
		fmt.Fprintln(os.Stdout, cliToolVersion)
		return exitOK
	case "run":
		return runProgram(remaining[1:], flags)
	case "compile":
		return runCompile(remaining[1:])
	case "pack":
		return runPack(remaining[1:])
	case "image":
		return runImage(remaining[1:])
	case "deps":
		return runDeps(remaining[1:])
	default:
		return runProgram(remaining, flags)
	}
}
