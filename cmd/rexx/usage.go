package main

import (
	"fmt"
	"os"
)

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  rexx [--trace=off|normal|all|results|labels] [--debug] run <file.yml|file.rxc> [args...]")
	fmt.Fprintln(os.Stderr, "  rexx [--trace=...] [--debug] <file.yml|file.rxc> [args...]")
	fmt.Fprintln(os.Stderr, "  rexx compile [-o dir] <file.yml>")
	fmt.Fprintln(os.Stderr, "  rexx pack -o <lib.rxlib> <file.yml|file.rxc>...")
	fmt.Fprintln(os.Stderr, "  rexx image <file.rxc>")
	fmt.Fprintln(os.Stderr, "  rexx deps install")
	fmt.Fprintln(os.Stderr, "  rexx version")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Environment:")
	fmt.Fprintln(os.Stderr, "  REXX_PATH  extra directories searched for external routines")
	fmt.Fprintln(os.Stderr, "  REXX_OPTS  arguments prepended to the command line")
}
