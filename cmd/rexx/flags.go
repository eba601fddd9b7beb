package main

import (
	"fmt"
	"strings"

	"rexx/interpreter-go/pkg/interpreter"
)

type globalFlags struct {
	trace    interpreter.TraceSetting
	hasTrace bool
	debug    bool
}

// parseGlobalFlags consumes the flags in front of the command. Later
// occurrences win, so explicit flags override REXX_OPTS.
func parseGlobalFlags(args []string) (globalFlags, []string, error) {
	var flags globalFlags
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--":
			return flags, args[i+1:], nil
		case arg == "--debug":
			flags.debug = true
		case arg == "--trace":
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("--trace expects a value")
			}
			if err := flags.setTrace(args[i+1]); err != nil {
				return flags, nil, err
			}
			i++
		case strings.HasPrefix(arg, "--trace="):
			if err := flags.setTrace(strings.TrimPrefix(arg, "--trace=")); err != nil {
				return flags, nil, err
			}
		case strings.HasPrefix(arg, "--") && arg != "--help" && arg != "--version":
			return flags, nil, fmt.Errorf("unknown flag %s", arg)
		default:
			return flags, args[i:], nil
		}
	}
	return flags, nil, nil
}

func (f *globalFlags) setTrace(value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("--trace expects a value")
	}
	setting, err := interpreter.ParseTraceSetting(value)
	if err != nil {
		return fmt.Errorf("--trace: %w", err)
	}
	f.trace, f.hasTrace = setting, true
	return nil
}
