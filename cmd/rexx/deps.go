package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"rexx/interpreter-go/pkg/driver"
)

func runDeps(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "rexx deps requires a subcommand (install)")
		return exitFailure
	}
	switch args[0] {
	case "install":
		if len(args) > 1 {
			fmt.Fprintf(os.Stderr, "rexx deps install does not take arguments (received %s)\n", strings.Join(args[1:], " "))
			return exitFailure
		}
		return runDepsInstall()
	default:
		fmt.Fprintf(os.Stderr, "unknown deps subcommand %q\n", args[0])
		return exitFailure
	}
}

func runDepsInstall() int {
	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to determine working directory: %v\n", err)
		return exitFailure
	}
	configPath, err := driver.FindConfig(cwd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "unable to locate %s: %v\n", driver.ConfigFileName, err)
		return exitFailure
	}
	cfg, err := driver.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read config: %v\n", err)
		return exitFailure
	}

	fmt.Fprintf(os.Stdout, "Config: %s\n", cfg.Path)
	fmt.Fprintf(os.Stdout, "Libraries: %d\n", len(cfg.Libraries))
	fmt.Fprintf(os.Stdout, "Library directory: %s\n", cfg.LibraryDir())

	lockPath := cfg.LockfilePath()
	lock, err := driver.LoadLockfile(lockPath)
	lockCreated := false
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist):
		lock = driver.NewLockfile(cliToolVersion)
		lockCreated = true
	default:
		fmt.Fprintf(os.Stderr, "failed to read lockfile: %v\n", err)
		return exitFailure
	}
	lock.Tool = cliToolVersion

	installer := newLibraryInstaller(cfg)
	changed, logs, err := installer.Install(lock)
	for _, line := range logs {
		fmt.Fprintln(os.Stdout, line)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to install libraries: %v\n", err)
		return exitFailure
	}

	if changed || lockCreated {
		action := "Updated"
		if lockCreated {
			action = "Created"
		}
		if err := driver.WriteLockfile(lock, lockPath); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write lockfile: %v\n", err)
			return exitFailure
		}
		fmt.Fprintf(os.Stdout, "%s %s: %s\n", action, driver.LockfileName, lock.Path)
	} else {
		fmt.Fprintf(os.Stdout, "%s already up to date: %s\n", driver.LockfileName, lockPath)
	}
	return exitOK
}

type libraryInstaller struct {
	config  *driver.Config
	fetcher *gitFetcher
}

func newLibraryInstaller(cfg *driver.Config) *libraryInstaller {
	return &libraryInstaller{config: cfg, fetcher: &gitFetcher{config: cfg}}
}

// Install brings every configured library to the revision it is locked
// at, fetching the ones that are new or missing on disk. Entries for
// libraries no longer configured are dropped.
func (i *libraryInstaller) Install(lock *driver.Lockfile) (bool, []string, error) {
	var logs []string
	changed := lock.Prune(func(name string) bool {
		_, ok := i.config.Libraries[name]
		return ok
	})
	for _, name := range i.config.LibraryNames() {
		spec := i.config.Libraries[name]
		locked := lock.Find(name)
		if locked != nil && i.satisfies(locked, spec) {
			dir := i.config.LibraryCheckoutDir(name, locked.Revision)
			if _, err := os.Stat(dir); err == nil {
				logs = append(logs, fmt.Sprintf("%s %s (locked)", name, shortRevision(locked.Revision)))
				continue
			}
			pinned := *spec
			pinned.Rev = locked.Revision
			spec = &pinned
		}
		lib, err := i.fetcher.Fetch(name, spec)
		if err != nil {
			return changed, logs, err
		}
		logs = append(logs, fmt.Sprintf("%s %s (fetched)", name, shortRevision(lib.Revision)))
		if lock.Put(lib) {
			changed = true
		}
	}
	return changed, logs, nil
}

// satisfies reports whether a locked entry still matches its config.
func (i *libraryInstaller) satisfies(locked *driver.LockedLibrary, spec *driver.LibrarySpec) bool {
	if !strings.HasPrefix(locked.Source, "git+"+strings.TrimSpace(spec.Git)+"@") {
		return false
	}
	if rev := strings.TrimSpace(spec.Rev); rev != "" && !strings.HasPrefix(locked.Revision, rev) {
		return false
	}
	return true
}

func shortRevision(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}
