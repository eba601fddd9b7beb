package driver

import (
	"os"
	"path/filepath"
	"strings"
)

// SearchPaths lists the directories external routines are resolved from,
// in order: base, the config's search_path, REXX_PATH, then the checkouts
// of locked libraries. Missing directories and duplicates are dropped.
func (c *Config) SearchPaths(base string, lock *Lockfile, getenv func(string) string) []string {
	seen := make(map[string]struct{})
	var paths []string

	add := func(path string) {
		if path == "" {
			return
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return
		}
		info, err := os.Stat(abs)
		if err != nil || !info.IsDir() {
			return
		}
		if _, ok := seen[abs]; ok {
			return
		}
		seen[abs] = struct{}{}
		paths = append(paths, abs)
	}

	add(base)
	for _, path := range c.SearchPath {
		add(c.resolve(path))
	}
	if getenv != nil {
		for _, part := range SplitPathList(getenv("REXX_PATH")) {
			add(part)
		}
	}
	if lock != nil {
		for _, lib := range lock.Libraries {
			add(c.LibraryCheckoutDir(lib.Name, lib.Revision))
		}
	}
	if len(paths) == 0 {
		add(".")
	}
	return paths
}

// LibraryCheckoutDir is where revision of library name is checked out.
func (c *Config) LibraryCheckoutDir(name, revision string) string {
	return filepath.Join(c.LibraryDir(), SanitizePathSegment(name), SanitizePathSegment(revision))
}

func SplitPathList(value string) []string {
	if value == "" {
		return nil
	}
	raw := strings.Split(value, string(os.PathListSeparator))
	out := make([]string, 0, len(raw))
	for _, part := range raw {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// SanitizePathSegment makes segment safe to use as one path element.
func SanitizePathSegment(segment string) string {
	segment = strings.TrimSpace(segment)
	if segment == "" {
		return "head"
	}
	var b strings.Builder
	for _, r := range segment {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	if result := b.String(); result != "." && result != ".." {
		return result
	}
	return "head"
}
