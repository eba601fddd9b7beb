package driver

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LockfileName sits beside rexx.yml.
const LockfileName = "libraries.lock"

// Lockfile records the library revisions `rexx deps install` fetched.
type Lockfile struct {
	Path      string
	Generated string
	Tool      string
	Libraries []*LockedLibrary
}

// LockedLibrary pins one configured library to a commit.
type LockedLibrary struct {
	Name     string
	Source   string
	Revision string
	Checksum string
}

func NewLockfile(tool string) *Lockfile {
	return &Lockfile{
		Generated: time.Now().UTC().Format(time.RFC3339),
		Tool:      strings.TrimSpace(tool),
		Libraries: []*LockedLibrary{},
	}
}

// LoadLockfile parses a libraries.lock from disk.
func LoadLockfile(path string) (*Lockfile, error) {
	if path == "" {
		return nil, fmt.Errorf("lockfile: empty path")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("lockfile: resolve %s: %w", path, err)
	}
	file, err := os.Open(abs)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var raw lockfileDisk
	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&raw); err != nil {
		return nil, fmt.Errorf("lockfile: parse %s: %w", abs, err)
	}

	lock := raw.toLockfile()
	lock.Path = abs
	return lock, nil
}

// WriteLockfile writes lock to path, or to lock.Path when path is empty.
func WriteLockfile(lock *Lockfile, path string) error {
	if lock == nil {
		return fmt.Errorf("lockfile: nil lockfile")
	}
	if path == "" {
		if lock.Path == "" {
			return fmt.Errorf("lockfile: missing path")
		}
		path = lock.Path
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("lockfile: resolve %s: %w", path, err)
	}

	if lock.Generated == "" {
		lock.Generated = time.Now().UTC().Format(time.RFC3339)
	}
	lock.Path = abs
	lock.normalize()

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(lock.toDisk()); err != nil {
		return fmt.Errorf("lockfile: marshal %s: %w", abs, err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("lockfile: encoder close: %w", err)
	}
	if err := os.WriteFile(abs, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("lockfile: write %s: %w", abs, err)
	}
	return nil
}

// Find returns the entry for name, if locked.
func (l *Lockfile) Find(name string) *LockedLibrary {
	if l == nil {
		return nil
	}
	for _, lib := range l.Libraries {
		if lib != nil && lib.Name == name {
			return lib
		}
	}
	return nil
}

// Put adds lib, replacing an entry of the same name. It reports whether
// the lockfile changed.
func (l *Lockfile) Put(lib *LockedLibrary) bool {
	for idx, existing := range l.Libraries {
		if existing == nil || existing.Name != lib.Name {
			continue
		}
		if *existing == *lib {
			return false
		}
		l.Libraries[idx] = lib
		return true
	}
	l.Libraries = append(l.Libraries, lib)
	l.normalize()
	return true
}

// Prune drops entries whose names keep rejects.
func (l *Lockfile) Prune(keep func(name string) bool) bool {
	kept := l.Libraries[:0]
	changed := false
	for _, lib := range l.Libraries {
		if lib != nil && keep(lib.Name) {
			kept = append(kept, lib)
			continue
		}
		changed = true
	}
	l.Libraries = kept
	return changed
}

func (l *Lockfile) normalize() {
	if l == nil {
		return
	}
	l.Tool = strings.TrimSpace(l.Tool)
	kept := l.Libraries[:0]
	for _, lib := range l.Libraries {
		if lib == nil {
			continue
		}
		lib.Name = strings.TrimSpace(lib.Name)
		lib.Source = strings.TrimSpace(lib.Source)
		lib.Revision = strings.TrimSpace(lib.Revision)
		lib.Checksum = strings.TrimSpace(lib.Checksum)
		kept = append(kept, lib)
	}
	l.Libraries = kept
	sort.SliceStable(l.Libraries, func(i, j int) bool {
		return l.Libraries[i].Name < l.Libraries[j].Name
	})
}

func (l *Lockfile) toDisk() lockfileDisk {
	libs := make([]lockfileLibrary, 0, len(l.Libraries))
	for _, lib := range l.Libraries {
		libs = append(libs, lockfileLibrary{
			Name:     lib.Name,
			Source:   lib.Source,
			Revision: lib.Revision,
			Checksum: lib.Checksum,
		})
	}
	return lockfileDisk{
		Generated: l.Generated,
		Tool:      l.Tool,
		Libraries: libs,
	}
}

type lockfileDisk struct {
	Generated string            `yaml:"generated"`
	Tool      string            `yaml:"tool"`
	Libraries []lockfileLibrary `yaml:"libraries"`
}

type lockfileLibrary struct {
	Name     string `yaml:"name"`
	Source   string `yaml:"source"`
	Revision string `yaml:"revision"`
	Checksum string `yaml:"checksum"`
}

func (d lockfileDisk) toLockfile() *Lockfile {
	lock := &Lockfile{
		Generated: strings.TrimSpace(d.Generated),
		Tool:      strings.TrimSpace(d.Tool),
		Libraries: make([]*LockedLibrary, 0, len(d.Libraries)),
	}
	for _, lib := range d.Libraries {
		lock.Libraries = append(lock.Libraries, &LockedLibrary{
			Name:     lib.Name,
			Source:   lib.Source,
			Revision: lib.Revision,
			Checksum: lib.Checksum,
		})
	}
	lock.normalize()
	return lock
}
