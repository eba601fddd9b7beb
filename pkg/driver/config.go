package driver

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/shlex"
	"github.com/inhies/go-bytesize"
	"gopkg.in/yaml.v3"
)

// ConfigFileName is looked up in the working directory and its parents.
const ConfigFileName = "rexx.yml"

var ErrConfigNotFound = errors.New(ConfigFileName + " not found")

// Size is a byte count written as a plain integer or a human size ("64MB").
type Size uint64

func (s Size) String() string {
	return bytesize.New(float64(s)).String()
}

func (s *Size) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a size", node.Line)
	}
	if node.Tag == "!!int" {
		var n uint64
		if err := node.Decode(&n); err != nil {
			return err
		}
		*s = Size(n)
		return nil
	}
	parsed, err := bytesize.Parse(strings.TrimSpace(node.Value))
	if err != nil {
		return fmt.Errorf("line %d: invalid size %q: %w", node.Line, node.Value, err)
	}
	*s = Size(parsed)
	return nil
}

func (s Size) MarshalYAML() (any, error) {
	return s.String(), nil
}

// HeapConfig sizes the managed heap. Zero fields keep the heap defaults.
type HeapConfig struct {
	Initial Size `yaml:"initial"`
	Segment Size `yaml:"segment"`
	Limit   Size `yaml:"limit"`
}

type StackConfig struct {
	MaxDepth int `yaml:"max_depth"`
}

// LibrarySpec names a routine library fetched with git.
type LibrarySpec struct {
	Git    string `yaml:"git"`
	Rev    string `yaml:"rev,omitempty"`
	Tag    string `yaml:"tag,omitempty"`
	Branch string `yaml:"branch,omitempty"`
}

// Config is the contents of rexx.yml.
type Config struct {
	// Path is the absolute path the config was read from, empty for the
	// defaults.
	Path string `yaml:"-"`

	Heap          HeapConfig              `yaml:"heap"`
	Stack         StackConfig             `yaml:"stack"`
	Trace         string                  `yaml:"trace"`
	YieldInterval *int                    `yaml:"yield_interval"`
	Address       string                  `yaml:"address"`
	SearchPath    []string                `yaml:"search_path"`
	ImageCache    string                  `yaml:"image_cache"`
	Libraries     map[string]*LibrarySpec `yaml:"libraries"`
}

const (
	defaultImageCache = ".rexx/cache"
	defaultLibraryDir = ".rexx/libs"
)

// DefaultConfig is used when no rexx.yml exists.
func DefaultConfig() *Config {
	return &Config{Libraries: map[string]*LibrarySpec{}}
}

// LoadConfig parses a config file. Unknown keys are rejected.
func LoadConfig(path string) (*Config, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config: resolve %s: %w", path, err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", abs, err)
	}
	cfg.Path = abs
	return cfg, nil
}

// ParseConfig decodes config data. An empty document yields the defaults.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Stack.MaxDepth < 0 {
		return fmt.Errorf("stack.max_depth must not be negative")
	}
	if c.YieldInterval != nil && *c.YieldInterval < 0 {
		return fmt.Errorf("yield_interval must not be negative")
	}
	if c.Heap.Limit != 0 && c.Heap.Initial > c.Heap.Limit {
		return fmt.Errorf("heap.initial (%s) exceeds heap.limit (%s)", c.Heap.Initial, c.Heap.Limit)
	}
	if c.Libraries == nil {
		c.Libraries = map[string]*LibrarySpec{}
	}
	for name, lib := range c.Libraries {
		if lib == nil || strings.TrimSpace(lib.Git) == "" {
			return fmt.Errorf("library %q: git URL required", name)
		}
	}
	return nil
}

// FindConfig walks up from dir looking for rexx.yml.
func FindConfig(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	for {
		candidate := filepath.Join(abs, ConfigFileName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
		parent := filepath.Dir(abs)
		if parent == abs {
			return "", ErrConfigNotFound
		}
		abs = parent
	}
}

// Dir is the directory relative paths in the config resolve against.
func (c *Config) Dir() string {
	if c.Path == "" {
		if cwd, err := os.Getwd(); err == nil {
			return cwd
		}
		return "."
	}
	return filepath.Dir(c.Path)
}

func (c *Config) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.Dir(), path)
}

func (c *Config) ImageCacheDir() string {
	if c.ImageCache != "" {
		return c.resolve(c.ImageCache)
	}
	return c.resolve(defaultImageCache)
}

func (c *Config) LibraryDir() string {
	return c.resolve(defaultLibraryDir)
}

// LockfilePath is the libraries.lock beside the config.
func (c *Config) LockfilePath() string {
	return c.resolve(LockfileName)
}

// LibraryNames lists the configured libraries in a stable order.
func (c *Config) LibraryNames() []string {
	names := make([]string, 0, len(c.Libraries))
	for name := range c.Libraries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ExtraArgs splits REXX_OPTS into command line arguments.
func ExtraArgs(getenv func(string) string) ([]string, error) {
	value := strings.TrimSpace(getenv("REXX_OPTS"))
	if value == "" {
		return nil, nil
	}
	args, err := shlex.Split(value)
	if err != nil {
		return nil, fmt.Errorf("REXX_OPTS: %w", err)
	}
	return args, nil
}
