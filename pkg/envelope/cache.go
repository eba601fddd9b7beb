package envelope

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ImageExt is the file extension of compiled routine images.
const ImageExt = ".rxc"

// Cache stores compiled images on disk keyed by a hash of their source.
// Writers take an exclusive file lock and publish with a rename; readers take
// a shared lock, so concurrent interpreters never observe a partial image.
type Cache struct {
	dir string
}

func NewCache(dir string) (*Cache, error) {
	if dir == "" {
		return nil, fmt.Errorf("envelope: cache directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("envelope: create cache %s: %w", dir, err)
	}
	return &Cache{dir: dir}, nil
}

func (c *Cache) Dir() string { return c.dir }

// Key derives the cache key for a program source.
func (c *Cache) Key(source []byte) string {
	sum := sha256.Sum256(source)
	return hex.EncodeToString(sum[:])
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, key+ImageExt)
}

// Load returns the image stored under key. A missing or corrupt entry is a
// miss, not an error.
func (c *Cache) Load(key string) ([]byte, bool, error) {
	lock := flock.New(c.path(key) + ".lock")
	if err := lock.RLock(); err != nil {
		return nil, false, fmt.Errorf("envelope: lock cache entry: %w", err)
	}
	defer lock.Unlock()

	data, err := os.ReadFile(c.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("envelope: read cache entry: %w", err)
	}
	if _, _, err := ReadHeader(data); err != nil {
		return nil, false, nil
	}
	return data, true, nil
}

// Store writes image under key.
func (c *Cache) Store(key string, image []byte) error {
	if _, _, err := ReadHeader(image); err != nil {
		return fmt.Errorf("envelope: refusing to cache invalid image: %w", err)
	}
	lock := flock.New(c.path(key) + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("envelope: lock cache entry: %w", err)
	}
	defer lock.Unlock()

	tmp, err := os.CreateTemp(c.dir, key+".*.tmp")
	if err != nil {
		return fmt.Errorf("envelope: create cache temp: %w", err)
	}
	if _, err := tmp.Write(image); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("envelope: write cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("envelope: write cache entry: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path(key)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("envelope: publish cache entry: %w", err)
	}
	return nil
}
