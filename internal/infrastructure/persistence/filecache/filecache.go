// Package filecache stores downloaded concept collections on local disk.
package filecache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/guide-lms/guide-router/internal/domain/concept"
	"github.com/guide-lms/guide-router/internal/infrastructure/external/sheets"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// FileCache implements sheets.Cache with one file per collection. An entry
// older than the TTL is a miss; a zero TTL never expires.
type FileCache struct {
	dir string
	ttl time.Duration
	now func() time.Time
}

var _ sheets.Cache = (*FileCache)(nil)

// New creates a FileCache rooted at dir. The directory is created on first write.
func New(dir string, ttl time.Duration) *FileCache {
	return &FileCache{dir: dir, ttl: ttl, now: time.Now}
}

// Provider returns a sheets.CacheProvider that roots each cache at the
// configuration's directory, falling back to defaultDir.
func Provider(defaultDir string) sheets.CacheProvider {
	return func(cfg concept.CacheConfig) sheets.Cache {
		if cfg.Disabled {
			return nil
		}
		dir := cfg.Dir
		if dir == "" {
			dir = defaultDir
		}
		return New(dir, cfg.TTL)
	}
}

func (c *FileCache) path(collection string) string {
	return filepath.Join(c.dir, unsafeChars.ReplaceAllString(collection, "_")+".csv")
}

// Get implements sheets.Cache.
func (c *FileCache) Get(_ context.Context, collection string) ([]byte, error) {
	p := c.path(collection)
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, sheets.ErrCacheMiss
		}
		return nil, err
	}
	if c.ttl > 0 && c.now().Sub(info.ModTime()) > c.ttl {
		return nil, sheets.ErrCacheMiss
	}
	return os.ReadFile(p)
}

// Set implements sheets.Cache. The entry is written to a temporary file and
// renamed into place.
func (c *FileCache) Set(_ context.Context, collection string, data []byte) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(c.dir, ".collection-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close cache entry: %w", err)
	}
	return os.Rename(tmp.Name(), c.path(collection))
}
