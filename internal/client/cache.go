package client

import (
	"fmt"
	"os"
	"path/filepath"
)

// MediaCache mirrors fetched media files under a local directory keyed by
// filename. Only base names are used so a transferred name can never write
// outside the cache directory.
type MediaCache struct {
	dir string
}

func NewMediaCache(dir string) (*MediaCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &MediaCache{dir: dir}, nil
}

func (c *MediaCache) Dir() string { return c.dir }

// Path returns where the named file lives (or would live) in the cache.
func (c *MediaCache) Path(name string) string {
	return filepath.Join(c.dir, filepath.Base(name))
}

func (c *MediaCache) Has(name string) bool {
	info, err := os.Stat(c.Path(name))
	return err == nil && info.Mode().IsRegular()
}

func (c *MediaCache) Store(name string, content []byte) error {
	if err := os.WriteFile(c.Path(name), content, 0o644); err != nil {
		return fmt.Errorf("store %s: %w", name, err)
	}
	return nil
}
