// Package catalog maintains the ordered ad list backed by a media
// directory and persisted to ad_list.json inside it.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/mcdev12/adsync/internal/protocol"
)

const ListFile = "ad_list.json"

var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
}

// Catalog is the ordered ad set. Order defines the rotation sequence; ids
// are unique. All mutation happens under one lock and every change is
// persisted before the method returns.
type Catalog struct {
	mu  sync.Mutex
	dir string
	ads []protocol.Ad
	log zerolog.Logger
}

// Open loads the catalog from dir, creating the directory as needed. When
// no list file exists the directory is scanned; if that also yields nothing
// a default sample list is seeded.
func Open(dir string, log zerolog.Logger) (*Catalog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	c := &Catalog{dir: dir, log: log}

	data, err := os.ReadFile(filepath.Join(dir, ListFile))
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &c.ads); err != nil {
			return nil, fmt.Errorf("parse %s: %w", ListFile, err)
		}
		log.Info().Int("ads", len(c.ads)).Msg("loaded ad list")
	case os.IsNotExist(err):
		if _, err := c.Rescan(); err != nil {
			return nil, err
		}
		c.mu.Lock()
		if len(c.ads) == 0 {
			c.ads = []protocol.Ad{
				{ID: 1, Content: "Sample Ad 1", Path: "ad1.jpg"},
				{ID: 2, Content: "Sample Ad 2", Path: "ad2.jpg"},
				{ID: 3, Content: "Sample Ad 3", Path: "ad3.jpg"},
			}
		}
		err := c.saveLocked()
		c.mu.Unlock()
		if err != nil {
			return nil, err
		}
		log.Info().Int("ads", len(c.ads)).Msg("created ad list")
	default:
		return nil, fmt.Errorf("read %s: %w", ListFile, err)
	}
	return c, nil
}

func (c *Catalog) Dir() string { return c.dir }

// Ads returns a copy of the current ordered list.
func (c *Catalog) Ads() []protocol.Ad {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.Ad, len(c.ads))
	copy(out, c.ads)
	return out
}

func (c *Catalog) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ads)
}

// Rescan reconciles the list against the media directory: entries whose
// file still exists keep their id and content, new files get the smallest
// unused positive id, entries whose file is gone are dropped. The result is
// resorted by id, which discards any directory-derived ordering. Reports
// whether the path set changed; changes are persisted.
func (c *Catalog) Rescan() (bool, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return false, fmt.Errorf("scan media dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() && imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			files = append(files, e.Name())
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	fileSet := make(map[string]bool, len(files))
	for _, f := range files {
		fileSet[f] = true
	}
	byPath := make(map[string]protocol.Ad, len(c.ads))
	// Every surviving entry keeps its id, so all of them are off limits for
	// new files regardless of directory order.
	used := make(map[int]bool, len(c.ads))
	for _, ad := range c.ads {
		byPath[ad.Path] = ad
		if fileSet[ad.Path] {
			used[ad.ID] = true
		}
	}

	newAds := make([]protocol.Ad, 0, len(files))
	nextID := 1
	for _, f := range files {
		if ad, ok := byPath[f]; ok {
			newAds = append(newAds, ad)
			continue
		}
		for used[nextID] {
			nextID++
		}
		used[nextID] = true
		newAds = append(newAds, protocol.Ad{ID: nextID, Content: contentFor(f), Path: f})
		c.log.Info().Str("file", f).Int("id", nextID).Msg("added ad from file")
		nextID++
	}

	if !pathSetChanged(c.ads, newAds) {
		return false, nil
	}
	sort.Slice(newAds, func(i, j int) bool { return newAds[i].ID < newAds[j].ID })
	c.ads = newAds
	c.log.Info().Int("ads", len(c.ads)).Msg("ad list updated from directory")
	return true, c.saveLocked()
}

// Add appends a new ad with the next id above the current maximum. When the
// named file does not exist a placeholder is materialized so the entry has
// a backing file to transfer.
func (c *Catalog) Add(content, path string) (protocol.Ad, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := 0
	for _, ad := range c.ads {
		if ad.ID > id {
			id = ad.ID
		}
	}
	id++

	if path == "" {
		path = fmt.Sprintf("ad_%d.jpg", id)
	}
	ad := protocol.Ad{ID: id, Content: content, Path: path}

	full := filepath.Join(c.dir, filepath.Base(path))
	if _, err := os.Stat(full); os.IsNotExist(err) {
		placeholder := fmt.Sprintf("Ad %d: %s", id, content)
		if err := os.WriteFile(full, []byte(placeholder), 0o644); err != nil {
			return protocol.Ad{}, fmt.Errorf("create placeholder: %w", err)
		}
		c.log.Info().Str("path", full).Msg("created placeholder file")
	}

	c.ads = append(c.ads, ad)
	return ad, c.saveLocked()
}

// Remove deletes the ad with the given id. The backing file is removed only
// when no other entry references the same path. Reports whether an entry
// was removed.
func (c *Catalog) Remove(id int) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := -1
	for i, ad := range c.ads {
		if ad.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, nil
	}

	victim := c.ads[idx]
	shared := false
	for _, ad := range c.ads {
		if ad.ID != id && ad.Path == victim.Path {
			shared = true
			break
		}
	}
	if victim.Path != "" && !shared {
		full := filepath.Join(c.dir, filepath.Base(victim.Path))
		if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
			c.log.Warn().Err(err).Str("path", victim.Path).Msg("failed to remove ad file")
		}
	}

	c.ads = append(c.ads[:idx], c.ads[idx+1:]...)
	return true, c.saveLocked()
}

// ReadFile returns the bytes of a media file by name. Only the base name is
// honored; the lookup never escapes the media directory.
func (c *Catalog) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(filepath.Join(c.dir, filepath.Base(name)))
}

// Save persists the current list. Used at shutdown; mutating methods
// already persist on their own.
func (c *Catalog) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveLocked()
}

// saveLocked requires c.mu to be held.
func (c *Catalog) saveLocked() error {
	data, err := json.MarshalIndent(c.ads, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(c.dir, ListFile), data, 0o644); err != nil {
		return fmt.Errorf("save %s: %w", ListFile, err)
	}
	return nil
}

func pathSetChanged(old, updated []protocol.Ad) bool {
	if len(old) != len(updated) {
		return true
	}
	paths := make(map[string]bool, len(old))
	for _, ad := range old {
		paths[ad.Path] = true
	}
	for _, ad := range updated {
		if !paths[ad.Path] {
			return true
		}
	}
	return false
}

// contentFor derives a display label from a filename: extension stripped,
// underscores to spaces, words capitalized.
func contentFor(file string) string {
	base := strings.TrimSuffix(file, filepath.Ext(file))
	words := strings.Fields(strings.ReplaceAll(base, "_", " "))
	for i, w := range words {
		r := []rune(strings.ToLower(w))
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
