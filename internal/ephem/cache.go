package ephem

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

var ErrCacheEmpty = errors.New("no cached element sets")

// Cache keeps the last few downloads on disk so the provider can start
// without network access.
type Cache struct {
	dir  string
	keep int
}

// NewCache stores files in dir, keeping at most keep of them.
func NewCache(dir string, keep int) *Cache {
	if keep <= 0 {
		keep = 5
	}
	return &Cache{dir: dir, keep: keep}
}

const cachePrefix, cacheSuffix = "elements_", ".tle"

// Write saves data stamped with ts and prunes older files.
func (c *Cache) Write(data []byte, ts time.Time) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("creating cache dir: %w", err)
	}
	name := cachePrefix + strconv.FormatInt(ts.Unix(), 10) + cacheSuffix
	if err := os.WriteFile(filepath.Join(c.dir, name), data, 0o644); err != nil {
		return fmt.Errorf("writing cache file: %w", err)
	}

	stamps, err := c.stamps()
	if err != nil {
		return err
	}
	for len(stamps) > c.keep {
		old := cachePrefix + strconv.FormatInt(stamps[0], 10) + cacheSuffix
		if err := os.Remove(filepath.Join(c.dir, old)); err != nil {
			return fmt.Errorf("pruning %s: %w", old, err)
		}
		stamps = stamps[1:]
	}
	return nil
}

// LoadLatest returns the newest cached download and its timestamp.
func (c *Cache) LoadLatest() ([]byte, time.Time, error) {
	stamps, err := c.stamps()
	if err != nil {
		return nil, time.Time{}, err
	}
	if len(stamps) == 0 {
		return nil, time.Time{}, ErrCacheEmpty
	}
	newest := stamps[len(stamps)-1]
	data, err := os.ReadFile(filepath.Join(c.dir, cachePrefix+strconv.FormatInt(newest, 10)+cacheSuffix))
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("reading cache file: %w", err)
	}
	return data, time.Unix(newest, 0), nil
}

// stamps lists cached timestamps, oldest first.
func (c *Cache) stamps() ([]int64, error) {
	entries, err := os.ReadDir(c.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing cache dir: %w", err)
	}
	var out []int64
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, cachePrefix) || !strings.HasSuffix(name, cacheSuffix) {
			continue
		}
		ts, err := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(name, cachePrefix), cacheSuffix), 10, 64)
		if err != nil {
			continue
		}
		out = append(out, ts)
	}
	slices.Sort(out)
	return out, nil
}
