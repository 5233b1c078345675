package replay

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"flappysync/internal/logging"
)

// RetentionPolicy bounds how many match bundles stay on disk.
type RetentionPolicy struct {
	MaxMatches int
	MaxAge     time.Duration
}

// StorageStats summarises the disk footprint of retained bundles.
type StorageStats struct {
	Matches   int
	Bytes     int64
	Removed   int
	LastSweep time.Time
}

// Cleaner prunes bundle directories according to a retention policy.
type Cleaner struct {
	mu     sync.RWMutex
	dir    string
	policy RetentionPolicy
	log    *logging.Logger
	now    func() time.Time
	stats  StorageStats
}

// NewCleaner constructs a cleaner for the provided recording directory.
func NewCleaner(dir string, policy RetentionPolicy, logger *logging.Logger) *Cleaner {
	if logger == nil {
		logger = logging.L()
	}
	return &Cleaner{dir: dir, policy: policy, log: logger, now: time.Now}
}

// Sweep applies the policy once and returns the refreshed statistics.
func (c *Cleaner) Sweep() StorageStats {
	if c == nil || strings.TrimSpace(c.dir) == "" {
		return StorageStats{}
	}
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			c.log.Warn("replay retention scan failed", logging.Error(err), logging.String("directory", c.dir))
		}
		return c.Stats()
	}

	bundles := c.collect(entries)
	now := c.now()
	stats := StorageStats{LastSweep: now}
	for _, b := range bundles {
		reason := c.expired(b, now, stats.Matches)
		if reason == "" {
			stats.Matches++
			stats.Bytes += b.size
			continue
		}
		//1.- A failed removal still occupies disk, so count it as retained.
		if err := os.RemoveAll(b.path); err != nil {
			c.log.Warn("replay retention removal failed", logging.Error(err), logging.String("bundle", b.name))
			stats.Matches++
			stats.Bytes += b.size
			continue
		}
		stats.Removed++
		c.log.Info("replay retention removed bundle", logging.String("bundle", b.name), logging.String("reason", reason))
	}

	c.mu.Lock()
	c.stats = stats
	c.mu.Unlock()
	return stats
}

// Stats returns the last recorded storage statistics.
func (c *Cleaner) Stats() StorageStats {
	if c == nil {
		return StorageStats{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

type bundleDir struct {
	name    string
	path    string
	size    int64
	modTime time.Time
}

func (c *Cleaner) collect(entries []os.DirEntry) []bundleDir {
	list := make([]bundleDir, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(c.dir, entry.Name())
		//1.- Only directories carrying a manifest are bundles this package wrote.
		if _, err := os.Stat(filepath.Join(path, manifestFile)); err != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			c.log.Warn("replay retention stat failed", logging.Error(err), logging.String("path", path))
			continue
		}
		size, err := directorySize(path)
		if err != nil {
			c.log.Warn("replay retention size failed", logging.Error(err), logging.String("path", path))
			continue
		}
		list = append(list, bundleDir{name: entry.Name(), path: path, size: size, modTime: info.ModTime()})
	}
	//2.- Newest first so the match limit favours recent recordings.
	sort.Slice(list, func(i, j int) bool { return list[i].modTime.After(list[j].modTime) })
	return list
}

func (c *Cleaner) expired(b bundleDir, now time.Time, kept int) string {
	reasons := make([]string, 0, 2)
	if c.policy.MaxAge > 0 && now.Sub(b.modTime) > c.policy.MaxAge {
		reasons = append(reasons, fmt.Sprintf("age>%s", c.policy.MaxAge))
	}
	if c.policy.MaxMatches > 0 && kept >= c.policy.MaxMatches {
		reasons = append(reasons, fmt.Sprintf(">=%d matches", c.policy.MaxMatches))
	}
	return strings.Join(reasons, ", ")
}

func directorySize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}
