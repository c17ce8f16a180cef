package blackbox

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"skyfleet/simulator/internal/logging"
)

// RetentionPolicy defines how many flight bundles are retained on disk.
type RetentionPolicy struct {
	MaxBundles int
	MaxAge     time.Duration
}

// StorageStats summarises the disk footprint of persisted bundles.
type StorageStats struct {
	Bundles   int
	Bytes     int64
	LastSweep time.Time
}

// Cleaner periodically prunes finished bundles according to a retention
// policy. The active bundle reported by the recorder is never removed.
type Cleaner struct {
	mu     sync.RWMutex
	dir    string
	policy RetentionPolicy
	log    *logging.Logger
	active func() string
	now    func() time.Time
	stats  StorageStats
}

// NewCleaner constructs a cleaner for the provided bundle directory. The
// active callback, when non-nil, names the directory currently being written.
func NewCleaner(dir string, policy RetentionPolicy, logger *logging.Logger, active func() string) *Cleaner {
	if logger == nil {
		logger = logging.L()
	}
	return &Cleaner{
		dir:    dir,
		policy: policy,
		log:    logger.With(logging.String("component", "blackbox-cleaner")),
		active: active,
		now:    time.Now,
	}
}

// Run executes retention sweeps until the context is cancelled. The first
// sweep happens immediately so stale bundles from a previous run do not wait
// out a full interval.
func (c *Cleaner) Run(ctx context.Context, interval time.Duration) {
	if c == nil || ctx == nil {
		return
	}
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	c.sweep()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

// RunOnce performs a single retention sweep, primarily used for tests.
func (c *Cleaner) RunOnce() {
	if c == nil {
		return
	}
	c.sweep()
}

// Stats returns the storage statistics captured by the most recent sweep.
func (c *Cleaner) Stats() StorageStats {
	if c == nil {
		return StorageStats{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

type bundleInfo struct {
	path  string
	size  int64
	mtime time.Time
}

// listBundles collects finished bundle directories newest-first, leaving out
// the bundle the recorder is still writing.
func (c *Cleaner) listBundles() ([]bundleInfo, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, err
	}
	skip := ""
	if c.active != nil {
		skip = c.active()
	}
	var bundles []bundleInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(c.dir, entry.Name())
		if skip != "" && path == skip {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			c.log.Warn("bundle stat failed", logging.Error(err), logging.String("path", path))
			continue
		}
		size, err := directorySize(path)
		if err != nil {
			c.log.Warn("bundle size failed", logging.Error(err), logging.String("path", path))
			continue
		}
		bundles = append(bundles, bundleInfo{path: path, size: size, mtime: info.ModTime()})
	}
	sort.Slice(bundles, func(i, j int) bool { return bundles[i].mtime.After(bundles[j].mtime) })
	return bundles, nil
}

func (c *Cleaner) sweep() {
	if c == nil || strings.TrimSpace(c.dir) == "" {
		return
	}
	bundles, err := c.listBundles()
	if err != nil {
		c.log.Warn("retention scan failed", logging.Error(err), logging.String("directory", c.dir))
		return
	}

	now := c.now()
	stats := StorageStats{LastSweep: now}
	//1.- Bundles are newest-first, so anything beyond the count cap is oldest.
	for _, b := range bundles {
		reason := c.evictionReason(b, now, stats.Bundles)
		if reason == "" {
			stats.Bundles++
			stats.Bytes += b.size
			continue
		}
		if err := os.RemoveAll(b.path); err != nil {
			c.log.Warn("bundle removal failed", logging.Error(err), logging.String("bundle", b.path))
			stats.Bundles++
			stats.Bytes += b.size
			continue
		}
		c.log.Info("bundle removed", logging.String("bundle", b.path), logging.String("reason", reason))
	}

	c.mu.Lock()
	c.stats = stats
	c.mu.Unlock()
}

// evictionReason reports why the bundle must go, or "" to keep it. kept is
// the number of newer bundles already retained this sweep.
func (c *Cleaner) evictionReason(b bundleInfo, now time.Time, kept int) string {
	var reasons []string
	if c.policy.MaxAge > 0 && now.Sub(b.mtime) > c.policy.MaxAge {
		reasons = append(reasons, fmt.Sprintf("older than %s", c.policy.MaxAge))
	}
	if c.policy.MaxBundles > 0 && kept >= c.policy.MaxBundles {
		reasons = append(reasons, fmt.Sprintf("over %d bundle cap", c.policy.MaxBundles))
	}
	return strings.Join(reasons, ", ")
}

func directorySize(root string) (int64, error) {
	var total int64
	walkErr := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
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
	return total, walkErr
}
