// Copyright (C) 2024 The Dagu Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package fdcache provides a bounded LRU of append-mode file handles,
// used to multiplex many per-task output streams through a bounded
// number of open files.
package fdcache

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/pegasus-wms/pmc-go/internal/logger"
)

const (
	// hardCap mirrors the original NOFILE_MAX: an auto-derived capacity
	// never exceeds this many handles, even on a system with a very high
	// rlimit. An explicitly configured size is not capped by it.
	hardCap = 256
	// reserve mirrors the original NOFILE_RESERVE: descriptors left
	// for the rest of the process when the size is auto-derived.
	reserve = 64
)

// Cache is a bounded LRU of append-mode *os.File handles keyed by path.
type Cache struct {
	mu      sync.Mutex
	lru     *lru.LRU[string, *os.File]
	log     logger.Logger
	hits    uint64
	misses  uint64
	maxsize int
}

// New builds a Cache. size is the configured capacity; if size is 0 the
// capacity is derived from the process's soft NOFILE rlimit, as
// min(soft-64, 256), never less than 1. It is an error for an
// explicitly configured size to exceed the soft rlimit.
func New(size int, log logger.Logger) (*Cache, error) {
	limit, err := softNoFileLimit()
	if err != nil {
		log.Warn("could not determine NOFILE rlimit, assuming a conservative default", "error", err)
		limit = 0
	}

	maxsize := size
	if size == 0 {
		switch {
		case limit == 0:
			maxsize = 64
		case limit-reserve > hardCap:
			maxsize = hardCap
		default:
			maxsize = limit - reserve
			if maxsize < 1 {
				maxsize = 1
			}
		}
	} else if limit > 0 && size > limit {
		return nil, fmt.Errorf("fd cache size %d exceeds soft rlimit %d", size, limit)
	}

	c := &Cache{log: log, maxsize: maxsize}
	evict := func(path string, f *os.File) {
		log.Debug("evicting fd cache entry", "path", path)
		_ = f.Close()
	}
	l, err := lru.NewLRU[string, *os.File](maxsize, evict)
	if err != nil {
		return nil, fmt.Errorf("constructing fd cache: %w", err)
	}
	c.lru = l
	log.Info("fd cache initialized", "maxsize", maxsize)
	return c, nil
}

// Write appends data to path, opening (and, on first use, creating
// intermediate directories for) the file if it is not already cached.
// A failure to open or mkdir is logged and returns a non-nil error; it
// does not evict or corrupt other entries.
func (c *Cache) Write(path string, data []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, ok := c.lru.Get(path)
	if ok {
		c.hits++
	} else {
		c.misses++
		var err error
		f, err = c.open(path)
		if err != nil {
			c.log.Error("failed to open fd cache entry", "path", path, "error", err)
			return -1, err
		}
		c.lru.Add(path, f)
	}

	n, err := f.Write(data)
	if err != nil {
		return n, fmt.Errorf("writing to %s: %w", path, err)
	}
	return n, nil
}

func (c *Cache) open(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating directory for %s: %w", path, err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return f, nil
}

// Size returns the number of entries currently cached.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// HitRate returns hits/(hits+misses), or 1.0 if nothing has been
// requested yet.
func (c *Cache) HitRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.hits + c.misses
	if total == 0 {
		return 1.0
	}
	return float64(c.hits) / float64(total)
}

// Close closes every cached handle.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
	return nil
}
