package cache

import (
	"go.uber.org/zap"

	"tileview/internal/tile"
)

// evictMemory brings memory usage under the cap. Approximations outside the
// focus zoom level go first, then Ready tiles in order of earliest expiry
// (ties by key), then the remaining approximations.
func (c *TileCache) evictMemory() {
	if c.memUsage <= c.opts.MemCap {
		return
	}
	before := c.memUsage
	dropped, flushed := 0, 0

	keys := c.sortedKeys()
	for _, key := range keys {
		if c.memUsage <= c.opts.MemCap {
			break
		}
		t := c.tiles[key]
		if t.state != tile.Ready && t.image != nil && int(t.key.Z) != c.focusZoom {
			c.setImage(t, nil, tile.Blank)
			dropped++
		}
	}

	for c.memUsage > c.opts.MemCap {
		t := c.oldestReady(keys)
		if t == nil {
			break
		}
		c.setImage(t, nil, tile.Blank)
		t.state = tile.Flushed
		t.refreshing = false
		flushed++
	}

	for _, key := range keys {
		if c.memUsage <= c.opts.MemCap {
			break
		}
		t := c.tiles[key]
		if t.state != tile.Ready && t.image != nil {
			c.setImage(t, nil, tile.Blank)
			dropped++
		}
	}

	c.metrics.ObserveEviction("memory", flushed)
	c.metrics.ObserveEviction("approximation", dropped)
	c.logger.Debug("Memory eviction",
		zap.Uint64("before", before),
		zap.Uint64("after", c.memUsage),
		zap.Uint64("cap", c.opts.MemCap),
		zap.Int("flushed", flushed),
		zap.Int("approximations", dropped),
	)
}

// oldestReady returns the Ready tile with the earliest expiry, scanning keys
// in order so ties go to the smallest key.
func (c *TileCache) oldestReady(keys []tile.Key) *Tile {
	var oldest *Tile
	for _, key := range keys {
		t := c.tiles[key]
		if t.state != tile.Ready || t.image == nil {
			continue
		}
		if oldest == nil || t.expireTime.Before(oldest.expireTime) {
			oldest = t
		}
	}
	return oldest
}

// evictDisk removes disk copies until disk usage is under the cap. Any tile
// with a disk copy is a candidate.
func (c *TileCache) evictDisk() {
	if c.diskUsage <= c.opts.DiskCap {
		return
	}
	before := c.diskUsage
	removed := 0
	for _, key := range c.sortedKeys() {
		if c.diskUsage <= c.opts.DiskCap {
			break
		}
		t := c.tiles[key]
		if t.diskPath == "" {
			continue
		}
		if err := c.store.Remove(t.diskPath); err != nil {
			c.logger.Warn("Failed to remove tile from disk cache",
				zap.Stringer("tile", key),
				zap.String("path", t.diskPath),
				zap.Error(err),
			)
		}
		c.setDisk(t, "", 0)
		removed++
	}
	c.metrics.ObserveEviction("disk", removed)
	c.logger.Debug("Disk eviction",
		zap.Uint64("before", before),
		zap.Uint64("after", c.diskUsage),
		zap.Uint64("cap", c.opts.DiskCap),
		zap.Int("removed", removed),
	)
}
