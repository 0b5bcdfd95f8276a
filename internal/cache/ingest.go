package cache

import (
	"go.uber.org/zap"

	"tileview/internal/tile"
	"tileview/internal/worker"
)

// Poll ingests every worker message available right now and returns how
// many were handled. It never blocks.
func (c *TileCache) Poll() int {
	msgs := c.bridge.Drain(0)
	for _, m := range msgs {
		c.Ingest(m)
	}
	if len(msgs) > 0 {
		c.publish()
	}
	return len(msgs)
}

// Ingest applies one worker message to the cache.
func (c *TileCache) Ingest(m worker.Message) {
	req := m.TileRequest()
	key := req.Key()
	t, ok := c.tiles[key]
	if !ok {
		c.logger.Debug("Dropping result for unknown tile", zap.Stringer("tile", key))
		c.removeOrphan(key, m)
		return
	}

	switch m := m.(type) {
	case worker.Started:
		if t.state == tile.Pending {
			t.state = tile.Fetching
		}

	case worker.Loaded:
		c.setImage(t, m.Image, tile.Complete)
		b := m.Image.Bounds()
		t.width, t.height = b.Dx(), b.Dy()
		t.state = tile.Ready
		t.refreshing = false
		t.expireTime = m.Expires
		if t.expireTime.IsZero() {
			t.expireTime = c.now().Add(c.opts.DefaultTTL)
		}
		if m.DiskPath != "" {
			c.setDisk(t, m.DiskPath, uint64(m.DiskBytes))
		}
		c.evictMemory()
		c.evictDisk()
		c.notify(req)

	case worker.Failed:
		c.setImage(t, nil, tile.Blank)
		t.state = tile.Error
		t.refreshing = false
		c.logger.Debug("Tile failed",
			zap.Stringer("tile", key),
			zap.String("kind", tile.Kind(m.Err)),
			zap.Error(m.Err),
		)
		c.notify(req)

	case worker.Persisted:
		if m.Err != nil {
			c.logger.Warn("Failed to write tile to disk cache",
				zap.Stringer("tile", key),
				zap.String("path", m.DiskPath),
				zap.Error(m.Err),
			)
			return
		}
		c.setDisk(t, m.DiskPath, uint64(m.DiskBytes))
		c.evictDisk()
	}
}

// notify tells the observer about a result. Results from a superseded
// generation are reported with the tile's latest request so the consumer
// can tell them apart.
func (c *TileCache) notify(req tile.Request) {
	if c.opts.OnTileLoaded == nil {
		return
	}
	if t, ok := c.tiles[req.Key()]; ok && t.req.Generation > req.Generation {
		req = t.req
	}
	c.opts.OnTileLoaded(req)
}

// removeOrphan deletes a disk copy written for a tile the cache no longer
// tracks, which happens when a worker finishes after Clear. Nothing would
// account for the file otherwise.
func (c *TileCache) removeOrphan(key tile.Key, m worker.Message) {
	var path string
	switch m := m.(type) {
	case worker.Loaded:
		path = m.DiskPath
	case worker.Persisted:
		if m.Err == nil {
			path = m.DiskPath
		}
	}
	if path == "" {
		return
	}
	if err := c.store.Remove(path); err != nil {
		c.logger.Warn("Failed to remove orphaned tile from disk cache",
			zap.Stringer("tile", key),
			zap.String("path", path),
			zap.Error(err),
		)
	}
}
