// Package cache holds every tile the application knows about and decides
// what gets fetched, kept in memory, kept on disk and evicted.
//
// A TileCache is not safe for concurrent use. It belongs to one goroutine,
// normally a Loop; workers only talk to it through the Bridge.
package cache

import (
	"fmt"
	"image"
	"sort"
	"time"

	"go.uber.org/zap"

	"tileview/internal/diskstore"
	"tileview/internal/imaging"
	"tileview/internal/metrics"
	"tileview/internal/queue"
	"tileview/internal/tile"
	"tileview/internal/worker"
)

const (
	DefaultMemCap     = 256 << 20
	DefaultDiskCap    = 1 << 30
	DefaultTTL        = 7 * 24 * time.Hour
	defaultBridgeSize = 256
	placeholderSizes  = 8
)

// NoFocus disables the focus zoom level.
const NoFocus = -1

type Options struct {
	MemCap     uint64
	DiskCap    uint64
	DefaultTTL time.Duration
	// StateFile is where Persist writes and Restore reads the cache index.
	// Empty disables both.
	StateFile string
	// Sources resolves slugs found in the state file.
	Sources      map[string]*tile.Source
	Store        diskstore.Store
	OnTileLoaded Observer
	BridgeSize   int
}

type TileCache struct {
	opts  Options
	tiles map[tile.Key]*Tile

	queue  *queue.RequestQueue
	bridge *worker.Bridge
	store  diskstore.Store

	placeholders *imaging.Placeholders
	blankPNG     map[image.Point][]byte

	memUsage  uint64
	diskUsage uint64
	focusZoom int
	session   string

	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

func New(opts Options, m *metrics.Metrics, logger *zap.Logger) (*TileCache, error) {
	if opts.MemCap == 0 {
		opts.MemCap = DefaultMemCap
	}
	if opts.DiskCap == 0 {
		opts.DiskCap = DefaultDiskCap
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = DefaultTTL
	}
	if opts.BridgeSize <= 0 {
		opts.BridgeSize = defaultBridgeSize
	}
	if opts.Store == nil {
		opts.Store = diskstore.NewNoopStore()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	placeholders, err := imaging.NewPlaceholders(imaging.PlaceholderColor, placeholderSizes)
	if err != nil {
		return nil, err
	}

	return &TileCache{
		opts:         opts,
		tiles:        make(map[tile.Key]*Tile),
		queue:        queue.New(),
		bridge:       worker.NewBridge(opts.BridgeSize),
		store:        opts.Store,
		placeholders: placeholders,
		blankPNG:     make(map[image.Point][]byte),
		focusZoom:    NoFocus,
		session:      newSession(),
		metrics:      m,
		logger:       logger,
		now:          time.Now,
	}, nil
}

// Queue is the request queue workers pull from.
func (c *TileCache) Queue() *queue.RequestQueue { return c.queue }

// Bridge is the channel workers report through.
func (c *TileCache) Bridge() *worker.Bridge { return c.bridge }

// GetTile returns the best content available for req right now and makes
// sure a load is queued when the tile is missing, failed, flushed or
// expired. It never blocks on I/O.
func (c *TileCache) GetTile(req tile.Request) View {
	key := req.Key()
	now := c.now()

	t, ok := c.tiles[key]
	if !ok {
		t = newTile(req)
		c.tiles[key] = t
	}
	t.accessTime = now

	switch t.state {
	case tile.Void, tile.Error, tile.Flushed:
		if t.image == nil {
			c.approximate(t)
		}
		t.state = tile.Pending
		c.enqueue(t, req)
	case tile.Ready:
		if t.expired(now) && !t.refreshing {
			// Serve the stale buffer until the refresh lands.
			t.refreshing = true
			t.mode = tile.Approximated
			c.enqueue(t, req)
		}
	case tile.Pending, tile.Fetching:
	}

	return c.view(t)
}

// Lookup returns the cache record for key without touching it.
func (c *TileCache) Lookup(key tile.Key) (*Tile, bool) {
	t, ok := c.tiles[key]
	return t, ok
}

// Surface returns the PNG encoding of the tile's current content, encoding
// it on first use.
func (c *TileCache) Surface(req tile.Request) (View, []byte, error) {
	v := c.GetTile(req)
	t := c.tiles[req.Key()]

	if t.image == nil {
		pt := image.Pt(t.width, t.height)
		if data, ok := c.blankPNG[pt]; ok {
			return v, data, nil
		}
		data, err := imaging.EncodePNG(v.Image)
		if err != nil {
			return v, nil, err
		}
		c.blankPNG[pt] = data
		return v, data, nil
	}

	if t.surface == nil {
		data, err := imaging.EncodePNG(t.image)
		if err != nil {
			return v, nil, fmt.Errorf("failed to encode %s: %w", t.key, err)
		}
		t.surface = data
		c.memUsage += uint64(len(data))
		c.evictMemory()
		return v, data, nil
	}
	return v, t.surface, nil
}

// SetFocusZoomLevel marks a zoom level whose approximations survive memory
// pressure longest. NoFocus clears it.
func (c *TileCache) SetFocusZoomLevel(z int) {
	c.focusZoom = z
}

func (c *TileCache) FocusZoomLevel() int { return c.focusZoom }

func (c *TileCache) MemUsage() uint64 { return c.memUsage }

func (c *TileCache) DiskUsage() uint64 { return c.diskUsage }

// Len is the number of tiles tracked, in any state.
func (c *TileCache) Len() int { return len(c.tiles) }

func (c *TileCache) Stats() Stats {
	byState := c.countStates()
	states := make(map[string]int, len(byState))
	for s, n := range byState {
		states[s.String()] = n
	}
	return Stats{
		Tiles:       len(c.tiles),
		States:      states,
		MemUsage:    c.memUsage,
		MemCap:      c.opts.MemCap,
		DiskUsage:   c.diskUsage,
		DiskCap:     c.opts.DiskCap,
		Queued:      c.queue.Len(),
		FocusZoom:   c.focusZoom,
		Undelivered: c.bridge.Pending(),
	}
}

// Clear forgets every tile, drops their queued requests and deletes their
// disk copies. Requests a worker already took still run; their results are
// dropped on arrival.
func (c *TileCache) Clear() error {
	var errs []error
	for _, key := range c.sortedKeys() {
		t := c.tiles[key]
		c.queue.Remove(key)
		if t.diskPath != "" {
			if err := c.store.Remove(t.diskPath); err != nil {
				errs = append(errs, err)
			}
		}
	}
	n := len(c.tiles)
	c.tiles = make(map[tile.Key]*Tile)
	c.memUsage = 0
	c.diskUsage = 0
	c.logger.Info("Cache cleared", zap.Int("tiles", n), zap.Int("errors", len(errs)))
	c.publish()
	return combine(errs)
}

// Close stops the workers by closing the queue.
func (c *TileCache) Close() {
	c.queue.Close()
}

func (c *TileCache) enqueue(t *Tile, req tile.Request) {
	t.req = req
	if !c.queue.Push(req) {
		c.logger.Debug("Tile already queued", zap.Stringer("key", t.key))
	}
}

// approximate fills t from the nearest Ready ancestor, or leaves it blank.
// Ancestors more than imaging.MaxMagnifyLevels up are not considered.
func (c *TileCache) approximate(t *Tile) {
	depth := min(int(t.key.Z), imaging.MaxMagnifyLevels)
	for levels := 1; levels <= depth; levels++ {
		a, ok := c.tiles[t.key.Parent(uint8(levels))]
		if !ok || a.state != tile.Ready || a.image == nil {
			continue
		}
		mask := uint32(1)<<levels - 1
		img := imaging.Magnify(a.image, levels, t.key.X&mask, t.key.Y&mask, t.width, t.height)
		c.setImage(t, img, tile.Approximated)
		return
	}
	c.setImage(t, nil, tile.Blank)
}

// setImage swaps the tile buffer and keeps memory accounting in step.
func (c *TileCache) setImage(t *Tile, img *image.RGBA, mode tile.Mode) {
	c.memUsage -= t.memUsage()
	t.image = img
	t.surface = nil
	t.mode = mode
	c.memUsage += t.memUsage()
}

func (c *TileCache) setDisk(t *Tile, path string, size uint64) {
	c.diskUsage -= t.diskBytes
	t.diskPath = path
	t.diskBytes = size
	c.diskUsage += size
}

func (c *TileCache) view(t *Tile) View {
	v := View{
		Key:     t.key,
		State:   t.state,
		Mode:    t.mode,
		Width:   t.width,
		Height:  t.height,
		Expires: t.expireTime,
	}
	if t.image != nil {
		v.Image = t.image
	} else {
		v.Image = c.placeholders.Get(t.width, t.height)
	}
	return v
}

func (c *TileCache) countStates() map[tile.State]int {
	byState := make(map[tile.State]int)
	for _, t := range c.tiles {
		byState[t.state]++
	}
	return byState
}

func (c *TileCache) publish() {
	if c.metrics == nil {
		return
	}
	c.metrics.SetUsage(c.memUsage, c.diskUsage, c.queue.Len(), c.countStates())
}

func (c *TileCache) sortedKeys() []tile.Key {
	keys := make([]tile.Key, 0, len(c.tiles))
	for k := range c.tiles {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}
