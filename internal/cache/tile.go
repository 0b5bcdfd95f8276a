package cache

import (
	"image"
	"time"

	"tileview/internal/imaging"
	"tileview/internal/tile"
)

// Tile is the mutable cache record of one tile. Only the owner goroutine
// touches it.
type Tile struct {
	key   tile.Key
	req   tile.Request
	state tile.State
	mode  tile.Mode

	// image is nil for Blank tiles; their placeholder is shared.
	image *image.RGBA
	// surface is the PNG encoding of image, built on demand.
	surface []byte

	width, height int

	// accessTime is informational; eviction goes by expireTime.
	accessTime time.Time
	expireTime time.Time

	diskPath  string
	diskBytes uint64

	// refreshing is set while a Ready tile waits for a background refresh.
	refreshing bool
}

func newTile(req tile.Request) *Tile {
	w, h := req.PixelSize()
	return &Tile{
		key:    req.Key(),
		req:    req,
		state:  tile.Void,
		mode:   tile.Blank,
		width:  w,
		height: h,
	}
}

func (t *Tile) memUsage() uint64 {
	return imaging.MemUsage(t.image) + uint64(len(t.surface))
}

func (t *Tile) expired(now time.Time) bool {
	return !t.expireTime.After(now)
}

func (t *Tile) State() tile.State { return t.state }
func (t *Tile) Mode() tile.Mode { return t.mode }
func (t *Tile) DiskPath() string { return t.diskPath }
func (t *Tile) DiskBytes() uint64 { return t.diskBytes }
func (t *Tile) ExpireTime() time.Time { return t.expireTime }
