package worker

import (
	"image"
	"time"

	"tileview/internal/tile"
)

// Message is a worker report for the cache owner: Started, then Loaded or
// Failed, then Persisted for tiles written to disk.
type Message interface {
	TileRequest() tile.Request
}

// Started is sent when a worker picks a request off the queue.
type Started struct {
	Request tile.Request
}

// Loaded carries a decoded tile.
type Loaded struct {
	Request tile.Request
	Image   *image.RGBA
	Expires time.Time
	// DiskPath and DiskBytes are set when the tile was read from the disk
	// cache. Network loads report their disk copy later with Persisted.
	DiskPath  string
	DiskBytes int64
}

// Failed reports a tile that could not be loaded.
type Failed struct {
	Request tile.Request
	Err     error
}

// Persisted follows a network Loaded once the tile has been written to disk.
type Persisted struct {
	Request   tile.Request
	DiskPath  string
	DiskBytes int64
	Err       error
}

func (m Started) TileRequest() tile.Request   { return m.Request }
func (m Loaded) TileRequest() tile.Request    { return m.Request }
func (m Failed) TileRequest() tile.Request    { return m.Request }
func (m Persisted) TileRequest() tile.Request { return m.Request }
