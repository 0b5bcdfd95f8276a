package cache

import (
	"image"
	"time"

	"tileview/internal/tile"
)

// Observer is told about every ingested load or failure so the consumer can
// schedule a redraw. It runs on the goroutine that owns the cache.
type Observer func(req tile.Request)

// View is what GetTile hands out: a snapshot of one tile. Image is always
// drawable and must be treated as read-only; the cache replaces buffers
// instead of mutating them.
type View struct {
	Key     tile.Key
	State   tile.State
	Mode    tile.Mode
	Image   image.Image
	Width   int
	Height  int
	Expires time.Time
}

// Stats is a point-in-time summary of the cache.
type Stats struct {
	Tiles     int            `json:"tiles"`
	States    map[string]int `json:"states"`
	MemUsage  uint64         `json:"mem_usage_bytes"`
	MemCap    uint64         `json:"mem_cap_bytes"`
	DiskUsage uint64         `json:"disk_usage_bytes"`
	DiskCap   uint64         `json:"disk_cap_bytes"`
	Queued    int            `json:"queued"`
	FocusZoom int            `json:"focus_zoom"`
	// Undelivered counts worker results not yet ingested.
	Undelivered int `json:"undelivered_results"`
}
