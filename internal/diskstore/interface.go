// Package diskstore keeps encoded tiles on disk next to a JSON sidecar
// holding their expiry.
package diskstore

import "time"

// Meta is the sidecar record stored next to every tile file.
type Meta struct {
	ExpireTime time.Time `json:"expire_time"`
	FetchedAt  time.Time `json:"fetched_at"`
	URL        string    `json:"url,omitempty"`
	Size       int64     `json:"size"`
}

// Entry describes a tile found on disk.
type Entry struct {
	Path       string
	Size       int64
	ExpireTime time.Time
}

func (e Entry) Expired(now time.Time) bool {
	return !e.ExpireTime.After(now)
}

type Store interface {
	// Lookup checks a tile file and its sidecar without reading the tile.
	Lookup(path string) (Entry, bool)
	// Write stores data at path atomically and then its sidecar. It
	// returns the number of bytes the tile occupies on disk.
	Write(path string, data []byte, meta Meta) (int64, error)
	// Remove deletes a tile file and its sidecar. Missing files are not
	// an error.
	Remove(path string) error
	// Root is the cache root directory, empty when disabled.
	Root() string
	Enabled() bool
}
