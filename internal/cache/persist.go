package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"tileview/internal/diskstore"
	"tileview/internal/tile"
)

const stateVersion = 1

// StateRecord is the on-disk index written by Persist.
type StateRecord struct {
	Version   int               `json:"version"`
	Session   string            `json:"session"`
	SavedAt   time.Time         `json:"saved_at"`
	Requests  []StateRequest    `json:"requests"`
	DiskUsage map[string]uint64 `json:"disk_usage"`
}

type StateRequest struct {
	Source     string `json:"source"`
	Z          uint8  `json:"z"`
	X          uint32 `json:"x"`
	Y          uint32 `json:"y"`
	Mult       uint8  `json:"mult"`
	Generation uint64 `json:"generation"`
	Priority   int64  `json:"priority"`
}

func (r StateRequest) Key() tile.Key {
	return tile.Key{Source: r.Source, Z: r.Z, Y: r.Y, X: r.X, Mult: r.Mult}
}

func newSession() string {
	return uuid.NewString()
}

// Persist writes the tile index and disk usage to the state file.
func (c *TileCache) Persist() error {
	if c.opts.StateFile == "" {
		return nil
	}

	rec := StateRecord{
		Version:   stateVersion,
		Session:   c.session,
		SavedAt:   c.now().UTC(),
		Requests:  make([]StateRequest, 0, len(c.tiles)),
		DiskUsage: make(map[string]uint64),
	}
	for _, key := range c.sortedKeys() {
		t := c.tiles[key]
		rec.Requests = append(rec.Requests, StateRequest{
			Source:     key.Source,
			Z:          key.Z,
			X:          key.X,
			Y:          key.Y,
			Mult:       key.Mult,
			Generation: t.req.Generation,
			Priority:   t.req.Priority,
		})
		if t.diskPath != "" {
			rec.DiskUsage[key.String()] = t.diskBytes
		}
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal cache state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.opts.StateFile), 0755); err != nil {
		return &tile.DiskIOError{Op: "mkdir", Path: filepath.Dir(c.opts.StateFile), Err: err}
	}
	if err := diskstore.WriteAtomic(c.opts.StateFile, data); err != nil {
		return err
	}

	c.logger.Info("Cache state saved",
		zap.String("path", c.opts.StateFile),
		zap.Int("tiles", len(rec.Requests)),
		zap.Uint64("disk_usage_bytes", c.diskUsage),
	)
	return nil
}

// Restore loads the state file into an empty cache. Tiles come back Flushed
// with their disk copies attached; nothing is decoded. Any failure leaves
// the cache cold and is only logged.
func (c *TileCache) Restore() int {
	if c.opts.StateFile == "" {
		return 0
	}

	rec, err := ReadState(c.opts.StateFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.logger.Info("No cache state found, starting cold", zap.String("path", c.opts.StateFile))
		} else {
			c.logger.Warn("Failed to read cache state, starting cold",
				zap.String("path", c.opts.StateFile),
				zap.Error(err),
			)
		}
		return 0
	}

	var skipped []string
	restored := 0
	for _, r := range rec.Requests {
		key := r.Key()
		if _, ok := c.tiles[key]; ok {
			continue
		}
		src, ok := c.opts.Sources[r.Source]
		if !ok {
			skipped = append(skipped, key.String())
			continue
		}

		req := tile.NewRequest(src, r.Z, r.X, r.Y, r.Mult, r.Generation, r.Priority)
		t := newTile(req)
		t.state = tile.Flushed

		if c.store.Enabled() {
			path := src.CachePath(c.store.Root(), req)
			if entry, ok := c.store.Lookup(path); ok {
				size, recorded := rec.DiskUsage[key.String()]
				if !recorded {
					size = uint64(entry.Size)
				}
				t.expireTime = entry.ExpireTime
				c.setDisk(t, path, size)
			}
		}
		c.tiles[key] = t
		restored++
	}

	c.logger.Info("Cache state restored",
		zap.String("path", c.opts.StateFile),
		zap.String("previous_session", rec.Session),
		zap.Int("tiles", restored),
		zap.Int("skipped", len(skipped)),
		zap.Uint64("disk_usage_bytes", c.diskUsage),
	)
	if len(skipped) > 0 {
		c.logger.Debug("Skipped tiles of unknown sources", zap.Strings("tiles", skipped))
	}

	c.evictDisk()
	c.publish()
	return restored
}

// ReadState parses a state file.
func ReadState(path string) (*StateRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec StateRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse cache state %s: %w", path, err)
	}
	if rec.Version != stateVersion {
		return nil, fmt.Errorf("unsupported cache state version %d", rec.Version)
	}
	return &rec, nil
}

func combine(errs []error) error {
	return multierr.Combine(errs...)
}
