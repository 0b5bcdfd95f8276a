package render

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"tileview/internal/cache"
	"tileview/internal/tile"
)

// MaxZoom is the deepest zoom level the renderer accepts.
const MaxZoom = 30

type Renderer struct {
	loop   *cache.Loop
	logger *zap.Logger
}

type TileResult struct {
	Data    []byte
	ETag    string
	Size    int
	State   tile.State
	Mode    tile.Mode
	Expires time.Time
}

func New(loop *cache.Loop, logger *zap.Logger) *Renderer {
	return &Renderer{
		loop:   loop,
		logger: logger,
	}
}

// TilesPerSide is the number of tiles along one axis at zoom level z.
func TilesPerSide(z int) uint32 {
	if z <= 0 {
		return 1
	}
	return uint32(math.Pow(2, float64(z)))
}

// CheckCoordinates rejects tiles outside the zoom pyramid.
func CheckCoordinates(z int, x, y uint32) error {
	if z < 0 || z > MaxZoom {
		return fmt.Errorf("zoom level %d outside [0, %d]", z, MaxZoom)
	}
	n := TilesPerSide(z)
	if x >= n || y >= n {
		return fmt.Errorf("tile %d/%d out of range at zoom %d", x, y, z)
	}
	return nil
}

// RenderTile asks the cache for req and returns whatever it has right now
// as PNG. It never waits for a fetch.
func (r *Renderer) RenderTile(ctx context.Context, req tile.Request) (*TileResult, error) {
	if err := CheckCoordinates(int(req.Z), req.X, req.Y); err != nil {
		return nil, err
	}

	var (
		view   cache.View
		data   []byte
		encErr error
	)
	err := r.loop.Do(ctx, func(c *cache.TileCache) {
		view, data, encErr = c.Surface(req)
	})
	if err != nil {
		return nil, err
	}
	if encErr != nil {
		return nil, fmt.Errorf("failed to render tile: %w", encErr)
	}

	return &TileResult{
		Data:    data,
		ETag:    r.generateETag(view),
		Size:    len(data),
		State:   view.State,
		Mode:    view.Mode,
		Expires: view.Expires,
	}, nil
}

// Warmup queues every tile of every source from zoom 0 through levels.
func (r *Renderer) Warmup(ctx context.Context, srcs []*tile.Source, levels int) (int, error) {
	levels = min(levels, MaxZoom)
	queued := 0
	for _, src := range srcs {
		for z := 0; z <= levels; z++ {
			n := TilesPerSide(z)
			err := r.loop.Do(ctx, func(c *cache.TileCache) {
				for y := uint32(0); y < n; y++ {
					for x := uint32(0); x < n; x++ {
						// lower zoom levels first
						c.GetTile(tile.NewRequest(src, uint8(z), x, y, 1, 0, int64(z)))
						queued++
					}
				}
			})
			if err != nil {
				return queued, err
			}
		}
		r.logger.Debug("Warmup queued source", zap.String("source", src.Slug), zap.Int("levels", levels))
	}
	return queued, nil
}

func (r *Renderer) generateETag(v cache.View) string {
	keyStr := fmt.Sprintf("%s_%s_%s_%d", v.Key, v.State, v.Mode, v.Expires.Unix())
	hash := sha256.Sum256([]byte(keyStr))
	return hex.EncodeToString(hash[:])[:16]
}
