package cache

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tileview/internal/diskstore"
	"tileview/internal/imaging"
	"tileview/internal/tile"
	"tileview/internal/worker"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testSource() *tile.Source {
	s := &tile.Source{Slug: "osm", URLTemplates: []string{"https://tile.example.org/${z}/${x}/${y}.png"}}
	if err := s.Validate(); err != nil {
		panic(err)
	}
	return s
}

func newTestCache(t *testing.T, opts Options) *TileCache {
	t.Helper()
	c, err := New(opts, nil, zap.NewNop())
	require.NoError(t, err)
	c.now = func() time.Time { return epoch }
	return c
}

func solid(c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, tile.DefaultTileSize, tile.DefaultTileSize))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

var tileBytes = imaging.MemUsage(solid(color.RGBA{}))

func load(c *TileCache, req tile.Request, expires time.Time) {
	c.GetTile(req)
	c.Ingest(worker.Loaded{Request: req, Image: solid(color.RGBA{R: 200, A: 255}), Expires: expires})
}

func TestGetTileIsIdempotent(t *testing.T) {
	c := newTestCache(t, Options{})
	req := tile.NewRequest(testSource(), 3, 2, 5, 1, 0, 0)

	v := c.GetTile(req)
	assert.Equal(t, tile.Pending, v.State)
	assert.Equal(t, tile.Blank, v.Mode)
	assert.Equal(t, 256, v.Image.Bounds().Dx())

	for i := 0; i < 5; i++ {
		c.GetTile(req)
	}
	assert.Equal(t, 1, c.Queue().Len())
	assert.Equal(t, 1, c.Len())
	assert.Zero(t, c.MemUsage())
}

func TestLoadedLifecycle(t *testing.T) {
	var seen []tile.Request
	c := newTestCache(t, Options{OnTileLoaded: func(r tile.Request) { seen = append(seen, r) }})
	req := tile.NewRequest(testSource(), 1, 0, 1, 1, 0, 0)

	c.GetTile(req)
	c.Ingest(worker.Started{Request: req})
	tl, ok := c.Lookup(req.Key())
	require.True(t, ok)
	assert.Equal(t, tile.Fetching, tl.State())

	c.Ingest(worker.Loaded{Request: req, Image: solid(color.RGBA{G: 255, A: 255}), Expires: epoch.Add(time.Hour)})
	v := c.GetTile(req)
	assert.Equal(t, tile.Ready, v.State)
	assert.Equal(t, tile.Complete, v.Mode)
	assert.Equal(t, epoch.Add(time.Hour), v.Expires)
	assert.Equal(t, tileBytes, c.MemUsage())
	assert.Equal(t, []tile.Request{req}, seen)
}

func TestLoadedWithoutExpiryGetsDefaultTTL(t *testing.T) {
	c := newTestCache(t, Options{DefaultTTL: 48 * time.Hour})
	req := tile.NewRequest(testSource(), 0, 0, 0, 1, 0, 0)
	load(c, req, time.Time{})

	tl, _ := c.Lookup(req.Key())
	assert.Equal(t, epoch.Add(48*time.Hour), tl.ExpireTime())
}

func TestFailedTileIsRetriedOnNextRequest(t *testing.T) {
	c := newTestCache(t, Options{})
	req := tile.NewRequest(testSource(), 2, 1, 1, 1, 0, 0)

	c.GetTile(req)
	_, ok := c.Queue().TryPull()
	require.True(t, ok)
	c.Ingest(worker.Failed{Request: req, Err: &tile.HTTPStatusError{URL: "u", Status: 404}})

	tl, _ := c.Lookup(req.Key())
	assert.Equal(t, tile.Error, tl.State())
	assert.Equal(t, tile.Blank, tl.Mode())
	assert.Zero(t, c.MemUsage())

	v := c.GetTile(req)
	assert.Equal(t, tile.Pending, v.State)
	assert.Equal(t, 1, c.Queue().Len())
}

func TestExpiredTileServesStaleAndRefreshesOnce(t *testing.T) {
	c := newTestCache(t, Options{})
	req := tile.NewRequest(testSource(), 4, 3, 3, 1, 0, 0)
	load(c, req, epoch.Add(time.Minute))
	_, _ = c.Queue().TryPull()

	c.now = func() time.Time { return epoch.Add(time.Hour) }
	v := c.GetTile(req)
	assert.Equal(t, tile.Ready, v.State)
	assert.Equal(t, tile.Approximated, v.Mode)
	assert.Equal(t, uint8(200), v.Image.(*image.RGBA).Pix[0])
	assert.Equal(t, 1, c.Queue().Len())

	c.GetTile(req)
	assert.Equal(t, 1, c.Queue().Len())

	next, _ := c.Queue().TryPull()
	c.Ingest(worker.Loaded{Request: next, Image: solid(color.RGBA{B: 9, A: 255}), Expires: epoch.Add(2 * time.Hour)})
	v = c.GetTile(req)
	assert.Equal(t, tile.Complete, v.Mode)
	assert.Equal(t, 0, c.Queue().Len())
}

func TestApproximationFromAncestor(t *testing.T) {
	c := newTestCache(t, Options{})
	src := testSource()
	load(c, tile.NewRequest(src, 0, 0, 0, 1, 0, 0), epoch.Add(time.Hour))

	v := c.GetTile(tile.NewRequest(src, 2, 3, 1, 1, 1, 0))
	assert.Equal(t, tile.Pending, v.State)
	assert.Equal(t, tile.Approximated, v.Mode)
	rgba := v.Image.(*image.RGBA)
	assert.Equal(t, 256, rgba.Bounds().Dx())
	assert.Equal(t, color.RGBA{R: 200, A: 255}, rgba.RGBAAt(128, 128))
	assert.Equal(t, 2*tileBytes, c.MemUsage())

	other := c.GetTile(tile.NewRequest(&tile.Source{Slug: "other", TileWidth: 256, TileHeight: 256}, 2, 3, 1, 1, 1, 0))
	assert.Equal(t, tile.Blank, other.Mode)
}

func TestApproximationDepthIsBounded(t *testing.T) {
	c := newTestCache(t, Options{})
	src := testSource()
	load(c, tile.NewRequest(src, 0, 0, 0, 1, 0, 0), epoch.Add(time.Hour))

	deepest := c.GetTile(tile.NewRequest(src, imaging.MaxMagnifyLevels, 1<<29, 7, 1, 0, 0))
	assert.Equal(t, tile.Approximated, deepest.Mode)
	assert.Equal(t, color.RGBA{R: 200, A: 255}, deepest.Image.(*image.RGBA).RGBAAt(0, 0))

	tooDeep := c.GetTile(tile.NewRequest(src, 70, 5, 5, 1, 0, 0))
	assert.Equal(t, tile.Pending, tooDeep.State)
	assert.Equal(t, tile.Blank, tooDeep.Mode)

	done := make(chan View)
	go func() { done <- c.GetTile(tile.NewRequest(src, 255, 0, 0, 1, 0, 0)) }()
	select {
	case v := <-done:
		assert.Equal(t, tile.Pending, v.State)
		assert.Equal(t, tile.Blank, v.Mode)
	case <-time.After(2 * time.Second):
		t.Fatal("GetTile at zoom 255 did not return")
	}
	assert.Equal(t, 4, c.Queue().Len())
}

func TestMemoryEvictionFlushesEarliestExpiry(t *testing.T) {
	c := newTestCache(t, Options{MemCap: 3 * tileBytes})
	src := testSource()

	var reqs []tile.Request
	for i := 0; i < 4; i++ {
		req := tile.NewRequest(src, 5, uint32(i), 0, 1, 0, int64(i))
		reqs = append(reqs, req)
	}
	// Expiries deliberately out of insertion order.
	load(c, reqs[0], epoch.Add(3*time.Hour))
	load(c, reqs[1], epoch.Add(1*time.Hour))
	load(c, reqs[2], epoch.Add(4*time.Hour))
	load(c, reqs[3], epoch.Add(2*time.Hour))

	assert.LessOrEqual(t, c.MemUsage(), 3*tileBytes)
	flushed, _ := c.Lookup(reqs[1].Key())
	assert.Equal(t, tile.Flushed, flushed.State())
	for _, i := range []int{0, 2, 3} {
		tl, _ := c.Lookup(reqs[i].Key())
		assert.Equal(t, tile.Ready, tl.State(), "tile %d", i)
		assert.True(t, tl.ExpireTime().After(flushed.ExpireTime()))
	}

	v := c.GetTile(reqs[1])
	assert.Equal(t, tile.Pending, v.State)
}

func TestMemoryEvictionTiesBrokenByKey(t *testing.T) {
	c := newTestCache(t, Options{MemCap: tileBytes})
	src := testSource()
	a := tile.NewRequest(src, 5, 1, 0, 1, 0, 0)
	b := tile.NewRequest(src, 5, 0, 0, 1, 0, 0)

	load(c, a, epoch.Add(time.Hour))
	load(c, b, epoch.Add(time.Hour))

	tb, _ := c.Lookup(b.Key())
	ta, _ := c.Lookup(a.Key())
	assert.Equal(t, tile.Flushed, tb.State())
	assert.Equal(t, tile.Ready, ta.State())
}

func TestFocusZoomKeepsApproximations(t *testing.T) {
	c := newTestCache(t, Options{MemCap: 3 * tileBytes})
	src := testSource()
	load(c, tile.NewRequest(src, 0, 0, 0, 1, 0, 0), epoch.Add(time.Hour))
	c.SetFocusZoomLevel(2)

	focused := tile.NewRequest(src, 2, 0, 0, 1, 0, 0)
	c.GetTile(focused)
	c.GetTile(tile.NewRequest(src, 1, 0, 0, 1, 0, 0))
	assert.Equal(t, 3*tileBytes, c.MemUsage())

	// One more approximation pushes usage over the cap.
	c.GetTile(tile.NewRequest(src, 2, 1, 0, 1, 0, 0))
	c.evictMemory()

	assert.LessOrEqual(t, c.MemUsage(), 3*tileBytes)
	tl, _ := c.Lookup(focused.Key())
	assert.Equal(t, tile.Approximated, tl.Mode())
	z1, _ := c.Lookup(tile.NewRequest(src, 1, 0, 0, 1, 0, 0).Key())
	assert.Equal(t, tile.Blank, z1.Mode())
	root, _ := c.Lookup(tile.NewRequest(src, 0, 0, 0, 1, 0, 0).Key())
	assert.Equal(t, tile.Ready, root.State())
}

type recordingStore struct {
	diskstore.NoopStore
	removed []string
}

func (s *recordingStore) Enabled() bool { return true }
func (s *recordingStore) Remove(path string) error {
	s.removed = append(s.removed, path)
	return nil
}

func TestDiskEvictionKeepsUsageUnderCap(t *testing.T) {
	store := &recordingStore{}
	c := newTestCache(t, Options{DiskCap: 100, Store: store})
	src := testSource()

	for i := 0; i < 3; i++ {
		req := tile.NewRequest(src, 3, uint32(i), 0, 1, 0, 0)
		load(c, req, epoch.Add(time.Hour))
		c.Ingest(worker.Persisted{Request: req, DiskPath: filepath.Join("/cache", req.Key().String()), DiskBytes: 45})
		assert.LessOrEqual(t, c.DiskUsage(), uint64(100))
	}

	assert.Equal(t, uint64(90), c.DiskUsage())
	require.Len(t, store.removed, 1)
	first, _ := c.Lookup(tile.NewRequest(src, 3, 0, 0, 1, 0, 0).Key())
	assert.Empty(t, first.DiskPath())
	assert.Equal(t, tile.Ready, first.State())
}

func TestPersistedErrorLeavesDiskUsage(t *testing.T) {
	c := newTestCache(t, Options{})
	req := tile.NewRequest(testSource(), 3, 0, 0, 1, 0, 0)
	load(c, req, epoch.Add(time.Hour))
	c.Ingest(worker.Persisted{Request: req, DiskPath: "/x", Err: errors.New("disk full")})
	assert.Zero(t, c.DiskUsage())
}

func TestResultsForClearedTilesAreDropped(t *testing.T) {
	c := newTestCache(t, Options{})
	req := tile.NewRequest(testSource(), 3, 0, 0, 1, 0, 0)
	c.GetTile(req)
	require.NoError(t, c.Clear())
	assert.Zero(t, c.Len())
	assert.Zero(t, c.Queue().Len())

	c.Ingest(worker.Loaded{Request: req, Image: solid(color.RGBA{A: 255}), Expires: epoch.Add(time.Hour)})
	assert.Zero(t, c.Len())
	assert.Zero(t, c.MemUsage())
}

func TestDiskCopiesWrittenAfterClearAreRemoved(t *testing.T) {
	store := &recordingStore{}
	c := newTestCache(t, Options{Store: store})
	src := testSource()
	fetched := tile.NewRequest(src, 3, 0, 0, 1, 0, 0)
	fromDisk := tile.NewRequest(src, 3, 1, 0, 1, 0, 0)
	failed := tile.NewRequest(src, 3, 2, 0, 1, 0, 0)
	c.GetTile(fetched)
	c.GetTile(fromDisk)
	c.GetTile(failed)
	require.NoError(t, c.Clear())
	assert.Empty(t, store.removed)

	c.Ingest(worker.Loaded{Request: fetched, Image: solid(color.RGBA{A: 255})})
	c.Ingest(worker.Persisted{Request: fetched, DiskPath: "/cache/a.png", DiskBytes: 10})
	c.Ingest(worker.Loaded{Request: fromDisk, Image: solid(color.RGBA{A: 255}), DiskPath: "/cache/b.png", DiskBytes: 10})
	c.Ingest(worker.Persisted{Request: failed, DiskPath: "/cache/c.png", Err: errors.New("disk full")})

	assert.Equal(t, []string{"/cache/a.png", "/cache/b.png"}, store.removed)
	assert.Zero(t, c.DiskUsage())
	assert.Zero(t, c.Len())
}

func TestPersistRestoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := diskstore.NewFileStore(filepath.Join(dir, "tiles"))
	require.NoError(t, err)
	src := testSource()
	opts := Options{
		StateFile: filepath.Join(dir, "state"),
		Store:     store,
		Sources:   map[string]*tile.Source{src.Slug: src},
	}

	c := newTestCache(t, opts)
	onDisk := tile.NewRequest(src, 12, 1234, 567, 1, 3, 7)
	memOnly := tile.NewRequest(src, 2, 1, 1, 2, 3, 8)
	load(c, onDisk, epoch.Add(time.Hour))
	load(c, memOnly, epoch.Add(time.Hour))

	path, err := src.CachePathFor(store.Root(), onDisk)
	require.NoError(t, err)
	n, err := store.Write(path, []byte("0123456789"), diskstore.Meta{ExpireTime: epoch.Add(time.Hour)})
	require.NoError(t, err)
	c.Ingest(worker.Persisted{Request: onDisk, DiskPath: path, DiskBytes: n})
	require.NoError(t, c.Persist())

	fresh := newTestCache(t, opts)
	assert.Equal(t, 2, fresh.Restore())
	assert.Equal(t, c.DiskUsage(), fresh.DiskUsage())
	assert.Equal(t, uint64(10), fresh.DiskUsage())
	assert.Zero(t, fresh.MemUsage())

	for _, req := range []tile.Request{onDisk, memOnly} {
		tl, ok := fresh.Lookup(req.Key())
		require.True(t, ok, req.Key().String())
		assert.Equal(t, tile.Flushed, tl.State())
	}
	restored, _ := fresh.Lookup(onDisk.Key())
	assert.Equal(t, path, restored.DiskPath())
	assert.True(t, restored.ExpireTime().Equal(epoch.Add(time.Hour)))

	rec, err := ReadState(opts.StateFile)
	require.NoError(t, err)
	assert.Equal(t, c.session, rec.Session)
	assert.Equal(t, uint64(3), rec.Requests[0].Generation)
}

func TestRestoreWithoutStateIsColdStart(t *testing.T) {
	dir := t.TempDir()
	c := newTestCache(t, Options{StateFile: filepath.Join(dir, "missing")})
	assert.Zero(t, c.Restore())

	require.NoError(t, writeFile(filepath.Join(dir, "broken"), []byte("{not json")))
	c = newTestCache(t, Options{StateFile: filepath.Join(dir, "broken")})
	assert.Zero(t, c.Restore())
	assert.Zero(t, c.Len())
}

func writeFile(path string, data []byte) error {
	return diskstore.WriteAtomic(path, data)
}

func TestSurfaceEncodesOnce(t *testing.T) {
	c := newTestCache(t, Options{})
	req := tile.NewRequest(testSource(), 0, 0, 0, 1, 0, 0)

	_, blank, err := c.Surface(req)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(blank))
	require.NoError(t, err)
	assert.Equal(t, 256, img.Bounds().Dx())
	assert.Zero(t, c.MemUsage())

	load(c, req, epoch.Add(time.Hour))
	v, data, err := c.Surface(req)
	require.NoError(t, err)
	assert.Equal(t, tile.Ready, v.State)
	assert.Equal(t, tileBytes+uint64(len(data)), c.MemUsage())

	_, again, err := c.Surface(req)
	require.NoError(t, err)
	assert.Equal(t, data, again)
	assert.Equal(t, tileBytes+uint64(len(data)), c.MemUsage())
}

func TestStats(t *testing.T) {
	c := newTestCache(t, Options{MemCap: 10 * tileBytes})
	src := testSource()
	load(c, tile.NewRequest(src, 0, 0, 0, 1, 0, 0), epoch.Add(time.Hour))
	c.GetTile(tile.NewRequest(src, 1, 0, 0, 1, 0, 0))

	s := c.Stats()
	assert.Equal(t, 2, s.Tiles)
	assert.Equal(t, 1, s.States["ready"])
	assert.Equal(t, 1, s.States["pending"])
	assert.Equal(t, 10*tileBytes, s.MemCap)
	assert.Equal(t, NoFocus, s.FocusZoom)
	assert.Zero(t, s.Undelivered)

	require.NoError(t, c.Bridge().Send(context.Background(), worker.Started{Request: tile.NewRequest(src, 1, 0, 0, 1, 0, 0)}))
	assert.Equal(t, 1, c.Stats().Undelivered)
	assert.Equal(t, 1, c.Poll())
	assert.Zero(t, c.Stats().Undelivered)
	assert.Equal(t, 1, c.Stats().States["fetching"])
}

func TestLoopRunsCallsAndPersistsOnExit(t *testing.T) {
	dir := t.TempDir()
	c := newTestCache(t, Options{StateFile: filepath.Join(dir, "state")})
	l := NewLoop(c, 10*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	req := tile.NewRequest(testSource(), 1, 1, 1, 1, 0, 0)
	var v View
	require.NoError(t, l.Do(context.Background(), func(c *TileCache) { v = c.GetTile(req) }))
	assert.Equal(t, tile.Pending, v.State)

	pulled, ok := c.Queue().TryPull()
	require.True(t, ok)
	require.NoError(t, c.Bridge().Send(context.Background(), worker.Loaded{
		Request: pulled, Image: solid(color.RGBA{A: 255}), Expires: epoch.Add(time.Hour),
	}))
	assert.Eventually(t, func() bool {
		var state tile.State
		_ = l.Do(context.Background(), func(c *TileCache) {
			tl, _ := c.Lookup(req.Key())
			state = tl.State()
		})
		return state == tile.Ready
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	rec, err := ReadState(filepath.Join(dir, "state"))
	require.NoError(t, err)
	assert.Len(t, rec.Requests, 1)

	_, ok = c.Queue().Pull()
	assert.False(t, ok, "queue is closed after the loop stops")
	assert.ErrorIs(t, l.Do(context.Background(), func(*TileCache) {}), ErrLoopStopped)
}
