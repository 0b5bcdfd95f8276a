// Package worker runs the background tile loaders.
package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"tileview/internal/diskstore"
	"tileview/internal/fetch"
	"tileview/internal/imaging"
	"tileview/internal/metrics"
	"tileview/internal/queue"
	"tileview/internal/tile"
)

// Fetcher downloads the bytes behind a resolved tile URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*fetch.Result, error)
}

type Config struct {
	Workers    int
	DefaultTTL time.Duration
}

// Pool is a fixed set of workers pulling from a RequestQueue. Workers never
// touch the cache; they only report through the Bridge.
type Pool struct {
	cfg     Config
	queue   *queue.RequestQueue
	bridge  *Bridge
	fetcher Fetcher
	decoder imaging.Decoder
	store   diskstore.Store
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

func NewPool(cfg Config, q *queue.RequestQueue, bridge *Bridge, fetcher Fetcher, decoder imaging.Decoder,
	store diskstore.Store, m *metrics.Metrics, logger *zap.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Pool{
		cfg:     cfg,
		queue:   q,
		bridge:  bridge,
		fetcher: fetcher,
		decoder: decoder,
		store:   store,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// Run starts the workers and blocks until all of them have exited, which
// happens once the queue is closed.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info("Starting tile workers", zap.Int("workers", p.cfg.Workers))

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.work(ctx, id)
		}(i)
	}
	wg.Wait()

	p.logger.Info("Tile workers stopped")
	return nil
}

func (p *Pool) work(ctx context.Context, id int) {
	log := p.logger.With(zap.Int("worker", id))
	for {
		req, ok := p.queue.Pull()
		if !ok {
			return
		}
		p.process(ctx, log, req)
	}
}

// process loads one tile: disk cache first, network otherwise. The owner is
// notified before the network copy is written to disk.
func (p *Pool) process(ctx context.Context, log *zap.Logger, req tile.Request) {
	start := p.now()
	key := req.Key()
	src := req.Source
	p.send(ctx, log, Started{Request: req})

	if src == nil {
		p.send(ctx, log, Failed{Request: req, Err: tile.ErrNoSourceConfigured})
		return
	}

	var path string
	if p.store.Enabled() {
		var err error
		path, err = src.CachePathFor(p.store.Root(), req)
		if err != nil {
			log.Warn("Disk cache unavailable for tile", zap.Stringer("tile", key), zap.Error(err))
			path = ""
		}
	}

	if path != "" {
		if entry, ok := p.store.Lookup(path); ok && !entry.Expired(start) {
			img, err := p.decoder.DecodeFile(path)
			if err == nil {
				p.metrics.ObserveDiskHit(src.Slug)
				p.send(ctx, log, Loaded{
					Request:   req,
					Image:     img,
					Expires:   entry.ExpireTime,
					DiskPath:  path,
					DiskBytes: entry.Size,
				})
				return
			}
			log.Debug("Disk copy unreadable, fetching", zap.Stringer("tile", key), zap.Error(err))
		}
	}

	url, err := src.ResolveURL(req)
	if err != nil {
		p.fail(ctx, log, req, start, err)
		return
	}
	res, err := p.fetcher.Fetch(ctx, url)
	if err != nil {
		p.fail(ctx, log, req, start, err)
		return
	}
	img, err := p.decoder.Decode(res.Data)
	if err != nil {
		p.fail(ctx, log, req, start, err)
		return
	}

	expires := res.Expires
	if expires.IsZero() {
		expires = start.Add(p.cfg.DefaultTTL)
	}
	p.metrics.ObserveFetch(src.Slug, nil, p.now().Sub(start).Seconds())
	log.Debug("Tile fetched",
		zap.Stringer("tile", key),
		zap.String("size", imaging.Describe(img)),
		zap.Int("bytes", len(res.Data)),
	)
	p.send(ctx, log, Loaded{Request: req, Image: img, Expires: expires})

	if path == "" {
		return
	}
	n, err := p.store.Write(path, res.Data, diskstore.Meta{ExpireTime: expires, FetchedAt: start, URL: url})
	p.send(ctx, log, Persisted{Request: req, DiskPath: path, DiskBytes: n, Err: err})
}

func (p *Pool) fail(ctx context.Context, log *zap.Logger, req tile.Request, start time.Time, err error) {
	p.metrics.ObserveFetch(req.Key().Source, err, p.now().Sub(start).Seconds())
	log.Debug("Tile load failed",
		zap.Stringer("tile", req.Key()),
		zap.String("kind", tile.Kind(err)),
		zap.Error(err),
	)
	p.send(ctx, log, Failed{Request: req, Err: err})
}

func (p *Pool) send(ctx context.Context, log *zap.Logger, m Message) {
	if err := p.bridge.Send(ctx, m); err != nil {
		log.Debug("Dropping tile result", zap.Stringer("tile", m.TileRequest().Key()), zap.Error(err))
	}
}
