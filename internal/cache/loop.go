package cache

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

var ErrLoopStopped = errors.New("cache loop stopped")

const DefaultPollInterval = 250 * time.Millisecond

// Loop owns a TileCache on a single goroutine. Other goroutines reach the
// cache with Do; worker results are ingested as soon as the Bridge wakes the
// loop, and at least once per poll interval.
type Loop struct {
	cache    *TileCache
	calls    chan func(*TileCache)
	interval time.Duration
	stopped  chan struct{}
	logger   *zap.Logger
}

func NewLoop(c *TileCache, interval time.Duration, logger *zap.Logger) *Loop {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		cache:    c,
		calls:    make(chan func(*TileCache)),
		interval: interval,
		stopped:  make(chan struct{}),
		logger:   logger,
	}
}

// Run serves the cache until ctx is done. On the way out it ingests what
// the workers already sent, saves the state file and closes the queue so the
// workers exit.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.stopped)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.logger.Info("Cache loop started", zap.Duration("poll_interval", l.interval))
	for {
		select {
		case fn := <-l.calls:
			fn(l.cache)
		case <-l.cache.bridge.Wake():
			l.cache.Poll()
		case <-ticker.C:
			l.cache.Poll()
			// approximations built by GetTile are evicted here
			l.cache.evictMemory()
			l.cache.publish()
		case <-ctx.Done():
			l.cache.Poll()
			if err := l.cache.Persist(); err != nil {
				l.logger.Error("Failed to save cache state", zap.Error(err))
			}
			l.cache.Close()
			l.logger.Info("Cache loop stopped")
			return nil
		}
	}
}

// Do runs fn on the loop goroutine and waits for it to finish.
func (l *Loop) Do(ctx context.Context, fn func(*TileCache)) error {
	done := make(chan struct{})
	call := func(c *TileCache) {
		defer close(done)
		fn(c)
	}

	select {
	case l.calls <- call:
	case <-l.stopped:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-l.stopped:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}
