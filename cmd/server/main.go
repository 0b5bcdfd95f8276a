package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tileview/internal/cache"
	"tileview/internal/config"
	"tileview/internal/diskstore"
	"tileview/internal/fetch"
	httphandlers "tileview/internal/http"
	"tileview/internal/imaging"
	"tileview/internal/imaging/vipsimg"
	"tileview/internal/logger"
	"tileview/internal/metrics"
	"tileview/internal/render"
	"tileview/internal/sources"
	"tileview/internal/tile"
	"tileview/internal/worker"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	var decoder imaging.Decoder = imaging.GoDecoder{}
	if cfg.Decoder == "vips" {
		shutdown := vipsimg.Startup(vipsimg.Config{
			MaxCacheMB:  cfg.VipsMaxCacheMB,
			Concurrency: cfg.VipsConcurrency,
		}, log)
		defer shutdown()
		decoder = vipsimg.Decoder{Fallback: imaging.GoDecoder{}}
	}

	log.Info("Starting tileview server",
		zap.Int("port", cfg.Port),
		zap.String("cache_dir", cfg.CacheDir),
		zap.String("sources_dir", cfg.SourcesDir),
		zap.Int("workers", cfg.Workers()),
		zap.String("decoder", cfg.Decoder),
	)

	catalog := sources.New(cfg.SourcesDir, log)
	if err := catalog.Scan(); err != nil {
		log.Warn("Initial source scan failed", zap.Error(err))
	}

	store, err := diskstore.NewStore(cfg.DiskCache, cfg.TilesDir(), log)
	if err != nil {
		log.Fatal("Failed to initialize disk cache", zap.Error(err))
	}

	reg := prometheus.NewRegistry()
	var m *metrics.Metrics
	if cfg.Metrics {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m = metrics.New(reg)
	}

	tileCache, err := cache.New(cache.Options{
		MemCap:     cfg.MemCap(),
		DiskCap:    cfg.DiskCap(),
		DefaultTTL: cfg.DefaultTTL(),
		StateFile:  cfg.StateFile(),
		Sources:    catalog.BySlug(),
		Store:      store,
		OnTileLoaded: func(req tile.Request) {
			log.Debug("Tile updated", zap.Stringer("tile", req.Key()), zap.Uint64("generation", req.Generation))
		},
	}, m, log)
	if err != nil {
		log.Fatal("Failed to initialize tile cache", zap.Error(err))
	}
	tileCache.Restore()

	loop := cache.NewLoop(tileCache, cfg.PollInterval(), log)
	fetcher := fetch.New(fetch.Config{Timeout: cfg.FetchTimeout(), UserAgent: cfg.UserAgent})
	pool := worker.NewPool(worker.Config{Workers: cfg.Workers(), DefaultTTL: cfg.DefaultTTL()},
		tileCache.Queue(), tileCache.Bridge(), fetcher, decoder, store, m, log)
	renderer := render.New(loop, log)

	handlers := httphandlers.New(cfg, log, catalog, renderer, loop)

	mux := http.NewServeMux()
	handlers.Routes(mux)
	if cfg.Metrics {
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	handler := handlers.CORSMiddleware(handlers.RequestLoggingMiddleware(mux))

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: handler,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return loop.Run(gctx) })
	g.Go(func() error { return pool.Run(gctx) })
	g.Go(func() error {
		log.Info("Server started", zap.Int("port", cfg.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("Server forced to shutdown", zap.Error(err))
		}
		return nil
	})

	if cfg.WarmupLevels > 0 {
		g.Go(func() error {
			warmupTiles(gctx, cfg.WarmupLevels, catalog, renderer, log)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Error("Server stopped with error", zap.Error(err))
		return
	}
	log.Info("Server stopped")
}

func warmupTiles(ctx context.Context, levels int, catalog *sources.Scanner, renderer *render.Renderer, log *zap.Logger) {
	srcs := catalog.GetSources()
	if len(srcs) == 0 {
		return
	}

	log.Info("Starting tile warmup", zap.Int("levels", levels), zap.Int("sources", len(srcs)))

	queued, err := renderer.Warmup(ctx, srcs, levels)
	if err != nil {
		log.Warn("Tile warmup interrupted", zap.Int("queued", queued), zap.Error(err))
		return
	}
	log.Info("Tile warmup queued", zap.Int("tiles", queued))
}
