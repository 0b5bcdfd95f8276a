// Package vipsimg decodes disk-cached tiles with libvips.
package vipsimg

import (
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"strings"

	"github.com/cshum/vipsgen/vips"
	"go.uber.org/zap"

	"tileview/internal/imaging"
	"tileview/internal/tile"
)

type Config struct {
	MaxCacheMB  int
	Concurrency int
}

// Startup initializes libvips and routes its warnings and errors to log.
// The returned function shuts libvips down.
func Startup(cfg Config, log *zap.Logger) func() {
	vips.SetLogging(func(domain string, level vips.LogLevel, message string) {
		if level >= vips.LogLevelError {
			log.Error("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		} else if level >= vips.LogLevelWarning {
			log.Warn("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		}
	}, vips.LogLevelWarning)

	vips.Startup(&vips.Config{
		ConcurrencyLevel: cfg.Concurrency,
		MaxCacheMem:      cfg.MaxCacheMB * 1024 * 1024,
		MaxCacheFiles:    0,
		MaxCacheSize:     0,
		ReportLeaks:      false,
		CacheTrace:       false,
		VectorEnabled:    true,
	})

	log.Info("VIPS initialized",
		zap.Int("max_cache_mb", cfg.MaxCacheMB),
		zap.Int("concurrency", cfg.Concurrency),
	)
	return vips.Shutdown
}

// Decoder reads tile files the fallback decoder rejects, such as JPEG
// compressed TIFF or CMYK JPEG, with libvips. Everything else, including
// tiles fetched from the network, goes through the fallback decoder.
type Decoder struct {
	Fallback imaging.Decoder
}

var _ imaging.Decoder = Decoder{}

func (d Decoder) Decode(data []byte) (*image.RGBA, error) {
	return d.Fallback.Decode(data)
}

func (d Decoder) DecodeFile(path string) (*image.RGBA, error) {
	rgba, err := d.Fallback.DecodeFile(path)
	var decodeErr *tile.DecodeError
	if err == nil || !errors.As(err, &decodeErr) || !supported[strings.ToLower(filepath.Ext(path))] {
		return rgba, err
	}

	img, err := load(path)
	if err != nil {
		return nil, &tile.DecodeError{Err: fmt.Errorf("vips load %s: %w", path, err)}
	}
	defer img.Close()

	// re-encode losslessly into something the fallback reads
	buf, err := img.PngsaveBuffer(vips.DefaultPngsaveBufferOptions())
	if err != nil {
		return nil, &tile.DecodeError{Err: fmt.Errorf("vips export %s: %w", path, err)}
	}
	return d.Fallback.Decode(buf)
}

var supported = map[string]bool{
	".tif":  true,
	".tiff": true,
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
}

func load(path string) (*vips.Image, error) {
	access := vips.AccessSequential

	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff":
		opts := vips.DefaultTiffloadOptions()
		opts.Access = access
		return vips.NewTiffload(path, opts)
	case ".jpg", ".jpeg":
		opts := vips.DefaultJpegloadOptions()
		opts.Access = access
		return vips.NewJpegload(path, opts)
	case ".png":
		opts := vips.DefaultPngloadOptions()
		opts.Access = access
		return vips.NewPngload(path, opts)
	case ".webp":
		opts := vips.DefaultWebploadOptions()
		opts.Access = access
		return vips.NewWebpload(path, opts)
	default:
		return nil, fmt.Errorf("unsupported image format: %s", filepath.Ext(path))
	}
}
