package config

import (
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"PORT", "SOURCES_DIR", "DISK_CACHE", "WORKER_THREADS", "MEM_CACHE_MB",
		"DISK_CACHE_MB", "DEFAULT_TTL_DAYS", "DECODER", "METRICS", "POLL_INTERVAL_MS"} {
		t.Setenv(k, "")
	}
	t.Setenv("CACHE_DIR", "/var/cache/tiles")

	cfg := Load()
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "file", cfg.DiskCache)
	assert.Equal(t, "go", cfg.Decoder)
	assert.True(t, cfg.Metrics)
	assert.Equal(t, runtime.NumCPU(), cfg.Workers())
	assert.Equal(t, uint64(256<<20), cfg.MemCap())
	assert.Equal(t, uint64(1024<<20), cfg.DiskCap())
	assert.Equal(t, 7*24*time.Hour, cfg.DefaultTTL())
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval())
	assert.Equal(t, filepath.Join("/var/cache/tiles", "state"), cfg.StateFile())
	assert.Equal(t, filepath.Join("/var/cache/tiles", "tiles"), cfg.TilesDir())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("WORKER_THREADS", "0")
	t.Setenv("MEM_CACHE_MB", "16")
	t.Setenv("DECODER", "VIPS")
	t.Setenv("METRICS", "false")
	t.Setenv("DEFAULT_TTL_DAYS", "not a number")

	cfg := Load()
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 1, cfg.Workers())
	assert.Equal(t, uint64(16<<20), cfg.MemCap())
	assert.Equal(t, "vips", cfg.Decoder)
	assert.False(t, cfg.Metrics)
	assert.Equal(t, 7, cfg.DefaultTTLDays)

	cfg.WorkerThreads = 3
	assert.Equal(t, 3, cfg.Workers())
}
