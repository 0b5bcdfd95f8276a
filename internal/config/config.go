package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port            int
	CacheDir        string
	SourcesDir      string
	DiskCache       string
	WorkerThreads   int
	MemCacheMB      int
	DiskCacheMB     int
	DefaultTTLDays  int
	FetchTimeoutSec int
	UserAgent       string
	Decoder         string
	VipsMaxCacheMB  int
	VipsConcurrency int
	WarmupLevels    int
	PollIntervalMS  int
	LogLevel        string
	AllowedOrigin   string
	Metrics         bool
}

func Load() *Config {
	cfg := &Config{
		Port:            getEnvInt("PORT", 8080),
		CacheDir:        getEnv("CACHE_DIR", defaultCacheDir()),
		SourcesDir:      getEnv("SOURCES_DIR", "./sources"),
		DiskCache:       getEnv("DISK_CACHE", "file"),
		WorkerThreads:   getEnvInt("WORKER_THREADS", -1),
		MemCacheMB:      getEnvInt("MEM_CACHE_MB", 256),
		DiskCacheMB:     getEnvInt("DISK_CACHE_MB", 1024),
		DefaultTTLDays:  getEnvInt("DEFAULT_TTL_DAYS", 7),
		FetchTimeoutSec: getEnvInt("FETCH_TIMEOUT_SEC", 20),
		UserAgent:       getEnv("USER_AGENT", "tileview/1.0"),
		Decoder:         strings.ToLower(getEnv("DECODER", "go")),
		VipsMaxCacheMB:  getEnvInt("VIPS_MAX_CACHE_MB", 64),
		VipsConcurrency: getEnvInt("VIPS_CONCURRENCY", 1),
		WarmupLevels:    getEnvInt("WARMUP_LEVELS", 0),
		PollIntervalMS:  getEnvInt("POLL_INTERVAL_MS", 250),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		AllowedOrigin:   getEnv("ALLOWED_ORIGIN", ""),
		Metrics:         getEnvBool("METRICS", true),
	}

	return cfg
}

// Workers resolves WorkerThreads: negative means one per CPU, zero means a
// single worker.
func (c *Config) Workers() int {
	switch {
	case c.WorkerThreads < 0:
		return runtime.NumCPU()
	case c.WorkerThreads == 0:
		return 1
	default:
		return c.WorkerThreads
	}
}

func (c *Config) MemCap() uint64 {
	return uint64(max(c.MemCacheMB, 1)) << 20
}

func (c *Config) DiskCap() uint64 {
	return uint64(max(c.DiskCacheMB, 0)) << 20
}

func (c *Config) DefaultTTL() time.Duration {
	return time.Duration(max(c.DefaultTTLDays, 1)) * 24 * time.Hour
}

func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(max(c.FetchTimeoutSec, 1)) * time.Second
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(max(c.PollIntervalMS, 10)) * time.Millisecond
}

// TilesDir is where tile files and sidecars live.
func (c *Config) TilesDir() string {
	return filepath.Join(c.CacheDir, "tiles")
}

// StateFile is the persisted cache index.
func (c *Config) StateFile() string {
	return filepath.Join(c.CacheDir, "state")
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "tileview")
	}
	return filepath.Join(os.TempDir(), "tileview")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
