// Package metrics exposes tile cache and worker pool statistics to
// Prometheus. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"tileview/internal/tile"
)

const namespace = "tileview"

type Metrics struct {
	FetchTotal     *prometheus.CounterVec
	DiskHits       *prometheus.CounterVec
	FetchDuration  *prometheus.HistogramVec
	MemUsageBytes  prometheus.Gauge
	DiskUsageBytes prometheus.Gauge
	QueueLength    prometheus.Gauge
	Tiles          *prometheus.GaugeVec
	Evictions      *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FetchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "worker",
				Name:      "fetch_total",
				Help:      "Tile loads handled by the worker pool, by source and outcome",
			},
			[]string{"source", "outcome"},
		),
		DiskHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "worker",
				Name:      "disk_hits_total",
				Help:      "Tiles served from the disk cache without a network fetch",
			},
			[]string{"source"},
		),
		FetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "worker",
				Name:      "fetch_duration_seconds",
				Help:      "Time spent fetching and decoding one tile",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"source"},
		),
		MemUsageBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "memory_bytes",
			Help:      "Estimated memory held by decoded tile buffers",
		}),
		DiskUsageBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "disk_bytes",
			Help:      "Bytes of tile files tracked by the cache",
		}),
		QueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "pending",
			Help:      "Requests waiting for a worker",
		}),
		Tiles: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "tiles",
				Help:      "Cached tiles by state",
			},
			[]string{"state"},
		),
		Evictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "evictions_total",
				Help:      "Tiles evicted from memory or disk",
			},
			[]string{"kind"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.FetchTotal, m.DiskHits, m.FetchDuration, m.MemUsageBytes,
			m.DiskUsageBytes, m.QueueLength, m.Tiles, m.Evictions)
	}
	return m
}

func (m *Metrics) ObserveFetch(source string, err error, seconds float64) {
	if m == nil {
		return
	}
	m.FetchTotal.WithLabelValues(source, tile.Kind(err)).Inc()
	if err == nil {
		m.FetchDuration.WithLabelValues(source).Observe(seconds)
	}
}

func (m *Metrics) ObserveDiskHit(source string) {
	if m == nil {
		return
	}
	m.DiskHits.WithLabelValues(source).Inc()
}

func (m *Metrics) ObserveEviction(kind string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.Evictions.WithLabelValues(kind).Add(float64(n))
}

// SetUsage publishes a snapshot taken on the cache owner goroutine.
func (m *Metrics) SetUsage(memBytes, diskBytes uint64, queued int, byState map[tile.State]int) {
	if m == nil {
		return
	}
	m.MemUsageBytes.Set(float64(memBytes))
	m.DiskUsageBytes.Set(float64(diskBytes))
	m.QueueLength.Set(float64(queued))
	for _, s := range tile.States() {
		m.Tiles.WithLabelValues(s.String()).Set(float64(byState[s]))
	}
}
