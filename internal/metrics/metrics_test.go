package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"tileview/internal/tile"
)

func TestMetrics(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveFetch("osm", nil, 0.2)
	m.ObserveFetch("osm", &tile.HTTPStatusError{URL: "u", Status: 500}, 0.1)
	m.ObserveFetch("osm", &tile.HTTPStatusError{URL: "u", Status: 404}, 0.1)
	m.ObserveDiskHit("osm")
	m.ObserveEviction("memory", 3)
	m.ObserveEviction("disk", 0)
	m.SetUsage(1024, 2048, 5, map[tile.State]int{tile.Ready: 2, tile.Pending: 1})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.FetchTotal.WithLabelValues("osm", "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.FetchTotal.WithLabelValues("osm", "http_status")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DiskHits.WithLabelValues("osm")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Evictions.WithLabelValues("memory")))
	assert.Equal(t, 1024.0, testutil.ToFloat64(m.MemUsageBytes))
	assert.Equal(t, 2048.0, testutil.ToFloat64(m.DiskUsageBytes))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.QueueLength))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Tiles.WithLabelValues("ready")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Tiles.WithLabelValues("error")))
}

func TestNilMetrics(t *testing.T) {
	t.Parallel()
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveFetch("osm", errors.New("x"), 1)
		m.ObserveDiskHit("osm")
		m.ObserveEviction("disk", 1)
		m.SetUsage(1, 2, 3, nil)
	})
}
