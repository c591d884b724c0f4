package storage

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xoelrdgz/logsift/internal/domain"
)

const sampleGeoCache = `{
  "8.8.8.8": {"status": "success", "country": "United States", "regionName": "California",
              "city": "Mountain View", "lat": 37.4056, "lon": -122.0775, "isp": "Google LLC"},
  "192.168.1.10": {"status": "fail", "message": "private range", "query": "192.168.1.10"},
  "45.33.32.156": {"status": "success", "country": "United States", "city": "Fremont",
                   "lat": 37.5625, "lon": -122.0004, "isp": "Linode"}
}`

func openTestGeoCache(t *testing.T) *GeoCache {
	t.Helper()
	cfg := DefaultGeoCacheConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "geo.db")
	cfg.HotCacheSize = 2
	c, err := OpenGeoCache(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestGeoCache_ImportAndLookup(t *testing.T) {
	c := openTestGeoCache(t)

	n, err := c.Import(context.Background(), strings.NewReader(sampleGeoCache))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, c.Len())

	loc, ok := c.Lookup("8.8.8.8")
	require.True(t, ok)
	assert.True(t, loc.Resolved())
	assert.Equal(t, "Mountain View", loc.City)
	assert.Equal(t, "California", loc.Region)
	assert.InDelta(t, -122.0775, loc.Lon, 1e-9)

	loc, ok = c.Lookup("192.168.1.10")
	require.True(t, ok)
	assert.False(t, loc.Resolved())

	_, ok = c.Lookup("1.1.1.1")
	assert.False(t, ok)
}

func TestGeoCache_HotCache(t *testing.T) {
	c := openTestGeoCache(t)
	require.NoError(t, c.Put("8.8.8.8", domain.GeoLocation{Status: "success", City: "A"}))

	_, ok := c.Lookup("8.8.8.8")
	require.True(t, ok)
	_, ok = c.Lookup("8.8.8.8")
	require.True(t, ok)

	stats := c.HotStats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)

	require.NoError(t, c.Put("8.8.8.8", domain.GeoLocation{Status: "success", City: "B"}))
	loc, _ := c.Lookup("8.8.8.8")
	assert.Equal(t, "B", loc.City)
	assert.Equal(t, 1, c.Len())
}

func TestGeoCache_Snapshot(t *testing.T) {
	c := openTestGeoCache(t)
	_, err := c.Import(context.Background(), strings.NewReader(sampleGeoCache))
	require.NoError(t, err)

	snap, err := c.Snapshot()
	require.NoError(t, err)
	assert.Len(t, snap, 3)
	assert.Equal(t, "Fremont", snap["45.33.32.156"].City)
}

func TestGeoCache_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "geo.db")

	c, err := OpenGeoCache(GeoCacheConfig{DBPath: path})
	require.NoError(t, err)
	_, err = c.Import(context.Background(), strings.NewReader(sampleGeoCache))
	require.NoError(t, err)
	require.NoError(t, c.Close())

	ro, err := OpenGeoCache(GeoCacheConfig{DBPath: path, ReadOnly: true})
	require.NoError(t, err)
	defer ro.Close()

	assert.Equal(t, 3, ro.Len())
	_, ok := ro.Lookup("8.8.8.8")
	assert.True(t, ok)
}

func TestGeoCache_Errors(t *testing.T) {
	_, err := OpenGeoCache(GeoCacheConfig{DBPath: filepath.Join(t.TempDir(), "missing.db"), ReadOnly: true})
	assert.ErrorIs(t, err, ErrGeoCacheUnavailable)

	c := openTestGeoCache(t)
	_, err = c.Import(context.Background(), strings.NewReader("[1,2,3]"))
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Import(ctx, strings.NewReader(sampleGeoCache))
	assert.ErrorIs(t, err, context.Canceled)
}
