package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xoelrdgz/logsift/internal/domain"
)

func TestMapMarkers(t *testing.T) {
	geo := StaticGeo{
		"8.8.8.8":      {Status: "success", City: "Mountain View", Country: "US", Lat: 37.4, Lon: -122.1, ISP: "Google"},
		"1.1.1.1":      {Status: "success", City: "Sydney", Country: "AU"},
		"192.168.1.10": {Status: "fail"},
	}
	counts := domain.FrequencyTable{
		"1.1.1.1":      5,
		"8.8.8.8":      9,
		"192.168.1.10": 50,
		"10.0.0.1":     2,
	}

	markers, misses := MapMarkers(counts, geo)
	require.Len(t, markers, 2)
	assert.Equal(t, 1, misses)

	assert.Equal(t, 1, markers[0].ID)
	assert.Equal(t, "8.8.8.8", markers[0].IP)
	assert.Equal(t, 9, markers[0].RequestCount)
	assert.Equal(t, "Google", markers[0].ISP)
	assert.Equal(t, 2, markers[1].ID)
	assert.Equal(t, "1.1.1.1", markers[1].IP)
}

func TestMapMarkers_NilGeo(t *testing.T) {
	markers, misses := MapMarkers(domain.FrequencyTable{"8.8.8.8": 1}, nil)
	assert.Empty(t, markers)
	assert.Zero(t, misses)
}
