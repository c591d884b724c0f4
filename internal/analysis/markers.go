package analysis

import (
	"github.com/xoelrdgz/logsift/internal/domain"
	"github.com/xoelrdgz/logsift/internal/ports"
)

// StaticGeo is an in-memory GeoLookup.
type StaticGeo map[string]domain.GeoLocation

func (g StaticGeo) Lookup(ip string) (domain.GeoLocation, bool) {
	loc, ok := g[ip]
	return loc, ok
}

// MapMarkers builds one marker per address whose cache entry resolved
// successfully, ordered by request count descending, then address. IDs are
// assigned from 1 in that order.
//
// Returns:
//   - markers
//   - misses: addresses with no cache entry at all
func MapMarkers(ipCounts domain.FrequencyTable, geo ports.GeoLookup) (markers []domain.MapMarker, misses int) {
	markers = []domain.MapMarker{}
	if geo == nil {
		return markers, 0
	}

	for _, entry := range ipCounts.Top(0) {
		loc, ok := geo.Lookup(entry.Key)
		if !ok {
			misses++
			continue
		}
		if !loc.Resolved() {
			continue
		}
		markers = append(markers, domain.MapMarker{
			IP:           entry.Key,
			Lat:          loc.Lat,
			Lon:          loc.Lon,
			City:         loc.City,
			Country:      loc.Country,
			ISP:          loc.ISP,
			RequestCount: entry.Count,
		})
	}

	for i := range markers {
		markers[i].ID = i + 1
	}
	return markers, misses
}
