package geo

import "math"

const earthRadiusKm = 6371.0

// Position is a WGS84 coordinate. Alt is optional for devices.
type Position struct {
	Lat float64  `json:"lat"`
	Lon float64  `json:"lon"`
	Alt *float64 `json:"alt,omitempty"`
}

// Locatable is anything that can be placed on the map.
type Locatable interface {
	Location() (lat, lon float64)
}

// DistanceKm returns the great-circle distance between two points using the
// haversine formula on a spherical earth.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

// InRadius keeps the items whose distance to the center is <= radiusKm.
// Input order is preserved.
func InRadius[T Locatable](items []T, centerLat, centerLon, radiusKm float64) []T {
	out := make([]T, 0, len(items))
	for _, it := range items {
		lat, lon := it.Location()
		if DistanceKm(centerLat, centerLon, lat, lon) <= radiusKm {
			out = append(out, it)
		}
	}
	return out
}

// DevicesInRadius is InRadius specialised for devices.
func DevicesInRadius(devices []Device, centerLat, centerLon, radiusKm float64) []Device {
	return InRadius(devices, centerLat, centerLon, radiusKm)
}
