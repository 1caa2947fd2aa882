package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistanceKm(t *testing.T) {
	t.Run("taipei 0.01 degree latitude", func(t *testing.T) {
		d := DistanceKm(25.0338, 121.5646, 25.0438, 121.5646)
		assert.InDelta(t, 1.11, d, 0.01)
	})

	t.Run("identical points", func(t *testing.T) {
		assert.Zero(t, DistanceKm(25.0338, 121.5646, 25.0338, 121.5646))
		assert.Zero(t, DistanceKm(-33.9, 18.4, -33.9, 18.4))
	})

	t.Run("symmetric", func(t *testing.T) {
		pairs := [][4]float64{
			{25.0338, 121.5646, 25.0438, 121.5646},
			{51.5074, -0.1278, 40.7128, -74.0060},
			{-33.8688, 151.2093, 35.6762, 139.6503},
			{0, 179.9, 0, -179.9},
			{89.9, 0, -89.9, 180},
		}
		for _, p := range pairs {
			assert.Equal(t, DistanceKm(p[0], p[1], p[2], p[3]), DistanceKm(p[2], p[3], p[0], p[1]))
		}
	})

	t.Run("london to new york", func(t *testing.T) {
		assert.InDelta(t, 5570, DistanceKm(51.5074, -0.1278, 40.7128, -74.0060), 10)
	})

	t.Run("antimeridian", func(t *testing.T) {
		assert.InDelta(t, 22.24, DistanceKm(0, 179.9, 0, -179.9), 0.05)
	})
}

type pin struct {
	name     string
	lat, lon float64
}

func (p pin) Location() (float64, float64) { return p.lat, p.lon }

func TestInRadius(t *testing.T) {
	pins := []pin{
		{"center", 25.0338, 121.5646},
		{"north", 25.0438, 121.5646},
		{"far", 25.2, 121.5646},
	}

	got := InRadius(pins, 25.0338, 121.5646, 2)
	assert.Equal(t, []pin{pins[0], pins[1]}, got)

	assert.Empty(t, InRadius(pins, 0, 0, 10))
	assert.Len(t, InRadius(pins, 25.0338, 121.5646, 0), 1)
}

func TestDevicesInRadiusInclusive(t *testing.T) {
	devices := []Device{
		{ID: "a", Position: Position{Lat: 25.0338, Lon: 121.5646}},
		{ID: "b", Position: Position{Lat: 25.0438, Lon: 121.5646}},
	}
	edge := DistanceKm(25.0338, 121.5646, 25.0438, 121.5646)

	got := DevicesInRadius(devices, 25.0338, 121.5646, edge)
	if assert.Len(t, got, 2) {
		assert.Equal(t, "a", got[0].ID)
		assert.Equal(t, "b", got[1].ID)
	}
}
