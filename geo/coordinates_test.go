package geo

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoordinatesRoundTrip(t *testing.T) {
	cases := []Coordinates{
		NewCoordinates(WGS84, 9.73, 52.37, 55), // Hannover
		NewCoordinates(WGS84, -122.42, 37.77, 0),
		NewCoordinates(WGS84, 0, 0, -10),
	}
	for _, c := range cases {
		m, err := c.As(WebMercator, nil)
		require.NoError(t, err)
		assert.Equal(t, c.Z, m.Z, "Z carried through reprojection")

		back, err := m.As(WGS84, nil)
		require.NoError(t, err)

		relX := math.Abs(back.X-c.X) / math.Max(1, math.Abs(c.X))
		relY := math.Abs(back.Y-c.Y) / math.Max(1, math.Abs(c.Y))
		assert.Less(t, relX, 1e-6)
		assert.Less(t, relY, 1e-6)
	}
}

func TestCoordinatesSameCRSIsIdentity(t *testing.T) {
	c := NewCoordinates(WebMercator, 123, 456, 7)
	got, err := c.As(WebMercator, nil)
	require.NoError(t, err)
	assert.Equal(t, c, got)
}

func TestRegistryFlags(t *testing.T) {
	reg := NewRegistry()
	assert.True(t, reg.IsGeographic(WGS84))
	assert.False(t, reg.IsGeographic(WebMercator))
	assert.False(t, reg.IsGeocentric(WebMercator))
	assert.False(t, reg.IsKnown("EPSG:9999"))
}

func TestRegisterCustomCRS(t *testing.T) {
	reg := NewRegistry()

	err := reg.Register("", Definition{})
	assert.Error(t, err)

	err = reg.Register("TEST:1", Definition{})
	assert.Error(t, err, "missing transforms")

	// Offset CRS shifted 100 units east of WGS84 degrees.
	err = reg.Register("TEST:1", Definition{
		ToWGS84:   func(p orb.Point) orb.Point { return orb.Point{p[0] - 100, p[1]} },
		FromWGS84: func(p orb.Point) orb.Point { return orb.Point{p[0] + 100, p[1]} },
	})
	require.NoError(t, err)

	got, err := NewCoordinates(WGS84, 5, 10, 0).As("TEST:1", reg)
	require.NoError(t, err)
	assert.InDelta(t, 105, got.X, 1e-12)

	_, err = NewCoordinates("EPSG:404", 0, 0, 0).As(WGS84, reg)
	assert.Error(t, err)
}
