package terrain

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/MeKo-Tech/terrastream/geo"
)

func TestSelectBestSubdivisions(t *testing.T) {
	cases := []struct {
		name         string
		w, h         float64
		wantX, wantY int
	}{
		{"square", 100, 100, 1, 1},
		{"wide 3.4", 340, 100, 3, 1},
		{"tall 3.4", 100, 340, 1, 3},
		{"ratio 10", 1000, 100, 10, 1},
		{"ratio 50 clamped", 5000, 100, 10, 1},
		{"slightly wide", 130, 100, 1, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := geo.MustExtent(geo.WebMercator, 0, tc.w, 0, tc.h)
			got := SelectBestSubdivisions(e)
			assert.Equal(t, Subdivisions{X: tc.wantX, Y: tc.wantY}, got)
			assert.LessOrEqual(t, got.X*got.Y, MaxAspectRatio)
		})
	}
}

func TestSelectImageSize(t *testing.T) {
	// Square tiles: base on both axes.
	sq := geo.MustExtent(geo.WebMercator, 0, 100, 0, 100)
	assert.Equal(t, ImageSize{X: 256, Y: 256}, SelectImageSize(sq, Subdivisions{1, 1}, 256))

	// A 2:1 extent with a single root: the long axis carries double.
	wide := geo.MustExtent(geo.WebMercator, 0, 200, 0, 100)
	got := SelectImageSize(wide, Subdivisions{1, 1}, 256)
	assert.Equal(t, 512, got.X)
	assert.Equal(t, 256, got.Y)

	// Subdividing 2x1 restores square tiles.
	got = SelectImageSize(wide, Subdivisions{2, 1}, 256)
	assert.Equal(t, ImageSize{X: 256, Y: 256}, got)
}
