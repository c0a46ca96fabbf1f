package source

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/terrastream/geo"
	"github.com/MeKo-Tech/terrastream/render"
)

func fetchOne(t *testing.T, s Source, extent geo.Extent, w, h int) *Image {
	t.Helper()
	reqs := s.GetImages(extent, w, h)
	require.NotEmpty(t, reqs)
	img, err := reqs[0].Fetch(context.Background())
	require.NoError(t, err)
	return img
}

func TestNoiseDeterministicPerSeed(t *testing.T) {
	extent := geo.MustExtent(geo.WebMercator, 0, 1000, 0, 1000)
	a := NewNoise(NoiseConfig{Extent: extent, Seed: 42})
	b := NewNoise(NoiseConfig{Extent: extent, Seed: 42})
	c := NewNoise(NoiseConfig{Extent: extent, Seed: 7})

	imgA := fetchOne(t, a, extent, 16, 16)
	imgB := fetchOne(t, b, extent, 16, 16)
	imgC := fetchOne(t, c, extent, 16, 16)

	assert.Equal(t, imgA.Texture.Pixels, imgB.Texture.Pixels)
	assert.NotEqual(t, imgA.Texture.Pixels, imgC.Texture.Pixels)
}

func TestNoiseElevationModeProducesRGFloat(t *testing.T) {
	extent := geo.MustExtent(geo.WebMercator, 0, 1000, 0, 1000)
	n := NewNoise(NoiseConfig{
		Extent:   extent,
		Mode:     NoiseElevation,
		MinValue: 100,
		MaxValue: 200,
	})

	min, max, ok := n.MinMax()
	require.True(t, ok)
	assert.Equal(t, 100.0, min)
	assert.Equal(t, 200.0, max)

	img := fetchOne(t, n, extent, 8, 8)
	require.Equal(t, render.FormatRG, img.Texture.Format)
	require.Equal(t, render.TypeFloat32, img.Texture.Type)

	tmin, tmax, found := img.Texture.MinMax()
	require.True(t, found)
	assert.GreaterOrEqual(t, tmin, 100.0)
	assert.LessOrEqual(t, tmax, 200.0)
	assert.GreaterOrEqual(t, img.Min, 100.0)
	assert.LessOrEqual(t, img.Max, 200.0)
}

func TestNoiseClipsToOwnExtent(t *testing.T) {
	extent := geo.MustExtent(geo.WebMercator, 0, 100, 0, 100)
	n := NewNoise(NoiseConfig{Extent: extent})

	assert.Empty(t, n.GetImages(geo.MustExtent(geo.WebMercator, 500, 600, 0, 100), 8, 8))

	img := fetchOne(t, n, geo.MustExtent(geo.WebMercator, 50, 150, 0, 100), 8, 8)
	assert.InDelta(t, 100.0, img.Extent.East, 1e-9)
}

func TestStaticImageSynchronousPath(t *testing.T) {
	extent := geo.MustExtent(geo.WebMercator, 0, 10, 0, 10)
	src, err := NewStaticImage("bg", extent, testNRGBA(4, 4))
	require.NoError(t, err)
	assert.True(t, src.Synchronous())

	img := fetchOne(t, src, extent, 32, 32)
	assert.True(t, img.AlwaysVisible)
	assert.Equal(t, 4, img.Texture.Width)

	_, err = NewStaticImage("", extent, testNRGBA(1, 1))
	assert.Error(t, err)
}

func TestWebPSniffing(t *testing.T) {
	assert.True(t, isWebP([]byte("RIFF0000WEBPVP8 ")))
	assert.False(t, isWebP([]byte("\x89PNG\r\n\x1a\n00000000")))
	assert.False(t, isWebP([]byte("RI")))
}

func TestGzipSniffing(t *testing.T) {
	assert.False(t, isGzip([]byte{0x00, 0x01}))
	assert.True(t, isGzip([]byte{0x1f, 0x8b, 0x08}))
}
