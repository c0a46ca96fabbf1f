package source

import (
	"bytes"
	"compress/gzip"
	"context"
	"database/sql"
	"image/png"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/terrastream/geo"
)

func writeTestMBTiles(t *testing.T, meta map[string]string, tiles map[[3]int][]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.mbtiles")

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec("CREATE TABLE metadata (name TEXT, value TEXT)")
	require.NoError(t, err)
	_, err = db.Exec("CREATE TABLE tiles (zoom_level INTEGER, tile_column INTEGER, tile_row INTEGER, tile_data BLOB)")
	require.NoError(t, err)

	for k, v := range meta {
		_, err = db.Exec("INSERT INTO metadata VALUES (?, ?)", k, v)
		require.NoError(t, err)
	}
	for coord, data := range tiles {
		_, err = db.Exec("INSERT INTO tiles VALUES (?, ?, ?, ?)", coord[0], coord[1], coord[2], data)
		require.NoError(t, err)
	}
	return path
}

func pngTile(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testNRGBA(4, 4)))
	return buf.Bytes()
}

func TestMBTilesReadTileFlipsYAndParsesMetadata(t *testing.T) {
	tile := pngTile(t)
	// XYZ (1, 0, 0) is TMS row 1 at zoom 1.
	path := writeTestMBTiles(t,
		map[string]string{
			"name":    "test set",
			"format":  "png",
			"minzoom": "1",
			"maxzoom": "3",
			"bounds":  "-10.5,-20.25,10.5,20.25",
		},
		map[[3]int][]byte{{1, 0, 1}: tile},
	)

	src := NewMBTiles(MBTilesConfig{Path: path})
	require.NoError(t, src.Initialize(context.Background()))
	defer src.Close()

	meta := src.Metadata()
	assert.Equal(t, "test set", meta.Name)
	assert.Equal(t, 1, meta.MinZoom)
	assert.Equal(t, 3, meta.MaxZoom)
	assert.Equal(t, -10.5, meta.Bounds[0])
	assert.Equal(t, 20.25, meta.Bounds[3])

	data, err := src.ReadTile(context.Background(), 1, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, tile, data)

	_, err = src.ReadTile(context.Background(), 1, 1, 1)
	assert.ErrorIs(t, err, ErrTileNotFound)
}

func TestMBTilesDecompressesGzipTiles(t *testing.T) {
	tile := pngTile(t)
	var gz bytes.Buffer
	w := gzip.NewWriter(&gz)
	_, err := w.Write(tile)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	path := writeTestMBTiles(t,
		map[string]string{"format": "png"},
		map[[3]int][]byte{{0, 0, 0}: gz.Bytes()},
	)

	src := NewMBTiles(MBTilesConfig{Path: path})
	require.NoError(t, src.Initialize(context.Background()))
	defer src.Close()

	data, err := src.ReadTile(context.Background(), 0, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, tile, data)
}

func TestMBTilesRejectsVectorTilesets(t *testing.T) {
	path := writeTestMBTiles(t, map[string]string{"format": "pbf"}, nil)
	src := NewMBTiles(MBTilesConfig{Path: path})
	assert.Error(t, src.Initialize(context.Background()))
}

func TestMBTilesRejectsMissingTilesTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.mbtiles")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec("CREATE TABLE metadata (name TEXT, value TEXT)")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	src := NewMBTiles(MBTilesConfig{Path: path})
	assert.Error(t, src.Initialize(context.Background()))
}

func TestMBTilesGetImagesCoverExtent(t *testing.T) {
	tile := pngTile(t)
	tiles := make(map[[3]int][]byte)
	// Full zoom-1 grid in TMS rows.
	for x := 0; x < 2; x++ {
		for y := 0; y < 2; y++ {
			tiles[[3]int{1, x, y}] = tile
		}
	}
	path := writeTestMBTiles(t,
		map[string]string{"format": "png", "minzoom": "1", "maxzoom": "1"},
		tiles,
	)

	src := NewMBTiles(MBTilesConfig{Path: path})
	require.NoError(t, src.Initialize(context.Background()))
	defer src.Close()

	world := MercatorExtent()
	reqs := src.GetImages(world, 512, 512)
	require.Len(t, reqs, 4, "zoom 1 covers the world with 4 tiles")

	img, err := reqs[0].Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, img.Texture.Width)
	assert.Equal(t, geo.WebMercator, img.Extent.CRS)
}
