package source

import (
	"bytes"
	"compress/gzip"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/MeKo-Tech/terrastream/geo"
)

// ErrTileNotFound is returned for coordinates absent from an MBTiles
// database; the pipeline treats it as an empty (transparent) tile.
var ErrTileNotFound = errors.New("source: tile not found")

// MBTilesMetadata mirrors the metadata table of an MBTiles database.
type MBTilesMetadata struct {
	Name        string
	Format      string
	Attribution string
	Description string
	Bounds      [4]float64 // minLon, minLat, maxLon, maxLat (WGS84)
	Center      [3]float64 // lon, lat, zoom
	MinZoom     int
	MaxZoom     int
}

// MBTilesConfig configures an MBTiles source.
type MBTilesConfig struct {
	// Path is the database file. Required.
	Path string
	// TileSize is the pixel size of stored tiles; zero means 256.
	TileSize int
}

// MBTiles serves raster tiles from an MBTiles (sqlite) database. Tiles are
// stored in TMS row order and addressed by the engine in XYZ; the source
// flips internally.
type MBTiles struct {
	cfg  MBTilesConfig
	db   *sql.DB
	meta MBTilesMetadata

	extent geo.Extent
	once   sync.Once
	initE  error
}

// NewMBTiles creates the source; the database is opened by Initialize.
func NewMBTiles(cfg MBTilesConfig) *MBTiles {
	if cfg.TileSize <= 0 {
		cfg.TileSize = 256
	}
	return &MBTiles{cfg: cfg}
}

// Initialize opens the database read-only, verifies the schema, and derives
// the source extent from the metadata bounds.
func (m *MBTiles) Initialize(ctx context.Context) error {
	m.once.Do(func() { m.initE = m.open(ctx) })
	return m.initE
}

func (m *MBTiles) open(ctx context.Context) error {
	db, err := sql.Open("sqlite", m.cfg.Path+"?mode=ro&immutable=1")
	if err != nil {
		return fmt.Errorf("source: open mbtiles: %w", err)
	}

	var count int
	err = db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='tiles'").Scan(&count)
	if err != nil {
		db.Close()
		return fmt.Errorf("source: verify mbtiles schema: %w", err)
	}
	if count == 0 {
		db.Close()
		return fmt.Errorf("source: %s has no tiles table", m.cfg.Path)
	}

	meta, err := readMBTilesMetadata(ctx, db)
	if err != nil {
		db.Close()
		return err
	}
	if strings.EqualFold(meta.Format, "pbf") {
		db.Close()
		return fmt.Errorf("source: %s stores vector tiles, not raster", m.cfg.Path)
	}

	m.db = db
	m.meta = meta

	m.extent = MercatorExtent()
	if meta.Bounds != [4]float64{} {
		wgs := geo.Extent{
			CRS:   geo.WGS84,
			West:  meta.Bounds[0],
			South: meta.Bounds[1],
			East:  meta.Bounds[2],
			North: meta.Bounds[3],
		}
		if merc, err := wgs.As(geo.WebMercator, nil); err == nil {
			m.extent = merc
		}
	}
	return nil
}

// Metadata returns the parsed metadata table. Valid after Initialize.
func (m *MBTiles) Metadata() MBTilesMetadata { return m.meta }

func (m *MBTiles) ID() string         { return "mbtiles:" + m.cfg.Path }
func (m *MBTiles) CRS() string        { return geo.WebMercator }
func (m *MBTiles) Extent() geo.Extent { return m.extent }
func (m *MBTiles) Synchronous() bool  { return false }

// GetImages covers extent with stored tiles at the zoom matching the
// requested resolution.
func (m *MBTiles) GetImages(extent geo.Extent, width, height int) []Request {
	if width <= 0 || m.db == nil {
		return nil
	}
	res := extent.Width() / float64(width)
	zoom := ZoomForResolution(res, m.cfg.TileSize, m.meta.MinZoom, m.meta.MaxZoom)

	var out []Request
	for _, coord := range TilesCovering(extent, zoom) {
		coord := coord
		if !coord.Extent().Intersects(m.extent) {
			continue
		}
		out = append(out, Request{
			ID: m.ID() + "/" + coord.String(),
			Fetch: func(ctx context.Context) (*Image, error) {
				return m.fetchTile(ctx, coord)
			},
		})
	}
	return out
}

func (m *MBTiles) fetchTile(ctx context.Context, coord TileCoord) (*Image, error) {
	data, err := m.ReadTile(ctx, int(coord.Z), int(coord.X), int(coord.Y))
	if err != nil {
		return nil, err
	}
	tex, err := DecodeTexture(data)
	if err != nil {
		return nil, err
	}
	return &Image{
		ID:      m.ID() + "/" + coord.String(),
		Extent:  coord.Extent(),
		Texture: tex,
	}, nil
}

// ReadTile reads raw tile bytes by XYZ coordinates, decompressing gzip
// payloads.
func (m *MBTiles) ReadTile(ctx context.Context, z, x, y int) ([]byte, error) {
	tmsY := (1 << z) - 1 - y

	var data []byte
	err := m.db.QueryRowContext(ctx,
		"SELECT tile_data FROM tiles WHERE zoom_level=? AND tile_column=? AND tile_row=?",
		z, x, tmsY,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d/%d/%d", ErrTileNotFound, z, x, y)
	}
	if err != nil {
		return nil, fmt.Errorf("source: query tile: %w", err)
	}

	if isGzip(data) {
		return gunzip(data)
	}
	return data, nil
}

// Close closes the database.
func (m *MBTiles) Close() error {
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}

func readMBTilesMetadata(ctx context.Context, db *sql.DB) (MBTilesMetadata, error) {
	rows, err := db.QueryContext(ctx, "SELECT name, value FROM metadata")
	if err != nil {
		return MBTilesMetadata{}, fmt.Errorf("source: query metadata: %w", err)
	}
	defer rows.Close()

	kv := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return MBTilesMetadata{}, fmt.Errorf("source: scan metadata: %w", err)
		}
		kv[name] = value
	}
	if err := rows.Err(); err != nil {
		return MBTilesMetadata{}, fmt.Errorf("source: iterate metadata: %w", err)
	}

	meta := MBTilesMetadata{
		Name:        kv["name"],
		Format:      kv["format"],
		Attribution: kv["attribution"],
		Description: kv["description"],
		MaxZoom:     22,
	}
	if v, ok := kv["minzoom"]; ok {
		if i, err := strconv.Atoi(v); err == nil {
			meta.MinZoom = i
		}
	}
	if v, ok := kv["maxzoom"]; ok {
		if i, err := strconv.Atoi(v); err == nil {
			meta.MaxZoom = i
		}
	}
	if v, ok := kv["bounds"]; ok {
		parts := strings.Split(v, ",")
		if len(parts) == 4 {
			for i, part := range parts {
				if f, err := strconv.ParseFloat(strings.TrimSpace(part), 64); err == nil {
					meta.Bounds[i] = f
				}
			}
		}
	}
	if v, ok := kv["center"]; ok {
		parts := strings.Split(v, ",")
		if len(parts) == 3 {
			for i, part := range parts {
				if f, err := strconv.ParseFloat(strings.TrimSpace(part), 64); err == nil {
					meta.Center[i] = f
				}
			}
		}
	}
	return meta, nil
}

func isGzip(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
}

func gunzip(data []byte) ([]byte, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("source: gunzip tile: %w", err)
	}
	defer gr.Close()
	out, err := io.ReadAll(gr)
	if err != nil {
		return nil, fmt.Errorf("source: gunzip tile: %w", err)
	}
	return out, nil
}
