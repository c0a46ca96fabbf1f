package features

import (
	"context"
	"fmt"
	"net/http"

	"github.com/paulmach/orb"

	overpass "github.com/MeKo-Christian/go-overpass"

	"github.com/MeKo-Tech/terrastream/geo"
)

// OverpassConfig configures the Overpass vector source.
type OverpassConfig struct {
	// Endpoint is the Overpass API URL; empty uses the public instance.
	Endpoint string
	// Workers bounds parallel requests; keep low on the public API.
	Workers int
	// Query is the Overpass QL selector injected per element kind, e.g.
	// `way["building"]`; empty fetches all ways.
	Query string
	// HTTPClient overrides the transport.
	HTTPClient *http.Client
}

// OverpassSource adapts the Overpass API to the VectorSource contract:
// each tile extent becomes one bbox query whose ways and multipolygon
// relations map to features.
type OverpassSource struct {
	client overpass.Client
	query  string
}

// NewOverpassSource creates the adapter.
func NewOverpassSource(cfg OverpassConfig) *OverpassSource {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://overpass-api.de/api/interpreter"
	}
	if cfg.Workers < 1 {
		cfg.Workers = 2
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	retry := overpass.DefaultRetryConfig()
	return &OverpassSource{
		client: overpass.NewWithRetry(cfg.Endpoint, cfg.Workers, cfg.HTTPClient, retry),
		query:  cfg.Query,
	}
}

// Load implements VectorSource. The extent is reprojected to WGS84 for the
// bbox clause; returned geometries are WGS84 lon/lat whatever crs is, and
// neither this source nor the collection reprojects them.
func (s *OverpassSource) Load(ctx context.Context, extent geo.Extent, resolution float64, crs string) ([]*Feature, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	wgs := extent
	if extent.CRS != geo.WGS84 {
		var err error
		wgs, err = extent.As(geo.WGS84, nil)
		if err != nil {
			return nil, fmt.Errorf("features: overpass bbox reprojection: %w", err)
		}
	}

	selector := s.query
	if selector == "" {
		selector = "way"
	}
	// Complete unclipped geometry ("out geom qt"): clipping server-side is
	// known to produce malformed polygons for partially included ways.
	q := fmt.Sprintf("[out:json];%s(%f,%f,%f,%f);out geom qt;",
		selector, wgs.South, wgs.West, wgs.North, wgs.East)

	result, err := s.client.Query(q)
	if err != nil {
		return nil, fmt.Errorf("features: overpass query: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return FeaturesFromOverpass(&result), nil
}

// FeaturesFromOverpass converts an Overpass result into the engine feature
// model: ways become line strings or polygons, multipolygon relations
// become polygons with holes.
func FeaturesFromOverpass(result *overpass.Result) []*Feature {
	if result == nil {
		return nil
	}
	var out []*Feature

	// Ways referenced by multipolygon relations are assembled there, not
	// emitted standalone.
	memberWays := make(map[int64]bool)
	for _, rel := range result.Relations {
		if rel.Tags["type"] != "multipolygon" {
			continue
		}
		for _, m := range rel.Members {
			if m.Type == "way" && m.Way != nil {
				memberWays[m.Way.ID] = true
			}
		}
	}

	for _, way := range result.Ways {
		if memberWays[way.ID] {
			continue
		}
		if f := overpassWayToFeature(way); f != nil {
			out = append(out, f)
		}
	}
	for _, rel := range result.Relations {
		if rel.Tags["type"] != "multipolygon" {
			continue
		}
		if f := overpassMultipolygonToFeature(rel); f != nil {
			out = append(out, f)
		}
	}
	return out
}

func overpassWayToFeature(way *overpass.Way) *Feature {
	if way == nil || len(way.Geometry) == 0 {
		return nil
	}
	line := make(orb.LineString, len(way.Geometry))
	for i, p := range way.Geometry {
		line[i] = orb.Point{p.Lon, p.Lat}
	}
	f := &Feature{Properties: overpassTags(way.Tags)}
	f.Properties["osm_id"] = fmt.Sprintf("way/%d", way.ID)

	if len(line) > 2 && line[0] == line[len(line)-1] {
		f.Geometry = orb.Polygon{orb.Ring(line)}
	} else {
		f.Geometry = line
	}
	return f
}

func overpassMultipolygonToFeature(rel *overpass.Relation) *Feature {
	if rel == nil {
		return nil
	}
	var outers, inners []orb.Ring
	for _, m := range rel.Members {
		if m.Type != "way" || m.Way == nil || len(m.Way.Geometry) == 0 {
			continue
		}
		ring := make(orb.Ring, len(m.Way.Geometry))
		for i, p := range m.Way.Geometry {
			ring[i] = orb.Point{p.Lon, p.Lat}
		}
		if m.Role == "inner" {
			inners = append(inners, ring)
		} else {
			outers = append(outers, ring)
		}
	}
	if len(outers) == 0 {
		return nil
	}
	f := &Feature{Properties: overpassTags(rel.Tags)}
	f.Properties["osm_id"] = fmt.Sprintf("relation/%d", rel.ID)

	if len(outers) == 1 {
		poly := orb.Polygon{outers[0]}
		poly = append(poly, inners...)
		f.Geometry = poly
		return f
	}
	// Several outer rings: one polygon per outer, holes attached to the
	// outer whose bound contains them.
	mp := make(orb.MultiPolygon, 0, len(outers))
	for _, outer := range outers {
		poly := orb.Polygon{outer}
		ob := outer.Bound()
		for _, inner := range inners {
			if ob.Contains(inner.Bound().Center()) {
				poly = append(poly, inner)
			}
		}
		mp = append(mp, poly)
	}
	f.Geometry = mp
	return f
}

func overpassTags(tags map[string]string) map[string]any {
	out := make(map[string]any, len(tags))
	for k, v := range tags {
		out[k] = v
	}
	return out
}
