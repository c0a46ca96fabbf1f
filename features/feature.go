// Package features implements the vector pipeline: a FeatureCollection
// entity tiles an external vector source into a 2D pyramid, deduplicates
// features across tiles, and materializes their geometries as GPU meshes
// through the GeometryConverter.
package features

import (
	"context"

	"github.com/paulmach/orb"

	"github.com/MeKo-Tech/terrastream/geo"
)

// Feature is one vector feature: a geometry plus its properties. IDs are
// assigned by the pipeline through a reserved property so sources with slow
// or absent native ids stay cheap.
type Feature struct {
	Geometry   orb.Geometry
	Properties map[string]any
}

// idProperty is the reserved property carrying the synthetic stable id.
const idProperty = "_ts_fid"

// ID returns the feature's synthetic id, empty before assignment.
func (f *Feature) ID() string {
	if f.Properties == nil {
		return ""
	}
	id, _ := f.Properties[idProperty].(string)
	return id
}

func (f *Feature) setID(id string) {
	if f.Properties == nil {
		f.Properties = make(map[string]any, 1)
	}
	f.Properties[idProperty] = id
}

// Get returns a property value.
func (f *Feature) Get(key string) (any, bool) {
	v, ok := f.Properties[key]
	return v, ok
}

// VectorSource loads the features intersecting an extent at a resolution.
// The extent is expressed in crs (the collection's data projection);
// implementations reproject internally as needed. Cancellation flows
// through ctx.
type VectorSource interface {
	Load(ctx context.Context, extent geo.Extent, resolution float64, crs string) ([]*Feature, error)
}

// VectorSourceFunc adapts a function to VectorSource.
type VectorSourceFunc func(ctx context.Context, extent geo.Extent, resolution float64, crs string) ([]*Feature, error)

// Load implements VectorSource.
func (fn VectorSourceFunc) Load(ctx context.Context, extent geo.Extent, resolution float64, crs string) ([]*Feature, error) {
	return fn(ctx, extent, resolution, crs)
}
