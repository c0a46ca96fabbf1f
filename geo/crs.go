// Package geo provides the geographic primitives of the engine: coordinate
// reference systems, coordinates, and axis-aligned extents.
//
// Projection math for the built-in systems comes from paulmach/orb/project;
// additional systems are registered with explicit forward/inverse transforms
// to and from WGS84.
package geo

import (
	"fmt"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// Well-known CRS codes registered by default.
const (
	WGS84       = "EPSG:4326" // geographic lon/lat degrees
	WebMercator = "EPSG:3857" // projected meters
	CRS84       = "CRS:84"    // alias of EPSG:4326 with lon/lat axis order
)

// Definition describes a coordinate reference system: whether it is
// geographic (angular units) or geocentric, and its transforms to and from
// WGS84 lon/lat. Transforms operate on the horizontal components only.
type Definition struct {
	Geographic bool
	Geocentric bool
	ToWGS84    func(orb.Point) orb.Point
	FromWGS84  func(orb.Point) orb.Point
}

// Registry maps CRS codes to definitions. The zero value is not usable; use
// NewRegistry.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

// NewRegistry creates a registry pre-populated with EPSG:4326, CRS:84 and
// EPSG:3857.
func NewRegistry() *Registry {
	identity := func(p orb.Point) orb.Point { return p }
	r := &Registry{defs: map[string]Definition{
		WGS84: {Geographic: true, ToWGS84: identity, FromWGS84: identity},
		CRS84: {Geographic: true, ToWGS84: identity, FromWGS84: identity},
		WebMercator: {
			ToWGS84:   project.Mercator.ToWGS84,
			FromWGS84: project.WGS84.ToMercator,
		},
	}}
	return r
}

var defaultRegistry = NewRegistry()

// DefaultRegistry returns the process-wide registry used when no explicit
// registry is supplied.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// Register adds or replaces a CRS definition. A definition without both
// transforms is rejected unless the CRS is geocentric.
func (r *Registry) Register(code string, def Definition) error {
	if code == "" {
		return fmt.Errorf("geo: empty CRS code")
	}
	if !def.Geocentric && (def.ToWGS84 == nil || def.FromWGS84 == nil) {
		return fmt.Errorf("geo: CRS %q needs both transforms", code)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[code] = def
	return nil
}

// IsKnown reports whether code is registered.
func (r *Registry) IsKnown(code string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.defs[code]
	return ok
}

// IsGeographic reports whether code denotes a geographic (angular) CRS.
func (r *Registry) IsGeographic(code string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defs[code].Geographic
}

// IsGeocentric reports whether code denotes a geocentric CRS.
func (r *Registry) IsGeocentric(code string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defs[code].Geocentric
}

// Project transforms a point between two registered systems, pivoting
// through WGS84.
func (r *Registry) Project(p orb.Point, from, to string) (orb.Point, error) {
	if from == to {
		return p, nil
	}
	r.mu.RLock()
	src, okSrc := r.defs[from]
	dst, okDst := r.defs[to]
	r.mu.RUnlock()
	if !okSrc {
		return orb.Point{}, fmt.Errorf("geo: unknown CRS %q", from)
	}
	if !okDst {
		return orb.Point{}, fmt.Errorf("geo: unknown CRS %q", to)
	}
	if src.ToWGS84 == nil || dst.FromWGS84 == nil {
		return orb.Point{}, fmt.Errorf("geo: no transform path from %q to %q", from, to)
	}
	return dst.FromWGS84(src.ToWGS84(p)), nil
}
