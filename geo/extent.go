package geo

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"

	"github.com/MeKo-Tech/terrastream/math3"
)

// Extent is an axis-aligned rectangle in a specific CRS.
// Invariant: West <= East and South <= North.
type Extent struct {
	CRS                      string
	West, East, South, North float64
}

// NewExtent creates an extent, rejecting inverted bounds.
func NewExtent(crs string, west, east, south, north float64) (Extent, error) {
	if west > east || south > north {
		return Extent{}, fmt.Errorf("geo: inverted extent [%g..%g, %g..%g]", west, east, south, north)
	}
	return Extent{CRS: crs, West: west, East: east, South: south, North: north}, nil
}

// MustExtent is NewExtent panicking on error, for literals in tests and
// setup code.
func MustExtent(crs string, west, east, south, north float64) Extent {
	e, err := NewExtent(crs, west, east, south, north)
	if err != nil {
		panic(err)
	}
	return e
}

// ExtentFromBound converts an orb.Bound.
func ExtentFromBound(crs string, b orb.Bound) Extent {
	return Extent{CRS: crs, West: b.Min[0], East: b.Max[0], South: b.Min[1], North: b.Max[1]}
}

// Bound returns the extent as an orb.Bound.
func (e Extent) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{e.West, e.South}, Max: orb.Point{e.East, e.North}}
}

// Width returns East - West.
func (e Extent) Width() float64 { return e.East - e.West }

// Height returns North - South.
func (e Extent) Height() float64 { return e.North - e.South }

// Dimensions returns (Width, Height).
func (e Extent) Dimensions() math3.Vector2 {
	return math3.Vec2(e.Width(), e.Height())
}

// Center returns the extent center in the extent's CRS.
func (e Extent) Center() Coordinates {
	return Coordinates{CRS: e.CRS, X: (e.West + e.East) / 2, Y: (e.South + e.North) / 2}
}

// IsValid reports whether the extent respects its ordering invariant and
// contains no NaN.
func (e Extent) IsValid() bool {
	return !math.IsNaN(e.West) && !math.IsNaN(e.South) &&
		e.West <= e.East && e.South <= e.North
}

// Split divides the extent into nx columns and ny rows, row-major from the
// north-west corner.
func (e Extent) Split(nx, ny int) []Extent {
	if nx <= 0 || ny <= 0 {
		return nil
	}
	w := e.Width() / float64(nx)
	h := e.Height() / float64(ny)
	out := make([]Extent, 0, nx*ny)
	for row := 0; row < ny; row++ {
		north := e.North - float64(row)*h
		for col := 0; col < nx; col++ {
			west := e.West + float64(col)*w
			out = append(out, Extent{
				CRS:   e.CRS,
				West:  west,
				East:  west + w,
				South: north - h,
				North: north,
			})
		}
	}
	return out
}

// Intersects reports whether the two extents overlap. Extents in different
// systems never intersect without prior reprojection.
func (e Extent) Intersects(o Extent) bool {
	if e.CRS != o.CRS {
		return false
	}
	return e.West < o.East && e.East > o.West && e.South < o.North && e.North > o.South
}

// Intersection returns the overlapping rectangle, or false when disjoint.
func (e Extent) Intersection(o Extent) (Extent, bool) {
	if !e.Intersects(o) {
		return Extent{}, false
	}
	return Extent{
		CRS:   e.CRS,
		West:  math.Max(e.West, o.West),
		East:  math.Min(e.East, o.East),
		South: math.Max(e.South, o.South),
		North: math.Min(e.North, o.North),
	}, true
}

// Union returns the smallest extent containing both.
func (e Extent) Union(o Extent) Extent {
	return Extent{
		CRS:   e.CRS,
		West:  math.Min(e.West, o.West),
		East:  math.Max(e.East, o.East),
		South: math.Min(e.South, o.South),
		North: math.Max(e.North, o.North),
	}
}

// Contains reports whether the coordinates lie inside the extent within
// epsilon. Coordinates in another CRS are reprojected first.
func (e Extent) Contains(c Coordinates, epsilon float64, reg *Registry) bool {
	if c.CRS != e.CRS {
		var err error
		c, err = c.As(e.CRS, reg)
		if err != nil {
			return false
		}
	}
	return c.X >= e.West-epsilon && c.X <= e.East+epsilon &&
		c.Y >= e.South-epsilon && c.Y <= e.North+epsilon
}

// As reprojects the extent into target by projecting its corners and taking
// their bounding box.
func (e Extent) As(target string, reg *Registry) (Extent, error) {
	if reg == nil {
		reg = DefaultRegistry()
	}
	if e.CRS == target {
		return e, nil
	}
	corners := []orb.Point{
		{e.West, e.South}, {e.East, e.South},
		{e.East, e.North}, {e.West, e.North},
	}
	out := Extent{CRS: target, West: math.Inf(1), East: math.Inf(-1), South: math.Inf(1), North: math.Inf(-1)}
	for _, c := range corners {
		p, err := reg.Project(c, e.CRS, target)
		if err != nil {
			return Extent{}, err
		}
		out.West = math.Min(out.West, p[0])
		out.East = math.Max(out.East, p[0])
		out.South = math.Min(out.South, p[1])
		out.North = math.Max(out.North, p[1])
	}
	return out, nil
}

// WithRelativeMargin grows the extent by ratio on every side (0.05 grows a
// 100m-wide extent by 5m west and 5m east).
func (e Extent) WithRelativeMargin(ratio float64) Extent {
	mw := e.Width() * ratio
	mh := e.Height() * ratio
	return Extent{
		CRS:   e.CRS,
		West:  e.West - mw,
		East:  e.East + mw,
		South: e.South - mh,
		North: e.North + mh,
	}
}

// WithMargin grows the extent by absolute amounts on each axis.
func (e Extent) WithMargin(dx, dy float64) Extent {
	return Extent{
		CRS:   e.CRS,
		West:  e.West - dx,
		East:  e.East + dx,
		South: e.South - dy,
		North: e.North + dy,
	}
}

// OffsetScale is the (offset, scale) pair mapping one extent into another's
// normalized [0,1]² space, as consumed by tile materials when sampling a
// texture painted for a larger extent.
type OffsetScale struct {
	OffsetX, OffsetY float64
	ScaleX, ScaleY   float64
}

// Identity reports whether the pair is a no-op mapping.
func (o OffsetScale) Identity() bool {
	return o.OffsetX == 0 && o.OffsetY == 0 && o.ScaleX == 1 && o.ScaleY == 1
}

// Vec4 packs the pair as (OffsetX, OffsetY, ScaleX, ScaleY).
func (o OffsetScale) Vec4() math3.Vector4 {
	return math3.Vector4{X: o.OffsetX, Y: o.OffsetY, Z: o.ScaleX, W: o.ScaleY}
}

// OffsetToParent returns the offset/scale that maps e into parent's UV
// space, measured from the south-west corner.
func (e Extent) OffsetToParent(parent Extent) OffsetScale {
	pw := parent.Width()
	ph := parent.Height()
	if pw == 0 || ph == 0 {
		return OffsetScale{ScaleX: 1, ScaleY: 1}
	}
	return OffsetScale{
		OffsetX: (e.West - parent.West) / pw,
		OffsetY: (e.South - parent.South) / ph,
		ScaleX:  e.Width() / pw,
		ScaleY:  e.Height() / ph,
	}
}

func (e Extent) String() string {
	return fmt.Sprintf("%s[%.3f..%.3f, %.3f..%.3f]", e.CRS, e.West, e.East, e.South, e.North)
}
