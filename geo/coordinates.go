package geo

import (
	"fmt"

	"github.com/paulmach/orb"
)

// Coordinates is a position expressed in a specific CRS. Z is optional and
// carried through reprojection untouched.
type Coordinates struct {
	CRS     string
	X, Y, Z float64
}

// NewCoordinates creates a Coordinates value.
func NewCoordinates(crs string, x, y, z float64) Coordinates {
	return Coordinates{CRS: crs, X: x, Y: y, Z: z}
}

// Point returns the horizontal components as an orb.Point.
func (c Coordinates) Point() orb.Point {
	return orb.Point{c.X, c.Y}
}

// As reprojects the coordinates into target using the registry. The vertical
// component is preserved.
func (c Coordinates) As(target string, reg *Registry) (Coordinates, error) {
	if reg == nil {
		reg = DefaultRegistry()
	}
	if c.CRS == target {
		return c, nil
	}
	p, err := reg.Project(c.Point(), c.CRS, target)
	if err != nil {
		return Coordinates{}, err
	}
	return Coordinates{CRS: target, X: p[0], Y: p[1], Z: c.Z}, nil
}

// IsGeographic reports whether the coordinates are in a geographic CRS.
func (c Coordinates) IsGeographic(reg *Registry) bool {
	if reg == nil {
		reg = DefaultRegistry()
	}
	return reg.IsGeographic(c.CRS)
}

func (c Coordinates) String() string {
	return fmt.Sprintf("%s(%.6f, %.6f, %.3f)", c.CRS, c.X, c.Y, c.Z)
}
