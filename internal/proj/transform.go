// Package proj reprojects decoded geometries for output.
package proj

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// SRID constants for common projections
const (
	SRID4326 = 4326 // WGS84 (lat/lon)
	SRID3857 = 3857 // Web Mercator
)

// Transformer reprojects WGS84 geometries to the target SRID
type Transformer struct {
	TargetSRID int
	projection orb.Projection
}

// NewTransformer creates a transformer from WGS84 to targetSRID
func NewTransformer(targetSRID int) (*Transformer, error) {
	t := &Transformer{TargetSRID: targetSRID}
	switch targetSRID {
	case SRID4326:
	case SRID3857:
		t.projection = toWebMercator
	default:
		return nil, fmt.Errorf("unsupported target SRID: %d (only 4326 and 3857 supported)", targetSRID)
	}
	return t, nil
}

// NeedsTransform returns true if transformation is required
func (t *Transformer) NeedsTransform() bool {
	return t.projection != nil
}

// Geometry reprojects g in place and returns it
func (t *Transformer) Geometry(g orb.Geometry) orb.Geometry {
	if t.projection == nil {
		return g
	}
	return project.Geometry(g, t.projection)
}

// Point reprojects a single point
func (t *Transformer) Point(p orb.Point) orb.Point {
	if t.projection == nil {
		return p
	}
	return t.projection(p)
}

// Web Mercator constants
const (
	// Semi-major axis of WGS84 ellipsoid in meters
	earthRadius = 6378137.0
	// Maximum extent of Web Mercator
	maxExtent = 20037508.342789244
	// Latitude clamp to avoid infinity at the poles
	maxLat = 85.06
)

func toWebMercator(p orb.Point) orb.Point {
	lon, lat := p[0], math.Max(-maxLat, math.Min(maxLat, p[1]))

	x := lon * maxExtent / 180.0
	// y = R * ln(tan(π/4 + φ/2))
	latRad := lat * math.Pi / 180.0
	y := math.Log(math.Tan(math.Pi/4.0+latRad/2.0)) * earthRadius

	return orb.Point{x, y}
}

// ParseSRID parses a projection string to SRID
// Accepts: "4326", "3857", "EPSG:4326", "EPSG:3857"
func ParseSRID(s string) (int, error) {
	switch s {
	case "4326", "EPSG:4326":
		return SRID4326, nil
	case "3857", "EPSG:3857":
		return SRID3857, nil
	default:
		return 0, fmt.Errorf("unsupported projection: %s (supported: 4326, 3857)", s)
	}
}
