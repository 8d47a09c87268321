// Package tiles converts between coordinates, bounding boxes and the
// z/x/y tiles queried from a map file.
package tiles

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// MaxZoom is the deepest zoom level a tile may be requested at
const MaxZoom = 22

// Web Mercator latitude limits
const (
	MaxMercatorLat = 85.0511287798
	MinMercatorLat = -85.0511287798
)

// ParseTile parses a tile in z/x/y format
func ParseTile(s string) (maptile.Tile, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return maptile.Tile{}, fmt.Errorf("invalid tile %q: expected z/x/y", s)
	}

	var v [3]uint64
	for i, p := range parts {
		n, err := strconv.ParseUint(strings.TrimSpace(p), 10, 32)
		if err != nil {
			return maptile.Tile{}, fmt.Errorf("invalid tile %q: %w", s, err)
		}
		v[i] = n
	}

	z, x, y := v[0], v[1], v[2]
	if z > MaxZoom {
		return maptile.Tile{}, fmt.Errorf("invalid tile %q: zoom %d exceeds %d", s, z, MaxZoom)
	}
	if n := uint64(1) << z; x >= n || y >= n {
		return maptile.Tile{}, fmt.Errorf("invalid tile %q: x and y must be below %d", s, n)
	}
	return maptile.New(uint32(x), uint32(y), maptile.Zoom(z)), nil
}

// Format returns the tile in z/x/y format
func Format(t maptile.Tile) string {
	return fmt.Sprintf("%d/%d/%d", t.Z, t.X, t.Y)
}

// LatLonToTile converts latitude/longitude to the tile containing it.
// Coordinates outside the Web Mercator range are clamped onto the edge tiles.
func LatLonToTile(lat, lon float64, zoom int) maptile.Tile {
	lat = math.Max(MinMercatorLat, math.Min(MaxMercatorLat, lat))
	lon = math.Max(-180, math.Min(180, lon))

	n := 1 << zoom

	x := int((lon + 180.0) / 360.0 * float64(n))
	if x >= n {
		x = n - 1
	}

	latRad := lat * math.Pi / 180.0
	y := int((1.0 - math.Log(math.Tan(latRad)+1.0/math.Cos(latRad))/math.Pi) / 2.0 * float64(n))
	if y >= n {
		y = n - 1
	}
	if y < 0 {
		y = 0
	}

	return maptile.New(uint32(x), uint32(y), maptile.Zoom(zoom))
}

// Range is a rectangle of tiles at one zoom level
type Range struct {
	Z          int
	MinX, MaxX int
	MinY, MaxY int
}

// BoundToRange returns the tiles covering a bounding box
func BoundToRange(b orb.Bound, zoom int) Range {
	// Y grows southward
	topLeft := LatLonToTile(b.Max.Lat(), b.Min.Lon(), zoom)
	bottomRight := LatLonToTile(b.Min.Lat(), b.Max.Lon(), zoom)

	return Range{
		Z:    zoom,
		MinX: int(topLeft.X),
		MaxX: int(bottomRight.X),
		MinY: int(topLeft.Y),
		MaxY: int(bottomRight.Y),
	}
}

// Count returns the number of tiles in the range
func (r Range) Count() int {
	return (r.MaxX - r.MinX + 1) * (r.MaxY - r.MinY + 1)
}

// Bound returns the geographic extent of the range
func (r Range) Bound() orb.Bound {
	z := maptile.Zoom(r.Z)
	return maptile.New(uint32(r.MinX), uint32(r.MinY), z).Bound().
		Union(maptile.New(uint32(r.MaxX), uint32(r.MaxY), z).Bound())
}

// Each calls fn for every tile in row-major order until fn returns false
func (r Range) Each(fn func(maptile.Tile) bool) {
	z := maptile.Zoom(r.Z)
	for y := r.MinY; y <= r.MaxY; y++ {
		for x := r.MinX; x <= r.MaxX; x++ {
			if !fn(maptile.New(uint32(x), uint32(y), z)) {
				return
			}
		}
	}
}

// Tiles returns all tiles in the range in row-major order
func (r Range) Tiles() []maptile.Tile {
	tiles := make([]maptile.Tile, 0, r.Count())
	r.Each(func(t maptile.Tile) bool {
		tiles = append(tiles, t)
		return true
	})
	return tiles
}
