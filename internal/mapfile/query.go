package mapfile

import (
	"github.com/paulmach/orb/maptile"
)

// NewQueryParameters maps tile onto the block grid of sub. queryZoom is the
// zoom level whose zoom table row is decoded, usually the clamped tile zoom.
func NewQueryParameters(tile maptile.Tile, sub *SubFileParameter, queryZoom int) QueryParameters {
	q := QueryParameters{QueryZoomLevel: queryZoom}

	z := int(tile.Z)
	x, y := int64(tile.X), int64(tile.Y)
	base := sub.BaseZoomLevel

	switch {
	case z < base:
		// tile covers several blocks
		diff := uint(base - z)
		q.FromBaseTileX = x << diff
		q.FromBaseTileY = y << diff
		q.ToBaseTileX = q.FromBaseTileX + (1 << diff) - 1
		q.ToBaseTileY = q.FromBaseTileY + (1 << diff) - 1
	case z > base:
		// tile is part of one block
		diff := uint(z - base)
		q.FromBaseTileX = x >> diff
		q.FromBaseTileY = y >> diff
		q.ToBaseTileX = q.FromBaseTileX
		q.ToBaseTileY = q.FromBaseTileY
		q.UseTileBitmask = true
		q.QueryTileBitmask = TileBitmask(tile, base)
	default:
		q.FromBaseTileX, q.FromBaseTileY = x, y
		q.ToBaseTileX, q.ToBaseTileY = x, y
	}

	q.FromBlockX = max(q.FromBaseTileX-sub.BoundaryTileLeft, 0)
	q.FromBlockY = max(q.FromBaseTileY-sub.BoundaryTileTop, 0)
	q.ToBlockX = min(q.ToBaseTileX-sub.BoundaryTileLeft, sub.BlocksWidth-1)
	q.ToBlockY = min(q.ToBaseTileY-sub.BoundaryTileTop, sub.BlocksHeight-1)
	return q
}

// TileBitmask computes the 4x4 sub-tile mask of tile inside its block at
// baseZoom. tile.Z must be greater than baseZoom.
func TileBitmask(tile maptile.Tile, baseZoom int) uint16 {
	diff := int(tile.Z) - baseZoom
	if diff <= 0 {
		return 0xffff
	}
	x, y := int64(tile.X), int64(tile.Y)
	if diff == 1 {
		return firstLevelBitmask(x, y)
	}

	// tile lies inside one cell of the 4x4 grid
	subX := x >> uint(diff-2)
	subY := y >> uint(diff-2)
	parentX := subX >> 1
	parentY := subY >> 1
	return secondLevelBitmask(subX, subY, parentX%2 == 0, parentY%2 == 0)
}

func firstLevelBitmask(x, y int64) uint16 {
	switch {
	case x%2 == 0 && y%2 == 0:
		return 0xcc00
	case x%2 == 1 && y%2 == 0:
		return 0x3300
	case x%2 == 0 && y%2 == 1:
		return 0x00cc
	default:
		return 0x0033
	}
}

// quadrant masks ordered (even,even) (odd,even) (even,odd) (odd,odd)
var secondLevelMasks = [4][4]uint16{
	{0x8000, 0x4000, 0x0800, 0x0400}, // upper left
	{0x2000, 0x1000, 0x0200, 0x0100}, // upper right
	{0x0080, 0x0040, 0x0008, 0x0004}, // lower left
	{0x0020, 0x0010, 0x0002, 0x0001}, // lower right
}

func secondLevelBitmask(subX, subY int64, leftHalf, upperHalf bool) uint16 {
	quadrant := 0
	if !leftHalf {
		quadrant |= 1
	}
	if !upperHalf {
		quadrant |= 2
	}
	cell := int(subX%2) | int(subY%2)<<1
	return secondLevelMasks[quadrant][cell]
}
