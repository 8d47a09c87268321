package mapfile

import (
	"fmt"

	"github.com/paulmach/osm"
)

// Tag keys synthesized from the feature strings of POIs and ways
const (
	TagKeyName        = "name"
	TagKeyHouseNumber = "addr:housenumber"
	TagKeyRef         = "ref"
)

// SubFileParameter describes one sub-file: a contiguous band of zoom levels
// sharing a block grid at BaseZoomLevel.
type SubFileParameter struct {
	BaseZoomLevel int
	ZoomLevelMin  int
	ZoomLevelMax  int

	StartAddress int64
	SubFileSize  int64

	IndexStartAddress int64
	IndexEndAddress   int64

	BoundaryTileTop    int64
	BoundaryTileLeft   int64
	BoundaryTileBottom int64
	BoundaryTileRight  int64

	BlocksWidth    int64
	BlocksHeight   int64
	NumberOfBlocks int64
}

func (s *SubFileParameter) String() string {
	return fmt.Sprintf("base=%d zoom=%d-%d start=%d size=%d blocks=%dx%d",
		s.BaseZoomLevel, s.ZoomLevelMin, s.ZoomLevelMax, s.StartAddress, s.SubFileSize,
		s.BlocksWidth, s.BlocksHeight)
}

// QueryParameters holds the block range and tile bitmask of a single query
type QueryParameters struct {
	QueryZoomLevel   int
	QueryTileBitmask uint16
	UseTileBitmask   bool

	FromBaseTileX, FromBaseTileY int64
	ToBaseTileX, ToBaseTileY     int64

	FromBlockX, FromBlockY int64
	ToBlockX, ToBlockY     int64
}

// TagTable resolves the small integer tag ids stored in blocks
type TagTable []osm.Tag

// Resolve returns the tag stored under id
func (t TagTable) Resolve(id int) (osm.Tag, bool) {
	if id < 0 || id >= len(t) {
		return osm.Tag{}, false
	}
	return t[id], true
}

// Point is a coordinate in microdegrees
type Point struct {
	Lat, Lon int32
}

// POI is a decoded point of interest. Values are reused by the decoder;
// a sink must copy what it keeps.
type POI struct {
	Layer int8
	Tags  osm.Tags
	Lat   int32
	Lon   int32

	// HouseNumber and Elevation are parsed from the record but are not part
	// of Tags.
	HouseNumber  string
	Elevation    int32
	HasElevation bool
}

// Way is a decoded polyline or polygon. Coordinates holds lon/lat pairs in
// microdegrees for all rings back to back; RingLengths holds the number of
// int32 values of each ring. Both slices alias decoder scratch buffers and
// are only valid during the sink callback.
type Way struct {
	Layer       int8
	Tags        osm.Tags
	Coordinates []int32
	RingLengths []int
	Closed      bool
	DataBlock   int

	// String block offsets, -1 when absent
	NameOffset        int
	HouseNumberOffset int
	RefOffset         int

	Label    Point
	HasLabel bool

	stringsBase int
	strings     ByteReader
}

// Ring returns the coordinates of ring i
func (w *Way) Ring(i int) []int32 {
	start := 0
	for j := 0; j < i; j++ {
		start += w.RingLengths[j]
	}
	return w.Coordinates[start : start+w.RingLengths[i]]
}

// ResolveString reads a string from the block's string section. offset is
// one of NameOffset, HouseNumberOffset or RefOffset.
func (w *Way) ResolveString(offset int) (string, error) {
	if offset < 0 {
		return "", nil
	}
	if w.strings == nil {
		return "", fmt.Errorf("way strings are no longer available")
	}
	return w.strings.ReadUTF8StringAt(w.stringsBase + offset)
}

// Sink receives decoded features
type Sink interface {
	ProcessPOI(poi *POI)
	ProcessWay(way *Way)
}

// SinkFuncs adapts plain functions to Sink. Nil functions are ignored.
type SinkFuncs struct {
	POI func(poi *POI)
	Way func(way *Way)
}

func (s SinkFuncs) ProcessPOI(poi *POI) {
	if s.POI != nil {
		s.POI(poi)
	}
}

func (s SinkFuncs) ProcessWay(way *Way) {
	if s.Way != nil {
		s.Way(way)
	}
}
