package pipeline

import (
	"github.com/wegman-software/mapfile-go/internal/feature"
)

// GeometryRecord is one decoded feature streamed from the decoder to a sink
type GeometryRecord struct {
	FeatureID int64
	Kind      feature.Kind
	Layer     int8
	Tile      string // z/x/y of the query that produced the feature
	Tags      string // JSON string
	GeomWKB   []byte
}

// GeometryStreams holds the output channels of the tile decoder. Errors
// receives at most one error and is closed when decoding ends.
type GeometryStreams struct {
	Points   <-chan GeometryRecord
	Lines    <-chan GeometryRecord
	Polygons <-chan GeometryRecord
	Errors   <-chan error
}

// DecodeStats holds tile decoding statistics
type DecodeStats struct {
	Tiles       int64
	TilesFailed int64
	WaterTiles  int64

	BlocksRead    int64
	BlocksSkipped int64
	BlocksFailed  int64

	POIs       int64
	Ways       int64
	Points     int64
	Lines      int64
	Polygons   int64
	Filtered   int64
	Duplicates int64
}

// LoadStats holds loading statistics per table
type LoadStats struct {
	Table      string
	RowsLoaded int64
}

// ImportStats holds combined import statistics
type ImportStats struct {
	Decode     DecodeStats
	PointsLoad LoadStats
	LinesLoad  LoadStats
	PolysLoad  LoadStats
	TotalRows  int64
}

// ExportStats holds combined export statistics
type ExportStats struct {
	Decode DecodeStats
	Files  []LoadStats
}
