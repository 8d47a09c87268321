package mapfile

import (
	"context"
	"fmt"
	"io"

	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/osm"
	"go.uber.org/zap"
)

// Options configures a Decoder
type Options struct {
	// MinLatDelta and MinLonDelta are the simplification thresholds in
	// microdegrees. A way node closer than both to the last retained node
	// is dropped. Zero keeps every node.
	MinLatDelta int32
	MinLonDelta int32

	// CoordinateCapacity is the size of the coordinate scratch buffer in
	// int32 values. A data block that does not fit fails its block.
	CoordinateCapacity int

	// ResolveWayStrings adds name, addr:housenumber and ref tags to ways
	ResolveWayStrings bool

	Logger *zap.Logger
}

// QueryResult summarizes one query
type QueryResult struct {
	// Water is set when every visited block is flagged as water
	Water bool

	BlocksRead    int
	BlocksSkipped int
	BlocksFailed  int
	POIs          int
	Ways          int

	// BlockErrors holds one *BlockError per failed block
	BlockErrors []error
}

// Decoder executes tile queries against one map file. It owns its scratch
// buffers and must not be used by more than one goroutine at a time; create
// one decoder per worker.
type Decoder struct {
	header *Header
	src    io.ReaderAt
	index  IndexCache
	opts   Options
	log    *zap.Logger

	buf   ByteReader
	nodes *nodeDecoder

	zoomTable   []zoomTableRow
	ringLengths []int

	poi     POI
	way     Way
	poiTags osm.Tags
	poiOut  osm.Tags
	wayTags osm.Tags
	wayOut  osm.Tags

	result QueryResult
}

// NewDecoder creates a decoder reading blocks of the file described by
// header from src
func NewDecoder(src io.ReaderAt, header *Header, index IndexCache, opts Options) *Decoder {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Decoder{
		header: header,
		src:    src,
		index:  index,
		opts:   opts,
		log:    log,
		buf:    NewReadBuffer(),
		nodes:  newNodeDecoder(opts.CoordinateCapacity, opts.MinLatDelta, opts.MinLonDelta),
	}
}

// Header returns the header of the decoded file
func (d *Decoder) Header() *Header {
	return d.header
}

// ExecuteQuery decodes all POIs and ways of tile and passes them to sink.
// Blocks that fail to decode are logged and reported in the result; errors
// that invalidate the rest of the query are returned.
func (d *Decoder) ExecuteQuery(ctx context.Context, tile maptile.Tile, sink Sink) (QueryResult, error) {
	zoom := d.header.QueryZoomLevel(int(tile.Z))
	sub := d.header.SubFileParameter(zoom)
	if sub == nil {
		return QueryResult{}, fmt.Errorf("%w %d", ErrNoSubFile, zoom)
	}
	q := NewQueryParameters(tile, sub, zoom)
	return d.ProcessBlocks(ctx, sub, &q, sink)
}

// ProcessBlocks decodes the block range of q in row-major order
func (d *Decoder) ProcessBlocks(ctx context.Context, sub *SubFileParameter, q *QueryParameters, sink Sink) (QueryResult, error) {
	d.result = QueryResult{}
	water := true
	visited := 0

	for row := q.FromBlockY; row <= q.ToBlockY; row++ {
		for col := q.FromBlockX; col <= q.ToBlockX; col++ {
			if err := ctx.Err(); err != nil {
				return d.finish(water, visited), err
			}

			blockNumber := row*sub.BlocksWidth + col
			entry, err := d.index.IndexEntry(sub, blockNumber)
			if err != nil {
				return d.finish(water, visited), err
			}
			visited++
			water = water && IsWater(entry)

			ptr := BlockOffset(entry)
			if ptr < 1 || ptr > sub.SubFileSize {
				d.log.Warn("Invalid block pointer",
					zap.Int64("row", row), zap.Int64("column", col),
					zap.Int64("pointer", ptr), zap.Int64("sub_file_size", sub.SubFileSize))
				return d.finish(water, visited), fmt.Errorf("%w: block %d pointer %d outside sub-file of %d bytes",
					ErrIndexCorruption, blockNumber, ptr, sub.SubFileSize)
			}

			next := sub.SubFileSize
			if blockNumber+1 < sub.NumberOfBlocks {
				nextEntry, err := d.index.IndexEntry(sub, blockNumber+1)
				if err != nil {
					return d.finish(water, visited), err
				}
				next = BlockOffset(nextEntry)
				if next < 1 || next > sub.SubFileSize {
					return d.finish(water, visited), fmt.Errorf("%w: block %d next pointer %d outside sub-file of %d bytes",
						ErrIndexCorruption, blockNumber, next, sub.SubFileSize)
				}
			}

			size := next - ptr
			switch {
			case size < 0:
				return d.finish(water, visited), fmt.Errorf("%w: block %d has negative size %d",
					ErrIndexCorruption, blockNumber, size)
			case size == 0:
				d.result.BlocksSkipped++
				continue
			case size > MaximumBufferSize:
				d.log.Warn("Block too large, skipping",
					zap.Int64("row", row), zap.Int64("column", col), zap.Int64("size", size))
				d.result.BlocksSkipped++
				continue
			case sub.StartAddress+ptr+size > d.header.FileSize:
				return d.finish(water, visited), fmt.Errorf("%w: block %d ends beyond file size %d",
					ErrIndexCorruption, blockNumber, d.header.FileSize)
			}

			if err := d.buf.ReadBlock(d.src, sub.StartAddress+ptr, int(size)); err != nil {
				d.blockFailed(row, col, err)
				continue
			}
			d.result.BlocksRead++

			corner := blockCorner(sub, row, col)
			if err := d.decodeBlock(sub, q, corner, sink); err != nil {
				d.blockFailed(row, col, err)
			}
		}
	}

	return d.finish(water, visited), nil
}

func (d *Decoder) blockFailed(row, col int64, err error) {
	d.log.Warn("Block decode failed",
		zap.Int64("row", row), zap.Int64("column", col), zap.Error(err))
	d.result.BlocksFailed++
	d.result.BlockErrors = append(d.result.BlockErrors, &BlockError{Row: row, Column: col, Err: err})
}

func (d *Decoder) finish(water bool, visited int) QueryResult {
	d.result.Water = water && visited > 0
	return d.result
}
