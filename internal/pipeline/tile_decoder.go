package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/paulmach/orb/maptile"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wegman-software/mapfile-go/internal/config"
	"github.com/wegman-software/mapfile-go/internal/feature"
	"github.com/wegman-software/mapfile-go/internal/logger"
	"github.com/wegman-software/mapfile-go/internal/mapfile"
	"github.com/wegman-software/mapfile-go/internal/metrics"
	"github.com/wegman-software/mapfile-go/internal/parquet"
	"github.com/wegman-software/mapfile-go/internal/proj"
	"github.com/wegman-software/mapfile-go/internal/style"
	"github.com/wegman-software/mapfile-go/internal/tiles"
	"github.com/wegman-software/mapfile-go/internal/wkb"
)

// TileDecoder queries every tile of an area with one decoder per worker and
// streams the features to typed channels
type TileDecoder struct {
	cfg           *config.Config
	db            *mapfile.Database
	style         *style.Config
	transformer   *proj.Transformer
	dedupe        *deduper
	channelBuffer int
	log           *zap.Logger

	nextID     atomic.Int64
	totalTiles atomic.Int64
	live       liveDecodeStats
}

type liveDecodeStats struct {
	tiles, tilesFailed, waterTiles           atomic.Int64
	blocksRead, blocksSkipped, blocksFailed  atomic.Int64
	pois, ways                               atomic.Int64
	points, lines, polygons, filtered, dupes atomic.Int64
}

type outputs struct {
	points, lines, polygons chan<- GeometryRecord
}

// NewTileDecoder creates a decoder over db. The style file and projection
// are taken from cfg.
func NewTileDecoder(cfg *config.Config, db *mapfile.Database, channelBuffer int) (*TileDecoder, error) {
	st := style.DefaultConfig()
	if cfg.StyleFile != "" {
		var err error
		if st, err = style.LoadConfig(cfg.StyleFile); err != nil {
			return nil, err
		}
	}

	transformer, err := proj.NewTransformer(cfg.Projection)
	if err != nil {
		return nil, err
	}

	if channelBuffer <= 0 {
		channelBuffer = 50000
	}

	d := &TileDecoder{
		cfg:           cfg,
		db:            db,
		style:         st,
		transformer:   transformer,
		channelBuffer: channelBuffer,
		log:           logger.Get(),
	}
	if cfg.Dedupe {
		d.dedupe = newDeduper()
	}
	return d, nil
}

// TileRange returns the tiles to query: the configured bbox, or the map
// file's bounding box, at the configured zoom clamped to the file's zoom
// levels
func (d *TileDecoder) TileRange() tiles.Range {
	h := d.db.Header()
	bound := h.BoundingBox
	if d.cfg.BBox != nil && d.cfg.BBox.IsSet {
		bound = d.cfg.BBox.Bound()
	}
	return tiles.BoundToRange(bound, h.QueryZoomLevel(d.cfg.Zoom))
}

// TotalTiles returns the number of tiles of the running decode
func (d *TileDecoder) TotalTiles() int64 {
	return d.totalTiles.Load()
}

// Stats returns a snapshot of the decode counters
func (d *TileDecoder) Stats() DecodeStats {
	s := &d.live
	return DecodeStats{
		Tiles:         s.tiles.Load(),
		TilesFailed:   s.tilesFailed.Load(),
		WaterTiles:    s.waterTiles.Load(),
		BlocksRead:    s.blocksRead.Load(),
		BlocksSkipped: s.blocksSkipped.Load(),
		BlocksFailed:  s.blocksFailed.Load(),
		POIs:          s.pois.Load(),
		Ways:          s.ways.Load(),
		Points:        s.points.Load(),
		Lines:         s.lines.Load(),
		Polygons:      s.polygons.Load(),
		Filtered:      s.filtered.Load(),
		Duplicates:    s.dupes.Load(),
	}
}

// Counters reports progress for the metrics collector
func (d *TileDecoder) Counters() metrics.DecodeCounters {
	s := d.Stats()
	return metrics.DecodeCounters{
		TilesDone:     s.Tiles + s.TilesFailed,
		TilesTotal:    d.TotalTiles(),
		BlocksRead:    s.BlocksRead,
		BlocksSkipped: s.BlocksSkipped,
		BlocksFailed:  s.BlocksFailed,
		Features:      s.Points + s.Lines + s.Polygons,
	}
}

// Run starts decoding in the background. The record channels are closed
// when all tiles are done or ctx is cancelled.
func (d *TileDecoder) Run(ctx context.Context) *GeometryStreams {
	points := make(chan GeometryRecord, d.channelBuffer)
	lines := make(chan GeometryRecord, d.channelBuffer)
	polygons := make(chan GeometryRecord, d.channelBuffer)
	errChan := make(chan error, 1)
	out := outputs{points: points, lines: lines, polygons: polygons}

	r := d.TileRange()
	d.totalTiles.Store(int64(r.Count()))

	workers := d.cfg.Workers
	if workers < 1 {
		workers = 1
	}

	d.log.Info("Decoding tiles",
		zap.Int("zoom", r.Z),
		zap.Int("tiles", r.Count()),
		zap.Int("workers", workers),
		zap.Int("srid", d.transformer.TargetSRID))

	go func() {
		defer close(errChan)
		defer close(points)
		defer close(lines)
		defer close(polygons)

		g, gctx := errgroup.WithContext(ctx)
		tileChan := make(chan maptile.Tile, workers*4)

		g.Go(func() error {
			defer close(tileChan)
			var err error
			r.Each(func(t maptile.Tile) bool {
				select {
				case tileChan <- t:
					return true
				case <-gctx.Done():
					err = gctx.Err()
					return false
				}
			})
			return err
		})

		for i := 0; i < workers; i++ {
			g.Go(func() error {
				return d.worker(gctx, tileChan, out)
			})
		}

		if err := g.Wait(); err != nil {
			errChan <- err
		}
	}()

	return &GeometryStreams{
		Points:   points,
		Lines:    lines,
		Polygons: polygons,
		Errors:   errChan,
	}
}

func (d *TileDecoder) worker(ctx context.Context, tileChan <-chan maptile.Tile, out outputs) error {
	dec := d.db.NewDecoder(d.cfg.DecoderOptions(d.log))
	enc := wkb.NewEncoderWithSRID(1024, d.transformer.TargetSRID)

	var tileName string
	var emitErr error
	builder := feature.NewBuilder(d.style, func(f feature.Feature) {
		if emitErr == nil {
			emitErr = d.emit(ctx, enc, tileName, f, out)
		}
	})

	var prev feature.Stats
	for t := range tileChan {
		tileName = tiles.Format(t)
		res, err := dec.ExecuteQuery(ctx, t, builder)

		st := builder.Stats()
		d.record(res, st, prev)
		prev = st

		if emitErr != nil {
			return emitErr
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.live.tilesFailed.Add(1)
			d.log.Warn("Tile query failed", zap.String("tile", tileName), zap.Error(err))
			continue
		}
		d.live.tiles.Add(1)
	}
	return nil
}

func (d *TileDecoder) record(res mapfile.QueryResult, st, prev feature.Stats) {
	s := &d.live
	if res.Water {
		s.waterTiles.Add(1)
	}
	s.blocksRead.Add(int64(res.BlocksRead))
	s.blocksSkipped.Add(int64(res.BlocksSkipped))
	s.blocksFailed.Add(int64(res.BlocksFailed))
	s.pois.Add(int64(res.POIs))
	s.ways.Add(int64(res.Ways))
	s.filtered.Add(int64(st.Filtered - prev.Filtered))
}

// emit encodes f and sends it to the channel of its kind
func (d *TileDecoder) emit(ctx context.Context, enc *wkb.Encoder, tile string, f feature.Feature, out outputs) error {
	geom, err := enc.Encode(d.transformer.Geometry(f.Geometry))
	if err != nil {
		return fmt.Errorf("tile %s: %w", tile, err)
	}
	tags := parquet.TagsToJSON(f.Tags)

	if d.dedupe != nil && d.dedupe.Seen(f.Kind, f.Layer, tags, geom) {
		d.live.dupes.Add(1)
		return nil
	}

	rec := GeometryRecord{
		FeatureID: d.nextID.Add(1),
		Kind:      f.Kind,
		Layer:     f.Layer,
		Tile:      tile,
		Tags:      tags,
		GeomWKB:   append([]byte(nil), geom...), // encoder buffer is reused
	}

	var ch chan<- GeometryRecord
	switch f.Kind {
	case feature.Point:
		ch = out.points
		d.live.points.Add(1)
	case feature.Line:
		ch = out.lines
		d.live.lines.Add(1)
	default:
		ch = out.polygons
		d.live.polygons.Add(1)
	}

	select {
	case ch <- rec:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// monitorDecode waits for the decoder to finish. Cancellation is left to
// the caller so that the error which caused it is reported instead.
func monitorDecode(errs <-chan error) error {
	for err := range errs {
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("decode error: %w", err)
		}
	}
	return nil
}
