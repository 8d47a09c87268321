package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wegman-software/mapfile-go/internal/config"
	"github.com/wegman-software/mapfile-go/internal/feature"
	"github.com/wegman-software/mapfile-go/internal/logger"
	"github.com/wegman-software/mapfile-go/internal/mapfile"
	"github.com/wegman-software/mapfile-go/internal/parquet"
)

// outputKinds lists the geometry kinds in output order
var outputKinds = []feature.Kind{feature.Point, feature.Line, feature.Polygon}

// ParquetFile returns the feature file of kind inside dir
func ParquetFile(dir string, kind feature.Kind) string {
	return filepath.Join(dir, kind.String()+"s.parquet")
}

// Exporter decodes tiles and writes one Parquet file per geometry kind
type Exporter struct {
	cfg     *config.Config
	decoder *TileDecoder
}

// NewExporter creates an exporter over an open map file
func NewExporter(cfg *config.Config, db *mapfile.Database, channelBuffer int) (*Exporter, error) {
	decoder, err := NewTileDecoder(cfg, db, channelBuffer)
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	return &Exporter{cfg: cfg, decoder: decoder}, nil
}

// Run writes points.parquet, lines.parquet and polygons.parquet to the
// output directory
func (e *Exporter) Run(ctx context.Context) (*ExportStats, error) {
	log := logger.Get()

	if err := os.MkdirAll(e.cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	writers := make([]*parquet.FeatureWriter, len(outputKinds))
	defer func() {
		for _, w := range writers {
			if w != nil {
				w.Close()
			}
		}
	}()
	for i, kind := range outputKinds {
		w, err := parquet.NewFeatureWriter(ParquetFile(e.cfg.OutputDir, kind), e.cfg.BatchSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s writer: %w", kind, err)
		}
		writers[i] = w
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	startMetrics(runCtx, e.cfg, e.decoder, log)

	start := time.Now()
	streams := e.decoder.Run(runCtx)

	g, gctx := errgroup.WithContext(runCtx)
	sources := []<-chan GeometryRecord{streams.Points, streams.Lines, streams.Polygons}
	for i := range outputKinds {
		w, src := writers[i], sources[i]
		g.Go(func() error {
			err := writeStream(gctx, w, src)
			if err != nil {
				cancel()
			}
			return err
		})
	}

	g.Go(func() error {
		return monitorDecode(streams.Errors)
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stats := &ExportStats{Decode: e.decoder.Stats()}
	for i, w := range writers {
		writers[i] = nil
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("failed to close %s: %w", w.Path(), err)
		}
		stats.Files = append(stats.Files, LoadStats{Table: w.Path(), RowsLoaded: w.Count()})
	}

	log.Info("Export complete",
		zap.String("output_dir", e.cfg.OutputDir),
		zap.Int64("tiles", stats.Decode.Tiles),
		zap.Int64("tiles_failed", stats.Decode.TilesFailed),
		zap.Int64("points", stats.Files[0].RowsLoaded),
		zap.Int64("lines", stats.Files[1].RowsLoaded),
		zap.Int64("polygons", stats.Files[2].RowsLoaded),
		zap.Duration("duration", time.Since(start).Round(time.Second)))

	return stats, nil
}

func writeStream(ctx context.Context, w *parquet.FeatureWriter, records <-chan GeometryRecord) error {
	for {
		select {
		case rec, ok := <-records:
			if !ok {
				return nil
			}
			if err := w.Write(rec.FeatureID, rec.Kind.String(), rec.Layer, rec.Tile, rec.Tags, rec.GeomWKB); err != nil {
				return fmt.Errorf("failed to write %s: %w", w.Path(), err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
