package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wegman-software/mapfile-go/internal/config"
	"github.com/wegman-software/mapfile-go/internal/logger"
	"github.com/wegman-software/mapfile-go/internal/parquet"
)

// ParquetLoader loads feature files written by the exporter into PostGIS
type ParquetLoader struct {
	cfg     *config.Config
	pipeCfg CoordinatorConfig
	loader  *StreamingLoader
}

// NewParquetLoader connects to the configured database
func NewParquetLoader(cfg *config.Config, pipeCfg CoordinatorConfig) (*ParquetLoader, error) {
	if pipeCfg.ChannelBuffer <= 0 {
		pipeCfg.ChannelBuffer = 50000
	}
	loader, err := NewStreamingLoader(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create loader: %w", err)
	}
	return &ParquetLoader{cfg: cfg, pipeCfg: pipeCfg, loader: loader}, nil
}

// Close closes the database pool
func (p *ParquetLoader) Close() error {
	return p.loader.Close()
}

// Run loads points.parquet, lines.parquet and polygons.parquet from
// inputDir. Missing files are skipped.
func (p *ParquetLoader) Run(ctx context.Context, inputDir string) (*ImportStats, error) {
	log := logger.Get()
	start := time.Now()

	if err := p.loader.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	var counts [3]int64
	var tables [3]string

	for i, kind := range outputKinds {
		i, kind := i, kind
		tables[i] = TableName(p.cfg.TablePrefix, kind)
		path := ParquetFile(inputDir, kind)

		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			log.Warn("Feature file not found, skipping", zap.String("path", path))
			continue
		}

		if err := p.loader.PrepareTable(ctx, tables[i], p.pipeCfg.DropExisting); err != nil {
			return nil, fmt.Errorf("failed to prepare table %s: %w", tables[i], err)
		}

		records := make(chan GeometryRecord, p.pipeCfg.ChannelBuffer)
		g.Go(func() error {
			defer close(records)
			_, err := parquet.ReadFeatures(gctx, path, func(r parquet.Row) error {
				rec := GeometryRecord{
					FeatureID: r.FeatureID,
					Kind:      kind,
					Layer:     r.Layer,
					Tile:      r.Tile,
					Tags:      r.Tags,
					GeomWKB:   append([]byte(nil), r.GeomWKB...),
				}
				select {
				case records <- rec:
					return nil
				case <-gctx.Done():
					return gctx.Err()
				}
			})
			return err
		})
		g.Go(func() error {
			count, err := p.loader.LoadStream(gctx, kind, records)
			if err != nil {
				return fmt.Errorf("%s load failed: %w", kind, err)
			}
			counts[i] = count
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	stats := &ImportStats{
		PointsLoad: LoadStats{Table: tables[0], RowsLoaded: counts[0]},
		LinesLoad:  LoadStats{Table: tables[1], RowsLoaded: counts[1]},
		PolysLoad:  LoadStats{Table: tables[2], RowsLoaded: counts[2]},
		TotalRows:  counts[0] + counts[1] + counts[2],
	}

	if p.pipeCfg.CreateIndexes {
		ig, igctx := errgroup.WithContext(ctx)
		for i, table := range tables {
			if counts[i] == 0 {
				continue
			}
			table := table
			ig.Go(func() error {
				return p.loader.CreateIndexes(igctx, table)
			})
		}
		if err := ig.Wait(); err != nil {
			return nil, fmt.Errorf("index creation failed: %w", err)
		}
	}

	log.Info("Parquet load complete",
		zap.String("input_dir", inputDir),
		zap.Int64("rows", stats.TotalRows),
		zap.Duration("duration", time.Since(start).Round(time.Second)))

	return stats, nil
}
