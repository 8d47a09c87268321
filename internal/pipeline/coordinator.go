package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wegman-software/mapfile-go/internal/config"
	"github.com/wegman-software/mapfile-go/internal/feature"
	"github.com/wegman-software/mapfile-go/internal/logger"
	"github.com/wegman-software/mapfile-go/internal/mapfile"
	"github.com/wegman-software/mapfile-go/internal/metrics"
)

// CoordinatorConfig holds pipeline-specific configuration
type CoordinatorConfig struct {
	ChannelBuffer int
	DropExisting  bool
	CreateIndexes bool
}

// Coordinator orchestrates the pipelined import
type Coordinator struct {
	cfg     *config.Config
	pipeCfg CoordinatorConfig
	decoder *TileDecoder
	loader  *StreamingLoader
}

// NewCoordinator creates a new pipeline coordinator over an open map file
func NewCoordinator(cfg *config.Config, db *mapfile.Database, pipeCfg CoordinatorConfig) (*Coordinator, error) {
	if pipeCfg.ChannelBuffer <= 0 {
		pipeCfg.ChannelBuffer = 50000
	}

	decoder, err := NewTileDecoder(cfg, db, pipeCfg.ChannelBuffer)
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	loader, err := NewStreamingLoader(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create loader: %w", err)
	}

	return &Coordinator{
		cfg:     cfg,
		pipeCfg: pipeCfg,
		decoder: decoder,
		loader:  loader,
	}, nil
}

// Close cleans up resources
func (c *Coordinator) Close() error {
	if c.loader != nil {
		return c.loader.Close()
	}
	return nil
}

// startMetrics samples decode progress until ctx is done
func startMetrics(ctx context.Context, cfg *config.Config, decoder *TileDecoder, log *zap.Logger) {
	if cfg.MetricsInterval <= 0 {
		return
	}
	collector := metrics.NewCollector(cfg.MetricsInterval, log, decoder.Counters)
	go collector.Start(ctx)
	log.Info("Decode metrics collection started", zap.Duration("interval", cfg.MetricsInterval))
}

// Run decodes every tile of the configured area and loads the features
// into the point, line and polygon tables
func (c *Coordinator) Run(ctx context.Context) (*ImportStats, error) {
	log := logger.Get()
	stats := &ImportStats{}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	startMetrics(runCtx, c.cfg, c.decoder, log)

	if err := c.loader.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	kinds := []feature.Kind{feature.Point, feature.Line, feature.Polygon}
	tables := make([]string, len(kinds))
	for i, kind := range kinds {
		tables[i] = TableName(c.cfg.TablePrefix, kind)
		if err := c.loader.PrepareTable(ctx, tables[i], c.pipeCfg.DropExisting); err != nil {
			return nil, fmt.Errorf("failed to prepare table %s: %w", tables[i], err)
		}
	}

	start := time.Now()
	c.loader.liveStats.StartTime = start

	// Cancelling runCtx stops the decoder when a loader fails
	streams := c.decoder.Run(runCtx)

	go c.reportLiveProgress(runCtx)

	g, gctx := errgroup.WithContext(runCtx)

	var counts [3]int64
	sources := []<-chan GeometryRecord{streams.Points, streams.Lines, streams.Polygons}
	for i, kind := range kinds {
		i, kind := i, kind
		g.Go(func() error {
			count, err := c.loader.LoadStream(gctx, kind, sources[i])
			if err != nil {
				cancel()
				return fmt.Errorf("%s load failed: %w", kind, err)
			}
			counts[i] = count
			return nil
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

	stats.Decode = c.decoder.Stats()
	stats.PointsLoad = LoadStats{Table: tables[0], RowsLoaded: counts[0]}
	stats.LinesLoad = LoadStats{Table: tables[1], RowsLoaded: counts[1]}
	stats.PolysLoad = LoadStats{Table: tables[2], RowsLoaded: counts[2]}
	stats.TotalRows = counts[0] + counts[1] + counts[2]

	log.Info("Decoding and loading complete",
		zap.Int64("tiles", stats.Decode.Tiles),
		zap.Int64("tiles_failed", stats.Decode.TilesFailed),
		zap.Int64("points", counts[0]),
		zap.Int64("lines", counts[1]),
		zap.Int64("polygons", counts[2]),
		zap.Int64("duplicates", stats.Decode.Duplicates),
		zap.Duration("duration", time.Since(start).Round(time.Second)))

	if c.pipeCfg.CreateIndexes {
		indexStart := time.Now()
		log.Info("Creating indexes in parallel")

		ig, igctx := errgroup.WithContext(ctx)
		for _, table := range tables {
			table := table
			ig.Go(func() error {
				return c.loader.CreateIndexes(igctx, table)
			})
		}

		if err := ig.Wait(); err != nil {
			return nil, fmt.Errorf("index creation failed: %w", err)
		}

		log.Info("All indexes created", zap.Duration("duration", time.Since(indexStart).Round(time.Second)))
	}

	return stats, nil
}

// reportLiveProgress periodically logs tile and loading progress
func (c *Coordinator) reportLiveProgress(ctx context.Context) {
	log := logger.Get()
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	tracker := NewProgressTracker(c.decoder.TotalTiles(), "tiles")
	var lastTotal int64
	lastTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			points, lines, polys := c.loader.liveStats.GetStats()
			ds := c.decoder.Stats()
			now := time.Now()

			total := points + lines + polys
			var rate float64
			if elapsed := now.Sub(lastTime).Seconds(); elapsed > 0 {
				rate = float64(total-lastTotal) / elapsed
			}

			p := tracker.Calculate(ds.Tiles + ds.TilesFailed)
			log.Info("Loading progress",
				zap.Int64("tiles", p.Current),
				zap.Int64("tiles_total", p.Total),
				zap.String("percent", fmt.Sprintf("%.1f%%", p.Percentage)),
				zap.String("eta", FormatETA(p.ETA)),
				zap.Int64("points", points),
				zap.Int64("lines", lines),
				zap.Int64("polygons", polys),
				zap.String("rows_rate", FormatThroughput(rate)),
			)

			lastTotal = total
			lastTime = now
		}
	}
}
