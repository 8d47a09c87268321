package cmd

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/mapfile-go/internal/logger"
	"github.com/wegman-software/mapfile-go/internal/pipeline"
)

var importCmd = &cobra.Command{
	Use:   "import <file.map>",
	Short: "Decode an area and load it into PostgreSQL",
	Long: `Decode every tile of a bounding box and stream the features into
PostgreSQL/PostGIS:

  1. Tiles are decoded in parallel, one decoder per worker
  2. Points, lines and polygons are loaded concurrently with COPY into
     <prefix>_point, <prefix>_line and <prefix>_polygon
  3. Spatial and feature id indexes are created in parallel

Loading starts with the first decoded tile, so decoding and loading overlap.`,
	Args: cobra.ExactArgs(1),
	Run:  runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)

	addAreaFlags(importCmd)
	addDatabaseFlags(importCmd)
}

func runImport(cmd *cobra.Command, args []string) {
	applyDecodeFlags(args[0])
	log := logger.Get()

	totalStart := time.Now()
	log.Info("Starting mapfile-go pipelined import", append(decodeLogFields(),
		zap.String("output", fmt.Sprintf("%s:%d/%s", cfg.DBHost, cfg.DBPort, cfg.DBName)),
		zap.Int("channel_buffer", channelBuffer))...)

	db := openDatabase()
	defer db.Close()

	pipeCfg := pipeline.CoordinatorConfig{
		ChannelBuffer: channelBuffer,
		DropExisting:  dropExisting,
		CreateIndexes: createIndexes,
	}

	coordinator, err := pipeline.NewCoordinator(cfg, db, pipeCfg)
	if err != nil {
		exitWithError("failed to create pipeline", err)
	}
	defer coordinator.Close()

	stats, err := coordinator.Run(context.Background())
	if err != nil {
		exitWithError("import failed", err)
	}

	totalElapsed := time.Since(totalStart)
	log.Info("Import complete",
		zap.Duration("total_time", totalElapsed.Round(time.Second)),
		zap.Int64("tiles", stats.Decode.Tiles),
		zap.Int64("tiles_failed", stats.Decode.TilesFailed),
		zap.Int64("pois", stats.Decode.POIs),
		zap.Int64("ways", stats.Decode.Ways),
		zap.Int64("points", stats.PointsLoad.RowsLoaded),
		zap.Int64("lines", stats.LinesLoad.RowsLoaded),
		zap.Int64("polygons", stats.PolysLoad.RowsLoaded),
		zap.Int64("total_rows", stats.TotalRows),
		zap.Float64("throughput_rows_s", float64(stats.TotalRows)/totalElapsed.Seconds()),
	)
}
