package cmd

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/mapfile-go/internal/logger"
	"github.com/wegman-software/mapfile-go/internal/pipeline"
)

var exportCmd = &cobra.Command{
	Use:   "export <file.map>",
	Short: "Decode an area and write its features to Parquet files",
	Long: `Decode every tile of a bounding box at one zoom level and write the
features to Parquet files in the output directory:

  - points.parquet
  - lines.parquet
  - polygons.parquet

Each row holds a feature id, kind, layer, source tile, JSON tags and the
geometry as EWKB. Tiles are decoded in parallel, one decoder per worker.`,
	Args: cobra.ExactArgs(1),
	Run:  runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)

	addAreaFlags(exportCmd)
	exportCmd.Flags().StringVarP(&cfg.OutputDir, "output-dir", "o", cfg.OutputDir, "Directory for the Parquet files")
}

func runExport(cmd *cobra.Command, args []string) {
	applyDecodeFlags(args[0])
	log := logger.Get()

	log.Info("Starting Parquet export", append(decodeLogFields(), zap.String("output", cfg.OutputDir))...)
	start := time.Now()

	db := openDatabase()
	defer db.Close()

	exporter, err := pipeline.NewExporter(cfg, db, channelBuffer)
	if err != nil {
		exitWithError("failed to create exporter", err)
	}

	stats, err := exporter.Run(context.Background())
	if err != nil {
		exitWithError("export failed", err)
	}

	elapsed := time.Since(start)
	fields := []zap.Field{
		zap.Duration("total_time", elapsed.Round(time.Second)),
		zap.Int64("tiles", stats.Decode.Tiles),
		zap.Int64("tiles_failed", stats.Decode.TilesFailed),
		zap.Int64("water_tiles", stats.Decode.WaterTiles),
		zap.Int64("blocks_failed", stats.Decode.BlocksFailed),
		zap.Int64("filtered", stats.Decode.Filtered),
		zap.Int64("duplicates", stats.Decode.Duplicates),
		zap.Float64("throughput_tiles_s", float64(stats.Decode.Tiles)/elapsed.Seconds()),
	}
	for _, f := range stats.Files {
		fields = append(fields, zap.Int64(f.Table, f.RowsLoaded))
	}
	log.Info("Export complete", fields...)
}
