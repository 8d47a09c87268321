package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wegman-software/mapfile-go/internal/config"
	"github.com/wegman-software/mapfile-go/internal/mapfile"
	"github.com/wegman-software/mapfile-go/internal/proj"
)

var (
	channelBuffer int
	bboxStr       string
	projectionStr string
	createIndexes bool
	dropExisting  bool
)

// addDecodeFlags registers the flags shared by commands that decode tiles
func addDecodeFlags(c *cobra.Command) {
	c.Flags().StringVarP(&projectionStr, "projection", "E", "4326", "Target projection SRID (4326 or 3857)")
	c.Flags().StringVarP(&cfg.StyleFile, "style", "S", "", "Style YAML file for tag and layer filtering")
	c.Flags().IntVar(&cfg.MinLatDelta, "min-lat-delta", 0, "Drop way nodes closer than this many microdegrees in latitude")
	c.Flags().IntVar(&cfg.MinLonDelta, "min-lon-delta", 0, "Drop way nodes closer than this many microdegrees in longitude")
	c.Flags().IntVar(&cfg.CoordinateCapacity, "coordinate-capacity", cfg.CoordinateCapacity, "Maximum coordinates of one decoded way")
	c.Flags().BoolVar(&cfg.ResolveWayStrings, "way-strings", false, "Add way names, house numbers and refs as tags")
}

// addAreaFlags registers the flags of commands that decode an area
func addAreaFlags(c *cobra.Command) {
	addDecodeFlags(c)
	c.Flags().IntVarP(&cfg.Zoom, "zoom", "z", cfg.Zoom, "Query zoom level")
	c.Flags().StringVarP(&bboxStr, "bbox", "b", "", "Bounding box: minlon,minlat,maxlon,maxlat (default: whole file)")
	c.Flags().BoolVar(&cfg.Dedupe, "dedupe", false, "Drop features repeated across tiles")
	c.Flags().IntVar(&channelBuffer, "channel-buffer", 50000, "Buffer size for geometry channels")
	c.Flags().IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "Rows per Parquet row group")
}

// applyDecodeFlags parses the string flags into cfg and validates it
func applyDecodeFlags(inputFile string) {
	cfg.InputFile = inputFile

	if bboxStr != "" {
		bbox, err := config.ParseBBox(bboxStr)
		if err != nil {
			exitWithError("invalid bbox", err)
		}
		cfg.BBox = bbox
	}

	srid, err := proj.ParseSRID(projectionStr)
	if err != nil {
		exitWithError("invalid projection", err)
	}
	cfg.Projection = srid

	if err := cfg.Validate(); err != nil {
		exitWithError("invalid configuration", err)
	}
}

// openDatabase opens the configured map file or exits
func openDatabase() *mapfile.Database {
	db, err := mapfile.Open(cfg.InputFile, cfg.DatabaseOptions())
	if err != nil {
		exitWithError("failed to open map file", err)
	}
	return db
}

func decodeLogFields() []zap.Field {
	fields := []zap.Field{
		zap.String("input", cfg.InputFile),
		zap.Int("zoom", cfg.Zoom),
		zap.Int("workers", cfg.Workers),
		zap.Int("projection", cfg.Projection),
	}
	if cfg.BBox != nil && cfg.BBox.IsSet {
		fields = append(fields, zap.String("bbox",
			fmt.Sprintf("%.4f,%.4f,%.4f,%.4f", cfg.BBox.MinLon, cfg.BBox.MinLat, cfg.BBox.MaxLon, cfg.BBox.MaxLat)))
	}
	if cfg.StyleFile != "" {
		fields = append(fields, zap.String("style", cfg.StyleFile))
	}
	if cfg.Dedupe {
		fields = append(fields, zap.Bool("dedupe", true))
	}
	return fields
}
