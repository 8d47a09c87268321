package cmd

import (
	"context"
	"encoding/json"
	"os"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/mapfile-go/internal/feature"
	"github.com/wegman-software/mapfile-go/internal/logger"
	"github.com/wegman-software/mapfile-go/internal/proj"
	"github.com/wegman-software/mapfile-go/internal/style"
	"github.com/wegman-software/mapfile-go/internal/tiles"
)

var (
	queryOutput string
	queryIndent bool
)

var queryCmd = &cobra.Command{
	Use:   "query <file.map> --tile z/x/y",
	Short: "Decode one tile and print it as GeoJSON",
	Long: `Decode all POIs and ways of one tile and write them as a GeoJSON
FeatureCollection. Tags become properties; the feature kind, layer and
label position are added as @kind, @layer and @label.

Tiles above the file's maximum zoom level are answered from the deepest
zoom level, tiles below its minimum from the shallowest.`,
	Args: cobra.ExactArgs(1),
	Run:  runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)

	addDecodeFlags(queryCmd)
	queryCmd.Flags().StringVarP(&cfg.Tile, "tile", "t", "", "Tile to decode as z/x/y")
	queryCmd.Flags().StringVarP(&queryOutput, "output", "o", "", "Write GeoJSON to this file instead of stdout")
	queryCmd.Flags().BoolVar(&queryIndent, "indent", false, "Indent the GeoJSON output")
	queryCmd.MarkFlagRequired("tile")
}

func runQuery(cmd *cobra.Command, args []string) {
	applyDecodeFlags(args[0])
	log := logger.Get()

	tile, err := tiles.ParseTile(cfg.Tile)
	if err != nil {
		exitWithError("invalid tile", err)
	}

	st := style.DefaultConfig()
	if cfg.StyleFile != "" {
		if st, err = style.LoadConfig(cfg.StyleFile); err != nil {
			exitWithError("failed to load style", err)
		}
	}
	transformer, err := proj.NewTransformer(cfg.Projection)
	if err != nil {
		exitWithError("invalid projection", err)
	}

	db := openDatabase()
	defer db.Close()

	collection := feature.NewCollection()
	builder := feature.NewBuilder(st, func(f feature.Feature) {
		f.Geometry = transformer.Geometry(f.Geometry)
		if f.HasLabel {
			f.Label = transformer.Point(f.Label)
		}
		collection.Add(f)
	})

	dec := db.NewDecoder(cfg.DecoderOptions(log))
	res, err := dec.ExecuteQuery(context.Background(), tile, builder)
	if err != nil {
		exitWithError("query failed", err)
	}

	stats := builder.Stats()
	log.Debug("Tile decoded",
		zap.String("tile", tiles.Format(tile)),
		zap.Int("query_zoom", db.Header().QueryZoomLevel(int(tile.Z))),
		zap.Bool("water", res.Water),
		zap.Int("blocks_read", res.BlocksRead),
		zap.Int("blocks_failed", res.BlocksFailed),
		zap.Int("points", stats.Points),
		zap.Int("lines", stats.Lines),
		zap.Int("polygons", stats.Polygons),
		zap.Int("filtered", stats.Filtered))

	out := cmd.OutOrStdout()
	if queryOutput != "" {
		f, err := os.Create(queryOutput)
		if err != nil {
			exitWithError("failed to create output file", err)
		}
		defer f.Close()
		out = f
	}

	enc := json.NewEncoder(out)
	if queryIndent {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(collection); err != nil {
		exitWithError("failed to write GeoJSON", err)
	}
}
