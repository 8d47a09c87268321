package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/wegman-software/mapfile-go/internal/mapfile"
	"github.com/wegman-software/mapfile-go/internal/pipeline"
)

var infoCmd = &cobra.Command{
	Use:   "info <file.map>",
	Short: "Print the header of a map file",
	Long: `Parse the header of a map file and print its metadata, tag tables and
sub-file layout.`,
	Args: cobra.ExactArgs(1),
	Run:  runInfo,
}

var showTags bool

func init() {
	rootCmd.AddCommand(infoCmd)

	infoCmd.Flags().BoolVar(&showTags, "tags", false, "List the POI and way tag tables")
}

func runInfo(cmd *cobra.Command, args []string) {
	cfg.InputFile = args[0]
	db := openDatabase()
	defer db.Close()

	if err := printHeader(cmd.OutOrStdout(), db.Header(), showTags); err != nil {
		exitWithError("failed to print header", err)
	}
}

func printHeader(out io.Writer, h *mapfile.Header, tags bool) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)

	fmt.Fprintf(w, "File version:\t%d\n", h.FileVersion)
	fmt.Fprintf(w, "File size:\t%s\n", pipeline.FormatBytes(h.FileSize))
	fmt.Fprintf(w, "Map date:\t%s\n", h.MapDate.Format(time.RFC3339))
	b := h.BoundingBox
	fmt.Fprintf(w, "Bounding box:\t%.6f,%.6f,%.6f,%.6f\n", b.Min[0], b.Min[1], b.Max[0], b.Max[1])
	fmt.Fprintf(w, "Tile size:\t%d px\n", h.TilePixelSize)
	fmt.Fprintf(w, "Projection:\t%s\n", h.Projection)
	fmt.Fprintf(w, "Zoom levels:\t%d-%d\n", h.ZoomLevelMin, h.ZoomLevelMax)
	if h.DebugFile {
		fmt.Fprintf(w, "Debug file:\tyes\n")
	}
	if h.StartPosition != nil {
		fmt.Fprintf(w, "Start position:\t%.6f,%.6f\n", h.StartPosition[1], h.StartPosition[0])
	}
	if h.StartZoomLevel >= 0 {
		fmt.Fprintf(w, "Start zoom:\t%d\n", h.StartZoomLevel)
	}
	if h.LanguagePreference != "" {
		fmt.Fprintf(w, "Languages:\t%s\n", h.LanguagePreference)
	}
	if h.Comment != "" {
		fmt.Fprintf(w, "Comment:\t%s\n", h.Comment)
	}
	if h.CreatedBy != "" {
		fmt.Fprintf(w, "Created by:\t%s\n", h.CreatedBy)
	}
	fmt.Fprintf(w, "POI tags:\t%d\n", len(h.POITags))
	fmt.Fprintf(w, "Way tags:\t%d\n", len(h.WayTags))

	fmt.Fprintf(w, "\nSub-file\tBase\tZooms\tBlocks\tSize\n")
	for i, sub := range h.SubFiles {
		fmt.Fprintf(w, "%d\t%d\t%d-%d\t%dx%d\t%s\n",
			i, sub.BaseZoomLevel, sub.ZoomLevelMin, sub.ZoomLevelMax,
			sub.BlocksWidth, sub.BlocksHeight, pipeline.FormatBytes(sub.SubFileSize))
	}

	if tags {
		fmt.Fprintf(w, "\nPOI tags\n")
		for i, t := range h.POITags {
			fmt.Fprintf(w, "%d\t%s=%s\n", i, t.Key, t.Value)
		}
		fmt.Fprintf(w, "\nWay tags\n")
		for i, t := range h.WayTags {
			fmt.Fprintf(w, "%d\t%s=%s\n", i, t.Key, t.Value)
		}
	}

	return w.Flush()
}
