package cmd

import (
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/mapfile-go/internal/config"
	"github.com/wegman-software/mapfile-go/internal/logger"
)

var (
	cfg             = config.DefaultConfig()
	verbose         bool
	logFile         string
	metricsInterval time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "mapfile-go",
	Short: "Decoder for mapsforge binary vector map files",
	Long: `mapfile-go reads mapsforge binary map files (.map) and turns their tiles
into points, lines and polygons.

Features:
  - Memory-mapped, concurrent tile decoding with a shared block index cache
  - GeoJSON output for single tiles
  - Parallel export of whole areas to Parquet
  - Streaming import into PostgreSQL/PostGIS with COPY`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg.Verbose = verbose
		cfg.LogFile = logFile
		cfg.MetricsInterval = metricsInterval

		logger.Init(logger.Options{Debug: verbose, File: logFile})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().IntVarP(&cfg.Workers, "workers", "j", cfg.Workers, "Number of parallel tile decoders")

	// Logging and metrics flags
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Path to log file for persistent logging (JSON format)")
	rootCmd.PersistentFlags().DurationVar(&metricsInterval, "metrics-interval", cfg.MetricsInterval, "Interval for decode progress metrics (e.g., 10s, 1m, 0 to disable)")

	// Map file access
	rootCmd.PersistentFlags().IntVar(&cfg.IndexCacheSize, "index-cache", cfg.IndexCacheSize, "Number of index blocks kept in memory")
	rootCmd.PersistentFlags().BoolVar(&cfg.DisableMmap, "no-mmap", false, "Read the map file with pread instead of mmap")
}

// addDatabaseFlags registers the PostgreSQL connection flags on c
func addDatabaseFlags(c *cobra.Command) {
	c.Flags().StringVar(&cfg.DBHost, "db-host", cfg.DBHost, "PostgreSQL host")
	c.Flags().IntVar(&cfg.DBPort, "db-port", cfg.DBPort, "PostgreSQL port")
	c.Flags().StringVarP(&cfg.DBName, "db-name", "d", cfg.DBName, "PostgreSQL database name")
	c.Flags().StringVarP(&cfg.DBUser, "db-user", "U", cfg.DBUser, "PostgreSQL user")
	c.Flags().StringVarP(&cfg.DBPassword, "db-password", "W", cfg.DBPassword, "PostgreSQL password")
	c.Flags().StringVar(&cfg.DBSchema, "db-schema", cfg.DBSchema, "PostgreSQL schema")
	c.Flags().StringVar(&cfg.TablePrefix, "prefix", cfg.TablePrefix, "Prefix of the point, line and polygon tables")
	c.Flags().BoolVar(&cfg.Hstore, "hstore", false, "Use hstore instead of JSONB for tags column")
	c.Flags().BoolVar(&createIndexes, "create-indexes", true, "Create spatial indexes after loading")
	c.Flags().BoolVar(&dropExisting, "drop-existing", false, "Drop existing tables before loading")
}

func exitWithError(msg string, err error) {
	log := logger.Get()
	if err != nil {
		log.Error(msg, zap.Error(err))
	} else {
		log.Error(msg)
	}
	logger.Sync()
	os.Exit(1)
}
