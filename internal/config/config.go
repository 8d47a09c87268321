package config

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"github.com/wegman-software/mapfile-go/internal/mapfile"
	"github.com/wegman-software/mapfile-go/internal/tiles"
)

// BBox represents a geographic bounding box
type BBox struct {
	MinLon, MinLat, MaxLon, MaxLat float64
	IsSet                          bool
}

// Bound returns the box as an orb.Bound
func (b *BBox) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{b.MinLon, b.MinLat},
		Max: orb.Point{b.MaxLon, b.MaxLat},
	}
}

// ParseBBox parses a bbox string in format "minlon,minlat,maxlon,maxlat"
func ParseBBox(s string) (*BBox, error) {
	if s == "" {
		return &BBox{IsSet: false}, nil
	}

	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("bbox must have 4 values: minlon,minlat,maxlon,maxlat")
	}

	var coords [4]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid bbox coordinate %q: %w", p, err)
		}
		coords[i] = v
	}

	bbox := &BBox{
		MinLon: coords[0],
		MinLat: coords[1],
		MaxLon: coords[2],
		MaxLat: coords[3],
		IsSet:  true,
	}

	if bbox.MinLon > bbox.MaxLon {
		return nil, fmt.Errorf("minlon (%f) must be <= maxlon (%f)", bbox.MinLon, bbox.MaxLon)
	}
	if bbox.MinLat > bbox.MaxLat {
		return nil, fmt.Errorf("minlat (%f) must be <= maxlat (%f)", bbox.MinLat, bbox.MaxLat)
	}
	if bbox.MinLon < -180 || bbox.MaxLon > 180 || bbox.MinLat < -90 || bbox.MaxLat > 90 {
		return nil, fmt.Errorf("bbox %s is outside the valid coordinate range", s)
	}

	return bbox, nil
}

// Config holds the configuration shared by all commands
type Config struct {
	// Input settings
	InputFile string
	Tile      string // z/x/y for single tile queries
	Zoom      int    // Query zoom level for export and import
	BBox      *BBox  // Area to decode, defaults to the map file's bounding box

	// Output settings
	OutputDir   string
	Projection  int    // Target SRID (4326 or 3857)
	StyleFile   string // Path to style YAML file for tag filtering
	TablePrefix string // Prefix of the point/line/polygon tables
	Dedupe      bool   // Drop ways repeated in neighbouring blocks

	// Database settings
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSchema   string
	Hstore     bool // Use hstore instead of JSONB for tags

	// Processing settings
	Workers   int
	BatchSize int

	// Decoder settings
	MinLatDelta        int // Simplification threshold in microdegrees
	MinLonDelta        int
	CoordinateCapacity int
	IndexCacheSize     int
	ResolveWayStrings  bool
	DisableMmap        bool

	// Logging and metrics
	Verbose         bool
	LogFile         string        // Path to log file (empty = no file logging)
	MetricsInterval time.Duration // Interval for system metrics logging
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Zoom:               14,
		BBox:               &BBox{},
		OutputDir:          "./mapfile_data",
		Projection:         4326, // WGS84 by default
		TablePrefix:        "mapfile",
		DBHost:             "localhost",
		DBPort:             5432,
		DBName:             "gis",
		DBUser:             "postgres",
		DBSchema:           "public",
		Workers:            runtime.NumCPU(),
		BatchSize:          100000,
		CoordinateCapacity: mapfile.DefaultCoordinateCapacity,
		IndexCacheSize:     mapfile.DefaultIndexCacheSize,
		MetricsInterval:    30 * time.Second,
	}
}

// ConnectionString returns a PostgreSQL connection string
func (c *Config) ConnectionString() string {
	connStr := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBName, c.DBUser,
	)
	if c.DBPassword != "" {
		connStr += fmt.Sprintf(" password=%s", c.DBPassword)
	}
	return connStr
}

// DatabaseOptions returns the options for opening the map file
func (c *Config) DatabaseOptions() mapfile.DatabaseOptions {
	return mapfile.DatabaseOptions{
		IndexCacheSize: c.IndexCacheSize,
		DisableMmap:    c.DisableMmap,
	}
}

// DecoderOptions returns the options for each decoder
func (c *Config) DecoderOptions(log *zap.Logger) mapfile.Options {
	return mapfile.Options{
		MinLatDelta:        int32(c.MinLatDelta),
		MinLonDelta:        int32(c.MinLonDelta),
		CoordinateCapacity: c.CoordinateCapacity,
		ResolveWayStrings:  c.ResolveWayStrings,
		Logger:             log,
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.InputFile == "" {
		return fmt.Errorf("input file is required")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if c.BatchSize < 1000 {
		return fmt.Errorf("batch size must be at least 1000")
	}
	if c.Zoom < 0 || c.Zoom > tiles.MaxZoom {
		return fmt.Errorf("zoom must be between 0 and %d", tiles.MaxZoom)
	}
	if c.MinLatDelta < 0 || c.MinLonDelta < 0 {
		return fmt.Errorf("simplification thresholds must not be negative")
	}
	if c.CoordinateCapacity < 2*mapfile.MaxWayNodesSequenceLength {
		return fmt.Errorf("coordinate capacity must be at least %d", 2*mapfile.MaxWayNodesSequenceLength)
	}
	if c.IndexCacheSize < 0 {
		return fmt.Errorf("index cache size must not be negative")
	}
	return nil
}
