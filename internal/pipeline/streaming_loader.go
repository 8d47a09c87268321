package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wegman-software/mapfile-go/internal/config"
	"github.com/wegman-software/mapfile-go/internal/feature"
	"github.com/wegman-software/mapfile-go/internal/logger"
)

// LiveLoadStats tracks real-time loading statistics
type LiveLoadStats struct {
	PointsLoaded   atomic.Int64
	LinesLoaded    atomic.Int64
	PolygonsLoaded atomic.Int64
	StartTime      time.Time
}

// GetStats returns current load statistics
func (s *LiveLoadStats) GetStats() (points, lines, polygons int64) {
	return s.PointsLoaded.Load(), s.LinesLoaded.Load(), s.PolygonsLoaded.Load()
}

func (s *LiveLoadStats) counter(kind feature.Kind) *atomic.Int64 {
	switch kind {
	case feature.Point:
		return &s.PointsLoaded
	case feature.Line:
		return &s.LinesLoaded
	default:
		return &s.PolygonsLoaded
	}
}

// TableName returns the output table of a geometry kind
func TableName(prefix string, kind feature.Kind) string {
	return prefix + "_" + kind.String()
}

// copyColumns are the columns filled by COPY, in row order
var copyColumns = []string{"feature_id", "layer", "tile", "tags", "geom"}

// StreamingLoader loads geometries from channels into PostgreSQL
type StreamingLoader struct {
	cfg       *config.Config
	pool      *pgxpool.Pool
	liveStats *LiveLoadStats
}

// NewStreamingLoader creates a new streaming PostgreSQL loader
func NewStreamingLoader(cfg *config.Config) (*StreamingLoader, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	// 3 loaders + 1 for setup/indexes
	poolConfig.MaxConns = 4

	if cfg.Hstore {
		poolConfig.AfterConnect = registerHstore
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	return &StreamingLoader{
		cfg:       cfg,
		pool:      pool,
		liveStats: &LiveLoadStats{StartTime: time.Now()},
	}, nil
}

// registerHstore looks up the hstore OID so pgx can encode pgtype.Hstore
func registerHstore(ctx context.Context, conn *pgx.Conn) error {
	var oid uint32
	err := conn.QueryRow(ctx, "SELECT oid FROM pg_type WHERE typname = 'hstore'").Scan(&oid)
	if err != nil {
		return fmt.Errorf("failed to get hstore OID: %w", err)
	}
	conn.TypeMap().RegisterType(&pgtype.Type{
		Name:  "hstore",
		OID:   oid,
		Codec: pgtype.HstoreCodec{},
	})
	return nil
}

// LiveStats returns the live loading statistics
func (l *StreamingLoader) LiveStats() *LiveLoadStats {
	return l.liveStats
}

// Close closes all database connections
func (l *StreamingLoader) Close() error {
	l.pool.Close()
	return nil
}

// EnsureSchema creates the PostGIS extension and schema if needed
func (l *StreamingLoader) EnsureSchema(ctx context.Context) error {
	if _, err := l.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS postgis"); err != nil {
		return fmt.Errorf("failed to create PostGIS extension: %w", err)
	}

	if l.cfg.Hstore {
		if _, err := l.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS hstore"); err != nil {
			return fmt.Errorf("failed to create hstore extension: %w", err)
		}
	}

	if l.cfg.DBSchema != "public" {
		schema := pgx.Identifier{l.cfg.DBSchema}.Sanitize()
		if _, err := l.pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+schema); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return nil
}

func (l *StreamingLoader) qualified(tableName string) string {
	return pgx.Identifier{l.cfg.DBSchema, tableName}.Sanitize()
}

// createTableSQL returns the DDL of an output table
func createTableSQL(fullTableName string, srid int, hstore bool) string {
	tagsType := "JSONB"
	if hstore {
		tagsType = "hstore"
	}
	return fmt.Sprintf(`
		CREATE UNLOGGED TABLE IF NOT EXISTS %s (
			feature_id BIGINT NOT NULL,
			layer SMALLINT NOT NULL,
			tile TEXT NOT NULL,
			tags %s,
			geom GEOMETRY(Geometry, %d)
		)
	`, fullTableName, tagsType, srid)
}

// PrepareTable creates or truncates a table for loading
func (l *StreamingLoader) PrepareTable(ctx context.Context, tableName string, dropExisting bool) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Release()

	fullTableName := l.qualified(tableName)

	if dropExisting {
		if _, err := conn.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", fullTableName)); err != nil {
			return fmt.Errorf("failed to drop table: %w", err)
		}
	}

	srid := l.cfg.Projection
	if srid == 0 {
		srid = 4326
	}

	if _, err := conn.Exec(ctx, createTableSQL(fullTableName, srid, l.cfg.Hstore)); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	if !dropExisting {
		if _, err := conn.Exec(ctx, fmt.Sprintf("TRUNCATE %s", fullTableName)); err != nil {
			return fmt.Errorf("failed to truncate table: %w", err)
		}
	}

	return nil
}

// LoadStream consumes geometry records of one kind and loads them with COPY
func (l *StreamingLoader) LoadStream(ctx context.Context, kind feature.Kind, records <-chan GeometryRecord) (int64, error) {
	log := logger.Get()
	tableName := TableName(l.cfg.TablePrefix, kind)

	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Release()

	log.Info("Starting stream load", zap.String("table", tableName))

	src := newRowSource(ctx, records, l.cfg.Hstore, l.liveStats.counter(kind))
	// PostGIS accepts raw EWKB bytes for geometry columns
	count, err := conn.Conn().CopyFrom(ctx, pgx.Identifier{l.cfg.DBSchema, tableName}, copyColumns, src)
	if err != nil {
		return 0, fmt.Errorf("COPY failed: %w", err)
	}

	if _, err := conn.Exec(ctx, fmt.Sprintf("ALTER TABLE %s SET LOGGED", l.qualified(tableName))); err != nil {
		log.Warn("Failed to convert table to logged", zap.String("table", tableName), zap.Error(err))
	}

	log.Info("Stream load complete", zap.String("table", tableName), zap.Int64("rows", count))
	return count, nil
}

// CreateIndexes creates spatial and feature id indexes on a table
func (l *StreamingLoader) CreateIndexes(ctx context.Context, tableName string) error {
	log := logger.Get()
	fullTableName := l.qualified(tableName)

	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SET maintenance_work_mem = '2GB'"); err != nil {
		log.Debug("Could not raise maintenance_work_mem", zap.Error(err))
	}

	log.Info("Creating indexes", zap.String("table", tableName))

	gistIdx := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING GIST (geom)",
		pgx.Identifier{tableName + "_geom_idx"}.Sanitize(), fullTableName)
	if _, err := conn.Exec(ctx, gistIdx); err != nil {
		return fmt.Errorf("failed to create GIST index: %w", err)
	}

	btreeIdx := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (feature_id)",
		pgx.Identifier{tableName + "_feature_id_idx"}.Sanitize(), fullTableName)
	if _, err := conn.Exec(ctx, btreeIdx); err != nil {
		return fmt.Errorf("failed to create B-tree index: %w", err)
	}

	if _, err := conn.Exec(ctx, fmt.Sprintf("ANALYZE %s", fullTableName)); err != nil {
		return fmt.Errorf("failed to analyze table: %w", err)
	}

	log.Info("Indexes created", zap.String("table", tableName))
	return nil
}

// rowSource implements pgx.CopyFromSource directly over a record channel
type rowSource struct {
	ctx     context.Context
	records <-chan GeometryRecord
	hstore  bool
	counter *atomic.Int64
	current []any
}

func newRowSource(ctx context.Context, records <-chan GeometryRecord, hstore bool, counter *atomic.Int64) *rowSource {
	return &rowSource{ctx: ctx, records: records, hstore: hstore, counter: counter}
}

func (r *rowSource) Next() bool {
	select {
	case rec, ok := <-r.records:
		if !ok {
			return false
		}
		var tags any = rec.Tags
		if r.hstore {
			tags = jsonToHstore(rec.Tags)
		}
		r.current = []any{rec.FeatureID, int16(rec.Layer), rec.Tile, tags, rec.GeomWKB}
		if r.counter != nil {
			r.counter.Add(1)
		}
		return true
	case <-r.ctx.Done():
		return false
	}
}

func (r *rowSource) Values() ([]any, error) {
	return r.current, nil
}

func (r *rowSource) Err() error {
	return r.ctx.Err()
}

// jsonToHstore converts a JSON string to pgtype.Hstore for proper pgx encoding
func jsonToHstore(jsonStr string) pgtype.Hstore {
	if jsonStr == "" || jsonStr == "{}" {
		return pgtype.Hstore{}
	}

	var tags map[string]string
	if err := json.Unmarshal([]byte(jsonStr), &tags); err != nil {
		return pgtype.Hstore{}
	}

	result := make(pgtype.Hstore, len(tags))
	for k, v := range tags {
		v := v
		result[k] = &v
	}
	return result
}
