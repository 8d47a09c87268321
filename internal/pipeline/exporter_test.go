package pipeline

import (
	"context"
	"encoding/binary"
	"math"
	"testing"

	"github.com/paulmach/orb"

	"github.com/wegman-software/mapfile-go/internal/config"
	"github.com/wegman-software/mapfile-go/internal/feature"
	"github.com/wegman-software/mapfile-go/internal/mapfile"
	"github.com/wegman-software/mapfile-go/internal/parquet"
)

func testConfig(t *testing.T, zoom int) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.InputFile = writeTestMap(t)
	cfg.OutputDir = t.TempDir()
	cfg.Zoom = zoom
	cfg.Workers = 2
	cfg.BatchSize = 1000
	cfg.MetricsInterval = 0
	return cfg
}

func openTestMap(t *testing.T, cfg *config.Config) *mapfile.Database {
	t.Helper()
	db, err := mapfile.Open(cfg.InputFile, cfg.DatabaseOptions())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func readRows(t *testing.T, path string) []parquet.Row {
	t.Helper()
	var rows []parquet.Row
	_, err := parquet.ReadFeatures(context.Background(), path, func(r parquet.Row) error {
		r.GeomWKB = append([]byte(nil), r.GeomWKB...)
		rows = append(rows, r)
		return nil
	})
	if err != nil {
		t.Fatalf("ReadFeatures(%s): %v", path, err)
	}
	return rows
}

func TestExporterBaseZoom(t *testing.T) {
	cfg := testConfig(t, 0)
	db := openTestMap(t, cfg)

	exp, err := NewExporter(cfg, db, 16)
	if err != nil {
		t.Fatalf("NewExporter: %v", err)
	}
	stats, err := exp.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if stats.Decode.Tiles != 1 || stats.Decode.TilesFailed != 0 {
		t.Errorf("tiles = %d, failed = %d", stats.Decode.Tiles, stats.Decode.TilesFailed)
	}
	if stats.Decode.POIs != 1 || stats.Decode.Ways != 2 {
		t.Errorf("pois = %d, ways = %d", stats.Decode.POIs, stats.Decode.Ways)
	}
	for i, want := range []int64{1, 1, 1} {
		if got := stats.Files[i].RowsLoaded; got != want {
			t.Errorf("%s rows = %d, want %d", stats.Files[i].Table, got, want)
		}
	}

	points := readRows(t, ParquetFile(cfg.OutputDir, feature.Point))
	if len(points) != 1 {
		t.Fatalf("points = %d", len(points))
	}
	if points[0].Kind != "point" || points[0].Tile != "0/0/0" {
		t.Errorf("unexpected point row %+v", points[0])
	}
	if points[0].Tags != `{"amenity":"cafe","name":"Café Eins"}` {
		t.Errorf("point tags = %s", points[0].Tags)
	}
	typ, srid := ewkbHeader(t, points[0].GeomWKB)
	if typ != 1 || srid != 4326 {
		t.Errorf("point type = %d, srid = %d", typ, srid)
	}
	p := ewkbPoint(points[0].GeomWKB[9:])
	if !nearly(p[0], 13.4) || !nearly(p[1], 52.5) {
		t.Errorf("point geometry = %v", p)
	}

	polygons := readRows(t, ParquetFile(cfg.OutputDir, feature.Polygon))
	if len(polygons) != 1 || polygons[0].Tags != `{"building":"yes"}` {
		t.Fatalf("polygons = %+v", polygons)
	}
	geom := polygons[0].GeomWKB
	if typ, _ := ewkbHeader(t, geom); typ != 3 {
		t.Errorf("polygon type = %d", typ)
	}
	rings := binary.LittleEndian.Uint32(geom[9:])
	ringPoints := binary.LittleEndian.Uint32(geom[13:])
	if rings != 1 || ringPoints != 5 {
		t.Errorf("polygon has %d rings, %d points", rings, ringPoints)
	}

	lines := readRows(t, ParquetFile(cfg.OutputDir, feature.Line))
	if len(lines) != 1 || lines[0].Tags != `{"highway":"residential"}` {
		t.Fatalf("lines = %+v", lines)
	}
}

func TestExporterDedupe(t *testing.T) {
	tests := []struct {
		name       string
		dedupe     bool
		perKind    int64
		duplicates int64
	}{
		{"keep repeats", false, 4, 0},
		{"dedupe", true, 1, 9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t, 1)
			cfg.Dedupe = tt.dedupe
			db := openTestMap(t, cfg)

			exp, err := NewExporter(cfg, db, 16)
			if err != nil {
				t.Fatalf("NewExporter: %v", err)
			}
			if got := exp.decoder.TileRange().Count(); got != 4 {
				t.Fatalf("tile range = %d tiles, want 4", got)
			}

			stats, err := exp.Run(context.Background())
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if stats.Decode.Tiles != 4 {
				t.Errorf("tiles = %d, want 4", stats.Decode.Tiles)
			}
			for _, f := range stats.Files {
				if f.RowsLoaded != tt.perKind {
					t.Errorf("%s rows = %d, want %d", f.Table, f.RowsLoaded, tt.perKind)
				}
			}
			if stats.Decode.Duplicates != tt.duplicates {
				t.Errorf("duplicates = %d, want %d", stats.Decode.Duplicates, tt.duplicates)
			}
		})
	}
}

func TestExporterStyleFilter(t *testing.T) {
	cfg := testConfig(t, 0)
	cfg.StyleFile = writeFile(t, "style.yaml", `
polygons:
  exclude:
    building: []
`)
	db := openTestMap(t, cfg)

	exp, err := NewExporter(cfg, db, 16)
	if err != nil {
		t.Fatalf("NewExporter: %v", err)
	}
	stats, err := exp.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Files[2].RowsLoaded != 0 || stats.Decode.Filtered != 1 {
		t.Errorf("polygons = %d, filtered = %d", stats.Files[2].RowsLoaded, stats.Decode.Filtered)
	}
	if stats.Files[0].RowsLoaded != 1 || stats.Files[1].RowsLoaded != 1 {
		t.Errorf("points = %d, lines = %d", stats.Files[0].RowsLoaded, stats.Files[1].RowsLoaded)
	}
}

func TestExporterWebMercator(t *testing.T) {
	cfg := testConfig(t, 0)
	cfg.Projection = 3857
	db := openTestMap(t, cfg)

	exp, err := NewExporter(cfg, db, 16)
	if err != nil {
		t.Fatalf("NewExporter: %v", err)
	}
	if _, err := exp.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	rows := readRows(t, ParquetFile(cfg.OutputDir, feature.Point))
	if len(rows) != 1 {
		t.Fatalf("points = %d", len(rows))
	}
	if _, srid := ewkbHeader(t, rows[0].GeomWKB); srid != 3857 {
		t.Errorf("srid = %d, want 3857", srid)
	}
	p := ewkbPoint(rows[0].GeomWKB[9:])
	// 13.4° east is about 1.49e6 m
	if p[0] < 1.49e6 || p[0] > 1.50e6 {
		t.Errorf("x = %f", p[0])
	}
}

func TestExporterCancelled(t *testing.T) {
	cfg := testConfig(t, 1)
	db := openTestMap(t, cfg)

	exp, err := NewExporter(cfg, db, 1)
	if err != nil {
		t.Fatalf("NewExporter: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := exp.Run(ctx); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

// ewkbHeader returns the geometry type and SRID of little-endian EWKB
func ewkbHeader(t *testing.T, b []byte) (typ, srid uint32) {
	t.Helper()
	if len(b) < 9 || b[0] != 1 {
		t.Fatalf("not little-endian EWKB: %x", b)
	}
	typ = binary.LittleEndian.Uint32(b[1:])
	if typ&0x20000000 == 0 {
		t.Fatalf("EWKB without SRID: %x", b)
	}
	return typ &^ 0x20000000, binary.LittleEndian.Uint32(b[5:])
}

func ewkbPoint(b []byte) orb.Point {
	return orb.Point{
		math.Float64frombits(binary.LittleEndian.Uint64(b)),
		math.Float64frombits(binary.LittleEndian.Uint64(b[8:])),
	}
}

func nearly(a, b float64) bool {
	d := a - b
	return d < 1e-6 && d > -1e-6
}
