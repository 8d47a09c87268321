package parquet

import (
	"context"
	"fmt"
	"os"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/parquet/file"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"
)

// Row is one feature read back from a feature file
type Row struct {
	FeatureID int64
	Kind      string
	Layer     int8
	Tile      string
	Tags      string
	GeomWKB   []byte
}

// ReadFeatures calls fn for every row of the feature file at path. The
// GeomWKB slice is only valid during the call.
func ReadFeatures(ctx context.Context, path string, fn func(Row) error) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open parquet file: %w", err)
	}
	defer f.Close()

	pf, err := file.NewParquetReader(f)
	if err != nil {
		return 0, fmt.Errorf("failed to create parquet reader: %w", err)
	}
	defer pf.Close()

	arrowReader, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create arrow reader: %w", err)
	}

	tbl, err := arrowReader.ReadTable(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read table: %w", err)
	}
	defer tbl.Release()

	cols := make([]*arrow.Chunked, len(FeatureSchema.Fields()))
	for i, field := range FeatureSchema.Fields() {
		idx := tbl.Schema().FieldIndices(field.Name)
		if len(idx) == 0 {
			return 0, fmt.Errorf("%s: missing column %q", path, field.Name)
		}
		cols[i] = tbl.Column(idx[0]).Data()
	}

	var count int64
	for chunk := range cols[0].Chunks() {
		ids, ok := cols[0].Chunk(chunk).(*array.Int64)
		if !ok {
			return count, fmt.Errorf("%s: feature_id is %s", path, cols[0].DataType())
		}
		kinds, ok1 := cols[1].Chunk(chunk).(*array.String)
		tileNames, ok2 := cols[3].Chunk(chunk).(*array.String)
		tags, ok3 := cols[4].Chunk(chunk).(*array.String)
		geoms, ok4 := cols[5].Chunk(chunk).(*array.Binary)
		if !ok1 || !ok2 || !ok3 || !ok4 {
			return count, fmt.Errorf("%s: unexpected column types", path)
		}
		layers := cols[2].Chunk(chunk)

		for i := 0; i < ids.Len(); i++ {
			if err := ctx.Err(); err != nil {
				return count, err
			}
			layer, err := int8Value(layers, i)
			if err != nil {
				return count, fmt.Errorf("%s: %w", path, err)
			}
			row := Row{
				FeatureID: ids.Value(i),
				Kind:      kinds.Value(i),
				Layer:     layer,
				Tile:      tileNames.Value(i),
				Tags:      tags.Value(i),
				GeomWKB:   geoms.Value(i),
			}
			if err := fn(row); err != nil {
				return count, err
			}
			count++
		}
	}
	return count, nil
}

// int8Value reads the layer column, which comes back as int32 when the file
// was written without the arrow schema
func int8Value(arr arrow.Array, i int) (int8, error) {
	switch a := arr.(type) {
	case *array.Int8:
		return a.Value(i), nil
	case *array.Int16:
		return int8(a.Value(i)), nil
	case *array.Int32:
		return int8(a.Value(i)), nil
	}
	return 0, fmt.Errorf("layer column has type %s", arr.DataType())
}
