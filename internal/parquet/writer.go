// Package parquet writes decoded features to Parquet files.
package parquet

import (
	"encoding/json"
	"errors"
	"os"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"
	"github.com/paulmach/osm"
)

// TagsToJSON converts tags to a JSON object string
func TagsToJSON(tags osm.Tags) string {
	if len(tags) == 0 {
		return "{}"
	}
	b, _ := json.Marshal(tags.Map())
	return string(b)
}

// FeatureSchema is the column layout of every feature file
var FeatureSchema = arrow.NewSchema([]arrow.Field{
	{Name: "feature_id", Type: arrow.PrimitiveTypes.Int64, Nullable: false},
	{Name: "kind", Type: arrow.BinaryTypes.String, Nullable: false},
	{Name: "layer", Type: arrow.PrimitiveTypes.Int8, Nullable: false},
	{Name: "tile", Type: arrow.BinaryTypes.String, Nullable: false},
	{Name: "tags", Type: arrow.BinaryTypes.String, Nullable: false},
	{Name: "geom_wkb", Type: arrow.BinaryTypes.Binary, Nullable: false},
}, nil)

// FeatureWriter writes features with WKB geometry in record batches
type FeatureWriter struct {
	path      string
	file      *os.File
	writer    *pqarrow.FileWriter
	builder   *array.RecordBuilder
	batchSize int
	count     int
	total     int64
}

// NewFeatureWriter creates a Zstd compressed feature file at path
func NewFeatureWriter(path string, batchSize int) (*FeatureWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Zstd),
		parquet.WithDictionaryDefault(false),
	)

	writer, err := pqarrow.NewFileWriter(FeatureSchema, f, writerProps, pqarrow.DefaultWriterProps())
	if err != nil {
		f.Close()
		return nil, err
	}

	if batchSize < 1 {
		batchSize = 1
	}

	return &FeatureWriter{
		path:      path,
		file:      f,
		writer:    writer,
		builder:   array.NewRecordBuilder(memory.DefaultAllocator, FeatureSchema),
		batchSize: batchSize,
	}, nil
}

// Write appends one feature. geomWKB is copied.
func (w *FeatureWriter) Write(featureID int64, kind string, layer int8, tile, tags string, geomWKB []byte) error {
	w.builder.Field(0).(*array.Int64Builder).Append(featureID)
	w.builder.Field(1).(*array.StringBuilder).Append(kind)
	w.builder.Field(2).(*array.Int8Builder).Append(layer)
	w.builder.Field(3).(*array.StringBuilder).Append(tile)
	w.builder.Field(4).(*array.StringBuilder).Append(tags)
	w.builder.Field(5).(*array.BinaryBuilder).Append(geomWKB)

	w.count++
	w.total++
	if w.count >= w.batchSize {
		return w.flush()
	}
	return nil
}

// Path returns the output file path
func (w *FeatureWriter) Path() string {
	return w.path
}

// Count returns the number of features written
func (w *FeatureWriter) Count() int64 {
	return w.total
}

func (w *FeatureWriter) flush() error {
	if w.count == 0 {
		return nil
	}
	rec := w.builder.NewRecord()
	defer rec.Release()
	err := w.writer.Write(rec)
	w.count = 0
	return err
}

// Close flushes pending rows and closes the file
func (w *FeatureWriter) Close() error {
	defer w.builder.Release()
	if err := w.flush(); err != nil {
		w.writer.Close()
		return err
	}
	if err := w.writer.Close(); err != nil {
		return err
	}
	// pqarrow may already have closed the file
	if err := w.file.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return err
	}
	return nil
}
