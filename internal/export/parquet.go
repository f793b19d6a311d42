package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"
	"github.com/paulmach/orb/encoding/wkt"
	"go.uber.org/zap"

	"github.com/wegman-software/osmhistory-go/internal/logger"
	"github.com/wegman-software/osmhistory-go/internal/proj"
)

var rowSchema = arrow.NewSchema([]arrow.Field{
	{Name: "osm_id", Type: arrow.PrimitiveTypes.Int64, Nullable: false},
	{Name: "osm_type", Type: arrow.BinaryTypes.String, Nullable: false},
	{Name: "classcode", Type: arrow.PrimitiveTypes.Int32, Nullable: false},
	{Name: "class", Type: arrow.BinaryTypes.String, Nullable: false},
	{Name: "subclass", Type: arrow.BinaryTypes.String, Nullable: false},
	{Name: "name", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "tags", Type: arrow.BinaryTypes.String, Nullable: false},
	{Name: "valid_since", Type: arrow.FixedWidthTypes.Timestamp_us, Nullable: false},
	{Name: "valid_until", Type: arrow.FixedWidthTypes.Timestamp_us, Nullable: true},
	{Name: "geom_wkt", Type: arrow.BinaryTypes.String, Nullable: false},
}, nil)

// ParquetSink writes one zstd-compressed Parquet file per geometry class
type ParquetSink struct {
	dir       string
	tr        *proj.Transformer
	batchSize int
	log       *zap.Logger

	files map[GeometryClass]*rowFile
}

// NewParquetSink creates a sink writing <dir>/<class>.parquet
func NewParquetSink(dir string, tr *proj.Transformer, batchSize int) *ParquetSink {
	if batchSize < 1 {
		batchSize = 10000
	}
	return &ParquetSink{dir: dir, tr: tr, batchSize: batchSize, log: logger.Get()}
}

// Path returns the output file of a geometry class
func (s *ParquetSink) Path(class GeometryClass) string {
	return filepath.Join(s.dir, string(class)+".parquet")
}

// Prepare creates the output directory and files
func (s *ParquetSink) Prepare(ctx context.Context) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}
	s.files = make(map[GeometryClass]*rowFile, len(Classes))
	for _, class := range Classes {
		f, err := newRowFile(s.Path(class), s.batchSize)
		if err != nil {
			s.closeFiles()
			return fmt.Errorf("failed to create %s: %w", s.Path(class), err)
		}
		s.files[class] = f
	}
	return nil
}

// Write appends a row to its class file
func (s *ParquetSink) Write(ctx context.Context, row Row) error {
	geom := row.Geometry
	if s.tr.NeedsTransform() {
		g, err := decode(row)
		if err != nil {
			return err
		}
		geom = wkt.MarshalString(s.tr.Geometry(g))
	}
	return s.files[row.Class].write(row, geom)
}

// Close flushes and closes every file
func (s *ParquetSink) Close(ctx context.Context) error {
	if err := s.closeFiles(); err != nil {
		return err
	}
	for _, class := range Classes {
		s.log.Info("Parquet file written", zap.String("path", s.Path(class)))
	}
	return nil
}

func (s *ParquetSink) closeFiles() error {
	var first error
	for class, f := range s.files {
		if err := f.close(); err != nil && first == nil {
			first = fmt.Errorf("failed to close %s: %w", s.Path(class), err)
		}
	}
	s.files = nil
	return first
}

// rowFile is one Parquet file; writers from several scans share it
type rowFile struct {
	mu        sync.Mutex
	file      *os.File
	writer    *pqarrow.FileWriter
	builder   *array.RecordBuilder
	batchSize int
	count     int
}

func newRowFile(path string, batchSize int) (*rowFile, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Zstd),
		parquet.WithDictionaryDefault(false),
	)
	writer, err := pqarrow.NewFileWriter(rowSchema, f, writerProps, pqarrow.DefaultWriterProps())
	if err != nil {
		f.Close()
		return nil, err
	}

	return &rowFile{
		file:      f,
		writer:    writer,
		builder:   array.NewRecordBuilder(memory.DefaultAllocator, rowSchema),
		batchSize: batchSize,
	}, nil
}

func (w *rowFile) write(row Row, geom string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.builder.Field(0).(*array.Int64Builder).Append(row.OsmID)
	w.builder.Field(1).(*array.StringBuilder).Append(row.TypeCode())
	w.builder.Field(2).(*array.Int32Builder).Append(int32(row.ClassCode))
	w.builder.Field(3).(*array.StringBuilder).Append(row.ClassName)
	w.builder.Field(4).(*array.StringBuilder).Append(row.Subclass)
	if row.Name == "" {
		w.builder.Field(5).(*array.StringBuilder).AppendNull()
	} else {
		w.builder.Field(5).(*array.StringBuilder).Append(row.Name)
	}
	w.builder.Field(6).(*array.StringBuilder).Append(row.Tags)
	w.builder.Field(7).(*array.TimestampBuilder).Append(arrow.Timestamp(row.ValidSince.UnixMicro()))
	if row.ValidUntil == nil {
		w.builder.Field(8).(*array.TimestampBuilder).AppendNull()
	} else {
		w.builder.Field(8).(*array.TimestampBuilder).Append(arrow.Timestamp(row.ValidUntil.UnixMicro()))
	}
	w.builder.Field(9).(*array.StringBuilder).Append(geom)

	w.count++
	if w.count >= w.batchSize {
		return w.flush()
	}
	return nil
}

func (w *rowFile) flush() error {
	if w.count == 0 {
		return nil
	}
	rec := w.builder.NewRecord()
	defer rec.Release()
	err := w.writer.Write(rec)
	w.count = 0
	return err
}

func (w *rowFile) close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.flush(); err != nil {
		return err
	}
	w.builder.Release()
	if err := w.writer.Close(); err != nil {
		return err
	}
	if err := w.file.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return err
	}
	return nil
}
