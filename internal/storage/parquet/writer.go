package parquet

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/xtxerr/catwatch/internal/types"
)

// Options configures the Parquet writer.
type Options struct {
	// Compression algorithm
	Compression CompressionType

	// RowGroupSize is the target number of rows per row group
	RowGroupSize int64
}

// CompressionType represents a Parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionLZ4
	CompressionGzip
)

// DefaultOptions returns default Parquet options.
func DefaultOptions() Options {
	return Options{
		Compression:  CompressionZstd,
		RowGroupSize: 100000,
	}
}

// ParseCompressionType parses a compression type string.
func ParseCompressionType(s string) CompressionType {
	switch s {
	case "snappy":
		return CompressionSnappy
	case "zstd":
		return CompressionZstd
	case "lz4":
		return CompressionLZ4
	case "gzip":
		return CompressionGzip
	case "none", "":
		return CompressionNone
	default:
		return CompressionZstd
	}
}

// getCompression returns the parquet-go compression codec.
func getCompression(ct CompressionType) compress.Codec {
	switch ct {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &parquet.Zstd
	case CompressionLZ4:
		return &parquet.Lz4Raw
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// ReadingRow represents a reading in Parquet format.
// Day is the calendar day the archive assigned the reading to, so that
// queries can group without knowing the archive's time zone.
type ReadingRow struct {
	Day                 string  `parquet:"day,dict"`
	TimestampNs         int64   `parquet:"timestamp_ns"`
	COIn                float64 `parquet:"co_in"`
	COOut               float64 `parquet:"co_out"`
	Efficiency          float64 `parquet:"efficiency"`
	PredictedEfficiency float64 `parquet:"predicted_efficiency"`
	Voltage             float64 `parquet:"voltage"`
	Current             float64 `parquet:"current"`
	Power               float64 `parquet:"power"`
	Anomaly             bool    `parquet:"anomaly"`
	Recommendation      string  `parquet:"recommendation,dict"`
	Profile             string  `parquet:"profile,dict"`
}

// ReadingToRow converts a Reading to a ReadingRow.
func ReadingToRow(r *types.Reading, day string) ReadingRow {
	return ReadingRow{
		Day:                 day,
		TimestampNs:         r.Timestamp.UnixNano(),
		COIn:                r.COIn,
		COOut:               r.COOut,
		Efficiency:          r.Efficiency,
		PredictedEfficiency: r.PredictedEfficiency,
		Voltage:             r.Voltage,
		Current:             r.Current,
		Power:               r.Power,
		Anomaly:             r.Anomaly,
		Recommendation:      r.Recommendation,
		Profile:             r.Profile,
	}
}

// RowToReading converts a ReadingRow to a Reading.
func RowToReading(r *ReadingRow) types.Reading {
	return types.Reading{
		Timestamp:           time.Unix(0, r.TimestampNs).UTC(),
		COIn:                r.COIn,
		COOut:               r.COOut,
		Efficiency:          r.Efficiency,
		PredictedEfficiency: r.PredictedEfficiency,
		Voltage:             r.Voltage,
		Current:             r.Current,
		Power:               r.Power,
		Anomaly:             r.Anomaly,
		Recommendation:      r.Recommendation,
		Profile:             r.Profile,
	}
}

// ReadingWriter writes readings to a Parquet file.
type ReadingWriter struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	writer   *parquet.GenericWriter[ReadingRow]
	rowCount int64
	closed   bool
}

// NewReadingWriter creates a new reading Parquet writer.
func NewReadingWriter(path string, opts Options) (*ReadingWriter, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}

	writerOpts := []parquet.WriterOption{
		parquet.Compression(getCompression(opts.Compression)),
	}
	if opts.RowGroupSize > 0 {
		writerOpts = append(writerOpts, parquet.MaxRowsPerRowGroup(opts.RowGroupSize))
	}

	return &ReadingWriter{
		path:   path,
		file:   f,
		writer: parquet.NewGenericWriter[ReadingRow](f, writerOpts...),
	}, nil
}

// Write writes readings tagged with day to the Parquet file.
func (w *ReadingWriter) Write(readings []types.Reading, day string) error {
	if len(readings) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}

	rows := make([]ReadingRow, len(readings))
	for i := range readings {
		rows[i] = ReadingToRow(&readings[i], day)
	}

	n, err := w.writer.Write(rows)
	if err != nil {
		return fmt.Errorf("write rows: %w", err)
	}

	w.rowCount += int64(n)
	return nil
}

// Close flushes the footer, syncs and closes the file.
func (w *ReadingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.writer.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("close writer: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return fmt.Errorf("sync: %w", err)
	}

	return w.file.Close()
}

// RowCount returns the number of rows written.
func (w *ReadingWriter) RowCount() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rowCount
}

// Path returns the file path.
func (w *ReadingWriter) Path() string {
	return w.path
}

// ErrWriterClosed is returned when writing to a closed writer.
var ErrWriterClosed = fmt.Errorf("parquet writer is closed")
