package parquet

import (
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/xtxerr/catwatch/internal/types"
)

// ReadingReader reads readings from a Parquet file.
type ReadingReader struct {
	file   *os.File
	reader *parquet.GenericReader[ReadingRow]
	path   string
}

// NewReadingReader creates a new reading Parquet reader.
func NewReadingReader(path string) (*ReadingReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	reader := parquet.NewGenericReader[ReadingRow](f)

	return &ReadingReader{
		file:   f,
		reader: reader,
		path:   path,
	}, nil
}

// ReadAll reads all readings from the file.
func (r *ReadingReader) ReadAll() ([]types.Reading, error) {
	rows := make([]ReadingRow, r.reader.NumRows())

	n, err := r.reader.Read(rows)
	if err != nil && err != io.EOF {
		return nil, err
	}

	readings := make([]types.Reading, n)
	for i := 0; i < n; i++ {
		readings[i] = RowToReading(&rows[i])
	}

	return readings, nil
}

// NumRows returns the total number of rows in the file.
func (r *ReadingReader) NumRows() int64 {
	return r.reader.NumRows()
}

// Close closes the reader.
func (r *ReadingReader) Close() error {
	if err := r.reader.Close(); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}

// Path returns the file path.
func (r *ReadingReader) Path() string {
	return r.path
}
