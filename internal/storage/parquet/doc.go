// Package parquet implements Parquet file reading and writing for readings.
//
// The package provides:
//   - ReadingWriter/ReadingReader for archived readings
//   - Support for multiple compression algorithms (snappy, zstd, lz4, gzip)
//   - Type conversion between readings and Parquet rows
package parquet
