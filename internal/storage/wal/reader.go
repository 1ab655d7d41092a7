package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/xtxerr/catwatch/internal/types"
)

// Reader reads readings from a WAL segment file.
type Reader struct {
	path string
	file *os.File
	buf  *bufio.Reader

	// Statistics
	stats ReaderStats
}

// ReaderStats holds WAL reader statistics.
type ReaderStats struct {
	RecordsRead    int64
	ReadingsRead   int64
	BytesRead      int64
	CorruptRecords int64
}

// NewReader creates a new WAL reader for a segment file.
func NewReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open segment: %w", err)
	}

	var header [headerSize]byte
	if _, err := io.ReadFull(f, header[:]); err != nil {
		f.Close()
		return nil, fmt.Errorf("read header: %w", err)
	}

	magic := binary.LittleEndian.Uint64(header[0:8])
	if magic != walMagic {
		f.Close()
		return nil, fmt.Errorf("invalid magic: expected %x, got %x", walMagic, magic)
	}

	version := binary.LittleEndian.Uint32(header[8:12])
	if version != walVersion {
		f.Close()
		return nil, fmt.Errorf("unsupported version: %d", version)
	}

	return &Reader{
		path: path,
		file: f,
		buf:  bufio.NewReader(f),
	}, nil
}

// ReadAll reads all intact readings from the segment.
// Reading stops at the first corrupt or torn record: everything after it
// in the same segment was written after a failed write or a crash.
func (r *Reader) ReadAll() ([]types.Reading, error) {
	var all []types.Reading

	for {
		readings, err := r.ReadRecord()
		if err == io.EOF {
			break
		}
		if err != nil {
			r.stats.CorruptRecords++
			break
		}

		all = append(all, readings...)
	}

	return all, nil
}

// ReadRecord reads the next record from the segment.
// Returns io.EOF when there are no more records.
func (r *Reader) ReadRecord() ([]types.Reading, error) {
	var header [recordHeaderSize]byte
	if _, err := io.ReadFull(r.buf, header[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read record header: %w", err)
	}

	length := binary.LittleEndian.Uint32(header[0:4])
	expectedCRC := binary.LittleEndian.Uint32(header[4:8])

	if length > maxRecordSize {
		return nil, fmt.Errorf("record too large: %d bytes", length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r.buf, payload); err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}

	actualCRC := crc32.ChecksumIEEE(payload)
	if actualCRC != expectedCRC {
		return nil, fmt.Errorf("CRC mismatch: expected %x, got %x", expectedCRC, actualCRC)
	}

	readings, err := decodeReadings(payload)
	if err != nil {
		return nil, fmt.Errorf("decode readings: %w", err)
	}

	r.stats.RecordsRead++
	r.stats.ReadingsRead += int64(len(readings))
	r.stats.BytesRead += int64(recordHeaderSize + len(payload))

	return readings, nil
}

// Close closes the reader.
func (r *Reader) Close() error {
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// Stats returns reader statistics.
func (r *Reader) Stats() ReaderStats {
	return r.stats
}

// Path returns the segment path.
func (r *Reader) Path() string {
	return r.path
}

// ReadSegment reads all intact readings from a segment file.
func ReadSegment(path string) ([]types.Reading, ReaderStats, error) {
	r, err := NewReader(path)
	if err != nil {
		return nil, ReaderStats{}, err
	}
	defer r.Close()

	readings, err := r.ReadAll()
	return readings, r.Stats(), err
}

// ReplayStats summarizes a directory replay.
type ReplayStats struct {
	Segments       int
	EmptySegments  int
	Readings       int64
	CorruptRecords int64
}

// Replay reads every segment in dir, oldest first, and calls fn with the
// readings of each record in write order.
//
// A segment whose header is missing (a crash between create and header
// write) is skipped. A segment with a foreign header is an error.
func Replay(dir string, fn func([]types.Reading) error) (ReplayStats, error) {
	var stats ReplayStats

	paths, err := ListSegments(dir)
	if err != nil {
		return stats, fmt.Errorf("list segments: %w", err)
	}

	for _, path := range paths {
		stats.Segments++

		r, err := NewReader(path)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				stats.EmptySegments++
				continue
			}
			return stats, fmt.Errorf("segment %s: %w", path, err)
		}

		readings, _ := r.ReadAll()
		rs := r.Stats()
		r.Close()

		stats.Readings += int64(len(readings))
		stats.CorruptRecords += rs.CorruptRecords

		if len(readings) > 0 {
			if err := fn(readings); err != nil {
				return stats, err
			}
		}
	}

	return stats, nil
}
