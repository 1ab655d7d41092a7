package wal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xtxerr/catwatch/internal/types"
)

func testReading(i int, ts time.Time) types.Reading {
	return types.Reading{
		Timestamp:           ts,
		COIn:                float64(100 + i),
		COOut:               float64(40 + i),
		Efficiency:          60,
		PredictedEfficiency: 61.2,
		Voltage:             3.3,
		Current:             float64(200 + i),
		Power:               660,
		Anomaly:             i%2 == 1,
		Recommendation:      types.RecommendationNominal,
		Profile:             "bike",
	}
}

func TestEncodeDecode(t *testing.T) {
	base := time.Date(2024, 5, 1, 10, 0, 0, 123456789, time.UTC)
	readings := []types.Reading{testReading(0, base), testReading(1, base.Add(time.Second))}
	readings[1].Recommendation = types.RecommendationAnomaly

	data, err := encodeReadings(readings)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	decoded, err := decodeReadings(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if len(decoded) != len(readings) {
		t.Fatalf("expected %d readings, got %d", len(readings), len(decoded))
	}

	for i, r := range readings {
		if decoded[i] != r {
			t.Errorf("reading %d: got %+v, want %+v", i, decoded[i], r)
		}
	}
}

func TestDecodeTruncated(t *testing.T) {
	data, err := encodeReadings([]types.Reading{testReading(0, time.Now().UTC())})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	for _, n := range []int{0, 3, 10, len(data) - 1} {
		if _, err := decodeReadings(data[:n]); err == nil {
			t.Errorf("expected error decoding %d of %d bytes", n, len(data))
		}
	}
}

func TestWriter_Basic(t *testing.T) {
	tmpDir := t.TempDir()

	w, err := NewWriter(tmpDir, DefaultOptions())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w.Close()

	now := time.Now().UTC()
	if err := w.Write([]types.Reading{testReading(0, now), testReading(1, now)}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	stats := w.Stats()
	if stats.RecordsWritten != 1 {
		t.Errorf("expected 1 record written, got %d", stats.RecordsWritten)
	}
	if stats.SyncsPerformed != 1 {
		t.Errorf("expected write to be flushed, got %d syncs", stats.SyncsPerformed)
	}

	// Flushed on return: a reader sees the record without Close.
	readings, _, err := ReadSegment(w.CurrentSegment())
	if err != nil {
		t.Fatalf("ReadSegment: %v", err)
	}
	if len(readings) != 2 {
		t.Errorf("expected 2 readings visible before close, got %d", len(readings))
	}
}

func TestWriter_Rotation(t *testing.T) {
	tmpDir := t.TempDir()

	opts := DefaultOptions()
	opts.MaxSegmentSize = 512

	w, err := NewWriter(tmpDir, opts)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	base := time.Now().UTC()
	for i := 0; i < 20; i++ {
		if err := w.Write([]types.Reading{testReading(i, base.Add(time.Duration(i)*time.Second))}); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
	}
	w.Close()

	segments, err := ListSegments(tmpDir)
	if err != nil {
		t.Fatalf("ListSegments: %v", err)
	}
	if len(segments) < 2 {
		t.Errorf("expected rotation into several segments, got %d", len(segments))
	}

	var got []types.Reading
	stats, err := Replay(tmpDir, func(rs []types.Reading) error {
		got = append(got, rs...)
		return nil
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}

	if len(got) != 20 || stats.Readings != 20 {
		t.Fatalf("expected 20 replayed readings, got %d (stats %d)", len(got), stats.Readings)
	}
	for i, r := range got {
		if r.COIn != float64(100+i) {
			t.Errorf("reading %d out of order: co_in %v", i, r.COIn)
		}
	}
}

func TestWriter_ResumesAfterExistingSegments(t *testing.T) {
	tmpDir := t.TempDir()

	w1, err := NewWriter(tmpDir, DefaultOptions())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	first := w1.CurrentSegment()
	w1.Write([]types.Reading{testReading(0, time.Now().UTC())})
	w1.Close()

	w2, err := NewWriter(tmpDir, DefaultOptions())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w2.Close()

	if w2.CurrentSegment() == first {
		t.Error("reopened writer must not reuse an existing segment")
	}
}

func TestWriter_WriteAfterClose(t *testing.T) {
	w, err := NewWriter(t.TempDir(), DefaultOptions())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	w.Close()

	if err := w.Write([]types.Reading{testReading(0, time.Now().UTC())}); err == nil {
		t.Error("expected error writing to closed wal")
	}
}

func TestReplay_TornTail(t *testing.T) {
	tmpDir := t.TempDir()

	w, err := NewWriter(tmpDir, DefaultOptions())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		w.Write([]types.Reading{testReading(i, now)})
	}
	path := w.CurrentSegment()
	w.Close()

	// Simulate a crash mid-record.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	f.Write([]byte{0x40, 0x00, 0x00, 0x00, 0xde, 0xad})
	f.Close()

	var got []types.Reading
	stats, err := Replay(tmpDir, func(rs []types.Reading) error {
		got = append(got, rs...)
		return nil
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}

	if len(got) != 3 {
		t.Errorf("expected 3 intact readings, got %d", len(got))
	}
	if stats.CorruptRecords != 1 {
		t.Errorf("expected 1 corrupt record, got %d", stats.CorruptRecords)
	}
}

func TestReplay_CorruptCRC(t *testing.T) {
	tmpDir := t.TempDir()

	w, err := NewWriter(tmpDir, DefaultOptions())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	w.Write([]types.Reading{testReading(0, time.Now().UTC())})
	path := w.CurrentSegment()
	w.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	data[len(data)-1] ^= 0xff
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	readings, stats, err := ReadSegment(path)
	if err != nil {
		t.Fatalf("ReadSegment: %v", err)
	}
	if len(readings) != 0 {
		t.Errorf("expected corrupt record to be skipped, got %d readings", len(readings))
	}
	if stats.CorruptRecords != 1 {
		t.Errorf("expected 1 corrupt record, got %d", stats.CorruptRecords)
	}
}

func TestReplay_HeaderlessSegment(t *testing.T) {
	tmpDir := t.TempDir()

	// Crash between create and header write.
	if err := os.WriteFile(filepath.Join(tmpDir, "0000000000000000.wal"), nil, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	stats, err := Replay(tmpDir, func([]types.Reading) error { return nil })
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if stats.EmptySegments != 1 {
		t.Errorf("expected 1 empty segment, got %d", stats.EmptySegments)
	}
}

func TestReplay_ForeignFile(t *testing.T) {
	tmpDir := t.TempDir()

	junk := make([]byte, headerSize)
	copy(junk, "not a wal file")
	if err := os.WriteFile(filepath.Join(tmpDir, "0000000000000000.wal"), junk, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := Replay(tmpDir, func([]types.Reading) error { return nil }); err == nil {
		t.Error("expected error for invalid magic")
	}
}

func TestListSegments_IgnoresOtherFiles(t *testing.T) {
	tmpDir := t.TempDir()

	for _, name := range []string{"notes.txt", "1.wal", "0000000000000007.wal"} {
		os.WriteFile(filepath.Join(tmpDir, name), nil, 0644)
	}

	segments, err := ListSegments(tmpDir)
	if err != nil {
		t.Fatalf("ListSegments: %v", err)
	}
	if len(segments) != 1 || filepath.Base(segments[0]) != "0000000000000007.wal" {
		t.Errorf("unexpected segments: %v", segments)
	}
}
