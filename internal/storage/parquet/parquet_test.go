package parquet

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xtxerr/catwatch/internal/types"
)

func testReadings(start time.Time, n int) []types.Reading {
	readings := make([]types.Reading, n)
	for i := range readings {
		anomaly := i%4 == 0
		rec := types.RecommendationNominal
		if anomaly {
			rec = types.RecommendationAnomaly
		}
		readings[i] = types.Reading{
			Timestamp:           start.Add(time.Duration(i) * time.Second),
			COIn:                100 + float64(i),
			COOut:               50,
			Efficiency:          50 - float64(i)/10,
			PredictedEfficiency: 51.2,
			Voltage:             2.75,
			Current:             280,
			Power:               770,
			Anomaly:             anomaly,
			Recommendation:      rec,
			Profile:             "bike",
		}
	}
	return readings
}

func TestReadingWriterBasic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "readings.parquet")

	w, err := NewReadingWriter(path, DefaultOptions())
	if err != nil {
		t.Fatalf("NewReadingWriter: %v", err)
	}

	if err := w.Write(testReadings(time.Now(), 10), "2024-05-01"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if w.RowCount() != 10 {
		t.Errorf("expected 10 rows, got %d", w.RowCount())
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	stat, err := os.Stat(path)
	if err != nil {
		t.Fatalf("file should exist: %v", err)
	}
	if stat.Size() == 0 {
		t.Error("file should not be empty")
	}

	if err := w.Write(testReadings(time.Now(), 1), "2024-05-01"); err != ErrWriterClosed {
		t.Errorf("expected ErrWriterClosed, got %v", err)
	}
}

func TestReadingWriteAndRead(t *testing.T) {
	compressions := []string{"zstd", "snappy", "lz4", "gzip", "none"}

	for _, c := range compressions {
		t.Run(c, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "readings.parquet")
			start := time.Date(2024, 5, 1, 10, 0, 0, 123, time.UTC)
			in := testReadings(start, 100)

			opts := DefaultOptions()
			opts.Compression = ParseCompressionType(c)

			w, err := NewReadingWriter(path, opts)
			if err != nil {
				t.Fatal(err)
			}
			if err := w.Write(in[:60], "2024-05-01"); err != nil {
				t.Fatal(err)
			}
			if err := w.Write(in[60:], "2024-05-01"); err != nil {
				t.Fatal(err)
			}
			if err := w.Close(); err != nil {
				t.Fatal(err)
			}

			r, err := NewReadingReader(path)
			if err != nil {
				t.Fatal(err)
			}
			defer r.Close()

			if r.NumRows() != 100 {
				t.Fatalf("expected 100 rows, got %d", r.NumRows())
			}

			out, err := r.ReadAll()
			if err != nil {
				t.Fatal(err)
			}
			if len(out) != len(in) {
				t.Fatalf("expected %d readings, got %d", len(in), len(out))
			}
			for i := range in {
				if !out[i].Timestamp.Equal(in[i].Timestamp) {
					t.Fatalf("reading %d: timestamp %v, want %v", i, out[i].Timestamp, in[i].Timestamp)
				}
				got, want := out[i], in[i]
				got.Timestamp, want.Timestamp = time.Time{}, time.Time{}
				if got != want {
					t.Fatalf("reading %d differs:\n  in:  %+v\n  out: %+v", i, want, got)
				}
			}
		})
	}
}

func TestWriteEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.parquet")

	w, err := NewReadingWriter(path, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Write(nil, "2024-05-01"); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := NewReadingReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	out, err := r.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 0 {
		t.Errorf("expected no readings, got %d", len(out))
	}
}

func TestParseCompressionType(t *testing.T) {
	tests := []struct {
		in   string
		want CompressionType
	}{
		{"snappy", CompressionSnappy},
		{"zstd", CompressionZstd},
		{"lz4", CompressionLZ4},
		{"gzip", CompressionGzip},
		{"none", CompressionNone},
		{"", CompressionNone},
		{"brotli", CompressionZstd},
	}

	for _, tt := range tests {
		if got := ParseCompressionType(tt.in); got != tt.want {
			t.Errorf("ParseCompressionType(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestReaderMissingFile(t *testing.T) {
	if _, err := NewReadingReader(filepath.Join(t.TempDir(), "missing.parquet")); err == nil {
		t.Error("expected an error for a missing file")
	}
}
