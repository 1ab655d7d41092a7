package archive

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xtxerr/catwatch/internal/storage/parquet"
	"github.com/xtxerr/catwatch/internal/testutil"
	"github.com/xtxerr/catwatch/internal/types"
)

// sliceSource serves readings from a sorted slice.
type sliceSource struct {
	readings []types.Reading
}

func (s *sliceSource) OnDay(day time.Time, loc *time.Location) []types.Reading {
	start := startOfDay(day, loc)
	end := start.AddDate(0, 0, 1)

	var out []types.Reading
	for _, r := range s.readings {
		if !r.Timestamp.Before(start) && r.Timestamp.Before(end) {
			out = append(out, r)
		}
	}
	return out
}

func (s *sliceSource) Span() (time.Time, time.Time, bool) {
	if len(s.readings) == 0 {
		return time.Time{}, time.Time{}, false
	}
	return s.readings[0].Timestamp, s.readings[len(s.readings)-1].Timestamp, true
}

func threeDays() *sliceSource {
	src := &sliceSource{}
	for d := 0; d < 3; d++ {
		day := testutil.Day(2024, 5, 1+d)
		for i := 0; i < 10; i++ {
			src.readings = append(src.readings,
				testutil.Reading(day.Add(time.Duration(i)*time.Hour), float64(50+i), 40, 500, i == 0))
		}
	}
	return src
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestArchiveCompleted(t *testing.T) {
	dir := t.TempDir()
	src := threeDays()

	// May 3 is still in progress.
	a := New(src, Options{
		Dir:     dir,
		Parquet: parquet.DefaultOptions(),
		Clock:   fixedClock(time.Date(2024, 5, 3, 12, 0, 0, 0, time.UTC)),
	})

	days, err := a.ArchiveCompleted(context.Background())
	if err != nil {
		t.Fatalf("ArchiveCompleted: %v", err)
	}
	if len(days) != 2 || days[0] != "2024-05-01" || days[1] != "2024-05-02" {
		t.Fatalf("expected May 1 and 2 archived, got %v", days)
	}

	listed, err := a.Days()
	if err != nil {
		t.Fatal(err)
	}
	if len(listed) != 2 {
		t.Errorf("expected 2 archived days, got %v", listed)
	}

	r, err := parquet.NewReadingReader(a.Path("2024-05-01"))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	readings, err := r.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(readings) != 10 {
		t.Fatalf("expected 10 readings, got %d", len(readings))
	}
	if !readings[0].Timestamp.Equal(src.readings[0].Timestamp) || readings[9].COIn != 59 {
		t.Errorf("unexpected archived readings: first %+v last %+v", readings[0], readings[9])
	}

	// A second run finds nothing new.
	days, err = a.ArchiveCompleted(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(days) != 0 {
		t.Errorf("expected no new days, got %v", days)
	}

	stats := a.Stats()
	if stats.Runs != 2 || stats.DaysArchived != 2 || stats.RowsWritten != 20 || stats.BytesWritten == 0 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestArchiveEmptySource(t *testing.T) {
	a := New(&sliceSource{}, Options{Dir: t.TempDir()})

	days, err := a.ArchiveCompleted(context.Background())
	if err != nil || len(days) != 0 {
		t.Errorf("expected nothing to archive, got %v, %v", days, err)
	}
}

func TestArchiveDayLocation(t *testing.T) {
	dir := t.TempDir()
	src := threeDays()
	plus3 := time.FixedZone("UTC+3", 3*60*60)

	a := New(src, Options{Dir: dir, Location: plus3})

	// 00:00-09:00 UTC is 03:00-12:00 at UTC+3, still May 1.
	n, err := a.ArchiveDay(time.Date(2024, 5, 1, 0, 0, 0, 0, plus3))
	if err != nil {
		t.Fatal(err)
	}
	if n != 10 {
		t.Errorf("expected 10 rows, got %d", n)
	}

	// No readings: no file.
	n, err = a.ArchiveDay(time.Date(2024, 6, 1, 0, 0, 0, 0, plus3))
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("expected 0 rows, got %d", n)
	}
	if _, err := os.Stat(a.Path("2024-06-01")); !os.IsNotExist(err) {
		t.Error("empty day must not produce a file")
	}
}

func TestListDaysIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"readings-2024-05-02.parquet",
		"readings-2024-05-01.parquet",
		"readings-2024-05-03.parquet.tmp",
		"readings-latest.parquet",
		"notes.txt",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	days, err := ListDays(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(days) != 2 || days[0] != "2024-05-01" || days[1] != "2024-05-02" {
		t.Errorf("unexpected days %v", days)
	}

	days, err = ListDays(filepath.Join(dir, "missing"))
	if err != nil || days != nil {
		t.Errorf("missing dir: expected no days and no error, got %v, %v", days, err)
	}
}

func TestStartStop(t *testing.T) {
	a := New(threeDays(), Options{
		Dir:      t.TempDir(),
		Interval: time.Hour,
		Clock:    fixedClock(time.Date(2024, 5, 4, 0, 0, 0, 0, time.UTC)),
	})

	if err := a.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := a.Start(context.Background()); err == nil {
		t.Error("expected error on second Start")
	}

	err := testutil.Eventually(2*time.Second, 10*time.Millisecond, func() bool {
		return a.Stats().DaysArchived == 3
	})
	if err != nil {
		t.Fatal(err)
	}

	a.Stop()
	a.Stop()
}
