// Package archive writes completed calendar days of the reading log to
// Parquet files, one file per day.
//
// Archiving copies; it never removes readings from the log. A day is only
// archived once it has ended in the configured time zone, and a day that
// already has a file is skipped, so a restart never rewrites history.
package archive

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/catwatch/internal/errors"
	"github.com/xtxerr/catwatch/internal/logging"
	"github.com/xtxerr/catwatch/internal/storage/parquet"
	"github.com/xtxerr/catwatch/internal/types"
)

const (
	filePrefix = "readings-"
	fileSuffix = ".parquet"
)

// Source is the read side of the reading log.
type Source interface {
	OnDay(day time.Time, loc *time.Location) []types.Reading
	Span() (first, last time.Time, ok bool)
}

// Options configures an Archiver.
type Options struct {
	// Dir receives the Parquet files.
	Dir string

	// Interval between archive runs.
	Interval time.Duration

	// Location defines the calendar day. Nil means UTC.
	Location *time.Location

	Parquet parquet.Options

	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Archiver periodically archives completed days.
type Archiver struct {
	opts Options
	src  Source
	log  *slog.Logger

	// runMu serializes archive runs.
	runMu sync.Mutex

	// State
	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// Statistics
	stats counters
}

type counters struct {
	runs         atomic.Int64
	daysArchived atomic.Int64
	rowsWritten  atomic.Int64
	bytesWritten atomic.Int64
	errors       atomic.Int64
	lastRunNs    atomic.Int64
}

// Stats holds archiver statistics.
type Stats struct {
	Runs         int64     `json:"runs"`
	DaysArchived int64     `json:"days_archived"`
	RowsWritten  int64     `json:"rows_written"`
	BytesWritten int64     `json:"bytes_written"`
	Errors       int64     `json:"errors"`
	LastRun      time.Time `json:"last_run,omitempty"`
}

// New creates an archiver over src.
func New(src Source, opts Options) *Archiver {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Hour
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Archiver{
		opts: opts,
		src:  src,
		log:  logging.Component("archive"),
	}
}

// Start runs an archive pass now and then once per interval until Stop.
func (a *Archiver) Start(ctx context.Context) error {
	if !a.running.CompareAndSwap(false, true) {
		return errors.ErrAlreadyRunning
	}

	ctx, a.cancel = context.WithCancel(ctx)

	a.wg.Add(1)
	go a.scheduler(ctx)

	a.log.Info("archiver started", "dir", a.opts.Dir, "interval", a.opts.Interval)
	return nil
}

// Stop stops the scheduler and waits for a running pass to finish.
func (a *Archiver) Stop() {
	if !a.running.CompareAndSwap(true, false) {
		return
	}
	a.cancel()
	a.wg.Wait()
	a.log.Info("archiver stopped")
}

func (a *Archiver) scheduler(ctx context.Context) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.opts.Interval)
	defer ticker.Stop()

	for {
		if _, err := a.ArchiveCompleted(ctx); err != nil && ctx.Err() == nil {
			a.log.Error("archive run failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ArchiveCompleted archives every ended day that has readings and no file
// yet. It returns the days written.
func (a *Archiver) ArchiveCompleted(ctx context.Context) ([]string, error) {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	a.stats.runs.Add(1)
	a.stats.lastRunNs.Store(a.opts.Clock().UnixNano())

	first, _, ok := a.src.Span()
	if !ok {
		return nil, nil
	}

	loc := a.opts.Location
	today := startOfDay(a.opts.Clock(), loc)

	var written []string
	var errs []error
	for day := startOfDay(first, loc); day.Before(today); day = day.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		name := day.Format(time.DateOnly)
		if _, err := os.Stat(a.Path(name)); err == nil {
			continue
		}

		n, err := a.archiveDay(day, name)
		if err != nil {
			a.stats.errors.Add(1)
			errs = append(errs, fmt.Errorf("archive %s: %w", name, err))
			continue
		}
		if n > 0 {
			written = append(written, name)
		}
	}

	if len(written) > 0 {
		a.log.Info("archived days", "days", written)
	}
	return written, errors.Join(errs...)
}

// ArchiveDay writes the readings of one day, replacing an existing file.
// It returns the number of rows written; a day without readings writes no
// file.
func (a *Archiver) ArchiveDay(day time.Time) (int64, error) {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	day = startOfDay(day, a.opts.Location)
	return a.archiveDay(day, day.Format(time.DateOnly))
}

func (a *Archiver) archiveDay(day time.Time, name string) (int64, error) {
	readings := a.src.OnDay(day, a.opts.Location)
	if len(readings) == 0 {
		return 0, nil
	}

	path := a.Path(name)
	tmp := path + ".tmp"

	w, err := parquet.NewReadingWriter(tmp, a.opts.Parquet)
	if err != nil {
		return 0, err
	}
	if err := w.Write(readings, name); err != nil {
		w.Close()
		os.Remove(tmp)
		return 0, err
	}
	if err := w.Close(); err != nil {
		os.Remove(tmp)
		return 0, err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("rename: %w", err)
	}

	rows := w.RowCount()
	a.stats.daysArchived.Add(1)
	a.stats.rowsWritten.Add(rows)
	if info, err := os.Stat(path); err == nil {
		a.stats.bytesWritten.Add(info.Size())
	}

	a.log.Debug("archived day", "day", name, "rows", rows, "path", path)
	return rows, nil
}

// Path returns the file of a YYYY-MM-DD day.
func (a *Archiver) Path(day string) string {
	return filepath.Join(a.opts.Dir, filePrefix+day+fileSuffix)
}

// Dir returns the archive directory.
func (a *Archiver) Dir() string {
	return a.opts.Dir
}

// Days lists the archived days in order.
func (a *Archiver) Days() ([]string, error) {
	return ListDays(a.opts.Dir)
}

// ListDays lists the days archived in dir in order.
func ListDays(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var days []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		day := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
		if _, err := time.Parse(time.DateOnly, day); err != nil {
			continue
		}
		days = append(days, day)
	}

	sort.Strings(days)
	return days, nil
}

// Stats returns archiver statistics.
func (a *Archiver) Stats() Stats {
	s := Stats{
		Runs:         a.stats.runs.Load(),
		DaysArchived: a.stats.daysArchived.Load(),
		RowsWritten:  a.stats.rowsWritten.Load(),
		BytesWritten: a.stats.bytesWritten.Load(),
		Errors:       a.stats.errors.Load(),
	}
	if ns := a.stats.lastRunNs.Load(); ns != 0 {
		s.LastRun = time.Unix(0, ns).UTC()
	}
	return s
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
