package storage

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/catwatch/internal/errors"
	"github.com/xtxerr/catwatch/internal/logging"
	"github.com/xtxerr/catwatch/internal/storage/wal"
	"github.com/xtxerr/catwatch/internal/types"
)

// ErrOutOfOrder is returned by Append, wrapped in errors.ErrStoreIO, for a
// reading older than the latest stored one.
var ErrOutOfOrder = errors.New("reading older than latest")

// Options configures a Store.
type Options struct {
	WAL wal.Options
}

// Store is the append-only reading log.
//
// Appends are serialized and go to the WAL before they become visible.
// Readers take a short read lock and always get copies, so a query never
// observes a half-written reading and never holds the writer up for longer
// than a slice copy.
type Store struct {
	// appendMu serializes writers so WAL order equals log order.
	appendMu sync.Mutex

	mu       sync.RWMutex
	readings []types.Reading

	wal *wal.Writer

	closed atomic.Bool

	// Statistics
	appends      atomic.Int64
	appendErrors atomic.Int64
	replayed     wal.ReplayStats
}

// StoreStats holds store statistics.
type StoreStats struct {
	Readings     int
	Appends      int64
	AppendErrors int64
	First        time.Time
	Last         time.Time
	Replay       wal.ReplayStats
	WAL          wal.WriterStats
}

// Open opens the store persisted in dir, replaying existing WAL segments.
func Open(dir string, opts Options) (*Store, error) {
	log := logging.Component("storage")

	s := &Store{}

	start := time.Now()
	stats, err := wal.Replay(dir, func(rs []types.Reading) error {
		for _, r := range rs {
			// A clock step across a restart can leave a segment older than
			// its predecessor; keep the first-seen order and skip regressions.
			if n := len(s.readings); n > 0 && r.Timestamp.Before(s.readings[n-1].Timestamp) {
				continue
			}
			s.readings = append(s.readings, r)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("replay wal: %w", err)
	}
	s.replayed = stats

	if stats.CorruptRecords > 0 {
		log.Warn("wal replay skipped corrupt records",
			"corrupt", stats.CorruptRecords,
			"segments", stats.Segments)
	}

	w, err := wal.NewWriter(dir, opts.WAL)
	if err != nil {
		return nil, fmt.Errorf("open wal: %w", err)
	}
	s.wal = w

	log.Info("store opened",
		"dir", dir,
		"readings", len(s.readings),
		"segments", stats.Segments,
		"replay_ms", time.Since(start).Milliseconds())

	return s, nil
}

// NewMemory creates a store without persistence.
func NewMemory() *Store {
	return &Store{}
}

// Append persists r and makes it visible to readers.
// A persistence failure wraps errors.ErrStoreIO and r is not added.
func (s *Store) Append(r types.Reading) error {
	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	if s.closed.Load() {
		s.appendErrors.Add(1)
		return errors.StoreIO(errors.ErrClosed)
	}

	if last, ok := s.Latest(); ok && r.Timestamp.Before(last.Timestamp) {
		s.appendErrors.Add(1)
		return errors.StoreIO(fmt.Errorf("append at %s after %s: %w", r.Timestamp, last.Timestamp, ErrOutOfOrder))
	}

	if s.wal != nil {
		if err := s.wal.Write([]types.Reading{r}); err != nil {
			s.appendErrors.Add(1)
			return errors.StoreIO(err)
		}
	}

	s.mu.Lock()
	s.readings = append(s.readings, r)
	s.mu.Unlock()

	s.appends.Add(1)
	return nil
}

// Latest returns the most recently appended reading.
func (s *Store) Latest() (types.Reading, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.readings) == 0 {
		return types.Reading{}, false
	}
	return s.readings[len(s.readings)-1], true
}

// LastN returns up to n readings, newest first.
func (s *Store) LastN(n int) []types.Reading {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 || len(s.readings) == 0 {
		return nil
	}
	if n > len(s.readings) {
		n = len(s.readings)
	}

	out := make([]types.Reading, n)
	last := len(s.readings) - 1
	for i := 0; i < n; i++ {
		out[i] = s.readings[last-i]
	}
	return out
}

// Window returns up to n most recent readings, oldest first.
func (s *Store) Window(n int) []types.Reading {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 || len(s.readings) == 0 {
		return nil
	}
	if n > len(s.readings) {
		n = len(s.readings)
	}

	out := make([]types.Reading, n)
	copy(out, s.readings[len(s.readings)-n:])
	return out
}

// Since returns readings with timestamp >= t, oldest first.
func (s *Store) Since(t time.Time) []types.Reading {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.search(t)
	if i == len(s.readings) {
		return nil
	}

	out := make([]types.Reading, len(s.readings)-i)
	copy(out, s.readings[i:])
	return out
}

// Range returns readings with from <= timestamp < to, oldest first.
func (s *Store) Range(from, to time.Time) []types.Reading {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, j := s.search(from), s.search(to)
	if i >= j {
		return nil
	}

	out := make([]types.Reading, j-i)
	copy(out, s.readings[i:j])
	return out
}

// OnDay returns the readings on the calendar day of day in loc, oldest
// first.
func (s *Store) OnDay(day time.Time, loc *time.Location) []types.Reading {
	start, end := DayBounds(day, loc)
	return s.Range(start, end)
}

// DayBounds returns the start of the calendar day of t in loc and the start
// of the next day. Days are not assumed to be 24h long.
func DayBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

// search returns the index of the first reading at or after t.
// Caller must hold mu.
func (s *Store) search(t time.Time) int {
	return sort.Search(len(s.readings), func(i int) bool {
		return !s.readings[i].Timestamp.Before(t)
	})
}

// Span returns the first and last stored timestamps.
func (s *Store) Span() (first, last time.Time, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.readings)
	if n == 0 {
		return time.Time{}, time.Time{}, false
	}
	return s.readings[0].Timestamp, s.readings[n-1].Timestamp, true
}

// Len returns the number of stored readings.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.readings)
}

// Stats returns store statistics.
func (s *Store) Stats() StoreStats {
	s.mu.RLock()
	stats := StoreStats{
		Readings:     len(s.readings),
		Appends:      s.appends.Load(),
		AppendErrors: s.appendErrors.Load(),
		Replay:       s.replayed,
	}
	if n := len(s.readings); n > 0 {
		stats.First = s.readings[0].Timestamp
		stats.Last = s.readings[n-1].Timestamp
	}
	s.mu.RUnlock()

	if s.wal != nil {
		stats.WAL = s.wal.Stats()
	}
	return stats
}

// Close closes the WAL. Further appends fail.
func (s *Store) Close() error {
	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	if s.closed.Swap(true) {
		return nil
	}
	if s.wal != nil {
		return s.wal.Close()
	}
	return nil
}
