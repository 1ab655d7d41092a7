package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/xtxerr/catwatch/internal/config"
	"github.com/xtxerr/catwatch/internal/errors"
	"github.com/xtxerr/catwatch/internal/logging"
	"github.com/xtxerr/catwatch/internal/storage/archive"
	"github.com/xtxerr/catwatch/internal/storage/parquet"
	"github.com/xtxerr/catwatch/internal/storage/query"
	"github.com/xtxerr/catwatch/internal/storage/wal"
)

// Service is the main storage service that orchestrates all components:
// the WAL-backed reading log, the daily archive and the archive query engine.
type Service struct {
	store    *Store
	archiver *archive.Archiver
	query    *query.Service
	log      *slog.Logger

	// State
	running   atomic.Bool
	startTime time.Time
}

// ServiceStats holds storage statistics.
type ServiceStats struct {
	Uptime  time.Duration  `json:"uptime"`
	Store   StoreStats     `json:"store"`
	Archive *archive.Stats `json:"archive,omitempty"`
	Query   *query.Stats   `json:"query,omitempty"`
}

// NewService opens the storage described by cfg.
func NewService(cfg *config.Config) (*Service, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	// Ensure directories exist
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("%w: timezone: %v", errors.ErrInvalidConfig, err)
	}

	store, err := Open(cfg.WALDir(), Options{WAL: walOptions(cfg.Store.WAL)})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	s := &Service{
		store: store,
		log:   logging.Component("storage"),
	}

	if cfg.Archive.Enabled {
		s.archiver = archive.New(store, archive.Options{
			Dir:      cfg.ArchiveDir(),
			Interval: cfg.Archive.Interval,
			Location: loc,
			Parquet: parquet.Options{
				Compression:  parquet.ParseCompressionType(cfg.Archive.Compression),
				RowGroupSize: parquet.DefaultOptions().RowGroupSize,
			},
		})

		qry, err := query.New(cfg.ArchiveDir(), cfg.Archive.MemoryLimit)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("create query: %w", err)
		}
		s.query = qry
	}

	return s, nil
}

func walOptions(c config.WALConfig) wal.Options {
	opts := wal.DefaultOptions()
	if c.SyncMode != "" {
		opts.SyncMode = c.SyncMode
	}
	if c.MaxSegmentSize > 0 {
		opts.MaxSegmentSize = c.MaxSegmentSize
	}
	return opts
}

// Start starts background archiving.
func (s *Service) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.ErrAlreadyRunning
	}
	s.startTime = time.Now()

	if s.archiver != nil {
		if err := s.archiver.Start(ctx); err != nil {
			s.running.Store(false)
			return fmt.Errorf("start archiver: %w", err)
		}
	}
	return nil
}

// Close stops archiving and closes all components in reverse order.
func (s *Service) Close() error {
	s.running.Store(false)

	var errs []error

	if s.archiver != nil {
		s.archiver.Stop()
	}

	if s.query != nil {
		if err := s.query.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close query: %w", err))
		}
	}

	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}

	s.log.Info("storage closed")
	return nil
}

// Store returns the reading log.
func (s *Service) Store() *Store {
	return s.store
}

// Archiver returns the daily archiver, or nil when archiving is disabled.
func (s *Service) Archiver() *archive.Archiver {
	return s.archiver
}

// Query returns the archive query service, or nil when archiving is
// disabled.
func (s *Service) Query() *query.Service {
	return s.query
}

// DailyRollups returns per-day aggregates from the archive.
// It fails with errors.ErrNoData when archiving is disabled.
func (s *Service) DailyRollups(ctx context.Context, from, to string) ([]query.Rollup, error) {
	if s.query == nil {
		return nil, fmt.Errorf("archive disabled: %w", errors.ErrNoData)
	}
	return s.query.DailyRollups(ctx, from, to)
}

// Stats returns storage statistics.
func (s *Service) Stats() ServiceStats {
	stats := ServiceStats{
		Store: s.store.Stats(),
	}
	if s.running.Load() {
		stats.Uptime = time.Since(s.startTime)
	}
	if s.archiver != nil {
		a := s.archiver.Stats()
		stats.Archive = &a
	}
	if s.query != nil {
		q := s.query.Stats()
		stats.Query = &q
	}
	return stats
}
