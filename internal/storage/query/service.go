// Package query runs analytical queries over the parquet archive with DuckDB.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/xtxerr/catwatch/internal/errors"
)

// filePattern matches the files the archiver writes.
const filePattern = "readings-*.parquet"

// Rollup is one archived day reduced to its aggregates.
type Rollup struct {
	Day              string  `json:"date"`
	Count            int64   `json:"count"`
	MaxCOIn          float64 `json:"max_co_in"`
	AvgEfficiency    float64 `json:"avg_efficiency"`
	TotalEnergyWatts float64 `json:"total_energy"`
	AnomalyCount     int64   `json:"anomaly_count"`
	EfficiencyP50    float64 `json:"efficiency_p50"`
	EfficiencyP95    float64 `json:"efficiency_p95"`
}

// Service provides query capabilities over archived readings.
// It opens an in-memory DuckDB database and reads the parquet files in place.
type Service struct {
	dir string
	db  *sql.DB

	// Statistics
	queries atomic.Int64
	rows    atomic.Int64
	errors  atomic.Int64
	lastNs  atomic.Int64
}

// Stats holds query statistics.
type Stats struct {
	QueriesExecuted int64     `json:"queries_executed"`
	RowsReturned    int64     `json:"rows_returned"`
	Errors          int64     `json:"errors"`
	LastQuery       time.Time `json:"last_query,omitempty"`
}

// New creates a query service over the archive in dir.
func New(dir, memoryLimit string) (*Service, error) {
	// Open in-memory DuckDB database
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	if memoryLimit != "" {
		_, err = db.Exec(fmt.Sprintf("SET memory_limit='%s'", memoryLimit))
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("set memory limit: %w", err)
		}
	}

	return &Service{
		dir: dir,
		db:  db,
	}, nil
}

// Close closes the query service.
func (s *Service) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DailyRollups returns one rollup per archived day in [from, to], oldest
// first. Days are YYYY-MM-DD strings; an empty bound is open. An archive
// without files yields no rollups.
func (s *Service) DailyRollups(ctx context.Context, from, to string) ([]Rollup, error) {
	pattern := filepath.Join(s.dir, filePattern)

	files, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: glob archive: %v", errors.ErrQuery, err)
	}
	if len(files) == 0 {
		return nil, nil
	}

	if from == "" {
		from = "0000-01-01"
	}
	if to == "" {
		to = "9999-12-31"
	}

	query := `
		SELECT
			day,
			count(*) AS count,
			max(co_in),
			avg(efficiency),
			sum(power) / 1000.0,
			CAST(count_if(anomaly) AS BIGINT),
			quantile_cont(efficiency, 0.5),
			quantile_cont(efficiency, 0.95)
		FROM read_parquet($1)
		WHERE day >= $2
		  AND day <= $3
		GROUP BY day
		ORDER BY day
	`

	s.queries.Add(1)
	s.lastNs.Store(time.Now().UnixNano())

	rows, err := s.db.QueryContext(ctx, query, pattern, from, to)
	if err != nil {
		s.errors.Add(1)
		return nil, fmt.Errorf("%w: read archive: %v", errors.ErrQuery, err)
	}
	defer rows.Close()

	var results []Rollup
	for rows.Next() {
		var r Rollup
		if err := rows.Scan(
			&r.Day, &r.Count,
			&r.MaxCOIn, &r.AvgEfficiency, &r.TotalEnergyWatts,
			&r.AnomalyCount,
			&r.EfficiencyP50, &r.EfficiencyP95,
		); err != nil {
			s.errors.Add(1)
			return nil, fmt.Errorf("%w: scan row: %v", errors.ErrQuery, err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		s.errors.Add(1)
		return nil, fmt.Errorf("%w: %v", errors.ErrQuery, err)
	}

	s.rows.Add(int64(len(results)))
	return results, nil
}

// Dir returns the archive directory the service reads.
func (s *Service) Dir() string {
	return s.dir
}

// Stats returns query statistics.
func (s *Service) Stats() Stats {
	st := Stats{
		QueriesExecuted: s.queries.Load(),
		RowsReturned:    s.rows.Load(),
		Errors:          s.errors.Load(),
	}
	if ns := s.lastNs.Load(); ns != 0 {
		st.LastQuery = time.Unix(0, ns).UTC()
	}
	return st
}
