// Package testutil provides test utilities for catwatch.
//
// It carries the error channel pattern for tests that spin up goroutines,
// polling helpers, and fixtures for readings and sources.
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/xtxerr/catwatch/internal/types"
)

// =============================================================================
// Error Channel Pattern
// =============================================================================

// GoroutineTest collects errors from goroutines started by a test.
//
// t.Fatal in a goroutine only exits that goroutine, so helpers started with
// Go return errors instead, and Wait reports them on the test goroutine.
//
//	gt := testutil.NewGoroutineTest(t)
//	defer gt.Wait()
//
//	gt.Go(func() error {
//	    if got := <-sub.C(); got.COIn != 1 {
//	        return fmt.Errorf("got %v", got.COIn)
//	    }
//	    return nil
//	})
type GoroutineTest struct {
	t      *testing.T
	wg     sync.WaitGroup
	errors chan error
	ctx    context.Context
	cancel context.CancelFunc
}

// NewGoroutineTest creates a GoroutineTest whose context expires after
// timeout.
func NewGoroutineTest(t *testing.T, timeout time.Duration) *GoroutineTest {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	return &GoroutineTest{
		t:      t,
		errors: make(chan error, 100),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Go runs fn in a goroutine with the test context and collects its error.
func (gt *GoroutineTest) Go(fn func(ctx context.Context) error) {
	gt.wg.Add(1)
	go func() {
		defer gt.wg.Done()
		if err := fn(gt.ctx); err != nil {
			select {
			case gt.errors <- err:
			default:
				gt.t.Logf("error channel full, dropping error: %v", err)
			}
		}
	}()
}

// Wait waits for all goroutines and fails the test if any returned an error.
func (gt *GoroutineTest) Wait() {
	gt.wg.Wait()
	gt.cancel()
	close(gt.errors)

	var errs []error
	for err := range gt.errors {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		gt.t.Errorf("goroutine test failed with %d error(s):", len(errs))
		for i, err := range errs {
			gt.t.Errorf("  [%d] %v", i+1, err)
		}
		gt.t.FailNow()
	}
}

// Context returns the test context.
func (gt *GoroutineTest) Context() context.Context {
	return gt.ctx
}

// Cancel cancels the test context.
func (gt *GoroutineTest) Cancel() {
	gt.cancel()
}

// =============================================================================
// Polling
// =============================================================================

// Eventually waits for condition to become true.
func Eventually(timeout, interval time.Duration, condition func() bool) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return nil
		}
		time.Sleep(interval)
	}
	return fmt.Errorf("condition not met within %v", timeout)
}

// WithTimeout runs fn and fails if it does not return within timeout.
func WithTimeout(timeout time.Duration, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("operation timed out after %v", timeout)
	}
}

// =============================================================================
// Fixtures
// =============================================================================

// Day returns midnight UTC of the given date.
func Day(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Reading builds a reading with the fields the aggregates look at.
func Reading(ts time.Time, coIn, efficiency, power float64, anomaly bool) types.Reading {
	rec := types.RecommendationNominal
	if anomaly {
		rec = types.RecommendationAnomaly
	}
	return types.Reading{
		Timestamp:           ts,
		COIn:                coIn,
		COOut:               coIn * (1 - efficiency/100),
		Efficiency:          efficiency,
		PredictedEfficiency: efficiency,
		Voltage:             3,
		Current:             power / 3,
		Power:               power,
		Anomaly:             anomaly,
		Recommendation:      rec,
		Profile:             "generic",
	}
}

// JSONSample encodes fields as a line payload.
func JSONSample(fields map[string]any) types.RawSample {
	b, err := json.Marshal(fields)
	if err != nil {
		panic(err)
	}
	return types.RawSample{Payload: b, ReceivedAt: time.Now()}
}

// SliceSource replays fixed samples, then reports io.EOF.
// With Block set it waits for cancellation instead of ending.
type SliceSource struct {
	mu      sync.Mutex
	samples []types.RawSample
	errAt   map[int]error
	pos     int
	closed  bool

	// Block makes Next wait for ctx once samples are exhausted.
	Block bool
}

// NewSliceSource creates a source replaying samples.
func NewSliceSource(samples ...types.RawSample) *SliceSource {
	return &SliceSource{samples: samples}
}

// FailAt makes the i-th call to Next return err instead of a sample.
func (s *SliceSource) FailAt(i int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errAt == nil {
		s.errAt = make(map[int]error)
	}
	s.errAt[i] = err
}

// Next returns the next sample.
func (s *SliceSource) Next(ctx context.Context) (types.RawSample, error) {
	if err := ctx.Err(); err != nil {
		return types.RawSample{}, err
	}

	s.mu.Lock()
	if err, ok := s.errAt[s.pos]; ok {
		s.pos++
		s.mu.Unlock()
		return types.RawSample{}, err
	}
	if s.pos < len(s.samples) {
		sample := s.samples[s.pos]
		s.pos++
		s.mu.Unlock()
		return sample, nil
	}
	block := s.Block
	s.mu.Unlock()

	if !block {
		return types.RawSample{}, io.EOF
	}
	<-ctx.Done()
	return types.RawSample{}, ctx.Err()
}

// Close marks the source closed.
func (s *SliceSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *SliceSource) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
