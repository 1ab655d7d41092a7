package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/xtxerr/catwatch/internal/config"
	"github.com/xtxerr/catwatch/internal/errors"
	"github.com/xtxerr/catwatch/internal/testutil"
	"github.com/xtxerr/catwatch/internal/types"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.HTTP.Listen = "127.0.0.1:0"
	cfg.Archive.Enabled = false
	return cfg
}

func samples(n int) []types.RawSample {
	out := make([]types.RawSample, n)
	for i := range out {
		out[i] = testutil.JSONSample(map[string]any{
			"co_in":   100 + i,
			"co_out":  50,
			"voltage": 3.3,
			"current": 100,
		})
	}
	return out
}

func start(t *testing.T, s *Server) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case <-s.Ready():
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("server did not bind")
	}
	return cancel, done
}

func wait(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return")
	}
	return nil
}

func getJSON(url string, v any) (int, error) {
	resp, err := http.Get(url)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, json.NewDecoder(resp.Body).Decode(v)
}

func TestServerIngestsAndServes(t *testing.T) {
	src := testutil.NewSliceSource(samples(5)...)
	src.Block = true

	s, err := New(&Config{Config: testConfig(t), Source: src})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cancel, done := start(t, s)
	defer cancel()

	err = testutil.Eventually(5*time.Second, 10*time.Millisecond, func() bool {
		return s.Storage().Store().Len() == 5
	})
	if err != nil {
		t.Fatalf("readings not ingested: %v", err)
	}

	var latest types.Reading
	code, err := getJSON(fmt.Sprintf("http://%s/data", s.Addr()), &latest)
	if err != nil {
		t.Fatalf("GET /data: %v", err)
	}
	if code != http.StatusOK || latest.COIn != 104 {
		t.Errorf("expected latest co_in 104, got %d %+v", code, latest)
	}

	resp, err := http.Get(fmt.Sprintf("http://%s/metrics", s.Addr()))
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected metrics 200, got %d", resp.StatusCode)
	}

	cancel()
	if err := wait(t, done); err != nil {
		t.Errorf("Run: %v", err)
	}
	if !src.Closed() {
		t.Error("source not closed on shutdown")
	}
}

func TestServerKeepsServingAfterEndOfStream(t *testing.T) {
	src := testutil.NewSliceSource(samples(3)...)

	s, err := New(&Config{Config: testConfig(t), Source: src})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cancel, done := start(t, s)
	defer cancel()

	err = testutil.Eventually(5*time.Second, 10*time.Millisecond, func() bool {
		return s.Loop().Stats().StopReason != ""
	})
	if err != nil {
		t.Fatalf("loop did not stop: %v", err)
	}

	var history []types.HistoryPoint
	code, err := getJSON(fmt.Sprintf("http://%s/history", s.Addr()), &history)
	if err != nil {
		t.Fatalf("GET /history: %v", err)
	}
	if code != http.StatusOK || len(history) != 3 {
		t.Errorf("expected 3 readings, got %d %d", code, len(history))
	}

	select {
	case err := <-done:
		t.Fatalf("Run returned at end of stream: %v", err)
	default:
	}

	cancel()
	if err := wait(t, done); err != nil {
		t.Errorf("Run: %v", err)
	}
}

func TestServerStopsOnSourceFailure(t *testing.T) {
	src := testutil.NewSliceSource(samples(2)...)
	src.FailAt(2, fmt.Errorf("device unplugged"))

	s, err := New(&Config{Config: testConfig(t), Source: src})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cancel, done := start(t, s)
	defer cancel()

	err = wait(t, done)
	if !errors.Is(err, errors.ErrSource) {
		t.Fatalf("expected source error, got %v", err)
	}
	if s.Storage().Store().Len() != 2 {
		t.Errorf("expected 2 readings before the failure, got %d", s.Storage().Store().Len())
	}
}

func TestNewRejectsUnknownProfile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Profile = "tractor"

	if _, err := New(&Config{Config: cfg, Source: testutil.NewSliceSource()}); err == nil {
		t.Fatal("expected error for unknown profile")
	}
}

func TestNewRequiresConfig(t *testing.T) {
	if _, err := New(&Config{}); !errors.Is(err, errors.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}
