package stats

import (
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/xtxerr/catwatch/internal/errors"
	"github.com/xtxerr/catwatch/internal/storage"
	"github.com/xtxerr/catwatch/internal/testutil"
	"github.com/xtxerr/catwatch/internal/types"
)

func appendAll(t *testing.T, s *storage.Store, readings ...types.Reading) {
	t.Helper()
	for _, r := range readings {
		if err := s.Append(r); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
}

func TestDailyStatsScenario(t *testing.T) {
	store := storage.NewMemory()
	day := testutil.Day(2024, 5, 1)

	appendAll(t, store,
		testutil.Reading(day.Add(1*time.Hour), 50, 40, 500, false),
		testutil.Reading(day.Add(2*time.Hour), 70, 60, 700, false),
		testutil.Reading(day.Add(3*time.Hour), 30, 20, 300, true),
		// Next day, must not count.
		testutil.Reading(day.Add(25*time.Hour), 999, 99, 9999, true),
	)

	e := NewEngine(store, time.UTC)
	got := e.DailyStats(day)

	if got.MaxCOIn != 70 {
		t.Errorf("max co_in: expected 70, got %v", got.MaxCOIn)
	}
	if got.AvgEfficiency != 40 {
		t.Errorf("avg efficiency: expected 40, got %v", got.AvgEfficiency)
	}
	if got.TotalEnergyWatts != 1.5 {
		t.Errorf("total energy: expected 1.5, got %v", got.TotalEnergyWatts)
	}
	if got.AnomalyCount != 1 {
		t.Errorf("anomaly count: expected 1, got %d", got.AnomalyCount)
	}
	if got.Count != 3 {
		t.Errorf("count: expected 3, got %d", got.Count)
	}
	if got.Date != "2024-05-01" {
		t.Errorf("date: expected 2024-05-01, got %s", got.Date)
	}
	if math.Abs(got.EfficiencyP50-40) > 40*sketchAccuracy*2 {
		t.Errorf("p50: expected ~40, got %v", got.EfficiencyP50)
	}
	if got.EfficiencyP95 < got.EfficiencyP50 {
		t.Errorf("p95 %v below p50 %v", got.EfficiencyP95, got.EfficiencyP50)
	}
}

func TestDailyStatsEmptyDay(t *testing.T) {
	store := storage.NewMemory()
	appendAll(t, store, testutil.Reading(testutil.Day(2024, 5, 1), 50, 40, 500, false))

	e := NewEngine(store, nil)
	got := e.DailyStats(testutil.Day(2024, 6, 1))

	want := DailyStats{Date: "2024-06-01"}
	if got != want {
		t.Errorf("expected all-zero stats, got %+v", got)
	}
}

func TestDailyStatsLocation(t *testing.T) {
	store := storage.NewMemory()
	// 22:30 UTC on May 1 is already May 2 at UTC+3.
	appendAll(t, store, testutil.Reading(time.Date(2024, 5, 1, 22, 30, 0, 0, time.UTC), 50, 40, 500, false))

	plus3 := time.FixedZone("UTC+3", 3*60*60)
	e := NewEngine(store, plus3)

	may1, err := e.ParseDay("2024-05-01")
	if err != nil {
		t.Fatal(err)
	}
	may2, err := e.ParseDay("2024-05-02")
	if err != nil {
		t.Fatal(err)
	}

	if got := e.DailyStats(may1).Count; got != 0 {
		t.Errorf("expected 0 readings on May 1 at UTC+3, got %d", got)
	}
	if got := e.DailyStats(may2).Count; got != 1 {
		t.Errorf("expected 1 reading on May 2 at UTC+3, got %d", got)
	}

	if got := NewEngine(store, time.UTC).DailyStats(may1).Count; got != 1 {
		t.Errorf("expected 1 reading on May 1 UTC, got %d", got)
	}
}

func TestParseDay(t *testing.T) {
	e := NewEngine(storage.NewMemory(), nil)

	tests := []struct {
		in      string
		wantErr bool
	}{
		{"2024-05-01", false},
		{"2024-02-30", true},
		{"05/01/2024", true},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			_, err := e.ParseDay(tt.in)
			if tt.wantErr {
				if !errors.Is(err, errors.ErrInvalidRequest) {
					t.Errorf("expected ErrInvalidRequest, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestHistory(t *testing.T) {
	store := storage.NewMemory()
	start := testutil.Day(2024, 5, 1)
	for i := 0; i < 60; i++ {
		appendAll(t, store, testutil.Reading(start.Add(time.Duration(i)*time.Second), float64(i), 50, 100, false))
	}

	e := NewEngine(store, nil)

	points, err := e.History(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(points) != 50 {
		t.Fatalf("expected default of 50 points, got %d", len(points))
	}
	if points[0].COIn != 10 || points[49].COIn != 59 {
		t.Errorf("expected co_in 10..59, got %v..%v", points[0].COIn, points[49].COIn)
	}
	for i := 1; i < len(points); i++ {
		if points[i].Timestamp.Before(points[i-1].Timestamp) {
			t.Fatalf("history not chronological at %d", i)
		}
	}

	points, err = e.History(500)
	if err != nil {
		t.Fatal(err)
	}
	if len(points) != 60 {
		t.Errorf("expected all 60 points, got %d", len(points))
	}

	if _, err := e.History(-1); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestHistoryEmpty(t *testing.T) {
	points, err := NewEngine(storage.NewMemory(), nil).History(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(points) != 0 {
		t.Errorf("expected no points, got %d", len(points))
	}
}

func TestHealthScore(t *testing.T) {
	store := storage.NewMemory()
	start := testutil.Day(2024, 5, 1)

	e := NewEngine(store, nil)

	h, err := e.HealthScore(10)
	if err != nil {
		t.Fatal(err)
	}
	if h.Score != 0 || h.Status != StatusNoData {
		t.Fatalf("expected no_data, got %+v", h)
	}

	// Fewer readings than the window.
	appendAll(t, store,
		testutil.Reading(start, 100, 80, 200, false),
		testutil.Reading(start.Add(time.Second), 100, 80, 200, false),
	)

	h, err = e.HealthScore(10)
	if err != nil {
		t.Fatal(err)
	}
	// 80*0.6 + 30 + 10
	if math.Abs(h.Score-88) > 1e-9 || h.Status != StatusExcellent {
		t.Errorf("expected 88 excellent, got %+v", h)
	}
	if h.Readings != 2 {
		t.Errorf("expected 2 readings, got %d", h.Readings)
	}

	appendAll(t, store,
		testutil.Reading(start.Add(2*time.Second), 100, 10, 50, true),
		testutil.Reading(start.Add(3*time.Second), 100, 10, 50, true),
	)

	// Last two only: 10*0.6 + 0 + 0.5*10 = 11
	h, err = e.HealthScore(2)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(h.Score-11) > 1e-9 || h.Status != StatusCritical || h.AnomalyRatio != 1 {
		t.Errorf("expected 11 critical, got %+v", h)
	}

	if _, err := e.HealthScore(-5); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestHealthScoreClamped(t *testing.T) {
	store := storage.NewMemory()
	appendAll(t, store, testutil.Reading(testutil.Day(2024, 5, 1), 100, 500, 1000, false))

	h, err := NewEngine(store, nil).HealthScore(10)
	if err != nil {
		t.Fatal(err)
	}
	if h.Score != 100 {
		t.Errorf("expected clamp to 100, got %v", h.Score)
	}

	store = storage.NewMemory()
	appendAll(t, store, testutil.Reading(testutil.Day(2024, 5, 1), 100, -500, 0, true))

	h, err = NewEngine(store, nil).HealthScore(10)
	if err != nil {
		t.Fatal(err)
	}
	if h.Score != 0 {
		t.Errorf("expected clamp to 0, got %v", h.Score)
	}
}

func TestStatus(t *testing.T) {
	tests := []struct {
		score float64
		want  string
	}{
		{100, StatusExcellent},
		{80, StatusExcellent},
		{79.9, StatusGood},
		{60, StatusGood},
		{59.9, StatusWarning},
		{40, StatusWarning},
		{39.9, StatusCritical},
		{0, StatusCritical},
	}

	for _, tt := range tests {
		if got := Status(tt.score); got != tt.want {
			t.Errorf("Status(%v) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestQueriesAreIdempotent(t *testing.T) {
	store := storage.NewMemory()
	day := testutil.Day(2024, 5, 1)
	for i := 0; i < 20; i++ {
		appendAll(t, store, testutil.Reading(day.Add(time.Duration(i)*time.Minute), float64(40+i), float64(i*5), 100, i%3 == 0))
	}

	e := NewEngine(store, nil)

	if a, b := e.DailyStats(day), e.DailyStats(day); a != b {
		t.Errorf("daily stats differ: %+v vs %+v", a, b)
	}

	h1, _ := e.History(10)
	h2, _ := e.History(10)
	if !reflect.DeepEqual(h1, h2) {
		t.Error("history differs between calls")
	}

	s1, _ := e.HealthScore(10)
	s2, _ := e.HealthScore(10)
	if s1 != s2 {
		t.Errorf("health differs: %+v vs %+v", s1, s2)
	}

	if a, b := e.ExportRange(day), e.ExportRange(day); !reflect.DeepEqual(a, b) {
		t.Error("export differs between calls")
	}
}

func TestRound(t *testing.T) {
	tests := []struct {
		v      float64
		places int
		want   float64
	}{
		{1.234, 2, 1.23},
		{1.235, 1, 1.2},
		{88.06, 1, 88.1},
		{-2.346, 2, -2.35},
	}
	for _, tt := range tests {
		if got := Round(tt.v, tt.places); got != tt.want {
			t.Errorf("Round(%v, %d) = %v, want %v", tt.v, tt.places, got, tt.want)
		}
	}
}
