package stats

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/xtxerr/catwatch/internal/testutil"
	"github.com/xtxerr/catwatch/internal/types"
)

func TestWriteCSV(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 30, 15, 123456789, time.FixedZone("CEST", 2*60*60))

	r := types.Reading{
		Timestamp:           ts,
		COIn:                100,
		COOut:               80,
		Efficiency:          20,
		PredictedEfficiency: 21.2,
		Voltage:             3.3,
		Current:             0.1,
		Power:               0.33,
		Anomaly:             true,
		Recommendation:      types.RecommendationAnomaly,
		Profile:             "bike",
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, []types.Reading{r, testutil.Reading(ts.Add(time.Second), 50, 50, 10, false)}); err != nil {
		t.Fatalf("write: %v", err)
	}

	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(rows))
	}

	if got := strings.Join(rows[0], ","); got != "timestamp,co_in,co_out,efficiency,predicted_efficiency,voltage,current,power,anomaly,recommendation,profile" {
		t.Errorf("unexpected header %q", got)
	}

	want := []string{
		"2024-05-01T10:30:15.123456789Z",
		"100", "80", "20", "21.2", "3.3", "0.1", "0.33",
		"1", "Clean catalytic mesh", "bike",
	}
	for i := range want {
		if rows[1][i] != want[i] {
			t.Errorf("column %s: expected %q, got %q", CSVHeader[i], want[i], rows[1][i])
		}
	}

	if rows[2][8] != "0" || rows[2][9] != types.RecommendationNominal {
		t.Errorf("unexpected second row %v", rows[2])
	}
}

func TestWriteCSVEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, nil); err != nil {
		t.Fatal(err)
	}
	if got := strings.Count(buf.String(), "\n"); got != 1 {
		t.Errorf("expected only the header line, got %d lines", got)
	}
}

func TestExportFilename(t *testing.T) {
	if got := ExportFilename("car"); got != "sensor_data_car.csv" {
		t.Errorf("unexpected filename %q", got)
	}
}

func TestAggregateNegativeCOIn(t *testing.T) {
	a := NewAggregate()
	a.Add(testutil.Reading(testutil.Day(2024, 5, 1), -5, 0, 0, false))
	if got := a.Result().MaxCOIn; got != -5 {
		t.Errorf("expected max -5, got %v", got)
	}
}
