package stats

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/xtxerr/catwatch/internal/types"
)

// CSVSchemaVersion identifies the column layout of WriteCSV.
// Bump it whenever CSVHeader changes.
const CSVSchemaVersion = 1

// CSVHeader is the fixed header row of a reading export.
var CSVHeader = []string{
	"timestamp",
	"co_in",
	"co_out",
	"efficiency",
	"predicted_efficiency",
	"voltage",
	"current",
	"power",
	"anomaly",
	"recommendation",
	"profile",
}

// WriteCSV writes the header and one row per reading in the given order.
// Timestamps are RFC 3339 in UTC, floats use the shortest representation
// that round-trips, and anomaly is 1 or 0.
func WriteCSV(w io.Writer, readings []types.Reading) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	row := make([]string, len(CSVHeader))
	for i := range readings {
		r := &readings[i]
		row[0] = r.Timestamp.UTC().Format(time.RFC3339Nano)
		row[1] = formatFloat(r.COIn)
		row[2] = formatFloat(r.COOut)
		row[3] = formatFloat(r.Efficiency)
		row[4] = formatFloat(r.PredictedEfficiency)
		row[5] = formatFloat(r.Voltage)
		row[6] = formatFloat(r.Current)
		row[7] = formatFloat(r.Power)
		row[8] = "0"
		if r.Anomaly {
			row[8] = "1"
		}
		row[9] = r.Recommendation
		row[10] = r.Profile

		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// ExportFilename returns the attachment name of a profile's export.
func ExportFilename(profile string) string {
	return "sensor_data_" + profile + ".csv"
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
