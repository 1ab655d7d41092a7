package api

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	defaults "github.com/xtxerr/catwatch/config"
	"github.com/xtxerr/catwatch/internal/errors"
	"github.com/xtxerr/catwatch/internal/stats"
	"github.com/xtxerr/catwatch/internal/storage/query"
)

// noDataMessage is the body dashboards check for before the first reading.
const noDataMessage = "No data"

// GET /data
func (a *API) handleData(w http.ResponseWriter, _ *http.Request) {
	r, ok := a.deps.Store.Latest()
	if !ok {
		writeError(w, http.StatusOK, noDataMessage)
		return
	}
	writeJSON(w, http.StatusOK, r)
}

// GET /history?limit=N
func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", a.cfg.HistoryLimit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if limit > defaults.MaxHistoryLimit {
		limit = defaults.MaxHistoryLimit
	}

	points, err := a.deps.Stats.History(limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

// GET /stats/daily?date=YYYY-MM-DD
func (a *API) handleDailyStats(w http.ResponseWriter, r *http.Request) {
	day := a.clock().In(a.deps.Stats.Location())
	if s := r.URL.Query().Get("date"); s != "" {
		var err error
		if day, err = a.deps.Stats.ParseDay(s); err != nil {
			a.fail(w, r, err)
			return
		}
	}

	key := "daily:" + day.Format(time.DateOnly)
	v, _, _ := a.group.Do(key, func() (any, error) {
		return a.deps.Stats.DailyStats(day), nil
	})

	writeJSON(w, http.StatusOK, roundDaily(v.(stats.DailyStats)))
}

func roundDaily(s stats.DailyStats) stats.DailyStats {
	s.MaxCOIn = stats.Round(s.MaxCOIn, 2)
	s.AvgEfficiency = stats.Round(s.AvgEfficiency, 2)
	s.TotalEnergyWatts = stats.Round(s.TotalEnergyWatts, 2)
	s.EfficiencyP50 = stats.Round(s.EfficiencyP50, 2)
	s.EfficiencyP95 = stats.Round(s.EfficiencyP95, 2)
	return s
}

// GET /export/csv?hours=24
func (a *API) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	window := a.cfg.ExportWindow
	if s := r.URL.Query().Get("hours"); s != "" {
		hours, err := strconv.ParseFloat(s, 64)
		if err != nil || hours <= 0 || hours > 24*366 {
			a.fail(w, r, errors.NewInvalidRequest("hours", s, "expected a positive number of hours"))
			return
		}
		window = time.Duration(hours * float64(time.Hour))
	}

	readings := a.deps.Stats.ExportRange(a.clock().Add(-window))

	// Render fully first so a failure can still become a JSON 500.
	var buf bytes.Buffer
	if err := stats.WriteCSV(&buf, readings); err != nil {
		a.fail(w, r, fmt.Errorf("render csv: %w", err))
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/csv")
	h.Set("Content-Disposition", "attachment; filename="+stats.ExportFilename(a.deps.Profile))
	h.Set("X-Export-Schema", strconv.Itoa(stats.CSVSchemaVersion))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// GET /system/health?window=10
func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	window, err := intParam(r, "window", a.cfg.HealthWindow)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	h, err := a.deps.Stats.HealthScore(window)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	resp := map[string]any{
		"health_score": stats.Round(h.Score, 1),
		"status":       h.Status,
	}
	if h.Status != stats.StatusNoData {
		resp["avg_efficiency"] = stats.Round(h.AvgEfficiency, 1)
		resp["anomaly_ratio"] = stats.Round(h.AnomalyRatio*100, 1)
		resp["readings"] = h.Readings
	}

	if l := a.deps.Loop; l != nil {
		ls := l.Stats()
		hs := l.Health().Stats()
		resp["ingest"] = map[string]any{
			"state":             ls.State,
			"level":             hs.LevelName,
			"failure_ratio":     hs.FailureRatio,
			"samples_received":  ls.SamplesReceived,
			"readings_ingested": ls.ReadingsIngested,
			"dropped":           ls.Dropped(),
			"parse_errors":      ls.ParseErrors,
			"derivation_errors": ls.DerivationErrors,
			"store_errors":      ls.StoreErrors,
			"last_ingest":       ls.LastIngest,
			"stop_reason":       ls.StopReason,
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// GET /system/stats
func (a *API) handleSystemStats(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"readings": a.deps.Store.Len(),
		"websocket": map[string]int64{
			"active": a.wsActive.Load(),
			"total":  a.wsTotal.Load(),
		},
	}
	if b := a.deps.Broadcaster; b != nil {
		resp["broadcast"] = b.Stats()
		resp["subscribers"] = b.Subscribers()
	}
	if l := a.deps.Loop; l != nil {
		resp["ingest"] = l.Stats()
		resp["health"] = l.Health().Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}

// GET /archive/daily?from=YYYY-MM-DD&to=YYYY-MM-DD
func (a *API) handleArchiveDaily(w http.ResponseWriter, r *http.Request) {
	if a.deps.Archive == nil {
		a.fail(w, r, fmt.Errorf("archive disabled: %w", errors.ErrNoData))
		return
	}

	q := r.URL.Query()
	from, to := q.Get("from"), q.Get("to")
	for name, v := range map[string]string{"from": from, "to": to} {
		if v == "" {
			continue
		}
		if _, err := time.Parse(time.DateOnly, v); err != nil {
			a.fail(w, r, errors.NewInvalidRequest(name, v, "expected YYYY-MM-DD"))
			return
		}
	}
	if from != "" && to != "" && from > to {
		a.fail(w, r, errors.NewInvalidRequest("from", from, "after to"))
		return
	}

	// Coalesced callers share the query; one leaving must not cancel it.
	ctx := context.WithoutCancel(r.Context())
	v, err, _ := a.group.Do("archive:"+from+":"+to, func() (any, error) {
		return a.deps.Archive.DailyRollups(ctx, from, to)
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}

	rollups := v.([]query.Rollup)
	out := make([]query.Rollup, len(rollups))
	for i, ru := range rollups {
		ru.MaxCOIn = stats.Round(ru.MaxCOIn, 2)
		ru.AvgEfficiency = stats.Round(ru.AvgEfficiency, 2)
		ru.TotalEnergyWatts = stats.Round(ru.TotalEnergyWatts, 2)
		ru.EfficiencyP50 = stats.Round(ru.EfficiencyP50, 2)
		ru.EfficiencyP95 = stats.Round(ru.EfficiencyP95, 2)
		out[i] = ru
	}
	writeJSON(w, http.StatusOK, out)
}

// intParam parses an optional integer query parameter.
func intParam(r *http.Request, name string, def int) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, errors.NewInvalidRequest(name, s, "expected a positive integer")
	}
	return n, nil
}
