package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/xtxerr/catwatch/internal/client"
	"github.com/xtxerr/catwatch/internal/types"
)

type shell struct {
	cfg     *client.Config
	client  *client.Client
	out     io.Writer
	json    bool
	timeout time.Duration
}

type command struct {
	name    string
	usage   string
	summary string
	run     func(s *shell, ctx context.Context, args []string) error
}

var commands []command

func init() {
	commands = []command{
		{"latest", "latest", "most recent reading", (*shell).latest},
		{"history", "history [limit]", "recent readings, oldest first", (*shell).history},
		{"daily", "daily [YYYY-MM-DD]", "statistics of one calendar day", (*shell).daily},
		{"health", "health [window]", "health score of the last readings", (*shell).health},
		{"stats", "stats", "daemon component statistics", (*shell).stats},
		{"archive", "archive [from] [to]", "rollups of archived days", (*shell).archive},
		{"export", "export [hours] [file]", "CSV export of the last hours", (*shell).export},
		{"watch", "watch [count]", "follow the live feed", (*shell).watch},
		{"help", "help", "list commands", (*shell).help},
	}
}

func printHelp(w io.Writer) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, c := range commands {
		fmt.Fprintf(tw, "  %s\t%s\n", c.usage, c.summary)
	}
	tw.Flush()
}

// execute is the interactive entry point. Errors are printed, not returned.
func (s *shell) execute(line string) {
	args := strings.Fields(line)
	if len(args) == 0 || isExit(line) {
		return
	}
	if err := s.run(args); err != nil {
		fmt.Fprintf(s.out, "error: %v\n", err)
	}
}

func (s *shell) run(args []string) error {
	for _, c := range commands {
		if c.name != args[0] {
			continue
		}
		ctx := context.Background()
		if c.name != "watch" {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}
		return c.run(s, ctx, args[1:])
	}
	return fmt.Errorf("unknown command %q", args[0])
}

func (s *shell) printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(s.out, string(b))
	return err
}

func optInt(args []string, i int, name string) (int, error) {
	if len(args) <= i {
		return 0, nil
	}
	n, err := strconv.Atoi(args[i])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", name, args[i])
	}
	return n, nil
}

func optArg(args []string, i int) string {
	if len(args) <= i {
		return ""
	}
	return args[i]
}

// =============================================================================
// Commands
// =============================================================================

func (s *shell) latest(ctx context.Context, _ []string) error {
	r, ok, err := s.client.Latest(ctx)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(s.out, "no data yet")
		return nil
	}
	if s.json {
		return s.printJSON(r)
	}

	tw := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "timestamp\t%s\n", r.Timestamp.Local().Format(time.DateTime))
	fmt.Fprintf(tw, "profile\t%s\n", r.Profile)
	fmt.Fprintf(tw, "co in / out\t%.2f / %.2f\n", r.COIn, r.COOut)
	fmt.Fprintf(tw, "efficiency\t%.2f %% (predicted %.2f %%)\n", r.Efficiency, r.PredictedEfficiency)
	fmt.Fprintf(tw, "power\t%.1f mW (%.2f V, %.2f)\n", r.Power, r.Voltage, r.Current)
	fmt.Fprintf(tw, "anomaly\t%t\n", r.Anomaly)
	fmt.Fprintf(tw, "recommendation\t%s\n", r.Recommendation)
	return tw.Flush()
}

func (s *shell) history(ctx context.Context, args []string) error {
	limit, err := optInt(args, 0, "limit")
	if err != nil {
		return err
	}
	points, err := s.client.History(ctx, limit)
	if err != nil {
		return err
	}
	if s.json {
		return s.printJSON(points)
	}

	tw := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "time\tco_in\tco_out\tefficiency\tpower\t")
	for _, p := range points {
		fmt.Fprintf(tw, "%s\t%.2f\t%.2f\t%.2f\t%.1f\t\n",
			p.Timestamp.Local().Format(time.TimeOnly), p.COIn, p.COOut, p.Efficiency, p.Power)
	}
	return tw.Flush()
}

func (s *shell) daily(ctx context.Context, args []string) error {
	d, err := s.client.DailyStats(ctx, optArg(args, 0))
	if err != nil {
		return err
	}
	if s.json {
		return s.printJSON(d)
	}

	tw := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "date\t%s\n", d.Date)
	fmt.Fprintf(tw, "readings\t%d\n", d.Count)
	fmt.Fprintf(tw, "max co_in\t%.2f\n", d.MaxCOIn)
	fmt.Fprintf(tw, "avg efficiency\t%.2f %%\n", d.AvgEfficiency)
	fmt.Fprintf(tw, "efficiency p50 / p95\t%.2f / %.2f\n", d.EfficiencyP50, d.EfficiencyP95)
	fmt.Fprintf(tw, "total energy\t%.2f W\n", d.TotalEnergyWatts)
	fmt.Fprintf(tw, "anomalies\t%d\n", d.AnomalyCount)
	return tw.Flush()
}

func (s *shell) health(ctx context.Context, args []string) error {
	window, err := optInt(args, 0, "window")
	if err != nil {
		return err
	}
	h, err := s.client.Health(ctx, window)
	if err != nil {
		return err
	}
	if s.json {
		return s.printJSON(h)
	}

	tw := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "status\t%s\n", h.Status)
	fmt.Fprintf(tw, "score\t%.1f\n", h.Score)
	if h.Readings > 0 {
		fmt.Fprintf(tw, "avg efficiency\t%.1f %%\n", h.AvgEfficiency)
		fmt.Fprintf(tw, "anomaly ratio\t%.1f %%\n", h.AnomalyRatio)
		fmt.Fprintf(tw, "readings\t%d\n", h.Readings)
	}
	if in := h.Ingest; in != nil {
		fmt.Fprintf(tw, "ingest\t%s, store health %s\n", in.State, in.Level)
		fmt.Fprintf(tw, "ingested / dropped\t%d / %d\n", in.ReadingsIngested, in.Dropped)
		if in.StopReason != "" {
			fmt.Fprintf(tw, "stopped\t%s\n", in.StopReason)
		}
	}
	return tw.Flush()
}

func (s *shell) stats(ctx context.Context, _ []string) error {
	raw, err := s.client.SystemStats(ctx)
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	return s.printJSON(v)
}

func (s *shell) archive(ctx context.Context, args []string) error {
	rollups, err := s.client.ArchiveDaily(ctx, optArg(args, 0), optArg(args, 1))
	if err != nil {
		return err
	}
	if s.json {
		return s.printJSON(rollups)
	}
	if len(rollups) == 0 {
		fmt.Fprintln(s.out, "no archived days")
		return nil
	}

	tw := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "date\treadings\tmax co_in\tavg eff\tp95 eff\tenergy W\tanomalies\t")
	for _, r := range rollups {
		fmt.Fprintf(tw, "%s\t%d\t%.2f\t%.2f\t%.2f\t%.2f\t%d\t\n",
			r.Day, r.Count, r.MaxCOIn, r.AvgEfficiency, r.EfficiencyP95, r.TotalEnergyWatts, r.AnomalyCount)
	}
	return tw.Flush()
}

func (s *shell) export(ctx context.Context, args []string) error {
	var hours float64
	if h := optArg(args, 0); h != "" {
		var err error
		if hours, err = strconv.ParseFloat(h, 64); err != nil || hours <= 0 {
			return fmt.Errorf("hours must be a positive number, got %q", h)
		}
	}

	path := optArg(args, 1)
	if path == "-" {
		_, err := s.client.ExportCSV(ctx, hours, s.out)
		return err
	}

	dir := "."
	if path != "" {
		dir = filepath.Dir(path)
	}
	tmp, err := os.CreateTemp(dir, ".catwatch-export-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	name, err := s.client.ExportCSV(ctx, hours, tmp)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	if path == "" {
		path = name
	}
	if path == "" {
		path = "sensor_data.csv"
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "wrote %s\n", path)
	return nil
}

func (s *shell) watch(ctx context.Context, args []string) error {
	count, err := optInt(args, 0, "count")
	if err != nil {
		return err
	}
	if count == 0 {
		count = 10
	}

	// A closed feed cannot reopen, so each watch gets its own.
	live, err := client.New(s.cfg)
	if err != nil {
		return err
	}
	defer live.Close()

	readings := make(chan types.Reading, count)
	dropped := make(chan error, 1)
	live.OnReading(func(r types.Reading) {
		select {
		case readings <- r:
		default:
		}
	})
	live.OnDisconnect(func(err error) { dropped <- err })

	connectCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := live.Connect(connectCtx); err != nil {
		return err
	}

	for i := 0; i < count; i++ {
		select {
		case r := <-readings:
			if s.json {
				if err := s.printJSON(r); err != nil {
					return err
				}
				continue
			}
			flag := ""
			if r.Anomaly {
				flag = "  ANOMALY"
			}
			fmt.Fprintf(s.out, "%s  co_in=%.2f co_out=%.2f eff=%.2f%% power=%.1fmW%s\n",
				r.Timestamp.Local().Format(time.TimeOnly), r.COIn, r.COOut, r.Efficiency, r.Power, flag)
		case err := <-dropped:
			return fmt.Errorf("live feed dropped: %w", err)
		}
	}
	return nil
}

func (s *shell) help(context.Context, []string) error {
	printHelp(s.out)
	return nil
}
