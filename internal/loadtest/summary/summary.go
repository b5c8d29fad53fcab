// Package summary renders the end-of-run report in the k6 handleSummary
// layout, so tooling built around k6 JSON summaries can read it unchanged.
package summary

import (
	"crypto/md5" //nolint:gosec // k6 derives group and check ids from md5
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/wesleyorama2/ridestorm/internal/loadtest/metrics"
	"github.com/wesleyorama2/ridestorm/internal/loadtest/threshold"
)

// Metric types and value kinds as k6 names them.
const (
	TypeTrend   = "trend"
	TypeRate    = "rate"
	TypeCounter = "counter"
	TypeGauge   = "gauge"

	ContainsTime    = "time"
	ContainsData    = "data"
	ContainsDefault = "default"
)

// TrendStats are the trend columns reported, in k6's default order.
var TrendStats = []string{"avg", "min", "med", "max", "p(90)", "p(95)"}

// Summary is the full end-of-run document.
type Summary struct {
	RunID     string             `json:"run_id"`
	Passed    bool               `json:"passed"`
	RootGroup Group              `json:"root_group"`
	Options   Options            `json:"options"`
	State     State              `json:"state"`
	Metrics   map[string]*Metric `json:"metrics"`
}

// Group is a k6 check group. Only the root group is used.
type Group struct {
	Name   string  `json:"name"`
	Path   string  `json:"path"`
	ID     string  `json:"id"`
	Groups []Group `json:"groups"`
	Checks []Check `json:"checks"`
}

// Check is the pass/fail tally of one named check.
type Check struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	ID     string `json:"id"`
	Passes int64  `json:"passes"`
	Fails  int64  `json:"fails"`
}

// Options echoes the summary rendering options.
type Options struct {
	SummaryTrendStats []string `json:"summaryTrendStats"`
	SummaryTimeUnit   string   `json:"summaryTimeUnit"`
	NoColor           bool     `json:"noColor"`
}

// State describes the run as a whole.
type State struct {
	IsStdOutTTY       bool    `json:"isStdOutTTY"`
	IsStdErrTTY       bool    `json:"isStdErrTTY"`
	TestRunDurationMs float64 `json:"testRunDurationMs"`
}

// Metric is one metric's aggregated values and threshold outcomes.
type Metric struct {
	Type       string                      `json:"type"`
	Contains   string                      `json:"contains"`
	Values     map[string]float64          `json:"values"`
	Thresholds map[string]ThresholdOutcome `json:"thresholds,omitempty"`
}

// ThresholdOutcome is the result of one threshold expression.
type ThresholdOutcome struct {
	OK bool `json:"ok"`
}

// BuildOptions carries run facts that are not metrics.
type BuildOptions struct {
	RunID       string
	IsStdOutTTY bool
	IsStdErrTTY bool
	NoColor     bool
}

// Build assembles the summary from a final snapshot and threshold results.
func Build(snap *metrics.Snapshot, results []threshold.Result, opts BuildOptions) *Summary {
	s := &Summary{
		RunID:  opts.RunID,
		Passed: threshold.AllPassed(results),
		RootGroup: Group{
			Name:   "",
			Path:   "",
			ID:     hashID(""),
			Groups: []Group{},
			Checks: make([]Check, 0, len(snap.CheckCounts)),
		},
		Options: Options{
			SummaryTrendStats: TrendStats,
			NoColor:           opts.NoColor,
		},
		State: State{
			IsStdOutTTY:       opts.IsStdOutTTY,
			IsStdErrTTY:       opts.IsStdErrTTY,
			TestRunDurationMs: ms(snap.Elapsed),
		},
		Metrics: make(map[string]*Metric),
	}

	for _, c := range snap.CheckCounts {
		path := "::" + c.Name
		s.RootGroup.Checks = append(s.RootGroup.Checks, Check{
			Name:   c.Name,
			Path:   path,
			ID:     hashID(path),
			Passes: c.Passes,
			Fails:  c.Fails,
		})
	}

	elapsed := snap.Elapsed.Seconds()
	perSecond := func(n int64) float64 {
		if elapsed <= 0 {
			return 0
		}
		return float64(n) / elapsed
	}

	s.Metrics[metrics.HTTPReqDuration] = trendMetric(snap.HTTPReqDuration)
	s.Metrics[metrics.IterationDuration] = trendMetric(snap.IterationDuration)

	s.Metrics[metrics.HTTPReqs] = counterMetric(ContainsDefault, snap.HTTPReqs, perSecond(snap.HTTPReqs))
	s.Metrics[metrics.Iterations] = counterMetric(ContainsDefault, snap.Iterations, perSecond(snap.Iterations))
	s.Metrics[metrics.DataReceived] = counterMetric(ContainsData, snap.DataReceived, perSecond(snap.DataReceived))
	s.Metrics[metrics.DataSent] = counterMetric(ContainsData, snap.DataSent, perSecond(snap.DataSent))
	if snap.DroppedIterations > 0 {
		s.Metrics[metrics.DroppedIterations] = counterMetric(ContainsDefault, snap.DroppedIterations, perSecond(snap.DroppedIterations))
	}

	s.Metrics[metrics.HTTPReqFailed] = rateMetric(snap.HTTPReqFailed)
	s.Metrics[metrics.Errors] = rateMetric(snap.Errors)
	s.Metrics[metrics.ChecksRate] = rateMetric(snap.Checks)

	s.Metrics[metrics.VUs] = gaugeMetric(snap.VUs)
	s.Metrics[metrics.VUsMax] = gaugeMetric(snap.VUsMax)

	for _, r := range results {
		m, ok := s.Metrics[r.Metric]
		if !ok {
			// A threshold on a metric with no samples still shows up.
			kind, _ := threshold.KindOf(r.Metric)
			m = &Metric{Type: string(kind), Contains: ContainsDefault, Values: map[string]float64{}}
			s.Metrics[r.Metric] = m
		}
		if m.Thresholds == nil {
			m.Thresholds = make(map[string]ThresholdOutcome)
		}
		m.Thresholds[r.Expression] = ThresholdOutcome{OK: r.Passed}
	}

	return s
}

func trendMetric(t metrics.TrendStats) *Metric {
	return &Metric{
		Type:     TypeTrend,
		Contains: ContainsTime,
		Values: map[string]float64{
			"avg":   ms(t.Avg),
			"min":   ms(t.Min),
			"med":   ms(t.Med),
			"max":   ms(t.Max),
			"p(90)": ms(t.P90),
			"p(95)": ms(t.P95),
		},
	}
}

func counterMetric(contains string, count int64, rate float64) *Metric {
	return &Metric{
		Type:     TypeCounter,
		Contains: contains,
		Values:   map[string]float64{"count": float64(count), "rate": rate},
	}
}

func rateMetric(r metrics.RateStats) *Metric {
	return &Metric{
		Type:     TypeRate,
		Contains: ContainsDefault,
		Values: map[string]float64{
			"rate":   r.Rate,
			"passes": float64(r.Passes),
			"fails":  float64(r.Fails),
		},
	}
}

func gaugeMetric(g metrics.GaugeStats) *Metric {
	return &Metric{
		Type:     TypeGauge,
		Contains: ContainsDefault,
		Values: map[string]float64{
			"value": float64(g.Value),
			"min":   float64(g.Min),
			"max":   float64(g.Max),
		},
	}
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func hashID(path string) string {
	sum := md5.Sum([]byte(path)) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// Write encodes the summary as a single JSON document followed by a newline.
func Write(w io.Writer, s *Summary) error {
	if err := json.NewEncoder(w).Encode(s); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return nil
}

// Export writes the summary as indented JSON to path, creating parent
// directories as needed.
func Export(path string, s *Summary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create summary directory: %w", err)
		}
	}

	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to export summary: %w", err)
	}
	return nil
}

// Read decodes a summary previously written by Write or Export.
func Read(r io.Reader) (*Summary, error) {
	var s Summary
	if err := json.NewDecoder(r).Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to read summary: %w", err)
	}
	return &s, nil
}
