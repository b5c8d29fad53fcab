// Package threshold parses and evaluates pass/fail criteria over run metrics.
//
// Expressions use k6 syntax ("p(95)<2000", "rate<0.1", "avg<200") and also
// accept the spaced form with unit suffixes ("p95 < 500ms"). Trend values are
// compared in milliseconds.
package threshold

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/wesleyorama2/ridestorm/internal/loadtest/metrics"
)

// Kind is the type of a metric, which decides the statistics it supports.
type Kind string

const (
	KindTrend   Kind = "trend"
	KindRate    Kind = "rate"
	KindCounter Kind = "counter"
	KindGauge   Kind = "gauge"
)

// metricKinds lists every metric thresholds may reference.
var metricKinds = map[string]Kind{
	metrics.HTTPReqDuration:   KindTrend,
	metrics.IterationDuration: KindTrend,
	metrics.HTTPReqFailed:     KindRate,
	metrics.Errors:            KindRate,
	metrics.ChecksRate:        KindRate,
	metrics.HTTPReqs:          KindCounter,
	metrics.Iterations:        KindCounter,
	metrics.DroppedIterations: KindCounter,
	metrics.DataReceived:      KindCounter,
	metrics.DataSent:          KindCounter,
	metrics.VUs:               KindGauge,
	metrics.VUsMax:            KindGauge,
}

// KindOf returns the kind of a named metric.
func KindOf(metric string) (Kind, bool) {
	k, ok := metricKinds[metric]
	return k, ok
}

var exprPattern = regexp.MustCompile(`^(p\(\s*(\d+(?:\.\d+)?)\s*\)|p(\d+(?:\.\d+)?)|avg|min|max|med|rate|count|value)\s*(<=|>=|==|!=|<|>|=)\s*(\S.*)$`)

// Expression is one parsed threshold expression.
type Expression struct {
	// Raw is the expression as written.
	Raw string
	// Stat is the aggregation: "p", "avg", "min", "max", "med", "rate",
	// "count" or "value".
	Stat string
	// Percentile is set when Stat is "p", in the range [0, 100].
	Percentile float64
	// Op is the comparison operator.
	Op string
	// Value is the right-hand side. Durations are converted to milliseconds.
	Value float64
	// IsDuration reports whether Value was written with a time unit.
	IsDuration bool
}

// ParseError reports an expression that could not be parsed or does not
// apply to its metric.
type ParseError struct {
	Metric     string
	Expression string
	Reason     string
}

func (e *ParseError) Error() string {
	if e.Metric == "" {
		return fmt.Sprintf("invalid threshold %q: %s", e.Expression, e.Reason)
	}
	return fmt.Sprintf("invalid threshold %q on %s: %s", e.Expression, e.Metric, e.Reason)
}

// Parse parses a threshold expression.
func Parse(expr string) (*Expression, error) {
	raw := strings.TrimSpace(expr)
	if raw == "" {
		return nil, &ParseError{Expression: expr, Reason: "expression cannot be empty"}
	}

	m := exprPattern.FindStringSubmatch(raw)
	if m == nil {
		return nil, &ParseError{Expression: expr, Reason: "expected <stat> <op> <value>, e.g. p(95)<2000 or rate<0.1"}
	}

	e := &Expression{Raw: raw, Stat: m[1], Op: m[4]}
	if e.Op == "=" {
		e.Op = "=="
	}

	if pct := m[2] + m[3]; pct != "" {
		p, err := strconv.ParseFloat(pct, 64)
		if err != nil || p < 0 || p > 100 {
			return nil, &ParseError{Expression: expr, Reason: "percentile must be between 0 and 100"}
		}
		e.Stat = "p"
		e.Percentile = p
	}

	value := strings.TrimSpace(m[5])
	if v, err := strconv.ParseFloat(value, 64); err == nil {
		e.Value = v
	} else if d, derr := time.ParseDuration(value); derr == nil {
		e.Value = float64(d) / float64(time.Millisecond)
		e.IsDuration = true
	} else {
		return nil, &ParseError{Expression: expr, Reason: fmt.Sprintf("invalid value %q", value)}
	}
	if math.IsNaN(e.Value) || math.IsInf(e.Value, 0) {
		return nil, &ParseError{Expression: expr, Reason: "value must be finite"}
	}

	return e, nil
}

// ParseFor parses expr and checks that its statistic applies to metric.
func ParseFor(metric, expr string) (*Expression, error) {
	kind, ok := KindOf(metric)
	if !ok {
		return nil, &ParseError{Metric: metric, Expression: expr, Reason: "unknown metric"}
	}

	e, err := Parse(expr)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			pe.Metric = metric
		}
		return nil, err
	}

	if !statApplies(kind, e.Stat) {
		return nil, &ParseError{Metric: metric, Expression: expr, Reason: fmt.Sprintf("%s is not available on a %s metric", e.Stat, kind)}
	}
	if e.IsDuration && kind != KindTrend {
		return nil, &ParseError{Metric: metric, Expression: expr, Reason: "time units are only valid on duration metrics"}
	}
	return e, nil
}

func statApplies(kind Kind, stat string) bool {
	switch kind {
	case KindTrend:
		switch stat {
		case "p", "avg", "min", "max", "med", "count":
			return true
		}
	case KindRate:
		return stat == "rate"
	case KindCounter:
		return stat == "count" || stat == "rate"
	case KindGauge:
		return stat == "value"
	}
	return false
}

// Validate checks every expression in a metric -> expressions map.
func Validate(thresholds map[string][]string) error {
	for _, metric := range sortedMetrics(thresholds) {
		for _, expr := range thresholds[metric] {
			if _, err := ParseFor(metric, expr); err != nil {
				return err
			}
		}
	}
	return nil
}

// Result is the outcome of one threshold expression.
type Result struct {
	Metric     string  `json:"metric"`
	Expression string  `json:"expression"`
	Passed     bool    `json:"passed"`
	Actual     float64 `json:"actual"`
	Message    string  `json:"message,omitempty"`
}

// Evaluate evaluates every expression against the engine's current values.
// Results are ordered by metric name, then by expression order. An
// expression that fails to parse yields a failed result.
func Evaluate(engine *metrics.Engine, thresholds map[string][]string) []Result {
	var results []Result
	for _, metric := range sortedMetrics(thresholds) {
		for _, expr := range thresholds[metric] {
			results = append(results, evaluateOne(engine, metric, expr))
		}
	}
	return results
}

func evaluateOne(engine *metrics.Engine, metric, expr string) Result {
	result := Result{Metric: metric, Expression: strings.TrimSpace(expr)}

	e, err := ParseFor(metric, expr)
	if err != nil {
		result.Message = err.Error()
		return result
	}

	result.Actual = actualValue(engine, metric, e)
	result.Passed = compareValues(result.Actual, e.Op, e.Value)
	if !result.Passed {
		result.Message = fmt.Sprintf("%s %s is %s, threshold: %s %s",
			metric, statLabel(e), formatValue(result.Actual), e.Op, formatValue(e.Value))
	}
	return result
}

func actualValue(engine *metrics.Engine, metric string, e *Expression) float64 {
	ms := func(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }

	switch kind, _ := KindOf(metric); kind {
	case KindTrend:
		trend := engine.Trend(metric)
		stats := trend.Stats()
		switch e.Stat {
		case "p":
			return ms(trend.Percentile(e.Percentile))
		case "avg":
			return ms(stats.Avg)
		case "min":
			return ms(stats.Min)
		case "max":
			return ms(stats.Max)
		case "med":
			return ms(stats.Med)
		case "count":
			return float64(stats.Count)
		}
	case KindRate:
		return engine.Rate(metric).Stats().Rate
	case KindCounter:
		count := engine.Counter(metric).Value()
		if e.Stat == "rate" {
			elapsed := engine.Elapsed()
			if elapsed <= 0 {
				return 0
			}
			return float64(count) / elapsed.Seconds()
		}
		return float64(count)
	case KindGauge:
		snap := engine.GetSnapshot()
		if metric == metrics.VUsMax {
			return float64(snap.VUsMax.Value)
		}
		return float64(snap.VUs.Value)
	}
	return 0
}

// compareValues compares two values using the given operator.
func compareValues(actual float64, op string, threshold float64) bool {
	switch op {
	case "<":
		return actual < threshold
	case "<=":
		return actual <= threshold
	case ">":
		return actual > threshold
	case ">=":
		return actual >= threshold
	case "==":
		return actual == threshold
	case "!=":
		return actual != threshold
	default:
		return false
	}
}

func statLabel(e *Expression) string {
	if e.Stat == "p" {
		return "p(" + strconv.FormatFloat(e.Percentile, 'f', -1, 64) + ")"
	}
	return e.Stat
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// AllPassed reports whether every result passed. An empty set passes.
func AllPassed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}

func sortedMetrics(thresholds map[string][]string) []string {
	names := make([]string, 0, len(thresholds))
	for name := range thresholds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
