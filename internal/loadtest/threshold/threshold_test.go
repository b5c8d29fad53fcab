package threshold

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/ridestorm/internal/loadtest/metrics"
)

func TestParse(t *testing.T) {
	tests := []struct {
		expr       string
		stat       string
		percentile float64
		op         string
		value      float64
		isDuration bool
	}{
		{"p(95)<2000", "p", 95, "<", 2000, false},
		{"p(99.9) <= 1500", "p", 99.9, "<=", 1500, false},
		{"p95 < 500ms", "p", 95, "<", 500, true},
		{"p(90)<1.5s", "p", 90, "<", 1500, true},
		{"rate<0.1", "rate", 0, "<", 0.1, false},
		{"  avg < 200  ", "avg", 0, "<", 200, false},
		{"count>=10", "count", 0, ">=", 10, false},
		{"med == 3", "med", 0, "==", 3, false},
		{"max=3", "max", 0, "==", 3, false},
		{"min != 0", "min", 0, "!=", 0, false},
		{"value>0", "value", 0, ">", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			e, err := Parse(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.stat, e.Stat)
			assert.Equal(t, tt.percentile, e.Percentile)
			assert.Equal(t, tt.op, e.Op)
			assert.InDelta(t, tt.value, e.Value, 1e-9)
			assert.Equal(t, tt.isDuration, e.IsDuration)
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, expr := range []string{
		"",
		"   ",
		"p(95)",
		"p(101)<5",
		"stddev<5",
		"rate 0.1",
		"rate<abc",
		"rate<",
		"<0.1",
		"rate<NaN",
	} {
		t.Run(expr, func(t *testing.T) {
			_, err := Parse(expr)
			var pe *ParseError
			assert.True(t, errors.As(err, &pe), "Parse(%q) = %v, want *ParseError", expr, err)
		})
	}
}

func TestParseFor(t *testing.T) {
	valid := map[string]string{
		metrics.HTTPReqDuration:   "p(95)<2000",
		metrics.IterationDuration: "avg<1500ms",
		metrics.Errors:            "rate<0.1",
		metrics.HTTPReqFailed:     "rate<0.01",
		metrics.ChecksRate:        "rate>0.9",
		metrics.HTTPReqs:          "count>100",
		metrics.Iterations:        "rate>5",
		metrics.VUsMax:            "value<=50",
	}
	for metric, expr := range valid {
		_, err := ParseFor(metric, expr)
		assert.NoError(t, err, "%s: %s", metric, expr)
	}

	invalid := []struct {
		metric, expr, reason string
	}{
		{"unknown_metric", "rate<0.1", "unknown metric"},
		{metrics.Errors, "p(95)<10", "not available on a rate metric"},
		{metrics.HTTPReqDuration, "rate<0.1", "not available on a trend metric"},
		{metrics.HTTPReqs, "count>1s", "time units"},
		{metrics.VUs, "count>1", "not available on a gauge metric"},
	}
	for _, tt := range invalid {
		_, err := ParseFor(tt.metric, tt.expr)
		require.Error(t, err, "%s: %s", tt.metric, tt.expr)
		assert.Contains(t, err.Error(), tt.reason)
	}

	_, err := ParseFor(metrics.Errors, "rate<<0.1")
	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, metrics.Errors, pe.Metric)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(map[string][]string{
		metrics.HTTPReqDuration: {"p(95)<2000"},
		metrics.Errors:          {"rate<0.1"},
	}))
	assert.NoError(t, Validate(nil))
	assert.Error(t, Validate(map[string][]string{
		metrics.Errors: {"rate<0.1", "p(95)<3"},
	}))
}

func TestEvaluate(t *testing.T) {
	engine := metrics.NewEngine()
	for i := 1; i <= 100; i++ {
		engine.RecordRequest(time.Duration(i)*10*time.Millisecond, false, 10, 10)
	}
	for i := 0; i < 100; i++ {
		engine.RecordError(i < 5)
	}

	results := Evaluate(engine, map[string][]string{
		metrics.HTTPReqDuration: {"p(95)<2000", "max<500", "avg<1000"},
		metrics.Errors:          {"rate<0.1"},
		metrics.HTTPReqs:        {"count==100"},
	})
	require.Len(t, results, 5)

	// Sorted by metric name, then expression order.
	assert.Equal(t, metrics.Errors, results[0].Metric)
	assert.Equal(t, metrics.HTTPReqDuration, results[1].Metric)
	assert.Equal(t, "p(95)<2000", results[1].Expression)
	assert.Equal(t, "max<500", results[2].Expression)
	assert.Equal(t, "avg<1000", results[3].Expression)
	assert.Equal(t, metrics.HTTPReqs, results[4].Metric)

	assert.True(t, results[0].Passed)
	assert.InDelta(t, 0.05, results[0].Actual, 1e-9)

	assert.True(t, results[1].Passed)
	assert.InDelta(t, 950, results[1].Actual, 10)

	assert.False(t, results[2].Passed)
	assert.Contains(t, results[2].Message, "http_req_duration max is")

	assert.True(t, results[3].Passed)
	assert.InDelta(t, 505, results[3].Actual, 10)

	assert.True(t, results[4].Passed)
	assert.False(t, AllPassed(results))
	assert.Len(t, Failed(results), 1)
}

func TestEvaluate_ErrorRateBoundary(t *testing.T) {
	engine := metrics.NewEngine()
	for i := 0; i < 10; i++ {
		engine.RecordError(i == 0)
	}

	// Exactly 10% does not satisfy rate<0.1.
	results := Evaluate(engine, map[string][]string{metrics.Errors: {"rate<0.1"}})
	require.Len(t, results, 1)
	assert.False(t, results[0].Passed)
	assert.Equal(t, "errors rate is 0.1, threshold: < 0.1", results[0].Message)
}

func TestEvaluate_ParseFailureFails(t *testing.T) {
	results := Evaluate(metrics.NewEngine(), map[string][]string{metrics.Errors: {"bogus"}})
	require.Len(t, results, 1)
	assert.False(t, results[0].Passed)
	assert.Contains(t, results[0].Message, "invalid threshold")
}

func TestEvaluate_CounterRateAndGauge(t *testing.T) {
	engine := metrics.NewEngine()
	engine.MarkStart()
	for i := 0; i < 10; i++ {
		engine.RecordIteration(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	engine.MarkEnd()
	engine.SetMaxVUs(50)

	results := Evaluate(engine, map[string][]string{
		metrics.Iterations: {"rate>0"},
		metrics.VUsMax:     {"value<=50"},
	})
	require.Len(t, results, 2)
	assert.True(t, AllPassed(results), "%+v", results)
}

func TestAllPassed_Empty(t *testing.T) {
	assert.True(t, AllPassed(nil))
}
