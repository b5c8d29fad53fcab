package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Phase represents a phase of the load test.
type Phase string

const (
	PhaseInit     Phase = "init"
	PhaseRampUp   Phase = "ramp-up"
	PhaseSteady   Phase = "steady"
	PhaseRampDown Phase = "ramp-down"
	PhaseDone     Phase = "done"
)

// HDR histogram bounds, in microseconds: 1µs to 1h at 3 significant figures.
const (
	histogramMin     = 1
	histogramMax     = 3600000000
	histogramSigFigs = 3
)

// Trend accumulates a duration distribution.
//
// HDR histogram RecordValue is NOT thread-safe, so every access holds mu.
type Trend struct {
	mu   sync.Mutex
	hist *hdrhistogram.Histogram
}

// NewTrend creates an empty trend.
func NewTrend() *Trend {
	return &Trend{hist: hdrhistogram.New(histogramMin, histogramMax, histogramSigFigs)}
}

// Add records one duration, clamped to the histogram range.
func (t *Trend) Add(d time.Duration) {
	v := d.Microseconds()
	if v < histogramMin {
		v = histogramMin
	}
	if v > histogramMax {
		v = histogramMax
	}

	t.mu.Lock()
	_ = t.hist.RecordValue(v)
	t.mu.Unlock()
}

// Percentile returns the value at quantile p (0-100).
func (t *Trend) Percentile(p float64) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.hist.TotalCount() == 0 {
		return 0
	}
	return time.Duration(t.hist.ValueAtQuantile(p)) * time.Microsecond
}

// Stats returns the summary statistics of the distribution.
func (t *Trend) Stats() TrendStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.hist.TotalCount() == 0 {
		return TrendStats{}
	}

	us := func(v int64) time.Duration { return time.Duration(v) * time.Microsecond }
	return TrendStats{
		Avg:   time.Duration(t.hist.Mean() * float64(time.Microsecond)),
		Min:   us(t.hist.Min()),
		Med:   us(t.hist.ValueAtQuantile(50)),
		Max:   us(t.hist.Max()),
		P90:   us(t.hist.ValueAtQuantile(90)),
		P95:   us(t.hist.ValueAtQuantile(95)),
		P99:   us(t.hist.ValueAtQuantile(99)),
		Count: t.hist.TotalCount(),
	}
}

// TrendStats contains latency statistics.
type TrendStats struct {
	Avg   time.Duration `json:"avg"`
	Min   time.Duration `json:"min"`
	Med   time.Duration `json:"med"`
	Max   time.Duration `json:"max"`
	P90   time.Duration `json:"p90"`
	P95   time.Duration `json:"p95"`
	P99   time.Duration `json:"p99"`
	Count int64         `json:"count"`
}

// Rate tracks the fraction of non-zero samples.
//
// Following k6, "passes" counts non-zero samples and "fails" counts zeros, so
// for the errors metric a pass is an iteration that failed its checks.
type Rate struct {
	nonZero atomic.Int64
	total   atomic.Int64
}

// Add records one sample.
func (r *Rate) Add(nonZero bool) {
	if nonZero {
		r.nonZero.Add(1)
	}
	r.total.Add(1)
}

// Stats returns the rate and its pass/fail split.
func (r *Rate) Stats() RateStats {
	total := r.total.Load()
	passes := r.nonZero.Load()
	if passes > total {
		// Add increments nonZero first; a concurrent reader may see it early.
		passes = total
	}
	s := RateStats{Passes: passes, Fails: total - passes}
	if total > 0 {
		s.Rate = float64(passes) / float64(total)
	}
	return s
}

// RateStats is a point-in-time view of a Rate.
type RateStats struct {
	Rate   float64 `json:"rate"`
	Passes int64   `json:"passes"`
	Fails  int64   `json:"fails"`
}

// Counter is a monotonically increasing count.
type Counter struct {
	v atomic.Int64
}

// Add increments the counter by n.
func (c *Counter) Add(n int64) {
	c.v.Add(n)
}

// Value returns the current count.
func (c *Counter) Value() int64 {
	return c.v.Load()
}

// Gauge holds the latest value along with the extremes seen since the first Set.
type Gauge struct {
	mu       sync.Mutex
	value    int64
	min, max int64
	set      bool
}

// Set stores a new value.
func (g *Gauge) Set(v int64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.value = v
	if !g.set || v < g.min {
		g.min = v
	}
	if !g.set || v > g.max {
		g.max = v
	}
	g.set = true
}

// Stats returns the current value and extremes.
func (g *Gauge) Stats() GaugeStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return GaugeStats{Value: g.value, Min: g.min, Max: g.max}
}

// GaugeStats is a point-in-time view of a Gauge.
type GaugeStats struct {
	Value int64 `json:"value"`
	Min   int64 `json:"min"`
	Max   int64 `json:"max"`
}

// CheckCount is the pass/fail tally of one named check.
type CheckCount struct {
	Name   string `json:"name"`
	Passes int64  `json:"passes"`
	Fails  int64  `json:"fails"`
}

type checkTally struct {
	passes atomic.Int64
	fails  atomic.Int64
}

// Checks tallies check outcomes by name, preserving first-seen order.
type Checks struct {
	mu      sync.RWMutex
	order   []string
	tallies map[string]*checkTally
}

// NewChecks creates an empty tally.
func NewChecks() *Checks {
	return &Checks{tallies: make(map[string]*checkTally)}
}

// Record counts one outcome for the named check.
func (c *Checks) Record(name string, passed bool) {
	c.mu.RLock()
	t, ok := c.tallies[name]
	c.mu.RUnlock()

	if !ok {
		c.mu.Lock()
		if t, ok = c.tallies[name]; !ok {
			t = &checkTally{}
			c.tallies[name] = t
			c.order = append(c.order, name)
		}
		c.mu.Unlock()
	}

	if passed {
		t.passes.Add(1)
	} else {
		t.fails.Add(1)
	}
}

// Counts returns every tally in first-seen order.
func (c *Checks) Counts() []CheckCount {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]CheckCount, 0, len(c.order))
	for _, name := range c.order {
		t := c.tallies[name]
		out = append(out, CheckCount{Name: name, Passes: t.passes.Load(), Fails: t.fails.Load()})
	}
	return out
}
