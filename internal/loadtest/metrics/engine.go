// Package metrics collects and aggregates load test measurements.
package metrics

import (
	"sync"
	"time"
)

// Built-in metric names. They match k6 so that summaries and threshold
// expressions written for the original script keep working.
const (
	HTTPReqDuration   = "http_req_duration"
	IterationDuration = "iteration_duration"
	HTTPReqs          = "http_reqs"
	Iterations        = "iterations"
	DroppedIterations = "dropped_iterations"
	DataReceived      = "data_received"
	DataSent          = "data_sent"
	HTTPReqFailed     = "http_req_failed"
	Errors            = "errors"
	ChecksRate        = "checks"
	VUs               = "vus"
	VUsMax            = "vus_max"
)

// Engine aggregates every measurement taken during a run.
//
// # Thread Safety
//
// Engine is safe for concurrent use. Counters and rates use atomic
// operations, trends and gauges use mutex protection, so many virtual users
// can record at once without lost updates.
type Engine struct {
	reqDuration  *Trend
	iterDuration *Trend

	httpReqs          Counter
	iterations        Counter
	droppedIterations Counter
	dataReceived      Counter
	dataSent          Counter

	reqFailed Rate
	errors    Rate
	checkRate Rate

	checks *Checks

	vus    Gauge
	vusMax Gauge

	// Phase tracking
	currentPhase Phase
	phaseMu      sync.RWMutex
	phaseHistory []PhaseChange

	startMu   sync.RWMutex
	startTime time.Time
	endTime   time.Time
}

// PhaseChange records when a phase transition occurred.
type PhaseChange struct {
	Phase     Phase     `json:"phase"`
	Timestamp time.Time `json:"timestamp"`
	Requests  int64     `json:"requests"`
}

// NewEngine creates an empty metrics engine. The run clock starts now.
func NewEngine() *Engine {
	return &Engine{
		reqDuration:  NewTrend(),
		iterDuration: NewTrend(),
		checks:       NewChecks(),
		currentPhase: PhaseInit,
		startTime:    time.Now(),
	}
}

// MarkStart restarts the run clock.
func (e *Engine) MarkStart() {
	e.startMu.Lock()
	e.startTime = time.Now()
	e.endTime = time.Time{}
	e.startMu.Unlock()
}

// MarkEnd freezes the run clock so later snapshots report a stable duration.
func (e *Engine) MarkEnd() {
	e.startMu.Lock()
	if e.endTime.IsZero() {
		e.endTime = time.Now()
	}
	e.startMu.Unlock()
}

// Elapsed returns the run time so far, or the frozen total after MarkEnd.
func (e *Engine) Elapsed() time.Duration {
	e.startMu.RLock()
	defer e.startMu.RUnlock()
	if !e.endTime.IsZero() {
		return e.endTime.Sub(e.startTime)
	}
	return time.Since(e.startTime)
}

// RecordRequest records one completed HTTP request.
// failed follows http_req_failed semantics: transport error or status >= 400.
func (e *Engine) RecordRequest(duration time.Duration, failed bool, received, sent int64) {
	e.reqDuration.Add(duration)
	e.httpReqs.Add(1)
	e.dataReceived.Add(received)
	e.dataSent.Add(sent)
	e.reqFailed.Add(failed)
}

// RecordCheck counts one check outcome.
func (e *Engine) RecordCheck(name string, passed bool) {
	e.checks.Record(name, passed)
	e.checkRate.Add(passed)
}

// RecordError adds an outcome sample to the errors rate: true when the
// iteration failed any check.
func (e *Engine) RecordError(failed bool) {
	e.errors.Add(failed)
}

// RecordIteration records one completed VU iteration.
func (e *Engine) RecordIteration(duration time.Duration) {
	e.iterDuration.Add(duration)
	e.iterations.Add(1)
}

// RecordDroppedIteration counts an iteration an arrival-rate executor could
// not start because every VU was busy.
func (e *Engine) RecordDroppedIteration() {
	e.droppedIterations.Add(1)
}

// SetActiveVUs updates the active VU gauge.
func (e *Engine) SetActiveVUs(count int) {
	e.vus.Set(int64(count))
}

// GetActiveVUs returns the current active VU count.
func (e *Engine) GetActiveVUs() int {
	return int(e.vus.Stats().Value)
}

// SetMaxVUs records the number of VUs the executor may use.
func (e *Engine) SetMaxVUs(count int) {
	e.vusMax.Set(int64(count))
}

// SetPhase updates the current test phase.
func (e *Engine) SetPhase(phase Phase) {
	e.phaseMu.Lock()
	defer e.phaseMu.Unlock()

	if e.currentPhase == phase {
		return
	}

	e.currentPhase = phase
	e.phaseHistory = append(e.phaseHistory, PhaseChange{
		Phase:     phase,
		Timestamp: time.Now(),
		Requests:  e.httpReqs.Value(),
	})
}

// GetPhase returns the current test phase.
func (e *Engine) GetPhase() Phase {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()
	return e.currentPhase
}

// GetPhaseHistory returns the history of phase changes.
func (e *Engine) GetPhaseHistory() []PhaseChange {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()

	result := make([]PhaseChange, len(e.phaseHistory))
	copy(result, e.phaseHistory)
	return result
}

// Trend returns the named duration metric, or nil.
func (e *Engine) Trend(name string) *Trend {
	switch name {
	case HTTPReqDuration:
		return e.reqDuration
	case IterationDuration:
		return e.iterDuration
	}
	return nil
}

// Rate returns the named rate metric, or nil.
func (e *Engine) Rate(name string) *Rate {
	switch name {
	case HTTPReqFailed:
		return &e.reqFailed
	case Errors:
		return &e.errors
	case ChecksRate:
		return &e.checkRate
	}
	return nil
}

// Counter returns the named counter metric, or nil.
func (e *Engine) Counter(name string) *Counter {
	switch name {
	case HTTPReqs:
		return &e.httpReqs
	case Iterations:
		return &e.iterations
	case DroppedIterations:
		return &e.droppedIterations
	case DataReceived:
		return &e.dataReceived
	case DataSent:
		return &e.dataSent
	}
	return nil
}

// GetSnapshot returns a point-in-time snapshot of all metrics.
func (e *Engine) GetSnapshot() *Snapshot {
	e.startMu.RLock()
	start := e.startTime
	e.startMu.RUnlock()

	return &Snapshot{
		HTTPReqDuration:   e.reqDuration.Stats(),
		IterationDuration: e.iterDuration.Stats(),
		HTTPReqs:          e.httpReqs.Value(),
		Iterations:        e.iterations.Value(),
		DroppedIterations: e.droppedIterations.Value(),
		DataReceived:      e.dataReceived.Value(),
		DataSent:          e.dataSent.Value(),
		HTTPReqFailed:     e.reqFailed.Stats(),
		Errors:            e.errors.Stats(),
		Checks:            e.checkRate.Stats(),
		CheckCounts:       e.checks.Counts(),
		VUs:               e.vus.Stats(),
		VUsMax:            e.vusMax.Stats(),
		Phase:             e.GetPhase(),
		StartTime:         start,
		Elapsed:           e.Elapsed(),
	}
}

// Snapshot contains a point-in-time view of all metrics.
type Snapshot struct {
	HTTPReqDuration   TrendStats    `json:"httpReqDuration"`
	IterationDuration TrendStats    `json:"iterationDuration"`
	HTTPReqs          int64         `json:"httpReqs"`
	Iterations        int64         `json:"iterations"`
	DroppedIterations int64         `json:"droppedIterations"`
	DataReceived      int64         `json:"dataReceived"`
	DataSent          int64         `json:"dataSent"`
	HTTPReqFailed     RateStats     `json:"httpReqFailed"`
	Errors            RateStats     `json:"errors"`
	Checks            RateStats     `json:"checks"`
	CheckCounts       []CheckCount  `json:"checkCounts"`
	VUs               GaugeStats    `json:"vus"`
	VUsMax            GaugeStats    `json:"vusMax"`
	Phase             Phase         `json:"phase"`
	StartTime         time.Time     `json:"startTime"`
	Elapsed           time.Duration `json:"elapsed"`
}

// PerSecond converts a count to a per-second rate over the snapshot's elapsed time.
func (s *Snapshot) PerSecond(count int64) float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(count) / s.Elapsed.Seconds()
}
