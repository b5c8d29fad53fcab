// Package engine runs a ride-start load test end to end: it builds the VU
// scheduler and executor from a run configuration, drives them, and turns the
// collected metrics into a summary with threshold results.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wesleyorama2/ridestorm/internal/loadtest"
	"github.com/wesleyorama2/ridestorm/internal/loadtest/config"
	"github.com/wesleyorama2/ridestorm/internal/loadtest/executor"
	"github.com/wesleyorama2/ridestorm/internal/loadtest/metrics"
	"github.com/wesleyorama2/ridestorm/internal/loadtest/ride"
	"github.com/wesleyorama2/ridestorm/internal/loadtest/summary"
	"github.com/wesleyorama2/ridestorm/internal/loadtest/threshold"
)

// DefaultProgressInterval is how often the progress callback fires.
const DefaultProgressInterval = time.Second

// Engine is the orchestrator for a single run.
//
// Example usage:
//
//	cfg, _ := config.LoadConfig("run.yaml")
//	eng, _ := engine.New(cfg, engine.WithLogger(logger))
//	result, _ := eng.Run(ctx)
//	summary.Write(os.Stdout, result.Summary)
type Engine struct {
	config        *config.TestConfig
	metricsEngine *metrics.Engine
	httpConfig    loadtest.HTTPClientConfig
	logger        *zap.Logger

	progressFn       ProgressFunc
	progressInterval time.Duration
	buildOpts        summary.BuildOptions

	mu        sync.RWMutex
	exec      executor.Executor
	running   bool
	startTime time.Time
}

// Progress is a point-in-time view of a running test.
type Progress struct {
	// Fraction of the schedule completed, 0.0 to 1.0
	Fraction float64
	Stats    *executor.Stats
	Snapshot *metrics.Snapshot
}

// ProgressFunc receives periodic progress while a run is in flight.
type ProgressFunc func(Progress)

// Result is the outcome of a run.
type Result struct {
	RunID       string             `json:"runId"`
	Name        string             `json:"name"`
	Executor    executor.Type      `json:"executor"`
	BaseURL     string             `json:"baseUrl"`
	StartTime   time.Time          `json:"startTime"`
	Duration    time.Duration      `json:"duration"`
	Passed      bool               `json:"passed"`
	Interrupted bool               `json:"interrupted"`
	Thresholds  []threshold.Result `json:"thresholds,omitempty"`
	Snapshot    *metrics.Snapshot  `json:"-"`
	Summary     *summary.Summary   `json:"summary"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger handed to the executor and VUs.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithProgress registers a callback invoked every interval during the run.
// A non-positive interval uses DefaultProgressInterval.
func WithProgress(fn ProgressFunc, interval time.Duration) Option {
	return func(e *Engine) {
		e.progressFn = fn
		if interval > 0 {
			e.progressInterval = interval
		}
	}
}

// WithSummaryOptions sets the terminal facts and run id recorded in the
// summary. An empty RunID is replaced with a random UUID.
func WithSummaryOptions(opts summary.BuildOptions) Option {
	return func(e *Engine) {
		e.buildOpts = opts
	}
}

// WithHTTPClientConfig overrides the transport settings derived from the config.
func WithHTTPClientConfig(cfg loadtest.HTTPClientConfig) Option {
	return func(e *Engine) {
		e.httpConfig = cfg
	}
}

// New creates an engine for cfg. Defaults are applied to cfg before it is
// validated.
func New(cfg *config.TestConfig, opts ...Option) (*Engine, error) {
	config.ApplyDefaults(cfg)
	if cfg.BaseURL == "" {
		cfg.BaseURL = config.DefaultBaseURL
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	httpConfig := loadtest.DefaultHTTPClientConfig()
	httpConfig.Timeout = cfg.Timeout.GetDuration(httpConfig.Timeout)
	httpConfig.InsecureSkipVerify = cfg.InsecureSkipVerify

	e := &Engine{
		config:           cfg,
		metricsEngine:    metrics.NewEngine(),
		httpConfig:       httpConfig,
		logger:           zap.NewNop(),
		progressInterval: DefaultProgressInterval,
	}
	for _, opt := range opts {
		opt(e)
	}

	return e, nil
}

// Metrics returns the engine's metrics, live during a run. It can be
// registered with a Prometheus collector before Run is called.
func (e *Engine) Metrics() *metrics.Engine {
	return e.metricsEngine
}

// Config returns the effective configuration after defaults.
func (e *Engine) Config() *config.TestConfig {
	return e.config
}

// IsRunning reports whether Run is in progress.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Run executes the configured load and returns its result.
//
// Cancelling ctx ends the schedule early; VUs are stopped, and the result
// is still built from everything recorded so far with Interrupted set.
// An engine runs once.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	e.mu.Lock()
	if e.running || !e.startTime.IsZero() {
		e.mu.Unlock()
		return nil, errors.New("engine has already been run")
	}
	e.running = true
	e.startTime = time.Now()
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	e.metricsEngine.SetPhase(metrics.PhaseInit)

	scheduler, err := e.newScheduler()
	if err != nil {
		return nil, err
	}

	execConfig, err := e.config.ExecutorConfig()
	if err != nil {
		return nil, err
	}
	execConfig.Logger = e.logger

	exec, err := executor.CreateAndInitExecutor(ctx, execConfig)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.exec = exec
	e.mu.Unlock()

	e.logger.Info("starting run",
		zap.String("name", e.config.Name),
		zap.String("executor", string(exec.Type())),
		zap.String("url", e.config.BaseURL+loadtest.RideStartPath),
		zap.Duration("duration", execConfig.TotalDuration()),
		zap.Int("maxVUs", execConfig.MaxVUCount()))

	e.metricsEngine.MarkStart()

	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})

	g.Go(func() error {
		defer close(done)
		if err := exec.Run(gctx, scheduler, e.metricsEngine); err != nil {
			return fmt.Errorf("executor %s failed: %w", exec.Type(), err)
		}
		return nil
	})

	if e.progressFn != nil {
		g.Go(func() error {
			e.reportProgress(done)
			return nil
		})
	}

	runErr := g.Wait()
	e.metricsEngine.MarkEnd()

	result := e.buildResult(exec, ctx.Err() != nil)
	if runErr != nil {
		return result, runErr
	}

	e.logger.Info("run finished",
		zap.Bool("passed", result.Passed),
		zap.Bool("interrupted", result.Interrupted),
		zap.Int64("iterations", result.Snapshot.Iterations),
		zap.Duration("duration", result.Duration))

	return result, nil
}

func (e *Engine) newScheduler() (*loadtest.VUScheduler, error) {
	sleep, err := e.config.SleepDuration()
	if err != nil {
		return nil, err
	}
	// Arrival-rate iterations are paced by the executor, not by the VU.
	if e.config.Executor == executor.TypeConstantArrivalRate {
		sleep = 0
	}

	checks := ride.DefaultChecks()
	if e.config.ResponseSchema != "" {
		schemaCheck, err := ride.MatchesSchema(e.config.ResponseSchema)
		if err != nil {
			return nil, err
		}
		checks = append(checks, schemaCheck)
	}

	seed := e.config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	vuConfig := &loadtest.VUConfig{
		BaseURL:  e.config.BaseURL,
		Headers:  e.config.Headers,
		Catalog:  *e.config.Catalog,
		Checks:   checks,
		Sleep:    sleep,
		LogEvery: e.config.LogEvery,
		Seed:     seed,
	}

	scheduler, err := loadtest.NewVUScheduler(vuConfig, e.metricsEngine, e.httpConfig, e.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	return scheduler, nil
}

func (e *Engine) reportProgress(done <-chan struct{}) {
	ticker := time.NewTicker(e.progressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if p, ok := e.Progress(); ok {
				e.progressFn(p)
			}
		}
	}
}

// Progress returns the current progress. ok is false before the executor
// has been created.
func (e *Engine) Progress() (Progress, bool) {
	e.mu.RLock()
	exec := e.exec
	e.mu.RUnlock()
	if exec == nil {
		return Progress{}, false
	}

	return Progress{
		Fraction: exec.GetProgress(),
		Stats:    exec.GetStats(),
		Snapshot: e.metricsEngine.GetSnapshot(),
	}, true
}

func (e *Engine) buildResult(exec executor.Executor, interrupted bool) *Result {
	snap := e.metricsEngine.GetSnapshot()
	results := threshold.Evaluate(e.metricsEngine, e.config.Thresholds)

	opts := e.buildOpts
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	sum := summary.Build(snap, results, opts)

	for _, r := range threshold.Failed(results) {
		e.logger.Warn("threshold failed",
			zap.String("metric", r.Metric),
			zap.String("expression", r.Expression),
			zap.String("message", r.Message))
	}

	return &Result{
		RunID:       opts.RunID,
		Name:        e.config.Name,
		Executor:    exec.Type(),
		BaseURL:     e.config.BaseURL,
		StartTime:   e.startTime,
		Duration:    snap.Elapsed,
		Passed:      sum.Passed,
		Interrupted: interrupted,
		Thresholds:  results,
		Snapshot:    snap,
		Summary:     sum,
	}
}
