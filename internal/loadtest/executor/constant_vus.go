package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/ridestorm/internal/loadtest"
	"github.com/wesleyorama2/ridestorm/internal/loadtest/metrics"
)

// ConstantVUs runs a fixed number of VUs for a specified duration.
//
// Each VU loops over the ride-start iteration until the duration expires
// (closed model), so throughput depends on response time and sleep.
type ConstantVUs struct {
	config    *Config
	scheduler *loadtest.VUScheduler
	logger    *zap.Logger

	mu        sync.RWMutex
	startTime time.Time
	running   bool
}

// NewConstantVUs creates a new constant VUs executor.
func NewConstantVUs() *ConstantVUs {
	return &ConstantVUs{}
}

// Type returns the executor type.
func (e *ConstantVUs) Type() Type {
	return TypeConstantVUs
}

// Init initializes the executor with configuration.
func (e *ConstantVUs) Init(ctx context.Context, config *Config) error {
	if config.Type != TypeConstantVUs {
		return fmt.Errorf("invalid config type: expected %s, got %s", TypeConstantVUs, config.Type)
	}

	if err := config.Validate(); err != nil {
		return err
	}

	e.config = config
	e.logger = config.logger()
	return nil
}

// Run starts the executor and blocks until completion.
func (e *ConstantVUs) Run(ctx context.Context, scheduler *loadtest.VUScheduler, metricsEngine *metrics.Engine) error {
	e.mu.Lock()
	e.scheduler = scheduler
	e.startTime = time.Now()
	e.running = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	metricsEngine.SetMaxVUs(e.config.VUs)
	metricsEngine.SetPhase(metrics.PhaseSteady)

	vuCtx, cancelVUs := context.WithCancel(ctx)
	defer cancelVUs()

	e.logger.Info("starting constant-vus executor",
		zap.Int("vus", e.config.VUs),
		zap.Duration("duration", e.config.Duration))

	for i := 0; i < e.config.VUs; i++ {
		scheduler.Go(vuCtx)
	}

	timer := time.NewTimer(e.config.Duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}

	metricsEngine.SetPhase(metrics.PhaseRampDown)
	gracefulShutdown(scheduler, e.config.gracefulStop(), cancelVUs, e.logger)
	metricsEngine.SetPhase(metrics.PhaseDone)

	return nil
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *ConstantVUs) GetProgress() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return progress(e.startTime, e.config.Duration, e.running)
}

// GetActiveVUs returns current active VU count.
func (e *ConstantVUs) GetActiveVUs() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.scheduler == nil {
		return 0
	}
	return e.scheduler.LiveCount()
}

// GetStats returns executor statistics.
func (e *ConstantVUs) GetStats() *Stats {
	e.mu.RLock()
	start := e.startTime
	e.mu.RUnlock()

	var elapsed time.Duration
	if !start.IsZero() {
		elapsed = time.Since(start)
	}

	return &Stats{
		StartTime:     start,
		Elapsed:       elapsed,
		TotalDuration: e.config.Duration,
		ActiveVUs:     e.GetActiveVUs(),
		TargetVUs:     e.config.VUs,
		MaxVUs:        e.config.VUs,
	}
}

// Ensure ConstantVUs implements Executor
var _ Executor = (*ConstantVUs)(nil)
