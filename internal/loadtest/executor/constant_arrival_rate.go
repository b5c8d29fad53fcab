package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/wesleyorama2/ridestorm/internal/loadtest"
	"github.com/wesleyorama2/ridestorm/internal/loadtest/metrics"
)

// ConstantArrivalRate starts ride-start iterations at a fixed rate (open
// model), independent of how long each iteration takes.
//
// Iterations are paced by a token-bucket limiter with a burst of one and run
// on idle VUs from a pool. When every VU is busy a new one is spawned, up to
// MaxVUs; beyond that the iteration is dropped and counted in
// dropped_iterations.
//
// Example:
//
//	config:
//	  type: constant-arrival-rate
//	  rate: 20               # 20 ride starts per second
//	  duration: 5m
//	  preAllocatedVUs: 10
//	  maxVUs: 50
type ConstantArrivalRate struct {
	config    *Config
	scheduler *loadtest.VUScheduler
	metrics   *metrics.Engine
	logger    *zap.Logger

	limiter *rate.Limiter

	// Idle VU pool. Once draining, released VUs are removed instead.
	poolMu   sync.Mutex
	idle     []*loadtest.VirtualUser
	draining bool

	mu        sync.RWMutex
	startTime time.Time
	running   atomic.Bool
	dropped   atomic.Int64
}

// NewConstantArrivalRate creates a new constant arrival rate executor.
func NewConstantArrivalRate() *ConstantArrivalRate {
	return &ConstantArrivalRate{}
}

// Type returns the executor type.
func (e *ConstantArrivalRate) Type() Type {
	return TypeConstantArrivalRate
}

// Init initializes the executor with configuration.
func (e *ConstantArrivalRate) Init(ctx context.Context, config *Config) error {
	if config.Type != TypeConstantArrivalRate {
		return fmt.Errorf("invalid config type: expected %s, got %s", TypeConstantArrivalRate, config.Type)
	}

	if err := config.Validate(); err != nil {
		return err
	}

	// Set defaults for VU pool
	if config.PreAllocatedVUs <= 0 {
		config.PreAllocatedVUs = 1
	}
	if config.MaxVUs < config.PreAllocatedVUs {
		config.MaxVUs = config.PreAllocatedVUs
	}

	e.config = config
	e.logger = config.logger()
	return nil
}

// Run starts the executor and blocks until completion.
func (e *ConstantArrivalRate) Run(ctx context.Context, scheduler *loadtest.VUScheduler, metricsEngine *metrics.Engine) error {
	e.mu.Lock()
	e.scheduler = scheduler
	e.metrics = metricsEngine
	e.startTime = time.Now()
	e.mu.Unlock()
	e.running.Store(true)
	defer e.running.Store(false)

	e.limiter = rate.NewLimiter(rate.Limit(e.config.Rate), 1)

	metricsEngine.SetMaxVUs(e.config.MaxVUs)
	metricsEngine.SetPhase(metrics.PhaseSteady)

	vuCtx, cancelVUs := context.WithCancel(ctx)
	defer cancelVUs()

	scheduleCtx, cancel := context.WithTimeout(ctx, e.config.Duration)
	defer cancel()

	for i := 0; i < e.config.PreAllocatedVUs; i++ {
		e.idle = append(e.idle, scheduler.SpawnVU())
	}
	scheduler.UpdateMetrics()

	e.logger.Info("starting constant-arrival-rate executor",
		zap.Float64("rate", e.config.Rate),
		zap.Int("preAllocatedVUs", e.config.PreAllocatedVUs),
		zap.Int("maxVUs", e.config.MaxVUs),
		zap.Duration("duration", e.config.Duration))

	e.schedule(scheduleCtx, vuCtx)

	metricsEngine.SetPhase(metrics.PhaseRampDown)
	e.drain()
	gracefulShutdown(scheduler, e.config.gracefulStop(), cancelVUs, e.logger)
	metricsEngine.SetPhase(metrics.PhaseDone)

	if dropped := e.dropped.Load(); dropped > 0 {
		e.logger.Warn("iterations dropped, every VU was busy",
			zap.Int64("dropped", dropped),
			zap.Int("maxVUs", e.config.MaxVUs))
	}

	return nil
}

// schedule starts one iteration per limiter token until ctx ends.
func (e *ConstantArrivalRate) schedule(ctx, vuCtx context.Context) {
	for {
		if err := e.limiter.Wait(ctx); err != nil {
			return
		}

		vu := e.acquire()
		if vu == nil {
			e.dropped.Add(1)
			e.metrics.RecordDroppedIteration()
			continue
		}

		e.scheduler.RunOnce(vuCtx, vu, e.release)
	}
}

// acquire returns an idle VU, spawning one if the pool is empty and MaxVUs
// allows it. Returns nil when no VU is available.
func (e *ConstantArrivalRate) acquire() *loadtest.VirtualUser {
	e.poolMu.Lock()
	defer e.poolMu.Unlock()

	if n := len(e.idle); n > 0 {
		vu := e.idle[n-1]
		e.idle = e.idle[:n-1]
		return vu
	}

	if e.scheduler.LiveCount() >= e.config.MaxVUs {
		return nil
	}
	vu := e.scheduler.SpawnVU()
	e.scheduler.UpdateMetrics()
	return vu
}

// release returns a VU to the pool once its iteration finished.
func (e *ConstantArrivalRate) release(vu *loadtest.VirtualUser) {
	e.poolMu.Lock()
	defer e.poolMu.Unlock()

	if e.draining {
		e.scheduler.RemoveVU(vu.ID)
		return
	}
	e.idle = append(e.idle, vu)
}

// drain removes idle VUs and makes busy ones remove themselves on release.
func (e *ConstantArrivalRate) drain() {
	e.poolMu.Lock()
	defer e.poolMu.Unlock()

	e.draining = true
	for _, vu := range e.idle {
		e.scheduler.RemoveVU(vu.ID)
	}
	e.idle = nil
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *ConstantArrivalRate) GetProgress() float64 {
	e.mu.RLock()
	start := e.startTime
	e.mu.RUnlock()
	return progress(start, e.config.Duration, e.running.Load())
}

// GetActiveVUs returns current active VU count.
func (e *ConstantArrivalRate) GetActiveVUs() int {
	e.mu.RLock()
	scheduler := e.scheduler
	e.mu.RUnlock()
	if scheduler == nil {
		return 0
	}
	return scheduler.LiveCount()
}

// GetStats returns executor statistics.
func (e *ConstantArrivalRate) GetStats() *Stats {
	e.mu.RLock()
	start := e.startTime
	e.mu.RUnlock()

	var elapsed time.Duration
	if !start.IsZero() {
		elapsed = time.Since(start)
	}

	return &Stats{
		StartTime:         start,
		Elapsed:           elapsed,
		TotalDuration:     e.config.Duration,
		ActiveVUs:         e.GetActiveVUs(),
		MaxVUs:            e.config.MaxVUs,
		TargetRate:        e.config.Rate,
		DroppedIterations: e.dropped.Load(),
	}
}

// Ensure ConstantArrivalRate implements Executor
var _ Executor = (*ConstantArrivalRate)(nil)
