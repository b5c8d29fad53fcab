package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/ridestorm/internal/loadtest"
	"github.com/wesleyorama2/ridestorm/internal/loadtest/metrics"
)

// controllerInterval is how often ramping executors re-evaluate the target.
const controllerInterval = 100 * time.Millisecond

// RampingVUs ramps VU count up and down according to stages.
//
// The target is re-evaluated every 100ms and interpolated linearly inside
// each stage, so VU counts change smoothly instead of in steps.
//
// Example stages:
//
//	stages:
//	  - duration: 30s
//	    target: 20     # Ramp from 0 to 20 VUs over 30s
//	  - duration: 1m
//	    target: 50     # Ramp to 50 VUs over 1 minute
//	  - duration: 2m
//	    target: 50     # Hold 50 VUs for 2 minutes
//	  - duration: 30s
//	    target: 0      # Ramp down to 0 VUs over 30s
//
// Live VUs (including ones finishing an iteration after being asked to stop)
// never exceed the current target when new VUs are spawned, so the run never
// exceeds the highest stage target.
type RampingVUs struct {
	config    *Config
	scheduler *loadtest.VUScheduler
	metrics   *metrics.Engine
	logger    *zap.Logger

	// State
	mu           sync.RWMutex
	startTime    time.Time
	targetVUs    atomic.Int32
	currentStage atomic.Int32
	running      atomic.Bool
}

// NewRampingVUs creates a new ramping VUs executor.
func NewRampingVUs() *RampingVUs {
	return &RampingVUs{}
}

// Type returns the executor type.
func (e *RampingVUs) Type() Type {
	return TypeRampingVUs
}

// Init initializes the executor with configuration.
func (e *RampingVUs) Init(ctx context.Context, config *Config) error {
	if config.Type != TypeRampingVUs {
		return fmt.Errorf("invalid config type: expected %s, got %s", TypeRampingVUs, config.Type)
	}

	if err := config.Validate(); err != nil {
		return err
	}

	e.config = config
	e.logger = config.logger()
	return nil
}

// Run starts the executor and blocks until completion.
func (e *RampingVUs) Run(ctx context.Context, scheduler *loadtest.VUScheduler, metricsEngine *metrics.Engine) error {
	e.mu.Lock()
	e.scheduler = scheduler
	e.metrics = metricsEngine
	e.startTime = time.Now()
	e.mu.Unlock()
	e.running.Store(true)
	defer e.running.Store(false)

	metricsEngine.SetMaxVUs(e.config.MaxVUCount())

	// VUs outlive the schedule by the graceful stop, so they get their own
	// context that is only cancelled if the graceful stop expires.
	vuCtx, cancelVUs := context.WithCancel(ctx)
	defer cancelVUs()

	scheduleCtx, cancel := context.WithTimeout(ctx, e.config.TotalDuration())
	defer cancel()

	e.logger.Info("starting ramping-vus executor",
		zap.Int("stages", len(e.config.Stages)),
		zap.Int("maxVUs", e.config.MaxVUCount()),
		zap.Duration("duration", e.config.TotalDuration()))

	e.vuController(scheduleCtx, vuCtx)

	e.metrics.SetPhase(metrics.PhaseRampDown)
	gracefulShutdown(scheduler, e.config.gracefulStop(), cancelVUs, e.logger)
	e.targetVUs.Store(0)
	e.metrics.SetPhase(metrics.PhaseDone)

	return nil
}

// vuController adjusts VU count according to stages until ctx ends.
func (e *RampingVUs) vuController(ctx, vuCtx context.Context) {
	ticker := time.NewTicker(controllerInterval)
	defer ticker.Stop()

	e.tick(vuCtx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tick(vuCtx)
		}
	}
}

func (e *RampingVUs) tick(vuCtx context.Context) {
	elapsed := time.Since(e.startTime)

	stage := StageAt(e.config.Stages, elapsed)
	if stage < len(e.config.Stages) {
		e.currentStage.Store(int32(stage))
	}
	target := TargetAt(e.config.Stages, elapsed)
	e.targetVUs.Store(int32(target))

	e.adjustVUs(vuCtx, target)
	if phase := PhaseAt(e.config.Stages, elapsed); phase != metrics.PhaseDone {
		e.metrics.SetPhase(phase)
	}
}

// adjustVUs moves the running VU count toward target. Scaling down stops
// the newest VUs first; they finish their current iteration before exiting.
func (e *RampingVUs) adjustVUs(vuCtx context.Context, target int) {
	active := e.scheduler.GetActiveVUCount()

	switch {
	case target > active:
		// Stopping VUs still hold a slot until their goroutine exits.
		spawn := target - e.scheduler.LiveCount()
		if spawn > target-active {
			spawn = target - active
		}
		for i := 0; i < spawn; i++ {
			e.scheduler.Go(vuCtx)
		}
	case target < active:
		e.scheduler.StopNewest(active - target)
	}

	e.scheduler.UpdateMetrics()
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *RampingVUs) GetProgress() float64 {
	e.mu.RLock()
	start := e.startTime
	e.mu.RUnlock()
	return progress(start, e.config.TotalDuration(), e.running.Load())
}

// GetActiveVUs returns current active VU count.
func (e *RampingVUs) GetActiveVUs() int {
	e.mu.RLock()
	scheduler := e.scheduler
	e.mu.RUnlock()
	if scheduler == nil {
		return 0
	}
	return scheduler.LiveCount()
}

// GetStats returns executor statistics.
func (e *RampingVUs) GetStats() *Stats {
	e.mu.RLock()
	start := e.startTime
	e.mu.RUnlock()

	var elapsed time.Duration
	if !start.IsZero() {
		elapsed = time.Since(start)
	}

	stageIdx := int(e.currentStage.Load())
	stageName := ""
	if stageIdx < len(e.config.Stages) {
		stageName = e.config.Stages[stageIdx].Name
	}

	return &Stats{
		StartTime:        start,
		Elapsed:          elapsed,
		TotalDuration:    e.config.TotalDuration(),
		ActiveVUs:        e.GetActiveVUs(),
		TargetVUs:        int(e.targetVUs.Load()),
		MaxVUs:           e.config.MaxVUCount(),
		CurrentStage:     stageIdx,
		CurrentStageName: stageName,
		TotalStages:      len(e.config.Stages),
	}
}

// Ensure RampingVUs implements Executor
var _ Executor = (*RampingVUs)(nil)
