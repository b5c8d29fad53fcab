// Package executor provides load generation strategies for ride-start traffic.
package executor

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/ridestorm/internal/loadtest"
	"github.com/wesleyorama2/ridestorm/internal/loadtest/metrics"
)

// Type identifies the type of executor.
type Type string

const (
	// TypeRampingVUs ramps VU count up and down according to stages.
	TypeRampingVUs Type = "ramping-vus"

	// TypeConstantVUs runs a fixed number of VUs for a duration.
	TypeConstantVUs Type = "constant-vus"

	// TypeConstantArrivalRate maintains a fixed iteration rate.
	TypeConstantArrivalRate Type = "constant-arrival-rate"
)

// DefaultGracefulStop is how long VUs may finish their iteration after the
// executor's schedule ends.
const DefaultGracefulStop = 30 * time.Second

// hardStopTimeout bounds the wait after in-flight requests are cancelled.
const hardStopTimeout = 5 * time.Second

// Executor defines the interface for load generation strategies.
//
// Executors control HOW load is generated, either by managing a pool of
// virtual users or by controlling iteration rates.
type Executor interface {
	// Type returns the executor type.
	Type() Type

	// Init initializes the executor with configuration.
	// Called once before Run().
	Init(ctx context.Context, config *Config) error

	// Run starts the executor and blocks until the schedule and the graceful
	// stop have completed. Cancelling ctx ends the schedule early.
	Run(ctx context.Context, scheduler *loadtest.VUScheduler, metrics *metrics.Engine) error

	// GetProgress returns current progress (0.0 to 1.0).
	GetProgress() float64

	// GetActiveVUs returns current active VU count.
	GetActiveVUs() int

	// GetStats returns executor-specific statistics.
	GetStats() *Stats
}

// Config contains configuration for an executor.
type Config struct {
	// Name is the name of this executor instance
	Name string `json:"name" yaml:"name"`

	// Type is the executor type
	Type Type `json:"type" yaml:"type"`

	// VU-based executors
	VUs      int           `json:"vus,omitempty" yaml:"vus,omitempty"`
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Arrival-rate executors
	Rate            float64 `json:"rate,omitempty" yaml:"rate,omitempty"` // iterations/second
	PreAllocatedVUs int     `json:"preAllocatedVUs,omitempty" yaml:"preAllocatedVUs,omitempty"`
	MaxVUs          int     `json:"maxVUs,omitempty" yaml:"maxVUs,omitempty"`

	// Stages (for ramping executors)
	Stages []Stage `json:"stages,omitempty" yaml:"stages,omitempty"`

	// Graceful stop timeout
	GracefulStop time.Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// Logger for executor events. Nil disables logging.
	Logger *zap.Logger `json:"-" yaml:"-"`
}

// Stage defines a stage in ramping executors.
type Stage struct {
	// Duration of this stage
	Duration time.Duration `json:"duration" yaml:"duration"`

	// Target VU count at the end of the stage
	Target int `json:"target" yaml:"target"`

	// Optional name for this stage (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// Stats contains real-time executor statistics.
type Stats struct {
	// Timing
	StartTime     time.Time     `json:"startTime"`
	Elapsed       time.Duration `json:"elapsed"`
	TotalDuration time.Duration `json:"totalDuration"`

	// VU stats
	ActiveVUs int `json:"activeVUs"`
	TargetVUs int `json:"targetVUs"`
	MaxVUs    int `json:"maxVUs"`

	// Stage info (for ramping executors)
	CurrentStage     int    `json:"currentStage"`
	CurrentStageName string `json:"currentStageName"`
	TotalStages      int    `json:"totalStages"`

	// Rate info (for arrival-rate executors)
	TargetRate        float64 `json:"targetRate"`
	DroppedIterations int64   `json:"droppedIterations"`
}

// Validate validates the executor configuration.
func (c *Config) Validate() error {
	if c.Type == "" {
		return &ValidationError{Field: "type", Message: "executor type is required"}
	}
	if c.GracefulStop < 0 {
		return &ValidationError{Field: "gracefulStop", Message: "gracefulStop must be >= 0"}
	}

	switch c.Type {
	case TypeRampingVUs:
		if len(c.Stages) == 0 {
			return &ValidationError{Field: "stages", Message: "at least one stage is required"}
		}
		for i, stage := range c.Stages {
			if stage.Duration <= 0 {
				return &ValidationError{Field: stageField(i, "duration"), Message: "duration must be > 0"}
			}
			if stage.Target < 0 {
				return &ValidationError{Field: stageField(i, "target"), Message: "target must be >= 0"}
			}
		}

	case TypeConstantVUs:
		if c.VUs <= 0 {
			return &ValidationError{Field: "vus", Message: "vus must be > 0"}
		}
		if c.Duration <= 0 {
			return &ValidationError{Field: "duration", Message: "duration must be > 0"}
		}

	case TypeConstantArrivalRate:
		if c.Rate <= 0 {
			return &ValidationError{Field: "rate", Message: "rate must be > 0"}
		}
		if c.Duration <= 0 {
			return &ValidationError{Field: "duration", Message: "duration must be > 0"}
		}
		if c.PreAllocatedVUs < 0 {
			return &ValidationError{Field: "preAllocatedVUs", Message: "preAllocatedVUs must be >= 0"}
		}
		if c.MaxVUs < 0 {
			return &ValidationError{Field: "maxVUs", Message: "maxVUs must be >= 0"}
		}

	default:
		return &ValidationError{Field: "type", Message: "unknown executor type: " + string(c.Type)}
	}

	return nil
}

func stageField(i int, field string) string {
	return "stages[" + strconv.Itoa(i) + "]." + field
}

// TotalDuration calculates the scheduled duration, excluding graceful stop.
func (c *Config) TotalDuration() time.Duration {
	switch c.Type {
	case TypeConstantVUs, TypeConstantArrivalRate:
		return c.Duration
	case TypeRampingVUs:
		var total time.Duration
		for _, stage := range c.Stages {
			total += stage.Duration
		}
		return total
	default:
		return 0
	}
}

// MaxVUCount returns the most VUs the configuration can run at once.
func (c *Config) MaxVUCount() int {
	switch c.Type {
	case TypeRampingVUs:
		return MaxTarget(c.Stages)
	case TypeConstantVUs:
		return c.VUs
	case TypeConstantArrivalRate:
		if c.MaxVUs > c.PreAllocatedVUs {
			return c.MaxVUs
		}
		return c.PreAllocatedVUs
	default:
		return 0
	}
}

func (c *Config) gracefulStop() time.Duration {
	if c.GracefulStop == 0 {
		return DefaultGracefulStop
	}
	return c.GracefulStop
}

func (c *Config) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "validation error on field '" + e.Field + "': " + e.Message
}

// gracefulShutdown asks every VU to stop after its current iteration and
// waits up to grace for them. VUs still running afterwards have their
// requests cancelled through cancelVUs.
func gracefulShutdown(scheduler *loadtest.VUScheduler, grace time.Duration, cancelVUs context.CancelFunc, logger *zap.Logger) {
	if remaining := scheduler.Shutdown(grace); remaining > 0 {
		logger.Warn("graceful stop expired, cancelling in-flight iterations",
			zap.Int("vus", remaining),
			zap.Duration("gracefulStop", grace))
		cancelVUs()
		scheduler.Wait(hardStopTimeout)
	}
	scheduler.UpdateMetrics()
}

func progress(start time.Time, total time.Duration, running bool) float64 {
	if !running {
		if start.IsZero() {
			return 0.0
		}
		return 1.0
	}
	if total <= 0 {
		return 1.0
	}
	p := float64(time.Since(start)) / float64(total)
	if p > 1.0 {
		p = 1.0
	}
	return p
}
