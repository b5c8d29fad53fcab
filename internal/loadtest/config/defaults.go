package config

import (
	"time"

	"github.com/wesleyorama2/ridestorm/internal/loadtest/executor"
	"github.com/wesleyorama2/ridestorm/internal/loadtest/metrics"
	"github.com/wesleyorama2/ridestorm/internal/loadtest/ride"
)

const (
	defaultName     = "ride-start"
	defaultSleep    = "1s"
	defaultTimeout  = 30 * time.Second
	defaultLogEvery = 20
)

// DefaultThresholds fails the run when p95 latency reaches 2s or 10% of
// iterations fail their checks.
func DefaultThresholds() map[string][]string {
	return map[string][]string{
		metrics.HTTPReqDuration: {"p(95)<2000"},
		metrics.Errors:          {"rate<0.1"},
	}
}

// Default returns the stock ride-start run: the four-stage profile, 1s
// sleep and the default thresholds.
func Default() *TestConfig {
	c := &TestConfig{}
	ApplyDefaults(c)
	return c
}

// ApplyDefaults applies default values to a TestConfig. A nil Thresholds map
// gets the defaults; an empty one means no thresholds.
func ApplyDefaults(config *TestConfig) {
	if config.Name == "" {
		config.Name = defaultName
	}
	if config.Executor == "" {
		config.Executor = executor.TypeRampingVUs
	}
	if config.Executor == executor.TypeRampingVUs && len(config.Stages) == 0 {
		for _, s := range executor.DefaultStages() {
			config.Stages = append(config.Stages, StageConfig{
				Duration: s.Duration.String(),
				Target:   s.Target,
				Name:     s.Name,
			})
		}
	}
	if config.Sleep == "" {
		if config.Executor == executor.TypeConstantArrivalRate {
			config.Sleep = "0s"
		} else {
			config.Sleep = defaultSleep
		}
	}
	if config.Timeout == 0 {
		config.Timeout = Duration(defaultTimeout)
	}
	if config.GracefulStop == "" {
		config.GracefulStop = executor.DefaultGracefulStop.String()
	}
	if config.Thresholds == nil {
		config.Thresholds = DefaultThresholds()
	}
	if config.Catalog == nil {
		c := ride.DefaultCatalog()
		config.Catalog = &c
	}
	if config.LogEvery == 0 {
		config.LogEvery = defaultLogEvery
	}
}
