// Package config defines the run file format for ridestorm.
//
// A run file is YAML or JSON:
//
//	name: ride-start
//	baseUrl: http://localhost:8003
//	executor: ramping-vus
//	stages:
//	  - duration: 30s
//	    target: 20
//	  - duration: 1m
//	    target: 50
//	sleep: 1s
//	thresholds:
//	  http_req_duration: ["p(95)<2000"]
//	  errors: ["rate<0.1"]
package config

import (
	"time"

	"github.com/wesleyorama2/ridestorm/internal/loadtest/executor"
	"github.com/wesleyorama2/ridestorm/internal/loadtest/ride"
)

// TestConfig is the root configuration for a run.
type TestConfig struct {
	// Name identifies the run in logs
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// BaseURL is the ride service root; POST {baseUrl}/ride/start is called
	BaseURL string `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`

	// Executor selects the load model
	Executor executor.Type `json:"executor,omitempty" yaml:"executor,omitempty"`

	// Stages for ramping-vus
	Stages []StageConfig `json:"stages,omitempty" yaml:"stages,omitempty"`

	// VUs for constant-vus
	VUs int `json:"vus,omitempty" yaml:"vus,omitempty"`

	// Duration for constant-vus and constant-arrival-rate (e.g., "30s", "5m")
	Duration string `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Rate is iterations per second for constant-arrival-rate
	Rate float64 `json:"rate,omitempty" yaml:"rate,omitempty"`

	// PreAllocatedVUs and MaxVUs bound the arrival-rate VU pool
	PreAllocatedVUs int `json:"preAllocatedVUs,omitempty" yaml:"preAllocatedVUs,omitempty"`
	MaxVUs          int `json:"maxVUs,omitempty" yaml:"maxVUs,omitempty"`

	// GracefulStop is how long in-flight iterations may finish after the schedule ends
	GracefulStop string `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// Sleep is the pause between a VU's iterations. "0s" disables it.
	Sleep string `json:"sleep,omitempty" yaml:"sleep,omitempty"`

	// Timeout bounds each HTTP request
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// InsecureSkipVerify disables TLS certificate checks
	InsecureSkipVerify bool `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`

	// Headers are added to every request
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// Thresholds maps a metric name to pass/fail expressions
	Thresholds map[string][]string `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`

	// Catalog overrides the pools requests are sampled from
	Catalog *ride.Catalog `json:"catalog,omitempty" yaml:"catalog,omitempty"`

	// ResponseSchema, if set, adds a JSON Schema check on the response body
	ResponseSchema string `json:"responseSchema,omitempty" yaml:"responseSchema,omitempty"`

	// Seed makes request sampling reproducible. 0 seeds from the clock.
	Seed int64 `json:"seed,omitempty" yaml:"seed,omitempty"`

	// LogEvery logs every Nth successful iteration per VU
	LogEvery int64 `json:"logEvery,omitempty" yaml:"logEvery,omitempty"`
}

// StageConfig is one stage of a ramping profile as written in a run file.
type StageConfig struct {
	// Duration of this stage (e.g., "30s", "1m")
	Duration string `json:"duration" yaml:"duration"`

	// Target VU count at the end of this stage
	Target int `json:"target" yaml:"target"`

	// Name is optional, used in progress output
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// Duration is a time.Duration that can be unmarshaled from JSON/YAML strings.
type Duration time.Duration

// GetDuration returns the duration or a default if empty.
func (d Duration) GetDuration(defaultValue time.Duration) time.Duration {
	if d == 0 {
		return defaultValue
	}
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "null" {
		s = ""
	}
	return d.set(s)
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return d.set(s)
}

func (d *Duration) set(s string) error {
	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}
