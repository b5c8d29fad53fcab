package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/ridestorm/internal/loadtest/executor"
)

const (
	// EnvBaseURL overrides the file's baseUrl.
	EnvBaseURL = "RIDE_SERVICE_URL"

	// DefaultBaseURL is used when neither flag, environment nor file set one.
	DefaultBaseURL = "http://localhost:8003"
)

// LoadConfig loads a run configuration from a file.
//
// The file format is determined by extension:
//   - .yaml, .yml -> YAML
//   - .json -> JSON
func LoadConfig(path string) (*TestConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return ParseConfig(data, path)
}

// ParseConfig parses configuration data.
//
// The format is determined by the file extension in path, or defaults to YAML
// if the path is empty or has an unknown extension.
func ParseConfig(data []byte, path string) (*TestConfig, error) {
	var config TestConfig

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config (unknown format %s): %w", ext, err)
		}
	}

	return &config, nil
}

// ParseDurationString parses a duration string with support for common formats.
//
// Supported formats:
//   - Standard Go duration: "30s", "2m", "1h30m", "500ms"
//   - Seconds as integer: "30" (treated as 30 seconds)
//
// An empty string parses as zero.
func ParseDurationString(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(s)
	if err == nil {
		return d, nil
	}

	seconds, err := strconv.Atoi(s)
	if err == nil {
		return time.Duration(seconds) * time.Second, nil
	}

	return 0, fmt.Errorf("invalid duration format: %s", s)
}

// ParseStages parses the compact stage syntax used on the command line:
// "30s:20,1m:50,2m:50,30s:0".
func ParseStages(s string) ([]StageConfig, error) {
	var stages []StageConfig
	for i, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		dur, target, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("stage %d: expected duration:target, got %q", i, part)
		}
		if _, err := ParseDurationString(dur); err != nil {
			return nil, fmt.Errorf("stage %d: %w", i, err)
		}
		n, err := strconv.Atoi(strings.TrimSpace(target))
		if err != nil {
			return nil, fmt.Errorf("stage %d: invalid target %q", i, target)
		}

		stages = append(stages, StageConfig{Duration: strings.TrimSpace(dur), Target: n})
	}

	if len(stages) == 0 {
		return nil, errors.New("no stages given")
	}
	return stages, nil
}

// ParseThresholdFlag splits a "metric=expression" flag value.
func ParseThresholdFlag(s string) (metric, expr string, err error) {
	metric, expr, ok := strings.Cut(s, "=")
	metric, expr = strings.TrimSpace(metric), strings.TrimSpace(expr)
	if !ok || metric == "" || expr == "" {
		return "", "", fmt.Errorf("invalid threshold %q: expected metric=expression", s)
	}
	return metric, expr, nil
}

// LoadEnv loads variables from dotenv files without overriding the process
// environment. Missing files are ignored; with no paths ".env" is tried.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// ResolveBaseURL picks the target URL: flag, then RIDE_SERVICE_URL, then the
// file value, then DefaultBaseURL.
func ResolveBaseURL(flagValue, fileValue string) string {
	if v := strings.TrimSpace(flagValue); v != "" {
		return v
	}
	if v := strings.TrimSpace(os.Getenv(EnvBaseURL)); v != "" {
		return v
	}
	if v := strings.TrimSpace(fileValue); v != "" {
		return v
	}
	return DefaultBaseURL
}

// ExecutorConfig converts the run file into an executor configuration.
func (c *TestConfig) ExecutorConfig() (*executor.Config, error) {
	cfg := &executor.Config{
		Name:            c.Name,
		Type:            c.Executor,
		VUs:             c.VUs,
		Rate:            c.Rate,
		PreAllocatedVUs: c.PreAllocatedVUs,
		MaxVUs:          c.MaxVUs,
	}

	var err error
	if cfg.Duration, err = ParseDurationString(c.Duration); err != nil {
		return nil, fmt.Errorf("invalid duration: %w", err)
	}
	if cfg.GracefulStop, err = ParseDurationString(c.GracefulStop); err != nil {
		return nil, fmt.Errorf("invalid gracefulStop: %w", err)
	}

	for i, sc := range c.Stages {
		d, err := ParseDurationString(sc.Duration)
		if err != nil {
			return nil, fmt.Errorf("invalid stages[%d].duration: %w", i, err)
		}
		cfg.Stages = append(cfg.Stages, executor.Stage{
			Duration: d,
			Target:   sc.Target,
			Name:     sc.Name,
		})
	}

	return cfg, nil
}

// SleepDuration returns the pause between iterations.
func (c *TestConfig) SleepDuration() (time.Duration, error) {
	d, err := ParseDurationString(c.Sleep)
	if err != nil {
		return 0, fmt.Errorf("invalid sleep: %w", err)
	}
	return d, nil
}
