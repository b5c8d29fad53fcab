package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/ridestorm/internal/loadtest/executor"
	"github.com/wesleyorama2/ridestorm/internal/loadtest/metrics"
)

func TestParseDurationString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{name: "standard seconds", input: "30s", expected: 30 * time.Second},
		{name: "standard minutes", input: "2m", expected: 2 * time.Minute},
		{name: "milliseconds", input: "500ms", expected: 500 * time.Millisecond},
		{name: "combined duration", input: "1h30m", expected: 90 * time.Minute},
		{name: "integer as seconds", input: "30", expected: 30 * time.Second},
		{name: "padded", input: " 1s ", expected: time.Second},
		{name: "empty string", input: "", expected: 0},
		{name: "invalid format", input: "abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDurationString(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestParseConfig_YAML(t *testing.T) {
	data := []byte(`
name: smoke
baseUrl: http://rides.internal:8003
stages:
  - duration: 10s
    target: 5
  - duration: 20
    target: 0
    name: drain
sleep: 500ms
timeout: 5s
headers:
  Authorization: Bearer abc
thresholds:
  http_req_duration: ["p(95)<500"]
catalog:
  cities: [Pune]
  pickups: [Baner]
  drops: [Airport]
  riderIds: {min: 1, max: 3}
  driverIds: {min: 1, max: 2}
seed: 7
`)

	cfg, err := ParseConfig(data, "run.yaml")
	require.NoError(t, err)

	assert.Equal(t, "smoke", cfg.Name)
	assert.Equal(t, "http://rides.internal:8003", cfg.BaseURL)
	require.Len(t, cfg.Stages, 2)
	assert.Equal(t, "20", cfg.Stages[1].Duration)
	assert.Equal(t, "drain", cfg.Stages[1].Name)
	assert.Equal(t, 5*time.Second, time.Duration(cfg.Timeout))
	assert.Equal(t, "Bearer abc", cfg.Headers["Authorization"])
	assert.Equal(t, []string{"p(95)<500"}, cfg.Thresholds[metrics.HTTPReqDuration])
	require.NotNil(t, cfg.Catalog)
	assert.Equal(t, []string{"Pune"}, cfg.Catalog.Cities)
	assert.Equal(t, 3, cfg.Catalog.RiderIDs.Max)
	assert.Equal(t, int64(7), cfg.Seed)

	ApplyDefaults(cfg)
	require.NoError(t, cfg.Validate())

	ec, err := cfg.ExecutorConfig()
	require.NoError(t, err)
	assert.Equal(t, executor.TypeRampingVUs, ec.Type)
	assert.Equal(t, 30*time.Second, ec.TotalDuration())
	assert.Equal(t, 20*time.Second, ec.Stages[1].Duration)

	sleep, err := cfg.SleepDuration()
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, sleep)
}

func TestParseConfig_JSON(t *testing.T) {
	data := []byte(`{
		"executor": "constant-arrival-rate",
		"rate": 25,
		"duration": "1m",
		"maxVUs": 10,
		"timeout": "2s",
		"thresholds": {}
	}`)

	cfg, err := ParseConfig(data, "run.json")
	require.NoError(t, err)
	assert.Equal(t, executor.TypeConstantArrivalRate, cfg.Executor)
	assert.Equal(t, 2*time.Second, time.Duration(cfg.Timeout))

	ApplyDefaults(cfg)
	assert.Empty(t, cfg.Stages, "arrival rate gets no default stages")
	assert.Equal(t, "0s", cfg.Sleep)
	assert.Empty(t, cfg.Thresholds, "an explicit empty map disables thresholds")
	require.NoError(t, cfg.Validate())
}

func TestParseConfig_Invalid(t *testing.T) {
	_, err := ParseConfig([]byte(`{"stages": [`), "run.json")
	assert.Error(t, err)

	_, err = ParseConfig([]byte("timeout: forever"), "run.yml")
	assert.Error(t, err)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: from-file\nvus: 3\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Name)
	assert.Equal(t, 3, cfg.VUs)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "ride-start", cfg.Name)
	assert.Equal(t, executor.TypeRampingVUs, cfg.Executor)
	assert.Equal(t, "1s", cfg.Sleep)
	assert.Equal(t, 30*time.Second, time.Duration(cfg.Timeout))
	assert.Equal(t, int64(20), cfg.LogEvery)
	assert.Equal(t, DefaultThresholds(), cfg.Thresholds)
	require.NotNil(t, cfg.Catalog)
	require.NoError(t, cfg.Validate())

	ec, err := cfg.ExecutorConfig()
	require.NoError(t, err)
	assert.Equal(t, executor.DefaultStages(), ec.Stages)
	assert.Equal(t, 4*time.Minute, ec.TotalDuration())
	assert.Equal(t, 50, ec.MaxVUCount())
	assert.Equal(t, executor.DefaultGracefulStop, ec.GracefulStop)
}

func TestParseStages(t *testing.T) {
	stages, err := ParseStages("30s:20, 1m:50,2m:50,30s:0")
	require.NoError(t, err)
	assert.Equal(t, []StageConfig{
		{Duration: "30s", Target: 20},
		{Duration: "1m", Target: 50},
		{Duration: "2m", Target: 50},
		{Duration: "30s", Target: 0},
	}, stages)

	for _, bad := range []string{"", "30s", "30s:x", "abc:5", ","} {
		_, err := ParseStages(bad)
		assert.Error(t, err, "ParseStages(%q)", bad)
	}
}

func TestParseThresholdFlag(t *testing.T) {
	metric, expr, err := ParseThresholdFlag("errors=rate<0.05")
	require.NoError(t, err)
	assert.Equal(t, "errors", metric)
	assert.Equal(t, "rate<0.05", expr)

	// Only the first '=' separates the metric.
	_, expr, err = ParseThresholdFlag("http_reqs=count==10")
	require.NoError(t, err)
	assert.Equal(t, "count==10", expr)

	for _, bad := range []string{"errors", "=rate<1", "errors="} {
		_, _, err := ParseThresholdFlag(bad)
		assert.Error(t, err, bad)
	}
}

func TestValidate_CollectsErrors(t *testing.T) {
	cfg := &TestConfig{
		BaseURL:  "ftp://",
		Executor: "bogus",
		Sleep:    "soon",
		Thresholds: map[string][]string{
			metrics.Errors:  {"p(95)<10"},
			"no_such_metric": {"rate<1"},
		},
	}

	err := cfg.Validate()
	require.Error(t, err)

	var errs *ValidationErrors
	require.True(t, errors.As(err, &errs))
	fields := make([]string, 0, len(errs.Errors))
	for _, e := range errs.Errors {
		fields = append(fields, e.Field)
	}
	assert.Contains(t, fields, "baseUrl")
	assert.Contains(t, fields, "executor")
	assert.Contains(t, fields, "sleep")
	assert.Contains(t, fields, "thresholds.errors[0]")
	assert.Contains(t, fields, "thresholds.no_such_metric[0]")
	assert.Contains(t, err.Error(), "validation errors:")
}

func TestValidate_ExecutorRules(t *testing.T) {
	cfg := &TestConfig{Executor: executor.TypeConstantVUs, Duration: "10s"}
	ApplyDefaults(cfg)

	err := cfg.Validate()
	require.Error(t, err)
	var errs *ValidationErrors
	require.True(t, errors.As(err, &errs))
	require.Len(t, errs.Errors, 1)
	assert.Equal(t, "vus", errs.Errors[0].Field)

	cfg.VUs = 2
	assert.NoError(t, cfg.Validate())
}

func TestValidate_Catalog(t *testing.T) {
	cfg := Default()
	cfg.Catalog.Cities = nil
	assert.ErrorContains(t, cfg.Validate(), "catalog")
}

func TestResolveBaseURL(t *testing.T) {
	t.Setenv(EnvBaseURL, "")
	assert.Equal(t, DefaultBaseURL, ResolveBaseURL("", ""))
	assert.Equal(t, "http://file", ResolveBaseURL("", "http://file"))

	t.Setenv(EnvBaseURL, "http://env")
	assert.Equal(t, "http://env", ResolveBaseURL("", "http://file"))
	assert.Equal(t, "http://flag", ResolveBaseURL("http://flag", "http://file"))
}

func TestLoadEnv(t *testing.T) {
	const key = "RIDESTORM_TEST_LOAD_ENV"
	t.Cleanup(func() { os.Unsetenv(key) })

	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte(key+"=from-dotenv\n"), 0o644))

	require.NoError(t, LoadEnv(filepath.Join(dir, "missing.env"), path))
	assert.Equal(t, "from-dotenv", os.Getenv(key))
}

func TestDuration_JSONRoundTrip(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalJSON([]byte(`"1m30s"`)))
	assert.Equal(t, 90*time.Second, time.Duration(d))

	require.NoError(t, d.UnmarshalJSON([]byte(`"45"`)))
	assert.Equal(t, 45*time.Second, time.Duration(d))

	b, err := d.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"45s"`, string(b))

	assert.Error(t, d.UnmarshalJSON([]byte(`"later"`)))
	assert.Equal(t, 3*time.Second, Duration(0).GetDuration(3*time.Second))
}
