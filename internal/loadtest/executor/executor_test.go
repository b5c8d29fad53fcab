package executor_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/ridestorm/internal/loadtest"
	"github.com/wesleyorama2/ridestorm/internal/loadtest/executor"
	"github.com/wesleyorama2/ridestorm/internal/loadtest/metrics"
	"github.com/wesleyorama2/ridestorm/internal/loadtest/ride"
)

// createRideServer answers /ride/start after delay.
func createRideServer(t *testing.T, delay time.Duration) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		_, _ = w.Write([]byte(`{"message":"Ride started successfully","ride_id":1,"status":"started"}`))
	}))
	t.Cleanup(server.Close)
	return server
}

func createScheduler(t *testing.T, baseURL string, sleep time.Duration, engine *metrics.Engine) *loadtest.VUScheduler {
	t.Helper()
	config := &loadtest.VUConfig{
		BaseURL: baseURL,
		Catalog: ride.DefaultCatalog(),
		Checks:  ride.DefaultChecks(),
		Sleep:   sleep,
	}
	s, err := loadtest.NewVUScheduler(config, engine, loadtest.DefaultHTTPClientConfig(), nil)
	require.NoError(t, err)
	return s
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		config executor.Config
		field  string
	}{
		{"missing type", executor.Config{}, "type"},
		{"unknown type", executor.Config{Type: "per-vu-iterations"}, "type"},
		{"negative graceful stop", executor.Config{Type: executor.TypeRampingVUs, Stages: executor.DefaultStages(), GracefulStop: -time.Second}, "gracefulStop"},
		{"ramping without stages", executor.Config{Type: executor.TypeRampingVUs}, "stages"},
		{"ramping zero stage duration", executor.Config{Type: executor.TypeRampingVUs, Stages: []executor.Stage{{Target: 1}}}, "stages[0].duration"},
		{"ramping negative target", executor.Config{Type: executor.TypeRampingVUs, Stages: []executor.Stage{{Duration: time.Second, Target: 1}, {Duration: time.Second, Target: -1}}}, "stages[1].target"},
		{"constant without vus", executor.Config{Type: executor.TypeConstantVUs, Duration: time.Second}, "vus"},
		{"constant without duration", executor.Config{Type: executor.TypeConstantVUs, VUs: 1}, "duration"},
		{"arrival without rate", executor.Config{Type: executor.TypeConstantArrivalRate, Duration: time.Second}, "rate"},
		{"arrival without duration", executor.Config{Type: executor.TypeConstantArrivalRate, Rate: 1}, "duration"},
		{"arrival negative max", executor.Config{Type: executor.TypeConstantArrivalRate, Rate: 1, Duration: time.Second, MaxVUs: -1}, "maxVUs"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			var verr *executor.ValidationError
			require.True(t, errors.As(err, &verr), "Validate() = %v, want *ValidationError", err)
			assert.Equal(t, tt.field, verr.Field)
			assert.Contains(t, verr.Error(), tt.field)
		})
	}

	valid := []executor.Config{
		{Type: executor.TypeRampingVUs, Stages: executor.DefaultStages()},
		{Type: executor.TypeConstantVUs, VUs: 1, Duration: time.Second},
		{Type: executor.TypeConstantArrivalRate, Rate: 0.5, Duration: time.Second},
	}
	for _, cfg := range valid {
		assert.NoError(t, cfg.Validate(), "config %+v", cfg)
	}
}

func TestConfig_TotalDurationAndMaxVUs(t *testing.T) {
	ramping := executor.Config{Type: executor.TypeRampingVUs, Stages: executor.DefaultStages()}
	assert.Equal(t, 4*time.Minute, ramping.TotalDuration())
	assert.Equal(t, 50, ramping.MaxVUCount())

	constant := executor.Config{Type: executor.TypeConstantVUs, VUs: 7, Duration: time.Minute}
	assert.Equal(t, time.Minute, constant.TotalDuration())
	assert.Equal(t, 7, constant.MaxVUCount())

	arrival := executor.Config{Type: executor.TypeConstantArrivalRate, Rate: 10, Duration: time.Minute, PreAllocatedVUs: 5, MaxVUs: 20}
	assert.Equal(t, time.Minute, arrival.TotalDuration())
	assert.Equal(t, 20, arrival.MaxVUCount())

	unknown := executor.Config{Type: "nope"}
	assert.Zero(t, unknown.TotalDuration())
	assert.Zero(t, unknown.MaxVUCount())
}

func TestNewExecutor(t *testing.T) {
	for _, typ := range executor.SupportedTypes() {
		exec, err := executor.NewExecutor(typ)
		require.NoError(t, err)
		assert.Equal(t, typ, exec.Type())
		assert.True(t, executor.IsSupported(typ))
	}

	_, err := executor.NewExecutor("shared-iterations")
	assert.Error(t, err)
	assert.False(t, executor.IsSupported("shared-iterations"))
}

func TestCreateAndInitExecutor(t *testing.T) {
	exec, err := executor.CreateAndInitExecutor(context.Background(), &executor.Config{
		Type:   executor.TypeRampingVUs,
		Stages: executor.DefaultStages(),
	})
	require.NoError(t, err)
	assert.Equal(t, executor.TypeRampingVUs, exec.Type())
	assert.Zero(t, exec.GetProgress())
	assert.Zero(t, exec.GetActiveVUs())

	_, err = executor.CreateAndInitExecutor(context.Background(), &executor.Config{Type: executor.TypeRampingVUs})
	assert.ErrorContains(t, err, "failed to initialize executor")
}

func TestInit_WrongType(t *testing.T) {
	cfg := &executor.Config{Type: executor.TypeConstantVUs, VUs: 1, Duration: time.Second}

	assert.Error(t, executor.NewRampingVUs().Init(context.Background(), cfg))
	assert.Error(t, executor.NewConstantArrivalRate().Init(context.Background(), cfg))
	assert.NoError(t, executor.NewConstantVUs().Init(context.Background(), cfg))
}
