package executor_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/ridestorm/internal/loadtest/executor"
	"github.com/wesleyorama2/ridestorm/internal/loadtest/metrics"
)

func TestConstantVUs_Run(t *testing.T) {
	server := createRideServer(t, 0)
	engine := metrics.NewEngine()
	scheduler := createScheduler(t, server.URL, 10*time.Millisecond, engine)

	e := executor.NewConstantVUs()
	require.NoError(t, e.Init(context.Background(), &executor.Config{
		Type:     executor.TypeConstantVUs,
		VUs:      3,
		Duration: 300 * time.Millisecond,
	}))

	require.NoError(t, e.Run(context.Background(), scheduler, engine))

	assert.Equal(t, 3, scheduler.MaxActive())
	assert.Equal(t, 3, scheduler.Spawned())
	assert.Equal(t, 0, scheduler.LiveCount())
	assert.Equal(t, 1.0, e.GetProgress())

	snap := engine.GetSnapshot()
	assert.GreaterOrEqual(t, snap.Iterations, int64(3))
	assert.Equal(t, int64(0), snap.Errors.Passes)
	assert.Equal(t, metrics.PhaseDone, snap.Phase)

	stats := e.GetStats()
	assert.Equal(t, 3, stats.TargetVUs)
}

func TestConstantArrivalRate_Run(t *testing.T) {
	server := createRideServer(t, 0)
	engine := metrics.NewEngine()
	scheduler := createScheduler(t, server.URL, 0, engine)

	e := executor.NewConstantArrivalRate()
	require.NoError(t, e.Init(context.Background(), &executor.Config{
		Type:     executor.TypeConstantArrivalRate,
		Rate:     20,
		Duration: 500 * time.Millisecond,
		MaxVUs:   5,
	}))

	require.NoError(t, e.Run(context.Background(), scheduler, engine))

	snap := engine.GetSnapshot()
	// 20/s for 0.5s is about 10 iterations.
	assert.GreaterOrEqual(t, snap.Iterations, int64(5))
	assert.LessOrEqual(t, snap.Iterations, int64(15))
	assert.Equal(t, int64(0), snap.DroppedIterations)
	assert.LessOrEqual(t, scheduler.MaxActive(), 5)
	assert.Equal(t, 0, scheduler.LiveCount())
	assert.Equal(t, metrics.PhaseDone, snap.Phase)
}

func TestConstantArrivalRate_DropsWhenVUsExhausted(t *testing.T) {
	server := createRideServer(t, 300*time.Millisecond)
	engine := metrics.NewEngine()
	scheduler := createScheduler(t, server.URL, 0, engine)

	e := executor.NewConstantArrivalRate()
	cfg := &executor.Config{
		Type:     executor.TypeConstantArrivalRate,
		Rate:     50,
		Duration: 500 * time.Millisecond,
		MaxVUs:   2,
	}
	require.NoError(t, e.Init(context.Background(), cfg))
	assert.Equal(t, 1, cfg.PreAllocatedVUs)

	require.NoError(t, e.Run(context.Background(), scheduler, engine))

	snap := engine.GetSnapshot()
	assert.Positive(t, snap.DroppedIterations)
	assert.Equal(t, snap.DroppedIterations, e.GetStats().DroppedIterations)
	assert.LessOrEqual(t, scheduler.MaxActive(), 2)
	assert.Equal(t, 0, scheduler.LiveCount())
}
