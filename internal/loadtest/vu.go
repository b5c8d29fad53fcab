// Package loadtest runs the virtual users that drive ride-start traffic.
package loadtest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wesleyorama2/ridestorm/internal/loadtest/metrics"
	"github.com/wesleyorama2/ridestorm/internal/loadtest/ride"
)

// VUState represents the lifecycle state of a Virtual User.
type VUState int32

const (
	// VUStateIdle indicates the VU is ready but not currently running.
	VUStateIdle VUState = iota
	// VUStateRunning indicates the VU is actively running an iteration.
	VUStateRunning
	// VUStateStopping indicates the VU has been requested to stop.
	VUStateStopping
	// VUStateStopped indicates the VU has fully stopped.
	VUStateStopped
)

func (s VUState) String() string {
	switch s {
	case VUStateIdle:
		return "idle"
	case VUStateRunning:
		return "running"
	case VUStateStopping:
		return "stopping"
	case VUStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// RideStartPath is the endpoint every iteration posts to.
const RideStartPath = "/ride/start"

// ErrVUStopped is returned by RunIteration when the VU was asked to stop
// before the iteration began.
var ErrVUStopped = errors.New("virtual user is stopping or stopped")

// VUConfig is shared by every VU a scheduler spawns.
type VUConfig struct {
	// BaseURL of the ride service, without the endpoint path.
	BaseURL string

	// Headers added to every request.
	Headers map[string]string

	// Catalog the per-VU generators sample from.
	Catalog ride.Catalog

	// Checks evaluated against every response.
	Checks []ride.Check

	// Sleep after every iteration. Zero disables it.
	Sleep time.Duration

	// LogEvery logs every Nth successful iteration of a VU. Zero disables it.
	LogEvery int64

	// Seed for the request generators; VU n uses Seed+n.
	Seed int64
}

// URL returns the full ride-start URL.
func (c VUConfig) URL() string {
	return strings.TrimRight(c.BaseURL, "/") + RideStartPath
}

// VirtualUser is one simulated client running the ride-start iteration in a
// loop. It shares nothing with other VUs except the metrics engine.
type VirtualUser struct {
	// Unique identifier for this VU
	ID int

	config    *VUConfig
	client    *http.Client
	generator *ride.Generator
	metrics   *metrics.Engine
	logger    *zap.Logger

	// Lifecycle state (atomic for lock-free reads)
	state atomic.Int32

	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}
	doneOnce sync.Once

	iteration atomic.Int64
}

// NewVirtualUser creates a new Virtual User.
func NewVirtualUser(id int, config *VUConfig, client *http.Client, generator *ride.Generator, metricsEngine *metrics.Engine, logger *zap.Logger) *VirtualUser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VirtualUser{
		ID:        id,
		config:    config,
		client:    client,
		generator: generator,
		metrics:   metricsEngine,
		logger:    logger.With(zap.Int("vu", id)),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// GetState returns the current VU state.
func (vu *VirtualUser) GetState() VUState {
	return VUState(vu.state.Load())
}

// GetIteration returns the number of iterations started.
func (vu *VirtualUser) GetIteration() int64 {
	return vu.iteration.Load()
}

// IsStopping reports whether a stop was requested or completed.
func (vu *VirtualUser) IsStopping() bool {
	s := vu.GetState()
	return s == VUStateStopping || s == VUStateStopped
}

// RunIteration executes one ride-start iteration:
// sample a request, POST it, evaluate the checks, record the outcome and
// sleep.
//
// Returns:
//   - nil if the iteration completed (whatever the check outcome)
//   - ErrVUStopped if the VU was stopping before the iteration began
//   - ctx.Err() if the context ended while the request was in flight; the
//     interrupted iteration is not recorded
func (vu *VirtualUser) RunIteration(ctx context.Context) error {
	if vu.IsStopping() {
		return ErrVUStopped
	}
	if !vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateRunning)) {
		return ErrVUStopped
	}
	defer vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateIdle))

	iter := vu.iteration.Add(1) - 1
	start := time.Now()

	req := vu.generator.Generate()
	resp, duration, sent := vu.post(ctx, req)

	if resp.Err != nil && ctx.Err() != nil {
		return ctx.Err()
	}

	failed := resp.Err != nil || resp.StatusCode >= 400
	vu.metrics.RecordRequest(duration, failed, int64(len(resp.Body)), sent)

	results := ride.Evaluate(resp, vu.config.Checks)
	for _, r := range results {
		vu.metrics.RecordCheck(r.Name, r.Passed)
	}
	passed := ride.Passed(results)
	vu.metrics.RecordError(!passed)
	vu.logOutcome(iter, resp, results, passed)

	vu.Sleep(ctx, vu.config.Sleep)
	vu.metrics.RecordIteration(time.Since(start))

	return nil
}

// post sends one ride-start request and reads the full response.
func (vu *VirtualUser) post(ctx context.Context, req ride.Request) (*ride.Response, time.Duration, int64) {
	payload, err := json.Marshal(req)
	if err != nil {
		return &ride.Response{Err: fmt.Errorf("failed to encode request: %w", err)}, 0, 0
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, vu.config.URL(), bytes.NewReader(payload))
	if err != nil {
		return &ride.Response{Err: fmt.Errorf("failed to build request: %w", err)}, 0, 0
	}
	for key, value := range vu.config.Headers {
		httpReq.Header.Set(key, value)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-ID", uuid.NewString())

	start := time.Now()
	httpResp, err := vu.client.Do(httpReq)
	if err != nil {
		return &ride.Response{Err: err}, time.Since(start), int64(len(payload))
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	duration := time.Since(start)
	if err != nil {
		return &ride.Response{
			StatusCode: httpResp.StatusCode,
			Body:       body,
			Err:        fmt.Errorf("failed to read response body: %w", err),
		}, duration, int64(len(payload))
	}

	return &ride.Response{StatusCode: httpResp.StatusCode, Body: body}, duration, int64(len(payload))
}

// logOutcome logs every failed iteration and every LogEvery-th success.
func (vu *VirtualUser) logOutcome(iter int64, resp *ride.Response, results []ride.CheckResult, passed bool) {
	if passed {
		if vu.config.LogEvery > 0 && iter%vu.config.LogEvery == 0 {
			rideID := ""
			var body struct {
				RideID json.RawMessage `json:"ride_id"`
			}
			if json.Unmarshal(resp.Body, &body) == nil {
				rideID = string(body.RideID)
			}
			vu.logger.Info("ride started", zap.Int64("iteration", iter), zap.String("ride_id", rideID))
		}
		return
	}

	fields := []zap.Field{
		zap.Int64("iteration", iter),
		zap.Int("status", resp.StatusCode),
		zap.String("url", vu.config.URL()),
	}
	for _, r := range results {
		if !r.Passed {
			fields = append(fields, zap.String(r.Name, r.Reason))
		}
	}
	if resp.Err != nil {
		fields = append(fields, zap.Error(resp.Err))
	} else {
		fields = append(fields, zap.ByteString("body", truncate(resp.Body, 512)))
	}
	vu.logger.Warn("iteration failed checks", fields...)
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}

// Sleep waits for d, returning early if the VU is stopped or ctx ends.
func (vu *VirtualUser) Sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-vu.stopCh:
	case <-timer.C:
	}
}

// RequestStop signals the VU to stop after completing the current iteration.
// An in-progress sleep ends immediately.
func (vu *VirtualUser) RequestStop() {
	for {
		current := vu.state.Load()
		if VUState(current) == VUStateStopping || VUState(current) == VUStateStopped {
			return
		}
		if vu.state.CompareAndSwap(current, int32(VUStateStopping)) {
			vu.stopOnce.Do(func() { close(vu.stopCh) })
			return
		}
	}
}

// WaitForStop waits for the VU to stop with a timeout.
//
// Returns true if the VU stopped within the timeout, false otherwise.
func (vu *VirtualUser) WaitForStop(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-vu.doneCh:
		return true
	case <-timer.C:
		return false
	}
}

// MarkStopped marks the VU as fully stopped.
// Should be called when the VU goroutine exits.
func (vu *VirtualUser) MarkStopped() {
	vu.state.Store(int32(VUStateStopped))
	vu.stopOnce.Do(func() { close(vu.stopCh) })
	vu.doneOnce.Do(func() { close(vu.doneCh) })
}
