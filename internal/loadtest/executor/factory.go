package executor

import (
	"context"
	"fmt"
)

// NewExecutor creates a new executor of the specified type.
//
// Supported types:
//   - "ramping-vus" - VU count ramps up/down according to stages
//   - "constant-vus" - Fixed number of VUs for a duration
//   - "constant-arrival-rate" - Fixed iteration rate (open model)
//
// Returns an uninitialized executor. Call Init() before Run().
func NewExecutor(executorType Type) (Executor, error) {
	switch executorType {
	case TypeRampingVUs:
		return NewRampingVUs(), nil
	case TypeConstantVUs:
		return NewConstantVUs(), nil
	case TypeConstantArrivalRate:
		return NewConstantArrivalRate(), nil
	default:
		return nil, fmt.Errorf("unknown executor type: %s", executorType)
	}
}

// CreateAndInitExecutor creates and initializes an executor with the given config.
func CreateAndInitExecutor(ctx context.Context, cfg *Config) (Executor, error) {
	exec, err := NewExecutor(cfg.Type)
	if err != nil {
		return nil, err
	}

	if err := exec.Init(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize executor: %w", err)
	}

	return exec, nil
}

// SupportedTypes lists every executor type NewExecutor accepts.
func SupportedTypes() []Type {
	return []Type{TypeRampingVUs, TypeConstantVUs, TypeConstantArrivalRate}
}

// IsSupported reports whether t names a known executor.
func IsSupported(t Type) bool {
	for _, s := range SupportedTypes() {
		if s == t {
			return true
		}
	}
	return false
}
