package services

import (
	"context"
	"fmt"
)

// ReadinessCheck reports whether one dependency is usable
type ReadinessCheck func(ctx context.Context) error

// HealthService implements the liveness and readiness checks
type HealthService struct {
	checks map[string]ReadinessCheck
}

// NewHealthService creates a health service with the given readiness checks
func NewHealthService(checks map[string]ReadinessCheck) *HealthService {
	if checks == nil {
		checks = make(map[string]ReadinessCheck)
	}
	return &HealthService{checks: checks}
}

// Healthz implements the liveness check
func (h *HealthService) Healthz(ctx context.Context) error {
	return nil
}

// Readyz runs every readiness check; the first failure is returned
func (h *HealthService) Readyz(ctx context.Context) error {
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			return fmt.Errorf("%s not ready: %w", name, err)
		}
	}
	return nil
}
