package services

import (
	"context"

	goa "goa.design/goa/v3/pkg"
	"go.uber.org/zap"
)

// Endpoints wraps the health and system methods as goa endpoints
type Endpoints struct {
	Healthz goa.Endpoint
	Readyz  goa.Endpoint
	Status  goa.Endpoint
	SetBlur goa.Endpoint
}

// SetBlurPayload is the payload of the set_blur method
type SetBlurPayload struct {
	Enabled bool
}

// NewEndpoints wraps the methods of the two services
func NewEndpoints(health *HealthService, system *SystemService, logger *zap.Logger) *Endpoints {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("API")

	return &Endpoints{
		Healthz: func(ctx context.Context, _ any) (any, error) {
			return nil, health.Healthz(ctx)
		},
		Readyz: func(ctx context.Context, _ any) (any, error) {
			if err := health.Readyz(ctx); err != nil {
				return nil, goa.NewServiceError(err, "not_ready", false, true, false)
			}
			return nil, nil
		},
		Status: func(ctx context.Context, _ any) (any, error) {
			return system.Status(ctx)
		},
		SetBlur: func(ctx context.Context, req any) (any, error) {
			p := req.(*SetBlurPayload)
			logger.Info("blur toggled", zap.Bool("enabled", p.Enabled))
			return system.SetBlur(ctx, p.Enabled)
		},
	}
}
