package engines

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"blurcast/internal/pipeline"
)

// Engine names accepted by the factory
const (
	EngineGRPC  = "grpc"
	EngineHTTP  = "http"
	EngineLocal = "local"
)

// FactoryConfig selects and configures an engine
type FactoryConfig struct {
	Name      string
	Endpoint  string
	Timeout   time.Duration
	Threshold float64
}

// New creates a segmentation engine from configuration. An empty name
// selects the gRPC engine.
func New(cfg FactoryConfig, logger *zap.Logger) (pipeline.SegmentationEngine, error) {
	switch cfg.Name {
	case "", EngineGRPC:
		return NewGRPCEngine(GRPCEngineConfig{Endpoint: cfg.Endpoint}, logger), nil
	case EngineHTTP:
		return NewHTTPEngine(cfg.Endpoint, cfg.Timeout, logger), nil
	case EngineLocal:
		return NewLocalEngine(cfg.Threshold), nil
	default:
		return nil, fmt.Errorf("unknown segmentation engine: %s", cfg.Name)
	}
}

// NewDefaultRegistry builds a registry holding the local engine plus the
// configured one, so callers can fall back to local inference by name
func NewDefaultRegistry(cfg FactoryConfig, logger *zap.Logger) (*Registry, error) {
	r := NewRegistry()
	if err := r.Register(NewLocalEngine(cfg.Threshold)); err != nil {
		return nil, err
	}
	if cfg.Name == EngineLocal {
		return r, nil
	}

	engine, err := New(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := r.Register(engine); err != nil {
		return nil, err
	}
	return r, nil
}
