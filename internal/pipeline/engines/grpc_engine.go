package engines

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"blurcast/internal/pipeline"
)

// GRPCEngineConfig holds configuration for the gRPC engine
type GRPCEngineConfig struct {
	Endpoint    string
	DialOptions []grpc.DialOption // Extra options, e.g. a custom dialer in tests
}

// GRPCEngine sends frames to a remote segmentation service over gRPC
type GRPCEngine struct {
	config GRPCEngineConfig
	logger *zap.Logger

	mu       sync.RWMutex
	conn     *grpc.ClientConn
	onResult func(pipeline.SegmentationResult)
}

// NewGRPCEngine creates an engine for the given endpoint. No connection is
// made until Initialize.
func NewGRPCEngine(config GRPCEngineConfig, logger *zap.Logger) *GRPCEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GRPCEngine{
		config: config,
		logger: logger.Named("GRPCEngine"),
	}
}

func (e *GRPCEngine) Name() string {
	return "grpc"
}

// Initialize connects to the service and checks it reports SERVING
func (e *GRPCEngine) Initialize(ctx context.Context) error {
	conn, err := e.connect()
	if err != nil {
		return err
	}

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{
		Service: SegmentationServiceName,
	})
	if err != nil {
		return fmt.Errorf("health check %s: %w", e.config.Endpoint, err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("segmentation service at %s is %s", e.config.Endpoint, resp.GetStatus())
	}

	e.logger.Info("connected", zap.String("endpoint", e.config.Endpoint))
	return nil
}

func (e *GRPCEngine) connect() (*grpc.ClientConn, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conn != nil {
		return e.conn, nil
	}
	if e.config.Endpoint == "" {
		return nil, fmt.Errorf("grpc engine endpoint not configured")
	}

	// Configure keepalive to detect dead connections quickly
	kacp := keepalive.ClientParameters{
		Time:                10 * time.Second,
		Timeout:             5 * time.Second,
		PermitWithoutStream: true,
	}
	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, e.config.DialOptions...)

	conn, err := grpc.NewClient(e.config.Endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", e.config.Endpoint, err)
	}
	e.conn = conn
	return conn, nil
}

func (e *GRPCEngine) OnResults(fn func(pipeline.SegmentationResult)) {
	e.mu.Lock()
	e.onResult = fn
	e.mu.Unlock()
}

// Send runs one unary Segment call and delivers the result to the callback
func (e *GRPCEngine) Send(ctx context.Context, frame *pipeline.Frame) error {
	e.mu.RLock()
	conn, fn := e.conn, e.onResult
	e.mu.RUnlock()

	if conn == nil {
		return fmt.Errorf("grpc engine not initialized")
	}
	if frame == nil || frame.Image == nil {
		return fmt.Errorf("empty frame")
	}

	payload, err := encodePNG(frame.Image)
	if err != nil {
		return err
	}

	resp := new(wrapperspb.BytesValue)
	if err := conn.Invoke(ctx, segmentMethod, wrapperspb.Bytes(payload), resp); err != nil {
		return fmt.Errorf("segment frame %d: %w", frame.Seq, err)
	}

	mask, err := decodeImage(resp.GetValue())
	if err != nil {
		return fmt.Errorf("segment frame %d: %w", frame.Seq, err)
	}

	if fn != nil {
		fn(pipeline.SegmentationResult{Seq: frame.Seq, Image: frame.Image, Mask: mask})
	}
	return nil
}

func (e *GRPCEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conn == nil {
		return nil
	}
	err := e.conn.Close()
	e.conn = nil
	return err
}

// Ensure GRPCEngine implements SegmentationEngine
var _ pipeline.SegmentationEngine = (*GRPCEngine)(nil)
