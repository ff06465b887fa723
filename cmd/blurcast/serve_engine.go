package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"blurcast/internal/pipeline/engines"
)

var (
	engineListen    string
	engineProtocol  string
	engineThreshold float64
)

var serveEngineCmd = &cobra.Command{
	Use:   "serve-engine",
	Short: "Serve the reference segmentation model",
	Long: `serve-engine exposes the threshold reference model over the protocol the
grpc or http engine speaks, for development without a real segmentation
service.

Examples:
  blurcast serve-engine --listen :50051
  blurcast serve-engine --protocol http --listen :8000 --threshold 40`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		model := engines.ThresholdModel{Threshold: engineThreshold}
		switch engineProtocol {
		case engines.EngineGRPC:
			return serveGRPCEngine(ctx, model, logger)
		case engines.EngineHTTP:
			return serveHTTPEngine(ctx, model, logger)
		default:
			return fmt.Errorf("unknown protocol %q (want grpc or http)", engineProtocol)
		}
	},
}

func init() {
	serveEngineCmd.Flags().StringVar(&engineListen, "listen", ":50051", "listen address")
	serveEngineCmd.Flags().StringVar(&engineProtocol, "protocol", engines.EngineGRPC, "grpc or http")
	serveEngineCmd.Flags().Float64Var(&engineThreshold, "threshold", engines.DefaultThreshold, "foreground colour distance")
}

func serveGRPCEngine(ctx context.Context, model engines.ThresholdModel, logger *zap.Logger) error {
	lis, err := net.Listen("tcp", engineListen)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	srv := grpc.NewServer()
	engines.RegisterSegmentationServer(srv, &engines.ModelServer{Model: model})

	hs := health.NewServer()
	hs.SetServingStatus(engines.SegmentationServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("segmentation gRPC server listening", zap.String("addr", lis.Addr().String()))
		return srv.Serve(lis)
	})
	g.Go(func() error {
		<-gctx.Done()
		hs.Shutdown()
		srv.GracefulStop()
		return nil
	})
	return g.Wait()
}

func serveHTTPEngine(ctx context.Context, model engines.ThresholdModel, logger *zap.Logger) error {
	srv := &http.Server{
		Addr:              engineListen,
		Handler:           engines.NewModelHTTPHandler(model),
		ReadHeaderTimeout: time.Second * 60,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("segmentation HTTP server listening", zap.String("addr", engineListen))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
