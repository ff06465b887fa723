package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	goahttp "goa.design/goa/v3/http"
	httpmdlwr "goa.design/goa/v3/http/middleware"
	goamiddleware "goa.design/goa/v3/middleware"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"blurcast/internal/auth"
	"blurcast/internal/camera"
	"blurcast/internal/config"
	"blurcast/internal/middleware"
	"blurcast/internal/pipeline"
	"blurcast/internal/pipeline/engines"
	"blurcast/internal/services"
	"blurcast/internal/stream"
	"blurcast/internal/ws"
)

var startBlurred bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the blur pipeline with a local preview",
	Long: `Run acquires the configured camera, wires it to a pipeline controller and
serves a WebSocket preview of whatever the outbound connection is sending.

Endpoints:
  GET  /healthz, /readyz       liveness and readiness
  GET  /api/system/status      pipeline state and counters
  PUT  /api/system/blur        {"enabled": true|false}
  POST /api/login              exchange credentials for a token (auth enabled)
  GET  /ws/preview             preview frames, phase events, blur toggles
  GET  /video/stream.mjpeg     MJPEG preview of the outbound video
  GET  /video/snapshot.jpg     current outbound frame

Examples:
  blurcast run -c blurcast.yaml
  BLURCAST_ENGINE=local blurcast run --blur`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return run(ctx, cfg, logger)
	},
}

func init() {
	runCmd.Flags().BoolVar(&startBlurred, "blur", false, "enable blur on startup")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	cameras := camera.NewManager(logger)
	defer cameras.Close()

	cameraStream, err := cameras.Acquire(cfg.Camera)
	if err != nil {
		return fmt.Errorf("acquire camera: %w", err)
	}
	defer cameraStream.Stop()

	// the registry owns the engines; the controller only detaches from its own
	registry, err := engines.NewDefaultRegistry(cfg.EngineFactoryConfig(), logger)
	if err != nil {
		return err
	}
	defer registry.Close()

	engineName := cfg.Engine.Name
	engine, ok := registry.Get(engineName)
	if !ok {
		return fmt.Errorf("segmentation engine %q not registered", engineName)
	}

	hub := ws.NewPreviewHub(cfg.Preview.CaptureFPS, logger)
	defer hub.Close()

	// the call starts out sending the raw camera
	if err := hub.UpdateLocalStreamTrack(ctx, cameraStream, false); err != nil {
		return fmt.Errorf("publish camera: %w", err)
	}

	bus := pipeline.NewEventBus()
	defer bus.Close()
	bus.Subscribe(hub)

	opts := cfg.PipelineOptions()
	controller := pipeline.NewController(engine, hub, bus, opts, logger)
	defer controller.Close()

	hub.SetToggle(controller.SetEnabled)
	controller.OnCameraStreamChanged(cameraStream)
	if startBlurred {
		controller.SetEnabled(true)
	}

	authenticator, err := auth.NewAuthenticator(cfg.Auth, controller.SessionID())
	if err != nil {
		return err
	}
	view := middleware.Protect(authenticator, auth.ScopeView)
	toggle := middleware.Protect(authenticator, auth.ScopeToggle)

	health := services.NewHealthService(map[string]services.ReadinessCheck{
		"camera": func(ctx context.Context) error {
			vt, ok := cameraStream.VideoTrack()
			if !ok || vt.Ended() {
				return errors.New("camera track ended")
			}
			if _, ok := vt.Frame(); !ok {
				return errors.New("no frame yet")
			}
			return nil
		},
	})
	system := services.NewSystemService(controller, registry, engineName, opts.Surface)

	var (
		dec = goahttp.RequestDecoder
		enc = goahttp.ResponseEncoder
	)
	var mux goahttp.Muxer = goahttp.NewMuxer()

	server := services.New(services.NewEndpoints(health, system, logger), mux, dec, enc, errorHandler(logger))
	server.Protect(view, toggle)
	services.Mount(mux, server)
	for _, m := range server.Mounts {
		logger.Info("HTTP mounted", zap.String("method", m.Method), zap.String("verb", m.Verb), zap.String("pattern", m.Pattern))
	}

	previews := ws.NewHandler(hub)
	previews.CanToggle = func(r *http.Request) bool {
		return middleware.Allows(r.Context(), authenticator, auth.ScopeToggle)
	}
	mux.Handle("POST", "/api/login", authenticator.LoginHandler().ServeHTTP)
	mux.Handle("GET", "/ws/preview", view(previews).ServeHTTP)

	mjpeg := stream.NewMJPEGStreamer(hub, cfg.Preview.CaptureFPS, cfg.Preview.Overlay, logger)
	mux.Handle("GET", "/video/stream.mjpeg", view(mjpeg).ServeHTTP)
	mux.Handle("GET", "/video/snapshot.jpg", view(mjpeg.SnapshotHandler()).ServeHTTP)

	var handler http.Handler = mux
	{
		handler = httpmdlwr.Log(goamiddleware.NewLogger(zap.NewStdLog(logger.Named("HTTP"))))(handler)
		handler = httpmdlwr.RequestID()(handler)
	}

	srv := &http.Server{Addr: cfg.Listen, Handler: handler, ReadHeaderTimeout: time.Second * 60}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("HTTP server listening", zap.String("addr", cfg.Listen))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return hub.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down HTTP server")

		// Shutdown gracefully with a 30s timeout.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("exited", zap.Any("stats", controller.Stats()))
	return err
}

// errorHandler logs responses that could not be encoded, tagged with the
// request id so they can be correlated
func errorHandler(logger *zap.Logger) func(context.Context, http.ResponseWriter, error) {
	return func(ctx context.Context, w http.ResponseWriter, err error) {
		id, _ := ctx.Value(goamiddleware.RequestIDKey).(string)
		_, _ = w.Write([]byte("[" + id + "] encoding: " + err.Error()))
		logger.Error("encoding response", zap.String("request_id", id), zap.Error(err))
	}
}
