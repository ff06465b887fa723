package services

import (
	"context"
	"time"

	"blurcast/internal/pipeline"
)

// BlurController is the part of the pipeline controller the API drives
type BlurController interface {
	SessionID() string
	SetEnabled(enabled bool)
	State() pipeline.PipelineState
	Stats() pipeline.PipelineStats
}

// SystemStatus is the overall state reported to clients
type SystemStatus struct {
	SessionID       string         `json:"session_id"`
	Enabled         bool           `json:"enabled"`
	Phase           pipeline.Phase `json:"phase"`
	CameraStream    string         `json:"camera_stream,omitempty"`
	PublishedStream string         `json:"published_stream,omitempty"`
	Engine          string         `json:"engine"`
	Engines         []string       `json:"engines"`
	Surface         SurfaceInfo    `json:"surface"`
	Stats           StatsInfo      `json:"stats"`
	UptimeSeconds   int            `json:"uptime_seconds"`
}

// SurfaceInfo describes the output raster
type SurfaceInfo struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// StatsInfo mirrors pipeline counters
type StatsInfo struct {
	FramesSubmitted uint64 `json:"frames_submitted"`
	SubmitErrors    uint64 `json:"submit_errors"`
	FramesPainted   uint64 `json:"frames_painted"`
	FramesDropped   uint64 `json:"frames_dropped"`
	Starts          uint64 `json:"starts"`
	Publishes       uint64 `json:"publishes"`
	Restores        uint64 `json:"restores"`
}

// SystemService implements status and blur toggling
type SystemService struct {
	controller BlurController
	registry   pipeline.EngineRegistry
	engine     string
	surface    pipeline.SurfaceConfig
	startTime  time.Time
}

// NewSystemService creates a new system service implementation
func NewSystemService(controller BlurController, registry pipeline.EngineRegistry, engine string, surface pipeline.SurfaceConfig) *SystemService {
	return &SystemService{
		controller: controller,
		registry:   registry,
		engine:     engine,
		surface:    surface,
		startTime:  time.Now(),
	}
}

// Status returns the overall system status
func (s *SystemService) Status(ctx context.Context) (*SystemStatus, error) {
	state := s.controller.State()
	stats := s.controller.Stats()

	status := &SystemStatus{
		SessionID:       s.controller.SessionID(),
		Enabled:         state.Enabled,
		Phase:           state.Phase,
		CameraStream:    state.CameraStream.ID(),
		PublishedStream: state.PublishedStream.ID(),
		Engine:          s.engine,
		Engines:         []string{},
		Surface:         SurfaceInfo{Width: s.surface.Width, Height: s.surface.Height},
		Stats: StatsInfo{
			FramesSubmitted: stats.FramesSubmitted,
			SubmitErrors:    stats.SubmitErrors,
			FramesPainted:   stats.FramesPainted,
			FramesDropped:   stats.FramesDropped,
			Starts:          stats.Starts,
			Publishes:       stats.Publishes,
			Restores:        stats.Restores,
		},
		UptimeSeconds: int(time.Since(s.startTime).Seconds()),
	}
	if s.registry != nil {
		status.Engines = s.registry.Names()
	}
	return status, nil
}

// SetBlur toggles background blur and returns the status right after the
// request was posted; the transition itself completes asynchronously
func (s *SystemService) SetBlur(ctx context.Context, enabled bool) (*SystemStatus, error) {
	s.controller.SetEnabled(enabled)
	return s.Status(ctx)
}
