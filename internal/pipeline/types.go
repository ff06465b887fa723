package pipeline

import (
	"image"
	"strings"
	"time"

	"blurcast/internal/media"
)

// Phase is the lifecycle phase of a blur pipeline
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseStarting Phase = "starting"
	PhaseRunning  Phase = "running"
	PhaseStopping Phase = "stopping"
)

// PipelineState is a snapshot of the controller's state.
// PublishedStream is non-nil if and only if Phase is PhaseRunning.
type PipelineState struct {
	Enabled         bool
	CameraStream    *media.Stream
	PublishedStream *media.Stream
	Phase           Phase
}

// Frame is a captured camera frame submitted for segmentation
type Frame struct {
	Seq       uint64      // Submission sequence number, echoed in the result
	Image     image.Image // Frame scaled to the surface size
	Timestamp time.Time   // Capture time
}

// SegmentationResult is what a segmentation engine produces for one frame.
// It is consumed by the compositor immediately and never retained.
type SegmentationResult struct {
	Seq   uint64
	Image image.Image // Sharp original frame
	Mask  image.Image // Alpha mask, opaque where the person is
}

// BrowserFamily identifies the client rendering engine the output is sized for
type BrowserFamily string

const (
	BrowserFirefox BrowserFamily = "firefox"
	BrowserOther   BrowserFamily = "other"
)

// Output surface dimensions. These are a fixed contract with the segmentation
// engine and are never derived from the camera resolution.
const (
	SurfaceWidth         = 640
	SurfaceHeightFirefox = 480
	SurfaceHeightDefault = 360
)

// SurfaceConfig holds the fixed output raster dimensions
type SurfaceConfig struct {
	Width  int
	Height int
}

// SurfaceConfigFor returns the surface dimensions for a browser family
func SurfaceConfigFor(family BrowserFamily) SurfaceConfig {
	if family == BrowserFirefox {
		return SurfaceConfig{Width: SurfaceWidth, Height: SurfaceHeightFirefox}
	}
	return SurfaceConfig{Width: SurfaceWidth, Height: SurfaceHeightDefault}
}

// DetectBrowserFamily classifies a user agent string
func DetectBrowserFamily(userAgent string) BrowserFamily {
	ua := strings.ToLower(userAgent)
	if strings.Contains(ua, "firefox") || (strings.Contains(ua, "gecko/") && !strings.Contains(ua, "like gecko")) {
		return BrowserFirefox
	}
	return BrowserOther
}

// ParseBrowserFamily maps a configured family name, defaulting to BrowserOther
func ParseBrowserFamily(name string) BrowserFamily {
	if strings.EqualFold(strings.TrimSpace(name), string(BrowserFirefox)) {
		return BrowserFirefox
	}
	return BrowserOther
}

// Rect returns the surface bounds
func (c SurfaceConfig) Rect() image.Rectangle {
	return image.Rect(0, 0, c.Width, c.Height)
}

// PipelineStats contains pipeline counters
type PipelineStats struct {
	SessionID       string
	Phase           Phase
	FramesSubmitted uint64
	SubmitErrors    uint64
	FramesPainted   uint64
	FramesDropped   uint64
	Starts          uint64
	Publishes       uint64
	Restores        uint64
}

// Options tunes a pipeline controller
type Options struct {
	Surface      SurfaceConfig
	TickInterval time.Duration // Frame sampling cadence
	BlurSigma    float64       // Gaussian blur strength for the background

	InitTimeout    time.Duration // Upper bound on engine initialization
	RequestTimeout time.Duration // Upper bound on one segmentation request
	SwapTimeout    time.Duration // Upper bound on one track replacement
}

// DefaultOptions returns sensible defaults for a pipeline controller
func DefaultOptions() Options {
	return Options{
		Surface:      SurfaceConfigFor(BrowserOther),
		TickInterval: 33 * time.Millisecond,
		BlurSigma:    10,

		InitTimeout:    10 * time.Second,
		RequestTimeout: 2 * time.Second,
		SwapTimeout:    5 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Surface.Width <= 0 || o.Surface.Height <= 0 {
		o.Surface = def.Surface
	}
	if o.TickInterval <= 0 {
		o.TickInterval = def.TickInterval
	}
	if o.BlurSigma <= 0 {
		o.BlurSigma = def.BlurSigma
	}
	if o.InitTimeout <= 0 {
		o.InitTimeout = def.InitTimeout
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = def.RequestTimeout
	}
	if o.SwapTimeout <= 0 {
		o.SwapTimeout = def.SwapTimeout
	}
	return o
}
