package pipeline

import (
	"context"

	"blurcast/internal/media"
)

// SegmentationEngine is the boundary to an opaque segmentation backend.
// Implementations live in the engines package.
type SegmentationEngine interface {
	// Name returns the engine identifier (e.g., "grpc", "http")
	Name() string

	// Initialize prepares the backend. A failure means blur is unavailable.
	Initialize(ctx context.Context) error

	// Send submits one frame. Its result, if any, is delivered through the
	// callback registered with OnResults, possibly from another goroutine.
	Send(ctx context.Context, frame *Frame) error

	// OnResults registers the result callback. Must be called before Send.
	OnResults(fn func(SegmentationResult))

	// Close releases backend resources
	Close() error
}

// Connection is the outbound call connection whose video track is replaced.
// UpdateLocalStreamTrack swaps the track being sent to remote participants
// without renegotiating the session. synthetic marks a track that was not
// produced by a camera.
type Connection interface {
	UpdateLocalStreamTrack(ctx context.Context, stream *media.Stream, synthetic bool) error
}

// EngineRegistry manages available segmentation engines
type EngineRegistry interface {
	// Register adds an engine to the registry
	Register(engine SegmentationEngine) error

	// Get returns an engine by name
	Get(name string) (SegmentationEngine, bool)

	// Names returns the names of registered engines
	Names() []string

	// Close releases all engine resources
	Close() error
}

// PhaseHandler receives pipeline phase transitions
type PhaseHandler interface {
	OnPhaseChange(event *PhaseEvent)
}
