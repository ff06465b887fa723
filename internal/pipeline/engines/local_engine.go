package engines

import (
	"context"
	"fmt"
	"sync"

	"blurcast/internal/pipeline"
)

// LocalEngine runs a ThresholdModel in process. It needs no backend and is
// used for demos and as a fallback when no inference service is configured.
type LocalEngine struct {
	model ThresholdModel

	mu       sync.RWMutex
	ready    bool
	onResult func(pipeline.SegmentationResult)
}

// NewLocalEngine creates an in-process engine
func NewLocalEngine(threshold float64) *LocalEngine {
	return &LocalEngine{model: ThresholdModel{Threshold: threshold}}
}

func (e *LocalEngine) Name() string {
	return "local"
}

func (e *LocalEngine) Initialize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	e.ready = true
	e.mu.Unlock()
	return nil
}

func (e *LocalEngine) OnResults(fn func(pipeline.SegmentationResult)) {
	e.mu.Lock()
	e.onResult = fn
	e.mu.Unlock()
}

func (e *LocalEngine) Send(ctx context.Context, frame *pipeline.Frame) error {
	e.mu.RLock()
	ready, fn := e.ready, e.onResult
	e.mu.RUnlock()

	if !ready {
		return fmt.Errorf("local engine not initialized")
	}
	if frame == nil || frame.Image == nil {
		return fmt.Errorf("empty frame")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	mask := e.model.Mask(frame.Image)
	if fn != nil {
		fn(pipeline.SegmentationResult{Seq: frame.Seq, Image: frame.Image, Mask: mask})
	}
	return nil
}

func (e *LocalEngine) Close() error {
	e.mu.Lock()
	e.ready = false
	e.mu.Unlock()
	return nil
}

// Ensure LocalEngine implements SegmentationEngine
var _ pipeline.SegmentationEngine = (*LocalEngine)(nil)
