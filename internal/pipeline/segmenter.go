package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Segmenter wraps a SegmentationEngine with fire-and-forget submission.
// Submissions are not serialized: a new frame may be sent before the previous
// result arrives, so results can come back in any order.
type Segmenter struct {
	engine   SegmentationEngine
	timeout  time.Duration
	onResult func(SegmentationResult)
	onError  func(seq uint64, err error)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	submitted atomic.Uint64
	failed    atomic.Uint64
}

// NewSegmenter wires the engine's result callback to onResult. onError
// receives per-frame failures; both may be called from any goroutine.
func NewSegmenter(engine SegmentationEngine, timeout time.Duration, onResult func(SegmentationResult), onError func(uint64, error)) *Segmenter {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Segmenter{
		engine:   engine,
		timeout:  timeout,
		onResult: onResult,
		onError:  onError,
		ctx:      ctx,
		cancel:   cancel,
	}
	engine.OnResults(s.deliver)
	return s
}

// Initialize prepares the engine
func (s *Segmenter) Initialize(ctx context.Context) error {
	if err := s.engine.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize %s engine: %w", s.engine.Name(), err)
	}
	return nil
}

// Submit sends a frame without waiting for its result
func (s *Segmenter) Submit(frame *Frame) {
	if s.ctx.Err() != nil {
		return
	}
	s.submitted.Add(1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx := s.ctx
		if s.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}
		if err := s.engine.Send(ctx, frame); err != nil {
			s.failed.Add(1)
			if s.onError != nil {
				s.onError(frame.Seq, err)
			}
		}
	}()
}

// Submitted returns the number of frames sent
func (s *Segmenter) Submitted() uint64 {
	return s.submitted.Load()
}

// Failed returns the number of frames whose submission failed
func (s *Segmenter) Failed() uint64 {
	return s.failed.Load()
}

// Close abandons in-flight submissions, waits for them to return and
// detaches from the engine. The engine itself stays open: whoever created it
// (usually an engine registry) closes it.
func (s *Segmenter) Close() {
	s.cancel()
	s.wg.Wait()
	s.engine.OnResults(nil)
}

func (s *Segmenter) deliver(result SegmentationResult) {
	if s.onResult != nil {
		s.onResult(result)
	}
}
