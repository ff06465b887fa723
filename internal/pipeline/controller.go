package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"blurcast/internal/media"
)

// Controller orchestrates the blur pipeline for one meeting session. All
// state lives on a single goroutine; the public methods only post messages
// to it and never return errors: failures degrade to "blur off".
type Controller struct {
	sessionID string
	opts      Options
	logger    *zap.Logger
	bus       *EventBus

	source     *FrameSource
	compositor *Compositor
	bridge     *StreamBridge
	segmenter  *Segmenter

	ctx    context.Context
	cancel context.CancelFunc
	inbox  chan any
	stopCh chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once

	// owned by the run loop
	state       PipelineState
	gen         uint64
	scheduler   *FrameScheduler
	schedEvents <-chan SchedulerEvent
	captured    *media.Stream

	snapMu   sync.RWMutex
	snapshot PipelineState
	stats    PipelineStats
}

type (
	setEnabledMsg  struct{ enabled bool }
	cameraMsg      struct{ stream *media.Stream }
	resultMsg      struct{ result SegmentationResult }
	initDoneMsg    struct {
		gen uint64
		err error
	}
	publishDoneMsg struct {
		gen    uint64
		stream *media.Stream
		err    error
	}
	restoreDoneMsg struct {
		gen    uint64
		camera *media.Stream
		err    error
	}
)

// NewController creates a controller publishing onto conn and starts its
// run loop. bus may be nil.
func NewController(engine SegmentationEngine, conn Connection, bus *EventBus, opts Options, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		sessionID: uuid.NewString(),
		opts:      opts,
		bus:       bus,
		ctx:       ctx,
		cancel:    cancel,
		inbox:     make(chan any, 32),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
		state:     PipelineState{Phase: PhaseIdle},
	}
	c.logger = logger.Named("Pipeline").With(zap.String("session", c.sessionID))

	c.source = NewFrameSource(opts.Surface)
	c.compositor = NewCompositor(opts.Surface, opts.BlurSigma)
	c.bridge = NewStreamBridge(conn, c.compositor, c.logger)
	c.segmenter = NewSegmenter(engine, opts.RequestTimeout,
		func(result SegmentationResult) {
			c.post(resultMsg{result: result})
		},
		func(seq uint64, err error) {
			c.logger.Debug("segmentation failed, frame dropped", zap.Uint64("seq", seq), zap.Error(err))
		},
	)
	c.snapshot = c.state
	c.stats.SessionID = c.sessionID
	c.stats.Phase = PhaseIdle

	go c.run()
	return c
}

// SessionID returns the identifier of this pipeline instance
func (c *Controller) SessionID() string {
	return c.sessionID
}

// SetEnabled turns blur on or off. Repeating the current setting is a no-op;
// enabling during teardown takes effect once teardown completes.
func (c *Controller) SetEnabled(enabled bool) {
	c.post(setEnabledMsg{enabled: enabled})
}

// OnCameraStreamChanged tells the controller which camera stream is current.
// nil means the camera went away.
func (c *Controller) OnCameraStreamChanged(stream *media.Stream) {
	c.post(cameraMsg{stream: stream})
}

// State returns a snapshot of the pipeline state
func (c *Controller) State() PipelineState {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snapshot
}

// Stats returns pipeline counters
func (c *Controller) Stats() PipelineStats {
	c.snapMu.RLock()
	stats := c.stats
	c.snapMu.RUnlock()

	stats.FramesSubmitted = c.segmenter.Submitted()
	stats.SubmitErrors = c.segmenter.Failed()
	stats.FramesPainted = c.compositor.Painted()
	stats.FramesDropped = c.compositor.Dropped()
	return stats
}

// Close tears the pipeline down, restoring the camera track if blur was
// active, and waits for every goroutine it started. The engine is left open
// for its owner to close.
func (c *Controller) Close() {
	c.once.Do(func() {
		close(c.stopCh)
	})
	<-c.done
}

func (c *Controller) post(msg any) {
	select {
	case c.inbox <- msg:
	case <-c.stopCh:
	}
}

// goAsync runs fn off the loop and posts its completion message
func (c *Controller) goAsync(fn func() any) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.post(fn())
	}()
}

func (c *Controller) run() {
	defer close(c.done)

	for {
		select {
		case <-c.stopCh:
			c.shutdown()
			return
		case msg := <-c.inbox:
			c.handle(msg)
		case ev, ok := <-c.schedEvents:
			if !ok {
				c.schedEvents = nil
				continue
			}
			c.onSchedulerEvent(ev)
		}
	}
}

func (c *Controller) handle(msg any) {
	switch m := msg.(type) {
	case setEnabledMsg:
		c.onSetEnabled(m.enabled)
	case cameraMsg:
		c.onCameraChanged(m.stream)
	case resultMsg:
		c.onResult(m.result)
	case initDoneMsg:
		c.onInitDone(m.gen, m.err)
	case publishDoneMsg:
		c.onPublishDone(m.gen, m.stream, m.err)
	case restoreDoneMsg:
		c.onRestoreDone(m.gen, m.camera, m.err)
	}
}

func (c *Controller) onSetEnabled(enabled bool) {
	if c.state.Enabled == enabled {
		if enabled && c.state.Phase == PhaseIdle {
			// a previous start failed; try again
			c.reconcile()
		}
		return
	}
	c.state.Enabled = enabled
	c.syncSnapshot()
	c.reconcile()
}

func (c *Controller) onCameraChanged(stream *media.Stream) {
	if stream == c.state.CameraStream {
		return
	}
	c.state.CameraStream = stream
	c.bridge.SetCameraStream(stream)
	c.syncSnapshot()

	switch c.state.Phase {
	case PhaseStarting, PhaseRunning:
		// bound to the old stream; the restart happens after teardown
		c.stop("camera stream changed")
	case PhaseIdle:
		c.reconcile()
	}
}

// reconcile moves the pipeline toward the requested state
func (c *Controller) reconcile() {
	want := c.state.Enabled && c.state.CameraStream != nil

	switch c.state.Phase {
	case PhaseIdle:
		if want {
			c.start()
		}
	case PhaseStarting, PhaseRunning:
		if !want {
			c.stop("disabled")
		}
	case PhaseStopping:
		// revisited once restore completes
	}
}

func (c *Controller) start() {
	c.gen++
	gen := c.gen

	if err := c.source.Bind(c.state.CameraStream); err != nil {
		c.logger.Warn("cannot bind camera stream, blur stays off", zap.Error(err))
		return
	}

	c.snapMu.Lock()
	c.stats.Starts++
	c.snapMu.Unlock()

	c.setPhase(PhaseStarting, "enabled")
	c.compositor.Open()

	c.goAsync(func() any {
		ctx, cancel := context.WithTimeout(c.ctx, c.opts.InitTimeout)
		defer cancel()
		return initDoneMsg{gen: gen, err: c.segmenter.Initialize(ctx)}
	})
}

func (c *Controller) onInitDone(gen uint64, err error) {
	if gen != c.gen || c.state.Phase != PhaseStarting {
		return
	}
	if err != nil {
		c.logger.Warn("segmentation engine unavailable, blur stays off", zap.Error(err))
		c.abort("engine initialization failed")
		return
	}

	c.scheduler = NewFrameScheduler(c.opts.TickInterval)
	c.schedEvents = c.scheduler.Events()
	c.scheduler.Start()
}

func (c *Controller) onSchedulerEvent(ev SchedulerEvent) {
	if c.state.Phase != PhaseStarting && c.state.Phase != PhaseRunning {
		return
	}

	switch ev.Type {
	case SchedulerStarted:
		c.scheduler.RequestTick()
	case SchedulerTick:
		if !c.source.Ready() {
			return
		}
		frame, err := c.source.Capture()
		if err != nil {
			c.logger.Debug("frame capture failed", zap.Error(err))
			return
		}
		c.segmenter.Submit(frame)
	}
}

func (c *Controller) onResult(result SegmentationResult) {
	if !c.compositor.Paint(result) {
		return
	}
	if c.state.Phase != PhaseStarting || c.captured != nil {
		return
	}

	// first composited frame: go live
	gen := c.gen
	stream := c.bridge.Capture()
	c.captured = stream

	// queued from the loop so a later restore is ordered after it
	ctx, cancel := context.WithTimeout(c.ctx, c.opts.SwapTimeout)
	done := c.bridge.QueuePublish(ctx, stream)
	c.goAsync(func() any {
		defer cancel()
		return publishDoneMsg{gen: gen, stream: stream, err: <-done}
	})
}

func (c *Controller) onPublishDone(gen uint64, stream *media.Stream, err error) {
	if gen != c.gen || c.state.Phase != PhaseStarting {
		// the run was torn down while publishing; its stream is already released
		return
	}
	if err != nil {
		c.logger.Warn("connection rejected blurred track, keeping camera track", zap.Error(err))
		c.abort("publish failed")
		return
	}

	c.snapMu.Lock()
	c.stats.Publishes++
	c.snapMu.Unlock()

	c.captured = nil
	c.state.PublishedStream = stream
	c.setPhase(PhaseRunning, "published")
	c.logger.Info("background blur active", zap.String("stream", stream.ID()))
}

// stop tears down a Starting or Running pipeline and restores the camera track
func (c *Controller) stop(reason string) {
	c.release()
	c.setPhase(PhaseStopping, reason)
	c.restore()
}

// restore queues a swap back to the current camera behind any pending publish
func (c *Controller) restore() {
	c.gen++
	gen := c.gen

	ctx, cancel := context.WithTimeout(c.ctx, c.opts.SwapTimeout)
	camera, done := c.bridge.QueueRestore(ctx)
	c.goAsync(func() any {
		defer cancel()
		return restoreDoneMsg{gen: gen, camera: camera, err: <-done}
	})
}

func (c *Controller) onRestoreDone(gen uint64, camera *media.Stream, err error) {
	if gen != c.gen || c.state.Phase != PhaseStopping {
		return
	}

	c.snapMu.Lock()
	c.stats.Restores++
	c.snapMu.Unlock()

	if err != nil {
		c.logger.Warn("restoring camera track failed", zap.Error(err))
	}
	if c.state.CameraStream != nil && c.state.CameraStream != camera {
		// the camera changed while restoring; put the new one back
		c.restore()
		return
	}
	c.setPhase(PhaseIdle, "stopped")
	c.reconcile()
}

// abort returns a Starting pipeline to Idle without touching the connection:
// the camera track was never replaced
func (c *Controller) abort(reason string) {
	c.gen++
	c.release()
	c.setPhase(PhaseIdle, reason)
}

// release frees everything a run holds: scheduler, captured or published
// stream, and the frame source's track clone
func (c *Controller) release() {
	if c.scheduler != nil {
		c.scheduler.Stop()
		c.scheduler = nil
		c.schedEvents = nil
	}

	c.compositor.Close(c.source.LastSeq())

	if c.captured != nil {
		c.captured.Stop()
		c.captured = nil
	}
	if c.state.PublishedStream != nil {
		c.state.PublishedStream.Stop()
		c.state.PublishedStream = nil
	}

	c.source.Release()
}

func (c *Controller) shutdown() {
	// a Stopping run's restore is about to be cancelled, so it is redone below
	needRestore := c.state.Phase != PhaseIdle
	if c.state.Phase == PhaseStarting || c.state.Phase == PhaseRunning {
		c.gen++
		c.release()
		c.setPhase(PhaseStopping, "closed")
	}

	// unblock async work, then wait for it
	c.cancel()
	c.wg.Wait()

	if needRestore {
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.SwapTimeout)
		if err := c.bridge.Restore(ctx); err != nil && !errors.Is(err, ErrNoCameraTrack) {
			c.logger.Warn("restoring camera track on close failed", zap.Error(err))
		}
		cancel()
		c.setPhase(PhaseIdle, "closed")
	}

	c.segmenter.Close()
	c.logger.Info("pipeline closed")
}

func (c *Controller) setPhase(phase Phase, reason string) {
	from := c.state.Phase
	c.state.Phase = phase
	if phase != PhaseRunning {
		c.state.PublishedStream = nil
	}
	c.syncSnapshot()

	if from == phase {
		return
	}
	c.logger.Debug("phase change", zap.String("from", string(from)), zap.String("to", string(phase)), zap.String("reason", reason))
	if c.bus != nil {
		c.bus.Publish(&PhaseEvent{
			SessionID: c.sessionID,
			From:      from,
			To:        phase,
			Reason:    reason,
			Timestamp: time.Now(),
		})
	}
}

func (c *Controller) syncSnapshot() {
	c.snapMu.Lock()
	c.snapshot = c.state
	c.stats.Phase = c.state.Phase
	c.snapMu.Unlock()
}
