package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"sync"
	"sync/atomic"
	"testing"

	"go.uber.org/goleak"

	"blurcast/internal/media"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func solidImage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
	return img
}

// centerMask is opaque over the middle half of the frame
func centerMask(bounds image.Rectangle) *image.Gray {
	m := image.NewGray(bounds)
	w, h := bounds.Dx(), bounds.Dy()
	draw.Draw(m, image.Rect(w/4, h/4, 3*w/4, 3*h/4), image.NewUniform(color.Gray{Y: 0xff}), image.Point{}, draw.Src)
	return m
}

// fakeCamera is a camera stream whose underlying source counts releases
type fakeCamera struct {
	stream   *media.Stream
	track    *media.SourceTrack
	released atomic.Int32
}

func newFakeCamera(w, h int) *fakeCamera {
	cam := &fakeCamera{}
	img := solidImage(w, h, color.RGBA{R: 200, G: 40, B: 40, A: 255})
	cam.track = media.NewVideoTrack(media.FrameReaderFunc(func() (image.Image, bool) {
		return img, true
	}), func() {
		cam.released.Add(1)
	})
	cam.stream = media.NewStream(cam.track)
	return cam
}

// fakeEngine answers every frame with a centered mask unless holding
type fakeEngine struct {
	mu       sync.Mutex
	initErr  error
	initGate chan struct{}
	hold     bool
	held     []*Frame
	onResult func(SegmentationResult)

	inits  atomic.Int32
	sends  atomic.Int32
	closed atomic.Bool
}

func (e *fakeEngine) Name() string { return "fake" }

func (e *fakeEngine) Initialize(ctx context.Context) error {
	e.inits.Add(1)
	if e.initGate != nil {
		select {
		case <-e.initGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initErr
}

func (e *fakeEngine) OnResults(fn func(SegmentationResult)) {
	e.mu.Lock()
	e.onResult = fn
	e.mu.Unlock()
}

func (e *fakeEngine) Send(ctx context.Context, frame *Frame) error {
	e.sends.Add(1)
	e.mu.Lock()
	if e.hold {
		e.held = append(e.held, frame)
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()
	e.deliver(frame)
	return nil
}

func (e *fakeEngine) Close() error {
	e.closed.Store(true)
	return nil
}

func (e *fakeEngine) deliver(frame *Frame) {
	e.mu.Lock()
	fn := e.onResult
	e.mu.Unlock()
	if fn != nil {
		fn(SegmentationResult{Seq: frame.Seq, Image: frame.Image, Mask: centerMask(frame.Image.Bounds())})
	}
}

func (e *fakeEngine) heldFrames() []*Frame {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Frame(nil), e.held...)
}

type swapCall struct {
	stream    *media.Stream
	synthetic bool
}

// fakeConn records track replacements and tracks their overlap
type fakeConn struct {
	mu          sync.Mutex
	calls       []swapCall
	publishErr  error
	gate        chan struct{}
	inFlight    int
	maxInFlight int
}

var errRejected = errors.New("track rejected")

func (c *fakeConn) UpdateLocalStreamTrack(ctx context.Context, stream *media.Stream, synthetic bool) error {
	c.mu.Lock()
	c.inFlight++
	if c.inFlight > c.maxInFlight {
		c.maxInFlight = c.inFlight
	}
	gate := c.gate
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.inFlight--
		c.mu.Unlock()
	}()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, swapCall{stream: stream, synthetic: synthetic})
	if synthetic && c.publishErr != nil {
		return c.publishErr
	}
	return nil
}

func (c *fakeConn) snapshot() []swapCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]swapCall(nil), c.calls...)
}

func (c *fakeConn) count(synthetic bool) int {
	n := 0
	for _, call := range c.snapshot() {
		if call.synthetic == synthetic {
			n++
		}
	}
	return n
}

func (c *fakeConn) peak() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxInFlight
}

// hold makes every later call wait until the returned channel is closed
func (c *fakeConn) hold() chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gate = make(chan struct{})
	return c.gate
}

// pending returns the number of calls currently inside the connection
func (c *fakeConn) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

func (c *fakeConn) last() (swapCall, bool) {
	calls := c.snapshot()
	if len(calls) == 0 {
		return swapCall{}, false
	}
	return calls[len(calls)-1], true
}

// disablingEngine turns blur off right after delivering its first result
type disablingEngine struct {
	*fakeEngine
	ctrl atomic.Pointer[Controller]
	once sync.Once
}

func (e *disablingEngine) Send(ctx context.Context, frame *Frame) error {
	err := e.fakeEngine.Send(ctx, frame)
	e.once.Do(func() {
		if c := e.ctrl.Load(); c != nil {
			c.SetEnabled(false)
		}
	})
	return err
}

// detached reports whether the result callback was removed
func (e *fakeEngine) detached() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.onResult == nil
}
