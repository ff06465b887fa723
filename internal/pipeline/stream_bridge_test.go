package pipeline

import (
	"context"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamBridgeCaptureFollowsSurface(t *testing.T) {
	c := NewCompositor(SurfaceConfigFor(BrowserOther), 2)
	b := NewStreamBridge(&fakeConn{}, c, nil)

	stream := b.Capture()
	vt, ok := stream.VideoTrack()
	require.True(t, ok)

	_, ok = vt.Frame()
	assert.False(t, ok, "nothing painted yet")

	c.Open()
	require.True(t, c.Paint(SegmentationResult{Seq: 1, Image: solidImage(32, 32, color.White), Mask: fullMask(32, 32)}))

	img, ok := vt.Frame()
	require.True(t, ok)
	assert.Equal(t, image.Rect(0, 0, 640, 360), img.Bounds())

	stream.Stop()
	_, ok = vt.Frame()
	assert.False(t, ok, "stopped track yields nothing")
}

func TestStreamBridgePublishAndRestore(t *testing.T) {
	conn := &fakeConn{}
	b := NewStreamBridge(conn, NewCompositor(SurfaceConfigFor(BrowserOther), 2), nil)
	ctx := context.Background()

	assert.ErrorIs(t, b.Restore(ctx), ErrNoCameraTrack)

	cam := newFakeCamera(16, 16)
	b.SetCameraStream(cam.stream)

	blurred := b.Capture()
	require.NoError(t, b.Publish(ctx, blurred))
	require.NoError(t, b.Restore(ctx))

	calls := conn.snapshot()
	require.Len(t, calls, 2)
	assert.Same(t, blurred, calls[0].stream)
	assert.True(t, calls[0].synthetic)
	assert.Same(t, cam.stream, calls[1].stream)
	assert.False(t, calls[1].synthetic)

	conn.publishErr = errRejected
	err := b.Publish(ctx, blurred)
	assert.ErrorIs(t, err, errRejected)
}

func TestStreamBridgeSwapsNeverOverlap(t *testing.T) {
	conn := &fakeConn{gate: make(chan struct{})}
	b := NewStreamBridge(conn, NewCompositor(SurfaceConfigFor(BrowserOther), 2), nil)
	b.SetCameraStream(newFakeCamera(16, 16).stream)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		errs <- b.Publish(ctx, b.Capture())
	}()
	go func() {
		defer wg.Done()
		errs <- b.Restore(ctx)
	}()

	// the second call waits on the first instead of reaching the connection
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, conn.peak())

	close(conn.gate)
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	assert.Equal(t, 1, conn.peak())
	assert.Len(t, conn.snapshot(), 2)
}
