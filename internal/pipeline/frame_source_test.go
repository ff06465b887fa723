package pipeline

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blurcast/internal/media"
)

func TestFrameSourceCapturesAtSurfaceSize(t *testing.T) {
	for _, size := range []image.Point{{1920, 1080}, {320, 240}, {640, 360}, {7, 3}} {
		cam := newFakeCamera(size.X, size.Y)
		src := NewFrameSource(SurfaceConfigFor(BrowserFirefox))
		require.NoError(t, src.Bind(cam.stream))
		require.True(t, src.Ready())

		frame, err := src.Capture()
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, 640, 480), frame.Image.Bounds(), "input %v", size)

		src.Release()
	}
}

func TestFrameSourceSequenceIncreases(t *testing.T) {
	cam := newFakeCamera(64, 64)
	src := NewFrameSource(SurfaceConfigFor(BrowserOther))
	require.NoError(t, src.Bind(cam.stream))
	defer src.Release()

	a, err := src.Capture()
	require.NoError(t, err)
	b, err := src.Capture()
	require.NoError(t, err)

	assert.Less(t, a.Seq, b.Seq)
	assert.Equal(t, b.Seq, src.LastSeq())
}

func TestFrameSourceReleasesCloneOnly(t *testing.T) {
	cam := newFakeCamera(32, 32)
	src := NewFrameSource(SurfaceConfigFor(BrowserOther))
	require.NoError(t, src.Bind(cam.stream))
	assert.True(t, src.Bound())

	src.Release()
	src.Release()
	assert.False(t, src.Bound())
	assert.False(t, cam.track.Ended(), "camera track stays live")
	assert.Equal(t, int32(0), cam.released.Load())

	// once the owner stops, nothing holds the source
	cam.stream.Stop()
	assert.Equal(t, int32(1), cam.released.Load())
}

func TestFrameSourceErrors(t *testing.T) {
	src := NewFrameSource(SurfaceConfigFor(BrowserOther))
	assert.False(t, src.Ready())

	_, err := src.Capture()
	assert.ErrorIs(t, err, ErrNotBound)

	assert.ErrorIs(t, src.Bind(nil), ErrNoVideoTrack)
	assert.ErrorIs(t, src.Bind(media.NewStream(media.NewAudioTrack(nil))), ErrNoVideoTrack)

	blank := media.NewStream(media.NewVideoTrack(media.FrameReaderFunc(func() (image.Image, bool) {
		return nil, false
	}), nil))
	require.NoError(t, src.Bind(blank))
	assert.False(t, src.Ready())
	_, err = src.Capture()
	assert.ErrorIs(t, err, ErrNoFrame)
	src.Release()

	cam := newFakeCamera(8, 8)
	require.NoError(t, src.Bind(cam.stream))
	cam.track.Stop()
	assert.True(t, src.Ready(), "clone outlives the original handle")
	src.Release()
	assert.Equal(t, int32(1), cam.released.Load())

}
