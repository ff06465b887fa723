package stream

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blurcast/internal/media"
)

type fixedSource struct {
	stream    *media.Stream
	synthetic bool
}

func (f fixedSource) Active() (*media.Stream, bool) {
	return f.stream, f.synthetic
}

func grayStream(w, h int) *media.Stream {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0x80
	}
	return media.NewStream(media.NewVideoTrack(media.FrameReaderFunc(func() (image.Image, bool) {
		return img, true
	}), nil))
}

func TestSnapshot(t *testing.T) {
	s := NewMJPEGStreamer(fixedSource{stream: grayStream(64, 48)}, 10, false, nil)

	data, err := s.Snapshot()
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 64, 48), img.Bounds())
}

func TestSnapshotNoFrame(t *testing.T) {
	s := NewMJPEGStreamer(fixedSource{}, 10, false, nil)
	_, err := s.Snapshot()
	assert.ErrorIs(t, err, ErrNoFrame)

	rec := httptest.NewRecorder()
	s.SnapshotHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/snapshot.jpg", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSnapshotHandler(t *testing.T) {
	s := NewMJPEGStreamer(fixedSource{stream: grayStream(32, 32), synthetic: true}, 10, true, nil)

	rec := httptest.NewRecorder()
	s.SnapshotHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/snapshot.jpg", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	_, err := jpeg.Decode(rec.Body)
	require.NoError(t, err)
}

func TestServeHTTPWritesParts(t *testing.T) {
	s := NewMJPEGStreamer(fixedSource{stream: grayStream(32, 24)}, 50, false, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/stream.mjpeg", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	assert.Equal(t, "multipart/x-mixed-replace; boundary=frame", rec.Header().Get("Content-Type"))
	body := rec.Body.Bytes()
	assert.GreaterOrEqual(t, bytes.Count(body, []byte("--frame\r\n")), 2)
	assert.Contains(t, string(body), "Content-Type: image/jpeg\r\n")
}

func TestDrawLabelStaysInBounds(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 20, 10))
	drawLabel(img, 15, 5, "BLUR", color.RGBA{0, 255, 0, 255})

	// the backdrop box covers the label origin
	_, _, _, a := img.At(15, 5).RGBA()
	assert.NotZero(t, a)
}
