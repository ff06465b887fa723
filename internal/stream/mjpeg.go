package stream

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"blurcast/internal/media"
)

var ErrNoFrame = errors.New("no frame available")

// ActiveSource reports the stream currently sent on the connection and
// whether it is the synthetic (blurred) one
type ActiveSource interface {
	Active() (*media.Stream, bool)
}

// MJPEGStreamer serves whatever the connection is sending as a
// multipart/x-mixed-replace stream, for clients without WebSocket support
type MJPEGStreamer struct {
	source  ActiveSource
	fps     int
	quality int
	overlay bool
	logger  *zap.Logger
}

// NewMJPEGStreamer creates a streamer sampling source at fps.
// With overlay set every frame is stamped with its origin.
func NewMJPEGStreamer(source ActiveSource, fps int, overlay bool, logger *zap.Logger) *MJPEGStreamer {
	if fps <= 0 {
		fps = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MJPEGStreamer{
		source:  source,
		fps:     fps,
		quality: 80,
		overlay: overlay,
		logger:  logger.Named("MJPEGStreamer"),
	}
}

// Snapshot encodes the current outbound frame as JPEG
func (s *MJPEGStreamer) Snapshot() ([]byte, error) {
	stream, synthetic := s.source.Active()
	vt, ok := stream.VideoTrack()
	if !ok {
		return nil, ErrNoFrame
	}
	img, ok := vt.Frame()
	if !ok {
		return nil, ErrNoFrame
	}

	if s.overlay {
		rgba := image.NewRGBA(img.Bounds())
		draw.Draw(rgba, rgba.Bounds(), img, img.Bounds().Min, draw.Src)
		label, c := "CAMERA", color.RGBA{255, 255, 255, 255}
		if synthetic {
			label, c = "BLUR", color.RGBA{0, 255, 0, 255}
		}
		drawLabel(rgba, rgba.Bounds().Min.X+4, rgba.Bounds().Min.Y+4, label, c)
		img = rgba
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: s.quality}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

// ServeHTTP streams frames until the client disconnects
func (s *MJPEGStreamer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	s.logger.Debug("client connected", zap.String("remote", r.RemoteAddr))

	ticker := time.NewTicker(time.Second / time.Duration(s.fps))
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Debug("client disconnected", zap.String("remote", r.RemoteAddr))
			return
		case <-ticker.C:
			frame, err := s.Snapshot()
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "--frame\r\n")
			fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
			fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(frame))
			if _, err := w.Write(frame); err != nil {
				return
			}
			fmt.Fprintf(w, "\r\n")
			flusher.Flush()
		}
	}
}

// SnapshotHandler serves the current outbound frame as a single JPEG
func (s *MJPEGStreamer) SnapshotHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		frame, err := s.Snapshot()
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Content-Length", fmt.Sprintf("%d", len(frame)))
		w.Write(frame)
	})
}

// drawLabel draws text on a translucent box at (x, y)
func drawLabel(img *image.RGBA, x, y int, label string, c color.RGBA) {
	bounds := img.Bounds()
	bg := color.RGBA{0, 0, 0, 180}
	textWidth := len(label) * 7
	for dy := -2; dy < 12; dy++ {
		for dx := -2; dx < textWidth+2; dx++ {
			p := image.Pt(x+dx, y+dy)
			if p.In(bounds) {
				img.Set(p.X, p.Y, bg)
			}
		}
	}

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y + 10)},
	}
	d.DrawString(label)
}
