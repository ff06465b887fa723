package pipeline

import (
	"errors"
	"fmt"
	"image"
	"sync/atomic"
	"time"

	xdraw "golang.org/x/image/draw"

	"blurcast/internal/media"
)

var (
	ErrNoVideoTrack = errors.New("stream has no video track")
	ErrNotBound     = errors.New("frame source is not bound")
	ErrNoFrame      = errors.New("no decodable frame")
)

// FrameSource holds its own clone of the camera video track and captures
// frames from it at the surface size
type FrameSource struct {
	surface SurfaceConfig
	track   media.VideoTrack
	seq     atomic.Uint64
}

// NewFrameSource creates an unbound frame source
func NewFrameSource(surface SurfaceConfig) *FrameSource {
	return &FrameSource{surface: surface}
}

// Bind clones the stream's first video track. Any previously bound clone is
// stopped first.
func (s *FrameSource) Bind(stream *media.Stream) error {
	vt, ok := stream.VideoTrack()
	if !ok {
		return ErrNoVideoTrack
	}
	s.Release()
	s.track = vt.Clone()
	return nil
}

// Ready reports whether a frame is currently decodable
func (s *FrameSource) Ready() bool {
	if s.track == nil || s.track.Ended() {
		return false
	}
	_, ok := s.track.Frame()
	return ok
}

// Capture grabs the current frame scaled to the surface size and stamps it
// with the next sequence number
func (s *FrameSource) Capture() (*Frame, error) {
	if s.track == nil {
		return nil, ErrNotBound
	}
	src, ok := s.track.Frame()
	if !ok || src == nil || src.Bounds().Empty() {
		return nil, ErrNoFrame
	}

	dst := image.NewRGBA(s.surface.Rect())
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)

	return &Frame{
		Seq:       s.seq.Add(1),
		Image:     dst,
		Timestamp: time.Now(),
	}, nil
}

// LastSeq returns the sequence number of the most recent capture
func (s *FrameSource) LastSeq() uint64 {
	return s.seq.Load()
}

// Release stops the bound clone. Releasing an unbound source is a no-op.
func (s *FrameSource) Release() {
	if s.track == nil {
		return
	}
	s.track.Stop()
	s.track = nil
}

// Bound reports whether a track clone is held
func (s *FrameSource) Bound() bool {
	return s.track != nil
}

func (s *FrameSource) String() string {
	if s.track == nil {
		return "FrameSource(unbound)"
	}
	return fmt.Sprintf("FrameSource(%s)", s.track.ID())
}
