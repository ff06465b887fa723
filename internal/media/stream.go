package media

import (
	"image"
	"sync"

	"github.com/google/uuid"
)

// Stream groups the tracks of one live capture
type Stream struct {
	id     string
	tracks []Track
}

// NewStream creates a stream with a fresh identifier
func NewStream(tracks ...Track) *Stream {
	return &Stream{
		id:     uuid.NewString(),
		tracks: tracks,
	}
}

func (s *Stream) ID() string {
	if s == nil {
		return ""
	}
	return s.id
}

// Tracks returns a copy of the stream's tracks
func (s *Stream) Tracks() []Track {
	out := make([]Track, len(s.tracks))
	copy(out, s.tracks)
	return out
}

// VideoTracks returns the stream's video tracks in order
func (s *Stream) VideoTracks() []VideoTrack {
	var out []VideoTrack
	for _, t := range s.tracks {
		if vt, ok := t.(VideoTrack); ok {
			out = append(out, vt)
		}
	}
	return out
}

// VideoTrack returns the first video track of the stream
func (s *Stream) VideoTrack() (VideoTrack, bool) {
	if s == nil {
		return nil, false
	}
	vts := s.VideoTracks()
	if len(vts) == 0 {
		return nil, false
	}
	return vts[0], true
}

// Stop stops every track. Already-ended tracks are skipped.
func (s *Stream) Stop() {
	if s == nil {
		return
	}
	for _, t := range s.tracks {
		t.Stop()
	}
}

// LatestFrame holds the most recent frame written by a producer.
// It implements FrameReader.
type LatestFrame struct {
	mu    sync.RWMutex
	frame image.Image
}

// Store replaces the current frame
func (l *LatestFrame) Store(img image.Image) {
	l.mu.Lock()
	l.frame = img
	l.mu.Unlock()
}

func (l *LatestFrame) ReadFrame() (image.Image, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.frame, l.frame != nil
}

var _ FrameReader = (*LatestFrame)(nil)
