package media

import (
	"image"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Kind identifies what a track carries
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// Track is a single live media track. Stop releases the track; calling it
// again on an ended track has no effect.
type Track interface {
	ID() string
	Kind() Kind
	Stop()
	Ended() bool
}

// VideoTrack is a track whose current frame can be read at any time
type VideoTrack interface {
	Track

	// Frame returns the most recently decoded frame.
	// ok is false until the first frame is available and after Stop.
	Frame() (img image.Image, ok bool)

	// Clone returns an independent handle on the same source. The source is
	// released once the original and every clone have been stopped.
	Clone() VideoTrack
}

// FrameReader supplies frames to a video track
type FrameReader interface {
	ReadFrame() (image.Image, bool)
}

// FrameReaderFunc adapts a function to FrameReader
type FrameReaderFunc func() (image.Image, bool)

func (f FrameReaderFunc) ReadFrame() (image.Image, bool) {
	return f()
}

// source is shared by a track and all of its clones
type source struct {
	mu      sync.Mutex
	refs    int
	release func()
}

func (s *source) acquire() {
	s.mu.Lock()
	s.refs++
	s.mu.Unlock()
}

func (s *source) unref() {
	s.mu.Lock()
	s.refs--
	last := s.refs == 0
	s.mu.Unlock()

	if last && s.release != nil {
		s.release()
	}
}

type baseTrack struct {
	id    string
	kind  Kind
	src   *source
	ended atomic.Bool
}

func (t *baseTrack) ID() string  { return t.id }
func (t *baseTrack) Kind() Kind  { return t.kind }
func (t *baseTrack) Ended() bool { return t.ended.Load() }

func (t *baseTrack) Stop() {
	if !t.ended.CompareAndSwap(false, true) {
		return
	}
	t.src.unref()
}

// SourceTrack is the VideoTrack implementation backed by a FrameReader
type SourceTrack struct {
	baseTrack
	reader FrameReader
}

// NewVideoTrack creates a video track reading frames from reader.
// release, if not nil, runs once when the last handle on the source stops.
func NewVideoTrack(reader FrameReader, release func()) *SourceTrack {
	src := &source{release: release}
	src.acquire()
	return &SourceTrack{
		baseTrack: baseTrack{id: uuid.NewString(), kind: KindVideo, src: src},
		reader:    reader,
	}
}

func (t *SourceTrack) Frame() (image.Image, bool) {
	if t.Ended() || t.reader == nil {
		return nil, false
	}
	return t.reader.ReadFrame()
}

func (t *SourceTrack) Clone() VideoTrack {
	t.src.acquire()
	return &SourceTrack{
		baseTrack: baseTrack{id: uuid.NewString(), kind: KindVideo, src: t.src},
		reader:    t.reader,
	}
}

// NewAudioTrack creates an opaque audio track. The pipeline never reads audio;
// the track only participates in stream lifecycle.
func NewAudioTrack(release func()) Track {
	src := &source{release: release}
	src.acquire()
	return &baseTrack{id: uuid.NewString(), kind: KindAudio, src: src}
}

var (
	_ VideoTrack = (*SourceTrack)(nil)
	_ Track      = (*baseTrack)(nil)
)
