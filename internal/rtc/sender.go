// Package rtc replaces the outbound video of a WebRTC peer connection
// without renegotiating the session.
//
// It is meant for hosts that embed the pipeline next to a peer connection
// they negotiated themselves: AttachVideo adds the transceiver and the
// returned Sender is passed to pipeline.NewController as its Connection.
// The blurcast command has no signalling, so it drives a preview hub
// instead and never imports this package.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v3"
	pionmedia "github.com/pion/webrtc/v3/pkg/media"
	"go.uber.org/zap"

	"blurcast/internal/media"
	"blurcast/internal/pipeline"
)

var (
	ErrNoVideoTrack = errors.New("stream has no video track")
	ErrClosed       = errors.New("sender closed")
)

// TrackReplacer is the part of *webrtc.RTPSender the Sender drives
type TrackReplacer interface {
	ReplaceTrack(track webrtc.TrackLocal) error
}

// FrameEncoder compresses raw frames into samples of one codec. The codec
// itself is chosen by whoever embeds the sender.
type FrameEncoder interface {
	Codec() webrtc.RTPCodecCapability
	Encode(img image.Image) ([]byte, error)
}

// Sender implements pipeline.Connection on top of an RTP sender. Every
// UpdateLocalStreamTrack creates a fresh local track fed from the stream's
// video and swaps it in with ReplaceTrack.
type Sender struct {
	replacer TrackReplacer
	encoder  FrameEncoder
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	current *pump
	closed  bool
}

// NewSender creates a sender pumping frames at fps
func NewSender(replacer TrackReplacer, encoder FrameEncoder, fps int, logger *zap.Logger) *Sender {
	if fps <= 0 {
		fps = 30
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		replacer: replacer,
		encoder:  encoder,
		interval: time.Second / time.Duration(fps),
		logger:   logger.Named("RTC"),
	}
}

// AttachVideo adds a send-only video transceiver to pc and returns a sender
// driving it
func AttachVideo(pc *webrtc.PeerConnection, encoder FrameEncoder, fps int, logger *zap.Logger) (*Sender, error) {
	placeholder, err := webrtc.NewTrackLocalStaticSample(encoder.Codec(), "video", "blurcast")
	if err != nil {
		return nil, fmt.Errorf("create placeholder track: %w", err)
	}
	rtpSender, err := pc.AddTrack(placeholder)
	if err != nil {
		return nil, fmt.Errorf("add video track: %w", err)
	}

	// RTCP must be drained for interceptors to work
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := rtpSender.Read(buf); err != nil {
				return
			}
		}
	}()

	return NewSender(rtpSender, encoder, fps, logger), nil
}

// UpdateLocalStreamTrack swaps the outbound video for the stream's video
func (s *Sender) UpdateLocalStreamTrack(ctx context.Context, stream *media.Stream, synthetic bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	source, ok := stream.VideoTrack()
	if !ok {
		return ErrNoVideoTrack
	}

	track, err := webrtc.NewTrackLocalStaticSample(s.encoder.Codec(), "video", "blurcast-"+stream.ID())
	if err != nil {
		return fmt.Errorf("create local track: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if err := s.replacer.ReplaceTrack(track); err != nil {
		return fmt.Errorf("replace track: %w", err)
	}

	old := s.current
	s.current = newPump(track, source, synthetic, s.encoder, s.interval, s.logger)
	go s.current.run()
	if old != nil {
		old.halt()
	}

	s.logger.Info("outbound video replaced",
		zap.String("stream", stream.ID()),
		zap.Bool("synthetic", synthetic))
	return nil
}

// Current returns the id of the local track being sent
func (s *Sender) Current() (trackStreamID string, synthetic bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return "", false
	}
	return s.current.track.StreamID(), s.current.synthetic
}

// SamplesWritten returns the number of samples written to the current track
func (s *Sender) SamplesWritten() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return 0
	}
	return s.current.written.Load()
}

// Close stops feeding the current track. The peer connection is left alone.
func (s *Sender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	if s.current != nil {
		s.current.halt()
		s.current = nil
	}
	return nil
}

// pump copies frames from one source into one local track
type pump struct {
	track     *webrtc.TrackLocalStaticSample
	source    media.VideoTrack
	synthetic bool
	encoder   FrameEncoder
	interval  time.Duration
	logger    *zap.Logger

	stop    chan struct{}
	done    chan struct{}
	written atomic.Uint64
}

func newPump(track *webrtc.TrackLocalStaticSample, source media.VideoTrack, synthetic bool, encoder FrameEncoder, interval time.Duration, logger *zap.Logger) *pump {
	return &pump{
		track:     track,
		source:    source,
		synthetic: synthetic,
		encoder:   encoder,
		interval:  interval,
		logger:    logger,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (p *pump) run() {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			// the source is owned elsewhere; an ended track just yields nothing
			img, ok := p.source.Frame()
			if !ok {
				continue
			}
			data, err := p.encoder.Encode(img)
			if err != nil {
				p.logger.Debug("encoding frame", zap.Error(err))
				continue
			}
			if err := p.track.WriteSample(pionmedia.Sample{Data: data, Duration: p.interval}); err != nil {
				p.logger.Debug("writing sample", zap.Error(err))
				continue
			}
			p.written.Add(1)
		}
	}
}

func (p *pump) halt() {
	close(p.stop)
	<-p.done
}

var _ pipeline.Connection = (*Sender)(nil)
