package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"go.uber.org/zap"

	"blurcast/internal/media"
)

var ErrNoCameraTrack = errors.New("no camera stream to restore")

// StreamBridge connects the drawing surface to the outbound connection.
// Swaps run strictly in the order they were queued and never overlap, so a
// restore queued after a publish always lands last on the connection.
type StreamBridge struct {
	conn       Connection
	compositor *Compositor
	logger     *zap.Logger

	mu     sync.Mutex
	camera *media.Stream
	tail   chan struct{} // closed once the last queued swap has finished
}

// NewStreamBridge creates a bridge publishing the compositor's surface on conn
func NewStreamBridge(conn Connection, compositor *Compositor, logger *zap.Logger) *StreamBridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamBridge{
		conn:       conn,
		compositor: compositor,
		logger:     logger.Named("StreamBridge"),
	}
}

// SetCameraStream records the camera stream later restores swap back to.
// nil is ignored so a removed camera can still be restored.
func (b *StreamBridge) SetCameraStream(stream *media.Stream) {
	if stream == nil {
		return
	}
	b.mu.Lock()
	b.camera = stream
	b.mu.Unlock()
}

// Capture returns a live stream of the drawing surface. Every later paint is
// visible through the stream's track without capturing again.
func (b *StreamBridge) Capture() *media.Stream {
	track := media.NewVideoTrack(media.FrameReaderFunc(func() (image.Image, bool) {
		if b.compositor.Painted() == 0 {
			return nil, false
		}
		return b.compositor.Snapshot(), true
	}), nil)
	return media.NewStream(track)
}

// Publish swaps the connection's outbound video for stream and waits for it
func (b *StreamBridge) Publish(ctx context.Context, stream *media.Stream) error {
	return <-b.QueuePublish(ctx, stream)
}

// Restore swaps the camera stream back and waits for it
func (b *StreamBridge) Restore(ctx context.Context) error {
	_, done := b.QueueRestore(ctx)
	return <-done
}

// QueuePublish reserves the next swap slot for stream. The returned channel
// yields the outcome once every earlier swap has finished and this one ran.
func (b *StreamBridge) QueuePublish(ctx context.Context, stream *media.Stream) <-chan error {
	return b.enqueue(ctx, func(ctx context.Context) error {
		if err := b.conn.UpdateLocalStreamTrack(ctx, stream, true); err != nil {
			return fmt.Errorf("publish blurred stream: %w", err)
		}
		b.logger.Debug("published blurred stream", zap.String("stream", stream.ID()))
		return nil
	})
}

// QueueRestore reserves the next swap slot for the camera stream known at
// the time of the call, and returns that stream with the outcome channel
func (b *StreamBridge) QueueRestore(ctx context.Context) (*media.Stream, <-chan error) {
	b.mu.Lock()
	camera := b.camera
	b.mu.Unlock()

	if camera == nil {
		done := make(chan error, 1)
		done <- ErrNoCameraTrack
		return nil, done
	}
	return camera, b.enqueue(ctx, func(ctx context.Context) error {
		if err := b.conn.UpdateLocalStreamTrack(ctx, camera, false); err != nil {
			return fmt.Errorf("restore camera stream: %w", err)
		}
		b.logger.Debug("restored camera stream", zap.String("stream", camera.ID()))
		return nil
	})
}

// enqueue chains swap behind the previously queued one
func (b *StreamBridge) enqueue(ctx context.Context, swap func(context.Context) error) <-chan error {
	turn := make(chan struct{})
	b.mu.Lock()
	prev := b.tail
	b.tail = turn
	b.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		defer close(turn)
		if prev != nil {
			<-prev
		}
		if err := ctx.Err(); err != nil {
			done <- err
			return
		}
		done <- swap(ctx)
	}()
	return done
}
