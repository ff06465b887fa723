package ws

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image/jpeg"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"blurcast/internal/media"
	"blurcast/internal/pipeline"
)

var ErrNoVideo = errors.New("stream has no video track")

// client serializes writes to one connection
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(messageType, data)
}

// PreviewHub is a local stand-in for the call connection: whatever stream is
// currently "sent" is sampled and pushed to WebSocket viewers as JPEG frames.
// It also relays phase transitions and blur toggles.
type PreviewHub struct {
	fps     int
	quality int
	logger  *zap.Logger

	mu      sync.RWMutex
	clients map[*client]bool
	toggle  func(bool)

	streamMu  sync.RWMutex
	active    *media.Stream
	synthetic bool
}

// NewPreviewHub creates a hub pushing frames at fps
func NewPreviewHub(fps int, logger *zap.Logger) *PreviewHub {
	if fps <= 0 {
		fps = 15
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PreviewHub{
		fps:     fps,
		quality: 75,
		logger:  logger.Named("WS"),
		clients: make(map[*client]bool),
	}
}

// SetToggle installs the handler for client blur toggles
func (h *PreviewHub) SetToggle(fn func(enabled bool)) {
	h.mu.Lock()
	h.toggle = fn
	h.mu.Unlock()
}

// UpdateLocalStreamTrack switches the stream being previewed
func (h *PreviewHub) UpdateLocalStreamTrack(ctx context.Context, stream *media.Stream, synthetic bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := stream.VideoTrack(); !ok {
		return ErrNoVideo
	}

	h.streamMu.Lock()
	h.active = stream
	h.synthetic = synthetic
	h.streamMu.Unlock()

	h.logger.Debug("preview track replaced", zap.String("stream", stream.ID()), zap.Bool("synthetic", synthetic))
	return nil
}

// Active returns the stream being previewed
func (h *PreviewHub) Active() (*media.Stream, bool) {
	h.streamMu.RLock()
	defer h.streamMu.RUnlock()
	return h.active, h.synthetic
}

// OnPhaseChange relays a pipeline transition to every client
func (h *PreviewHub) OnPhaseChange(ev *pipeline.PhaseEvent) {
	h.broadcastJSON(NewPhaseMessage(ev))
}

// Run samples the active stream until ctx is cancelled
func (h *PreviewHub) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Second / time.Duration(h.fps))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if h.ClientCount() == 0 {
				continue
			}
			if msg, ok := h.sample(); ok {
				h.broadcastJSON(msg)
			}
		}
	}
}

func (h *PreviewHub) sample() (*FrameMessage, bool) {
	stream, synthetic := h.Active()
	vt, ok := stream.VideoTrack()
	if !ok {
		return nil, false
	}
	img, ok := vt.Frame()
	if !ok {
		return nil, false
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: h.quality}); err != nil {
		h.logger.Debug("encoding preview frame", zap.Error(err))
		return nil, false
	}
	b := img.Bounds()
	return NewFrameMessage(stream.ID(), synthetic, b.Dx(), b.Dy(), base64.StdEncoding.EncodeToString(buf.Bytes())), true
}

func (h *PreviewHub) register(conn *websocket.Conn) *client {
	c := &client{conn: conn}
	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("client registered", zap.Int("clients", n))
	return c
}

func (h *PreviewHub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()

	if ok {
		c.conn.Close()
		h.logger.Info("client unregistered")
	}
}

// handleControl applies a message received from a client
func (h *PreviewHub) handleControl(data []byte) error {
	var msg ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("decode control message: %w", err)
	}
	if msg.Type != TypeBlur {
		return fmt.Errorf("unknown control message %q", msg.Type)
	}

	h.mu.RLock()
	toggle := h.toggle
	h.mu.RUnlock()

	if toggle != nil {
		toggle(msg.Enabled)
	}
	return nil
}

func (h *PreviewHub) broadcastJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("marshaling message", zap.Error(err))
		return
	}
	h.Broadcast(data)
}

// Broadcast sends a text message to every client, dropping failed ones
func (h *PreviewHub) Broadcast(message []byte) {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.write(websocket.TextMessage, message); err != nil {
			h.logger.Debug("error sending to client", zap.Error(err))
			h.unregister(c)
		}
	}
}

// ClientCount returns the number of connected clients
func (h *PreviewHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client
func (h *PreviewHub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*client]bool)
	h.mu.Unlock()

	for c := range clients {
		c.conn.Close()
	}
}

var (
	_ pipeline.Connection   = (*PreviewHub)(nil)
	_ pipeline.PhaseHandler = (*PreviewHub)(nil)
)
