package ws

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 256 * 1024, // base64 encoded JPEG frames
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

var ErrToggleForbidden = errors.New("connection may not toggle blur")

// Handler upgrades preview viewers to WebSocket connections
type Handler struct {
	hub *PreviewHub

	// CanToggle decides at upgrade time whether the connection may send
	// control messages. Nil allows every connection.
	CanToggle func(r *http.Request) bool
}

// NewHandler creates a new WebSocket handler
func NewHandler(hub *PreviewHub) *Handler {
	return &Handler{hub: hub}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.hub.logger.Debug("upgrade error", zap.Error(err))
		return
	}

	h.hub.logger.Info("new preview connection", zap.String("remote", r.RemoteAddr))
	canToggle := h.CanToggle == nil || h.CanToggle(r)
	c := h.hub.register(conn)
	go h.readPump(c, canToggle)
}

// readPump applies control messages and detects disconnection
func (h *Handler) readPump(c *client, canToggle bool) {
	done := make(chan struct{})
	defer func() {
		close(done)
		h.hub.unregister(c)
	}()

	conn := c.conn
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := c.write(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.hub.logger.Debug("read error", zap.Error(err))
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		if !canToggle {
			h.reject(c, ErrToggleForbidden)
			continue
		}
		if err := h.hub.handleControl(data); err != nil {
			h.hub.logger.Debug("ignoring client message", zap.Error(err))
		}
	}
}

func (h *Handler) reject(c *client, cause error) {
	h.hub.logger.Debug("rejecting client message", zap.Error(cause))
	data, err := json.Marshal(ErrorMessage{Type: TypeError, Error: cause.Error()})
	if err != nil {
		return
	}
	if err := c.write(websocket.TextMessage, data); err != nil {
		h.hub.logger.Debug("error sending to client", zap.Error(err))
	}
}
