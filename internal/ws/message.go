package ws

import (
	"time"

	"blurcast/internal/pipeline"
)

// Message types
const (
	TypeFrame = "frame"
	TypePhase = "phase"
	TypeBlur  = "blur"
	TypeError = "error"
)

// FrameMessage carries one preview frame of the outbound video
type FrameMessage struct {
	Type        string    `json:"type"` // "frame"
	StreamID    string    `json:"stream_id"`
	Synthetic   bool      `json:"synthetic"` // true while the blurred surface is live
	Timestamp   time.Time `json:"timestamp"`
	FrameWidth  int       `json:"frame_width"`
	FrameHeight int       `json:"frame_height"`
	Frame       string    `json:"frame"` // Base64 encoded JPEG frame
}

// NewFrameMessage creates a new frame message for live preview
func NewFrameMessage(streamID string, synthetic bool, frameWidth, frameHeight int, frameBase64 string) *FrameMessage {
	return &FrameMessage{
		Type:        TypeFrame,
		StreamID:    streamID,
		Synthetic:   synthetic,
		Timestamp:   time.Now(),
		FrameWidth:  frameWidth,
		FrameHeight: frameHeight,
		Frame:       frameBase64,
	}
}

// PhaseMessage reports a pipeline phase transition
type PhaseMessage struct {
	Type      string         `json:"type"` // "phase"
	SessionID string         `json:"session_id"`
	From      pipeline.Phase `json:"from"`
	To        pipeline.Phase `json:"to"`
	Reason    string         `json:"reason,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewPhaseMessage converts a bus event
func NewPhaseMessage(ev *pipeline.PhaseEvent) *PhaseMessage {
	return &PhaseMessage{
		Type:      TypePhase,
		SessionID: ev.SessionID,
		From:      ev.From,
		To:        ev.To,
		Reason:    ev.Reason,
		Timestamp: ev.Timestamp,
	}
}

// ControlMessage is sent by clients to toggle blur
type ControlMessage struct {
	Type    string `json:"type"` // "blur"
	Enabled bool   `json:"enabled"`
}

// ErrorMessage tells one client its last message was rejected
type ErrorMessage struct {
	Type  string `json:"type"` // "error"
	Error string `json:"error"`
}
