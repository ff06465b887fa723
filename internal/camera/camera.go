package camera

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"

	"blurcast/internal/media"
)

// TestPatternDevice selects the built-in synthetic source instead of a device
const TestPatternDevice = "pattern://"

var (
	ErrDeviceNotFound = errors.New("camera device does not exist")
	ErrAlreadyActive  = errors.New("camera already active")
)

// Device describes a camera source
type Device struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Device string `yaml:"device"` // /dev/videoN, rtsp://, http(s):// or pattern://
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
	FPS    int    `yaml:"fps"`
}

func (d Device) withDefaults() Device {
	if d.ID == "" {
		d.ID = "cam0"
	}
	if d.Width <= 0 {
		d.Width = 1280
	}
	if d.Height <= 0 {
		d.Height = 720
	}
	if d.FPS <= 0 {
		d.FPS = 15
	}
	return d
}

// Manager acquires camera streams. Each acquired stream owns one capture;
// the capture stops when the stream and every clone of its track are stopped.
type Manager struct {
	logger *zap.Logger

	mu       sync.Mutex
	captures map[string]*capture
}

// NewManager creates a camera manager
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		logger:   logger.Named("Camera"),
		captures: make(map[string]*capture),
	}
}

// Acquire starts capturing from dev and returns a stream with one video track
func (m *Manager) Acquire(dev Device) (*media.Stream, error) {
	dev = dev.withDefaults()

	if dev.Device == TestPatternDevice {
		pattern := NewTestPattern(dev.Width, dev.Height)
		return media.NewStream(media.NewVideoTrack(pattern, nil)), nil
	}
	if !deviceExists(dev.Device) {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, dev.Device)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.captures[dev.ID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyActive, dev.ID)
	}

	c := newCapture(dev, m.logger)
	m.captures[dev.ID] = c
	c.start()

	track := media.NewVideoTrack(c.frames, func() {
		m.release(dev.ID)
	})

	m.logger.Info("camera acquired",
		zap.String("camera", dev.ID),
		zap.String("device", dev.Device),
		zap.Int("fps", dev.FPS))
	return media.NewStream(track), nil
}

func (m *Manager) release(id string) {
	m.mu.Lock()
	c, exists := m.captures[id]
	delete(m.captures, id)
	m.mu.Unlock()

	if !exists {
		return
	}
	c.stop()
	m.logger.Info("camera released", zap.String("camera", id))
}

// Active returns the ids of cameras currently capturing
func (m *Manager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.captures))
	for id := range m.captures {
		ids = append(ids, id)
	}
	return ids
}

// Stats returns capture counters for a camera
func (m *Manager) Stats(id string) (CaptureStats, bool) {
	m.mu.Lock()
	c, exists := m.captures[id]
	m.mu.Unlock()

	if !exists {
		return CaptureStats{}, false
	}
	return c.snapshot(), true
}

// Close stops every capture regardless of outstanding tracks
func (m *Manager) Close() {
	m.mu.Lock()
	captures := m.captures
	m.captures = make(map[string]*capture)
	m.mu.Unlock()

	for _, c := range captures {
		c.stop()
	}
}

// isNetworkSource checks if device is an HTTP/RTSP URL
func isNetworkSource(device string) bool {
	return strings.HasPrefix(device, "http://") ||
		strings.HasPrefix(device, "https://") ||
		strings.HasPrefix(device, "rtsp://")
}

// deviceExists checks if a camera device exists
func deviceExists(device string) bool {
	if device == "" {
		return false
	}
	// Network sources are checked when capturing
	if isNetworkSource(device) {
		return true
	}

	file, err := os.OpenFile(device, os.O_RDONLY, 0)
	if err != nil {
		return false
	}
	file.Close()
	return true
}
