package camera

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	"io"
	"net/http"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"blurcast/internal/media"
)

// CaptureStats contains capture counters for one camera
type CaptureStats struct {
	CameraID       string
	FramesCaptured uint64
	DecodeErrors   uint64
	LastFrameTime  time.Time
}

// capture decodes a device's MJPEG output into the latest frame
type capture struct {
	dev    Device
	logger *zap.Logger
	frames *media.LatestFrame

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	statsMu sync.RWMutex
	stats   CaptureStats
}

func newCapture(dev Device, logger *zap.Logger) *capture {
	ctx, cancel := context.WithCancel(context.Background())
	return &capture{
		dev:    dev,
		logger: logger.With(zap.String("camera", dev.ID)),
		frames: &media.LatestFrame{},
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		stats:  CaptureStats{CameraID: dev.ID},
	}
}

func (c *capture) start() {
	go c.run()
}

// stop terminates the capture and waits for its loop to exit
func (c *capture) stop() {
	c.once.Do(c.cancel)
	<-c.done
}

func (c *capture) run() {
	defer close(c.done)

	if c.isHTTPImageEndpoint() {
		c.captureHTTPImages()
		return
	}
	c.captureFFmpeg()
}

func (c *capture) isHTTPImageEndpoint() bool {
	d := c.dev.Device
	return (strings.HasPrefix(d, "http://") || strings.HasPrefix(d, "https://")) &&
		(strings.Contains(d, ".jpg") || strings.Contains(d, ".jpeg") || strings.Contains(d, "image"))
}

func (c *capture) captureHTTPImages() {
	client := &http.Client{Timeout: 10 * time.Second}
	defer client.CloseIdleConnections()

	interval := time.Second / time.Duration(c.dev.FPS)
	if interval < 50*time.Millisecond {
		interval = 50 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := c.fetchImage(client); err != nil && c.ctx.Err() == nil {
			c.logger.Debug("fetching frame failed", zap.Error(err))
		}
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *capture) fetchImage(client *http.Client) error {
	req, err := http.NewRequestWithContext(c.ctx, http.MethodGet, c.dev.Device, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("camera returned status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	c.publish(data)
	return nil
}

// ffmpegArgs builds the command line producing an MJPEG stream on stdout
func ffmpegArgs(dev Device) []string {
	output := []string{
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-r", fmt.Sprintf("%d", dev.FPS),
		"-q:v", "5",
		"-",
	}

	var input []string
	switch {
	case strings.HasPrefix(dev.Device, "rtsp://"):
		input = []string{"-rtsp_transport", "tcp", "-i", dev.Device}
	case isNetworkSource(dev.Device):
		input = []string{"-i", dev.Device}
	default:
		// V4L2 device (USB camera)
		input = []string{
			"-f", "v4l2",
			"-video_size", fmt.Sprintf("%dx%d", dev.Width, dev.Height),
			"-framerate", fmt.Sprintf("%d", dev.FPS),
			"-i", dev.Device,
		}
	}
	return append(input, output...)
}

func (c *capture) captureFFmpeg() {
	cmd := exec.CommandContext(c.ctx, "ffmpeg", ffmpegArgs(c.dev)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		c.logger.Error("creating stdout pipe", zap.Error(err))
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		c.logger.Error("creating stderr pipe", zap.Error(err))
		return
	}
	if err := cmd.Start(); err != nil {
		c.logger.Error("starting ffmpeg", zap.Error(err))
		return
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			c.logger.Debug("ffmpeg", zap.String("line", scanner.Text()))
		}
	}()

	if err := c.readMJPEG(stdout); err != nil && c.ctx.Err() == nil {
		c.logger.Warn("reading ffmpeg output", zap.Error(err))
	}
	_ = cmd.Wait()
}

// readMJPEG splits a concatenated JPEG stream into frames until r ends
func (c *capture) readMJPEG(r io.Reader) error {
	buf := make([]byte, 0, 1024*1024)
	chunk := make([]byte, 8192)

	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			for {
				frame := extractJPEGFrame(&buf)
				if frame == nil {
					break
				}
				c.publish(frame)
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (c *capture) publish(data []byte) {
	img, _, err := image.Decode(bytes.NewReader(data))

	c.statsMu.Lock()
	if err != nil {
		c.stats.DecodeErrors++
	} else {
		c.stats.FramesCaptured++
		c.stats.LastFrameTime = time.Now()
	}
	seq := c.stats.FramesCaptured
	c.statsMu.Unlock()

	if err != nil {
		c.logger.Debug("dropping undecodable frame", zap.Error(err))
		return
	}
	c.frames.Store(img)

	if seq%100 == 0 {
		c.logger.Debug("capture progress", zap.Uint64("frames", seq))
	}
}

func (c *capture) snapshot() CaptureStats {
	c.statsMu.RLock()
	defer c.statsMu.RUnlock()
	return c.stats
}

// extractJPEGFrame cuts the first complete JPEG (FFD8 ... FFD9) out of buffer
func extractJPEGFrame(buffer *[]byte) []byte {
	b := *buffer
	start := bytes.Index(b, []byte{0xFF, 0xD8})
	if start == -1 {
		// keep a trailing 0xFF that may begin the next marker
		if n := len(b); n > 0 && b[n-1] == 0xFF {
			*buffer = append(b[:0], 0xFF)
		} else {
			*buffer = b[:0]
		}
		return nil
	}

	end := bytes.Index(b[start+2:], []byte{0xFF, 0xD9})
	if end == -1 {
		return nil
	}
	end += start + 4

	frame := make([]byte, end-start)
	copy(frame, b[start:end])
	*buffer = append(b[:0], b[end:]...)
	return frame
}
