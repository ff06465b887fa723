package engines

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"blurcast/internal/pipeline"
)

// HTTPEngine posts frames to a segmentation service over plain HTTP.
// POST {endpoint}/segment takes a multipart "file" part with a JPEG frame and
// answers with a PNG mask; GET {endpoint}/health answers 200 when ready.
type HTTPEngine struct {
	endpoint string
	client   *http.Client
	quality  int
	logger   *zap.Logger

	mu       sync.RWMutex
	healthy  bool
	onResult func(pipeline.SegmentationResult)
}

// NewHTTPEngine creates an HTTP segmentation engine
func NewHTTPEngine(endpoint string, timeout time.Duration, logger *zap.Logger) *HTTPEngine {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPEngine{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		client:   &http.Client{Timeout: timeout},
		quality:  85,
		logger:   logger.Named("HTTPEngine"),
	}
}

func (e *HTTPEngine) Name() string {
	return "http"
}

// Initialize checks the service health endpoint
func (e *HTTPEngine) Initialize(ctx context.Context) error {
	if e.endpoint == "" {
		return fmt.Errorf("http engine endpoint not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.endpoint+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("segmentation health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("segmentation health check returned status %d", resp.StatusCode)
	}

	e.mu.Lock()
	e.healthy = true
	e.mu.Unlock()

	e.logger.Info("segmentation service healthy", zap.String("endpoint", e.endpoint))
	return nil
}

func (e *HTTPEngine) OnResults(fn func(pipeline.SegmentationResult)) {
	e.mu.Lock()
	e.onResult = fn
	e.mu.Unlock()
}

func (e *HTTPEngine) Send(ctx context.Context, frame *pipeline.Frame) error {
	e.mu.RLock()
	healthy, fn := e.healthy, e.onResult
	e.mu.RUnlock()

	if !healthy {
		return fmt.Errorf("segmentation service unavailable")
	}
	if frame == nil || frame.Image == nil {
		return fmt.Errorf("empty frame")
	}

	imageData, err := encodeJPEG(frame.Image, e.quality)
	if err != nil {
		return err
	}

	// Create multipart form data
	var b bytes.Buffer
	w := multipart.NewWriter(&b)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="frame.jpg"`)
	h.Set("Content-Type", "image/jpeg")
	fw, err := w.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := fw.Write(imageData); err != nil {
		return err
	}
	if err := w.WriteField("seq", fmt.Sprintf("%d", frame.Seq)); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint+"/segment", &b)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("segment frame %d: %w", frame.Seq, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("segment frame %d: read body: %w", frame.Seq, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("segmentation failed (%d): %s", resp.StatusCode, string(body))
	}

	mask, err := decodeImage(body)
	if err != nil {
		return fmt.Errorf("segment frame %d: %w", frame.Seq, err)
	}

	if fn != nil {
		fn(pipeline.SegmentationResult{Seq: frame.Seq, Image: frame.Image, Mask: mask})
	}
	return nil
}

func (e *HTTPEngine) Close() error {
	e.mu.Lock()
	e.healthy = false
	e.mu.Unlock()
	e.client.CloseIdleConnections()
	return nil
}

// Ensure HTTPEngine implements SegmentationEngine
var _ pipeline.SegmentationEngine = (*HTTPEngine)(nil)
