package engines

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"blurcast/internal/pipeline"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// subjectFrame is a green backdrop with a red square in the middle
func subjectFrame(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{0, 200, 0, 255}), image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(w/4, h/4, 3*w/4, 3*h/4), image.NewUniform(color.RGBA{220, 0, 0, 255}), image.Point{}, draw.Src)
	return img
}

type collector struct {
	mu      sync.Mutex
	results []pipeline.SegmentationResult
}

func (c *collector) add(r pipeline.SegmentationResult) {
	c.mu.Lock()
	c.results = append(c.results, r)
	c.mu.Unlock()
}

func (c *collector) all() []pipeline.SegmentationResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]pipeline.SegmentationResult(nil), c.results...)
}

func assertSubjectMask(t *testing.T, mask image.Image, w, h int) {
	t.Helper()
	require.Equal(t, image.Rect(0, 0, w, h), mask.Bounds())

	at := func(x, y int) uint8 {
		return color.GrayModel.Convert(mask.At(x, y)).(color.Gray).Y
	}
	assert.Equal(t, uint8(0xff), at(w/2, h/2), "subject is foreground")
	assert.Equal(t, uint8(0), at(2, 2), "backdrop is background")
}

func TestThresholdModelMask(t *testing.T) {
	mask := ThresholdModel{}.Mask(subjectFrame(64, 48))
	assertSubjectMask(t, mask, 64, 48)

	empty := ThresholdModel{}.Mask(image.NewRGBA(image.Rect(0, 0, 0, 0)))
	assert.True(t, empty.Bounds().Empty())
}

func TestLocalEngine(t *testing.T) {
	e := NewLocalEngine(0)
	var got collector
	e.OnResults(got.add)

	err := e.Send(context.Background(), &pipeline.Frame{Seq: 1, Image: subjectFrame(32, 32)})
	assert.Error(t, err, "send before initialize")

	require.NoError(t, e.Initialize(context.Background()))
	require.NoError(t, e.Send(context.Background(), &pipeline.Frame{Seq: 7, Image: subjectFrame(32, 32)}))

	results := got.all()
	require.Len(t, results, 1)
	assert.Equal(t, uint64(7), results[0].Seq)
	assertSubjectMask(t, results[0].Mask, 32, 32)

	assert.Error(t, e.Send(context.Background(), &pipeline.Frame{Seq: 8}))
	require.NoError(t, e.Close())
}

func startGRPCServer(t *testing.T, servingStatus healthpb.HealthCheckResponse_ServingStatus) *bufconn.Listener {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterSegmentationServer(srv, &ModelServer{})

	hs := health.NewServer()
	hs.SetServingStatus(SegmentationServiceName, servingStatus)
	healthpb.RegisterHealthServer(srv, hs)

	go func() {
		_ = srv.Serve(lis)
	}()
	t.Cleanup(srv.Stop)
	return lis
}

func bufDialer(lis *bufconn.Listener) grpc.DialOption {
	return grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})
}

func TestGRPCEngineSegments(t *testing.T) {
	lis := startGRPCServer(t, healthpb.HealthCheckResponse_SERVING)

	e := NewGRPCEngine(GRPCEngineConfig{
		Endpoint:    "passthrough:///bufnet",
		DialOptions: []grpc.DialOption{bufDialer(lis)},
	}, nil)
	defer e.Close()

	var got collector
	e.OnResults(got.add)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Initialize(ctx))

	frame := subjectFrame(40, 30)
	require.NoError(t, e.Send(ctx, &pipeline.Frame{Seq: 3, Image: frame}))

	results := got.all()
	require.Len(t, results, 1)
	assert.Equal(t, uint64(3), results[0].Seq)
	assert.Same(t, frame, results[0].Image)
	assertSubjectMask(t, results[0].Mask, 40, 30)
}

func TestGRPCEngineInitializeNotServing(t *testing.T) {
	lis := startGRPCServer(t, healthpb.HealthCheckResponse_NOT_SERVING)

	e := NewGRPCEngine(GRPCEngineConfig{
		Endpoint:    "passthrough:///bufnet",
		DialOptions: []grpc.DialOption{bufDialer(lis)},
	}, nil)
	defer e.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := e.Initialize(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NOT_SERVING")
}

func TestGRPCEngineRequiresEndpoint(t *testing.T) {
	e := NewGRPCEngine(GRPCEngineConfig{}, nil)
	assert.Error(t, e.Initialize(context.Background()))
	assert.Error(t, e.Send(context.Background(), &pipeline.Frame{Seq: 1, Image: subjectFrame(8, 8)}))
	assert.NoError(t, e.Close())
}

func newSegmentationHTTPServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewModelHTTPHandler(ThresholdModel{}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPEngineSegments(t *testing.T) {
	srv := newSegmentationHTTPServer(t)

	e := NewHTTPEngine(srv.URL+"/", time.Second, nil)
	defer e.Close()

	var got collector
	e.OnResults(got.add)

	assert.Error(t, e.Send(context.Background(), &pipeline.Frame{Seq: 1, Image: subjectFrame(32, 32)}),
		"send before a healthy check")

	require.NoError(t, e.Initialize(context.Background()))
	require.NoError(t, e.Send(context.Background(), &pipeline.Frame{Seq: 2, Image: subjectFrame(32, 32)}))

	results := got.all()
	require.Len(t, results, 1)
	assert.Equal(t, uint64(2), results[0].Seq)
	assertSubjectMask(t, results[0].Mask, 32, 32)
}

func TestHTTPEngineUnhealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	e := NewHTTPEngine(srv.URL, time.Second, nil)
	defer e.Close()

	err := e.Initialize(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")

	assert.Error(t, NewHTTPEngine("", 0, nil).Initialize(context.Background()))
}

func TestModelHTTPHandlerRejectsBadUploads(t *testing.T) {
	srv := newSegmentationHTTPServer(t)

	resp, err := http.Post(srv.URL+"/segment", "text/plain", strings.NewReader("hello"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/segment")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register(NewLocalEngine(0)))
	assert.Error(t, r.Register(NewLocalEngine(0)), "duplicate name")
	assert.Error(t, r.Register(nil))

	require.NoError(t, r.Register(NewHTTPEngine("http://example.invalid", 0, nil)))
	assert.Equal(t, []string{"http", "local"}, r.Names())

	e, ok := r.Get("local")
	require.True(t, ok)
	assert.Equal(t, "local", e.Name())

	require.NoError(t, r.Unregister("http"))
	assert.Error(t, r.Unregister("http"))

	require.NoError(t, r.Close())
	assert.Empty(t, r.Names())
}

func TestFactory(t *testing.T) {
	e, err := New(FactoryConfig{}, nil)
	require.NoError(t, err)
	assert.Equal(t, EngineGRPC, e.Name())

	e, err = New(FactoryConfig{Name: EngineHTTP, Endpoint: "http://x"}, nil)
	require.NoError(t, err)
	assert.Equal(t, EngineHTTP, e.Name())

	_, err = New(FactoryConfig{Name: "onnx"}, nil)
	assert.Error(t, err)

	r, err := NewDefaultRegistry(FactoryConfig{Name: EngineLocal}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"local"}, r.Names())

	r, err = NewDefaultRegistry(FactoryConfig{Name: EngineGRPC, Endpoint: "localhost:50051"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"grpc", "local"}, r.Names())
	require.NoError(t, r.Close())
}
