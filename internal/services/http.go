package services

import (
	"context"
	"errors"
	"io"
	"net/http"

	goahttp "goa.design/goa/v3/http"
	goa "goa.design/goa/v3/pkg"
)

// MountPoint holds information about the mounted endpoints
type MountPoint struct {
	// Method is the name of the service method served by the mounted HTTP handler.
	Method string
	// Verb is the HTTP method used to match requests to the mounted handler.
	Verb string
	// Pattern is the HTTP request path pattern used to match requests to the
	// mounted handler.
	Pattern string
}

// Server lists the health and system endpoint HTTP handlers
type Server struct {
	Mounts  []*MountPoint
	Healthz http.Handler
	Readyz  http.Handler
	Status  http.Handler
	SetBlur http.Handler
}

// ErrorBody is the JSON body of every error response
type ErrorBody struct {
	Name    string `json:"name"`
	ID      string `json:"id"`
	Message string `json:"message"`
}

// New instantiates HTTP handlers for the endpoints. errhandler is called when
// a response cannot be encoded.
func New(
	e *Endpoints,
	mux goahttp.Muxer,
	decoder func(*http.Request) goahttp.Decoder,
	encoder func(context.Context, http.ResponseWriter) goahttp.Encoder,
	errhandler func(context.Context, http.ResponseWriter, error),
) *Server {
	noPayload := func(*http.Request) (any, error) { return nil, nil }
	return &Server{
		Mounts: []*MountPoint{
			{"healthz", "GET", "/healthz"},
			{"readyz", "GET", "/readyz"},
			{"status", "GET", "/api/system/status"},
			{"set_blur", "PUT", "/api/system/blur"},
		},
		Healthz: newHandler("health", "healthz", e.Healthz, noPayload, http.StatusOK, false, encoder, errhandler),
		Readyz:  newHandler("health", "readyz", e.Readyz, noPayload, http.StatusOK, false, encoder, errhandler),
		Status:  newHandler("system", "status", e.Status, noPayload, http.StatusOK, true, encoder, errhandler),
		SetBlur: newHandler("system", "set_blur", e.SetBlur, decodeSetBlurRequest(decoder), http.StatusAccepted, true, encoder, errhandler),
	}
}

// Protect wraps the status handler with view and the set_blur handler with
// toggle. Health checks stay open.
func (s *Server) Protect(view, toggle func(http.Handler) http.Handler) {
	if view != nil {
		s.Status = view(s.Status)
	}
	if toggle != nil {
		s.SetBlur = toggle(s.SetBlur)
	}
}

// Mount configures the mux to serve the endpoints
func Mount(mux goahttp.Muxer, h *Server) {
	mux.Handle("GET", "/healthz", h.Healthz.ServeHTTP)
	mux.Handle("GET", "/readyz", h.Readyz.ServeHTTP)
	mux.Handle("GET", "/api/system/status", h.Status.ServeHTTP)
	mux.Handle("PUT", "/api/system/blur", h.SetBlur.ServeHTTP)
}

func newHandler(
	service, method string,
	endpoint goa.Endpoint,
	decode func(*http.Request) (any, error),
	code int,
	hasBody bool,
	encoder func(context.Context, http.ResponseWriter) goahttp.Encoder,
	errhandler func(context.Context, http.ResponseWriter, error),
) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), goahttp.AcceptTypeKey, r.Header.Get("Accept"))
		ctx = context.WithValue(ctx, goa.MethodKey, method)
		ctx = context.WithValue(ctx, goa.ServiceKey, service)

		payload, err := decode(r)
		if err != nil {
			encodeError(ctx, w, err, encoder, errhandler)
			return
		}
		res, err := endpoint(ctx, payload)
		if err != nil {
			encodeError(ctx, w, err, encoder, errhandler)
			return
		}
		if !hasBody {
			w.WriteHeader(code)
			return
		}
		enc := encoder(ctx, w)
		w.WriteHeader(code)
		if err := enc.Encode(res); err != nil {
			errhandler(ctx, w, err)
		}
	})
}

func decodeSetBlurRequest(decoder func(*http.Request) goahttp.Decoder) func(*http.Request) (any, error) {
	return func(r *http.Request) (any, error) {
		var body struct {
			Enabled *bool `json:"enabled"`
		}
		if err := decoder(r).Decode(&body); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, goa.MissingPayloadError()
			}
			return nil, goa.DecodePayloadError(err.Error())
		}
		if body.Enabled == nil {
			return nil, goa.MissingFieldError("enabled", "body")
		}
		return &SetBlurPayload{Enabled: *body.Enabled}, nil
	}
}

// encodeError maps service errors to status codes: not_ready is 503, other
// non-fault service errors are bad requests and anything else is a 500
func encodeError(
	ctx context.Context,
	w http.ResponseWriter,
	err error,
	encoder func(context.Context, http.ResponseWriter) goahttp.Encoder,
	errhandler func(context.Context, http.ResponseWriter, error),
) {
	code := http.StatusInternalServerError
	body := ErrorBody{Name: "fault", Message: err.Error()}

	var serr *goa.ServiceError
	if errors.As(err, &serr) {
		body = ErrorBody{Name: serr.Name, ID: serr.ID, Message: serr.Message}
		switch {
		case serr.Name == "not_ready":
			code = http.StatusServiceUnavailable
		case !serr.Fault:
			code = http.StatusBadRequest
		}
	}

	enc := encoder(ctx, w)
	w.WriteHeader(code)
	if err := enc.Encode(body); err != nil {
		errhandler(ctx, w, err)
	}
}
