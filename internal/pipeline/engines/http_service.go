package engines

import (
	"io"
	"net/http"
)

// maxFrameBytes bounds an uploaded frame
const maxFrameBytes = 16 << 20

// NewModelHTTPHandler serves model over the protocol HTTPEngine speaks:
// GET /health and POST /segment with a multipart "file" part
func NewModelHTTPHandler(model ThresholdModel) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /segment", func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxFrameBytes)
		f, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer f.Close()

		data, err := io.ReadAll(f)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		img, err := decodeImage(data)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		out, err := encodePNG(model.Mask(img))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(out)
	})
	return mux
}
