package asset

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/cubist/cubist/backend-go/internal/document"
	"github.com/cubist/cubist/backend-go/internal/typeid"
)

const maxUploadSize = 10 << 20 // 10MB

var ErrUnsupportedType = errors.New("only PNG, JPEG and WebP images are supported")

// Upload is a decoded user image ready to be placed as an element source.
type Upload struct {
	ID     string `json:"id"`
	Src    string `json:"src"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Name   string `json:"name,omitempty"`
}

// ReadUpload decodes an uploaded image and re-encodes it as a PNG data URL.
func ReadUpload(r io.Reader, contentType string) (Upload, error) {
	if !supportedType(contentType) {
		return Upload{}, ErrUnsupportedType
	}

	data, err := io.ReadAll(io.LimitReader(r, maxUploadSize+1))
	if err != nil {
		return Upload{}, fmt.Errorf("read upload: %w", err)
	}
	if len(data) > maxUploadSize {
		return Upload{}, errors.New("file too large (max 10MB)")
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Upload{}, &DecodeError{Source: "upload", Err: err}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return Upload{}, fmt.Errorf("encode png: %w", err)
	}

	b := img.Bounds()
	return Upload{
		ID:     typeid.NewUploadID(),
		Src:    DataURL("image/png", buf.Bytes()),
		Width:  b.Dx(),
		Height: b.Dy(),
	}, nil
}

func supportedType(contentType string) bool {
	for _, t := range []string{"image/png", "image/jpeg", "image/webp"} {
		if strings.HasPrefix(contentType, t) {
			return true
		}
	}
	return false
}

// CatalogEntry describes one element type offered by the palette.
type CatalogEntry struct {
	Type  document.ElementType `json:"type"`
	Count int                  `json:"count"`
	URLs  []string             `json:"urls"`
}

// Handler serves the asset catalog and upload endpoints.
type Handler struct {
	locator *Locator
}

func NewHandler(locator *Locator) *Handler {
	return &Handler{locator: locator}
}

// Catalog handles GET /assets/catalog.
func (h *Handler) Catalog(w http.ResponseWriter, r *http.Request) {
	entries := make([]CatalogEntry, 0, len(document.CatalogTypes))
	for _, t := range document.CatalogTypes {
		entry := CatalogEntry{Type: t, Count: Count(t)}
		for i := 1; i <= entry.Count; i++ {
			u, err := h.locator.Locate(t, i)
			if err != nil {
				slog.Error("locate catalog asset", "type", t, "index", i, "error", err)
				continue
			}
			entry.URLs = append(entry.URLs, u)
		}
		entries = append(entries, entry)
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	json.NewEncoder(w).Encode(entries)
}

// Upload handles POST /assets/upload (multipart form with "file" field).
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize+1<<20)

	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		http.Error(w, "file too large (max 10MB)", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	up, err := ReadUpload(file, header.Header.Get("Content-Type"))
	if err != nil {
		var decodeErr *DecodeError
		switch {
		case errors.Is(err, ErrUnsupportedType):
			http.Error(w, err.Error(), http.StatusUnsupportedMediaType)
		case errors.As(err, &decodeErr):
			http.Error(w, "invalid image: "+decodeErr.Err.Error(), http.StatusBadRequest)
		default:
			slog.Error("read upload", "error", err, "name", header.Filename)
			http.Error(w, "failed to read upload", http.StatusBadRequest)
		}
		return
	}
	up.Name = header.Filename

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(up)
}
