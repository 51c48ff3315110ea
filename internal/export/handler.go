package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cubist/cubist/backend-go/internal/document"
	"github.com/cubist/cubist/backend-go/internal/typeid"
)

// ErrExportFailed is the one failure reported to users when no image could
// be produced.
var ErrExportFailed = errors.New("export failed")

type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"

	DefaultQuality = 90
)

func ParseFormat(s string) (Format, error) {
	switch s {
	case "jpeg", "jpg":
		return FormatJPEG, nil
	case "png":
		return FormatPNG, nil
	}
	return "", fmt.Errorf("invalid format %q: must be jpeg or png", s)
}

func (f Format) ContentType() string {
	if f == FormatPNG {
		return "image/png"
	}
	return "image/jpeg"
}

func (f Format) Ext() string {
	if f == FormatPNG {
		return ".png"
	}
	return ".jpg"
}

// Encode writes img in format f. quality applies to JPEG only.
func Encode(w io.Writer, img image.Image, f Format, quality int) error {
	switch f {
	case FormatPNG:
		return png.Encode(w, img)
	case FormatJPEG:
		if quality < 1 || quality > 100 {
			quality = DefaultQuality
		}
		return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
	}
	return fmt.Errorf("encode: unknown format %q", f)
}

// Filename names an export taken at t.
func Filename(f Format, t time.Time) string {
	return "cubist-art-" + strconv.FormatInt(t.UnixMilli(), 10) + f.Ext()
}

// Result is a finished export handed to a Sink.
type Result struct {
	ID          string
	Filename    string
	ContentType string
	Data        []byte
}

// Sink receives finished exports. Saving is the sink's concern.
type Sink interface {
	Save(ctx context.Context, r Result) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, r Result) error

func (f SinkFunc) Save(ctx context.Context, r Result) error { return f(ctx, r) }

// Source is the live editor state an export reads. Capture returns the
// elements and ink as one consistent view; ink is nil when there is none.
type Source interface {
	Capture(ctx context.Context) ([]document.Element, *image.NRGBA, error)
}

type Exporter struct {
	compositor *Compositor
	format     Format
	quality    int
	now        func() time.Time
}

func NewExporter(c *Compositor, f Format, quality int) *Exporter {
	return &Exporter{compositor: c, format: f, quality: quality, now: time.Now}
}

// WithFormat returns a copy of x that encodes as f.
func (x *Exporter) WithFormat(f Format, quality int) *Exporter {
	cp := *x
	cp.format = f
	cp.quality = quality
	return &cp
}

// Export flattens src and encodes it. Any error matches ErrExportFailed.
func (x *Exporter) Export(ctx context.Context, src Source) (Result, error) {
	elements, ink, err := src.Capture(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("%w: capture: %w", ErrExportFailed, err)
	}

	var inkImg image.Image
	if ink != nil {
		inkImg = ink
	} else {
		slog.Warn("export without ink layer")
	}
	img, err := x.compositor.Compose(ctx, elements, inkImg)
	if err != nil {
		return Result{}, fmt.Errorf("%w: compose: %w", ErrExportFailed, err)
	}

	var buf bytes.Buffer
	if err := Encode(&buf, img, x.format, x.quality); err != nil {
		return Result{}, fmt.Errorf("%w: encode %s: %w", ErrExportFailed, x.format, err)
	}

	r := Result{
		ID:          typeid.NewExportID(),
		Filename:    Filename(x.format, x.now()),
		ContentType: x.format.ContentType(),
		Data:        buf.Bytes(),
	}
	slog.Info("export complete", "export", r.ID, "elements", len(elements), "bytes", len(r.Data))
	return r, nil
}

// ExportTo exports src and hands the result to sink.
func (x *Exporter) ExportTo(ctx context.Context, src Source, sink Sink) (Result, error) {
	r, err := x.Export(ctx, src)
	if err != nil {
		return Result{}, err
	}
	if err := sink.Save(ctx, r); err != nil {
		return Result{}, fmt.Errorf("%w: save %s: %w", ErrExportFailed, r.Filename, err)
	}
	return r, nil
}

// ResponseSink streams an export as a download.
type ResponseSink struct {
	W http.ResponseWriter
}

func (s ResponseSink) Save(_ context.Context, r Result) error {
	s.W.Header().Set("Content-Type", r.ContentType)
	s.W.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, r.Filename))
	s.W.Header().Set("Content-Length", strconv.Itoa(len(r.Data)))
	s.W.Header().Set("X-Export-Id", r.ID)
	_, err := s.W.Write(r.Data)
	return err
}

// Serve writes an export of src to w. The format query parameter
// overrides the configured format.
func (x *Exporter) Serve(w http.ResponseWriter, r *http.Request, src Source) {
	ex := x
	if f := r.URL.Query().Get("format"); f != "" {
		format, err := ParseFormat(f)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		ex = x.WithFormat(format, x.quality)
	}

	if _, err := ex.ExportTo(r.Context(), src, ResponseSink{W: w}); err != nil {
		slog.Error("export image", "error", err)
		http.Error(w, ErrExportFailed.Error(), http.StatusInternalServerError)
	}
}
