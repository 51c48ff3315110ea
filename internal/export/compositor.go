package export

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"math"

	"github.com/gogpu/gg/text"
	"golang.org/x/image/draw"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/sync/errgroup"

	"github.com/cubist/cubist/backend-go/internal/document"
	"github.com/cubist/cubist/backend-go/internal/engine"
)

const (
	// SignatureFontSize is the pixel size signatures are drawn at.
	SignatureFontSize  = 20
	defaultConcurrency = 4
)

// ImageDecoder loads an element source as a bitmap.
type ImageDecoder interface {
	Decode(ctx context.Context, src string) (image.Image, error)
}

// Compositor flattens elements and the ink layer into one opaque image.
type Compositor struct {
	page        document.Page
	decoder     ImageDecoder
	concurrency int
	font        *text.FontSource
	log         *slog.Logger
}

type Option func(*Compositor)

// WithConcurrency bounds how many element sources decode at once.
func WithConcurrency(n int) Option {
	return func(c *Compositor) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Compositor) { c.log = l }
}

func NewCompositor(page document.Page, decoder ImageDecoder, opts ...Option) (*Compositor, error) {
	font, err := text.NewFontSource(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("load signature font: %w", err)
	}
	c := &Compositor{
		page:        page,
		decoder:     decoder,
		concurrency: defaultConcurrency,
		font:        font,
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Compose draws a white page, the visible elements back to front and the
// ink on top. Sources that fail to decode are logged and left out.
func (c *Compositor) Compose(ctx context.Context, elements []document.Element, ink image.Image) (*image.RGBA, error) {
	bitmaps, err := c.decodeAll(ctx, elements)
	if err != nil {
		return nil, err
	}

	dst := image.NewRGBA(image.Rect(0, 0, c.page.Width, c.page.Height))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)

	face := c.font.Face(SignatureFontSize)
	for i, e := range elements {
		if !e.Visible {
			continue
		}
		if e.Type.Kind() == document.KindTextSignature {
			drawSignature(dst, e, face)
			continue
		}
		src := bitmaps[i]
		if src == nil {
			continue
		}
		b := src.Bounds()
		m := engine.ElementMatrix(e, float64(b.Dx()), float64(b.Dy()))
		// Transform maps source pixel space, so fold in a non-zero origin.
		m = m.Multiply(engine.Translate(-float64(b.Min.X), -float64(b.Min.Y)))
		draw.BiLinear.Transform(dst, m.Aff3(), src, b, draw.Over, nil)
	}

	if ink != nil {
		draw.Draw(dst, dst.Bounds(), ink, ink.Bounds().Min, draw.Over)
	}
	return dst, nil
}

// decodeAll fetches the sources of visible image elements, indexed like
// elements. Only cancellation of ctx fails the whole export.
func (c *Compositor) decodeAll(ctx context.Context, elements []document.Element) ([]image.Image, error) {
	bitmaps := make([]image.Image, len(elements))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, e := range elements {
		if !e.Visible || e.Type.Kind() == document.KindTextSignature || e.Src == "" {
			continue
		}
		g.Go(func() error {
			img, err := c.decoder.Decode(gctx, e.Src)
			if err != nil {
				c.log.Warn("skip element on export", "element", e.ID, "type", e.Type, "error", err)
				return nil
			}
			bitmaps[i] = img
			return nil
		})
	}
	// Decode failures are skipped inside the group, so Wait never fails.
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("decode element sources: %w", err)
	}
	return bitmaps, nil
}

// drawSignature renders the text centered on the element and rotated with it.
func drawSignature(dst draw.Image, e document.Element, face text.Face) {
	s := e.SignatureText()
	tw, _ := text.Measure(s, face)
	m := face.Metrics()

	w := math.Ceil(math.Max(e.Width, tw+2))
	h := math.Ceil(math.Max(e.Height, m.Ascent+m.Descent+2))
	scratch := image.NewNRGBA(image.Rect(0, 0, int(w), int(h)))
	baseline := h/2 + (m.Ascent-m.Descent)/2
	text.Draw(scratch, s, face, (w-tw)/2, baseline, color.Black)

	// Same center and rotation as the element, sized to the scratch image.
	box := e
	box.X = e.X + e.Width/2 - w/2
	box.Y = e.Y + e.Height/2 - h/2
	box.Width, box.Height = w, h
	draw.BiLinear.Transform(dst, engine.BoxMatrix(box).Aff3(), scratch, scratch.Bounds(), draw.Over, nil)
}
