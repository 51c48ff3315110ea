package raster

import (
	"image"
	"image/color"
	"math"

	"github.com/gogpu/gg"
	"golang.org/x/image/draw"
)

type State int

const (
	StateIdle State = iota
	StateStroke
	StateLinePending
)

func (s State) String() string {
	switch s {
	case StateStroke:
		return "stroke"
	case StateLinePending:
		return "line-pending"
	default:
		return "idle"
	}
}

// Tool is the active brush configuration.
type Tool struct {
	Color    color.NRGBA
	Width    float64
	Erase    bool
	LineMode bool
}

const previewAlpha = 0.7

// Surface is the page-sized ink buffer plus the brush, eraser and line tools
// that mark it. It is not safe for concurrent use.
type Surface struct {
	buf *image.NRGBA

	// ink rasterizes stroke coverage in white; it is zeroed after every segment.
	ink     *gg.Context
	preview *gg.Context

	tool  Tool
	state State

	lastX, lastY   float64
	startX, startY float64
}

// New creates a transparent surface of the given size.
func New(width, height int) *Surface {
	return &Surface{
		buf:     image.NewNRGBA(image.Rect(0, 0, width, height)),
		ink:     gg.NewContext(width, height),
		preview: gg.NewContext(width, height),
		tool:    Tool{Color: color.NRGBA{A: 255}, Width: 5},
	}
}

func (s *Surface) Bounds() image.Rectangle { return s.buf.Bounds() }

func (s *Surface) State() State { return s.state }

func (s *Surface) Tool() Tool { return s.tool }

// SetTool changes the brush. Leaving line mode drops a pending line.
func (s *Surface) SetTool(t Tool) {
	if t.Width <= 0 {
		t.Width = 1
	}
	if s.tool.LineMode && !t.LineMode && s.state == StateLinePending {
		s.cancelLine()
	}
	s.tool = t
}

// PointerDown starts a freehand stroke, or handles a line-mode tap. It
// reports true when the tap completed a line and the buffer changed.
func (s *Surface) PointerDown(x, y float64) bool {
	if s.tool.LineMode {
		if s.state == StateLinePending {
			s.segment(s.startX, s.startY, x, y)
			s.cancelLine()
			return true
		}
		s.state = StateLinePending
		s.startX, s.startY = x, y
		s.drawPreview(x, y)
		return false
	}

	s.state = StateStroke
	s.lastX, s.lastY = x, y
	s.segment(x, y, x, y)
	return false
}

// PointerMove extends the active stroke or updates the line preview.
func (s *Surface) PointerMove(x, y float64) {
	switch s.state {
	case StateStroke:
		s.segment(s.lastX, s.lastY, x, y)
		s.lastX, s.lastY = x, y
	case StateLinePending:
		s.drawPreview(x, y)
	}
}

// PointerUp ends a freehand stroke and reports whether one was active.
// Line mode ignores pointer-up; the second tap completes the line.
func (s *Surface) PointerUp() bool {
	if s.state != StateStroke {
		return false
	}
	s.state = StateIdle
	return true
}

// Reset returns the surface to idle. A stroke in progress is ended and
// reported so the caller can record it.
func (s *Surface) Reset() bool {
	stroked := s.state == StateStroke
	if s.state == StateLinePending {
		s.cancelLine()
	}
	s.state = StateIdle
	return stroked
}

// Clear makes every pixel transparent.
func (s *Surface) Clear() {
	clear(s.buf.Pix)
}

// Empty reports whether every pixel is transparent.
func (s *Surface) Empty() bool {
	for i := 3; i < len(s.buf.Pix); i += 4 {
		if s.buf.Pix[i] != 0 {
			return false
		}
	}
	return true
}

// Load replaces the buffer content with img, anchored at the origin.
func (s *Surface) Load(img image.Image) {
	s.Clear()
	draw.Draw(s.buf, s.buf.Bounds(), img, img.Bounds().Min, draw.Src)
}

// Encode serializes the current buffer.
func (s *Surface) Encode() ([]byte, error) {
	return Encode(s.buf)
}

// Image returns a copy of the buffer.
func (s *Surface) Image() *image.NRGBA {
	out := image.NewNRGBA(s.buf.Rect)
	copy(out.Pix, s.buf.Pix)
	return out
}

// Preview returns the dashed line overlay, or nil when no line is pending.
func (s *Surface) Preview() image.Image {
	if s.state != StateLinePending {
		return nil
	}
	return s.preview.Image()
}

func (s *Surface) cancelLine() {
	s.preview.Clear()
	s.state = StateIdle
}

func (s *Surface) drawPreview(x, y float64) {
	c := s.tool.Color
	c.A = uint8(float64(c.A) * previewAlpha)

	p := s.preview
	p.Clear()
	p.SetColor(c)
	p.SetLineWidth(s.tool.Width)
	p.SetLineCap(gg.LineCapRound)
	p.SetDash(5, 5)
	p.MoveTo(s.startX, s.startY)
	p.LineTo(x, y)
	_ = p.Stroke()
}

// segment marks the buffer along one straight piece of the stroke. Coverage
// is rasterized by gg with round caps and joins, then composited through an
// alpha mask: paint draws the color over the buffer, erase punches it out.
func (s *Surface) segment(x0, y0, x1, y1 float64) {
	w := s.tool.Width
	pad := int(math.Ceil(w/2)) + 2
	r := image.Rect(
		int(math.Floor(min(x0, x1)))-pad,
		int(math.Floor(min(y0, y1)))-pad,
		int(math.Ceil(max(x0, x1)))+pad,
		int(math.Ceil(max(y0, y1)))+pad,
	).Intersect(s.buf.Bounds())
	if r.Empty() {
		return
	}

	ink := s.ink
	ink.SetColor(color.White)
	ink.SetLineWidth(w)
	ink.SetLineCap(gg.LineCapRound)
	ink.SetLineJoin(gg.LineJoinRound)
	if x0 == x1 && y0 == y1 {
		ink.DrawCircle(x0, y0, w/2)
		_ = ink.Fill()
	} else {
		ink.MoveTo(x0, y0)
		ink.LineTo(x1, y1)
		_ = ink.Stroke()
	}

	mask := s.takeCoverage(r)
	if s.tool.Erase {
		s.punch(r, mask)
		return
	}
	draw.DrawMask(s.buf, r, image.NewUniform(s.tool.Color), image.Point{}, mask, r.Min, draw.Over)
}

// punch applies destination-out: buffer alpha is scaled by the inverse
// coverage. Straight alpha leaves the color channels untouched.
func (s *Surface) punch(r image.Rectangle, mask *image.Alpha) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		mrow := (y - r.Min.Y) * mask.Stride
		for x := r.Min.X; x < r.Max.X; x++ {
			m := uint32(mask.Pix[mrow+x-r.Min.X])
			if m == 0 {
				continue
			}
			i := s.buf.PixOffset(x, y) + 3
			s.buf.Pix[i] = uint8(uint32(s.buf.Pix[i]) * (255 - m) / 255)
		}
	}
}

// takeCoverage copies the ink alpha inside r into a mask and zeroes that
// region of the ink pixmap for the next segment.
func (s *Surface) takeCoverage(r image.Rectangle) *image.Alpha {
	pm := s.ink.ResizeTarget()
	data := pm.Data()
	stride := pm.Width() * 4
	mask := image.NewAlpha(r)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		row := y * stride
		mrow := (y - r.Min.Y) * mask.Stride
		for x := r.Min.X; x < r.Max.X; x++ {
			i := row + x*4
			mask.Pix[mrow+x-r.Min.X] = data[i+3]
			data[i], data[i+1], data[i+2], data[i+3] = 0, 0, 0, 0
		}
	}
	pm.NotifyPixelsChanged()
	return mask
}
