package engine

import (
	"math"

	"golang.org/x/image/math/f64"

	"github.com/cubist/cubist/backend-go/internal/document"
)

// Matrix2D represents a 2D affine transformation matrix.
// Layout: [a, b, c, d, e, f] representing:
// | a  c  e |
// | b  d  f |
// | 0  0  1 |
type Matrix2D [6]float64

func Identity() Matrix2D {
	return Matrix2D{1, 0, 0, 1, 0, 0}
}

func Translate(tx, ty float64) Matrix2D {
	return Matrix2D{1, 0, 0, 1, tx, ty}
}

func Scale(sx, sy float64) Matrix2D {
	return Matrix2D{sx, 0, 0, sy, 0, 0}
}

// RotateDegrees returns a rotation matrix. Positive angles turn clockwise
// in page space, where y grows downward.
func RotateDegrees(degrees float64) Matrix2D {
	sin, cos := math.Sincos(degrees * math.Pi / 180)
	return Matrix2D{cos, sin, -sin, cos, 0, 0}
}

// Multiply returns m * other, which applies other first.
func (m Matrix2D) Multiply(other Matrix2D) Matrix2D {
	return Matrix2D{
		m[0]*other[0] + m[2]*other[1],
		m[1]*other[0] + m[3]*other[1],
		m[0]*other[2] + m[2]*other[3],
		m[1]*other[2] + m[3]*other[3],
		m[0]*other[4] + m[2]*other[5] + m[4],
		m[1]*other[4] + m[3]*other[5] + m[5],
	}
}

func (m Matrix2D) TransformPoint(p Point) Point {
	return Point{X: m[0]*p.X + m[2]*p.Y + m[4], Y: m[1]*p.X + m[3]*p.Y + m[5]}
}

// TransformRect transforms a rectangle and returns its axis-aligned bounding box.
func (m Matrix2D) TransformRect(r Rect) Rect {
	corners := [4]Point{
		m.TransformPoint(Point{r.X, r.Y}),
		m.TransformPoint(Point{r.X + r.Width, r.Y}),
		m.TransformPoint(Point{r.X + r.Width, r.Y + r.Height}),
		m.TransformPoint(Point{r.X, r.Y + r.Height}),
	}
	minX, minY := corners[0].X, corners[0].Y
	maxX, maxY := minX, minY
	for _, c := range corners[1:] {
		minX, maxX = min(minX, c.X), max(maxX, c.X)
		minY, maxY = min(minY, c.Y), max(maxY, c.Y)
	}
	return Rect{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}

// Invert returns the inverse of the matrix, or Identity if not invertible.
func (m Matrix2D) Invert() Matrix2D {
	det := m[0]*m[3] - m[1]*m[2]
	if det == 0 {
		return Identity()
	}
	inv := 1.0 / det
	return Matrix2D{
		m[3] * inv,
		-m[1] * inv,
		-m[2] * inv,
		m[0] * inv,
		(m[2]*m[5] - m[3]*m[4]) * inv,
		(m[1]*m[4] - m[0]*m[5]) * inv,
	}
}

// Aff3 converts to the row-major layout used by x/image/draw.
func (m Matrix2D) Aff3() f64.Aff3 {
	return f64.Aff3{m[0], m[2], m[4], m[1], m[3], m[5]}
}

func (m Matrix2D) ToSlice() []float64 {
	return []float64{m[0], m[1], m[2], m[3], m[4], m[5]}
}

// BoxMatrix maps the element's local frame (0,0)-(width,height) to the
// page, rotating about the element center.
func BoxMatrix(e document.Element) Matrix2D {
	return Translate(e.X+e.Width/2, e.Y+e.Height/2).
		Multiply(RotateDegrees(e.Rotation)).
		Multiply(Translate(-e.Width/2, -e.Height/2))
}

// ElementMatrix maps a source bitmap of srcW x srcH onto the element's
// rotated box.
func ElementMatrix(e document.Element, srcW, srcH float64) Matrix2D {
	if srcW <= 0 || srcH <= 0 {
		return BoxMatrix(e)
	}
	return BoxMatrix(e).Multiply(Scale(e.Width/srcW, e.Height/srcH))
}

// ElementBounds returns the axis-aligned bounds of the element's rotated box.
func ElementBounds(e document.Element) Rect {
	return BoxMatrix(e).TransformRect(Rect{Width: e.Width, Height: e.Height})
}
