package engine

import (
	"math"

	"github.com/cubist/cubist/backend-go/internal/document"
)

// MinElementSize is the smallest width or height a resize can produce.
const MinElementSize = 20

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p Point) Sub(q Point) Point { return Point{X: p.X - q.X, Y: p.Y - q.Y} }

type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Rect represents an axis-aligned bounding box.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Contains checks if a point is inside the rect.
func (r Rect) Contains(x, y float64) bool {
	return x >= r.X && x <= r.X+r.Width && y >= r.Y && y <= r.Y+r.Height
}

// IsEmpty checks if the rect has zero or negative area.
func (r Rect) IsEmpty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Union returns the smallest rect containing both rects.
func (r Rect) Union(other Rect) Rect {
	if r.IsEmpty() {
		return other
	}
	if other.IsEmpty() {
		return r
	}

	minX := min(r.X, other.X)
	minY := min(r.Y, other.Y)
	maxX := max(r.X+r.Width, other.X+other.Width)
	maxY := max(r.Y+r.Height, other.Y+other.Height)

	return Rect{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}

// Center returns the center point of the rect.
func (r Rect) Center() Point {
	return Point{X: r.X + r.Width/2, Y: r.Y + r.Height/2}
}

// ElementRect returns the unrotated box of an element.
func ElementRect(e document.Element) Rect {
	return Rect{X: e.X, Y: e.Y, Width: e.Width, Height: e.Height}
}

// PageSize converts page dimensions to a Size.
func PageSize(p document.Page) Size {
	return Size{Width: float64(p.Width), Height: float64(p.Height)}
}

// AngleBetween returns the angle in degrees of the vector from center to
// point, in (-180, 180].
func AngleBetween(center, point Point) float64 {
	deg := math.Atan2(point.Y-center.Y, point.X-center.X) * 180 / math.Pi
	if deg <= -180 {
		deg += 360
	}
	return deg
}

// ClampDrag moves origin by delta and clamps the result so a box of the given
// size stays inside bounds. A box larger than bounds is pinned to 0.
func ClampDrag(origin, delta Point, size, bounds Size) Point {
	return Point{
		X: clamp(origin.X+delta.X, 0, max(0, bounds.Width-size.Width)),
		Y: clamp(origin.Y+delta.Y, 0, max(0, bounds.Height-size.Height)),
	}
}

// ClampResize grows start by delta, floored at MinElementSize on each axis.
func ClampResize(start Size, delta Point) Size {
	return Size{
		Width:  max(MinElementSize, start.Width+delta.X),
		Height: max(MinElementSize, start.Height+delta.Y),
	}
}

// LocalPoint maps a page point into the element's unrotated frame, where
// (0,0) is the top-left corner and (width,height) the bottom-right.
func LocalPoint(e document.Element, p Point) Point {
	c := ElementRect(e).Center()
	rad := -e.Rotation * math.Pi / 180
	sin, cos := math.Sincos(rad)
	dx, dy := p.X-c.X, p.Y-c.Y
	return Point{
		X: dx*cos - dy*sin + e.Width/2,
		Y: dx*sin + dy*cos + e.Height/2,
	}
}

// ContainsRotated reports whether p lies on the element's rotated box.
func ContainsRotated(e document.Element, p Point) bool {
	l := LocalPoint(e, p)
	return l.X >= 0 && l.X <= e.Width && l.Y >= 0 && l.Y <= e.Height
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
