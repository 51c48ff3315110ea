package engine

import (
	"fmt"
	"math"

	"github.com/cubist/cubist/backend-go/internal/document"
	"github.com/cubist/cubist/backend-go/internal/typeid"
)

// AssetLocator resolves a catalog entry to an image source.
type AssetLocator interface {
	Locate(t document.ElementType, index int) (string, error)
}

type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

type Handle int

const (
	HandleNone Handle = iota
	HandleBody
	HandleResize
	HandleRotate
)

func (h Handle) String() string {
	switch h {
	case HandleBody:
		return "body"
	case HandleResize:
		return "resize"
	case HandleRotate:
		return "rotate"
	default:
		return "none"
	}
}

const (
	HandleRadius = 12

	defaultElementSize   = 80
	uploadElementSize    = 200
	signatureWidth       = 150
	signatureHeight      = 40
	signatureRightInset  = 200
	signatureBottomInset = 80
)

// Handle centers in the element's local frame.
func resizeHandleCenter(e document.Element) Point { return Point{X: e.Width - 8, Y: e.Height - 8} }
func rotateHandleCenter(e document.Element) Point { return Point{X: e.Width - 4, Y: 4} }

// Patch carries the fields of an element to change. Nil fields are left alone.
type Patch struct {
	X        *float64 `json:"x,omitempty"`
	Y        *float64 `json:"y,omitempty"`
	Width    *float64 `json:"width,omitempty"`
	Height   *float64 `json:"height,omitempty"`
	Rotation *float64 `json:"rotation,omitempty"`
	Visible  *bool    `json:"visible,omitempty"`
	Src      *string  `json:"src,omitempty"`
	Text     *string  `json:"text,omitempty"`
}

// Scene is the ordered element list, back to front, plus the single selection.
type Scene struct {
	page     document.Page
	locator  AssetLocator
	elements []document.Element
	selected string
	newID    func() string
}

func NewScene(page document.Page, locator AssetLocator) *Scene {
	return &Scene{
		page:    page,
		locator: locator,
		newID:   typeid.NewElementID,
	}
}

func (s *Scene) Page() document.Page { return s.page }

// Elements returns a copy of the element list, back to front.
func (s *Scene) Elements() []document.Element {
	return document.CloneElements(s.elements)
}

func (s *Scene) Len() int { return len(s.elements) }

func (s *Scene) Element(id string) (document.Element, bool) {
	i := s.indexOf(id)
	if i < 0 {
		return document.Element{}, false
	}
	return s.elements[i], true
}

// Selected returns the id of the selected element, or "" when none is.
func (s *Scene) Selected() string { return s.selected }

// AddElement places a catalog asset. Background types fill the page; others
// get a small box centered on it.
func (s *Scene) AddElement(t document.ElementType, index int) (document.Element, error) {
	if s.locator == nil {
		return document.Element{}, fmt.Errorf("add %s %d: no asset locator", t, index)
	}
	src, err := s.locator.Locate(t, index)
	if err != nil {
		return document.Element{}, fmt.Errorf("add %s %d: %w", t, index, err)
	}

	w, h := float64(s.page.Width), float64(s.page.Height)
	e := document.Element{Type: t, Index: index, Src: src}
	if t.IsBackground() {
		e.Width, e.Height = w, h
	} else {
		e.X, e.Y = w/2-defaultElementSize/2, h/2-defaultElementSize/2
		e.Width, e.Height = defaultElementSize, defaultElementSize
	}
	return s.insert(e), nil
}

// AddUpload places an uploaded image centered on the page.
func (s *Scene) AddUpload(src string) document.Element {
	w, h := float64(s.page.Width), float64(s.page.Height)
	return s.insert(document.Element{
		Type:   document.ElementTypeUploaded,
		Src:    src,
		X:      w/2 - uploadElementSize/2,
		Y:      h/2 - uploadElementSize/2,
		Width:  uploadElementSize,
		Height: uploadElementSize,
	})
}

// AddSignature places a text signature near the bottom-right corner.
func (s *Scene) AddSignature(text string) document.Element {
	w, h := float64(s.page.Width), float64(s.page.Height)
	return s.insert(document.Element{
		Type:   document.ElementTypeSignature,
		Text:   text,
		X:      math.Max(0, w-signatureRightInset),
		Y:      math.Max(0, h-signatureBottomInset),
		Width:  signatureWidth,
		Height: signatureHeight,
	})
}

func (s *Scene) insert(e document.Element) document.Element {
	e.ID = s.newID()
	e.Visible = true
	s.elements = append(s.elements, e)
	s.selected = e.ID
	return e
}

// UpdateElement applies a patch and reports whether the element changed.
// Sizes are floored at MinElementSize.
func (s *Scene) UpdateElement(id string, p Patch) bool {
	i := s.indexOf(id)
	if i < 0 {
		return false
	}
	before := s.elements[i]
	e := before
	if p.X != nil {
		e.X = *p.X
	}
	if p.Y != nil {
		e.Y = *p.Y
	}
	if p.Width != nil {
		e.Width = math.Max(MinElementSize, *p.Width)
	}
	if p.Height != nil {
		e.Height = math.Max(MinElementSize, *p.Height)
	}
	if p.Rotation != nil {
		e.Rotation = *p.Rotation
	}
	if p.Visible != nil {
		e.Visible = *p.Visible
	}
	if p.Src != nil {
		e.Src = *p.Src
	}
	if p.Text != nil {
		e.Text = *p.Text
	}
	if e == before {
		return false
	}
	s.elements[i] = e
	return true
}

// DeleteElement removes the element and drops it from the selection.
// Absent ids are ignored.
func (s *Scene) DeleteElement(id string) bool {
	i := s.indexOf(id)
	if i < 0 {
		return false
	}
	s.elements = append(s.elements[:i], s.elements[i+1:]...)
	if s.selected == id {
		s.selected = ""
	}
	return true
}

// DeleteSelected removes the selected element, if any.
func (s *Scene) DeleteSelected() bool {
	if s.selected == "" {
		return false
	}
	return s.DeleteElement(s.selected)
}

func (s *Scene) ToggleVisibility(id string) bool {
	i := s.indexOf(id)
	if i < 0 {
		return false
	}
	s.elements[i].Visible = !s.elements[i].Visible
	return true
}

// Reorder swaps the element with its neighbor. Up moves it toward the front.
// It is a no-op at either end of the order.
func (s *Scene) Reorder(id string, dir Direction) bool {
	i := s.indexOf(id)
	if i < 0 {
		return false
	}
	j := i + 1
	if dir == DirectionDown {
		j = i - 1
	}
	if j < 0 || j >= len(s.elements) {
		return false
	}
	s.elements[i], s.elements[j] = s.elements[j], s.elements[i]
	return true
}

// Select makes id the only selected element and reports whether it exists.
func (s *Scene) Select(id string) bool {
	if s.indexOf(id) < 0 {
		return false
	}
	s.selected = id
	return true
}

func (s *Scene) ClearSelection() {
	s.selected = ""
}

// Replace swaps in a new element list. The selection survives only if its
// element is still present.
func (s *Scene) Replace(elements []document.Element) {
	s.elements = document.CloneElements(elements)
	if s.selected != "" && s.indexOf(s.selected) < 0 {
		s.selected = ""
	}
}

// HitTest returns the id of the frontmost visible element under p.
func (s *Scene) HitTest(p Point) string {
	for i := len(s.elements) - 1; i >= 0; i-- {
		e := s.elements[i]
		if e.Visible && ContainsRotated(e, p) {
			return e.ID
		}
	}
	return ""
}

// HandleAt resolves what a pointer-down at p grabs: a handle of the selected
// element first, then the frontmost element body.
func (s *Scene) HandleAt(p Point) (string, Handle) {
	if e, ok := s.Element(s.selected); ok && e.Visible {
		l := LocalPoint(e, p)
		if withinRadius(l, rotateHandleCenter(e)) {
			return e.ID, HandleRotate
		}
		if withinRadius(l, resizeHandleCenter(e)) {
			return e.ID, HandleResize
		}
	}
	if id := s.HitTest(p); id != "" {
		return id, HandleBody
	}
	return "", HandleNone
}

func (s *Scene) indexOf(id string) int {
	if id == "" {
		return -1
	}
	for i := range s.elements {
		if s.elements[i].ID == id {
			return i
		}
	}
	return -1
}

func withinRadius(p, c Point) bool {
	dx, dy := p.X-c.X, p.Y-c.Y
	return dx*dx+dy*dy <= HandleRadius*HandleRadius
}
