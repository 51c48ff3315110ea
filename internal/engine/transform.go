package engine

import "github.com/cubist/cubist/backend-go/internal/document"

type GestureState int

const (
	GestureIdle GestureState = iota
	GestureDragging
	GestureResizing
	GestureRotating
)

func (g GestureState) String() string {
	switch g {
	case GestureDragging:
		return "dragging"
	case GestureResizing:
		return "resizing"
	case GestureRotating:
		return "rotating"
	default:
		return "idle"
	}
}

// Controller tracks one drag, resize or rotate gesture on a single element.
// It computes patches from the pointer stream and never touches the scene.
type Controller struct {
	bounds Size

	state     GestureState
	elementID string
	pointerID int

	start      Point
	startElem  document.Element
	startAngle float64
}

func NewController(bounds Size) *Controller {
	return &Controller{bounds: bounds}
}

func (c *Controller) State() GestureState { return c.state }

func (c *Controller) Active() bool { return c.state != GestureIdle }

// ElementID returns the element under gesture, or "" when idle.
func (c *Controller) ElementID() string { return c.elementID }

// Begin starts a gesture on e. It returns false, leaving the running gesture
// alone, when another pointer already owns one or h grabs nothing.
func (c *Controller) Begin(e document.Element, h Handle, pointerID int, p Point) bool {
	if c.Active() {
		return false
	}
	switch h {
	case HandleBody:
		c.state = GestureDragging
	case HandleResize:
		c.state = GestureResizing
	case HandleRotate:
		c.state = GestureRotating
		c.startAngle = AngleBetween(ElementRect(e).Center(), p)
	default:
		return false
	}
	c.elementID = e.ID
	c.pointerID = pointerID
	c.start = p
	c.startElem = e
	return true
}

// Move returns the patch for the pointer at p. Moves from other pointers
// yield no patch.
func (c *Controller) Move(pointerID int, p Point) (Patch, bool) {
	if !c.Active() || pointerID != c.pointerID {
		return Patch{}, false
	}
	delta := p.Sub(c.start)
	e := c.startElem

	switch c.state {
	case GestureDragging:
		pos := ClampDrag(Point{X: e.X, Y: e.Y}, delta, Size{Width: e.Width, Height: e.Height}, c.bounds)
		return Patch{X: &pos.X, Y: &pos.Y}, true
	case GestureResizing:
		size := ClampResize(Size{Width: e.Width, Height: e.Height}, delta)
		return Patch{Width: &size.Width, Height: &size.Height}, true
	case GestureRotating:
		rot := e.Rotation + AngleBetween(ElementRect(e).Center(), p) - c.startAngle
		return Patch{Rotation: &rot}, true
	}
	return Patch{}, false
}

// End finishes the gesture owned by pointerID and returns the element it
// moved. ok is false when that pointer had no gesture.
func (c *Controller) End(pointerID int) (elementID string, ok bool) {
	if !c.Active() || pointerID != c.pointerID {
		return "", false
	}
	elementID = c.elementID
	c.Reset()
	return elementID, true
}

// Reset drops any gesture without reporting it.
func (c *Controller) Reset() {
	c.state = GestureIdle
	c.elementID = ""
	c.pointerID = 0
	c.startElem = document.Element{}
}
