package engine

import "strings"

// PointerEvent is a pointer or touch sample in page coordinates.
type PointerEvent struct {
	PointerID int     `json:"pointerId"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
}

func (ev PointerEvent) Point() Point { return Point{X: ev.X, Y: ev.Y} }

// KeyEvent is a keydown forwarded by the host.
type KeyEvent struct {
	Key   string `json:"key"`
	Ctrl  bool   `json:"ctrlKey"`
	Meta  bool   `json:"metaKey"`
	Shift bool   `json:"shiftKey"`
	// Typing is set when focus is in a text field; shortcuts are ignored then.
	Typing bool `json:"typing"`
}

type Shortcut int

const (
	ShortcutNone Shortcut = iota
	ShortcutUndo
	ShortcutRedo
	ShortcutDelete
)

// ResolveShortcut maps a keydown to an editor command.
func ResolveShortcut(k KeyEvent) Shortcut {
	if k.Typing {
		return ShortcutNone
	}
	key := strings.ToLower(k.Key)
	if k.Ctrl || k.Meta {
		switch {
		case key == "z" && !k.Shift:
			return ShortcutUndo
		case key == "y", key == "z" && k.Shift:
			return ShortcutRedo
		}
	}
	if k.Key == "Delete" || k.Key == "Backspace" {
		return ShortcutDelete
	}
	return ShortcutNone
}

// Viewport is where the page is drawn on the host screen, in client pixels.
type Viewport struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ClientToPage maps client coordinates to page coordinates, undoing any
// CSS scaling of the page.
func ClientToPage(vp Viewport, page Size, clientX, clientY float64) Point {
	sx, sy := 1.0, 1.0
	if vp.Width > 0 {
		sx = page.Width / vp.Width
	}
	if vp.Height > 0 {
		sy = page.Height / vp.Height
	}
	return Point{X: (clientX - vp.Left) * sx, Y: (clientY - vp.Top) * sy}
}

// Touch is one entry of a touch list.
type Touch struct {
	Identifier int     `json:"identifier"`
	ClientX    float64 `json:"clientX"`
	ClientY    float64 `json:"clientY"`
}

// FirstTouch picks the sample a touch event contributes: the first active
// touch, or the first changed touch for touchend where none remain active.
func FirstTouch(touches, changed []Touch) (Touch, bool) {
	if len(touches) > 0 {
		return touches[0], true
	}
	if len(changed) > 0 {
		return changed[0], true
	}
	return Touch{}, false
}
