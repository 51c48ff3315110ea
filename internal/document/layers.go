package document

import (
	"fmt"
	"strings"
)

// Layer is one row of the layers panel.
type Layer struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Visible  bool   `json:"visible"`
	Selected bool   `json:"selected"`
}

// LayerName returns the display name for an element.
func LayerName(e Element) string {
	switch e.Type {
	case ElementTypeSignature:
		text := e.Text
		if len(text) > 15 {
			text = text[:15]
		}
		return "Signature: " + text + "..."
	case ElementTypeUploaded:
		return "Uploaded Image"
	}
	name := string(e.Type)
	if name == "" {
		return fmt.Sprintf("Element %d", e.Index)
	}
	return fmt.Sprintf("%s%s %d", strings.ToUpper(name[:1]), name[1:], e.Index)
}

// Layers lists elements frontmost first.
func Layers(elements []Element, selectedID string) []Layer {
	layers := make([]Layer, 0, len(elements))
	for i := len(elements) - 1; i >= 0; i-- {
		e := elements[i]
		layers = append(layers, Layer{
			ID:       e.ID,
			Name:     LayerName(e),
			Visible:  e.Visible,
			Selected: e.ID == selectedID,
		})
	}
	return layers
}
