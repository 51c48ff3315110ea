package engine

import (
	"encoding/json"

	"github.com/cubist/cubist/backend-go/internal/document"
)

// DrawCommand represents a single drawing operation for the host to execute.
// The host receives a list of these and executes them on a Canvas2D context.
type DrawCommand struct {
	Op        string    `json:"op"`                  // "image", "text", "outline", "handle", "raster", "preview"
	ElementID string    `json:"elementId,omitempty"` // For hit correlation
	Transform []float64 `json:"transform,omitempty"` // [a, b, c, d, e, f] element box to page
	Width     float64   `json:"width,omitempty"`
	Height    float64   `json:"height,omitempty"`
	Src       string    `json:"src,omitempty"`
	Text      string    `json:"text,omitempty"`
	Handle    string    `json:"handle,omitempty"`
	X         float64   `json:"x,omitempty"`
	Y         float64   `json:"y,omitempty"`
	Radius    float64   `json:"radius,omitempty"`
}

// CompileDrawCommands generates the command list for a scene in painter's
// order: visible elements back to front, the ink layer, the line preview,
// then the selection outline and its handles.
func CompileDrawCommands(elements []document.Element, selectedID string, linePending bool) []DrawCommand {
	commands := make([]DrawCommand, 0, len(elements)+4)
	var selected *document.Element

	for i := range elements {
		e := elements[i]
		if e.ID == selectedID {
			selected = &elements[i]
		}
		if !e.Visible {
			continue
		}
		cmd := DrawCommand{
			ElementID: e.ID,
			Transform: BoxMatrix(e).ToSlice(),
			Width:     e.Width,
			Height:    e.Height,
		}
		if e.Type.Kind() == document.KindTextSignature {
			cmd.Op = "text"
			cmd.Text = e.SignatureText()
		} else {
			cmd.Op = "image"
			cmd.Src = e.Src
		}
		commands = append(commands, cmd)
	}

	commands = append(commands, DrawCommand{Op: "raster"})
	if linePending {
		commands = append(commands, DrawCommand{Op: "preview"})
	}

	if selected != nil && selected.Visible {
		e := *selected
		m := BoxMatrix(e).ToSlice()
		rc := resizeHandleCenter(e)
		tc := rotateHandleCenter(e)
		commands = append(commands,
			DrawCommand{Op: "outline", ElementID: e.ID, Transform: m, Width: e.Width, Height: e.Height},
			DrawCommand{Op: "handle", ElementID: e.ID, Transform: m, Handle: HandleResize.String(), X: rc.X, Y: rc.Y, Radius: HandleRadius},
			DrawCommand{Op: "handle", ElementID: e.ID, Transform: m, Handle: HandleRotate.String(), X: tc.X, Y: tc.Y, Radius: HandleRadius},
		)
	}
	return commands
}

// DrawCommandsToJSON serializes draw commands to JSON.
func DrawCommandsToJSON(commands []DrawCommand) (string, error) {
	data, err := json.Marshal(commands)
	if err != nil {
		return "[]", err
	}
	return string(data), nil
}
