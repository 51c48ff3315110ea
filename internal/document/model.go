package document

type ElementType string

const (
	ElementTypeHead      ElementType = "head"
	ElementTypeEyes      ElementType = "eyes"
	ElementTypeEars      ElementType = "ears"
	ElementTypeNoses     ElementType = "noses"
	ElementTypeMouths    ElementType = "mouths"
	ElementTypeMisc      ElementType = "misc"
	ElementTypeUploaded  ElementType = "uploaded"
	ElementTypeSignature ElementType = "signature"
)

// Kind groups element types by how they are rendered.
type Kind string

const (
	KindImageAsset    Kind = "image-asset"
	KindUploadedImage Kind = "uploaded-image"
	KindTextSignature Kind = "text-signature"
)

// Kind reports the render kind of the type. Unknown types render as image assets.
func (t ElementType) Kind() Kind {
	switch t {
	case ElementTypeUploaded:
		return KindUploadedImage
	case ElementTypeSignature:
		return KindTextSignature
	default:
		return KindImageAsset
	}
}

// IsBackground reports whether elements of this type fill the whole page.
func (t ElementType) IsBackground() bool {
	return t == ElementTypeHead
}

// CatalogTypes lists the types offered by the asset catalog, in palette order.
var CatalogTypes = []ElementType{
	ElementTypeHead,
	ElementTypeEyes,
	ElementTypeNoses,
	ElementTypeMouths,
	ElementTypeEars,
	ElementTypeMisc,
}

type Element struct {
	ID       string      `json:"id"`
	Type     ElementType `json:"type"`
	Index    int         `json:"index,omitempty"`
	X        float64     `json:"x"`
	Y        float64     `json:"y"`
	Width    float64     `json:"width"`
	Height   float64     `json:"height"`
	Rotation float64     `json:"rotation"`
	Src      string      `json:"src,omitempty"`
	Text     string      `json:"text,omitempty"`
	Visible  bool        `json:"visible"`
}

// SignatureText returns the text drawn for a signature element.
func (e Element) SignatureText() string {
	if e.Text == "" {
		return "Signature"
	}
	return e.Text
}

// CloneElements returns a value copy of the slice. Elements hold no references,
// so a shallow copy of each is a deep copy.
func CloneElements(elements []Element) []Element {
	if elements == nil {
		return nil
	}
	out := make([]Element, len(elements))
	copy(out, elements)
	return out
}

// Page is the fixed drawing area every element is placed on.
type Page struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// A4 at 96 dpi.
var DefaultPage = Page{Width: 794, Height: 1123}

const (
	MinBrushSize     = 1
	MaxBrushSize     = 20
	DefaultBrushSize = 5
	DefaultColor     = "black"
)

// Palette is the set of colors offered by the drawing toolbar.
var Palette = []string{"black", "white", "red", "blue", "green", "yellow", "purple", "orange"}

type DrawingState struct {
	Drawing     bool   `json:"isDrawing"`
	FreeDrawing bool   `json:"isFreeDrawing"`
	Erasing     bool   `json:"isErasing"`
	LineMode    bool   `json:"isLineMode"`
	BrushSize   int    `json:"brushSize"`
	Color       string `json:"color"`
}

// DefaultDrawingState returns the toolbar state of a fresh editor.
func DefaultDrawingState() DrawingState {
	return DrawingState{
		BrushSize: DefaultBrushSize,
		Color:     DefaultColor,
	}
}

// Normalize clamps the brush size and fills in a missing color.
func (s DrawingState) Normalize() DrawingState {
	if s.BrushSize < MinBrushSize {
		s.BrushSize = MinBrushSize
	}
	if s.BrushSize > MaxBrushSize {
		s.BrushSize = MaxBrushSize
	}
	if s.Color == "" {
		s.Color = DefaultColor
	}
	return s
}
