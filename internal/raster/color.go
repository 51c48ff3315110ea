package raster

import (
	"errors"
	"fmt"
	"image/color"
	"strings"

	"github.com/gogpu/gg"
	"golang.org/x/image/colornames"
)

var ErrUnknownColor = errors.New("unknown color")

// ParseColor accepts CSS color names ("red", "purple") and hex notation
// ("#f00", "#ff0000", "#ff000080").
func ParseColor(s string) (color.NRGBA, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if c, ok := colornames.Map[name]; ok {
		return color.NRGBA{R: c.R, G: c.G, B: c.B, A: c.A}, nil
	}
	if !strings.HasPrefix(name, "#") {
		return color.NRGBA{}, fmt.Errorf("%w: %q", ErrUnknownColor, s)
	}
	c, err := gg.ParseHex(name)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("%w: %v", ErrUnknownColor, err)
	}
	return c.Color().(color.NRGBA), nil
}
