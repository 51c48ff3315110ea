package asset

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/cubist/cubist/backend-go/internal/document"
)

// DefaultURLTemplate points at the public catalog CDN.
const DefaultURLTemplate = "https://cdn.jsdelivr.net/gh/Ninja4554/Cubist-images/{prefix}{index}.png"

var ErrUnknownAsset = errors.New("unknown asset")

// catalog lists the file prefix and number of entries per element type.
var catalog = map[document.ElementType]struct {
	prefix string
	count  int
}{
	document.ElementTypeHead:   {"headShapes", 8},
	document.ElementTypeEyes:   {"Eyes", 15},
	document.ElementTypeEars:   {"Ears", 11},
	document.ElementTypeNoses:  {"noses", 11},
	document.ElementTypeMouths: {"mouths", 11},
	document.ElementTypeMisc:   {"misc", 11},
}

// Count returns how many catalog entries exist for t.
func Count(t document.ElementType) int {
	return catalog[t].count
}

// Locator expands catalog entries to image URLs.
type Locator struct {
	template string
}

// NewLocator creates a locator for a template containing {prefix} and
// {index} placeholders. An empty template selects DefaultURLTemplate.
func NewLocator(template string) *Locator {
	if template == "" {
		template = DefaultURLTemplate
	}
	return &Locator{template: template}
}

// Locate returns the source URL for the index-th entry (1-based) of type t.
func (l *Locator) Locate(t document.ElementType, index int) (string, error) {
	entry, ok := catalog[t]
	if !ok {
		return "", fmt.Errorf("locate %s: %w", t, ErrUnknownAsset)
	}
	if index < 1 || index > entry.count {
		return "", fmt.Errorf("locate %s %d of %d: %w", t, index, entry.count, ErrUnknownAsset)
	}
	r := strings.NewReplacer("{prefix}", entry.prefix, "{index}", strconv.Itoa(index))
	return r.Replace(l.template), nil
}
