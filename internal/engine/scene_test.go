package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/cubist/cubist/backend-go/internal/document"
)

var errNoAsset = errors.New("no such asset")

type fakeLocator struct{}

func (fakeLocator) Locate(t document.ElementType, index int) (string, error) {
	if index < 1 || index > 10 {
		return "", errNoAsset
	}
	return fmt.Sprintf("https://assets.test/%s%d.png", t, index), nil
}

func newTestScene(t *testing.T) *Scene {
	t.Helper()
	s := NewScene(document.DefaultPage, fakeLocator{})
	n := 0
	s.newID = func() string {
		n++
		return fmt.Sprintf("el_%d", n)
	}
	return s
}

func mustAdd(t *testing.T, s *Scene, typ document.ElementType, index int) document.Element {
	t.Helper()
	e, err := s.AddElement(typ, index)
	if err != nil {
		t.Fatalf("AddElement(%s, %d): %v", typ, index, err)
	}
	return e
}

func ids(elements []document.Element) []string {
	out := make([]string, len(elements))
	for i, e := range elements {
		out[i] = e.ID
	}
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestAddElementDefaults(t *testing.T) {
	s := newTestScene(t)

	head := mustAdd(t, s, document.ElementTypeHead, 3)
	if head.X != 0 || head.Y != 0 || head.Width != 794 || head.Height != 1123 {
		t.Errorf("head geometry = %+v, want full page", head)
	}
	if head.Src != "https://assets.test/head3.png" {
		t.Errorf("head src = %q", head.Src)
	}

	eyes := mustAdd(t, s, document.ElementTypeEyes, 1)
	if eyes.X != 357 || eyes.Y != 521.5 || eyes.Width != 80 || eyes.Height != 80 {
		t.Errorf("eyes geometry = %+v, want centered 80x80", eyes)
	}
	if !eyes.Visible {
		t.Error("new element should be visible")
	}
	if s.Selected() != eyes.ID {
		t.Errorf("selected = %q, want newest element %q", s.Selected(), eyes.ID)
	}
	if got := ids(s.Elements()); !equalIDs(got, []string{head.ID, eyes.ID}) {
		t.Errorf("order = %v, want new element frontmost", got)
	}
}

func TestAddElementLocatorFailure(t *testing.T) {
	s := newTestScene(t)
	if _, err := s.AddElement(document.ElementTypeEyes, 99); !errors.Is(err, errNoAsset) {
		t.Fatalf("err = %v, want errNoAsset", err)
	}
	if s.Len() != 0 {
		t.Errorf("len = %d, want 0", s.Len())
	}
}

func TestAddUploadAndSignature(t *testing.T) {
	s := newTestScene(t)

	up := s.AddUpload("data:image/png;base64,AAAA")
	if up.Type != document.ElementTypeUploaded || up.Width != 200 || up.X != 297 || up.Y != 461.5 {
		t.Errorf("upload = %+v", up)
	}

	sig := s.AddSignature("Ada")
	if sig.Type.Kind() != document.KindTextSignature || sig.X != 594 || sig.Y != 1043 || sig.Width != 150 || sig.Height != 40 {
		t.Errorf("signature = %+v", sig)
	}
	if s.Selected() != sig.ID {
		t.Errorf("selected = %q, want %q", s.Selected(), sig.ID)
	}
}

func TestDeleteSelectedIsIdempotent(t *testing.T) {
	s := newTestScene(t)
	a := mustAdd(t, s, document.ElementTypeEyes, 1)
	b := mustAdd(t, s, document.ElementTypeNoses, 2)

	if !s.DeleteSelected() {
		t.Fatal("DeleteSelected reported no change")
	}
	if s.Selected() != "" {
		t.Errorf("selection = %q, want empty", s.Selected())
	}
	if _, ok := s.Element(b.ID); ok {
		t.Error("deleted element still present")
	}
	if s.DeleteSelected() {
		t.Error("second DeleteSelected should be a no-op")
	}
	if got := ids(s.Elements()); !equalIDs(got, []string{a.ID}) {
		t.Errorf("elements = %v", got)
	}
	if s.DeleteElement("el_missing") {
		t.Error("deleting an absent id should be a no-op")
	}
}

func TestDeleteElementClearsSelection(t *testing.T) {
	s := newTestScene(t)
	a := mustAdd(t, s, document.ElementTypeEyes, 1)
	s.DeleteElement(a.ID)
	if s.Selected() != "" {
		t.Errorf("selection = %q, want empty", s.Selected())
	}
}

func TestReorder(t *testing.T) {
	s := newTestScene(t)
	a := mustAdd(t, s, document.ElementTypeEyes, 1)
	b := mustAdd(t, s, document.ElementTypeEars, 1)
	c := mustAdd(t, s, document.ElementTypeMisc, 1)

	if s.Reorder(c.ID, DirectionUp) {
		t.Error("frontmost up should be a no-op")
	}
	if s.Reorder(a.ID, DirectionDown) {
		t.Error("backmost down should be a no-op")
	}
	if got := ids(s.Elements()); !equalIDs(got, []string{a.ID, b.ID, c.ID}) {
		t.Fatalf("order changed by no-op: %v", got)
	}

	if !s.Reorder(a.ID, DirectionUp) {
		t.Fatal("reorder up failed")
	}
	if got := ids(s.Elements()); !equalIDs(got, []string{b.ID, a.ID, c.ID}) {
		t.Errorf("after up = %v", got)
	}
	if !s.Reorder(c.ID, DirectionDown) {
		t.Fatal("reorder down failed")
	}
	if got := ids(s.Elements()); !equalIDs(got, []string{b.ID, c.ID, a.ID}) {
		t.Errorf("after down = %v", got)
	}
}

func TestToggleVisibilityAndHitTest(t *testing.T) {
	s := newTestScene(t)
	back := mustAdd(t, s, document.ElementTypeHead, 1)
	front := mustAdd(t, s, document.ElementTypeEyes, 1)
	center := Point{X: 397, Y: 561}

	if got := s.HitTest(center); got != front.ID {
		t.Errorf("hit = %q, want frontmost %q", got, front.ID)
	}
	s.ToggleVisibility(front.ID)
	if got := s.HitTest(center); got != back.ID {
		t.Errorf("hit = %q, want %q once front is hidden", got, back.ID)
	}
	if got := s.HitTest(Point{X: -5, Y: -5}); got != "" {
		t.Errorf("hit off page = %q", got)
	}
}

func TestUpdateElementFloorsSize(t *testing.T) {
	s := newTestScene(t)
	e := mustAdd(t, s, document.ElementTypeEyes, 1)
	w, rot := 3.0, 725.0
	if !s.UpdateElement(e.ID, Patch{Width: &w, Rotation: &rot}) {
		t.Fatal("update reported no change")
	}
	got, _ := s.Element(e.ID)
	if got.Width != MinElementSize || got.Rotation != 725 {
		t.Errorf("element = %+v", got)
	}
	if s.UpdateElement(e.ID, Patch{Width: &w}) {
		t.Error("identical update should report no change")
	}
	if s.UpdateElement("el_missing", Patch{Width: &w}) {
		t.Error("update of absent id should report no change")
	}
}

func TestHandleAt(t *testing.T) {
	s := newTestScene(t)
	e := mustAdd(t, s, document.ElementTypeEyes, 1) // 357,521.5 80x80

	if id, h := s.HandleAt(Point{X: e.X + 76, Y: e.Y + 4}); id != e.ID || h != HandleRotate {
		t.Errorf("rotate corner = %q %v", id, h)
	}
	if id, h := s.HandleAt(Point{X: e.X + 72, Y: e.Y + 72}); id != e.ID || h != HandleResize {
		t.Errorf("resize corner = %q %v", id, h)
	}
	if id, h := s.HandleAt(Point{X: e.X + 40, Y: e.Y + 40}); id != e.ID || h != HandleBody {
		t.Errorf("body = %q %v", id, h)
	}

	// Handles belong to the selection only.
	s.ClearSelection()
	if _, h := s.HandleAt(Point{X: e.X + 72, Y: e.Y + 72}); h != HandleBody {
		t.Errorf("unselected corner = %v, want body", h)
	}
	if _, h := s.HandleAt(Point{X: 10, Y: 10}); h != HandleNone {
		t.Errorf("background = %v, want none", h)
	}
}

func TestReplaceKeepsSelectionOnlyIfPresent(t *testing.T) {
	s := newTestScene(t)
	a := mustAdd(t, s, document.ElementTypeEyes, 1)
	snapshot := s.Elements()
	b := mustAdd(t, s, document.ElementTypeEars, 1)

	s.Replace(snapshot)
	if s.Selected() != "" {
		t.Errorf("selection %q survived removal of %q", s.Selected(), b.ID)
	}

	s.Select(a.ID)
	s.Replace(snapshot)
	if s.Selected() != a.ID {
		t.Errorf("selection = %q, want %q", s.Selected(), a.ID)
	}
}

func TestElementsReturnsCopy(t *testing.T) {
	s := newTestScene(t)
	mustAdd(t, s, document.ElementTypeEyes, 1)
	out := s.Elements()
	out[0].X = 9999
	if e := s.Elements()[0]; e.X == 9999 {
		t.Error("mutating the returned slice changed the scene")
	}
}
