package collab

import (
	"encoding/json"

	"github.com/cubist/cubist/backend-go/internal/document"
	"github.com/cubist/cubist/backend-go/internal/engine"
)

type Message struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	ClientID  string          `json:"clientId,omitempty"`
	Seq       int64           `json:"seq,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

const (
	// Connection
	TypeWelcome  = "welcome"
	TypeReplaced = "replaced"
	TypeError    = "error"

	// Server to client
	TypeSceneState = "scene.state"
	TypeRender     = "scene.render"
	TypeAck        = "op.ack"
	TypeResult     = "op.result"

	// Input
	TypePointerDown  = "pointer.down"
	TypePointerMove  = "pointer.move"
	TypePointerUp    = "pointer.up"
	TypePointerLeave = "pointer.leave"
	TypeTouchStart   = "touch.start"
	TypeTouchMove    = "touch.move"
	TypeTouchEnd     = "touch.end"
	TypeKey          = "key"

	// Scene
	TypeElementAdd        = "element.add"
	TypeElementUpload     = "element.upload"
	TypeElementSignature  = "element.signature"
	TypeElementUpdate     = "element.update"
	TypeElementDelete     = "element.delete"
	TypeElementVisibility = "element.visibility"
	TypeElementReorder    = "element.reorder"
	TypeSelectionSet      = "selection.set"
	TypeSelectionClear    = "selection.clear"
	TypeSelectionDelete   = "selection.delete"

	// Tools and history
	TypeDrawingSet  = "drawing.set"
	TypeHistoryUndo = "history.undo"
	TypeHistoryRedo = "history.redo"
	TypeStateGet    = "state.get"
	TypeRenderGet   = "render.get"
)

type WelcomePayload struct {
	SessionID string       `json:"sessionId"`
	ClientID  string       `json:"clientId"`
	State     engine.State `json:"state"`
}

type ErrorPayload struct {
	Seq     int64  `json:"seq,omitempty"`
	Message string `json:"message"`
}

type AckPayload struct {
	Seq     int64 `json:"seq"`
	Handled bool  `json:"handled"`
}

// TouchPayload carries a touch event in client coordinates together with
// where the page is on screen.
type TouchPayload struct {
	Touches        []engine.Touch  `json:"touches"`
	ChangedTouches []engine.Touch  `json:"changedTouches"`
	Viewport       engine.Viewport `json:"viewport"`
}

type ElementAddPayload struct {
	Type  document.ElementType `json:"type"`
	Index int                  `json:"index"`
}

type ElementUploadPayload struct {
	Src string `json:"src"`
}

type ElementSignaturePayload struct {
	Text string `json:"text"`
}

type ElementUpdatePayload struct {
	ID    string       `json:"id"`
	Patch engine.Patch `json:"patch"`
}

type ElementIDPayload struct {
	ID string `json:"id"`
}

type ElementReorderPayload struct {
	ID        string           `json:"id"`
	Direction engine.Direction `json:"direction"`
}

type ElementResultPayload struct {
	Seq     int64            `json:"seq"`
	Element document.Element `json:"element"`
}
