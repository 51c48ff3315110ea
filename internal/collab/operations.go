package collab

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cubist/cubist/backend-go/internal/document"
	"github.com/cubist/cubist/backend-go/internal/engine"
)

var (
	ErrUnknownType = errors.New("unknown message type")
	ErrBadPayload  = errors.New("invalid payload")
)

// Apply runs one client message against the session's engine and returns
// the reply for the sender.
func Apply(e *engine.Engine, msg *Message) (*Message, error) {
	switch msg.Type {
	case TypePointerDown, TypePointerMove, TypePointerUp, TypePointerLeave:
		var ev engine.PointerEvent
		if err := decode(msg, &ev); err != nil {
			return nil, err
		}
		pointer(e, msg.Type, ev)
		return ack(msg, true), nil

	case TypeTouchStart, TypeTouchMove, TypeTouchEnd:
		var p TouchPayload
		if err := decode(msg, &p); err != nil {
			return nil, err
		}
		t, ok := engine.FirstTouch(p.Touches, p.ChangedTouches)
		if !ok {
			return ack(msg, false), nil
		}
		pt := engine.ClientToPage(p.Viewport, engine.PageSize(e.Page()), t.ClientX, t.ClientY)
		ev := engine.PointerEvent{PointerID: t.Identifier, X: pt.X, Y: pt.Y}
		pointer(e, touchToPointer[msg.Type], ev)
		return ack(msg, true), nil

	case TypeKey:
		var k engine.KeyEvent
		if err := decode(msg, &k); err != nil {
			return nil, err
		}
		return ack(msg, e.HandleKey(k)), nil

	case TypeElementAdd:
		var p ElementAddPayload
		if err := decode(msg, &p); err != nil {
			return nil, err
		}
		el, err := e.AddElement(p.Type, p.Index)
		if err != nil {
			return nil, err
		}
		return result(msg, el)

	case TypeElementUpload:
		var p ElementUploadPayload
		if err := decode(msg, &p); err != nil {
			return nil, err
		}
		if p.Src == "" {
			return nil, fmt.Errorf("%w: src is required", ErrBadPayload)
		}
		return result(msg, e.AddUpload(p.Src))

	case TypeElementSignature:
		var p ElementSignaturePayload
		if err := decode(msg, &p); err != nil {
			return nil, err
		}
		return result(msg, e.AddSignature(p.Text))

	case TypeElementUpdate:
		var p ElementUpdatePayload
		if err := decode(msg, &p); err != nil {
			return nil, err
		}
		return ack(msg, e.UpdateElement(p.ID, p.Patch)), nil

	case TypeElementDelete:
		var p ElementIDPayload
		if err := decode(msg, &p); err != nil {
			return nil, err
		}
		return ack(msg, e.DeleteElement(p.ID)), nil

	case TypeElementVisibility:
		var p ElementIDPayload
		if err := decode(msg, &p); err != nil {
			return nil, err
		}
		return ack(msg, e.ToggleVisibility(p.ID)), nil

	case TypeElementReorder:
		var p ElementReorderPayload
		if err := decode(msg, &p); err != nil {
			return nil, err
		}
		if p.Direction != engine.DirectionUp && p.Direction != engine.DirectionDown {
			return nil, fmt.Errorf("%w: direction %q", ErrBadPayload, p.Direction)
		}
		return ack(msg, e.Reorder(p.ID, p.Direction)), nil

	case TypeSelectionSet:
		var p ElementIDPayload
		if err := decode(msg, &p); err != nil {
			return nil, err
		}
		return ack(msg, e.Select(p.ID)), nil

	case TypeSelectionClear:
		e.ClearSelection()
		return ack(msg, true), nil

	case TypeSelectionDelete:
		return ack(msg, e.DeleteSelected()), nil

	case TypeDrawingSet:
		s := e.DrawingState()
		if err := decode(msg, &s); err != nil {
			return nil, err
		}
		e.SetDrawingState(s)
		return ack(msg, true), nil

	case TypeHistoryUndo:
		return ack(msg, e.Undo()), nil

	case TypeHistoryRedo:
		return ack(msg, e.Redo()), nil

	case TypeStateGet:
		return stateMessage(e.State())

	case TypeRenderGet:
		return &Message{Type: TypeRender, Seq: msg.Seq, Payload: json.RawMessage(e.Render())}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownType, msg.Type)
}

var touchToPointer = map[string]string{
	TypeTouchStart: TypePointerDown,
	TypeTouchMove:  TypePointerMove,
	TypeTouchEnd:   TypePointerUp,
}

func pointer(e *engine.Engine, typ string, ev engine.PointerEvent) {
	switch typ {
	case TypePointerDown:
		e.PointerDown(ev)
	case TypePointerMove:
		e.PointerMove(ev)
	case TypePointerUp:
		e.PointerUp(ev)
	case TypePointerLeave:
		e.PointerLeave(ev)
	}
}

// decode fills v from the payload. Fields absent from the payload keep
// their current values.
func decode(msg *Message, v any) error {
	if len(msg.Payload) == 0 {
		return fmt.Errorf("%w: %s needs a payload", ErrBadPayload, msg.Type)
	}
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrBadPayload, msg.Type, err)
	}
	return nil
}

func ack(msg *Message, handled bool) *Message {
	payload, _ := json.Marshal(AckPayload{Seq: msg.Seq, Handled: handled})
	return &Message{Type: TypeAck, Seq: msg.Seq, Payload: payload}
}

func result(msg *Message, el document.Element) (*Message, error) {
	payload, err := json.Marshal(ElementResultPayload{Seq: msg.Seq, Element: el})
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return &Message{Type: TypeResult, Seq: msg.Seq, Payload: payload}, nil
}

func stateMessage(s engine.State) (*Message, error) {
	payload, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	return &Message{Type: TypeSceneState, Payload: payload}, nil
}
