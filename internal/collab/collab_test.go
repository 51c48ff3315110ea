package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/gorilla/mux"

	"github.com/cubist/cubist/backend-go/internal/asset"
	"github.com/cubist/cubist/backend-go/internal/document"
	"github.com/cubist/cubist/backend-go/internal/engine"
)

var errNoSession = errors.New("no session")

func newTestEngine(t *testing.T, onChange func()) *engine.Engine {
	t.Helper()
	e := engine.New(engine.Options{
		Page:     document.Page{Width: 200, Height: 200},
		Locator:  asset.NewLocator(""),
		OnChange: onChange,
	})
	t.Cleanup(e.Close)
	return e
}

func mustPayload(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestApplyElementLifecycle(t *testing.T) {
	e := newTestEngine(t, nil)

	reply, err := Apply(e, &Message{
		Type:    TypeElementAdd,
		Seq:     1,
		Payload: mustPayload(t, ElementAddPayload{Type: document.ElementTypeEyes, Index: 2}),
	})
	if err != nil {
		t.Fatal(err)
	}
	if reply.Type != TypeResult || reply.Seq != 1 {
		t.Fatalf("reply = %+v", reply)
	}
	var res ElementResultPayload
	if err := json.Unmarshal(reply.Payload, &res); err != nil {
		t.Fatal(err)
	}
	if res.Element.ID == "" || res.Element.Type != document.ElementTypeEyes {
		t.Fatalf("element = %+v", res.Element)
	}

	rot := 45.0
	reply, err = Apply(e, &Message{
		Type:    TypeElementUpdate,
		Seq:     2,
		Payload: mustPayload(t, ElementUpdatePayload{ID: res.Element.ID, Patch: engine.Patch{Rotation: &rot}}),
	})
	if err != nil {
		t.Fatal(err)
	}
	var ack AckPayload
	json.Unmarshal(reply.Payload, &ack)
	if !ack.Handled || ack.Seq != 2 {
		t.Errorf("update ack = %+v", ack)
	}
	if got, _ := e.Element(res.Element.ID); got.Rotation != 45 {
		t.Errorf("rotation = %v", got.Rotation)
	}

	if _, err := Apply(e, &Message{Type: TypeHistoryUndo}); err != nil {
		t.Fatal(err)
	}
	if got, _ := e.Element(res.Element.ID); got.Rotation != 0 {
		t.Errorf("rotation after undo = %v", got.Rotation)
	}

	reply, _ = Apply(e, &Message{Type: TypeElementDelete, Seq: 3, Payload: mustPayload(t, ElementIDPayload{ID: res.Element.ID})})
	json.Unmarshal(reply.Payload, &ack)
	if !ack.Handled {
		t.Error("delete not handled")
	}
	if len(e.Elements()) != 0 {
		t.Errorf("elements = %d, want 0", len(e.Elements()))
	}
}

func TestApplyRejectsBadMessages(t *testing.T) {
	e := newTestEngine(t, nil)

	tests := []struct {
		name string
		msg  Message
		want error
	}{
		{"unknown type", Message{Type: "bogus"}, ErrUnknownType},
		{"missing payload", Message{Type: TypeElementAdd}, ErrBadPayload},
		{"malformed payload", Message{Type: TypeKey, Payload: json.RawMessage(`[1,2]`)}, ErrBadPayload},
		{"empty upload", Message{Type: TypeElementUpload, Payload: json.RawMessage(`{}`)}, ErrBadPayload},
		{"bad direction", Message{Type: TypeElementReorder, Payload: json.RawMessage(`{"id":"x","direction":"left"}`)}, ErrBadPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.msg
			if _, err := Apply(e, &msg); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := Apply(e, &Message{
		Type:    TypeElementAdd,
		Payload: mustPayload(t, ElementAddPayload{Type: document.ElementTypeEyes, Index: 99}),
	}); err == nil {
		t.Error("out of range asset accepted")
	}
}

func TestApplyTouchDrag(t *testing.T) {
	e := newTestEngine(t, nil)
	el, err := e.AddElement(document.ElementTypeEyes, 1) // 60,60 80x80
	if err != nil {
		t.Fatal(err)
	}
	// Page drawn at twice its size, offset by (10,20).
	vp := engine.Viewport{Left: 10, Top: 20, Width: 400, Height: 400}
	touch := func(typ string, active []engine.Touch, changed []engine.Touch) {
		t.Helper()
		_, err := Apply(e, &Message{Type: typ, Payload: mustPayload(t, TouchPayload{
			Touches: active, ChangedTouches: changed, Viewport: vp,
		})})
		if err != nil {
			t.Fatal(err)
		}
	}

	touch(TypeTouchStart, []engine.Touch{{ClientX: 210, ClientY: 220}}, nil)
	touch(TypeTouchMove, []engine.Touch{{ClientX: 250, ClientY: 220}}, nil)
	touch(TypeTouchEnd, nil, []engine.Touch{{ClientX: 250, ClientY: 220}})

	got, _ := e.Element(el.ID)
	if got.X != 80 || got.Y != 60 {
		t.Errorf("position = (%v,%v), want (80,60)", got.X, got.Y)
	}
	if e.Gesture() != engine.GestureIdle {
		t.Errorf("gesture = %v, want idle", e.Gesture())
	}

	reply, err := Apply(e, &Message{Type: TypeTouchEnd, Payload: mustPayload(t, TouchPayload{})})
	if err != nil {
		t.Fatal(err)
	}
	var ack AckPayload
	json.Unmarshal(reply.Payload, &ack)
	if ack.Handled {
		t.Error("touch event without touches reported handled")
	}
}

func TestApplyDrawingSetKeepsOmittedFields(t *testing.T) {
	e := newTestEngine(t, nil)
	before := e.DrawingState()

	if _, err := Apply(e, &Message{Type: TypeDrawingSet, Payload: json.RawMessage(`{"isDrawing":true}`)}); err != nil {
		t.Fatal(err)
	}
	after := e.DrawingState()
	if !after.Drawing {
		t.Error("drawing not enabled")
	}
	if after.Color != before.Color || after.BrushSize != before.BrushSize {
		t.Errorf("drawing state = %+v, want color and size kept from %+v", after, before)
	}
}

// testServer wires a hub to an httptest server the way the server binary does.
type testServer struct {
	hub     *Hub
	srv     *httptest.Server
	mu      sync.Mutex
	engines map[string]*engine.Engine
}

func newTestServer(t *testing.T, sessionIDs ...string) *testServer {
	t.Helper()
	ts := &testServer{engines: make(map[string]*engine.Engine)}
	ts.hub = NewHub(func(id string) (*engine.Engine, error) {
		ts.mu.Lock()
		defer ts.mu.Unlock()
		e, ok := ts.engines[id]
		if !ok {
			return nil, errNoSession
		}
		return e, nil
	})
	for _, id := range sessionIDs {
		id := id
		e := newTestEngine(t, func() { ts.hub.SessionChanged(id) })
		ts.mu.Lock()
		ts.engines[id] = e
		ts.mu.Unlock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	go ts.hub.Run(ctx)

	var n int
	var nmu sync.Mutex
	r := mux.NewRouter()
	r.HandleFunc("/ws/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		nmu.Lock()
		n++
		clientID := fmt.Sprintf("client-%d", n)
		nmu.Unlock()

		client := NewClient(ts.hub, conn, mux.Vars(r)["id"], clientID)
		ts.hub.Register(client)
		go client.WritePump(r.Context())
		client.ReadPump(r.Context())
	})
	ts.srv = httptest.NewServer(r)
	t.Cleanup(func() {
		ts.srv.Close()
		cancel()
	})
	return ts
}

func (ts *testServer) engine(id string) *engine.Engine {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.engines[id]
}

func (ts *testServer) dial(t *testing.T, sessionID string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ws/sessions/" + sessionID
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.SetReadLimit(maxFrameSize)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg Message) {
	t.Helper()
	data, _ := json.Marshal(msg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// readUntil returns the first message of type typ, skipping others.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("waiting for %s: %v", typ, err)
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if msg.Type == typ {
			return msg
		}
	}
}

func TestHubWelcomeAndOperations(t *testing.T) {
	ts := newTestServer(t, "sess_a")
	conn := ts.dial(t, "sess_a")

	welcome := readUntil(t, conn, TypeWelcome)
	var wp WelcomePayload
	if err := json.Unmarshal(welcome.Payload, &wp); err != nil {
		t.Fatal(err)
	}
	if wp.SessionID != "sess_a" || wp.ClientID == "" {
		t.Errorf("welcome = %+v", wp)
	}
	if wp.State.History.Len != 1 {
		t.Errorf("initial history len = %d, want 1", wp.State.History.Len)
	}

	send(t, conn, Message{
		Type:    TypeElementAdd,
		Seq:     5,
		Payload: mustPayload(t, ElementAddPayload{Type: document.ElementTypeNoses, Index: 3}),
	})

	state := readUntil(t, conn, TypeSceneState)
	var s engine.State
	if err := json.Unmarshal(state.Payload, &s); err != nil {
		t.Fatal(err)
	}
	if len(s.Elements) != 1 || s.Selected != s.Elements[0].ID {
		t.Errorf("pushed state = %+v", s)
	}

	res := readUntil(t, conn, TypeResult)
	if res.Seq != 5 {
		t.Errorf("result seq = %d, want 5", res.Seq)
	}
	if n := len(ts.engine("sess_a").Elements()); n != 1 {
		t.Errorf("engine elements = %d, want 1", n)
	}

	send(t, conn, Message{Type: "bogus", Seq: 7})
	errMsg := readUntil(t, conn, TypeError)
	var ep ErrorPayload
	json.Unmarshal(errMsg.Payload, &ep)
	if ep.Seq != 7 || !strings.Contains(ep.Message, "unknown message type") {
		t.Errorf("error = %+v", ep)
	}

	send(t, conn, Message{Type: TypeRenderGet, Seq: 8})
	render := readUntil(t, conn, TypeRender)
	var ops []map[string]any
	if err := json.Unmarshal(render.Payload, &ops); err != nil {
		t.Fatalf("render payload: %v", err)
	}
	if len(ops) == 0 {
		t.Error("render produced no commands")
	}
}

func TestHubReplacesOlderClient(t *testing.T) {
	ts := newTestServer(t, "sess_a")

	first := ts.dial(t, "sess_a")
	readUntil(t, first, TypeWelcome)

	second := ts.dial(t, "sess_a")
	readUntil(t, second, TypeWelcome)

	readUntil(t, first, TypeReplaced)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, _, err := first.Read(ctx); err == nil {
		t.Error("replaced connection still open")
	}

	send(t, second, Message{Type: TypeStateGet, Seq: 1})
	readUntil(t, second, TypeSceneState)
}

func TestFramesApplyToBoundSession(t *testing.T) {
	ts := newTestServer(t, "sess_a", "sess_b")
	conn := ts.dial(t, "sess_a")
	readUntil(t, conn, TypeWelcome)

	send(t, conn, Message{
		Type:      TypeElementAdd,
		SessionID: "sess_b",
		ClientID:  "someone-else",
		Seq:       2,
		Payload:   mustPayload(t, ElementAddPayload{Type: document.ElementTypeEyes, Index: 1}),
	})
	if res := readUntil(t, conn, TypeResult); res.Seq != 2 {
		t.Fatalf("result seq = %d, want 2", res.Seq)
	}

	if n := len(ts.engine("sess_a").Elements()); n != 1 {
		t.Errorf("bound session has %d elements, want 1", n)
	}
	if n := len(ts.engine("sess_b").Elements()); n != 0 {
		t.Errorf("other session has %d elements, want 0", n)
	}
}

func TestHubUnknownSession(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t, "sess_missing")

	msg := readUntil(t, conn, TypeError)
	var ep ErrorPayload
	json.Unmarshal(msg.Payload, &ep)
	if ep.Message != "session not found" {
		t.Errorf("error = %q", ep.Message)
	}
}

func TestHubSessionClosed(t *testing.T) {
	ts := newTestServer(t, "sess_a")
	conn := ts.dial(t, "sess_a")
	readUntil(t, conn, TypeWelcome)

	ts.hub.SessionClosed("sess_a")

	msg := readUntil(t, conn, TypeError)
	var ep ErrorPayload
	json.Unmarshal(msg.Payload, &ep)
	if ep.Message != "session closed" {
		t.Errorf("error = %q", ep.Message)
	}
}
