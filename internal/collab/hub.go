package collab

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/cubist/cubist/backend-go/internal/engine"
)

// EngineLookup resolves a session id to its editor engine.
type EngineLookup func(sessionID string) (*engine.Engine, error)

// Hub routes websocket clients to session engines. A session has at most
// one client; a newer connection replaces the older one.
type Hub struct {
	mu         sync.RWMutex
	clients    map[string]*Client // sessionID -> client
	lookup     EngineLookup
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(lookup EngineLookup) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		lookup:     lookup,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run serializes client registration until ctx is done, then disconnects
// every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case <-ctx.Done():
			h.mu.Lock()
			for id, c := range h.clients {
				c.close()
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		client.close()
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	old := h.clients[client.SessionID]
	h.clients[client.SessionID] = client
	h.mu.Unlock()

	if old != nil {
		old.Send(&Message{Type: TypeReplaced, SessionID: old.SessionID})
		old.close()
		slog.Info("client replaced", "session", client.SessionID, "old", old.ClientID, "client", client.ClientID)
	}

	e, err := h.lookup(client.SessionID)
	if err != nil {
		client.SendError(0, "session not found")
		client.close()
		return
	}
	payload, _ := json.Marshal(WelcomePayload{
		SessionID: client.SessionID,
		ClientID:  client.ClientID,
		State:     e.State(),
	})
	client.Send(&Message{Type: TypeWelcome, SessionID: client.SessionID, Payload: payload})

	slog.Info("client joined", "session", client.SessionID, "client", client.ClientID)
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	if h.clients[client.SessionID] == client {
		delete(h.clients, client.SessionID)
	}
	h.mu.Unlock()
	client.close()

	slog.Info("client left", "session", client.SessionID, "client", client.ClientID)
}

func (h *Hub) client(sessionID string) *Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients[sessionID]
}

func (h *Hub) handleMessage(sender *Client, msg *Message) {
	e, err := h.lookup(sender.SessionID)
	if err != nil {
		sender.SendError(msg.Seq, "session not found")
		return
	}

	reply, err := Apply(e, msg)
	if err != nil {
		slog.Warn("apply message", "type", msg.Type, "session", sender.SessionID, "error", err)
		sender.SendError(msg.Seq, err.Error())
		return
	}
	sender.Send(reply)
}

// SessionChanged pushes the current state to the session's client.
func (h *Hub) SessionChanged(sessionID string) {
	c := h.client(sessionID)
	if c == nil {
		return
	}
	e, err := h.lookup(sessionID)
	if err != nil {
		return
	}
	msg, err := stateMessage(e.State())
	if err != nil {
		slog.Error("marshal scene state", "session", sessionID, "error", err)
		return
	}
	msg.SessionID = sessionID
	c.Send(msg)
}

// SessionClosed disconnects the session's client.
func (h *Hub) SessionClosed(sessionID string) {
	h.mu.Lock()
	c := h.clients[sessionID]
	delete(h.clients, sessionID)
	h.mu.Unlock()
	if c != nil {
		c.SendError(0, "session closed")
		c.close()
	}
}
