package session

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/cubist/cubist/backend-go/internal/auth"
	"github.com/cubist/cubist/backend-go/internal/engine"
	"github.com/cubist/cubist/backend-go/internal/export"
)

type Handler struct {
	service  *Service
	auth     *auth.Service
	exporter *export.Exporter
}

func NewHandler(service *Service, authService *auth.Service, exporter *export.Exporter) *Handler {
	return &Handler{service: service, auth: authService, exporter: exporter}
}

// Routes registers the session endpoints. Everything but creation needs a
// token for the session in the path.
func (h *Handler) Routes(r *mux.Router) {
	protect := func(fn http.HandlerFunc) http.Handler { return h.auth.AuthMiddleware(fn) }

	r.HandleFunc("/sessions", h.Create).Methods("POST")
	r.Handle("/sessions/{id}", protect(h.Get)).Methods("GET")
	r.Handle("/sessions/{id}", protect(h.Delete)).Methods("DELETE")
	r.Handle("/sessions/{id}/export", protect(h.Export)).Methods("GET")
	r.Handle("/sessions/{id}/raster.png", protect(h.Raster)).Methods("GET")
}

type createResponse struct {
	Session *Session          `json:"session"`
	Token   *auth.TokenResult `json:"token"`
	State   engine.State      `json:"state"`
}

type stateResponse struct {
	Session *Session     `json:"session"`
	State   engine.State `json:"state"`
}

// Create handles POST /sessions. It is public and returns the token that
// grants access to the new session.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	sess := h.service.Create()

	token, err := h.auth.IssueToken(sess.ID)
	if err != nil {
		slog.Error("create session failed", "error", err)
		h.service.Delete(sess.ID)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	writeJSON(w, http.StatusCreated, createResponse{Session: sess, Token: token, State: sess.Engine.State()})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{Session: sess, State: sess.Engine.State()})
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(mux.Vars(r)["id"]); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Export handles GET /sessions/{id}/export, streaming the flattened page.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	h.exporter.Serve(w, r, sess.Engine)
}

// Raster handles GET /sessions/{id}/raster.png, the ink layer alone.
func (h *Handler) Raster(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	data, err := sess.Engine.RasterPNG()
	if err != nil {
		slog.Error("encode raster", "session", sess.ID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "raster unavailable"})
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(data)
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	sess, err := h.service.Get(mux.Vars(r)["id"])
	if err != nil {
		handleServiceError(w, err)
		return nil, false
	}
	return sess, true
}

func handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
	default:
		slog.Error("session service error", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
