package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mini-rodalies-3d/ridealong/internal/mirror"
	"github.com/mini-rodalies-3d/ridealong/internal/navigation"
)

// healthProbeToken is looked up to test store connectivity; it never exists
const healthProbeToken = "health-probe"

// Session is the local navigator the dashboard reports on
type Session interface {
	State() navigation.State
	Flags() navigation.Flags
	Role() mirror.Role
	Token() string
}

// DocumentReader reads shared session documents
type DocumentReader interface {
	Get(ctx context.Context, token string) (*mirror.Payload, error)
}

// Handler serves the read-only dashboard endpoints
type Handler struct {
	session Session
	docs    DocumentReader
	backend string
}

// NewHandler creates a handler. backend names the document store in /health.
func NewHandler(session Session, docs DocumentReader, backend string) *Handler {
	return &Handler{session: session, docs: docs, backend: backend}
}

// ErrorResponse is the JSON error response structure
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// SessionResponse is the JSON response for GET /api/session
type SessionResponse struct {
	Role     string          `json:"role"`
	Token    string          `json:"token,omitempty"`
	Document *mirror.Payload `json:"document,omitempty"`
	Checked  time.Time       `json:"lastChecked"`
}

// StateResponse is the JSON response for GET /api/state
type StateResponse struct {
	State               mirror.Payload `json:"state"`
	Revision            uint64         `json:"revision"`
	Ready               bool           `json:"ready"`
	Degraded            bool           `json:"degraded"`
	LocationUnavailable bool           `json:"locationUnavailable"`
	LastError           string         `json:"lastError,omitempty"`
}

// Health handles GET /health
// Reports store connectivity; a missing probe document counts as connected.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	_, err := h.docs.Get(ctx, healthProbeToken)
	if err != nil && !errors.Is(err, mirror.ErrNotFound) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":    "error",
			"store":     h.backend,
			"database":  "disconnected",
			"timestamp": time.Now().UTC(),
			"error":     err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"store":     h.backend,
		"database":  "connected",
		"role":      h.session.Role().String(),
		"timestamp": time.Now().UTC(),
	})
}

// GetSession handles GET /api/session
// Returns the active role and, with a session, the shared document as stored
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	response := SessionResponse{
		Role:    h.session.Role().String(),
		Token:   h.session.Token(),
		Checked: time.Now().UTC(),
	}
	if response.Token == "" {
		writeJSON(w, http.StatusOK, response)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	doc, err := h.docs.Get(ctx, response.Token)
	switch {
	case errors.Is(err, mirror.ErrNotFound):
		// The publisher ended the session; the role clears shortly
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to read session document",
			Details: map[string]interface{}{"token": response.Token},
		})
		return
	default:
		response.Document = doc
	}
	writeJSON(w, http.StatusOK, response)
}

// GetDocument handles GET /api/sessions/{token}
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	doc, err := h.docs.Get(ctx, token)
	if errors.Is(err, mirror.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, ErrorResponse{
			Error:   "Session not found",
			Details: map[string]interface{}{"token": token},
		})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error: "Failed to read session document",
		})
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// GetState handles GET /api/state
// Returns the local journey in the shared document shape, plus the flags
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	state := h.session.State()
	flags := h.session.Flags()

	writeJSON(w, http.StatusOK, StateResponse{
		State:               mirror.FromState(state),
		Revision:            state.Revision,
		Ready:               state.Ready(),
		Degraded:            flags.Degraded,
		LocationUnavailable: flags.LocationUnavailable,
		LastError:           flags.LastError,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
