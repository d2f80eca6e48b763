package eventapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/event-tracker/project/internal/app/events"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type deleteResponse struct {
	Deleted bool   `json:"deleted"`
	EventID string `json:"event_id"`
	Warning string `json:"warning,omitempty"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.Commands.OnListRequest(r.Context())
	if err != nil {
		h.writeEventError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleListFavorites(w http.ResponseWriter, r *http.Request) {
	list, err := h.Commands.OnFavoritesRequest(r.Context())
	if err != nil {
		h.writeEventError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleView(w http.ResponseWriter, r *http.Request) {
	list, err := h.Commands.OnViewRequest(r.Context())
	if err != nil {
		h.writeEventError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req events.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	ev, err := h.Commands.OnCreate(r.Context(), req)
	if err != nil {
		h.writeEventError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, ev)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var patch events.EventPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	ev, err := h.Commands.OnUpdate(r.Context(), chi.URLParam(r, "eventID"), patch)
	if err != nil {
		h.writeEventError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ev)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	err := h.Commands.OnDelete(r.Context(), eventID)
	// Checked before the generic mapping: a partial delete also unwraps to
	// ErrStoreUnavailable but the event itself is gone.
	if errors.Is(err, events.ErrPartialDelete) {
		h.writeJSON(w, http.StatusOK, deleteResponse{Deleted: true, EventID: eventID, Warning: err.Error()})
		return
	}
	if err != nil {
		h.writeEventError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, deleteResponse{Deleted: true, EventID: eventID})
}

func (h *Handler) handleToggleFavorite(w http.ResponseWriter, r *http.Request) {
	ev, err := h.Commands.OnToggleFavorite(r.Context(), chi.URLParam(r, "eventID"))
	if err != nil {
		h.writeEventError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ev)
}

func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.Commands.OnReconcileRequest(r.Context())
	if err != nil {
		h.writeEventError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

func (h *Handler) writeEventError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, events.ErrValidation):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, events.ErrUnauthenticated):
		h.writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, events.ErrNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	default:
		h.Logger.Warn("event store unavailable", zap.Error(err))
		h.writeError(w, http.StatusServiceUnavailable, events.ErrStoreUnavailable.Error())
	}
}
