package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/soc-response-gateway/internal/incident"
	"github.com/xela07ax/soc-response-gateway/internal/infra/auth"
)

type IncidentHandler struct {
	correlator *incident.Correlator
}

func NewIncidentHandler(c *incident.Correlator) *IncidentHandler {
	return &IncidentHandler{correlator: c}
}

// List — GET /v1/incidents?target=...&status=OPEN
func (h *IncidentHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := incident.ListFilter{
		Target: r.URL.Query().Get("target"),
		Status: incident.Status(r.URL.Query().Get("status")),
	}

	list := h.correlator.List(filter)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(list)
}

// Get — GET /v1/incidents/{id}
func (h *IncidentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	inc, err := h.correlator.Get(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(inc)
}

type addNoteRequest struct {
	Text string `json:"text"`
}

// AddNote — POST /v1/incidents/{id}/notes
func (h *IncidentHandler) AddNote(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req addNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		http.Error(w, "note text is required", http.StatusBadRequest)
		return
	}

	if err := h.correlator.AddNote(id, actor.ID, req.Text); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type closeRequest struct {
	Resolution string `json:"resolution"`
}

// Close — POST /v1/incidents/{id}/close.
// Повторное закрытие — конфликт состояния, запись первого закрытия остается.
func (h *IncidentHandler) Close(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req closeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	err := h.correlator.Close(id, req.Resolution, actor.ID)
	switch {
	case errors.Is(err, incident.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, incident.ErrAlreadyClosed):
		http.Error(w, err.Error(), http.StatusConflict)
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}
