package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/xela07ax/soc-response-gateway/internal/audit"
	"github.com/xela07ax/soc-response-gateway/internal/console/service"
)

type AuditHandler struct {
	service *service.AuditService
}

func NewAuditHandler(s *service.AuditService) *AuditHandler {
	return &AuditHandler{service: s}
}

// GetEntries возвращает записи журнала с поддержкой фильтрации
// GET /v1/audit?action=...&actor=...&target=...&outcome=...&since=...&limit=...
func (h *AuditHandler) GetEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := audit.QueryFilter{
		Action:  q.Get("action"),
		ActorID: q.Get("actor"),
		Target:  q.Get("target"),
		Outcome: q.Get("outcome"),
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			http.Error(w, "invalid 'since' timestamp, expected RFC3339", http.StatusBadRequest)
			return
		}
		filter.From = t
	}
	if until := q.Get("until"); until != "" {
		t, err := time.Parse(time.RFC3339, until)
		if err != nil {
			http.Error(w, "invalid 'until' timestamp, expected RFC3339", http.StatusBadRequest)
			return
		}
		filter.To = t
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			http.Error(w, "invalid 'limit'", http.StatusBadRequest)
			return
		}
		filter.Limit = limit
	}

	entries, err := h.service.FetchEntries(filter)
	if err != nil {
		http.Error(w, "Failed to fetch audit entries", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

// GetSummary агрегирует журнал за скользящее окно
// GET /v1/audit/summary?window=24h
func (h *AuditHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	window := 24 * time.Hour
	if windowStr := r.URL.Query().Get("window"); windowStr != "" {
		parsed, err := time.ParseDuration(windowStr)
		if err != nil || parsed <= 0 {
			http.Error(w, "invalid 'window' duration", http.StatusBadRequest)
			return
		}
		window = parsed
	}

	summary, err := h.service.Summarize(window)
	if err != nil {
		http.Error(w, "Failed to summarize audit entries", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}
