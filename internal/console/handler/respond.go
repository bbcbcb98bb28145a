package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/soc-response-gateway/internal/console/service"
	"github.com/xela07ax/soc-response-gateway/internal/domain"
	"github.com/xela07ax/soc-response-gateway/internal/infra/auth"
)

type RespondHandler struct {
	service *service.ResponseService
}

func NewRespondHandler(s *service.ResponseService) *RespondHandler {
	return &RespondHandler{service: s}
}

// RespondRequest — тело команды. Личность актора сюда не входит — она
// берется из токена.
type RespondRequest struct {
	Target         string         `json:"target"`
	Args           map[string]any `json:"args,omitempty"`
	TimeoutSeconds int            `json:"timeout_seconds,omitempty"`
}

// RespondResponse — результат пайплайна для фронтенда.
type RespondResponse struct {
	EventID    string    `json:"event_id,omitempty"`
	IncidentID string    `json:"incident_id,omitempty"`
	Outcome    string    `json:"outcome,omitempty"`
	Value      any       `json:"value,omitempty"`
	Error      *APIError `json:"error,omitempty"`
}

type APIError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Execute обрабатывает POST /v1/respond/{action}.
// Отсутствие цели — ValidationError еще до авторизации.
func (h *RespondHandler) Execute(w http.ResponseWriter, r *http.Request) {
	actionTag := chi.URLParam(r, "action")

	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req RespondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	result := h.service.Execute(r.Context(), actor, actionTag, req.Target, req.Args, req.TimeoutSeconds)

	resp := RespondResponse{
		EventID:    result.EventID,
		IncidentID: result.IncidentID,
		Outcome:    string(result.Outcome),
		Value:      result.Value,
	}
	status := http.StatusOK
	if result.Err != nil {
		resp.Error = &APIError{
			Kind:    domain.ErrorKind(result.Err),
			Message: result.Err.Error(),
		}
		status = statusFor(result.Err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// statusFor отображает таксономию ошибок пайплайна в HTTP-статусы.
func statusFor(err error) int {
	var (
		validationErr *domain.ValidationError
		authzErr      *domain.AuthorizationError
		connErr       *domain.ConnectivityError
		timeoutErr    *domain.TimeoutError
	)
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest
	case errors.As(err, &authzErr):
		return http.StatusForbidden
	case errors.As(err, &timeoutErr):
		return http.StatusGatewayTimeout
	case errors.As(err, &connErr):
		return http.StatusBadGateway
	default:
		// execution / parse: удаленная сторона отработала некорректно
		return http.StatusBadGateway
	}
}
