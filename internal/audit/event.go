package audit

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/soc-response-gateway/internal/domain"
)

// Entry — одна неизменяемая запись журнала: попытка привилегированного
// действия и ее исход. После записи никогда не редактируется и не удаляется.
// Формат forward-compatible: новые опциональные поля допустимы, удаление — нет.
type Entry struct {
	EventID    string         `json:"event_id"`
	TraceID    string         `json:"trace_id,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Action     domain.Action  `json:"action"`
	Actor      domain.Actor   `json:"actor"`
	Target     string         `json:"target"`            // идентификатор из запроса
	Address    string         `json:"address,omitempty"` // результат разрешения
	Outcome    domain.Outcome `json:"outcome"`
	Details    map[string]any `json:"details,omitempty"`
	Error      string         `json:"error,omitempty"`
	DurationMs int64          `json:"duration_ms,omitempty"`
	IncidentID string         `json:"incident_id,omitempty"`
}

// NewEventID генерирует уникальный сортируемый идентификатор события:
// датный префикс + случайный uuid-суффикс. Строгая монотонность не нужна,
// уникальность — обязательна.
func NewEventID(now time.Time) string {
	return fmt.Sprintf("EVT-%s-%s", now.UTC().Format("20060102"), uuid.NewString()[:8])
}
