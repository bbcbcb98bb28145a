package domain

import "time"

// Actor — кто запросил действие. Живет только в рамках запроса, не персистится.
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// InvocationRequest — одна команда оператора. Создается на запрос,
// потребляется ровно один раз, повторно не используется.
type InvocationRequest struct {
	Actor    Actor
	Action   Action
	TargetID string         // имя, алиас или адрес — разрешает Target Directory
	Args     map[string]any // сырые аргументы команды (до схемы параметров)
	Timeout  time.Duration  // 0 — взять DefaultTimeout действия
}

// InvocationResult — исход: либо каноническое значение, либо классифицированная
// ошибка. Производится ровно один раз на запрос, всегда ПОСЛЕ записи в аудит.
type InvocationResult struct {
	EventID    string        `json:"event_id"`
	IncidentID string        `json:"incident_id,omitempty"`
	Outcome    Outcome       `json:"outcome"`
	Value      any           `json:"value,omitempty"`
	Err        error         `json:"-"`
	Duration   time.Duration `json:"-"`
}
