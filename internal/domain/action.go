package domain

import (
	"fmt"
	"time"
)

// Action — закрытый набор привилегированных операций реагирования.
// Никакого динамического диспатча по строкам: каждое действие привязано
// к своему разрешению, удаленной процедуре и схеме параметров на этапе
// определения (Compile-time Binding). Неизвестное действие отсекается
// валидацией еще до авторизации.
type Action string

const (
	ActionStatus        Action = "status"         // Опрос состояния хоста
	ActionIsolate       Action = "isolate"        // Сетевая изоляция
	ActionRelease       Action = "release"        // Снятие изоляции
	ActionCollect       Action = "collect"        // Сбор форензики (event log, prefetch)
	ActionTerminate     Action = "terminate"      // Завершение процесса
	ActionMemoryCapture Action = "memory-capture" // Снятие дампа памяти процесса
)

// Permission — тег разрешения в RBAC-ролях. Release намеренно использует
// разрешение isolate: кто может изолировать хост, тот может и вернуть его в сеть.
type Permission string

const (
	PermStatus        Permission = "status"
	PermIsolate       Permission = "isolate"
	PermCollect       Permission = "collect"
	PermTerminate     Permission = "terminate"
	PermMemoryCapture Permission = "memory-capture"
)

// ActionSpec — полное описание действия: что можно, чем исполняется, как долго ждать.
type ActionSpec struct {
	Action     Action
	Permission Permission

	// Procedure — имя удаленной процедуры (тело скрипта живет на стороне
	// эндпоинта-агента, для пайплайна это опциональный черный ящик).
	Procedure string

	// Idempotent разрешает внешнему Reliability-слою ретраи.
	// Мутирующие действия (isolate, terminate...) ретраить нельзя.
	Idempotent bool

	DefaultTimeout time.Duration

	// BuildParams валидирует входные аргументы команды и собирает
	// типизированную карту параметров для удаленного вызова.
	BuildParams func(args map[string]any) (map[string]any, error)
}

// Specs — реестр действий. Закрытый: ключи фиксированы константами выше.
var Specs = map[Action]ActionSpec{
	ActionStatus: {
		Action:         ActionStatus,
		Permission:     PermStatus,
		Procedure:      "Get-HostStatus",
		Idempotent:     true,
		DefaultTimeout: 30 * time.Second,
		BuildParams: func(args map[string]any) (map[string]any, error) {
			return map[string]any{}, nil
		},
	},
	ActionIsolate: {
		Action:         ActionIsolate,
		Permission:     PermIsolate,
		Procedure:      "Set-HostIsolation",
		Idempotent:     false,
		DefaultTimeout: 60 * time.Second,
		BuildParams: func(args map[string]any) (map[string]any, error) {
			allowed, err := optStringList(args, "allowed_addresses")
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"Isolate":          true,
				"AllowedAddresses": allowed,
			}, nil
		},
	},
	ActionRelease: {
		Action:         ActionRelease,
		Permission:     PermIsolate,
		Procedure:      "Set-HostIsolation",
		Idempotent:     false,
		DefaultTimeout: 60 * time.Second,
		BuildParams: func(args map[string]any) (map[string]any, error) {
			return map[string]any{
				"Isolate":          false,
				"AllowedAddresses": []string{},
			}, nil
		},
	},
	ActionCollect: {
		Action:         ActionCollect,
		Permission:     PermCollect,
		Procedure:      "Invoke-TriageCollection",
		Idempotent:     false,
		DefaultTimeout: 300 * time.Second,
		BuildParams: func(args map[string]any) (map[string]any, error) {
			days, err := optInt(args, "days_back", 7)
			if err != nil {
				return nil, err
			}
			if days < 1 || days > 90 {
				return nil, &ValidationError{Field: "days_back", Reason: "must be between 1 and 90"}
			}
			return map[string]any{"DaysBack": days}, nil
		},
	},
	ActionTerminate: {
		Action:         ActionTerminate,
		Permission:     PermTerminate,
		Procedure:      "Stop-TargetProcess",
		Idempotent:     false,
		DefaultTimeout: 30 * time.Second,
		BuildParams: func(args map[string]any) (map[string]any, error) {
			pid, err := reqString(args, "process_id")
			if err != nil {
				return nil, err
			}
			return map[string]any{"ProcessId": pid}, nil
		},
	},
	ActionMemoryCapture: {
		Action:         ActionMemoryCapture,
		Permission:     PermMemoryCapture,
		Procedure:      "Invoke-MemoryCapture",
		Idempotent:     false,
		DefaultTimeout: 600 * time.Second,
		BuildParams: func(args map[string]any) (map[string]any, error) {
			pid, err := reqString(args, "process_id")
			if err != nil {
				return nil, err
			}
			return map[string]any{"ProcessId": pid}, nil
		},
	},
}

// LookupAction возвращает спецификацию или ValidationError для чужих тегов.
func LookupAction(name string) (ActionSpec, error) {
	spec, ok := Specs[Action(name)]
	if !ok {
		return ActionSpec{}, &ValidationError{Field: "action", Reason: fmt.Sprintf("unknown action %q", name)}
	}
	return spec, nil
}

// --- Хелперы извлечения аргументов (JSON числа приходят как float64) ---

func reqString(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", &ValidationError{Field: key, Reason: "required argument is missing"}
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", &ValidationError{Field: key, Reason: "must be a non-empty string"}
	}
	return s, nil
}

func optInt(args map[string]any, key string, def int) (int, error) {
	v, ok := args[key]
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case float64:
		if n != float64(int(n)) {
			return 0, &ValidationError{Field: key, Reason: "must be an integer"}
		}
		return int(n), nil
	default:
		return 0, &ValidationError{Field: key, Reason: "must be an integer"}
	}
}

func optStringList(args map[string]any, key string) ([]string, error) {
	v, ok := args[key]
	if !ok {
		return []string{}, nil
	}
	switch list := v.(type) {
	case []string:
		return list, nil
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, &ValidationError{Field: key, Reason: "must be a list of strings"}
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, &ValidationError{Field: key, Reason: "must be a list of strings"}
	}
}
