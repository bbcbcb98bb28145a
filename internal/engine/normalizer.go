package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xela07ax/soc-response-gateway/internal/domain"
)

// maxUnwrapDepth — жесткий потолок итераций разворачивания конвертов.
// Патологически вложенный или враждебный ответ не должен стоить
// неограниченной работы: превышение потолка — ParseError, не зависание.
const maxUnwrapDepth = 8

// transportIdentityKeys — служебные поля, которые транспорт удаленного вызова
// навешивает на результат. Объект с полем "value" и любым из этих полей —
// транспортный конверт, а не полезная нагрузка.
var transportIdentityKeys = []string{"PSComputerName", "RunspaceId", "PSShowComputerName"}

// Normalize извлекает каноническое значение из сырого вывода, который может
// быть обернут транспортными конвертами и/или перекодирован в строку
// произвольное (ограниченное) число раз. Классификация тотальна: любой вывод
// отображается ровно в один из {значение, ParseError, ExecutionError}.
func Normalize(raw *RawOutput) (any, error) {
	trimmed := strings.TrimSpace(raw.Stdout)

	// 1. Пустой stdout при успешном exit code — это пустой результат, не ошибка
	if trimmed == "" {
		if raw.ExitCode == 0 {
			return nil, nil
		}
		return nil, &domain.ExecutionError{
			Message: fmt.Sprintf("remote invocation exited with code %d and produced no output", raw.ExitCode),
			Detail:  strings.TrimSpace(raw.Stderr),
		}
	}

	// 2. Ищем внешний сбалансированный структурный фрагмент
	span, found := structuredSpan(trimmed)
	if !found {
		if raw.ExitCode == 0 {
			// Обычный текст при успехе — и есть каноническое значение
			return trimmed, nil
		}
		return nil, &domain.ExecutionError{
			Message: fmt.Sprintf("remote invocation exited with code %d", raw.ExitCode),
			Detail:  strings.TrimSpace(raw.Stderr + "\n" + raw.Stdout),
		}
	}

	// 3. Парсим фрагмент
	var working any
	if err := json.Unmarshal([]byte(span), &working); err != nil {
		if raw.ExitCode == 0 {
			return trimmed, nil
		}
		return nil, &domain.ExecutionError{
			Message: fmt.Sprintf("remote invocation exited with code %d with malformed output", raw.ExitCode),
			Detail:  strings.TrimSpace(raw.Stderr + "\n" + raw.Stdout),
		}
	}

	// Конверт успех/отказ самой процедуры: отказ несет сообщение
	if env, ok := working.(map[string]any); ok {
		if success, isEnvelope := env["Success"].(bool); isEnvelope {
			if !success {
				msg, _ := env["Error"].(string)
				if msg == "" {
					msg = "remote procedure reported failure"
				}
				return nil, &domain.ExecutionError{Message: msg, Detail: strings.TrimSpace(raw.Stderr)}
			}
			working = env["Data"]
		}
	}

	// 4-5. Чередуем разворачивание транспортных конвертов и перекодированных
	// строк в одном ограниченном цикле
	for i := 0; ; i++ {
		if i >= maxUnwrapDepth {
			return nil, &domain.ParseError{
				Reason: fmt.Sprintf("nested payload exceeds unwrap bound of %d", maxUnwrapDepth),
			}
		}

		if inner, ok := transportValue(working); ok {
			working = inner
			continue
		}

		if s, ok := working.(string); ok && looksStructured(s) {
			var parsed any
			if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &parsed); err != nil {
				// Не парсится — оставляем строку как есть и выходим
				break
			}
			working = parsed
			continue
		}

		break
	}

	// 6. Финальное рабочее значение — канонический результат
	return working, nil
}

// structuredSpan возвращает фрагмент от первой открывающей скобки до
// соответствующей ей последней закрывающей.
func structuredSpan(s string) (string, bool) {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return "", false
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end <= start {
		return "", false
	}
	return s[start : end+1], true
}

// transportValue распознает транспортный конверт: объект, несущий
// одновременно поле "value" и какой-либо транспортный идентификатор.
func transportValue(v any) (any, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	inner, hasValue := m["value"]
	if !hasValue {
		return nil, false
	}
	for _, key := range transportIdentityKeys {
		if _, hasID := m[key]; hasID {
			return inner, true
		}
	}
	return nil, false
}

// looksStructured — строка выглядит как структурный литерал.
func looksStructured(s string) bool {
	t := strings.TrimSpace(s)
	if len(t) < 2 {
		return false
	}
	return (t[0] == '{' && t[len(t)-1] == '}') || (t[0] == '[' && t[len(t)-1] == ']')
}
