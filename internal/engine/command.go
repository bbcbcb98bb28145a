package engine

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/xela07ax/soc-response-gateway/internal/domain"
)

// Credential — пара для подключения к эндпоинту. Подставляется один раз
// в преамбулу соединения; значения параметров экранируются независимо от нее
// и никогда не интерпретируются как исполняемый синтаксис.
type Credential struct {
	Username string
	Password string
}

// BuildCommand собирает argv удаленного вызова: единственный дочерний процесс
// шелла, которому передается готовый скрипт подключения и вызова процедуры.
//
// Типизированная сериализация параметров: строки — в одинарных кавычках с
// удвоением кавычек, булевы — $true/$false, числа — литералами, списки строк —
// экранированные литералы через запятую. Инъекция через значение параметра
// невозможна: внутри '...' PowerShell не раскрывает ни переменные, ни
// метасимволы.
func BuildCommand(shell string, cred Credential, address string, spec domain.ActionSpec, params map[string]any) ([]string, error) {
	args, err := serializeParams(params)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	// Преамбула соединения: учетные данные как PSCredential
	fmt.Fprintf(&b, "$srgPass = ConvertTo-SecureString %s -AsPlainText -Force; ", escapePSString(cred.Password))
	fmt.Fprintf(&b, "$srgCred = New-Object System.Management.Automation.PSCredential(%s, $srgPass); ", escapePSString(cred.Username))
	// Вызов именованной удаленной процедуры (тело живет на стороне эндпоинта)
	fmt.Fprintf(&b, "Invoke-Command -ComputerName %s -Credential $srgCred -ScriptBlock { %s%s } | ConvertTo-Json -Depth 8 -Compress",
		escapePSString(address), spec.Procedure, args)

	return []string{shell, "-NoProfile", "-NonInteractive", "-Command", b.String()}, nil
}

// serializeParams превращает карту параметров в детерминированную строку
// именованных аргументов (ключи сортируются).
func serializeParams(params map[string]any) (string, error) {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		lit, isSwitch, err := serializeValue(params[k])
		if err != nil {
			return "", fmt.Errorf("parameter %s: %w", k, err)
		}
		if isSwitch {
			// Булевы — как явный switch-параметр: -Isolate:$true
			fmt.Fprintf(&b, " -%s:%s", k, lit)
		} else {
			fmt.Fprintf(&b, " -%s %s", k, lit)
		}
	}
	return b.String(), nil
}

func serializeValue(v any) (lit string, isSwitch bool, err error) {
	switch val := v.(type) {
	case string:
		return escapePSString(val), false, nil
	case bool:
		if val {
			return "$true", true, nil
		}
		return "$false", true, nil
	case int:
		return strconv.Itoa(val), false, nil
	case int64:
		return strconv.FormatInt(val, 10), false, nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), false, nil
	case []string:
		if len(val) == 0 {
			return "@()", false, nil
		}
		parts := make([]string, len(val))
		for i, s := range val {
			parts[i] = escapePSString(s)
		}
		return strings.Join(parts, ","), false, nil
	default:
		return "", false, fmt.Errorf("unsupported parameter type %T", v)
	}
}

// escapePSString — одинарные кавычки с удвоением внутренних: единственная
// форма строкового литерала PowerShell без интерполяции.
func escapePSString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Redact вычищает учетные данные из строки, видимой пользователю.
// Сообщение об ошибке никогда не должно содержать пароль подключения,
// даже если тот присутствует в нижележащей командной строке.
func (c Credential) Redact(s string) string {
	if c.Password == "" {
		return s
	}
	s = strings.ReplaceAll(s, escapePSString(c.Password), "[REDACTED]")
	s = strings.ReplaceAll(s, c.Password, "[REDACTED]")
	return s
}
