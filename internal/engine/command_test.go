package engine

import (
	"strings"
	"testing"

	"github.com/xela07ax/soc-response-gateway/internal/domain"
)

var testCred = Credential{Username: "svc-soc", Password: "s3cr3t!"}

func buildScript(t *testing.T, params map[string]any) string {
	t.Helper()
	spec := domain.Specs[domain.ActionTerminate]
	argv, err := BuildCommand("pwsh", testCred, "10.0.0.5", spec, params)
	if err != nil {
		t.Fatalf("BuildCommand: %v", err)
	}
	if len(argv) != 5 {
		t.Fatalf("argv len = %d, want 5", len(argv))
	}
	if argv[0] != "pwsh" || argv[1] != "-NoProfile" || argv[2] != "-NonInteractive" || argv[3] != "-Command" {
		t.Fatalf("argv prefix = %v", argv[:4])
	}
	return argv[4]
}

func TestBuildCommandShape(t *testing.T) {
	script := buildScript(t, map[string]any{"ProcessId": "4242"})

	for _, want := range []string{
		"ConvertTo-SecureString 's3cr3t!'",
		"PSCredential('svc-soc'",
		"Invoke-Command -ComputerName '10.0.0.5'",
		"Stop-TargetProcess -ProcessId '4242'",
		"ConvertTo-Json -Depth 8 -Compress",
	} {
		if !strings.Contains(script, want) {
			t.Errorf("скрипт не содержит %q:\n%s", want, script)
		}
	}
}

// Значение параметра не должно вырываться из строкового литерала:
// одинарные кавычки удваиваются, интерполяции внутри '...' нет.
func TestBuildCommandInjection(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  string
	}{
		{"кавычка", "1'; Remove-Item C:\\ -Recurse; '", "-ProcessId '1''; Remove-Item C:\\ -Recurse; '''"},
		{"подстановка переменной", "$env:SECRET", "-ProcessId '$env:SECRET'"},
		{"subexpression", "$(whoami)", "-ProcessId '$(whoami)'"},
		{"backtick", "`n", "-ProcessId '`n'"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			script := buildScript(t, map[string]any{"ProcessId": tt.value})
			if !strings.Contains(script, tt.want) {
				t.Errorf("ожидали литерал %q в скрипте:\n%s", tt.want, script)
			}
		})
	}
}

func TestSerializeParams(t *testing.T) {
	got, err := serializeParams(map[string]any{
		"Zeta":    "last",
		"Alpha":   42,
		"Isolate": true,
		"Quiet":   false,
		"Ratio":   1.5,
		"Hosts":   []string{"10.0.0.1", "dc-01"},
		"Empty":   []string{},
	})
	if err != nil {
		t.Fatalf("serializeParams: %v", err)
	}
	// Ключи сортируются — вывод детерминирован
	want := " -Alpha 42 -Empty @() -Hosts '10.0.0.1','dc-01' -Isolate:$true -Quiet:$false -Ratio 1.5 -Zeta 'last'"
	if got != want {
		t.Errorf("serializeParams =\n%q\nwant\n%q", got, want)
	}
}

func TestSerializeParamsUnsupportedType(t *testing.T) {
	if _, err := serializeParams(map[string]any{"Bad": map[string]int{"x": 1}}); err == nil {
		t.Error("неподдерживаемый тип параметра прошел без ошибки")
	}
}

func TestRedact(t *testing.T) {
	cred := Credential{Username: "svc", Password: "hunter2"}

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"сырой пароль", "exec failed: hunter2 rejected", "exec failed: [REDACTED] rejected"},
		{"экранированный литерал", "arg 'hunter2' invalid", "arg [REDACTED] invalid"},
		{"без пароля", "plain message", "plain message"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cred.Redact(tt.in); got != tt.want {
				t.Errorf("Redact(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}

	// Пустой пароль не должен превращать Redact в no-op с паникой
	empty := Credential{}
	if got := empty.Redact("text"); got != "text" {
		t.Errorf("Redact с пустым паролем = %q", got)
	}
}
