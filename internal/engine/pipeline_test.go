package engine

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xela07ax/soc-response-gateway/internal/audit"
	"github.com/xela07ax/soc-response-gateway/internal/directory"
	"github.com/xela07ax/soc-response-gateway/internal/domain"
	"github.com/xela07ax/soc-response-gateway/internal/incident"
	"github.com/xela07ax/soc-response-gateway/internal/policy"
	"go.uber.org/zap"
)

// fakeInvoker подменяет удаленный вызов заранее заданным ответом.
type fakeInvoker struct {
	calls  int64
	output *RawOutput
	err    error

	lastAddress string
	lastTimeout time.Duration
}

func (f *fakeInvoker) Invoke(ctx context.Context, address string, spec domain.ActionSpec, params map[string]any, timeout time.Duration) (*RawOutput, error) {
	atomic.AddInt64(&f.calls, 1)
	f.lastAddress = address
	f.lastTimeout = timeout
	return f.output, f.err
}

type coreFixture struct {
	core      *Core
	invoker   *fakeInvoker
	ledger    *audit.Ledger
	incidents *incident.Correlator
	isolation *IsolationManager
}

func newCoreFixture(t *testing.T, inv *fakeInvoker) *coreFixture {
	t.Helper()
	logger := zap.NewNop()

	dir := directory.New("", logger)
	dir.Replace(&directory.Snapshot{
		Targets: map[string]domain.Target{
			"vm1": {Name: "vm1", Address: "10.0.0.5"},
		},
		Aliases: map[string]string{"web-01": "vm1"},
	})

	enforcer := policy.NewEnforcer("", logger)
	enforcer.Replace(&policy.RoleSet{
		Roles: map[string]map[domain.Permission]struct{}{
			"SOC_TIER1": {domain.PermStatus: {}},
			"SOC_TIER2": {
				domain.PermStatus:    {},
				domain.PermIsolate:   {},
				domain.PermTerminate: {},
			},
		},
		Users:       map[string]string{"U-T1": "SOC_TIER1", "U-T2": "SOC_TIER2"},
		RequireAuth: true,
	})

	store, err := audit.OpenFileStore(filepath.Join(t.TempDir(), "audit.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	ledger := audit.NewLedger(store, nil, 10, time.Second, logger)

	incidents := incident.NewCorrelator(incident.NewMemoryRepository(), logger)
	isolation := NewIsolationManager(nil, logger)

	core := NewCore(dir, enforcer, inv, ledger, incidents, isolation,
		NewMetrics(nil), Credential{Username: "svc", Password: "pw-secret"},
		10*time.Minute, logger)

	return &coreFixture{core: core, invoker: inv, ledger: ledger, incidents: incidents, isolation: isolation}
}

func TestExecuteSuccess(t *testing.T) {
	fx := newCoreFixture(t, &fakeInvoker{
		output: &RawOutput{Stdout: `{"Success":true,"Data":{"Hostname":"vm1"},"Error":null}`, ExitCode: 0},
	})

	res := fx.core.Execute(context.Background(), domain.InvocationRequest{
		Actor:    domain.Actor{ID: "U-T2"},
		Action:   domain.ActionStatus,
		TargetID: "web-01",
	})

	if res.Outcome != domain.OutcomeSuccess {
		t.Fatalf("Outcome = %s, err = %v", res.Outcome, res.Err)
	}
	if res.EventID == "" || res.IncidentID == "" {
		t.Errorf("результат без идентификаторов: %+v", res)
	}
	if fx.invoker.lastAddress != "10.0.0.5" {
		t.Errorf("алиас разрешен в %q, want 10.0.0.5", fx.invoker.lastAddress)
	}
	if fx.invoker.lastTimeout != domain.Specs[domain.ActionStatus].DefaultTimeout {
		t.Errorf("timeout = %s, want дефолт действия", fx.invoker.lastTimeout)
	}

	// Аудит: запись уже в журнале на момент возврата результата
	entries, err := fx.ledger.Query(audit.QueryFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("в журнале %d записей, want 1", len(entries))
	}
	e := entries[0]
	if e.EventID != res.EventID || e.Outcome != domain.OutcomeSuccess ||
		e.Target != "web-01" || e.Address != "10.0.0.5" || e.IncidentID != res.IncidentID {
		t.Errorf("запись аудита: %+v", e)
	}

	// Корреляция: действие прикреплено к инциденту
	inc, err := fx.incidents.Get(res.IncidentID)
	if err != nil {
		t.Fatal(err)
	}
	if len(inc.Actions) != 1 || inc.Actions[0].Outcome != domain.OutcomeSuccess {
		t.Errorf("инцидент: %+v", inc)
	}
	// Шаг инцидента ссылается на ту же запись журнала
	if inc.Actions[0].EventID != res.EventID {
		t.Errorf("EventID шага = %q, want %q", inc.Actions[0].EventID, res.EventID)
	}
}

// Отказ авторизации: удаленный вызов не выполняется, DENIED пишется в журнал,
// инцидент не открывается.
func TestExecuteDenied(t *testing.T) {
	fx := newCoreFixture(t, &fakeInvoker{})

	res := fx.core.Execute(context.Background(), domain.InvocationRequest{
		Actor:    domain.Actor{ID: "U-T1"},
		Action:   domain.ActionIsolate,
		TargetID: "vm1",
	})

	if res.Outcome != domain.OutcomeDenied {
		t.Fatalf("Outcome = %s, want DENIED", res.Outcome)
	}
	var authzErr *domain.AuthorizationError
	if !errors.As(res.Err, &authzErr) {
		t.Errorf("Err = %v (%T)", res.Err, res.Err)
	}
	if atomic.LoadInt64(&fx.invoker.calls) != 0 {
		t.Error("удаленный вызов выполнился несмотря на отказ")
	}

	entries, _ := fx.ledger.Query(audit.QueryFilter{})
	if len(entries) != 1 || entries[0].Outcome != domain.OutcomeDenied {
		t.Errorf("журнал: %+v", entries)
	}
	if got := fx.incidents.List(incident.ListFilter{}); len(got) != 0 {
		t.Errorf("отказ открыл инцидент: %v", got)
	}
}

// Битый вход отсекается до авторизации и до журнала: попытки не было.
func TestExecuteValidationShortCircuit(t *testing.T) {
	fx := newCoreFixture(t, &fakeInvoker{})

	tests := []struct {
		name string
		req  domain.InvocationRequest
	}{
		{"неизвестное действие", domain.InvocationRequest{
			Actor: domain.Actor{ID: "U-T2"}, Action: "reboot", TargetID: "vm1"}},
		{"пустая цель", domain.InvocationRequest{
			Actor: domain.Actor{ID: "U-T2"}, Action: domain.ActionStatus, TargetID: ""}},
		{"невалидная цель", domain.InvocationRequest{
			Actor: domain.Actor{ID: "U-T2"}, Action: domain.ActionStatus, TargetID: "bad host"}},
		{"отсутствует обязательный аргумент", domain.InvocationRequest{
			Actor: domain.Actor{ID: "U-T2"}, Action: domain.ActionTerminate, TargetID: "vm1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := fx.core.Execute(context.Background(), tt.req)
			var vErr *domain.ValidationError
			if !errors.As(res.Err, &vErr) {
				t.Fatalf("Err = %v (%T), want *domain.ValidationError", res.Err, res.Err)
			}
		})
	}

	if atomic.LoadInt64(&fx.invoker.calls) != 0 {
		t.Error("битый вход дошел до удаленного вызова")
	}
	entries, _ := fx.ledger.Query(audit.QueryFilter{})
	if len(entries) != 0 {
		t.Errorf("валидация оставила следы в журнале: %+v", entries)
	}
}

func TestExecuteFailureAudited(t *testing.T) {
	fx := newCoreFixture(t, &fakeInvoker{
		err: &domain.TimeoutError{Target: "10.0.0.5", Timeout: 30 * time.Second},
	})

	res := fx.core.Execute(context.Background(), domain.InvocationRequest{
		Actor:    domain.Actor{ID: "U-T2"},
		Action:   domain.ActionStatus,
		TargetID: "vm1",
	})

	if res.Outcome != domain.OutcomeFailed {
		t.Fatalf("Outcome = %s, want FAILED", res.Outcome)
	}
	entries, _ := fx.ledger.Query(audit.QueryFilter{})
	if len(entries) != 1 || entries[0].Outcome != domain.OutcomeFailed {
		t.Fatalf("журнал: %+v", entries)
	}
	if entries[0].Details["error_kind"] != "timeout" {
		t.Errorf("error_kind = %v", entries[0].Details["error_kind"])
	}
	// Неуспешная попытка тоже прикрепляется к инциденту
	if res.IncidentID == "" {
		t.Error("FAILED попытка не прикреплена к инциденту")
	}
}

// Сообщение исполнения, видимое оператору, не содержит пароль подключения.
func TestExecuteRedactsCredential(t *testing.T) {
	fx := newCoreFixture(t, &fakeInvoker{
		output: &RawOutput{
			Stdout:   `{"Success":false,"Error":"auth failed for 'pw-secret'"}`,
			ExitCode: 0,
		},
	})

	res := fx.core.Execute(context.Background(), domain.InvocationRequest{
		Actor:    domain.Actor{ID: "U-T2"},
		Action:   domain.ActionStatus,
		TargetID: "vm1",
	})

	if res.Err == nil {
		t.Fatal("ожидали ExecutionError")
	}
	if msg := res.Err.Error(); containsSecret(msg) {
		t.Errorf("сообщение содержит пароль: %q", msg)
	}
	entries, _ := fx.ledger.Query(audit.QueryFilter{})
	if len(entries) == 1 && containsSecret(entries[0].Error) {
		t.Errorf("запись аудита содержит пароль: %q", entries[0].Error)
	}
}

func containsSecret(s string) bool {
	return len(s) > 0 && strings.Contains(s, "pw-secret")
}

func TestExecuteTimeoutCap(t *testing.T) {
	fx := newCoreFixture(t, &fakeInvoker{output: &RawOutput{ExitCode: 0}})

	fx.core.Execute(context.Background(), domain.InvocationRequest{
		Actor:    domain.Actor{ID: "U-T2"},
		Action:   domain.ActionStatus,
		TargetID: "vm1",
		Timeout:  5 * time.Hour,
	})

	if fx.invoker.lastTimeout != 10*time.Minute {
		t.Errorf("timeout = %s, want потолок 10m", fx.invoker.lastTimeout)
	}
}

// Успешная изоляция и снятие изоляции двигают локальное состояние.
func TestExecuteIsolationState(t *testing.T) {
	fx := newCoreFixture(t, &fakeInvoker{
		output: &RawOutput{Stdout: `{"Success":true,"Data":null,"Error":null}`, ExitCode: 0},
	})
	actor := domain.Actor{ID: "U-T2"}

	fx.core.Execute(context.Background(), domain.InvocationRequest{
		Actor: actor, Action: domain.ActionIsolate, TargetID: "vm1",
	})
	if !fx.isolation.IsIsolated("vm1") {
		t.Fatal("цель не помечена изолированной после успешного isolate")
	}

	// Ответ статуса несет локальную пометку изоляции
	fx.invoker.output = &RawOutput{Stdout: `{"Success":true,"Data":{"Hostname":"vm1"},"Error":null}`, ExitCode: 0}
	statusRes := fx.core.Execute(context.Background(), domain.InvocationRequest{
		Actor: actor, Action: domain.ActionStatus, TargetID: "vm1",
	})
	if m, ok := statusRes.Value.(map[string]any); !ok || m["IsolatedLocally"] != true {
		t.Errorf("status value = %#v, want пометку IsolatedLocally", statusRes.Value)
	}

	fx.core.Execute(context.Background(), domain.InvocationRequest{
		Actor: actor, Action: domain.ActionRelease, TargetID: "vm1",
	})
	if fx.isolation.IsIsolated("vm1") {
		t.Fatal("изоляция не снята после успешного release")
	}
}

// Неуспешный isolate состояние не трогает.
func TestExecuteFailedIsolateLeavesState(t *testing.T) {
	fx := newCoreFixture(t, &fakeInvoker{
		err: &domain.ConnectivityError{Target: "10.0.0.5", Err: errors.New("refused")},
	})

	fx.core.Execute(context.Background(), domain.InvocationRequest{
		Actor: domain.Actor{ID: "U-T2"}, Action: domain.ActionIsolate, TargetID: "vm1",
	})
	if fx.isolation.IsIsolated("vm1") {
		t.Error("FAILED isolate пометил цель изолированной")
	}
}
