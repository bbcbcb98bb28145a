package engine

import (
	"context"
	"errors"
	"time"

	"github.com/xela07ax/soc-response-gateway/internal/audit"
	"github.com/xela07ax/soc-response-gateway/internal/directory"
	"github.com/xela07ax/soc-response-gateway/internal/domain"
	"github.com/xela07ax/soc-response-gateway/internal/incident"
	"github.com/xela07ax/soc-response-gateway/internal/policy"

	"go.uber.org/zap"
)

// Core — ядро пайплайна реагирования: валидация -> разрешение цели ->
// авторизация -> удаленный вызов -> нормализация -> аудит -> инцидент.
// Порядок жесткий: ни один результат не уходит вызывающему раньше, чем
// попытка записана в журнал (audit-before-response).
type Core struct {
	directory  *directory.Directory
	enforcer   *policy.Enforcer
	invoker    Invoker
	ledger     *audit.Ledger
	incidents  *incident.Correlator
	isolation  *IsolationManager
	metrics    *Metrics
	cred       Credential
	maxTimeout time.Duration
	logger     *zap.Logger
}

func NewCore(
	dir *directory.Directory,
	enforcer *policy.Enforcer,
	invoker Invoker,
	ledger *audit.Ledger,
	incidents *incident.Correlator,
	isolation *IsolationManager,
	metrics *Metrics,
	cred Credential,
	maxTimeout time.Duration,
	logger *zap.Logger,
) *Core {
	return &Core{
		directory:  dir,
		enforcer:   enforcer,
		invoker:    invoker,
		ledger:     ledger,
		incidents:  incidents,
		isolation:  isolation,
		metrics:    metrics,
		cred:       cred,
		maxTimeout: maxTimeout,
		logger:     logger.Named("pipeline"),
	}
}

// Execute проводит один InvocationRequest через весь пайплайн.
// Запрос потребляется ровно один раз; результат производится ровно один раз.
func (c *Core) Execute(ctx context.Context, req domain.InvocationRequest) domain.InvocationResult {
	start := time.Now()
	traceID := TraceIDFromContext(ctx)
	c.metrics.TotalRequests.WithLabelValues(string(req.Action)).Inc()

	// ШАГ 0: Валидация. Битый вход не доходит ни до авторизации, ни до
	// аудита — попытки как таковой еще не было.
	spec, err := domain.LookupAction(string(req.Action))
	if err != nil {
		return c.reject(err)
	}
	if err := c.directory.Validate(req.TargetID); err != nil {
		return c.reject(err)
	}
	params, err := spec.BuildParams(req.Args)
	if err != nil {
		return c.reject(err)
	}

	// ШАГ 1: Разрешение цели (чистый lookup, без I/O)
	address := c.directory.Resolve(req.TargetID)

	// ШАГ 2: Авторизация (Fail-Closed). Отказ ВСЕГДА пишется в журнал
	// как DENIED — единая политика для всех командных путей.
	if err := c.enforcer.Authorize(req.Actor, spec); err != nil {
		c.metrics.ErrorTotal.WithLabelValues("authorization").Inc()
		entry := audit.EntryFor(req, traceID, address)
		entry.Outcome = domain.OutcomeDenied
		entry.Error = err.Error()
		recorded := c.ledger.Record(entry)

		c.logger.Warn("action denied",
			zap.String("trace_id", traceID),
			zap.String("actor", req.Actor.ID),
			zap.String("action", string(req.Action)),
			zap.String("target", req.TargetID))

		c.observe(req.Action, domain.OutcomeDenied, start)
		return domain.InvocationResult{
			EventID:  recorded.EventID,
			Outcome:  domain.OutcomeDenied,
			Err:      err,
			Duration: time.Since(start),
		}
	}

	// ШАГ 3: Удаленный вызов с жестким дедлайном
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = spec.DefaultTimeout
	}
	if c.maxTimeout > 0 && timeout > c.maxTimeout {
		timeout = c.maxTimeout
	}

	raw, pipeErr := c.invoker.Invoke(ctx, address, spec, params, timeout)

	// ШАГ 4: Нормализация сырого вывода в каноническое значение
	var value any
	if pipeErr == nil {
		value, pipeErr = Normalize(raw)
	}
	if pipeErr != nil {
		// Учетные данные не должны утечь в видимое пользователю сообщение
		pipeErr = c.redactErr(pipeErr)
		c.metrics.ErrorTotal.WithLabelValues(domain.ErrorKind(pipeErr)).Inc()
	}

	outcome := domain.ClassifyOutcome(pipeErr)
	elapsed := time.Since(start)

	// ШАГ 5: Аудит — строго до возврата результата. Id события выдается
	// здесь, чтобы шаг инцидента ссылался на ту же запись журнала
	entry := audit.EntryFor(req, traceID, address)
	entry.EventID = audit.NewEventID(time.Now())
	entry.Outcome = outcome
	entry.DurationMs = elapsed.Milliseconds()
	entry.Details = map[string]any{
		"procedure": spec.Procedure,
		"params":    params,
	}
	if raw != nil {
		entry.Details["exit_code"] = raw.ExitCode
	}
	if pipeErr != nil {
		entry.Error = pipeErr.Error()
		entry.Details["error_kind"] = domain.ErrorKind(pipeErr)
	}

	// ШАГ 6: Корреляция — каждое исполненное действие прикрепляется к
	// открытому инциденту цели (первое действие его открывает)
	incID := c.incidents.Attach(req.TargetID, "response", incident.ActionRecord{
		Action:  req.Action,
		ActorID: req.Actor.ID,
		Outcome: outcome,
		EventID: entry.EventID,
	})
	entry.IncidentID = incID
	recorded := c.ledger.Record(entry)

	// ШАГ 7: Обновление состояния изоляции
	if outcome == domain.OutcomeSuccess {
		switch req.Action {
		case domain.ActionIsolate:
			c.isolation.MarkIsolated(ctx, req.TargetID)
		case domain.ActionRelease:
			c.isolation.ClearIsolated(ctx, req.TargetID)
		case domain.ActionStatus:
			// Ответ статуса дополняется локальным состоянием изоляции
			if m, ok := value.(map[string]any); ok {
				m["IsolatedLocally"] = c.isolation.IsIsolated(req.TargetID)
			}
		}
		c.metrics.IsolatedTargets.Set(float64(len(c.isolation.List())))
	}

	c.observe(req.Action, outcome, start)
	c.logger.Info("action completed",
		zap.String("trace_id", traceID),
		zap.String("event_id", recorded.EventID),
		zap.String("incident_id", incID),
		zap.String("action", string(req.Action)),
		zap.String("target", req.TargetID),
		zap.String("outcome", string(outcome)),
		zap.Duration("elapsed", elapsed))

	return domain.InvocationResult{
		EventID:    recorded.EventID,
		IncidentID: incID,
		Outcome:    outcome,
		Value:      value,
		Err:        pipeErr,
		Duration:   elapsed,
	}
}

// reject — досрочный выход на валидации: попытка не состоялась, в журнал
// не пишем, исход не классифицируем как DENIED/FAILED.
func (c *Core) reject(err error) domain.InvocationResult {
	c.metrics.ErrorTotal.WithLabelValues("validation").Inc()
	return domain.InvocationResult{Err: err}
}

// redactErr вычищает пароль подключения из сообщений таксономии.
func (c *Core) redactErr(err error) error {
	var execErr *domain.ExecutionError
	if errors.As(err, &execErr) {
		execErr.Message = c.cred.Redact(execErr.Message)
		execErr.Detail = c.cred.Redact(execErr.Detail)
		return execErr
	}
	var connErr *domain.ConnectivityError
	if errors.As(err, &connErr) && connErr.Err != nil {
		connErr.Err = errors.New(c.cred.Redact(connErr.Err.Error()))
		return connErr
	}
	return err
}

func (c *Core) observe(action domain.Action, outcome domain.Outcome, start time.Time) {
	c.metrics.RequestDuration.
		WithLabelValues(string(action), string(outcome)).
		Observe(time.Since(start).Seconds())
}
