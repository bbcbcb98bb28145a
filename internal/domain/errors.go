package domain

import (
	"errors"
	"fmt"
	"time"
)

// Таксономия ошибок пайплайна. Каждый терминальный исход отображается
// ровно в один из типов — классификация тотальна, ничего не глотаем молча.

// ValidationError — битый или отсутствующий вход. Никогда не доходит
// ни до авторизации, ни до исполнения.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// AuthorizationError — у актора нет разрешения. Фиксируется в аудите как DENIED,
// удаленный вызов не выполняется.
type AuthorizationError struct {
	ActorID string
	Role    string
	Action  Action
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("authorization: actor %s (role %s) is not permitted to %s", e.ActorID, e.Role, e.Action)
}

// ConnectivityError — процесс удаленного вызова не удалось даже запустить.
type ConnectivityError struct {
	Target string
	Err    error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("connectivity: target %s unreachable: %v", e.Target, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// TimeoutError — удаленный вызов не уложился в дедлайн, процесс принудительно убит.
type TimeoutError struct {
	Target  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout: target %s did not respond within %s", e.Target, e.Timeout)
}

// ExecutionError — удаленная процедура отработала, но сообщила об отказе
// (конверт с ошибкой, либо exit code + stderr указывают на сбой).
type ExecutionError struct {
	Message string
	Detail  string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution: %s", e.Message)
}

// ParseError — вывод не удалось привести к каноническому значению.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse: %s", e.Reason)
}

// Outcome — финальный статус попытки в журнале аудита.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailed  Outcome = "FAILED"
	OutcomeDenied  Outcome = "DENIED"
)

// ClassifyOutcome отображает ошибку в статус аудита.
// nil — успех; AuthorizationError — DENIED; всё остальное — FAILED.
func ClassifyOutcome(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	var authzErr *AuthorizationError
	if errors.As(err, &authzErr) {
		return OutcomeDenied
	}
	return OutcomeFailed
}

// ErrorKind возвращает короткий тег класса ошибки для метрик и деталей аудита.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case isAs[*ValidationError](err):
		return "validation"
	case isAs[*AuthorizationError](err):
		return "authorization"
	case isAs[*ConnectivityError](err):
		return "connectivity"
	case isAs[*TimeoutError](err):
		return "timeout"
	case isAs[*ExecutionError](err):
		return "execution"
	case isAs[*ParseError](err):
		return "parse"
	default:
		return "internal"
	}
}

func isAs[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}
