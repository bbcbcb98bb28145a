package engine

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"

	"github.com/xela07ax/soc-response-gateway/internal/domain"
	"go.uber.org/zap"
)

// RawOutput — сырой результат удаленного вызова до нормализации.
// Ненулевой exit code сам по себе не авторитетен: часть успешных удаленных
// процедур завершается ненулевым статусом, решает содержимое.
type RawOutput struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Invoker — граница исполнения удаленного вызова.
type Invoker interface {
	Invoke(ctx context.Context, address string, spec domain.ActionSpec, params map[string]any, timeout time.Duration) (*RawOutput, error)
}

// ShellInvoker порождает ровно один дочерний процесс на вызов, раздельно и
// полностью захватывает stdout/stderr (с потолком по байтам) и принудительно
// убивает процесс по истечении дедлайна. Ретраев внутри нет — это политика
// внешнего слоя.
type ShellInvoker struct {
	shell     string
	cred      Credential
	maxOutput int
	logger    *zap.Logger
}

func NewShellInvoker(shell string, cred Credential, maxOutput int, logger *zap.Logger) *ShellInvoker {
	if maxOutput <= 0 {
		maxOutput = 1 << 20
	}
	return &ShellInvoker{
		shell:     shell,
		cred:      cred,
		maxOutput: maxOutput,
		logger:    logger.Named("invoker"),
	}
}

// limitWriter прекращает запись после limit байт, молча отбрасывая излишек,
// чтобы не завалить сам дочерний процесс ошибкой записи.
type limitWriter struct {
	buf   bytes.Buffer
	limit int
	n     int
}

func (lw *limitWriter) Write(p []byte) (int, error) {
	remaining := lw.limit - lw.n
	if remaining <= 0 {
		return len(p), nil
	}
	toWrite := p
	if len(p) > remaining {
		toWrite = p[:remaining]
	}
	n, _ := lw.buf.Write(toWrite)
	lw.n += n
	return len(p), nil
}

func (i *ShellInvoker) Invoke(ctx context.Context, address string, spec domain.ActionSpec, params map[string]any, timeout time.Duration) (*RawOutput, error) {
	argv, err := BuildCommand(i.shell, i.cred, address, spec, params)
	if err != nil {
		return nil, &domain.ValidationError{Field: "params", Reason: i.cred.Redact(err.Error())}
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// CommandContext по отмене контекста шлет SIGKILL — принудительное
	// завершение, никакого зависания
	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	stdout := &limitWriter{limit: i.maxOutput}
	stderr := &limitWriter{limit: i.maxOutput}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = 3 * time.Second

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	if runCtx.Err() == context.DeadlineExceeded {
		i.logger.Warn("remote invocation killed on deadline",
			zap.String("target", address),
			zap.String("procedure", spec.Procedure),
			zap.Duration("timeout", timeout))
		return nil, &domain.TimeoutError{Target: address, Timeout: timeout}
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			// Процесс не удалось даже запустить
			return nil, &domain.ConnectivityError{Target: address, Err: errors.New(i.cred.Redact(runErr.Error()))}
		}
		// Ненулевой exit — НЕ ошибка на этом уровне: вывод уходит
		// нормализатору, контент решает
	}

	raw := &RawOutput{
		Stdout:   stdout.buf.String(),
		Stderr:   stderr.buf.String(),
		ExitCode: cmd.ProcessState.ExitCode(),
	}

	i.logger.Debug("remote invocation finished",
		zap.String("target", address),
		zap.String("procedure", spec.Procedure),
		zap.Int("exit_code", raw.ExitCode),
		zap.Duration("elapsed", elapsed))
	return raw, nil
}
