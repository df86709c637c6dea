// trigger.go — запуск пакетной обработки из HTTP.
//
// Два режима (IS_BATCH_TRIGGER_MODE):
//   - queue — задача ставится во внутреннюю очередь, запрос ждёт результат ограниченное время;
//   - subprocess — запускается бинарник process-files с --output=json и таймаутом.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// ErrTriggerTimeout — пакетная обработка не уложилась в отведённое время.
var ErrTriggerTimeout = errors.New("timeout")

// BatchTrigger — точка запуска пакетной обработки.
type BatchTrigger interface {
	Trigger(ctx context.Context) (*BatchReport, error)
	Mode() string
}

// QueueTrigger — запуск через TaskQueue.
type QueueTrigger struct {
	queue   *TaskQueue
	runner  *BatchRunner
	timeout time.Duration
	logger  *slog.Logger
}

// NewQueueTrigger создаёт триггер очереди. timeout — ограничение ожидания результата.
func NewQueueTrigger(queue *TaskQueue, runner *BatchRunner, timeout time.Duration, logger *slog.Logger) *QueueTrigger {
	return &QueueTrigger{
		queue:   queue,
		runner:  runner,
		timeout: timeout,
		logger:  logger.With(slog.String("component", "queue_trigger")),
	}
}

// Mode — имя режима.
func (t *QueueTrigger) Mode() string {
	return "queue"
}

// Trigger ставит пакетный запуск в очередь и ждёт отчёт.
// При истечении ожидания возвращает ErrTriggerTimeout, запуск продолжается.
func (t *QueueTrigger) Trigger(ctx context.Context) (*BatchReport, error) {
	ticket, err := t.queue.Submit(func(ctx context.Context) (*BatchReport, error) {
		return t.runner.Run(ctx, nil)
	})
	if err != nil {
		return nil, err
	}

	report, err := ticket.Wait(ctx, t.timeout)
	if errors.Is(err, ErrWaitTimeout) {
		t.logger.Warn("Пакетная обработка не завершилась за отведённое время",
			slog.String("task_id", ticket.ID),
			slog.Duration("timeout", t.timeout),
		)
		return nil, fmt.Errorf("%w: задача %s продолжает выполняться", ErrTriggerTimeout, ticket.ID)
	}
	return report, err
}

// SubprocessError — ненулевой код завершения дочернего процесса.
type SubprocessError struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

func (e *SubprocessError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		msg = strings.TrimSpace(e.Stdout)
	}
	return fmt.Sprintf("process-files завершился с кодом %d: %s", e.ExitCode, msg)
}

// SubprocessTrigger — запуск CLI process-files дочерним процессом.
type SubprocessTrigger struct {
	bin     string
	args    []string
	env     []string
	timeout time.Duration
	logger  *slog.Logger
}

// NewSubprocessTrigger создаёт триггер подпроцесса.
// args добавляются перед --output=json, env — к окружению текущего процесса.
func NewSubprocessTrigger(bin string, args, env []string, timeout time.Duration, logger *slog.Logger) *SubprocessTrigger {
	return &SubprocessTrigger{
		bin:     bin,
		args:    args,
		env:     env,
		timeout: timeout,
		logger:  logger.With(slog.String("component", "subprocess_trigger")),
	}
}

// Mode — имя режима.
func (t *SubprocessTrigger) Mode() string {
	return "subprocess"
}

// Trigger запускает process-files и разбирает JSON-отчёт из stdout.
func (t *SubprocessTrigger) Trigger(ctx context.Context) (*BatchReport, error) {
	runCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	args := append(append([]string{}, t.args...), "--output=json")
	cmd := exec.CommandContext(runCtx, t.bin, args...)
	cmd.Env = append(os.Environ(), t.env...)
	// Не ждём внуков процесса дольше секунды после отмены
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()

	if timedOut(runCtx, err) {
		t.logger.Warn("process-files превысил таймаут",
			slog.Duration("timeout", t.timeout),
			slog.String("stderr", tail(stderr.String(), 2048)),
		)
		return nil, ErrTriggerTimeout
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &SubprocessError{
				ExitCode: exitErr.ExitCode(),
				Stdout:   stdout.String(),
				Stderr:   stderr.String(),
			}
		}
		return nil, fmt.Errorf("ошибка запуска %s: %w", t.bin, err)
	}

	report := &BatchReport{}
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), report); err != nil {
		return nil, fmt.Errorf("некорректный вывод process-files: %w", err)
	}
	if report.Details == nil {
		report.Details = []ProcessResult{}
	}

	t.logger.Info("process-files завершён",
		slog.Int("total_files", report.TotalFiles),
		slog.Int("processed", report.Processed),
		slog.Int("failed", report.Failed),
		slog.Duration("duration", time.Since(start)),
	)
	return report, nil
}

// timedOut — процесс завершился с ошибкой из-за истёкшего таймаута.
// Успешный запуск, совпавший с дедлайном, таймаутом не считается.
func timedOut(runCtx context.Context, runErr error) bool {
	return runErr != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded)
}

// tail возвращает последние n байт строки.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
