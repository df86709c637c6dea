// queue.go — очередь фоновых пакетных запусков.
//
// Один worker выполняет задачи по порядку. HTTP-запрос ждёт результат
// ограниченное время; по истечении ожидания задача продолжает работу.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "instashare_queue_depth",
		Help: "Количество задач, ожидающих выполнения",
	})

	queueTasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "instashare_queue_tasks_total",
		Help: "Количество задач очереди по результату",
	}, []string{"result"})
)

var (
	// ErrQueueFull — буфер очереди заполнен.
	ErrQueueFull = errors.New("очередь задач переполнена")
	// ErrQueueStopped — очередь остановлена.
	ErrQueueStopped = errors.New("очередь задач остановлена")
	// ErrWaitTimeout — результат не получен за отведённое время; задача продолжает выполняться.
	ErrWaitTimeout = errors.New("истекло время ожидания результата задачи")
)

// Job — пакетная задача.
type Job func(ctx context.Context) (*BatchReport, error)

// Ticket — квитанция поставленной задачи.
type Ticket struct {
	ID         string
	EnqueuedAt time.Time

	job    Job
	done   chan struct{}
	report *BatchReport
	err    error
}

// Done закрывается после завершения задачи.
func (t *Ticket) Done() <-chan struct{} {
	return t.done
}

// Wait ждёт результат не дольше timeout (0 — без ограничения).
func (t *Ticket) Wait(ctx context.Context, timeout time.Duration) (*BatchReport, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-t.done:
		return t.report, t.err
	case <-expired:
		return nil, ErrWaitTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *Ticket) finish(report *BatchReport, err error) {
	t.report = report
	t.err = err
	close(t.done)
}

// TaskQueue — очередь с одним worker.
type TaskQueue struct {
	tasks  chan *Ticket
	logger *slog.Logger

	mu      sync.Mutex
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewTaskQueue создаёт очередь с буфером size.
func NewTaskQueue(size int, logger *slog.Logger) *TaskQueue {
	if size < 1 {
		size = 1
	}
	return &TaskQueue{
		tasks:  make(chan *Ticket, size),
		logger: logger.With(slog.String("component", "task_queue")),
	}
}

// Start запускает worker. Вызывается один раз при старте приложения.
func (q *TaskQueue) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	q.mu.Lock()
	q.cancel = cancel
	q.mu.Unlock()

	q.wg.Add(1)
	go q.run(workerCtx)

	q.logger.Info("Очередь задач запущена", slog.Int("capacity", cap(q.tasks)))
}

// Stop отменяет текущую задачу, отклоняет ожидающие и ждёт завершения worker.
func (q *TaskQueue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Unlock()

	q.wg.Wait()

	// Задачи, не взятые в работу
	for {
		select {
		case t := <-q.tasks:
			queueDepth.Dec()
			queueTasksTotal.WithLabelValues("rejected").Inc()
			t.finish(nil, ErrQueueStopped)
		default:
			q.logger.Info("Очередь задач остановлена")
			return
		}
	}
}

// Submit ставит задачу в очередь без блокировки.
func (q *TaskQueue) Submit(job Job) (*Ticket, error) {
	t := &Ticket{
		ID:         uuid.New().String(),
		EnqueuedAt: time.Now(),
		job:        job,
		done:       make(chan struct{}),
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return nil, ErrQueueStopped
	}

	select {
	case q.tasks <- t:
		queueDepth.Inc()
		q.logger.Debug("Задача поставлена в очередь", slog.String("task_id", t.ID))
		return t, nil
	default:
		queueTasksTotal.WithLabelValues("rejected").Inc()
		return nil, ErrQueueFull
	}
}

func (q *TaskQueue) run(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-q.tasks:
			queueDepth.Dec()
			if ctx.Err() != nil {
				queueTasksTotal.WithLabelValues("rejected").Inc()
				t.finish(nil, ErrQueueStopped)
				continue
			}
			q.execute(ctx, t)
		}
	}
}

func (q *TaskQueue) execute(ctx context.Context, t *Ticket) {
	start := time.Now()
	q.logger.Info("Задача запущена",
		slog.String("task_id", t.ID),
		slog.Duration("queued", start.Sub(t.EnqueuedAt)),
	)

	report, err := t.job(ctx)
	t.finish(report, err)

	if err != nil {
		queueTasksTotal.WithLabelValues("error").Inc()
		q.logger.Error("Задача завершилась ошибкой",
			slog.String("task_id", t.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	queueTasksTotal.WithLabelValues("completed").Inc()
	q.logger.Info("Задача завершена",
		slog.String("task_id", t.ID),
		slog.Duration("duration", time.Since(start)),
	)
}
