// batch.go — пакетная обработка всех pending записей.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/miguelitojb9/InstaShare/internal/domain/model"
	"github.com/miguelitojb9/InstaShare/internal/repository"
)

var (
	batchRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "instashare_batch_runs_total",
		Help: "Количество пакетных запусков по результату",
	}, []string{"result"})

	batchDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "instashare_batch_duration_seconds",
		Help:    "Длительность пакетного запуска в секундах",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
	})
)

// BatchReport — агрегированный отчёт пакетного запуска.
// Processed + Failed + Skipped == TotalFiles.
type BatchReport struct {
	TotalFiles int             `json:"total_files"`
	Processed  int             `json:"processed"`
	Failed     int             `json:"failed"`
	Skipped    int             `json:"skipped"`
	Details    []ProcessResult `json:"details"`
}

// Message — краткая сводка для ответа и логов.
func (r *BatchReport) Message() string {
	return fmt.Sprintf("Processed %d files, %d failed", r.Processed, r.Failed)
}

func (r *BatchReport) add(res ProcessResult) {
	switch res.Status {
	case ResultSuccess:
		r.Processed++
	case ResultSkipped:
		r.Skipped++
	default:
		r.Failed++
	}
	r.Details = append(r.Details, res)
}

// Progress получает события пакетного запуска (вывод CLI).
type Progress interface {
	BatchStarted(total int)
	FileStarted(rec *model.FileRecord)
	FileFinished(res ProcessResult)
}

// NopProgress — Progress без вывода.
type NopProgress struct{}

func (NopProgress) BatchStarted(int) {}

func (NopProgress) FileStarted(*model.FileRecord) {}

func (NopProgress) FileFinished(ProcessResult) {}

// BatchRunner обрабатывает снимок pending записей последовательно.
type BatchRunner struct {
	files      repository.FileRepository
	compressor *Compressor
	logger     *slog.Logger
}

// NewBatchRunner создаёт пакетный обработчик.
func NewBatchRunner(files repository.FileRepository, compressor *Compressor, logger *slog.Logger) *BatchRunner {
	return &BatchRunner{
		files:      files,
		compressor: compressor,
		logger:     logger.With(slog.String("component", "batch")),
	}
}

// Run обрабатывает все записи, бывшие pending на момент вызова.
// Ошибка возвращается только при структурном сбое: не удалось получить
// список или контекст отменён между файлами. Сбой отдельного файла
// фиксируется в отчёте и запуск не прерывает.
func (b *BatchRunner) Run(ctx context.Context, progress Progress) (*BatchReport, error) {
	if progress == nil {
		progress = NopProgress{}
	}
	start := time.Now()
	defer func() {
		batchDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	pending, err := b.files.ListPending(ctx)
	if err != nil {
		batchRunsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("ошибка получения списка pending файлов: %w", err)
	}

	report := &BatchReport{
		TotalFiles: len(pending),
		Details:    make([]ProcessResult, 0, len(pending)),
	}
	progress.BatchStarted(len(pending))

	b.logger.Info("Пакетная обработка запущена", slog.Int("total_files", len(pending)))

	for _, rec := range pending {
		if err := ctx.Err(); err != nil {
			batchRunsTotal.WithLabelValues("canceled").Inc()
			b.logger.Warn("Пакетная обработка прервана",
				slog.Int("done", len(report.Details)),
				slog.Int("total_files", report.TotalFiles),
			)
			return report, fmt.Errorf("пакетная обработка прервана: %w", err)
		}

		progress.FileStarted(rec)
		res := b.compressor.Process(ctx, rec)
		report.add(res)
		progress.FileFinished(res)
	}

	batchRunsTotal.WithLabelValues("completed").Inc()
	b.logger.Info("Пакетная обработка завершена",
		slog.Int("total_files", report.TotalFiles),
		slog.Int("processed", report.Processed),
		slog.Int("failed", report.Failed),
		slog.Int("skipped", report.Skipped),
		slog.Duration("duration", time.Since(start)),
	)
	return report, nil
}
