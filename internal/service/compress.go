// compress.go — обработчик сжатия одной записи (Compression Worker).
//
// Единственная реализация сжатия: её вызывают пакетный запуск,
// обработка одного файла по HTTP и CLI.
package service

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/miguelitojb9/InstaShare/internal/domain/model"
	"github.com/miguelitojb9/InstaShare/internal/repository"
	"github.com/miguelitojb9/InstaShare/internal/storage/blob"
)

// Prometheus метрики сжатия
var (
	compressTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "instashare_compress_total",
		Help: "Количество попыток сжатия по результату",
	}, []string{"result"})

	compressDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "instashare_compress_duration_seconds",
		Help:    "Длительность сжатия одного файла в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
	})

	compressedBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "instashare_compressed_bytes_total",
		Help: "Суммарный размер созданных архивов в байтах",
	})
)

// errPipeAborted — хранилище перестало читать архив.
var errPipeAborted = errors.New("запись архива прервана")

// ResultStatus — исход обработки одной записи.
type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultError   ResultStatus = "error"
	// ResultSkipped — запись уже захвачена другим запуском или не в pending.
	ResultSkipped ResultStatus = "skipped"
)

// ProcessResult — запись детализации пакетного отчёта.
type ProcessResult struct {
	FileID        string       `json:"file_id"`
	FileName      string       `json:"file_name"`
	Status        ResultStatus `json:"status"`
	CompressedRef string       `json:"compressed_ref,omitempty"`
	Error         string       `json:"error,omitempty"`
}

// Compressor сжимает оригинал в ZIP и переводит запись в completed/failed.
type Compressor struct {
	files  repository.FileRepository
	store  blob.Store
	logger *slog.Logger
	now    func() time.Time

	// onChange — вызывается после смены статуса (инвалидация кэша статистики)
	onChange func(ownerID string)
}

// NewCompressor создаёт обработчик сжатия.
func NewCompressor(files repository.FileRepository, store blob.Store, logger *slog.Logger) *Compressor {
	return &Compressor{
		files:  files,
		store:  store,
		logger: logger.With(slog.String("component", "compressor")),
		now:    time.Now,
	}
}

// OnStatusChange регистрирует callback смены статуса записи.
func (c *Compressor) OnStatusChange(fn func(ownerID string)) {
	c.onChange = fn
}

// Process обрабатывает одну запись. Ошибки не возвращаются: любой сбой
// превращается в статус failed и текст ошибки в результате.
//
// Шаги:
//  1. Атомарный захват pending → processing
//  2. Потоковая запись ZIP (одна запись Deflate) в хранилище
//  3. completed + compressed_ref + processed_at, либо failed + last_error
func (c *Compressor) Process(ctx context.Context, rec *model.FileRecord) ProcessResult {
	res := ProcessResult{FileID: rec.ID, FileName: rec.DisplayName}

	claimed, err := c.files.ClaimPending(ctx, rec.ID)
	if err != nil {
		if errors.Is(err, repository.ErrStatusMismatch) {
			compressTotal.WithLabelValues(string(ResultSkipped)).Inc()
			res.Status = ResultSkipped
			res.Error = "файл не в статусе pending"
			return res
		}
		compressTotal.WithLabelValues(string(ResultError)).Inc()
		res.Status = ResultError
		res.Error = err.Error()
		c.logger.Error("Ошибка захвата файла",
			slog.String("file_id", rec.ID),
			slog.String("error", err.Error()),
		)
		return res
	}
	res.FileName = claimed.DisplayName
	c.notify(claimed.OwnerID)

	start := time.Now()
	key, size, err := c.compress(ctx, claimed)
	compressDurationSeconds.Observe(time.Since(start).Seconds())

	// Финальный статус сохраняется даже при отмене контекста запроса,
	// иначе запись останется в processing.
	persistCtx := context.WithoutCancel(ctx)

	if err == nil {
		err = c.files.MarkCompleted(persistCtx, claimed.ID, key, c.now().UTC())
		if err != nil {
			_ = c.store.Delete(persistCtx, key)
			err = fmt.Errorf("ошибка сохранения статуса: %w", err)
		}
	}

	if err != nil {
		c.fail(persistCtx, claimed, err)
		res.Status = ResultError
		res.Error = err.Error()
		return res
	}

	compressTotal.WithLabelValues(string(ResultSuccess)).Inc()
	compressedBytesTotal.Add(float64(size))
	c.notify(claimed.OwnerID)

	c.logger.Info("Файл сжат",
		slog.String("file_id", claimed.ID),
		slog.String("compressed_ref", key),
		slog.Int64("original_size", claimed.SizeBytes),
		slog.Int64("compressed_size", size),
	)

	res.Status = ResultSuccess
	res.CompressedRef = key
	return res
}

// fail переводит запись в failed и удаляет частично записанный архив.
func (c *Compressor) fail(ctx context.Context, rec *model.FileRecord, cause error) {
	compressTotal.WithLabelValues(string(ResultError)).Inc()

	c.logger.Warn("Ошибка сжатия файла",
		slog.String("file_id", rec.ID),
		slog.String("error", cause.Error()),
	)

	_ = c.store.Delete(ctx, blob.CompressedKey(rec.ID, rec.OriginalName))

	if err := c.files.MarkFailed(ctx, rec.ID, cause.Error()); err != nil {
		// Запись остаётся в processing до ручного вмешательства
		c.logger.Error("Не удалось сохранить статус failed",
			slog.String("file_id", rec.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	c.notify(rec.OwnerID)
}

// compress пишет ZIP в хранилище через pipe, без временных файлов.
func (c *Compressor) compress(ctx context.Context, rec *model.FileRecord) (string, int64, error) {
	src, err := c.store.Open(ctx, rec.OriginalRef)
	if err != nil {
		return "", 0, fmt.Errorf("не удалось открыть оригинал: %w", err)
	}
	defer src.Close()

	key := blob.CompressedKey(rec.ID, rec.OriginalName)

	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		err := writeZip(pw, src, blob.EntryName(rec.OriginalName), c.now())
		pw.CloseWithError(err)
		done <- err
	}()

	put, putErr := c.store.Put(ctx, key, pr)
	// Разблокирует писателя, если Put завершился раньше
	pr.CloseWithError(errPipeAborted)
	zipErr := <-done

	if zipErr != nil && !errors.Is(zipErr, errPipeAborted) {
		return "", 0, fmt.Errorf("ошибка создания архива: %w", zipErr)
	}
	if putErr != nil {
		return "", 0, fmt.Errorf("ошибка записи архива: %w", putErr)
	}
	return put.Key, put.Size, nil
}

// writeZip записывает архив из одной записи name со сжатием Deflate.
func writeZip(w io.Writer, src io.Reader, name string, modified time.Time) error {
	zw := zip.NewWriter(w)
	entry, err := zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: modified,
	})
	if err != nil {
		return err
	}
	if _, err := io.Copy(entry, src); err != nil {
		return err
	}
	return zw.Close()
}

func (c *Compressor) notify(ownerID string) {
	if c.onChange != nil {
		c.onChange(ownerID)
	}
}
