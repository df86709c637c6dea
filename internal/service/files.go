// files.go — операции владельца над своими файлами:
// загрузка, список, переименование, обработка, ссылки, содержимое, статистика.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	apierrors "github.com/miguelitojb9/InstaShare/internal/api/errors"
	"github.com/miguelitojb9/InstaShare/internal/domain/model"
	"github.com/miguelitojb9/InstaShare/internal/repository"
	"github.com/miguelitojb9/InstaShare/internal/storage/blob"
)

// maxNameLength — ограничение длины original_name и display_name.
const maxNameLength = 255

// UploadParams — параметры загрузки файла.
type UploadParams struct {
	// Reader — поток содержимого
	Reader io.Reader
	// Filename — имя файла из multipart
	Filename string
	// DisplayName — отображаемое имя (опционально)
	DisplayName string
	// Size — размер из заголовка multipart (-1, если неизвестен)
	Size int64
}

// FileServiceConfig — параметры FileService.
type FileServiceConfig struct {
	MaxUploadSize int64
	PresignTTL    time.Duration
}

// FileService — бизнес-логика работы с файлами владельца.
type FileService struct {
	files      repository.FileRepository
	users      repository.UserRepository
	store      blob.Store
	compressor *Compressor
	cache      *StatsCache
	cfg        FileServiceConfig
	logger     *slog.Logger
}

// NewFileService создаёт сервис файлов. cache может быть nil.
func NewFileService(
	files repository.FileRepository,
	users repository.UserRepository,
	store blob.Store,
	compressor *Compressor,
	cache *StatsCache,
	cfg FileServiceConfig,
	logger *slog.Logger,
) *FileService {
	return &FileService{
		files:      files,
		users:      users,
		store:      store,
		compressor: compressor,
		cache:      cache,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "file_service")),
	}
}

// Owner возвращает пользователя-владельца (для представления записи).
func (s *FileService) Owner(ctx context.Context, ownerID string) (*model.User, error) {
	u, err := s.users.GetByID(ctx, ownerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError(http.StatusUnauthorized, apierrors.CodeUnauthorized, "Пользователь не найден")
		}
		return nil, err
	}
	return u, nil
}

// Upload сохраняет оригинал в хранилище и создаёт запись pending.
//
// Поток:
//  1. Валидация имени и размера
//  2. Put оригинала под ключом uploads/original/{id}/{name}
//  3. Создание записи; при ошибке оригинал удаляется
func (s *FileService) Upload(ctx context.Context, ownerID string, params UploadParams) (*model.FileRecord, error) {
	name := blob.BaseName(params.Filename)
	if name == "" {
		return nil, errValidation("Не указано имя файла")
	}
	if len([]rune(name)) > maxNameLength {
		return nil, errValidation(fmt.Sprintf("Имя файла длиннее %d символов", maxNameLength))
	}
	displayName := strings.TrimSpace(params.DisplayName)
	if len([]rune(displayName)) > maxNameLength {
		return nil, errValidation(fmt.Sprintf("display_name длиннее %d символов", maxNameLength))
	}
	if params.Size > s.cfg.MaxUploadSize {
		return nil, s.errTooLarge(params.Size)
	}

	id := uuid.New().String()
	key := blob.OriginalKey(id, name)

	// Ограничиваем поток, если размер из заголовка неизвестен или занижен
	reader := io.LimitReader(params.Reader, s.cfg.MaxUploadSize+1)
	put, err := s.store.Put(ctx, key, reader)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, s.errTooLarge(maxErr.Limit + 1)
		}
		s.logger.Error("Ошибка сохранения оригинала",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return nil, newError(http.StatusServiceUnavailable, apierrors.CodeStorageUnavailable, "Хранилище недоступно")
	}
	if put.Size > s.cfg.MaxUploadSize {
		_ = s.store.Delete(context.WithoutCancel(ctx), key)
		return nil, s.errTooLarge(put.Size)
	}

	rec := &model.FileRecord{
		ID:           id,
		OwnerID:      ownerID,
		OriginalRef:  key,
		OriginalName: name,
		DisplayName:  displayName,
		SizeBytes:    put.Size,
		Checksum:     put.Checksum,
		Status:       model.StatusPending,
	}
	if err := s.files.Create(ctx, rec); err != nil {
		_ = s.store.Delete(context.WithoutCancel(ctx), key)
		return nil, err
	}

	s.invalidate(ownerID)
	s.logger.Info("Файл загружен",
		slog.String("file_id", rec.ID),
		slog.String("owner_id", ownerID),
		slog.String("original_name", rec.OriginalName),
		slog.Int64("size", rec.SizeBytes),
	)
	return rec, nil
}

func (s *FileService) errTooLarge(size int64) *Error {
	return newError(http.StatusRequestEntityTooLarge, apierrors.CodeFileTooLarge,
		fmt.Sprintf("Размер файла %d байт превышает максимум %d байт", size, s.cfg.MaxUploadSize))
}

// List возвращает файлы владельца, новые первыми.
func (s *FileService) List(ctx context.Context, ownerID string) ([]*model.FileRecord, error) {
	return s.files.ListByOwner(ctx, ownerID)
}

// Get возвращает файл владельца.
func (s *FileService) Get(ctx context.Context, id, ownerID string) (*model.FileRecord, error) {
	rec, err := s.files.GetForOwner(ctx, id, ownerID)
	if err != nil {
		return nil, fileLookupError(err)
	}
	return rec, nil
}

// Rename меняет display_name. Пустое значение — возврат к original_name.
func (s *FileService) Rename(ctx context.Context, id, ownerID, displayName string) (*model.FileRecord, error) {
	if len([]rune(strings.TrimSpace(displayName))) > maxNameLength {
		return nil, errValidation(fmt.Sprintf("display_name длиннее %d символов", maxNameLength))
	}
	rec, err := s.files.UpdateDisplayName(ctx, id, ownerID, displayName)
	if err != nil {
		return nil, fileLookupError(err)
	}
	s.invalidate(ownerID)
	return rec, nil
}

// ProcessOne сжимает один файл владельца синхронно.
// Файл не в статусе pending — 409 INVALID_STATUS.
func (s *FileService) ProcessOne(ctx context.Context, id, ownerID string) (*model.FileRecord, ProcessResult, error) {
	rec, err := s.Get(ctx, id, ownerID)
	if err != nil {
		return nil, ProcessResult{}, err
	}
	if rec.Status != model.StatusPending {
		return nil, ProcessResult{}, errInvalidStatus(rec)
	}

	res := s.compressor.Process(ctx, rec)
	if res.Status == ResultSkipped {
		return nil, res, errInvalidStatus(rec)
	}

	updated, err := s.files.GetForOwner(context.WithoutCancel(ctx), id, ownerID)
	if err != nil {
		return nil, res, fileLookupError(err)
	}
	return updated, res, nil
}

// Retry возвращает failed файл в pending.
func (s *FileService) Retry(ctx context.Context, id, ownerID string) (*model.FileRecord, error) {
	rec, err := s.files.ResetFailed(ctx, id, ownerID)
	if err != nil {
		if errors.Is(err, repository.ErrStatusMismatch) {
			return nil, newError(http.StatusConflict, apierrors.CodeInvalidStatus,
				"Повторная обработка доступна только для файлов в статусе failed")
		}
		return nil, fileLookupError(err)
	}
	s.invalidate(ownerID)
	return rec, nil
}

func errInvalidStatus(rec *model.FileRecord) *Error {
	return newError(http.StatusConflict, apierrors.CodeInvalidStatus,
		fmt.Sprintf("Файл %s в статусе %s, обработка доступна только для pending", rec.DisplayName, rec.Status))
}

// Link — ссылка на скачивание. Presigned — прямая ссылка хранилища;
// иначе URL — путь HTTP API относительно адреса сервера.
type Link struct {
	URL       string
	Presigned bool
}

// OriginalLink возвращает ссылку на оригинал.
func (s *FileService) OriginalLink(ctx context.Context, id, ownerID string) (Link, error) {
	rec, err := s.Get(ctx, id, ownerID)
	if err != nil {
		return Link{}, err
	}
	return s.link(ctx, rec.OriginalRef, OriginalContentPath(rec.ID))
}

// CompressedLink возвращает ссылку на архив или ErrNoCompressedFile.
func (s *FileService) CompressedLink(ctx context.Context, id, ownerID string) (Link, error) {
	rec, err := s.Get(ctx, id, ownerID)
	if err != nil {
		return Link{}, err
	}
	if rec.CompressedRef == nil {
		return Link{}, ErrNoCompressedFile
	}
	return s.link(ctx, *rec.CompressedRef, CompressedContentPath(rec.ID))
}

// ContentLinks — ссылки для представления записи (без presign).
func ContentLinks(rec *model.FileRecord) (original string, compressed *string) {
	original = OriginalContentPath(rec.ID)
	if rec.CompressedRef != nil {
		p := CompressedContentPath(rec.ID)
		compressed = &p
	}
	return original, compressed
}

// OriginalContentPath — путь API, отдающий оригинал.
func OriginalContentPath(id string) string {
	return "/api/files/" + id + "/original"
}

// CompressedContentPath — путь API, отдающий архив.
func CompressedContentPath(id string) string {
	return "/download/" + id
}

func (s *FileService) link(ctx context.Context, key, fallback string) (Link, error) {
	url, err := s.store.PresignURL(ctx, key, s.cfg.PresignTTL)
	if err == nil {
		return Link{URL: url, Presigned: true}, nil
	}
	if !errors.Is(err, blob.ErrPresignUnsupported) {
		s.logger.Warn("Не удалось получить прямую ссылку, используется API",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
	return Link{URL: fallback}, nil
}

// Content — открытое содержимое файла для отдачи клиенту.
type Content struct {
	Record   *model.FileRecord
	Body     io.ReadCloser
	Filename string
}

// OpenOriginal открывает оригинал владельца.
func (s *FileService) OpenOriginal(ctx context.Context, id, ownerID string) (*Content, error) {
	rec, err := s.Get(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	body, err := s.open(ctx, rec.OriginalRef)
	if err != nil {
		return nil, err
	}
	return &Content{Record: rec, Body: body, Filename: rec.OriginalName}, nil
}

// OpenCompressed открывает архив владельца. Файл не completed — 400.
// Имя для скачивания — {display_name}.zip.
func (s *FileService) OpenCompressed(ctx context.Context, id, ownerID string) (*Content, error) {
	rec, err := s.Get(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	if !rec.IsReady() {
		return nil, newError(http.StatusBadRequest, apierrors.CodeNotReady, "File is not ready for download")
	}
	body, err := s.open(ctx, *rec.CompressedRef)
	if err != nil {
		return nil, err
	}
	return &Content{Record: rec, Body: body, Filename: rec.DisplayName + ".zip"}, nil
}

func (s *FileService) open(ctx context.Context, key string) (io.ReadCloser, error) {
	body, err := s.store.Open(ctx, key)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return nil, errNotFound("Содержимое файла отсутствует в хранилище")
		}
		s.logger.Error("Ошибка чтения из хранилища",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return nil, newError(http.StatusServiceUnavailable, apierrors.CodeStorageUnavailable, "Хранилище недоступно")
	}
	return body, nil
}

// Stats возвращает статистику владельца (через кэш).
func (s *FileService) Stats(ctx context.Context, ownerID string) (*model.FileStats, error) {
	if s.cache != nil {
		if stats, ok := s.cache.Get(ownerID); ok {
			return stats, nil
		}
	}

	files, err := s.files.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	stats := model.BuildFileStats(files)

	if s.cache != nil {
		s.cache.Set(ownerID, stats)
	}
	return stats, nil
}

// InvalidateStats сбрасывает кэш статистики владельца.
// Подключается к Compressor.OnStatusChange.
func (s *FileService) InvalidateStats(ownerID string) {
	s.invalidate(ownerID)
}

// PurgeStats сбрасывает кэш статистики всех владельцев.
// Вызывается после пакетного запуска, который мог идти в другом процессе.
func (s *FileService) PurgeStats() {
	if s.cache != nil {
		s.cache.Purge()
	}
}

func (s *FileService) invalidate(ownerID string) {
	if s.cache != nil {
		s.cache.Invalidate(ownerID)
	}
}
