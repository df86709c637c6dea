package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/miguelitojb9/InstaShare/internal/domain/model"
)

// FileRepository — доступ к таблице uploaded_files.
// Все пользовательские операции фильтруются по owner_id.
type FileRepository interface {
	// Create сохраняет новую запись (статус pending).
	Create(ctx context.Context, f *model.FileRecord) error
	// GetByID возвращает запись без проверки владельца (для обработчика сжатия).
	GetByID(ctx context.Context, id string) (*model.FileRecord, error)
	// GetForOwner возвращает запись владельца; чужая запись — ErrNotFound.
	GetForOwner(ctx context.Context, id, ownerID string) (*model.FileRecord, error)
	// ListByOwner возвращает записи владельца, новые первыми.
	ListByOwner(ctx context.Context, ownerID string) ([]*model.FileRecord, error)
	// UpdateDisplayName меняет только display_name.
	UpdateDisplayName(ctx context.Context, id, ownerID, displayName string) (*model.FileRecord, error)
	// ListPending возвращает снимок всех записей в статусе pending.
	ListPending(ctx context.Context) ([]*model.FileRecord, error)
	// ClaimPending атомарно переводит pending → processing.
	ClaimPending(ctx context.Context, id string) (*model.FileRecord, error)
	// MarkCompleted переводит processing → completed.
	MarkCompleted(ctx context.Context, id, compressedRef string, processedAt time.Time) error
	// MarkFailed переводит processing → failed и сохраняет сообщение ошибки.
	MarkFailed(ctx context.Context, id, message string) error
	// ResetFailed переводит failed → pending (повторная обработка).
	ResetFailed(ctx context.Context, id, ownerID string) (*model.FileRecord, error)
}

// fileColumns — порядок колонок для scanFile.
const fileColumns = `id, owner_id, original_ref, compressed_ref, original_name, display_name,
	size_bytes, checksum, status, last_error, uploaded_at, processed_at`

// fileRepo — реализация FileRepository.
type fileRepo struct {
	db DBTX
}

// NewFileRepository создаёт репозиторий загруженных файлов.
func NewFileRepository(db DBTX) FileRepository {
	return &fileRepo{db: db}
}

// scanFile сканирует строку в FileRecord.
func scanFile(row pgx.Row) (*model.FileRecord, error) {
	f := &model.FileRecord{}
	var status string
	err := row.Scan(
		&f.ID, &f.OwnerID, &f.OriginalRef, &f.CompressedRef, &f.OriginalName, &f.DisplayName,
		&f.SizeBytes, &f.Checksum, &status, &f.LastError, &f.UploadedAt, &f.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}
	f.Status = model.FileStatus(status)
	return f, nil
}

// validID — id должен быть UUID; иначе запись заведомо не существует.
func validID(ids ...string) bool {
	for _, id := range ids {
		if _, err := uuid.Parse(id); err != nil {
			return false
		}
	}
	return true
}

func (r *fileRepo) Create(ctx context.Context, f *model.FileRecord) error {
	f.EnsureDisplayName()
	if f.Status == "" {
		f.Status = model.StatusPending
	}

	query := `
		INSERT INTO uploaded_files (id, owner_id, original_ref, original_name, display_name,
			size_bytes, checksum, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING uploaded_at`

	err := r.db.QueryRow(ctx, query,
		f.ID, f.OwnerID, f.OriginalRef, f.OriginalName, f.DisplayName,
		f.SizeBytes, f.Checksum, string(f.Status),
	).Scan(&f.UploadedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: файл с таким ID уже существует", ErrConflict)
		}
		return fmt.Errorf("ошибка создания записи файла: %w", err)
	}
	return nil
}

func (r *fileRepo) GetByID(ctx context.Context, id string) (*model.FileRecord, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	f, err := scanFile(r.db.QueryRow(ctx,
		`SELECT `+fileColumns+` FROM uploaded_files WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения файла: %w", err)
	}
	return f, nil
}

func (r *fileRepo) GetForOwner(ctx context.Context, id, ownerID string) (*model.FileRecord, error) {
	if !validID(id, ownerID) {
		return nil, ErrNotFound
	}
	f, err := scanFile(r.db.QueryRow(ctx,
		`SELECT `+fileColumns+` FROM uploaded_files WHERE id = $1 AND owner_id = $2`, id, ownerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения файла: %w", err)
	}
	return f, nil
}

func (r *fileRepo) ListByOwner(ctx context.Context, ownerID string) ([]*model.FileRecord, error) {
	if !validID(ownerID) {
		return []*model.FileRecord{}, nil
	}
	return r.list(ctx, `
		SELECT `+fileColumns+`
		FROM uploaded_files
		WHERE owner_id = $1
		ORDER BY uploaded_at DESC, id`, ownerID)
}

func (r *fileRepo) ListPending(ctx context.Context) ([]*model.FileRecord, error) {
	return r.list(ctx, `
		SELECT `+fileColumns+`
		FROM uploaded_files
		WHERE status = 'pending'
		ORDER BY uploaded_at, id`)
}

// list выполняет SELECT и сканирует все строки.
func (r *fileRepo) list(ctx context.Context, query string, args ...any) ([]*model.FileRecord, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка файлов: %w", err)
	}
	defer rows.Close()

	result := []*model.FileRecord{}
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования файла: %w", err)
		}
		result = append(result, f)
	}
	return result, rows.Err()
}

func (r *fileRepo) UpdateDisplayName(ctx context.Context, id, ownerID, displayName string) (*model.FileRecord, error) {
	if !validID(id, ownerID) {
		return nil, ErrNotFound
	}
	// Пустое имя заменяется оригинальным на стороне БД
	f, err := scanFile(r.db.QueryRow(ctx, `
		UPDATE uploaded_files
		SET display_name = COALESCE(NULLIF(btrim($3), ''), original_name)
		WHERE id = $1 AND owner_id = $2
		RETURNING `+fileColumns, id, ownerID, displayName))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка переименования файла: %w", err)
	}
	return f, nil
}

func (r *fileRepo) ClaimPending(ctx context.Context, id string) (*model.FileRecord, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	f, err := scanFile(r.db.QueryRow(ctx, `
		UPDATE uploaded_files
		SET status = 'processing', last_error = NULL
		WHERE id = $1 AND status = 'pending'
		RETURNING `+fileColumns, id))
	if err == nil {
		return f, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("ошибка захвата файла: %w", err)
	}
	return nil, r.statusMismatchOrNotFound(ctx, id)
}

func (r *fileRepo) MarkCompleted(ctx context.Context, id, compressedRef string, processedAt time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE uploaded_files
		SET status = 'completed', compressed_ref = $2, processed_at = $3, last_error = NULL
		WHERE id = $1 AND status = 'processing'`, id, compressedRef, processedAt)
	if err != nil {
		return fmt.Errorf("ошибка завершения обработки файла: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.statusMismatchOrNotFound(ctx, id)
	}
	return nil
}

func (r *fileRepo) MarkFailed(ctx context.Context, id, message string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE uploaded_files
		SET status = 'failed', compressed_ref = NULL, last_error = $2
		WHERE id = $1 AND status = 'processing'`, id, message)
	if err != nil {
		return fmt.Errorf("ошибка сохранения статуса failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.statusMismatchOrNotFound(ctx, id)
	}
	return nil
}

func (r *fileRepo) ResetFailed(ctx context.Context, id, ownerID string) (*model.FileRecord, error) {
	if !validID(id, ownerID) {
		return nil, ErrNotFound
	}
	f, err := scanFile(r.db.QueryRow(ctx, `
		UPDATE uploaded_files
		SET status = 'pending', last_error = NULL, processed_at = NULL
		WHERE id = $1 AND owner_id = $2 AND status = 'failed'
		RETURNING `+fileColumns, id, ownerID))
	if err == nil {
		return f, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("ошибка сброса статуса файла: %w", err)
	}
	if _, err := r.GetForOwner(ctx, id, ownerID); err != nil {
		return nil, err
	}
	return nil, ErrStatusMismatch
}

// statusMismatchOrNotFound различает «записи нет» и «статус не подходит».
func (r *fileRepo) statusMismatchOrNotFound(ctx context.Context, id string) error {
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return ErrStatusMismatch
}
