// Пакет filestore — хранение содержимого файлов на локальном диске.
// Streaming-запись с подсчётом SHA-256 на лету, чтение и удаление
// объектов по ключам вида uploads/original/{id}/{name}.
package filestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/miguelitojb9/InstaShare/internal/storage/blob"
)

// FileStore — blob.Store поверх директории на диске.
type FileStore struct {
	// root — корневая директория хранения (IS_MEDIA_ROOT)
	root string
}

var _ blob.Store = (*FileStore)(nil)

// New создаёт FileStore. Директория создаётся, если не существует.
func New(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию хранилища %s: %w", root, err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("не удалось получить абсолютный путь %s: %w", root, err)
	}
	return &FileStore{root: abs}, nil
}

// Root возвращает корневую директорию хранилища.
func (s *FileStore) Root() string {
	return s.root
}

// Kind — имя бэкенда.
func (s *FileStore) Kind() string {
	return "local"
}

// path переводит ключ в путь на диске.
func (s *FileStore) path(key string) (string, error) {
	if !blob.ValidKey(key) {
		return "", fmt.Errorf("%w: %q", blob.ErrInvalidKey, key)
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

// Put записывает данные из r под ключом key.
//
// Паттерн: temp файл → запись + SHA-256 → fsync → atomic rename.
// При ошибке temp файл удаляется, существующий объект не затрагивается.
func (s *FileStore) Put(ctx context.Context, key string, r io.Reader) (*blob.PutResult, error) {
	fullPath, err := s.path(key)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("ошибка создания директории %s: %w", dir, err)
	}

	f, err := os.CreateTemp(dir, ".upload-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	tmpPath := f.Name()
	fail := func(err error) (*blob.PutResult, error) {
		f.Close()
		os.Remove(tmpPath)
		return nil, err
	}

	// Streaming запись с одновременным подсчётом SHA-256
	hasher := sha256.New()
	size, err := io.Copy(f, io.TeeReader(&ctxReader{ctx: ctx, r: r}, hasher))
	if err != nil {
		return fail(fmt.Errorf("ошибка записи данных: %w", err))
	}

	if err := f.Sync(); err != nil {
		return fail(fmt.Errorf("ошибка fsync: %w", err))
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return &blob.PutResult{
		Key:      key,
		Size:     size,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Open открывает объект для чтения.
func (s *FileStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	fullPath, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(fullPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", blob.ErrNotFound, key)
		}
		return nil, fmt.Errorf("ошибка открытия файла %s: %w", key, err)
	}
	return f, nil
}

// Delete удаляет объект. Отсутствующий объект ошибкой не считается.
func (s *FileStore) Delete(_ context.Context, key string) error {
	fullPath, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("ошибка удаления файла %s: %w", key, err)
	}
	return nil
}

// Exists проверяет существование объекта на диске.
func (s *FileStore) Exists(_ context.Context, key string) (bool, error) {
	fullPath, err := s.path(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(fullPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("ошибка получения информации о файле %s: %w", key, err)
	}
	return info.Mode().IsRegular(), nil
}

// PresignURL — локальное хранилище прямых ссылок не выдаёт,
// содержимое отдаётся через HTTP API.
func (s *FileStore) PresignURL(context.Context, string, time.Duration) (string, error) {
	return "", blob.ErrPresignUnsupported
}

// Check проверяет, что корневая директория доступна на запись.
func (s *FileStore) Check(_ context.Context) error {
	f, err := os.CreateTemp(s.root, ".health-*")
	if err != nil {
		return fmt.Errorf("директория хранилища недоступна на запись: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

// ctxReader прерывает копирование при отмене контекста.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
