// Пакет blob — абстракция хранилища содержимого файлов и схема ключей.
// Реализации: filestore (локальный диск) и s3store (S3-совместимое хранилище).
package blob

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"
	"unicode"
)

// Префиксы ключей: оригиналы и архивы хранятся раздельно.
const (
	OriginalPrefix   = "uploads/original"
	CompressedPrefix = "uploads/compressed"
)

var (
	// ErrNotFound — объект отсутствует в хранилище.
	ErrNotFound = errors.New("объект не найден в хранилище")
	// ErrPresignUnsupported — бэкенд не выдаёт прямые ссылки.
	ErrPresignUnsupported = errors.New("прямые ссылки не поддерживаются хранилищем")
	// ErrInvalidKey — ключ выходит за пределы хранилища.
	ErrInvalidKey = errors.New("недопустимый ключ объекта")
)

// PutResult — результат записи объекта.
type PutResult struct {
	Key  string
	Size int64
	// Checksum — SHA-256 содержимого (hex)
	Checksum string
}

// Store — хранилище содержимого файлов.
type Store interface {
	// Put записывает поток под ключом key. Промежуточные «директории» создаются сами.
	Put(ctx context.Context, key string, r io.Reader) (*PutResult, error)
	// Open открывает объект на чтение. Вызывающий код обязан закрыть ReadCloser.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete удаляет объект; отсутствие объекта ошибкой не считается.
	Delete(ctx context.Context, key string) error
	// Exists проверяет наличие объекта.
	Exists(ctx context.Context, key string) (bool, error)
	// PresignURL возвращает временную прямую ссылку или ErrPresignUnsupported.
	PresignURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	// Check проверяет доступность хранилища (readiness).
	Check(ctx context.Context) error
	// Kind — имя бэкенда для логов и метрик.
	Kind() string
}

// OriginalKey — ключ оригинала: uploads/original/{id}/{name}.
func OriginalKey(recordID, originalName string) string {
	return path.Join(OriginalPrefix, recordID, SafeName(originalName))
}

// CompressedKey — ключ архива: uploads/compressed/{id}/compressed_{name}.zip.
func CompressedKey(recordID, originalName string) string {
	return path.Join(CompressedPrefix, recordID, "compressed_"+SafeName(originalName)+".zip")
}

// EntryName — имя единственной записи в ZIP: базовое имя оригинала.
func EntryName(originalName string) string {
	name := BaseName(originalName)
	if name == "" {
		return "file"
	}
	return name
}

// BaseName отбрасывает каталоги из имени, присланного клиентом
// (в том числе в стиле Windows).
func BaseName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(strings.TrimSpace(name))
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	return name
}

// SafeName превращает имя файла в один безопасный сегмент ключа.
// Оставляет буквы (любого алфавита), цифры, точку, дефис и подчёркивание;
// прочие символы заменяются на «_».
func SafeName(name string) string {
	name = BaseName(name)
	var b strings.Builder
	for _, r := range name {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	s := strings.Trim(b.String(), ".")
	if s == "" {
		return "file"
	}
	// Ограничиваем длину имени для предотвращения проблем с FS
	if r := []rune(s); len(r) > 120 {
		s = string(r[:120])
	}
	return s
}

// ValidKey проверяет, что ключ относительный и не содержит «..».
func ValidKey(key string) bool {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return false
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return false
		}
	}
	return true
}
