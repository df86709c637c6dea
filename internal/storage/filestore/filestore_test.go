package filestore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/miguelitojb9/InstaShare/internal/storage/blob"
)

func newStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "media"))
	if err != nil {
		t.Fatalf("ошибка создания FileStore: %v", err)
	}
	return s
}

// TestNew_CreatesDirectory проверяет создание корневой директории.
func TestNew_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "media")

	s, err := New(dir)
	if err != nil {
		t.Fatalf("ошибка создания FileStore: %v", err)
	}

	info, err := os.Stat(s.Root())
	if err != nil {
		t.Fatalf("директория не создана: %v", err)
	}
	if !info.IsDir() {
		t.Fatal("путь не является директорией")
	}
	if s.Kind() != "local" {
		t.Errorf("Kind() = %q, хотели local", s.Kind())
	}
}

// TestPut проверяет запись с подсчётом SHA-256 и вложенными директориями.
func TestPut(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	content := []byte("Hello, World! Тестовые данные для проверки.")
	key := "uploads/original/abc/test.txt"

	res, err := s.Put(ctx, key, bytes.NewReader(content))
	if err != nil {
		t.Fatalf("ошибка сохранения: %v", err)
	}

	if res.Size != int64(len(content)) {
		t.Errorf("размер: ожидалось %d, получено %d", len(content), res.Size)
	}
	sum := sha256.Sum256(content)
	if res.Checksum != hex.EncodeToString(sum[:]) {
		t.Errorf("checksum: получено %s", res.Checksum)
	}
	if res.Key != key {
		t.Errorf("key: получено %s", res.Key)
	}

	data, err := os.ReadFile(filepath.Join(s.Root(), "uploads", "original", "abc", "test.txt"))
	if err != nil {
		t.Fatalf("файл не найден на диске: %v", err)
	}
	if !bytes.Equal(data, content) {
		t.Error("содержимое файла не совпадает")
	}

	// temp файлов остаться не должно
	entries, _ := os.ReadDir(filepath.Join(s.Root(), "uploads", "original", "abc"))
	if len(entries) != 1 {
		t.Errorf("ожидался 1 файл в директории, найдено %d", len(entries))
	}
}

// TestPut_Overwrite проверяет перезапись объекта под тем же ключом.
func TestPut_Overwrite(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	key := "uploads/compressed/abc/compressed_a.txt.zip"

	if _, err := s.Put(ctx, key, strings.NewReader("first")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Put(ctx, key, strings.NewReader("second")); err != nil {
		t.Fatal(err)
	}

	rc, err := s.Open(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "second" {
		t.Errorf("содержимое = %q, хотели second", data)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("обрыв соединения")
}

// TestPut_ReaderError проверяет, что при ошибке чтения temp файл удаляется.
func TestPut_ReaderError(t *testing.T) {
	s := newStore(t)
	key := "uploads/original/abc/broken.bin"

	if _, err := s.Put(context.Background(), key, failingReader{}); err == nil {
		t.Fatal("ожидалась ошибка")
	}

	entries, _ := os.ReadDir(filepath.Join(s.Root(), "uploads", "original", "abc"))
	if len(entries) != 0 {
		t.Errorf("после ошибки директория должна быть пустой, найдено %d", len(entries))
	}
	if ok, _ := s.Exists(context.Background(), key); ok {
		t.Error("объект не должен существовать")
	}
}

// TestPut_CanceledContext проверяет прерывание записи.
func TestPut_CanceledContext(t *testing.T) {
	s := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Put(ctx, "uploads/original/abc/a.txt", strings.NewReader("data"))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("ожидался context.Canceled, получено %v", err)
	}
}

// TestInvalidKeys проверяет защиту от выхода за пределы корня.
func TestInvalidKeys(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	for _, key := range []string{"../escape.txt", "/etc/passwd", "a/../../b", ""} {
		if _, err := s.Put(ctx, key, strings.NewReader("x")); !errors.Is(err, blob.ErrInvalidKey) {
			t.Errorf("Put(%q): ожидался ErrInvalidKey, получено %v", key, err)
		}
		if _, err := s.Open(ctx, key); !errors.Is(err, blob.ErrInvalidKey) {
			t.Errorf("Open(%q): ожидался ErrInvalidKey, получено %v", key, err)
		}
	}
}

// TestOpenDeleteExists проверяет чтение, удаление и проверку существования.
func TestOpenDeleteExists(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	key := "uploads/original/abc/a.txt"

	if _, err := s.Open(ctx, key); !errors.Is(err, blob.ErrNotFound) {
		t.Errorf("ожидался ErrNotFound, получено %v", err)
	}
	if ok, err := s.Exists(ctx, key); err != nil || ok {
		t.Errorf("Exists() = %v, %v; хотели false, nil", ok, err)
	}

	if _, err := s.Put(ctx, key, strings.NewReader("data")); err != nil {
		t.Fatal(err)
	}
	if ok, err := s.Exists(ctx, key); err != nil || !ok {
		t.Errorf("Exists() = %v, %v; хотели true, nil", ok, err)
	}

	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("ошибка удаления: %v", err)
	}
	// Повторное удаление не ошибка
	if err := s.Delete(ctx, key); err != nil {
		t.Errorf("повторное удаление: %v", err)
	}
	if ok, _ := s.Exists(ctx, key); ok {
		t.Error("объект должен быть удалён")
	}
}

func TestPresignAndCheck(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	if _, err := s.PresignURL(ctx, "uploads/original/a/b", 0); !errors.Is(err, blob.ErrPresignUnsupported) {
		t.Errorf("ожидался ErrPresignUnsupported, получено %v", err)
	}
	if err := s.Check(ctx); err != nil {
		t.Errorf("Check() = %v", err)
	}
}
