package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/miguelitojb9/InstaShare/internal/domain/model"
	"github.com/miguelitojb9/InstaShare/internal/repository/repotest"
	"github.com/miguelitojb9/InstaShare/internal/storage/blob"
	"github.com/miguelitojb9/InstaShare/internal/storage/filestore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// record — текущее состояние записи для проверок.
func record(t *testing.T, files *repotest.Files, id string) *model.FileRecord {
	t.Helper()
	f, err := files.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("запись %s не найдена: %v", id, err)
	}
	return f
}

// failingPutStore — хранилище, в котором Put архивов всегда падает.
type failingPutStore struct {
	blob.Store
}

func (s failingPutStore) Put(ctx context.Context, key string, r io.Reader) (*blob.PutResult, error) {
	if strings.HasPrefix(key, blob.CompressedPrefix) {
		return nil, errors.New("диск заполнен")
	}
	return s.Store.Put(ctx, key, r)
}

func newTestStore(t *testing.T) *filestore.FileStore {
	t.Helper()
	s, err := filestore.New(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания хранилища: %v", err)
	}
	return s
}

// seedFile кладёт оригинал в хранилище и создаёт pending запись.
func seedFile(t *testing.T, files *repotest.Files, store blob.Store, ownerID, name, content string) *model.FileRecord {
	t.Helper()
	id := uuid.New().String()
	key := blob.OriginalKey(id, name)
	put, err := store.Put(context.Background(), key, strings.NewReader(content))
	if err != nil {
		t.Fatalf("ошибка записи оригинала: %v", err)
	}
	rec := &model.FileRecord{
		ID:           id,
		OwnerID:      ownerID,
		OriginalRef:  key,
		OriginalName: name,
		SizeBytes:    put.Size,
		Checksum:     put.Checksum,
	}
	if err := files.Create(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	return rec
}
