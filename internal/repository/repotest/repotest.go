// Пакет repotest — реализации репозиториев в памяти для тестов
// сервисного слоя и HTTP handlers.
package repotest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/miguelitojb9/InstaShare/internal/domain/model"
	"github.com/miguelitojb9/InstaShare/internal/repository"
)

var (
	_ repository.FileRepository = (*Files)(nil)
	_ repository.UserRepository = (*Users)(nil)
)

// Files — repository.FileRepository в памяти с семантикой SQL-реализации.
type Files struct {
	mu      sync.Mutex
	records map[string]*model.FileRecord
	seq     time.Time

	// listErr — ошибка ListPending (структурный сбой)
	listErr error
}

// NewFiles создаёт пустой репозиторий файлов.
func NewFiles() *Files {
	return &Files{
		records: map[string]*model.FileRecord{},
		seq:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func clone(f *model.FileRecord) *model.FileRecord {
	c := *f
	return &c
}

func (m *Files) Create(_ context.Context, f *model.FileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[f.ID]; ok {
		return repository.ErrConflict
	}
	f.EnsureDisplayName()
	if f.Status == "" {
		f.Status = model.StatusPending
	}
	m.seq = m.seq.Add(time.Second)
	f.UploadedAt = m.seq
	m.records[f.ID] = clone(f)
	return nil
}

func (m *Files) GetByID(_ context.Context, id string) (*model.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.records[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return clone(f), nil
}

func (m *Files) GetForOwner(_ context.Context, id, ownerID string) (*model.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.records[id]
	if !ok || f.OwnerID != ownerID {
		return nil, repository.ErrNotFound
	}
	return clone(f), nil
}

func (m *Files) ListByOwner(_ context.Context, ownerID string) ([]*model.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*model.FileRecord{}
	for _, f := range m.records {
		if f.OwnerID == ownerID {
			out = append(out, clone(f))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UploadedAt.After(out[j].UploadedAt) })
	return out, nil
}

func (m *Files) UpdateDisplayName(_ context.Context, id, ownerID, displayName string) (*model.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.records[id]
	if !ok || f.OwnerID != ownerID {
		return nil, repository.ErrNotFound
	}
	f.DisplayName = strings.TrimSpace(displayName)
	f.EnsureDisplayName()
	return clone(f), nil
}

func (m *Files) ListPending(context.Context) ([]*model.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := []*model.FileRecord{}
	for _, f := range m.records {
		if f.Status == model.StatusPending {
			out = append(out, clone(f))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UploadedAt.Before(out[j].UploadedAt) })
	return out, nil
}

func (m *Files) ClaimPending(_ context.Context, id string) (*model.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.records[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if f.Status != model.StatusPending {
		return nil, repository.ErrStatusMismatch
	}
	f.Status = model.StatusProcessing
	f.LastError = nil
	return clone(f), nil
}

func (m *Files) MarkCompleted(_ context.Context, id, compressedRef string, processedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.records[id]
	if !ok {
		return repository.ErrNotFound
	}
	if f.Status != model.StatusProcessing {
		return repository.ErrStatusMismatch
	}
	f.Status = model.StatusCompleted
	f.CompressedRef = &compressedRef
	f.ProcessedAt = &processedAt
	f.LastError = nil
	return nil
}

func (m *Files) MarkFailed(_ context.Context, id, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.records[id]
	if !ok {
		return repository.ErrNotFound
	}
	if f.Status != model.StatusProcessing {
		return repository.ErrStatusMismatch
	}
	f.Status = model.StatusFailed
	f.CompressedRef = nil
	f.LastError = &message
	return nil
}

func (m *Files) ResetFailed(_ context.Context, id, ownerID string) (*model.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.records[id]
	if !ok || f.OwnerID != ownerID {
		return nil, repository.ErrNotFound
	}
	if f.Status != model.StatusFailed {
		return nil, repository.ErrStatusMismatch
	}
	f.Status = model.StatusPending
	f.LastError = nil
	f.ProcessedAt = nil
	return clone(f), nil
}

// Users — repository.UserRepository в памяти.
type Users struct {
	mu    sync.Mutex
	users map[string]*model.User
}

// NewUsers создаёт пустой репозиторий пользователей.
func NewUsers() *Users {
	return &Users{users: map[string]*model.User{}}
}

func (m *Users) Create(_ context.Context, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Username == u.Username {
			return repository.ErrConflict
		}
	}
	u.CreatedAt = time.Now()
	c := *u
	m.users[u.ID] = &c
	return nil
}

func (m *Users) GetByID(_ context.Context, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (m *Users) GetByUsername(_ context.Context, username string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			c := *u
			return &c, nil
		}
	}
	return nil, repository.ErrNotFound
}

// FailListPending заставляет ListPending возвращать err (nil — отключить).
func (m *Files) FailListPending(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listErr = err
}

// SetStatus принудительно меняет статус записи.
func (m *Files) SetStatus(id string, status model.FileStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.records[id]; ok {
		f.Status = status
	}
}

// DeleteUser удаляет пользователя.
func (m *Users) DeleteUser(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, id)
}
